// Package archive mirrors uploaded report artifacts into object storage so
// they outlive the external services' retention policies.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archiver stores artifacts in a MinIO/S3 bucket.
type Archiver struct {
	minioClient *minio.Client
	bucketName  string
	logger      *slog.Logger
}

// NewArchiver initializes the MinIO client and makes sure the bucket exists.
func NewArchiver(endpoint, accessKey, secretKey, bucketName string, useSSL bool, logger *slog.Logger) (*Archiver, error) {
	minioClient, err := minio.New(endpoint, &minio.Options{Creds: credentials.NewStaticV4(accessKey, secretKey, ""), Secure: useSSL})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}
	logger.Info("MinIO client initialized", slog.String("endpoint", endpoint))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = minioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
	if err != nil {
		exists, errBucketExists := minioClient.BucketExists(ctx, bucketName)
		if errBucketExists == nil && exists {
			logger.Info("MinIO bucket already exists", slog.String("bucket", bucketName))
		} else {
			return nil, fmt.Errorf("failed to make/verify MinIO bucket '%s': %w", bucketName, err)
		}
	} else {
		logger.Info("Successfully created MinIO bucket", slog.String("bucket", bucketName))
	}

	return &Archiver{minioClient: minioClient, bucketName: bucketName, logger: logger}, nil
}

// StoreFile uploads a local file under <project>/v<version>/<name> and
// returns the object URL.
func (a *Archiver) StoreFile(ctx context.Context, project string, version int, filePath, contentType string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open artifact %s: %w", filePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat artifact %s: %w", filePath, err)
	}

	objectName := path.Join(project, fmt.Sprintf("v%d", version), filepath.Base(filePath))
	uploadInfo, err := a.minioClient.PutObject(ctx, a.bucketName, objectName, f, info.Size(), minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to archive artifact '%s': %w", objectName, err)
	}
	a.logger.Info("Archived artifact",
		slog.String("bucket", uploadInfo.Bucket),
		slog.String("key", uploadInfo.Key),
		slog.Int64("size", uploadInfo.Size))

	artifactURL := url.URL{Scheme: "http", Host: a.minioClient.EndpointURL().Host, Path: path.Join(a.bucketName, objectName)}
	if a.minioClient.EndpointURL().Scheme == "https" {
		artifactURL.Scheme = "https"
	}
	return artifactURL.String(), nil
}
