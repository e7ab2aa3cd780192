// Package upload implements the retrying multipart upload engine used for
// every attachment the pipeline pushes to a remote service.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/qaops/reportpipe/pkg/backoff"
	"github.com/qaops/reportpipe/pkg/models"
)

const fileFieldName = "file"

// Engine uploads a single local file to a remote endpoint, retrying
// transient failures per its backoff policy. Idempotency is NOT guaranteed:
// a retry after a false-negative response can duplicate the upload, and the
// remote systems tolerate that (wiki attachments allow duplicates, tracker
// attachments are additive).
type Engine struct {
	client  *http.Client
	policy  backoff.Policy
	sleeper Sleeper
	logger  *slog.Logger
}

// NewEngine builds an upload engine. A nil client falls back to
// http.DefaultClient; a nil sleeper to the production timer sleeper.
func NewEngine(client *http.Client, policy backoff.Policy, sleeper Sleeper, logger *slog.Logger) *Engine {
	if client == nil {
		client = http.DefaultClient
	}
	if sleeper == nil {
		sleeper = TimerSleeper{}
	}
	return &Engine{client: client, policy: policy, sleeper: sleeper, logger: logger}
}

// Upload performs up to maxAttempts multipart POSTs of the target file.
// A missing local file fails fast and is not counted against the retry
// budget. The returned error is non-nil only for local I/O problems and
// context cancellation; remote failures are reported through the outcome.
func (e *Engine) Upload(ctx context.Context, target models.UploadTarget, maxAttempts int) (models.Outcome, error) {
	if _, err := os.Stat(target.FilePath); err != nil {
		return models.Outcome{}, fmt.Errorf("local file check failed for %s: %w", target.FilePath, err)
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	logger := e.logger.With(
		slog.String("endpoint", target.Endpoint),
		slog.String("file", filepath.Base(target.FilePath)),
	)

	var last models.Outcome
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome, err := e.attempt(ctx, target)
		if err != nil {
			return models.Outcome{}, err
		}
		outcome.Attempts = attempt
		last = outcome

		switch outcome.Class {
		case models.OutcomeSuccess:
			logger.Info("Upload succeeded",
				slog.Int("attempt", attempt),
				slog.Int("status", outcome.StatusCode))
			return outcome, nil
		case models.OutcomeFatal:
			logger.Error("Upload failed permanently",
				slog.Int("attempt", attempt),
				slog.Int("status", outcome.StatusCode),
				slog.String("body", outcome.Message))
			return outcome, nil
		}

		// Retryable: back off unless the budget is spent.
		if attempt == maxAttempts {
			break
		}
		delay := e.policy.Delay(attempt)
		logger.Warn("Upload attempt failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.Int("status", outcome.StatusCode),
			slog.Duration("backoff", delay))
		if err := e.sleeper.Sleep(ctx, delay); err != nil {
			return models.Outcome{}, fmt.Errorf("upload retry wait interrupted: %w", err)
		}
	}

	logger.Error("Upload failed after exhausting retries",
		slog.Int("attempts", last.Attempts),
		slog.Int("status", last.StatusCode))
	return last, nil
}

// attempt performs one multipart POST and classifies the response.
// Transport-level errors classify as retryable.
func (e *Engine) attempt(ctx context.Context, target models.UploadTarget) (models.Outcome, error) {
	body, contentType, err := buildMultipartBody(target)
	if err != nil {
		return models.Outcome{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.Endpoint, body)
	if err != nil {
		return models.Outcome{}, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	// Atlassian-style endpoints reject multipart posts unless the CSRF
	// check is disabled.
	req.Header.Set("X-Atlassian-Token", "no-check")
	req.Header.Set("Accept", "application/json")
	applyAuth(req, target)

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return models.Outcome{}, fmt.Errorf("upload cancelled: %w", ctx.Err())
		}
		return models.Outcome{
			Class:   models.OutcomeRetryable,
			Message: err.Error(),
		}, nil
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	outcome := models.Outcome{
		Class:      Classify(resp.StatusCode, target.SuccessCodes),
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(respBody)),
	}
	if outcome.Class == models.OutcomeSuccess {
		outcome.RemoteID = parseRemoteID(respBody)
	}
	return outcome, nil
}

func applyAuth(req *http.Request, target models.UploadTarget) {
	switch target.Auth {
	case models.AuthBasic:
		req.SetBasicAuth(target.Username, target.Secret)
	case models.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+target.Secret)
	}
}

// buildMultipartBody reads the target file into a multipart form with a
// single "file" field carrying the declared content type.
func buildMultipartBody(target models.UploadTarget) (*bytes.Buffer, string, error) {
	f, err := os.Open(target.FilePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", target.FilePath, err)
	}
	defer f.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`,
		fileFieldName, filepath.Base(target.FilePath)))
	if target.ContentType != "" {
		header.Set("Content-Type", target.ContentType)
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("failed to copy file content for %s: %w", target.FilePath, err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

// parseRemoteID extracts a server-assigned identifier from a success body.
// Attachment endpoints answer with either an object or an array of objects
// carrying an "id" field; absence is not an error.
func parseRemoteID(body []byte) string {
	var single struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &single); err == nil && single.ID != "" {
		return single.ID
	}
	var many []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &many); err == nil && len(many) > 0 {
		return many[0].ID
	}
	return ""
}
