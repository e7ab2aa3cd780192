// Package rtm is the client for the test-result aggregation service: it
// submits a results archive as an asynchronous import job and polls the
// job to a terminal state.
package rtm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"context"

	httperrors "github.com/qaops/reportpipe/errors"
)

const (
	importResultsPath = "/api/v2/automation/import-test-results"
	importStatusPath  = "/api/v2/automation/import-status/"
)

// Client talks to the RTM automation API with a bearer token.
type Client struct {
	base       string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds an RTM client. A nil httpClient falls back to
// http.DefaultClient.
func NewClient(base, token string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		base:       strings.TrimRight(base, "/"),
		token:      token,
		httpClient: httpClient,
		logger:     logger,
	}
}

// SubmitRequest carries the import job metadata sent with the archive.
type SubmitRequest struct {
	ProjectKey string
	ReportType string // e.g. "JUNIT"
	JobURL     string
	// TestExecutionKey links the import to a pre-created execution issue.
	// Empty lets the server create a new one.
	TestExecutionKey string
}

// Submit sends one multipart request with the archive and metadata and
// returns the opaque job identifier. Submission is deliberately not
// retried here: blindly re-posting a large archive risks duplicate import
// jobs, so the caller owns any retry of the whole submit+poll sequence.
func (c *Client) Submit(ctx context.Context, archivePath string, req SubmitRequest) (string, error) {
	body, contentType, err := buildSubmitBody(archivePath, req)
	if err != nil {
		return "", err
	}

	url := c.base + importResultsPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", fmt.Errorf("failed to create submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to execute submit request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if sentinel := httperrors.FromStatus(resp.StatusCode); sentinel != nil {
			return "", fmt.Errorf("import submission rejected with status %s: %s: %w", resp.Status, string(respBody), sentinel)
		}
		return "", fmt.Errorf("import submission failed with status %s: %s", resp.Status, string(respBody))
	}

	taskID, err := ParseTaskID(respBody)
	if err != nil {
		return "", fmt.Errorf("import submission succeeded but: %w", err)
	}
	if taskID.Source == TaskIDPlain {
		// The fallback is preserved but surfaced: a plain body where JSON
		// was possible may mask a protocol mismatch.
		c.logger.Warn("Import job id parsed from plain response body, not a JSON field",
			slog.String("job_id", taskID.Value))
	}
	c.logger.Info("Import job submitted",
		slog.String("job_id", taskID.Value),
		slog.String("project", req.ProjectKey))
	return taskID.Value, nil
}

func buildSubmitBody(archivePath string, req SubmitRequest) (*bytes.Buffer, string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer f.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(archivePath))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("failed to copy archive content: %w", err)
	}

	fields := map[string]string{
		"projectKey": req.ProjectKey,
		"reportType": req.ReportType,
		"jobUrl":     req.JobURL,
	}
	if req.TestExecutionKey != "" {
		fields["testExecutionKey"] = req.TestExecutionKey
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

// TaskIDSource tags how the job identifier was encoded in the response.
type TaskIDSource int

const (
	// TaskIDFromJSON means the id came from a JSON field.
	TaskIDFromJSON TaskIDSource = iota
	// TaskIDPlain means the whole body was the bare identifier.
	TaskIDPlain
)

// TaskID is the parsed job identifier plus how it was encoded.
type TaskID struct {
	Value  string
	Source TaskIDSource
}

// ParseTaskID extracts the job identifier from a submit response body.
// Structured decoding is tried first ({taskId}, {jobId} or {id}); a body
// that is not a JSON object is treated as the bare identifier. An empty
// result either way is a protocol error.
func ParseTaskID(body []byte) (TaskID, error) {
	var fields struct {
		TaskID string `json:"taskId"`
		JobID  string `json:"jobId"`
		ID     string `json:"id"`
	}
	if err := json.Unmarshal(body, &fields); err == nil {
		for _, candidate := range []string{fields.TaskID, fields.JobID, fields.ID} {
			if candidate != "" {
				return TaskID{Value: candidate, Source: TaskIDFromJSON}, nil
			}
		}
		return TaskID{}, &httperrors.ProtocolError{Op: "parse task id", Body: string(body)}
	}

	plain := strings.TrimSpace(string(body))
	// A bare identifier is a single token; anything with whitespace or
	// quotes is some other payload we failed to understand.
	if plain == "" || strings.ContainsAny(plain, " \t\r\n\"{}") {
		return TaskID{}, &httperrors.ProtocolError{Op: "parse task id", Body: string(body)}
	}
	return TaskID{Value: plain, Source: TaskIDPlain}, nil
}
