// Package tracker is the issue-tracker client: it creates Test Execution
// issues and builds the attachment targets consumed by the upload engine.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	httperrors "github.com/qaops/reportpipe/errors"
	"github.com/qaops/reportpipe/pkg/models"
)

const executionIssueType = "Test Execution"

// Client talks to the tracker REST API with basic credentials.
type Client struct {
	base       string
	user       string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a tracker client. A nil httpClient falls back to
// http.DefaultClient.
func NewClient(base, user, token string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		base:       strings.TrimRight(base, "/"),
		user:       user,
		token:      token,
		httpClient: httpClient,
		logger:     logger,
	}
}

type issuePayload struct {
	Fields issueFields `json:"fields"`
}

type issueFields struct {
	Project     issueProject `json:"project"`
	Summary     string       `json:"summary"`
	Description string       `json:"description"`
	IssueType   issueType    `json:"issuetype"`
}

type issueProject struct {
	Key string `json:"key"`
}

type issueType struct {
	Name string `json:"name"`
}

// CreateExecution creates a Test Execution issue and returns its key plus
// a browse URL. Creation is a one-shot call: a rejection fails fast.
func (c *Client) CreateExecution(ctx context.Context, project, summary, description string) (string, string, error) {
	payload, err := json.Marshal(issuePayload{
		Fields: issueFields{
			Project:     issueProject{Key: project},
			Summary:     summary,
			Description: description,
			IssueType:   issueType{Name: executionIssueType},
		},
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal issue payload: %w", err)
	}

	url := c.base + "/rest/api/3/issue"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", "", fmt.Errorf("failed to create issue request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.user, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to execute issue request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		if sentinel := httperrors.FromStatus(resp.StatusCode); sentinel != nil {
			return "", "", fmt.Errorf("issue creation rejected with status %s: %s: %w", resp.Status, string(body), sentinel)
		}
		return "", "", fmt.Errorf("issue creation failed with status %s: %s", resp.Status, string(body))
	}

	var created struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(body, &created); err != nil || created.Key == "" {
		return "", "", &httperrors.ProtocolError{Op: "parse issue key", Body: string(body)}
	}

	browseURL := c.base + "/browse/" + created.Key
	c.logger.Info("Created test execution issue",
		slog.String("key", created.Key),
		slog.String("project", project))
	return created.Key, browseURL, nil
}

// AttachmentTarget builds the upload target for attaching a report file to
// an issue. The actual POST (and its retry policy) belongs to the upload
// engine.
func (c *Client) AttachmentTarget(issueKey, filePath, contentType string) models.UploadTarget {
	return models.UploadTarget{
		Endpoint:    fmt.Sprintf("%s/rest/api/3/issue/%s/attachments", c.base, issueKey),
		FilePath:    filePath,
		ContentType: contentType,
		Auth:        models.AuthBasic,
		Username:    c.user,
		Secret:      c.token,
	}
}

// ValidateIssueKey checks a key against the project key pattern, e.g. "RT-64".
func ValidateIssueKey(key string) error {
	if !models.IssueKeyPattern.MatchString(key) {
		return fmt.Errorf("invalid issue key format: %q", key)
	}
	return nil
}
