// Package wiki is the publishing-service client: it creates the report
// page, exposes the attachment endpoint for the upload engine, and updates
// the page with download links once the attachments are up.
package wiki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	httperrors "github.com/qaops/reportpipe/errors"
	"github.com/qaops/reportpipe/pkg/models"
)

// Client talks to the wiki REST API with basic credentials.
type Client struct {
	base       string
	user       string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a wiki client. A nil httpClient falls back to
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

type pagePayload struct {
	ID      string       `json:"id,omitempty"`
	Type    string       `json:"type"`
	Title   string       `json:"title"`
	Space   *pageSpace   `json:"space,omitempty"`
	Version *pageVersion `json:"version,omitempty"`
	Body    pageBody     `json:"body"`
}

type pageSpace struct {
	Key string `json:"key"`
}

type pageVersion struct {
	Number int `json:"number"`
}

type pageBody struct {
	Storage pageStorage `json:"storage"`
}

type pageStorage struct {
	Value          string `json:"value"`
	Representation string `json:"representation"`
}

// CreatePage creates a page in the given space and returns its id.
func (c *Client) CreatePage(ctx context.Context, space, title, htmlBody string) (string, error) {
	payload := pagePayload{
		Type:  "page",
		Title: title,
		Space: &pageSpace{Key: space},
		Body:  pageBody{Storage: pageStorage{Value: htmlBody, Representation: "storage"}},
	}

	body, err := c.doJSON(ctx, http.MethodPost, c.base+"/rest/api/content", payload)
	if err != nil {
		return "", err
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil || created.ID == "" {
		return "", &httperrors.ProtocolError{Op: "parse page id", Body: string(body)}
	}
	c.logger.Info("Created wiki page", slog.String("page_id", created.ID), slog.String("title", title))
	return created.ID, nil
}

// PageVersion fetches the current version number of a page.
func (c *Client) PageVersion(ctx context.Context, pageID string) (int, error) {
	url := fmt.Sprintf("%s/rest/api/content/%s?expand=version", c.base, pageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create page version request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.user, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute page version request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		if sentinel := httperrors.FromStatus(resp.StatusCode); sentinel != nil {
			return 0, fmt.Errorf("page version request failed with status %s: %s: %w", resp.Status, string(body), sentinel)
		}
		return 0, fmt.Errorf("page version request failed with status %s: %s", resp.Status, string(body))
	}

	var page struct {
		Version pageVersion `json:"version"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return 0, &httperrors.ProtocolError{Op: "parse page version", Body: string(body)}
	}
	return page.Version.Number, nil
}

// UpdatePage replaces the page body, bumping to newVersion (the server
// requires current version + 1).
func (c *Client) UpdatePage(ctx context.Context, pageID, title, htmlBody string, newVersion int) error {
	payload := pagePayload{
		ID:      pageID,
		Type:    "page",
		Title:   title,
		Version: &pageVersion{Number: newVersion},
		Body:    pageBody{Storage: pageStorage{Value: htmlBody, Representation: "storage"}},
	}
	if _, err := c.doJSON(ctx, http.MethodPut, c.base+"/rest/api/content/"+pageID, payload); err != nil {
		return err
	}
	c.logger.Info("Updated wiki page", slog.String("page_id", pageID), slog.Int("version", newVersion))
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, url string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal page payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to create page request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Atlassian-Token", "no-check")
	req.SetBasicAuth(c.user, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute page request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		if sentinel := httperrors.FromStatus(resp.StatusCode); sentinel != nil {
			return nil, fmt.Errorf("page request failed with status %s: %s: %w", resp.Status, string(body), sentinel)
		}
		return nil, fmt.Errorf("page request failed with status %s: %s", resp.Status, string(body))
	}
	return body, nil
}

// AttachmentTarget builds the upload target for a page attachment.
// Duplicates are allowed so a retried upload is harmless.
func (c *Client) AttachmentTarget(pageID, filePath, contentType string) models.UploadTarget {
	return models.UploadTarget{
		Endpoint:    fmt.Sprintf("%s/rest/api/content/%s/child/attachment?allowDuplicated=true", c.base, pageID),
		FilePath:    filePath,
		ContentType: contentType,
		Auth:        models.AuthBasic,
		Username:    c.user,
		Secret:      c.token,
	}
}

// DownloadLink is the stable download URL for a page attachment.
func (c *Client) DownloadLink(pageID, fileName string) string {
	return fmt.Sprintf("%s/download/attachments/%s/%s", c.base, pageID, fileName)
}

// PageURL is the human-facing page address.
func (c *Client) PageURL(space, pageID string) string {
	return fmt.Sprintf("%s/spaces/%s/pages/%s", c.base, space, pageID)
}

// ReportBody renders the page body for a report version.
func ReportBody(version int, at time.Time, overall, summaryLine string) string {
	color := "green"
	if overall != models.OverallPass {
		color = "red"
	}
	return fmt.Sprintf(`
        <h2>Test Report v%d</h2>
        <p><b>Date:</b> %s</p>
        <p><b>Status:</b> <span style="color:%s;font-weight:bold">%s</span></p>
        <p><b>Summary:</b> %s</p>
        <p>Attachments are available below.</p>
    `, version, at.Format("2006-01-02 15:04:05"), color, overall, summaryLine)
}

// AppendAttachmentLinks extends a page body with download links.
func AppendAttachmentLinks(body string, links map[string]string) string {
	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n        <h3>Attachments</h3>\n")
	for name, link := range links {
		fmt.Fprintf(&b, "        <p><a href=%q>%s</a></p>\n", link, name)
	}
	return b.String()
}

// PageTitle renders the versioned, timestamped page title. Colons are not
// accepted in titles by some targets, so the timestamp uses dashes.
func PageTitle(baseTitle string, version int, overall string, at time.Time) string {
	safeTime := strings.ReplaceAll(at.Format("2006-01-02 15:04:05"), ":", "-")
	return fmt.Sprintf("%s v%d (%s) - %s", baseTitle, version, overall, safeTime)
}
