package wiki

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httperrors "github.com/qaops/reportpipe/errors"
	"github.com/qaops/reportpipe/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreatePage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/api/content", r.URL.Path)
		assert.Equal(t, "no-check", r.Header.Get("X-Atlassian-Token"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "page", payload["type"])
		assert.Equal(t, "QA", payload["space"].(map[string]any)["key"])
		storage := payload["body"].(map[string]any)["storage"].(map[string]any)
		assert.Equal(t, "storage", storage["representation"])

		_, _ = w.Write([]byte(`{"id":"98765"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "user", "token", server.Client(), testLogger())
	pageID, err := client.CreatePage(context.Background(), "QA", "Test Result Report v3 (PASS)", "<h2>body</h2>")
	require.NoError(t, err)
	assert.Equal(t, "98765", pageID)
}

func TestCreatePageRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("space restricted"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "user", "token", server.Client(), testLogger())
	_, err := client.CreatePage(context.Background(), "QA", "t", "b")
	require.Error(t, err)
	assert.ErrorIs(t, err, httperrors.ErrAuth)
	assert.Contains(t, err.Error(), "space restricted")
}

func TestPageVersionAndUpdate(t *testing.T) {
	var updatePayload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			assert.Equal(t, "/rest/api/content/98765", r.URL.Path)
			assert.Equal(t, "version", r.URL.Query().Get("expand"))
			_, _ = w.Write([]byte(`{"id":"98765","version":{"number":1}}`))
		case r.Method == http.MethodPut:
			assert.Equal(t, "/rest/api/content/98765", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&updatePayload))
			_, _ = w.Write([]byte(`{"id":"98765"}`))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "user", "token", server.Client(), testLogger())

	current, err := client.PageVersion(context.Background(), "98765")
	require.NoError(t, err)
	assert.Equal(t, 1, current)

	require.NoError(t, client.UpdatePage(context.Background(), "98765", "title", "<p>new</p>", current+1))
	assert.Equal(t, float64(2), updatePayload["version"].(map[string]any)["number"])
}

func TestAttachmentTargetAndLinks(t *testing.T) {
	client := NewClient("https://wiki.example.com/wiki/", "user", "token", nil, testLogger())

	target := client.AttachmentTarget("98765", "report/r.html", "text/html; charset=utf-8")
	assert.Equal(t, "https://wiki.example.com/wiki/rest/api/content/98765/child/attachment?allowDuplicated=true", target.Endpoint)
	assert.Equal(t, models.AuthBasic, target.Auth)

	assert.Equal(t, "https://wiki.example.com/wiki/download/attachments/98765/r.html",
		client.DownloadLink("98765", "r.html"))
	assert.Equal(t, "https://wiki.example.com/wiki/spaces/QA/pages/98765",
		client.PageURL("QA", "98765"))
}

func TestReportBodyAndTitle(t *testing.T) {
	at := time.Date(2026, 8, 27, 14, 30, 5, 0, time.UTC)

	body := ReportBody(4, at, models.OverallPass, "12 passed | 0 failed")
	assert.Contains(t, body, "Test Report v4")
	assert.Contains(t, body, "2026-08-27 14:30:05")
	assert.Contains(t, body, "green")

	failBody := ReportBody(4, at, models.OverallFail, "")
	assert.Contains(t, failBody, "red")

	title := PageTitle("Test Result Report", 4, models.OverallPass, at)
	assert.Equal(t, "Test Result Report v4 (PASS) - 2026-08-27 14-30-05", title)

	withLinks := AppendAttachmentLinks(body, map[string]string{"r.pdf": "https://x/dl/r.pdf"})
	assert.Contains(t, withLinks, `<a href="https://x/dl/r.pdf">r.pdf</a>`)
}
