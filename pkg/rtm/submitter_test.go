package rtm

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httperrors "github.com/qaops/reportpipe/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeArchive(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "results.zip")
	require.NoError(t, os.WriteFile(path, []byte("PK\x03\x04fake"), 0o644))
	return path
}

func TestSubmitPlainBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/automation/import-test-results", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "QA", r.FormValue("projectKey"))
		assert.Equal(t, "JUNIT", r.FormValue("reportType"))
		assert.Equal(t, "https://ci.example.com/job/42", r.FormValue("jobUrl"))
		assert.Empty(t, r.FormValue("testExecutionKey"))

		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "results.zip", header.Filename)

		_, _ = w.Write([]byte("task-7731\n"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", server.Client(), testLogger())
	jobID, err := client.Submit(context.Background(), writeArchive(t), SubmitRequest{
		ProjectKey: "QA",
		ReportType: "JUNIT",
		JobURL:     "https://ci.example.com/job/42",
	})
	require.NoError(t, err)
	assert.Equal(t, "task-7731", jobID)
}

func TestSubmitJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "QA-101", r.FormValue("testExecutionKey"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"taskId":"task-9"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", server.Client(), testLogger())
	jobID, err := client.Submit(context.Background(), writeArchive(t), SubmitRequest{
		ProjectKey:       "QA",
		ReportType:       "JUNIT",
		JobURL:           "https://ci.example.com/job/42",
		TestExecutionKey: "QA-101",
	})
	require.NoError(t, err)
	assert.Equal(t, "task-9", jobID)
}

func TestSubmitFailsFastOnRejection(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("bad token"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "wrong", server.Client(), testLogger())
	_, err := client.Submit(context.Background(), writeArchive(t), SubmitRequest{ProjectKey: "QA"})
	require.Error(t, err)
	assert.ErrorIs(t, err, httperrors.ErrAuth)
	assert.Contains(t, err.Error(), "bad token")
	// No automatic retry of submissions.
	assert.Equal(t, 1, calls)
}

func TestSubmitMissingArchive(t *testing.T) {
	client := NewClient("http://localhost:1", "secret", nil, testLogger())
	_, err := client.Submit(context.Background(), filepath.Join(t.TempDir(), "absent.zip"), SubmitRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open archive")
}

func TestSubmitUnparseableResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"message":"queued"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", server.Client(), testLogger())
	_, err := client.Submit(context.Background(), writeArchive(t), SubmitRequest{ProjectKey: "QA"})
	require.Error(t, err)
	var protoErr *httperrors.ProtocolError
	assert.ErrorAs(t, err, &protoErr)
}

func TestParseTaskID(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		want       string
		wantSource TaskIDSource
		wantErr    bool
	}{
		{name: "plain id", body: "task-123", want: "task-123", wantSource: TaskIDPlain},
		{name: "plain id with whitespace", body: "  task-123\n", want: "task-123", wantSource: TaskIDPlain},
		{name: "taskId field", body: `{"taskId":"t-1"}`, want: "t-1", wantSource: TaskIDFromJSON},
		{name: "jobId field", body: `{"jobId":"j-2"}`, want: "j-2", wantSource: TaskIDFromJSON},
		{name: "id field", body: `{"id":"i-3"}`, want: "i-3", wantSource: TaskIDFromJSON},
		{name: "empty body", body: "", wantErr: true},
		{name: "object without id", body: `{"status":"queued"}`, wantErr: true},
		{name: "html error page", body: "<html>oops</html>", wantErr: false, want: "<html>oops</html>", wantSource: TaskIDPlain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTaskID([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				var protoErr *httperrors.ProtocolError
				assert.ErrorAs(t, err, &protoErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Value)
			assert.Equal(t, tt.wantSource, got.Source)
		})
	}
}
