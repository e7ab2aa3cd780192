package pipeline

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qaops/reportpipe/pkg/backoff"
	"github.com/qaops/reportpipe/pkg/config"
	"github.com/qaops/reportpipe/pkg/models"
	"github.com/qaops/reportpipe/pkg/rtm"
	"github.com/qaops/reportpipe/pkg/tracker"
	"github.com/qaops/reportpipe/pkg/upload"
	"github.com/qaops/reportpipe/pkg/version"
	"github.com/qaops/reportpipe/pkg/wiki"
)

type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		ReportDir:         dir,
		BaseName:          "test_result_report",
		RawLogName:        "pytest_output.txt",
		VersionFile:       filepath.Join(dir, "version.txt"),
		ExecKeyFile:       filepath.Join(dir, "rtm_execution_key.txt"),
		PageURLFile:       filepath.Join(dir, "confluence_url.txt"),
		MaxUploadAttempts: 3,
		PollInterval:      time.Millisecond,
		PollDeadline:      time.Second,
		WikiSpace:         "QA",
		WikiTitle:         "Test Result Report",
	}
}

// writeReportSet drops the v1 artifact pair (and optionally the raw log)
// into the report dir. Runs against a fresh version store allocate v1.
func writeReportSet(t *testing.T, cfg *config.Config, rawLog string) {
	t.Helper()
	for _, ext := range []string{"pdf", "html"} {
		path := filepath.Join(cfg.ReportDir, "test_result_report_v1."+ext)
		require.NoError(t, os.WriteFile(path, []byte("report body"), 0o644))
	}
	if rawLog != "" {
		require.NoError(t, os.WriteFile(filepath.Join(cfg.ReportDir, cfg.RawLogName), []byte(rawLog), 0o644))
	}
}

func newEngine() *upload.Engine {
	return upload.NewEngine(nil, backoff.NewPolicy([]time.Duration{time.Millisecond}), &recordingSleeper{}, testLogger())
}

func TestRunFullPipeline(t *testing.T) {
	var polls, trackerUploads, wikiUploads atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/automation/import-test-results", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"taskId":"job-1"}`))
	})
	mux.HandleFunc("/api/v2/automation/import-status/job-1", func(w http.ResponseWriter, _ *http.Request) {
		if polls.Add(1) == 1 {
			w.Write([]byte(`{"status":"IMPORTING","progress":40}`))
			return
		}
		w.Write([]byte(`{"status":"SUCCEEDED","progress":100,"testExecutionKey":"QA-12"}`))
	})
	mux.HandleFunc("/rest/api/3/issue/QA-12/attachments", func(w http.ResponseWriter, _ *http.Request) {
		trackerUploads.Add(1)
		w.Write([]byte(`[{"id":"10001"}]`))
	})
	mux.HandleFunc("/rest/api/content", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"id":"4242"}`))
	})
	mux.HandleFunc("/rest/api/content/4242/child/attachment", func(w http.ResponseWriter, _ *http.Request) {
		wikiUploads.Add(1)
		w.Write([]byte(`{"id":"att-1"}`))
	})
	mux.HandleFunc("/rest/api/content/4242", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			w.Write([]byte(`{"id":"4242"}`))
			return
		}
		w.Write([]byte(`{"version":{"number":1}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := testConfig(t)
	writeReportSet(t, cfg, "12 passed, 0 failed in 3.4s")
	archivePath := filepath.Join(cfg.ReportDir, "results.zip")
	require.NoError(t, os.WriteFile(archivePath, []byte("zip"), 0o644))

	store, err := version.NewFileStore(cfg.VersionFile, testLogger())
	require.NoError(t, err)
	rtmClient := rtm.NewClient(server.URL, "token", nil, testLogger())
	p := New(cfg, store, newEngine(),
		rtmClient,
		rtm.NewPoller(rtmClient, &recordingSleeper{}, testLogger()),
		tracker.NewClient(server.URL, "bot", "secret", nil, testLogger()),
		wiki.NewClient(server.URL, "bot", "secret", nil, testLogger()),
		nil, nil, testLogger())

	result, err := p.Run(context.Background(), Request{
		ProjectKey:     "QA",
		JobURL:         "https://ci.example.com/job/42",
		ResultsArchive: archivePath,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Version)
	assert.Equal(t, models.OverallPass, result.Overall)
	assert.Equal(t, models.TestSummary{Passed: 12}, result.Summary)
	assert.Equal(t, "QA-12", result.ExecutionKey)
	assert.Contains(t, result.PageURL, "/spaces/QA/pages/4242")
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, int32(2), polls.Load())
	assert.Equal(t, int32(2), trackerUploads.Load())
	assert.Equal(t, int32(2), wikiUploads.Load())

	keyData, err := os.ReadFile(cfg.ExecKeyFile)
	require.NoError(t, err)
	assert.Equal(t, "QA-12\n", string(keyData))

	urlData, err := os.ReadFile(cfg.PageURLFile)
	require.NoError(t, err)
	assert.Contains(t, string(urlData), "/spaces/QA/pages/4242")
}

func TestRunMissingArtifactFails(t *testing.T) {
	cfg := testConfig(t)
	// No report files written.
	store, err := version.NewFileStore(cfg.VersionFile, testLogger())
	require.NoError(t, err)
	p := New(cfg, store, newEngine(), nil, nil, nil, nil, nil, nil, testLogger())

	_, err = p.Run(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "report artifact missing")

	// The version number is consumed even by a failed run.
	current, err := store.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, current)
}

func TestRunMissingRawLogPublishesUnknown(t *testing.T) {
	var createdTitle string
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/content", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		createdTitle = string(body)
		w.Write([]byte(`{"id":"7"}`))
	})
	mux.HandleFunc("/rest/api/content/7/child/attachment", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"id":"att"}`))
	})
	mux.HandleFunc("/rest/api/content/7", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			w.Write([]byte(`{"id":"7"}`))
			return
		}
		w.Write([]byte(`{"version":{"number":1}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := testConfig(t)
	writeReportSet(t, cfg, "")
	store, err := version.NewFileStore(cfg.VersionFile, testLogger())
	require.NoError(t, err)
	p := New(cfg, store, newEngine(), nil, nil, nil,
		wiki.NewClient(server.URL, "bot", "secret", nil, testLogger()),
		nil, nil, testLogger())

	result, err := p.Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, models.OverallUnknown, result.Overall)
	assert.Contains(t, createdTitle, "(UNKNOWN)")
}

func TestRunWikiAttachmentFatalAborts(t *testing.T) {
	var attachCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/content", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"id":"9"}`))
	})
	mux.HandleFunc("/rest/api/content/9/child/attachment", func(w http.ResponseWriter, _ *http.Request) {
		attachCalls.Add(1)
		http.Error(w, "forbidden", http.StatusForbidden)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := testConfig(t)
	writeReportSet(t, cfg, "1 passed")
	store, err := version.NewFileStore(cfg.VersionFile, testLogger())
	require.NoError(t, err)
	p := New(cfg, store, newEngine(), nil, nil, nil,
		wiki.NewClient(server.URL, "bot", "secret", nil, testLogger()),
		nil, nil, testLogger())

	_, err = p.Run(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wiki attachment failed")
	// 403 is fatal, so the first artifact is tried exactly once and the
	// second never starts.
	assert.Equal(t, int32(1), attachCalls.Load())
}

func TestExecutionKeyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rtm_execution_key.txt")
	require.NoError(t, WriteExecutionKey(path, "RT-64"))

	key, err := ReadExecutionKey(path)
	require.NoError(t, err)
	assert.Equal(t, "RT-64", key)
}

func TestReadExecutionKeyRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rtm_execution_key.txt")
	require.NoError(t, os.WriteFile(path, []byte("<html>login</html>\n"), 0o644))

	_, err := ReadExecutionKey(path)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), path))
}

func TestReadExecutionKeyMissingFile(t *testing.T) {
	_, err := ReadExecutionKey(filepath.Join(t.TempDir(), "absent.txt"))
	require.Error(t, err)
}
