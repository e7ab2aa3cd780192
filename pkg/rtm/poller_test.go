package rtm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httperrors "github.com/qaops/reportpipe/errors"
	"github.com/qaops/reportpipe/pkg/models"
)

// recordingSleeper captures requested delays without actually waiting.
type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

// statusServer serves a scripted sequence of job statuses, repeating the
// last entry once the script is exhausted.
func statusServer(t *testing.T, jobID string, script []string) (*httptest.Server, *int) {
	t.Helper()
	calls := new(int)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/automation/import-status/"+jobID, r.URL.Path)
		idx := *calls
		if idx >= len(script) {
			idx = len(script) - 1
		}
		*calls++
		status := script[idx]
		w.Header().Set("Content-Type", "application/json")
		key := ""
		if status == models.StatusSucceeded {
			key = `,"testExecutionKey":"QA-64"`
		}
		fmt.Fprintf(w, `{"status":%q,"progress":%d%s}`, status, idx*30, key)
	}))
	return server, calls
}

func TestPollUntilTerminalSucceeds(t *testing.T) {
	server, calls := statusServer(t, "task-1", []string{
		models.StatusImporting, models.StatusImporting, models.StatusSucceeded,
	})
	defer server.Close()

	client := NewClient(server.URL, "secret", server.Client(), testLogger())
	sleeper := &recordingSleeper{}
	poller := NewPoller(client, sleeper, testLogger())

	job, err := poller.PollUntilTerminal(context.Background(), "task-1", 2*time.Second, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, models.StatusSucceeded, job.Status)
	assert.Equal(t, "QA-64", job.TestExecutionKey)
	assert.Equal(t, 3, *calls)
	// Exactly one sleep per non-terminal poll.
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, sleeper.delays)
}

func TestPollUntilTerminalServerFailure(t *testing.T) {
	server, calls := statusServer(t, "task-2", []string{
		models.StatusImporting, models.StatusFailed,
	})
	defer server.Close()

	client := NewClient(server.URL, "secret", server.Client(), testLogger())
	poller := NewPoller(client, &recordingSleeper{}, testLogger())

	job, err := poller.PollUntilTerminal(context.Background(), "task-2", time.Second, time.Hour)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FAILED")
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Equal(t, 2, *calls)
}

func TestPollUntilTerminalNonImportingStatusStops(t *testing.T) {
	server, _ := statusServer(t, "task-3", []string{"ARCHIVED"})
	defer server.Close()

	client := NewClient(server.URL, "secret", server.Client(), testLogger())
	poller := NewPoller(client, &recordingSleeper{}, testLogger())

	job, err := poller.PollUntilTerminal(context.Background(), "task-3", time.Second, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "ARCHIVED", job.Status)
}

func TestPollUntilTerminalDeadline(t *testing.T) {
	server, _ := statusServer(t, "task-4", []string{models.StatusImporting})
	defer server.Close()

	client := NewClient(server.URL, "secret", server.Client(), testLogger())
	// Production sleeper with a deadline shorter than one interval: the
	// cancellable wait must notice the deadline without riding out the
	// full sleep.
	poller := NewPoller(client, nil, testLogger())

	start := time.Now()
	job, err := poller.PollUntilTerminal(context.Background(), "task-4", time.Hour, 50*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, httperrors.ErrTimeout)
	assert.Equal(t, models.StatusTimeout, job.Status)
	assert.Less(t, elapsed, 5*time.Second)
}

func TestPollUntilTerminalCallerCancellation(t *testing.T) {
	server, _ := statusServer(t, "task-5", []string{models.StatusImporting})
	defer server.Close()

	client := NewClient(server.URL, "secret", server.Client(), testLogger())
	poller := NewPoller(client, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := poller.PollUntilTerminal(ctx, "task-5", time.Hour, time.Hour)
	require.Error(t, err)
	// Caller cancellation is not the poll deadline.
	assert.NotErrorIs(t, err, httperrors.ErrTimeout)
}

func TestJobStatusNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("unknown task"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", server.Client(), testLogger())
	_, err := client.JobStatus(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, httperrors.ErrNotFound)
}
