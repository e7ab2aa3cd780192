package rtm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	httperrors "github.com/qaops/reportpipe/errors"
	"github.com/qaops/reportpipe/pkg/models"
	"github.com/qaops/reportpipe/pkg/upload"
)

// Poller repeatedly queries an import job until it reaches a terminal
// state or the deadline elapses. Polls are strictly sequential: at most
// one outstanding status request at a time.
type Poller struct {
	client  *Client
	sleeper upload.Sleeper
	logger  *slog.Logger
}

// NewPoller builds a poller over an RTM client. A nil sleeper falls back
// to the production timer sleeper.
func NewPoller(client *Client, sleeper upload.Sleeper, logger *slog.Logger) *Poller {
	if sleeper == nil {
		sleeper = upload.TimerSleeper{}
	}
	return &Poller{client: client, sleeper: sleeper, logger: logger}
}

// PollUntilTerminal polls the job status every interval until the job
// leaves IMPORTING/SUBMITTED or the deadline elapses. A server-reported
// FAILED/ERROR is returned as a hard error alongside the final job. A
// deadline hit returns the last observed job with status TIMEOUT and
// httperrors.ErrTimeout; the remote job may still be running, so the caller
// owns the decision to treat that as failure.
func (p *Poller) PollUntilTerminal(ctx context.Context, jobID string, interval, deadline time.Duration) (models.ImportJob, error) {
	logger := p.logger.With(slog.String("job_id", jobID))
	pollCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	job := models.ImportJob{JobID: jobID, Status: models.StatusSubmitted}
	for {
		latest, err := p.client.JobStatus(pollCtx, jobID)
		if err != nil {
			if timedOut(pollCtx, ctx) {
				return timeoutJob(job), fmt.Errorf("import job %s still %s after %s: %w", jobID, job.Status, deadline, httperrors.ErrTimeout)
			}
			return job, err
		}
		job = latest
		logger.Info("Import job status",
			slog.String("status", job.Status),
			slog.Int("progress", job.Progress))

		switch job.Status {
		case models.StatusImporting, models.StatusSubmitted:
			// Still running, keep polling below.
		case models.StatusFailed, models.StatusError:
			return job, fmt.Errorf("import job %s reported %s", jobID, job.Status)
		default:
			// SUCCEEDED or any other server-reported status ends polling.
			return job, nil
		}

		if err := p.sleeper.Sleep(pollCtx, interval); err != nil {
			if timedOut(pollCtx, ctx) {
				return timeoutJob(job), fmt.Errorf("import job %s still %s after %s: %w", jobID, job.Status, deadline, httperrors.ErrTimeout)
			}
			return job, fmt.Errorf("poll wait interrupted: %w", err)
		}
	}
}

// timedOut reports whether the poll context hit its own deadline rather
// than inheriting a cancellation from the caller.
func timedOut(pollCtx, parent context.Context) bool {
	return errors.Is(pollCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil
}

func timeoutJob(last models.ImportJob) models.ImportJob {
	last.Status = models.StatusTimeout
	return last
}

// JobStatus fetches the current server-side state of an import job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (models.ImportJob, error) {
	url := c.base + importStatusPath + jobID

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.ImportJob{}, fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.ImportJob{}, fmt.Errorf("failed to execute status request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		if sentinel := httperrors.FromStatus(resp.StatusCode); sentinel != nil {
			return models.ImportJob{}, fmt.Errorf("status request failed with status %s: %s: %w", resp.Status, string(bodyBytes), sentinel)
		}
		return models.ImportJob{}, fmt.Errorf("status request failed with status %s: %s", resp.Status, string(bodyBytes))
	}

	var job models.ImportJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return models.ImportJob{}, fmt.Errorf("failed to decode job status response: %w", err)
	}
	job.JobID = jobID
	return job, nil
}
