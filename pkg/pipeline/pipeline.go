// Package pipeline chains the publishing stages for one report version:
// version allocation, artifact discovery, summary extraction, result import,
// tracker attachments, wiki publication and optional archival/notification.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qaops/reportpipe/pkg/archive"
	"github.com/qaops/reportpipe/pkg/config"
	"github.com/qaops/reportpipe/pkg/models"
	"github.com/qaops/reportpipe/pkg/notify"
	"github.com/qaops/reportpipe/pkg/rtm"
	"github.com/qaops/reportpipe/pkg/summary"
	"github.com/qaops/reportpipe/pkg/tracker"
	"github.com/qaops/reportpipe/pkg/upload"
	"github.com/qaops/reportpipe/pkg/version"
	"github.com/qaops/reportpipe/pkg/wiki"
)

// Artifact is one report file scheduled for upload.
type Artifact struct {
	Path        string
	ContentType string
}

// Request carries the per-run inputs that do not come from configuration.
type Request struct {
	ProjectKey string
	JobURL     string
	// ResultsArchive is the raw results bundle submitted to the import
	// service. Empty skips the import stage.
	ResultsArchive string
}

// Result is what a completed run produced.
type Result struct {
	RunID        string
	Version      int
	Summary      models.TestSummary
	Overall      string
	ExecutionKey string
	PageURL      string
	Artifacts    []Artifact
}

// Pipeline wires the stage clients together. Archiver and Notifier are
// optional; nil skips their stages. RTM, tracker and wiki stages are skipped
// when the corresponding base URL is not configured.
type Pipeline struct {
	cfg      *config.Config
	store    version.Store
	engine   *upload.Engine
	rtm      *rtm.Client
	poller   *rtm.Poller
	tracker  *tracker.Client
	wiki     *wiki.Client
	archiver *archive.Archiver
	notifier *notify.Notifier
	logger   *slog.Logger
}

// New assembles a pipeline from its stage clients.
func New(cfg *config.Config, store version.Store, engine *upload.Engine,
	rtmClient *rtm.Client, poller *rtm.Poller, trackerClient *tracker.Client,
	wikiClient *wiki.Client, archiver *archive.Archiver, notifier *notify.Notifier,
	logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		store:    store,
		engine:   engine,
		rtm:      rtmClient,
		poller:   poller,
		tracker:  trackerClient,
		wiki:     wikiClient,
		archiver: archiver,
		notifier: notifier,
		logger:   logger,
	}
}

// Run executes the full publish sequence. The version is allocated before
// anything else, so even a failed run consumes a version number and never
// collides with a concurrent one.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	runID := uuid.NewString()
	logger := p.logger.With(slog.String("run_id", runID))
	result := Result{RunID: runID}

	ver, err := p.store.AllocateNext(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to allocate report version: %w", err)
	}
	result.Version = ver
	logger.Info("Allocated report version", slog.Int("version", ver))

	artifacts, err := p.locateArtifacts(ver)
	if err != nil {
		return result, err
	}
	result.Artifacts = artifacts

	result.Summary, result.Overall = p.extractSummary(logger)

	if p.rtm != nil && req.ResultsArchive != "" {
		key, err := p.runImport(ctx, req, logger)
		if err != nil {
			return result, err
		}
		result.ExecutionKey = key
	}

	if p.tracker != nil && result.ExecutionKey != "" {
		if err := p.attachToTracker(ctx, result.ExecutionKey, artifacts, logger); err != nil {
			return result, err
		}
	}

	if p.wiki != nil {
		pageURL, err := p.publishPage(ctx, ver, result.Summary, result.Overall, artifacts, logger)
		if err != nil {
			return result, err
		}
		result.PageURL = pageURL
	}

	if p.archiver != nil {
		p.archiveArtifacts(ctx, req.ProjectKey, ver, artifacts, logger)
	}

	if p.notifier != nil {
		event := models.CompletionEvent{
			RunID:        runID,
			Version:      ver,
			Status:       result.Overall,
			Summary:      result.Summary,
			ExecutionKey: result.ExecutionKey,
			PageURL:      result.PageURL,
			FinishedAt:   time.Now().UTC(),
		}
		if err := p.notifier.PublishCompletion(ctx, event); err != nil {
			// Notification is best-effort; the reports are already out.
			logger.Error("Failed to publish completion event", slog.Any("error", err))
		}
	}

	logger.Info("Publish run finished",
		slog.Int("version", ver),
		slog.String("overall", result.Overall),
		slog.String("execution_key", result.ExecutionKey),
		slog.String("page_url", result.PageURL))
	return result, nil
}

func (p *Pipeline) locateArtifacts(ver int) ([]Artifact, error) {
	return LocateArtifacts(p.cfg, ver)
}

// LocateArtifacts resolves the versioned report files. Both renderings must
// exist: publishing a partial report set would leave consumers guessing
// which one is authoritative.
func LocateArtifacts(cfg *config.Config, ver int) ([]Artifact, error) {
	artifacts := []Artifact{
		{ContentType: "application/pdf"},
		{ContentType: "text/html"},
	}
	exts := []string{"pdf", "html"}
	for i := range artifacts {
		path := filepath.Join(cfg.ReportDir, fmt.Sprintf("%s_v%d.%s", cfg.BaseName, ver, exts[i]))
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("report artifact missing: %s: %w", path, err)
		}
		artifacts[i].Path = path
	}
	return artifacts, nil
}

// extractSummary reads the raw run log. A missing log is tolerated: the
// reports still publish, flagged UNKNOWN.
func (p *Pipeline) extractSummary(logger *slog.Logger) (models.TestSummary, string) {
	rawPath := filepath.Join(p.cfg.ReportDir, p.cfg.RawLogName)
	s, found, err := summary.ExtractFile(rawPath)
	if err != nil {
		logger.Warn("Failed to read raw test log", slog.String("path", rawPath), slog.Any("error", err))
		return s, models.OverallUnknown
	}
	if !found {
		logger.Warn("Raw test log not found, overall status unknown", slog.String("path", rawPath))
		return s, models.OverallUnknown
	}
	logger.Info("Extracted test summary", slog.String("summary", summary.Line(s)))
	return s, s.Overall()
}

// runImport submits the results archive, polls the import job to a terminal
// state and persists the execution key for later stages.
func (p *Pipeline) runImport(ctx context.Context, req Request, logger *slog.Logger) (string, error) {
	jobID, err := p.rtm.Submit(ctx, req.ResultsArchive, rtm.SubmitRequest{
		ProjectKey: req.ProjectKey,
		ReportType: "JUNIT",
		JobURL:     req.JobURL,
	})
	if err != nil {
		return "", fmt.Errorf("import submission failed: %w", err)
	}

	job, err := p.poller.PollUntilTerminal(ctx, jobID, p.cfg.PollInterval, p.cfg.PollDeadline)
	if err != nil {
		return "", fmt.Errorf("import job did not complete: %w", err)
	}

	if job.TestExecutionKey == "" {
		logger.Warn("Import job finished without an execution key", slog.String("job_id", jobID))
		return "", nil
	}
	if err := tracker.ValidateIssueKey(job.TestExecutionKey); err != nil {
		return "", fmt.Errorf("import job returned a malformed execution key: %w", err)
	}
	if err := WriteExecutionKey(p.cfg.ExecKeyFile, job.TestExecutionKey); err != nil {
		return "", err
	}
	logger.Info("Import job succeeded",
		slog.String("job_id", jobID),
		slog.String("execution_key", job.TestExecutionKey))
	return job.TestExecutionKey, nil
}

// attachToTracker uploads every artifact to the execution issue. A fatal or
// exhausted outcome aborts the run: a report set that is only half attached
// is worse than none, it looks complete.
func (p *Pipeline) attachToTracker(ctx context.Context, issueKey string, artifacts []Artifact, logger *slog.Logger) error {
	for _, a := range artifacts {
		target := p.tracker.AttachmentTarget(issueKey, a.Path, a.ContentType)
		outcome, err := p.engine.Upload(ctx, target, p.cfg.MaxUploadAttempts)
		if err != nil {
			return err
		}
		if outcome.Class != models.OutcomeSuccess {
			return fmt.Errorf("tracker attachment failed for %s with status %d after %d attempts: %s",
				filepath.Base(a.Path), outcome.StatusCode, outcome.Attempts, outcome.Message)
		}
	}
	logger.Info("Attached reports to tracker execution", slog.String("issue", issueKey))
	return nil
}

// publishPage creates the versioned wiki page, uploads the artifacts as
// attachments, then rewrites the page body with download links.
func (p *Pipeline) publishPage(ctx context.Context, ver int, s models.TestSummary, overall string, artifacts []Artifact, logger *slog.Logger) (string, error) {
	now := time.Now()
	title := wiki.PageTitle(p.cfg.WikiTitle, ver, overall, now)
	body := wiki.ReportBody(ver, now, overall, summary.Line(s))

	pageID, err := p.wiki.CreatePage(ctx, p.cfg.WikiSpace, title, body)
	if err != nil {
		return "", fmt.Errorf("failed to create wiki page: %w", err)
	}

	links := make(map[string]string, len(artifacts))
	for _, a := range artifacts {
		target := p.wiki.AttachmentTarget(pageID, a.Path, a.ContentType)
		outcome, err := p.engine.Upload(ctx, target, p.cfg.MaxUploadAttempts)
		if err != nil {
			return "", err
		}
		if outcome.Class != models.OutcomeSuccess {
			return "", fmt.Errorf("wiki attachment failed for %s with status %d after %d attempts: %s",
				filepath.Base(a.Path), outcome.StatusCode, outcome.Attempts, outcome.Message)
		}
		name := filepath.Base(a.Path)
		links[name] = p.wiki.DownloadLink(pageID, name)
	}

	current, err := p.wiki.PageVersion(ctx, pageID)
	if err != nil {
		return "", fmt.Errorf("failed to read wiki page version: %w", err)
	}
	if err := p.wiki.UpdatePage(ctx, pageID, title, wiki.AppendAttachmentLinks(body, links), current+1); err != nil {
		return "", fmt.Errorf("failed to update wiki page with attachment links: %w", err)
	}

	pageURL := p.wiki.PageURL(p.cfg.WikiSpace, pageID)
	if p.cfg.PageURLFile != "" {
		if err := os.WriteFile(p.cfg.PageURLFile, []byte(pageURL+"\n"), 0o644); err != nil {
			logger.Warn("Failed to persist page URL", slog.String("path", p.cfg.PageURLFile), slog.Any("error", err))
		}
	}
	logger.Info("Published wiki page", slog.String("page_id", pageID), slog.String("url", pageURL))
	return pageURL, nil
}

// archiveArtifacts mirrors the artifacts into object storage. Failures are
// logged and swallowed: archival is a convenience copy, not a stage the
// published reports depend on.
func (p *Pipeline) archiveArtifacts(ctx context.Context, project string, ver int, artifacts []Artifact, logger *slog.Logger) {
	if project == "" {
		project = p.cfg.BaseName
	}
	for _, a := range artifacts {
		url, err := p.archiver.StoreFile(ctx, project, ver, a.Path, a.ContentType)
		if err != nil {
			logger.Error("Failed to archive artifact", slog.String("path", a.Path), slog.Any("error", err))
			continue
		}
		logger.Info("Artifact archived", slog.String("url", url))
	}
}

// WriteExecutionKey persists the execution key for a later, independently
// invoked attach stage.
func WriteExecutionKey(path, key string) error {
	if err := os.WriteFile(path, []byte(key+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to persist execution key to %s: %w", path, err)
	}
	return nil
}

// ReadExecutionKey loads and validates a previously persisted execution key.
func ReadExecutionKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read execution key from %s: %w", path, err)
	}
	key := strings.TrimSpace(string(data))
	if err := tracker.ValidateIssueKey(key); err != nil {
		return "", fmt.Errorf("execution key file %s: %w", path, err)
	}
	return key, nil
}
