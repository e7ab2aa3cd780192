// Package stub is a local emulation of the three remote services the
// pipeline talks to (result import, issue tracker, wiki), used for
// end-to-end dry runs without real credentials.
package stub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	httperrors "github.com/qaops/reportpipe/errors"
	"github.com/qaops/reportpipe/pkg/models"
)

const maxUploadMemory = 32 << 20 // 32 MB

// Options tune the stub's behavior.
type Options struct {
	// PollsUntilDone is how many status polls a fresh import job answers
	// IMPORTING before flipping to SUCCEEDED.
	PollsUntilDone int
	// FlakyEvery makes every Nth attachment upload answer 503, to exercise
	// client retry paths. Zero disables the fault.
	FlakyEvery int
}

type importJob struct {
	polls        int
	executionKey string
}

type page struct {
	title   string
	version int
}

// Server holds the in-memory state of the emulated services.
type Server struct {
	mu          sync.Mutex
	jobs        map[string]*importJob
	pages       map[string]*page
	issues      map[string]bool
	issueSeq    int
	pageSeq     int
	attachSeq   int
	uploadCount int

	opts   Options
	Logger *slog.Logger
}

// NewServer builds an empty stub. Zero options get sensible defaults.
func NewServer(opts Options, logger *slog.Logger) *Server {
	if opts.PollsUntilDone < 1 {
		opts.PollsUntilDone = 3
	}
	return &Server{
		jobs:   make(map[string]*importJob),
		pages:  make(map[string]*page),
		issues: make(map[string]bool),
		opts:   opts,
		Logger: logger,
	}
}

// handleSubmitImport accepts a results archive and registers an import job.
func (s *Server) handleSubmitImport(w http.ResponseWriter, r *http.Request) {
	logger := s.Logger.With(slog.String("handler", "handleSubmitImport"))
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		httperrors.BadRequest(w, logger, err, "Expected multipart form data")
		return
	}
	project := r.FormValue("projectKey")
	if project == "" {
		httperrors.BadRequest(w, logger, nil, "Missing required field: projectKey")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httperrors.BadRequest(w, logger, err, "Missing results archive in 'file' field")
		return
	}
	file.Close()

	s.mu.Lock()
	s.issueSeq++
	jobID := uuid.NewString()
	s.jobs[jobID] = &importJob{executionKey: fmt.Sprintf("%s-%d", project, s.issueSeq)}
	s.mu.Unlock()

	logger.Info("Import job registered",
		slog.String("job_id", jobID),
		slog.String("project", project),
		slog.String("archive", header.Filename))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"taskId": jobID})
}

// handleImportStatus advances the job one step per poll.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	logger := s.Logger.With(slog.String("handler", "handleImportStatus"), slog.String("job_id", jobID))

	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		httperrors.NotFound(w, logger, nil, fmt.Sprintf("No import job with id '%s'", jobID))
		return
	}
	job.polls++
	resp := models.ImportJob{
		JobID:    jobID,
		Status:   models.StatusImporting,
		Progress: job.polls * 100 / s.opts.PollsUntilDone,
	}
	if job.polls >= s.opts.PollsUntilDone {
		resp.Status = models.StatusSucceeded
		resp.Progress = 100
		resp.TestExecutionKey = job.executionKey
		s.issues[job.executionKey] = true
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleCreateIssue emulates the tracker's issue creation.
func (s *Server) handleCreateIssue(w http.ResponseWriter, r *http.Request) {
	logger := s.Logger.With(slog.String("handler", "handleCreateIssue"))
	var req struct {
		Fields struct {
			Project struct {
				Key string `json:"key"`
			} `json:"project"`
			Summary string `json:"summary"`
		} `json:"fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.BadRequest(w, logger, err, "Invalid JSON request body")
		return
	}
	defer r.Body.Close()
	if req.Fields.Project.Key == "" {
		httperrors.BadRequest(w, logger, nil, "Missing required field: fields.project.key")
		return
	}

	s.mu.Lock()
	s.issueSeq++
	key := fmt.Sprintf("%s-%d", req.Fields.Project.Key, s.issueSeq)
	s.issues[key] = true
	s.mu.Unlock()

	logger.Info("Issue created", slog.String("key", key), slog.String("summary", req.Fields.Summary))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": key, "key": key})
}

// handleIssueAttachment accepts an attachment on a known issue.
func (s *Server) handleIssueAttachment(w http.ResponseWriter, r *http.Request) {
	issueKey := chi.URLParam(r, "issueKey")
	logger := s.Logger.With(slog.String("handler", "handleIssueAttachment"), slog.String("issue", issueKey))

	s.mu.Lock()
	known := s.issues[issueKey]
	s.mu.Unlock()
	if !known {
		httperrors.NotFound(w, logger, nil, fmt.Sprintf("No issue with key '%s'", issueKey))
		return
	}
	s.acceptUpload(w, r, logger, true)
}

// handleCreatePage emulates wiki page creation.
func (s *Server) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	logger := s.Logger.With(slog.String("handler", "handleCreatePage"))
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.BadRequest(w, logger, err, "Invalid JSON request body")
		return
	}
	defer r.Body.Close()
	if req.Title == "" {
		httperrors.BadRequest(w, logger, nil, "Missing required field: title")
		return
	}

	s.mu.Lock()
	s.pageSeq++
	pageID := fmt.Sprintf("%d", 10000+s.pageSeq)
	s.pages[pageID] = &page{title: req.Title, version: 1}
	s.mu.Unlock()

	logger.Info("Page created", slog.String("page_id", pageID), slog.String("title", req.Title))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"id": pageID})
}

// handleGetPage returns the page with its current version.
func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "pageId")
	logger := s.Logger.With(slog.String("handler", "handleGetPage"), slog.String("page_id", pageID))

	s.mu.Lock()
	p, ok := s.pages[pageID]
	s.mu.Unlock()
	if !ok {
		httperrors.NotFound(w, logger, nil, fmt.Sprintf("No page with id '%s'", pageID))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":      pageID,
		"title":   p.title,
		"version": map[string]int{"number": p.version},
	})
}

// handleUpdatePage enforces the version bump the real service requires.
func (s *Server) handleUpdatePage(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "pageId")
	logger := s.Logger.With(slog.String("handler", "handleUpdatePage"), slog.String("page_id", pageID))
	var req struct {
		Title   string `json:"title"`
		Version struct {
			Number int `json:"number"`
		} `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.BadRequest(w, logger, err, "Invalid JSON request body")
		return
	}
	defer r.Body.Close()

	s.mu.Lock()
	p, ok := s.pages[pageID]
	if !ok {
		s.mu.Unlock()
		httperrors.NotFound(w, logger, nil, fmt.Sprintf("No page with id '%s'", pageID))
		return
	}
	if req.Version.Number != p.version+1 {
		current := p.version
		s.mu.Unlock()
		httperrors.RespondWithError(w, logger, http.StatusConflict, nil,
			fmt.Sprintf("Version must be %d, got %d", current+1, req.Version.Number))
		return
	}
	p.version = req.Version.Number
	if req.Title != "" {
		p.title = req.Title
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"id": pageID})
}

// handlePageAttachment accepts an attachment on a known page.
func (s *Server) handlePageAttachment(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "pageId")
	logger := s.Logger.With(slog.String("handler", "handlePageAttachment"), slog.String("page_id", pageID))

	s.mu.Lock()
	_, ok := s.pages[pageID]
	s.mu.Unlock()
	if !ok {
		httperrors.NotFound(w, logger, nil, fmt.Sprintf("No page with id '%s'", pageID))
		return
	}
	s.acceptUpload(w, r, logger, false)
}

// acceptUpload parses the multipart body and records the attachment,
// injecting a 503 on every Nth call when the flaky fault is enabled.
func (s *Server) acceptUpload(w http.ResponseWriter, r *http.Request, logger *slog.Logger, asArray bool) {
	s.mu.Lock()
	s.uploadCount++
	flaky := s.opts.FlakyEvery > 0 && s.uploadCount%s.opts.FlakyEvery == 0
	s.mu.Unlock()
	if flaky {
		httperrors.RespondWithError(w, logger, http.StatusServiceUnavailable, nil, "Injected transient failure")
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		httperrors.BadRequest(w, logger, err, "Expected multipart form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httperrors.BadRequest(w, logger, err, "Missing attachment in 'file' field")
		return
	}
	file.Close()

	s.mu.Lock()
	s.attachSeq++
	id := fmt.Sprintf("%d", s.attachSeq)
	s.mu.Unlock()

	logger.Info("Attachment stored", slog.String("id", id), slog.String("filename", header.Filename))
	w.Header().Set("Content-Type", "application/json")
	if asArray {
		json.NewEncoder(w).Encode([]map[string]string{{"id": id, "filename": header.Filename}})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"id": id, "filename": header.Filename})
}
