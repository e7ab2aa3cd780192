package models

import (
	"regexp"
	"time"
)

// ImportJob tracks a server-side asynchronous import of a results archive.
// It is created by the submitter and overwritten with the latest
// server-reported values on every poll.
type ImportJob struct {
	JobID            string `json:"jobId"`
	Status           string `json:"status"`
	Progress         int    `json:"progress"`
	TestExecutionKey string `json:"testExecutionKey,omitempty"`
}

// Constants for Import Job Status
const (
	StatusSubmitted = "SUBMITTED"
	StatusImporting = "IMPORTING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusError     = "ERROR"
	// StatusTimeout is assigned client-side when the poll deadline elapses.
	// The server never reports it; the remote job may still be running.
	StatusTimeout = "TIMEOUT"
)

// IsTerminalStatus checks if a status string represents a final state for an import job.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusSucceeded, StatusFailed, StatusError, StatusTimeout:
		return true
	default:
		return false
	}
}

// Constants for overall run status derived from a TestSummary.
const (
	OverallPass    = "PASS"
	OverallFail    = "FAIL"
	OverallUnknown = "UNKNOWN"
)

// TestSummary holds structured counts extracted from raw test-run output.
// Immutable after construction.
type TestSummary struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Errors  int `json:"errors"`
	Skipped int `json:"skipped"`
}

// Total is the sum of all counters.
func (s TestSummary) Total() int {
	return s.Passed + s.Failed + s.Errors + s.Skipped
}

// PassRate is passed/total as a percentage, 0 when no tests ran.
func (s TestSummary) PassRate() float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}
	return float64(s.Passed) / float64(total) * 100
}

// Overall reports PASS iff there are no failures and no errors.
// Skipped tests are neutral.
func (s TestSummary) Overall() string {
	if s.Failed == 0 && s.Errors == 0 {
		return OverallPass
	}
	return OverallFail
}

// AuthMode selects how an UploadTarget authenticates.
type AuthMode int

const (
	AuthNone AuthMode = iota
	AuthBasic
	AuthBearer
)

// UploadTarget describes a single attachment upload. Immutable once
// constructed for a given attempt sequence.
type UploadTarget struct {
	Endpoint     string // full URL of the attachment endpoint
	FilePath     string // local file to upload
	ContentType  string // declared content type of the file
	SuccessCodes []int  // HTTP status codes treated as success (default 200, 201)

	Auth     AuthMode
	Username string // basic auth user
	Secret   string // basic auth password or bearer token
}

// OutcomeClass tags an upload outcome.
type OutcomeClass int

const (
	OutcomeSuccess OutcomeClass = iota
	OutcomeRetryable
	OutcomeFatal
)

func (c OutcomeClass) String() string {
	switch c {
	case OutcomeSuccess:
		return "SUCCESS"
	case OutcomeRetryable:
		return "RETRYABLE"
	case OutcomeFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Outcome of a single upload call.
type Outcome struct {
	Class      OutcomeClass
	StatusCode int
	RemoteID   string // server-assigned identifier, when the response carries one
	Message    string // response body or transport error text, for diagnostics
	Attempts   int    // attempts actually performed
}

// SourceSystem identifies which external service produced a persisted key.
type SourceSystem string

const (
	SourceRTM     SourceSystem = "RTM"
	SourceTracker SourceSystem = "TRACKER"
)

// ExecutionReference is the cross-process handoff: the execution key is
// written to a well-known file so a later, independently invoked stage can
// attach reports without shared process memory.
type ExecutionReference struct {
	Key    string       `json:"key"`
	Source SourceSystem `json:"source"`
}

// IssueKeyPattern matches tracker issue keys like "RT-64".
var IssueKeyPattern = regexp.MustCompile(`^[A-Z]{1,10}-\d+$`)

// CompletionEvent is published to the message broker when a pipeline run
// finishes, so downstream consumers can react without polling files.
type CompletionEvent struct {
	RunID        string      `json:"run_id"`
	Version      int         `json:"version"`
	Status       string      `json:"status"`
	Summary      TestSummary `json:"summary"`
	ExecutionKey string      `json:"execution_key,omitempty"`
	PageURL      string      `json:"page_url,omitempty"`
	FinishedAt   time.Time   `json:"finished_at"`
}
