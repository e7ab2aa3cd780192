// Package summary parses free-text test-run output into structured
// pass/fail/error/skip counts.
package summary

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/qaops/reportpipe/pkg/models"
)

// Counter patterns of the form "<count> <label>", matched case-insensitively
// against the raw runner output. First match wins; absence yields 0.
var (
	passedPattern  = regexp.MustCompile(`(?i)(\d+)\s+passed`)
	failedPattern  = regexp.MustCompile(`(?i)(\d+)\s+failed`)
	errorsPattern  = regexp.MustCompile(`(?i)(\d+)\s+errors?`)
	skippedPattern = regexp.MustCompile(`(?i)(\d+)\s+skipped`)
)

// Extract builds a TestSummary from raw test-run output. Missing counters
// are 0; an empty blob is a valid degenerate input, not a failure.
func Extract(rawText string) models.TestSummary {
	return models.TestSummary{
		Passed:  firstCount(passedPattern, rawText),
		Failed:  firstCount(failedPattern, rawText),
		Errors:  firstCount(errorsPattern, rawText),
		Skipped: firstCount(skippedPattern, rawText),
	}
}

// ExtractFile reads the raw log file and extracts a summary. A missing file
// yields an empty summary with overall status UNKNOWN; the bool reports
// whether the file was found.
func ExtractFile(path string) (models.TestSummary, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.TestSummary{}, false, nil
		}
		return models.TestSummary{}, false, fmt.Errorf("failed to read raw log %s: %w", path, err)
	}
	return Extract(string(raw)), true, nil
}

// Line renders the one-line human-readable form used in page bodies and
// completion events.
func Line(s models.TestSummary) string {
	return fmt.Sprintf("%d passed | %d failed | %d errors | %d skipped — Pass rate: %.1f%%",
		s.Passed, s.Failed, s.Errors, s.Skipped, s.PassRate())
}

func firstCount(pattern *regexp.Regexp, text string) int {
	m := pattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	value, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return value
}
