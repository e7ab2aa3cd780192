// Package backoff provides the wait-time policy applied between retry
// attempts. The policy walks an explicit schedule and holds at the last
// value rather than growing unboundedly. No jitter is applied; the upload
// volume is a handful of report files per CI run, so thundering-herd
// protection is not needed here.
package backoff

import "time"

// Policy yields a delay per retry attempt from an ordered schedule.
type Policy struct {
	schedule []time.Duration
}

// NewPolicy builds a policy over the given schedule. An empty schedule
// falls back to a single one-second step.
func NewPolicy(schedule []time.Duration) Policy {
	if len(schedule) == 0 {
		schedule = []time.Duration{time.Second}
	}
	copied := make([]time.Duration, len(schedule))
	copy(copied, schedule)
	return Policy{schedule: copied}
}

// Delay returns the wait before retrying after attempt n (1-based).
// Attempts past the end of the schedule hold at the last value.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	idx := attempt - 1
	if idx >= len(p.schedule) {
		idx = len(p.schedule) - 1
	}
	return p.schedule[idx]
}

// Len reports the schedule length, which callers use as the default
// retry budget.
func (p Policy) Len() int {
	return len(p.schedule)
}
