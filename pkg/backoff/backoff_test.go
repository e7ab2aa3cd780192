package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicyHoldsAtLastValue(t *testing.T) {
	p := NewPolicy([]time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second})

	want := []time.Duration{
		2 * time.Second, 4 * time.Second, 6 * time.Second,
		6 * time.Second, 6 * time.Second, 6 * time.Second,
	}
	for attempt := 1; attempt <= len(want); attempt++ {
		assert.Equal(t, want[attempt-1], p.Delay(attempt), "attempt %d", attempt)
	}
}

func TestPolicyClampsLowAttempts(t *testing.T) {
	p := NewPolicy([]time.Duration{3 * time.Second, 5 * time.Second})

	assert.Equal(t, 3*time.Second, p.Delay(0))
	assert.Equal(t, 3*time.Second, p.Delay(-4))
}

func TestPolicyEmptyScheduleFallback(t *testing.T) {
	p := NewPolicy(nil)

	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, time.Second, p.Delay(10))
	assert.Equal(t, 1, p.Len())
}

func TestPolicyCopiesSchedule(t *testing.T) {
	schedule := []time.Duration{time.Second, 2 * time.Second}
	p := NewPolicy(schedule)
	schedule[0] = time.Hour

	assert.Equal(t, time.Second, p.Delay(1))
}
