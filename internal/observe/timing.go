package observe

import "time"

// Timing records start/end timestamps only
type Timing struct {
	StartedAt   time.Time
	CompletedAt time.Time
}

// NewTiming creates timing with current start time
func NewTiming() *Timing {
	return &Timing{
		StartedAt: time.Now(),
	}
}

// Complete records completion time. Only the first call counts.
func (t *Timing) Complete() {
	if t.CompletedAt.IsZero() {
		t.CompletedAt = time.Now()
	}
}

// Duration returns elapsed time, up to now if not completed yet
func (t *Timing) Duration() time.Duration {
	if t.CompletedAt.IsZero() {
		return time.Since(t.StartedAt)
	}
	return t.CompletedAt.Sub(t.StartedAt)
}
