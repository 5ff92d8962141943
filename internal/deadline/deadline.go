// Package deadline implements a cooperative time budget. Nothing is
// preempted: callers poll Passed at their own suspension points.
package deadline

import (
	"time"

	"github.com/deusflow/linkpost/internal/links"
)

// Deadline is an optional absolute instant. A nil *Deadline never passes.
type Deadline struct {
	at  time.Time
	now func() time.Time
}

// New returns a deadline budget from now. A non-positive budget means no
// deadline and yields nil.
func New(budget time.Duration, now func() time.Time) *Deadline {
	if budget <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	return &Deadline{at: now().Add(budget), now: now}
}

// Passed reports whether the instant has been reached.
func (d *Deadline) Passed() bool {
	if d == nil {
		return false
	}
	return !d.now().Before(d.at)
}

// Err returns links.ErrDeadlineExceeded once the deadline has passed and
// nil before that.
func (d *Deadline) Err() error {
	if d.Passed() {
		return links.ErrDeadlineExceeded
	}
	return nil
}

// Remaining returns the time left, zero once passed. ok is false when
// there is no deadline.
func (d *Deadline) Remaining() (left time.Duration, ok bool) {
	if d == nil {
		return 0, false
	}
	left = d.at.Sub(d.now())
	if left < 0 {
		left = 0
	}
	return left, true
}
