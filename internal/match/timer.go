package match

import "time"

// Timer is a cancellable deadline on the scaled match clock. It replaces a
// suspended wait: the owner polls Expired from its tick.
type Timer struct {
	deadline time.Duration
	armed    bool
}

// Arm sets the deadline d after now, replacing any previous one.
func (t *Timer) Arm(now, d time.Duration) {
	t.deadline = now + d
	t.armed = true
}

// Cancel disarms the timer.
func (t *Timer) Cancel() {
	t.armed = false
}

func (t *Timer) Armed() bool { return t.armed }

// Deadline returns the armed deadline.
func (t *Timer) Deadline() time.Duration { return t.deadline }

// Expired reports whether an armed timer has reached its deadline.
func (t *Timer) Expired(now time.Duration) bool {
	return t.armed && now >= t.deadline
}
