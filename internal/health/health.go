// Package health models per-avatar HealthState. Only the Authority commits
// damage and death; the owning peer is the source of truth for the current
// value between commits.
package health

// Status is the lifecycle of an avatar's health.
type Status uint8

const (
	Alive Status = iota
	Dead
)

func (s Status) String() string {
	if s == Dead {
		return "dead"
	}
	return "alive"
}

// State holds one avatar's health. The zero value is not usable; construct
// with New.
type State struct {
	current  int
	max      int
	status   Status
	revision uint64
}

// Outcome reports the effect of a damage commit.
type Outcome struct {
	Applied  bool
	Killed   bool
	Before   int
	After    int
	Revision uint64
}

// New returns a full-health state.
func New(max int) *State {
	if max < 1 {
		max = 1
	}
	return &State{current: max, max: max}
}

func (s *State) Current() int     { return s.current }
func (s *State) Max() int         { return s.max }
func (s *State) Status() Status   { return s.status }
func (s *State) Alive() bool      { return s.status == Alive }
func (s *State) Revision() uint64 { return s.revision }

// ApplyDamage commits damage. A Dead state is never mutated, which makes
// late or duplicate requests no-ops. Overkill is discarded: current floors at
// zero and the Alive→Dead transition is reported exactly once.
func (s *State) ApplyDamage(amount int) Outcome {
	out := Outcome{Before: s.current, After: s.current, Revision: s.revision}
	if s.status == Dead || amount <= 0 {
		return out
	}
	next := s.current - amount
	if next < 0 {
		next = 0
	}
	s.current = next
	s.revision++
	out.Applied = true
	out.After = next
	out.Revision = s.revision
	if next <= 0 {
		s.status = Dead
		out.Killed = true
	}
	return out
}

// Heal raises current up to max. Dead avatars stay at zero until Reset.
func (s *State) Heal(amount int) int {
	if s.status == Dead || amount <= 0 {
		return 0
	}
	before := s.current
	s.current += amount
	if s.current > s.max {
		s.current = s.max
	}
	return s.current - before
}

// Reset restores a full, Alive state on respawn.
func (s *State) Reset() {
	s.current = s.max
	s.status = Alive
}

// SetMax changes the maximum, keeping current within range. Raising the
// maximum raises current by the same delta while Alive.
func (s *State) SetMax(max int) {
	if max < 1 {
		max = 1
	}
	delta := max - s.max
	s.max = max
	if s.status == Alive && delta > 0 {
		s.current += delta
	}
	if s.current > s.max {
		s.current = s.max
	}
}

// Commit applies an authoritative value received from the Authority through
// a damage notification. Older revisions are ignored.
func (s *State) Commit(current int, revision uint64) bool {
	if revision < s.revision || s.status == Dead {
		return false
	}
	s.revision = revision
	s.current = clamp(current, 0, s.max)
	if s.current == 0 {
		s.status = Dead
	}
	return true
}

// Sync reconciles a value published by the avatar's owner. Publications that
// predate the latest committed damage are ignored so a stale snapshot cannot
// undo committed damage, and a publication can never cause a death: that
// transition belongs to the Authority.
func (s *State) Sync(current, max int, revision uint64) bool {
	if s.status == Dead || revision < s.revision {
		return false
	}
	if max > 0 {
		s.max = max
	}
	value := clamp(current, 0, s.max)
	if value == 0 {
		return false
	}
	s.current = value
	s.revision = revision
	return true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
