package match

import (
	"sort"

	"arena-duel/server/internal/net/proto"
	"arena-duel/server/internal/session"
)

// ScoreTable maps peers to kill counts. Entries appear lazily at zero and
// never decrease within a match.
type ScoreTable struct {
	scores map[session.ActorNumber]int
}

func NewScoreTable() *ScoreTable {
	return &ScoreTable{scores: make(map[session.ActorNumber]int)}
}

// Ensure creates a zero entry and reports whether it was new.
func (t *ScoreTable) Ensure(actor session.ActorNumber) bool {
	if _, ok := t.scores[actor]; ok {
		return false
	}
	t.scores[actor] = 0
	return true
}

// Increment adds one kill and returns the new score.
func (t *ScoreTable) Increment(actor session.ActorNumber) int {
	t.scores[actor]++
	return t.scores[actor]
}

// Observe applies a replicated value. Lower values are ignored so a late
// broadcast can never move a score backwards.
func (t *ScoreTable) Observe(actor session.ActorNumber, score int) bool {
	if score < 0 {
		return false
	}
	current, ok := t.scores[actor]
	if ok && score <= current {
		return false
	}
	t.scores[actor] = score
	return true
}

// Get returns the score for a peer.
func (t *ScoreTable) Get(actor session.ActorNumber) int {
	return t.scores[actor]
}

// Entries lists every score ordered by actor number.
func (t *ScoreTable) Entries() []proto.ScoreEntry {
	out := make([]proto.ScoreEntry, 0, len(t.scores))
	for actor, score := range t.scores {
		out = append(out, proto.ScoreEntry{Actor: actor, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Actor < out[j].Actor })
	return out
}
