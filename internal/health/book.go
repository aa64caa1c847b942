package health

import "arena-duel/server/internal/session"

// Book is one peer's replica of every avatar's health.
type Book struct {
	states map[session.EntityID]*State
}

func NewBook() *Book {
	return &Book{states: make(map[session.EntityID]*State)}
}

// Track registers an avatar at full health. Tracking an existing avatar
// returns the current state unchanged.
func (b *Book) Track(id session.EntityID, max int) *State {
	if s, ok := b.states[id]; ok {
		return s
	}
	s := New(max)
	b.states[id] = s
	return s
}

// Get returns the state for an avatar.
func (b *Book) Get(id session.EntityID) (*State, bool) {
	s, ok := b.states[id]
	return s, ok
}

// Forget drops an avatar.
func (b *Book) Forget(id session.EntityID) {
	delete(b.states, id)
}

// ResetAll restores every tracked avatar to full health.
func (b *Book) ResetAll() {
	for _, s := range b.states {
		s.Reset()
	}
}
