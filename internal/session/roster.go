// Package session holds the authority and ownership model shared by every
// peer in a match: who is connected, which peer is the Authority, and which
// peer owns each simulated entity.
package session

import (
	"errors"
	"sort"
)

var (
	// ErrNotAuthority is returned when a non-Authority peer attempts to commit
	// outcome state.
	ErrNotAuthority = errors.New("session: peer is not the authority")
	// ErrNotOwner is returned when a peer attempts to write physics state for an
	// entity it does not own.
	ErrNotOwner = errors.New("session: peer does not own entity")
	// ErrUnknownPeer is returned for lookups of actors that never joined.
	ErrUnknownPeer = errors.New("session: unknown peer")
)

// ActorNumber is the stable identity of a peer within a session. Zero is
// reserved for "nobody".
type ActorNumber int

// Peer describes one participant.
type Peer struct {
	Actor    ActorNumber `json:"actor"`
	Nickname string      `json:"nickname,omitempty"`
	Slot     int         `json:"slot"`
	joinSeq  uint64
}

// Roster tracks connected peers in join order. The earliest joined peer still
// present is the Authority.
type Roster struct {
	local   ActorNumber
	peers   map[ActorNumber]*Peer
	nextSeq uint64
}

// NewRoster constructs an empty roster for the given local actor. Relay-side
// rosters pass zero.
func NewRoster(local ActorNumber) *Roster {
	return &Roster{local: local, peers: make(map[ActorNumber]*Peer)}
}

// Local returns the actor number of the peer running this roster.
func (r *Roster) Local() ActorNumber {
	if r == nil {
		return 0
	}
	return r.local
}

// SetLocal updates the local identity once the transport assigns one.
func (r *Roster) SetLocal(actor ActorNumber) {
	if r == nil {
		return
	}
	r.local = actor
}

// Join registers a peer. Rejoining an already known actor keeps its join
// order and slot. When slot is negative the lowest free slot is assigned.
func (r *Roster) Join(actor ActorNumber, nickname string, slot int) Peer {
	if existing, ok := r.peers[actor]; ok {
		if nickname != "" {
			existing.Nickname = nickname
		}
		return *existing
	}
	if slot < 0 {
		slot = r.freeSlot()
	}
	r.nextSeq++
	peer := &Peer{Actor: actor, Nickname: nickname, Slot: slot, joinSeq: r.nextSeq}
	r.peers[actor] = peer
	return *peer
}

// Leave removes a peer and reports whether the Authority changed as a result.
func (r *Roster) Leave(actor ActorNumber) (newAuthority ActorNumber, changed bool) {
	before, _ := r.Authority()
	if _, ok := r.peers[actor]; !ok {
		return before, false
	}
	delete(r.peers, actor)
	after, _ := r.Authority()
	return after, before != after
}

// Replace swaps the roster contents for an authoritative list received from
// the transport, preserving the supplied order as join order.
func (r *Roster) Replace(peers []Peer) {
	r.peers = make(map[ActorNumber]*Peer, len(peers))
	r.nextSeq = 0
	for _, p := range peers {
		r.nextSeq++
		copied := p
		copied.joinSeq = r.nextSeq
		r.peers[p.Actor] = &copied
	}
}

// Authority returns the current Authority: the earliest joined peer present.
func (r *Roster) Authority() (ActorNumber, bool) {
	if r == nil || len(r.peers) == 0 {
		return 0, false
	}
	var best *Peer
	for _, p := range r.peers {
		if best == nil || p.joinSeq < best.joinSeq {
			best = p
		}
	}
	return best.Actor, true
}

// IsAuthority reports whether the given actor currently holds authority.
func (r *Roster) IsAuthority(actor ActorNumber) bool {
	current, ok := r.Authority()
	return ok && actor != 0 && current == actor
}

// LocalIsAuthority reports whether the local peer holds authority.
func (r *Roster) LocalIsAuthority() bool {
	return r.IsAuthority(r.Local())
}

// CanCommitOutcome returns ErrNotAuthority unless the actor is the Authority.
// Health transitions, score, and draft state all gate on this.
func (r *Roster) CanCommitOutcome(actor ActorNumber) error {
	if !r.IsAuthority(actor) {
		return ErrNotAuthority
	}
	return nil
}

// Peer returns the peer record for an actor.
func (r *Roster) Peer(actor ActorNumber) (Peer, bool) {
	if r == nil {
		return Peer{}, false
	}
	p, ok := r.peers[actor]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// Slot returns the stable slot index for an actor.
func (r *Roster) Slot(actor ActorNumber) (int, error) {
	p, ok := r.Peer(actor)
	if !ok {
		return 0, ErrUnknownPeer
	}
	return p.Slot, nil
}

// Peers returns all peers ordered by join order.
func (r *Roster) Peers() []Peer {
	if r == nil {
		return nil
	}
	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].joinSeq < out[j].joinSeq })
	return out
}

// Len reports the number of connected peers.
func (r *Roster) Len() int {
	if r == nil {
		return 0
	}
	return len(r.peers)
}

// Opponent returns the first other peer in join order.
func (r *Roster) Opponent(actor ActorNumber) (Peer, bool) {
	for _, p := range r.Peers() {
		if p.Actor != actor {
			return p, true
		}
	}
	return Peer{}, false
}

func (r *Roster) freeSlot() int {
	used := make(map[int]bool, len(r.peers))
	for _, p := range r.peers {
		used[p.Slot] = true
	}
	slot := 0
	for used[slot] {
		slot++
	}
	return slot
}
