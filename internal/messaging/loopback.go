package messaging

import (
	"context"
	"fmt"
	"sync"

	"arena-duel/server/internal/net/proto"
	"arena-duel/server/internal/session"
)

// Bus is an in-process transport connecting several peers. Every envelope is
// round-tripped through the wire codec so payloads stay wire-safe, and each
// endpoint's inbox is FIFO, which preserves per-sender order. The earliest
// connected endpoint still attached is the Authority, matching the relay.
type Bus struct {
	mu        sync.Mutex
	endpoints map[session.ActorNumber]*Endpoint
	order     []session.ActorNumber
}

func NewBus() *Bus {
	return &Bus{endpoints: make(map[session.ActorNumber]*Endpoint)}
}

// Endpoint is one peer's attachment to a Bus.
type Endpoint struct {
	bus    *Bus
	actor  session.ActorNumber
	inbox  [][]byte
	states [][]byte
}

// Connect attaches a peer. Connecting an attached actor returns its endpoint.
func (b *Bus) Connect(actor session.ActorNumber) *Endpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ep, ok := b.endpoints[actor]; ok {
		return ep
	}
	ep := &Endpoint{bus: b, actor: actor}
	b.endpoints[actor] = ep
	b.order = append(b.order, actor)
	return ep
}

// Disconnect detaches a peer and drops anything still queued for it.
func (b *Bus) Disconnect(actor session.ActorNumber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.endpoints, actor)
	for i, a := range b.order {
		if a == actor {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Authority returns the actor currently elected by connection order.
func (b *Bus) Authority() (session.ActorNumber, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.order) == 0 {
		return 0, false
	}
	return b.order[0], true
}

// Pending reports the total number of undelivered envelopes.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, ep := range b.endpoints {
		total += len(ep.inbox)
	}
	return total
}

// Actor returns the endpoint identity.
func (e *Endpoint) Actor() session.ActorNumber {
	return e.actor
}

// Deliver implements Transport.
func (e *Endpoint) Deliver(ctx context.Context, env proto.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := proto.Encode(env)
	if err != nil {
		return err
	}
	b := e.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.endpoints[e.actor]; !ok {
		return fmt.Errorf("deliver from %d: %w", e.actor, ErrPeerUnavailable)
	}
	switch env.To.Kind {
	case proto.RouteAll:
		for _, actor := range b.order {
			ep := b.endpoints[actor]
			ep.inbox = append(ep.inbox, data)
		}
	case proto.RouteAuthority:
		if len(b.order) == 0 {
			return fmt.Errorf("deliver to authority: %w", ErrPeerUnavailable)
		}
		ep := b.endpoints[b.order[0]]
		ep.inbox = append(ep.inbox, data)
	case proto.RouteSpecific:
		ep, ok := b.endpoints[env.To.Peer]
		if !ok {
			return fmt.Errorf("deliver to %d: %w", env.To.Peer, ErrPeerUnavailable)
		}
		ep.inbox = append(ep.inbox, data)
	default:
		return fmt.Errorf("deliver: unknown route %q", env.To.Kind)
	}
	return nil
}

// PublishState forwards an encoded self-state frame to every other endpoint.
func (e *Endpoint) PublishState(data []byte) {
	b := e.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, actor := range b.order {
		if actor == e.actor {
			continue
		}
		ep := b.endpoints[actor]
		ep.states = append(ep.states, append([]byte(nil), data...))
	}
}

// Drain removes and decodes every queued envelope in arrival order.
func (e *Endpoint) Drain() ([]proto.Envelope, error) {
	b := e.bus
	b.mu.Lock()
	queued := e.inbox
	e.inbox = nil
	b.mu.Unlock()

	out := make([]proto.Envelope, 0, len(queued))
	for _, data := range queued {
		env, err := proto.Decode(data)
		if err != nil {
			return out, err
		}
		out = append(out, env)
	}
	return out, nil
}

// DrainStates removes every queued self-state frame.
func (e *Endpoint) DrainStates() [][]byte {
	b := e.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	queued := e.states
	e.states = nil
	return queued
}

// Endpoint is the in-process Link.
var _ Link = (*Endpoint)(nil)
