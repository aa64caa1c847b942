// Package messaging is the targeted reliable-call surface the core uses to
// talk to other peers. Components address messages to All, the Authority, the
// Owner of an entity, or a Specific peer; the Outbox resolves that target into
// a wire route and hands the envelope to a Transport.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"arena-duel/server/internal/net/proto"
	"arena-duel/server/internal/session"
)

var (
	// ErrUnresolvedTarget is returned when an Owner target names an entity the
	// local registry does not know.
	ErrUnresolvedTarget = errors.New("messaging: target cannot be resolved")
	// ErrPeerUnavailable is returned by transports when a Specific target is
	// not connected.
	ErrPeerUnavailable = errors.New("messaging: peer unavailable")
)

// TargetKind enumerates addressing modes.
type TargetKind uint8

const (
	TargetAll TargetKind = iota + 1
	TargetAuthority
	TargetOwner
	TargetSpecific
)

// Target addresses a message.
type Target struct {
	Kind   TargetKind
	Entity session.EntityID
	Peer   session.ActorNumber
}

// All targets every peer, including the sender.
func All() Target { return Target{Kind: TargetAll} }

// Authority targets the current Authority peer.
func Authority() Target { return Target{Kind: TargetAuthority} }

// Owner targets the peer owning the entity.
func Owner(id session.EntityID) Target { return Target{Kind: TargetOwner, Entity: id} }

// Specific targets one peer.
func Specific(actor session.ActorNumber) Target { return Target{Kind: TargetSpecific, Peer: actor} }

func (t Target) String() string {
	switch t.Kind {
	case TargetAll:
		return "all"
	case TargetAuthority:
		return "authority"
	case TargetOwner:
		return fmt.Sprintf("owner(%s)", t.Entity)
	case TargetSpecific:
		return fmt.Sprintf("peer(%d)", t.Peer)
	default:
		return "invalid"
	}
}

// Sender is the surface components depend on.
type Sender interface {
	Send(ctx context.Context, target Target, msg proto.Message) error
}

// SenderFunc adapts a function into a Sender.
type SenderFunc func(ctx context.Context, target Target, msg proto.Message) error

func (f SenderFunc) Send(ctx context.Context, target Target, msg proto.Message) error {
	if f == nil {
		return nil
	}
	return f(ctx, target, msg)
}

// Transport delivers stamped envelopes. Delivery is reliable and ordered per
// (sender, route) pair.
type Transport interface {
	Deliver(ctx context.Context, env proto.Envelope) error
}

// Link is a peer's full connection to the session: the reliable envelope
// stream plus the one-way self-state stream.
type Link interface {
	Transport
	Drain() ([]proto.Envelope, error)
	PublishState(data []byte)
	DrainStates() [][]byte
}

// Outbox stamps envelopes with the local identity and a sequence number and
// resolves Owner targets through the registry.
type Outbox struct {
	roster    *session.Roster
	registry  *session.Registry
	transport Transport

	mu  sync.Mutex
	seq uint64
}

// NewOutbox constructs an outbox for the local peer.
func NewOutbox(roster *session.Roster, registry *session.Registry, transport Transport) *Outbox {
	return &Outbox{roster: roster, registry: registry, transport: transport}
}

// Resolve maps a target onto its wire route.
func (o *Outbox) Resolve(target Target) (proto.Route, error) {
	switch target.Kind {
	case TargetAll:
		return proto.Route{Kind: proto.RouteAll}, nil
	case TargetAuthority:
		return proto.Route{Kind: proto.RouteAuthority}, nil
	case TargetSpecific:
		if target.Peer == 0 {
			return proto.Route{}, fmt.Errorf("%w: %s", ErrUnresolvedTarget, target)
		}
		return proto.Route{Kind: proto.RouteSpecific, Peer: target.Peer}, nil
	case TargetOwner:
		owner, ok := o.registry.Owner(target.Entity)
		if !ok {
			return proto.Route{}, fmt.Errorf("%w: %s", ErrUnresolvedTarget, target)
		}
		return proto.Route{Kind: proto.RouteSpecific, Peer: owner}, nil
	default:
		return proto.Route{}, fmt.Errorf("%w: %s", ErrUnresolvedTarget, target)
	}
}

// Send implements Sender.
func (o *Outbox) Send(ctx context.Context, target Target, msg proto.Message) error {
	if o == nil || o.transport == nil {
		return fmt.Errorf("send %s: outbox not connected", target)
	}
	route, err := o.Resolve(target)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.seq++
	seq := o.seq
	o.mu.Unlock()
	env := proto.Envelope{From: o.roster.Local(), To: route, Seq: seq, Message: msg}
	if err := o.transport.Deliver(ctx, env); err != nil {
		return fmt.Errorf("send %s to %s: %w", msg.Kind(), target, err)
	}
	return nil
}
