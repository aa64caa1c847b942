package messaging

import (
	"context"
	"errors"
	"testing"

	"arena-duel/server/internal/net/proto"
	"arena-duel/server/internal/session"
)

func newPeer(t *testing.T, bus *Bus, actor session.ActorNumber, registry *session.Registry) (*Outbox, *Endpoint) {
	t.Helper()
	roster := session.NewRoster(actor)
	ep := bus.Connect(actor)
	return NewOutbox(roster, registry, ep), ep
}

func TestOutboxResolvesOwnerThroughRegistry(t *testing.T) {
	registry := session.NewRegistry()
	if err := registry.Register(session.Entity{ID: session.AvatarID(2), Kind: session.EntityAvatar, Owner: 2}); err != nil {
		t.Fatalf("register: %v", err)
	}
	bus := NewBus()
	out1, ep1 := newPeer(t, bus, 1, registry)
	_, ep2 := newPeer(t, bus, 2, registry)

	ctx := context.Background()
	if err := out1.Send(ctx, Owner(session.AvatarID(2)), proto.Heal{Avatar: session.AvatarID(2), Amount: 5}); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := ep2.Drain()
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != 1 || got[0].From != 1 || got[0].To.Kind != proto.RouteSpecific || got[0].To.Peer != 2 {
		t.Fatalf("unexpected delivery %+v", got)
	}
	if self, _ := ep1.Drain(); len(self) != 0 {
		t.Fatalf("owner-targeted message leaked to sender: %+v", self)
	}

	err = out1.Send(ctx, Owner("missing"), proto.Heal{})
	if !errors.Is(err, ErrUnresolvedTarget) {
		t.Fatalf("expected ErrUnresolvedTarget, got %v", err)
	}
}

func TestBusAllIncludesSenderAndPreservesOrder(t *testing.T) {
	registry := session.NewRegistry()
	bus := NewBus()
	out1, ep1 := newPeer(t, bus, 1, registry)
	_, ep2 := newPeer(t, bus, 2, registry)

	ctx := context.Background()
	for score := 1; score <= 3; score++ {
		if err := out1.Send(ctx, All(), proto.UpdateScore{Actor: 1, Score: score}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	for _, ep := range []*Endpoint{ep1, ep2} {
		envs, err := ep.Drain()
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
		if len(envs) != 3 {
			t.Fatalf("endpoint %d expected 3 envelopes, got %d", ep.Actor(), len(envs))
		}
		for i, env := range envs {
			msg := env.Message.(proto.UpdateScore)
			if msg.Score != i+1 || env.Seq != uint64(i+1) {
				t.Fatalf("endpoint %d out of order at %d: %+v seq=%d", ep.Actor(), i, msg, env.Seq)
			}
		}
	}
}

func TestBusAuthorityFollowsConnectionOrder(t *testing.T) {
	registry := session.NewRegistry()
	bus := NewBus()
	_, ep1 := newPeer(t, bus, 1, registry)
	out2, ep2 := newPeer(t, bus, 2, registry)
	ctx := context.Background()

	if err := out2.Send(ctx, Authority(), proto.SubmitChoice{Panel: 1, Choice: 0}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if envs, _ := ep1.Drain(); len(envs) != 1 {
		t.Fatalf("expected authority 1 to receive submission, got %d", len(envs))
	}

	bus.Disconnect(1)
	if a, _ := bus.Authority(); a != 2 {
		t.Fatalf("expected authority to move to 2, got %d", a)
	}
	if err := out2.Send(ctx, Authority(), proto.SubmitChoice{Panel: 1, Choice: 0}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if envs, _ := ep2.Drain(); len(envs) != 1 {
		t.Fatalf("expected new authority to receive its own submission")
	}
	if err := out2.Send(ctx, Specific(1), proto.Heal{}); !errors.Is(err, ErrPeerUnavailable) {
		t.Fatalf("expected ErrPeerUnavailable, got %v", err)
	}
}

func TestPublishStateSkipsSender(t *testing.T) {
	bus := NewBus()
	ep1 := bus.Connect(1)
	ep2 := bus.Connect(2)
	ep1.PublishState([]byte{1, 2, 3})
	if got := ep1.DrainStates(); len(got) != 0 {
		t.Fatalf("sender received its own state")
	}
	if got := ep2.DrainStates(); len(got) != 1 {
		t.Fatalf("expected one state frame, got %d", len(got))
	}
}
