package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"arena-duel/server"
	"arena-duel/server/internal/net/proto"
	"arena-duel/server/internal/session"
)

func newRelayServer(t *testing.T) (*server.Hub, string) {
	t.Helper()
	hub := server.NewHub(server.DefaultHubConfig())
	handler := NewHandler(hub, HandlerConfig{})
	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, relayURL, nick string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := Dial(ctx, relayURL, ClientConfig{Nickname: nick})
	if err != nil {
		t.Fatalf("dial %s: %v", nick, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClientsExchangeEnvelopesThroughRelay(t *testing.T) {
	hub, relayURL := newRelayServer(t)
	host := dial(t, relayURL, "host")
	guest := dial(t, relayURL, "guest")

	if host.Welcome().Slot != 0 || guest.Welcome().Slot != 1 {
		t.Fatalf("unexpected slots: %+v %+v", host.Welcome(), guest.Welcome())
	}
	if authority, _ := hub.Authority(); authority != host.Welcome().Actor {
		t.Fatalf("expected host authority, got %d", authority)
	}

	var rosters []proto.Roster
	eventually(t, "roster with both peers", func() bool {
		envs, _ := guest.Drain()
		for _, env := range envs {
			if r, ok := env.Message.(proto.Roster); ok {
				rosters = append(rosters, r)
			}
		}
		return len(rosters) > 0 && len(rosters[len(rosters)-1].Peers) == 2
	})

	err := guest.Deliver(context.Background(), proto.Envelope{
		From: 99,
		To:   proto.Route{Kind: proto.RouteAuthority},
		Message: proto.ApplyDamage{
			Target:   session.AvatarID(host.Welcome().Actor),
			Amount:   25,
			Attacker: guest.Welcome().Actor,
		},
	})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	var got *proto.Envelope
	eventually(t, "damage request at authority", func() bool {
		envs, _ := host.Drain()
		for i := range envs {
			if _, ok := envs[i].Message.(proto.ApplyDamage); ok {
				got = &envs[i]
			}
		}
		return got != nil
	})
	if got.From != guest.Welcome().Actor {
		t.Fatalf("relay did not restamp sender: %d", got.From)
	}

	state, err := proto.EncodeSelfState(proto.SelfState{Actor: host.Welcome().Actor, Avatar: session.AvatarID(host.Welcome().Actor), Health: 100, MaxHealth: 100})
	if err != nil {
		t.Fatalf("encode self state: %v", err)
	}
	host.PublishState(state)
	eventually(t, "self state at guest", func() bool {
		return len(guest.DrainStates()) == 1
	})
}

func TestThirdPeerIsRefused(t *testing.T) {
	_, relayURL := newRelayServer(t)
	dial(t, relayURL, "host")
	dial(t, relayURL, "guest")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Dial(ctx, relayURL, ClientConfig{Nickname: "late"}); err == nil {
		t.Fatalf("expected third peer to be refused")
	}
}

func TestDisconnectPromotesRemainingPeer(t *testing.T) {
	hub, relayURL := newRelayServer(t)
	host := dial(t, relayURL, "host")
	guest := dial(t, relayURL, "guest")

	host.Close()
	eventually(t, "authority handoff", func() bool {
		authority, _ := hub.Authority()
		return authority == guest.Welcome().Actor
	})
	eventually(t, "roster naming guest authority", func() bool {
		envs, _ := guest.Drain()
		for _, env := range envs {
			if r, ok := env.Message.(proto.Roster); ok && r.Authority == guest.Welcome().Actor && len(r.Peers) == 1 {
				return true
			}
		}
		return false
	})
}
