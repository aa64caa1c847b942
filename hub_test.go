package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"arena-duel/server/internal/net/proto"
	"arena-duel/server/internal/session"
	"arena-duel/server/internal/telemetry"
	"arena-duel/server/logging"
	loggingnetwork "arena-duel/server/logging/network"
	"arena-duel/server/logging/sinks"
)

type frame struct {
	messageType int
	data        []byte
}

type fakeConn struct {
	mu      sync.Mutex
	frames  []frame
	closed  bool
	failing bool
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errors.New("broken pipe")
	}
	c.frames = append(c.frames, frame{messageType: messageType, data: append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) envelopes(t *testing.T) []proto.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []proto.Envelope
	for _, f := range c.frames {
		if f.messageType != websocket.TextMessage {
			continue
		}
		env, err := proto.Decode(f.data)
		if err != nil {
			t.Fatalf("decode relayed frame: %v", err)
		}
		out = append(out, env)
	}
	return out
}

func (c *fakeConn) binary() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out [][]byte
	for _, f := range c.frames {
		if f.messageType == websocket.BinaryMessage {
			out = append(out, f.data)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

type relayFixture struct {
	hub    *Hub
	clock  *clockwork.FakeClock
	events *sinks.Memory
	conns  []*fakeConn
}

func newRelay(t *testing.T, cfg HubConfig) *relayFixture {
	t.Helper()
	f := &relayFixture{clock: clockwork.NewFakeClock(), events: sinks.NewMemory()}
	cfg.Clock = f.clock
	cfg.Publisher = f.events
	f.hub = NewHub(cfg)
	return f
}

func (f *relayFixture) admit(t *testing.T, nick string) (proto.Welcome, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	welcome, err := f.hub.Admit(context.Background(), nick, conn)
	if err != nil {
		t.Fatalf("admit %s: %v", nick, err)
	}
	f.conns = append(f.conns, conn)
	return welcome, conn
}

func mustEncode(t *testing.T, env proto.Envelope) []byte {
	t.Helper()
	data, err := proto.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func selfState(t *testing.T, actor session.ActorNumber, tick uint64) []byte {
	t.Helper()
	data, err := proto.EncodeSelfState(proto.SelfState{Actor: actor, Avatar: session.AvatarID(actor), Health: 100, MaxHealth: 100, Tick: tick})
	if err != nil {
		t.Fatalf("encode self state: %v", err)
	}
	return data
}

func TestAdmitAssignsSlotsAndAuthority(t *testing.T) {
	f := newRelay(t, HubConfig{})
	hostWelcome, hostConn := f.admit(t, "host")
	guestWelcome, _ := f.admit(t, "guest")

	if hostWelcome.Slot != 0 || guestWelcome.Slot != 1 {
		t.Fatalf("unexpected slots: %d, %d", hostWelcome.Slot, guestWelcome.Slot)
	}
	if hostWelcome.Version != proto.Version {
		t.Fatalf("welcome carries version %d", hostWelcome.Version)
	}
	if hostWelcome.MatchID == "" || guestWelcome.MatchID != hostWelcome.MatchID || f.hub.MatchID() != hostWelcome.MatchID {
		t.Fatalf("peers of one match got different ids: %q, %q", hostWelcome.MatchID, guestWelcome.MatchID)
	}
	if authority, _ := f.hub.Authority(); authority != hostWelcome.Actor {
		t.Fatalf("expected first peer to be authority, got %d", authority)
	}

	envs := hostConn.envelopes(t)
	if len(envs) != 3 {
		t.Fatalf("expected welcome and two rosters, got %d frames", len(envs))
	}
	if _, ok := envs[0].Message.(proto.Welcome); !ok {
		t.Fatalf("first frame is %s, not welcome", envs[0].Message.Kind())
	}
	roster, ok := envs[2].Message.(proto.Roster)
	if !ok || len(roster.Peers) != 2 || roster.Authority != hostWelcome.Actor {
		t.Fatalf("unexpected roster: %+v", envs[2].Message)
	}

	if _, err := f.hub.Admit(context.Background(), "third", &fakeConn{}); !errors.Is(err, ErrRelayFull) {
		t.Fatalf("expected ErrRelayFull, got %v", err)
	}
	if n := len(f.events.OfType(loggingnetwork.EventPeerJoined)); n != 2 {
		t.Fatalf("expected two join events, got %d", n)
	}
}

func TestMatchIDSurvivesHandoverAndRenewsWhenEmpty(t *testing.T) {
	f := newRelay(t, HubConfig{})
	ctx := context.Background()
	host, _ := f.admit(t, "host")
	guest, _ := f.admit(t, "guest")

	f.hub.Remove(ctx, host.Actor, "closed")
	if got := f.hub.MatchID(); got != guest.MatchID {
		t.Fatalf("authority handover changed the match id: %q -> %q", guest.MatchID, got)
	}
	rejoin, _ := f.admit(t, "host-again")
	if rejoin.MatchID != guest.MatchID {
		t.Fatalf("rejoining peer got a different match id")
	}

	f.hub.Remove(ctx, guest.Actor, "closed")
	f.hub.Remove(ctx, rejoin.Actor, "closed")
	next, _ := f.admit(t, "next")
	if next.MatchID == guest.MatchID {
		t.Fatalf("an empty relay must start a new match")
	}
}

func TestWelcomePrecedesRelayedTraffic(t *testing.T) {
	var hub *Hub
	var host proto.Welcome
	joined := 0
	hub = NewHub(HubConfig{
		Clock: clockwork.NewFakeClock(),
		Publisher: logging.PublisherFunc(func(ctx context.Context, event logging.Event) {
			if event.Type != loggingnetwork.EventPeerJoined {
				return
			}
			joined++
			if joined == 2 {
				hub.HandleFrame(ctx, host.Actor, websocket.BinaryMessage, selfState(t, host.Actor, 1))
			}
		}),
	})
	ctx := context.Background()
	var err error
	if host, err = hub.Admit(ctx, "host", &fakeConn{}); err != nil {
		t.Fatalf("admit host: %v", err)
	}
	guestConn := &fakeConn{}
	if _, err := hub.Admit(ctx, "guest", guestConn); err != nil {
		t.Fatalf("admit guest: %v", err)
	}

	guestConn.mu.Lock()
	first := guestConn.frames[0]
	guestConn.mu.Unlock()
	if first.messageType != websocket.TextMessage {
		t.Fatalf("first frame to a new peer has type %d", first.messageType)
	}
	env, err := proto.Decode(first.data)
	if err != nil {
		t.Fatalf("decode first frame: %v", err)
	}
	if _, ok := env.Message.(proto.Welcome); !ok {
		t.Fatalf("first frame is %s, not welcome", env.Message.Kind())
	}
	if n := len(guestConn.binary()); n != 1 {
		t.Fatalf("expected the host's self state after welcome, got %d", n)
	}
}

func TestConcurrentRelayDuringAdmitKeepsWelcomeFirst(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newRelay(t, HubConfig{PeerRate: 1e6, PeerBurst: 1e6})
		host, _ := f.admit(t, "host")
		frame := selfState(t, host.Actor, 1)
		ctx := context.Background()

		stop := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-stop:
					return
				default:
					f.hub.HandleFrame(ctx, host.Actor, websocket.BinaryMessage, frame)
				}
			}
		}()
		_, guestConn := f.admit(t, "guest")
		close(stop)
		<-done

		guestConn.mu.Lock()
		first := guestConn.frames[0].messageType
		guestConn.mu.Unlock()
		if first != websocket.TextMessage {
			t.Fatalf("run %d: first frame has type %d", i, first)
		}
	}
}

func TestRemoveHandsAuthorityToNextPeerAndFreesSlot(t *testing.T) {
	f := newRelay(t, HubConfig{})
	host, hostConn := f.admit(t, "host")
	guest, guestConn := f.admit(t, "guest")
	guestConn.reset()

	f.hub.Remove(context.Background(), host.Actor, "closed")

	if !hostConn.closed {
		t.Fatalf("removed connection left open")
	}
	if authority, _ := f.hub.Authority(); authority != guest.Actor {
		t.Fatalf("authority did not move to guest: %d", authority)
	}
	envs := guestConn.envelopes(t)
	if len(envs) != 1 {
		t.Fatalf("expected one roster broadcast, got %d", len(envs))
	}
	if roster := envs[0].Message.(proto.Roster); roster.Authority != guest.Actor || len(roster.Peers) != 1 {
		t.Fatalf("unexpected roster after departure: %+v", roster)
	}
	changes := f.events.OfType(loggingnetwork.EventAuthorityChanged)
	if len(changes) != 1 {
		t.Fatalf("expected one authority change event, got %d", len(changes))
	}
	if payload := changes[0].Payload.(loggingnetwork.AuthorityPayload); payload.Previous != int(host.Actor) || payload.Next != int(guest.Actor) {
		t.Fatalf("unexpected authority payload: %+v", payload)
	}

	rejoin, _ := f.admit(t, "rejoin")
	if rejoin.Slot != 0 {
		t.Fatalf("expected freed slot 0, got %d", rejoin.Slot)
	}
	if rejoin.Actor == host.Actor {
		t.Fatalf("actor numbers must not be reused")
	}
}

func TestHandleFrameRoutesByTarget(t *testing.T) {
	f := newRelay(t, HubConfig{})
	host, hostConn := f.admit(t, "host")
	guest, guestConn := f.admit(t, "guest")
	ctx := context.Background()

	t.Run("authority", func(t *testing.T) {
		hostConn.reset()
		guestConn.reset()
		data := mustEncode(t, proto.Envelope{
			From:    host.Actor,
			To:      proto.Route{Kind: proto.RouteAuthority},
			Message: proto.ApplyDamage{Target: session.AvatarID(host.Actor), Amount: 25, Attacker: guest.Actor},
		})
		f.hub.HandleFrame(ctx, guest.Actor, websocket.TextMessage, data)

		envs := hostConn.envelopes(t)
		if len(envs) != 1 {
			t.Fatalf("authority received %d frames", len(envs))
		}
		if envs[0].From != guest.Actor {
			t.Fatalf("relay must stamp the real sender, got %d", envs[0].From)
		}
		if len(guestConn.envelopes(t)) != 0 {
			t.Fatalf("sender should not receive its authority-bound frame")
		}
	})

	t.Run("all includes sender", func(t *testing.T) {
		hostConn.reset()
		guestConn.reset()
		data := mustEncode(t, proto.Envelope{To: proto.Route{Kind: proto.RouteAll}, Message: proto.SetTimeScale{Scale: 0.2}})
		f.hub.HandleFrame(ctx, host.Actor, websocket.TextMessage, data)
		if len(hostConn.envelopes(t)) != 1 || len(guestConn.envelopes(t)) != 1 {
			t.Fatalf("broadcast did not reach both peers")
		}
	})

	t.Run("specific", func(t *testing.T) {
		hostConn.reset()
		guestConn.reset()
		data := mustEncode(t, proto.Envelope{
			To:      proto.Route{Kind: proto.RouteSpecific, Peer: guest.Actor},
			Message: proto.ShowDamageEffect{Amount: 25},
		})
		f.hub.HandleFrame(ctx, host.Actor, websocket.TextMessage, data)
		if len(hostConn.envelopes(t)) != 0 || len(guestConn.envelopes(t)) != 1 {
			t.Fatalf("specific frame misrouted")
		}
	})

	t.Run("self state skips sender", func(t *testing.T) {
		hostConn.reset()
		guestConn.reset()
		f.hub.HandleFrame(ctx, host.Actor, websocket.BinaryMessage, selfState(t, host.Actor, 1))
		if len(hostConn.binary()) != 0 || len(guestConn.binary()) != 1 {
			t.Fatalf("self state misrouted")
		}
	})

	t.Run("self state for another actor", func(t *testing.T) {
		hostConn.reset()
		f.hub.HandleFrame(ctx, guest.Actor, websocket.BinaryMessage, selfState(t, host.Actor, 2))
		f.hub.HandleFrame(ctx, guest.Actor, websocket.BinaryMessage, []byte{0x99})
		if len(hostConn.binary()) != 0 {
			t.Fatalf("relayed a self state the sender does not own")
		}
	})

	t.Run("reserved kinds are refused", func(t *testing.T) {
		hostConn.reset()
		data := mustEncode(t, proto.Envelope{To: proto.Route{Kind: proto.RouteAll}, Message: proto.Roster{Authority: guest.Actor}})
		f.hub.HandleFrame(ctx, guest.Actor, websocket.TextMessage, data)
		if len(hostConn.envelopes(t)) != 0 {
			t.Fatalf("peer forged a roster")
		}
	})

	t.Run("malformed", func(t *testing.T) {
		guestConn.reset()
		f.hub.HandleFrame(ctx, host.Actor, websocket.TextMessage, []byte("{not json"))
		if len(guestConn.envelopes(t)) != 0 {
			t.Fatalf("malformed frame relayed")
		}
	})

	drops := f.events.OfType(loggingnetwork.EventMessageDropped)
	want := []string{DropForged, DropMalformed, DropReservedKind, DropMalformed}
	if len(drops) != len(want) {
		t.Fatalf("expected %d dropped frames, got %d", len(want), len(drops))
	}
	for i, reason := range want {
		if got := drops[i].Payload.(loggingnetwork.DropPayload).Reason; got != reason {
			t.Fatalf("drop %d: expected %q, got %q", i, reason, got)
		}
	}
}

func TestHandleFrameRateLimitsPeer(t *testing.T) {
	f := newRelay(t, HubConfig{PeerRate: 1, PeerBurst: 2})
	host, _ := f.admit(t, "host")
	_, guestConn := f.admit(t, "guest")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.hub.HandleFrame(ctx, host.Actor, websocket.BinaryMessage, selfState(t, host.Actor, uint64(i)))
	}
	if n := len(guestConn.binary()); n != 2 {
		t.Fatalf("expected burst of two frames, got %d", n)
	}

	f.clock.Advance(time.Second)
	f.hub.HandleFrame(ctx, host.Actor, websocket.BinaryMessage, selfState(t, host.Actor, 9))
	if n := len(guestConn.binary()); n != 3 {
		t.Fatalf("limiter did not refill, got %d frames", n)
	}
	drops := f.events.OfType(loggingnetwork.EventMessageDropped)
	if len(drops) != 1 || drops[0].Payload.(loggingnetwork.DropPayload).Reason != DropRateLimited {
		t.Fatalf("expected one rate-limited drop, got %+v", drops)
	}
}

func TestSweepDisconnectsSilentPeers(t *testing.T) {
	metrics := telemetry.NewCounters()
	f := newRelay(t, HubConfig{DisconnectAfter: 3 * time.Second, Metrics: metrics})
	host, hostConn := f.admit(t, "host")
	guest, _ := f.admit(t, "guest")
	ctx := context.Background()

	f.clock.Advance(2 * time.Second)
	f.hub.Touch(guest.Actor)
	f.clock.Advance(2 * time.Second)
	f.hub.Sweep(ctx)

	if !hostConn.closed {
		t.Fatalf("silent host was not disconnected")
	}
	if authority, _ := f.hub.Authority(); authority != guest.Actor {
		t.Fatalf("expected guest to take authority, got %d", authority)
	}
	left := f.events.OfType(loggingnetwork.EventPeerLeft)
	if len(left) != 1 || left[0].Payload.(loggingnetwork.PeerPayload).Reason != "heartbeat_timeout" {
		t.Fatalf("unexpected leave events: %+v", left)
	}
	if got := metrics.Snapshot()[metricPeers]; got != 1 {
		t.Fatalf("expected peer gauge 1, got %d", got)
	}
	snapshot := f.hub.DiagnosticsSnapshot()
	if len(snapshot) != 1 || snapshot[0].Actor != guest.Actor || !snapshot[0].Authority {
		t.Fatalf("unexpected diagnostics: %+v", snapshot)
	}
	_ = host
}

func TestWriteFailureRemovesPeer(t *testing.T) {
	f := newRelay(t, HubConfig{})
	host, _ := f.admit(t, "host")
	guest, guestConn := f.admit(t, "guest")
	guestConn.failing = true

	f.hub.HandleFrame(context.Background(), host.Actor, websocket.BinaryMessage, selfState(t, host.Actor, 1))

	if len(f.hub.DiagnosticsSnapshot()) != 1 {
		t.Fatalf("broken peer %d still connected", guest.Actor)
	}
}

func TestStartAndStopScheduler(t *testing.T) {
	f := newRelay(t, HubConfig{HeartbeatInterval: time.Second})
	_, conn := f.admit(t, "host")
	if err := f.hub.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.hub.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !conn.closed {
		t.Fatalf("stop left connection open")
	}
}
