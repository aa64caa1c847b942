// Package server is the relay that connects the peers of one duel. It owns no
// match state: it assigns actor numbers and slots, elects the Authority by
// join order, and routes envelopes and self-state frames between peers.
package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"arena-duel/server/internal/net/proto"
	"arena-duel/server/internal/session"
	"arena-duel/server/internal/telemetry"
	"arena-duel/server/logging"
	loggingnetwork "arena-duel/server/logging/network"
)

// ErrRelayFull is returned by Admit once every slot is taken.
var ErrRelayFull = errors.New("relay: match is full")

// Drop reasons reported on network.message_dropped.
const (
	DropRateLimited  = "rate_limited"
	DropMalformed    = "malformed"
	DropReservedKind = "reserved_kind"
	DropUnknownPeer  = "unknown_peer"
	DropNoAuthority  = "no_authority"
	DropForged       = "forged_sender"
)

const (
	metricFramesRouted  = "relay_frames_routed_total"
	metricFramesDropped = "relay_frames_dropped_total"
	metricStatesRelayed = "relay_self_states_total"
	metricPeers         = "relay_peers"
)

// Conn is the write side of a peer connection. *websocket.Conn satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// HubConfig tunes the relay.
type HubConfig struct {
	MaxPeers          int
	HeartbeatInterval time.Duration
	DisconnectAfter   time.Duration
	PeerRate          float64
	PeerBurst         int

	Clock     clockwork.Clock
	Logger    telemetry.Logger
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
}

// DefaultHubConfig returns the relay defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		MaxPeers:          2,
		HeartbeatInterval: 2 * time.Second,
		DisconnectAfter:   6 * time.Second,
		PeerRate:          120,
		PeerBurst:         240,
	}
}

type relayPeer struct {
	actor    session.ActorNumber
	nickname string
	slot     int
	conn     Conn
	limiter  *rate.Limiter
	lastSeen time.Time

	writeMu sync.Mutex
}

func (p *relayPeer) write(messageType int, data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(messageType, data)
}

// Hub tracks connected peers. All methods are safe for concurrent use.
type Hub struct {
	cfg HubConfig

	mu        sync.Mutex
	peers     map[session.ActorNumber]*relayPeer
	order     []session.ActorNumber
	nextActor session.ActorNumber
	seq       uint64
	matchID   string

	scheduler gocron.Scheduler
}

// NewHub constructs a relay.
func NewHub(cfg HubConfig) *Hub {
	def := DefaultHubConfig()
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = def.MaxPeers
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.DisconnectAfter <= 0 {
		cfg.DisconnectAfter = def.DisconnectAfter
	}
	if cfg.PeerRate <= 0 {
		cfg.PeerRate = def.PeerRate
	}
	if cfg.PeerBurst <= 0 {
		cfg.PeerBurst = def.PeerBurst
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.LoggerFunc(nil)
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NewCounters()
	}
	return &Hub{cfg: cfg, peers: make(map[session.ActorNumber]*relayPeer)}
}

// Config returns the effective relay configuration.
func (h *Hub) Config() HubConfig { return h.cfg }

// Start schedules the heartbeat sweep.
func (h *Hub) Start() error {
	scheduler, err := gocron.NewScheduler(gocron.WithClock(h.cfg.Clock))
	if err != nil {
		return fmt.Errorf("relay scheduler: %w", err)
	}
	if _, err := scheduler.NewJob(
		gocron.DurationJob(h.cfg.HeartbeatInterval),
		gocron.NewTask(func() { h.Sweep(context.Background()) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("relay heartbeat job: %w", err)
	}
	scheduler.Start()
	h.scheduler = scheduler
	return nil
}

// Stop halts the sweep and closes every connection.
func (h *Hub) Stop() error {
	var err error
	if h.scheduler != nil {
		err = h.scheduler.Shutdown()
	}
	h.mu.Lock()
	peers := make([]*relayPeer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.peers = make(map[session.ActorNumber]*relayPeer)
	h.order = nil
	h.mu.Unlock()
	for _, p := range peers {
		p.conn.Close()
	}
	return err
}

// Admit registers a connection, sends it Welcome and broadcasts the new
// roster.
func (h *Hub) Admit(ctx context.Context, nickname string, conn Conn) (proto.Welcome, error) {
	h.mu.Lock()
	if len(h.peers) >= h.cfg.MaxPeers {
		h.mu.Unlock()
		return proto.Welcome{}, ErrRelayFull
	}
	if len(h.peers) == 0 {
		h.matchID = uuid.NewString()
	}
	h.nextActor++
	p := &relayPeer{
		actor:    h.nextActor,
		nickname: nickname,
		slot:     h.freeSlotLocked(),
		conn:     conn,
		limiter:  rate.NewLimiter(rate.Limit(h.cfg.PeerRate), h.cfg.PeerBurst),
		lastSeen: h.cfg.Clock.Now(),
	}
	welcome := proto.Welcome{Actor: p.actor, Slot: p.slot, Version: proto.Version, MatchID: h.matchID}
	data, err := h.encodeLocked(welcome, proto.Route{Kind: proto.RouteSpecific, Peer: p.actor})
	if err != nil {
		h.mu.Unlock()
		return proto.Welcome{}, err
	}
	// Welcome must be the first frame on the connection. Holding the write
	// lock across publication makes any concurrent relay wait for it.
	p.writeMu.Lock()
	h.peers[p.actor] = p
	h.order = append(h.order, p.actor)
	h.cfg.Metrics.Store(metricPeers, uint64(len(h.peers)))
	h.mu.Unlock()
	werr := p.conn.WriteMessage(websocket.TextMessage, data)
	p.writeMu.Unlock()
	if werr != nil {
		h.Remove(ctx, p.actor, "write_failed")
		return proto.Welcome{}, fmt.Errorf("send welcome: %w", werr)
	}

	loggingnetwork.PeerJoined(ctx, h.cfg.Publisher, 0, peerRef(p.actor), loggingnetwork.PeerPayload{Nickname: nickname, Slot: p.slot}, nil)
	h.broadcastRoster(ctx)
	return welcome, nil
}

func (h *Hub) freeSlotLocked() int {
	used := make(map[int]bool, len(h.peers))
	for _, p := range h.peers {
		used[p.slot] = true
	}
	slot := 0
	for used[slot] {
		slot++
	}
	return slot
}

// Remove disconnects a peer. The Authority role passes to the earliest
// remaining peer.
func (h *Hub) Remove(ctx context.Context, actor session.ActorNumber, reason string) {
	h.mu.Lock()
	p, ok := h.peers[actor]
	if !ok {
		h.mu.Unlock()
		return
	}
	previous := h.authorityLocked()
	delete(h.peers, actor)
	for i, a := range h.order {
		if a == actor {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	next := h.authorityLocked()
	h.cfg.Metrics.Store(metricPeers, uint64(len(h.peers)))
	h.mu.Unlock()

	p.conn.Close()
	loggingnetwork.PeerLeft(ctx, h.cfg.Publisher, 0, peerRef(actor), loggingnetwork.PeerPayload{Nickname: p.nickname, Slot: p.slot, Reason: reason}, nil)
	if previous != next {
		loggingnetwork.AuthorityChanged(ctx, h.cfg.Publisher, 0, peerRef(next), loggingnetwork.AuthorityPayload{Previous: int(previous), Next: int(next)}, nil)
	}
	h.broadcastRoster(ctx)
}

func (h *Hub) authorityLocked() session.ActorNumber {
	if len(h.order) == 0 {
		return 0
	}
	return h.order[0]
}

// MatchID identifies the match the connected peers are playing. A new id is
// drawn when the first peer joins an empty relay.
func (h *Hub) MatchID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.matchID
}

// Authority returns the current Authority.
func (h *Hub) Authority() (session.ActorNumber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	a := h.authorityLocked()
	return a, a != 0
}

// Touch records liveness for a peer, typically on pong.
func (h *Hub) Touch(actor session.ActorNumber) {
	h.mu.Lock()
	if p, ok := h.peers[actor]; ok {
		p.lastSeen = h.cfg.Clock.Now()
	}
	h.mu.Unlock()
}

// Sweep disconnects peers that have been silent for DisconnectAfter.
func (h *Hub) Sweep(ctx context.Context) {
	now := h.cfg.Clock.Now()
	h.mu.Lock()
	var stale []session.ActorNumber
	for _, actor := range h.order {
		if now.Sub(h.peers[actor].lastSeen) > h.cfg.DisconnectAfter {
			stale = append(stale, actor)
		}
	}
	h.mu.Unlock()
	for _, actor := range stale {
		h.cfg.Logger.Printf("relay: disconnecting %d due to heartbeat timeout", actor)
		h.Remove(ctx, actor, "heartbeat_timeout")
	}
}

// HandleFrame routes one inbound frame from actor. Binary frames are
// self-state publications forwarded to every other peer and must name the
// sending actor; text frames are envelopes routed by their target with the
// sender restamped. Either way a peer cannot speak for another.
func (h *Hub) HandleFrame(ctx context.Context, actor session.ActorNumber, messageType int, data []byte) {
	h.mu.Lock()
	p, ok := h.peers[actor]
	if !ok {
		h.mu.Unlock()
		return
	}
	now := h.cfg.Clock.Now()
	p.lastSeen = now
	allowed := p.limiter.AllowN(now, 1)
	h.mu.Unlock()

	if !allowed {
		h.drop(ctx, actor, "", DropRateLimited)
		return
	}

	if messageType == websocket.BinaryMessage {
		h.relayState(ctx, actor, data)
		return
	}

	env, err := proto.Decode(data)
	if err != nil {
		h.cfg.Logger.Printf("relay: discarding frame from %d: %v", actor, err)
		h.drop(ctx, actor, "", DropMalformed)
		return
	}
	kind := env.Message.Kind()
	if kind == proto.KindWelcome || kind == proto.KindRoster {
		h.drop(ctx, actor, kind.String(), DropReservedKind)
		return
	}
	env.From = actor
	h.route(ctx, env)
}

func (h *Hub) route(ctx context.Context, env proto.Envelope) {
	kind := env.Message.Kind().String()
	h.mu.Lock()
	var targets []*relayPeer
	switch env.To.Kind {
	case proto.RouteAll:
		for _, a := range h.order {
			targets = append(targets, h.peers[a])
		}
	case proto.RouteAuthority:
		if a := h.authorityLocked(); a != 0 {
			targets = append(targets, h.peers[a])
		}
	case proto.RouteSpecific:
		if p, ok := h.peers[env.To.Peer]; ok {
			targets = append(targets, p)
		}
	}
	var data []byte
	var err error
	if len(targets) > 0 {
		h.seq++
		env.Seq = h.seq
		data, err = proto.Encode(env)
	}
	h.mu.Unlock()

	switch {
	case len(targets) == 0 && env.To.Kind == proto.RouteAuthority:
		h.drop(ctx, env.From, kind, DropNoAuthority)
		return
	case len(targets) == 0:
		h.drop(ctx, env.From, kind, DropUnknownPeer)
		return
	case err != nil:
		h.cfg.Logger.Printf("relay: re-encode %s from %d: %v", kind, env.From, err)
		h.drop(ctx, env.From, kind, DropMalformed)
		return
	}
	h.cfg.Metrics.Add(metricFramesRouted, 1)
	h.writeAll(ctx, targets, websocket.TextMessage, data)
}

func (h *Hub) relayState(ctx context.Context, from session.ActorNumber, data []byte) {
	state, err := proto.DecodeSelfState(data)
	if err != nil {
		h.drop(ctx, from, "self_state", DropMalformed)
		return
	}
	if state.Actor != from {
		h.drop(ctx, from, "self_state", DropForged)
		return
	}
	h.mu.Lock()
	targets := make([]*relayPeer, 0, len(h.peers))
	for _, a := range h.order {
		if a != from {
			targets = append(targets, h.peers[a])
		}
	}
	h.mu.Unlock()
	h.cfg.Metrics.Add(metricStatesRelayed, 1)
	h.writeAll(ctx, targets, websocket.BinaryMessage, data)
}

func (h *Hub) writeAll(ctx context.Context, targets []*relayPeer, messageType int, data []byte) {
	var failed []session.ActorNumber
	for _, p := range targets {
		if err := p.write(messageType, data); err != nil {
			h.cfg.Logger.Printf("relay: write to %d: %v", p.actor, err)
			failed = append(failed, p.actor)
		}
	}
	for _, actor := range failed {
		h.Remove(ctx, actor, "write_failed")
	}
}

func (h *Hub) drop(ctx context.Context, actor session.ActorNumber, kind, reason string) {
	h.cfg.Metrics.Add(metricFramesDropped, 1)
	loggingnetwork.MessageDropped(ctx, h.cfg.Publisher, 0, peerRef(actor), loggingnetwork.DropPayload{Kind: kind, Reason: reason}, nil)
}

func (h *Hub) encodeLocked(msg proto.Message, to proto.Route) ([]byte, error) {
	h.seq++
	return proto.Encode(proto.Envelope{To: to, Seq: h.seq, Message: msg})
}

func (h *Hub) broadcastRoster(ctx context.Context) {
	h.mu.Lock()
	roster := proto.Roster{Authority: h.authorityLocked()}
	targets := make([]*relayPeer, 0, len(h.order))
	for _, a := range h.order {
		p := h.peers[a]
		roster.Peers = append(roster.Peers, proto.PeerInfo{Actor: p.actor, Nickname: p.nickname, Slot: p.slot})
		targets = append(targets, p)
	}
	data, err := h.encodeLocked(roster, proto.Route{Kind: proto.RouteAll})
	h.mu.Unlock()
	if err != nil {
		h.cfg.Logger.Printf("relay: encode roster: %v", err)
		return
	}
	h.writeAll(ctx, targets, websocket.TextMessage, data)
}

// PeerDiagnostics describes one connected peer.
type PeerDiagnostics struct {
	Actor     session.ActorNumber `json:"actor"`
	Nickname  string              `json:"nickname,omitempty"`
	Slot      int                 `json:"slot"`
	Authority bool                `json:"authority"`
	LastSeen  int64               `json:"lastSeen"`
}

// DiagnosticsSnapshot lists connected peers in join order.
func (h *Hub) DiagnosticsSnapshot() []PeerDiagnostics {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]PeerDiagnostics, 0, len(h.order))
	authority := h.authorityLocked()
	for _, a := range h.order {
		p := h.peers[a]
		out = append(out, PeerDiagnostics{
			Actor:     p.actor,
			Nickname:  p.nickname,
			Slot:      p.slot,
			Authority: p.actor == authority,
			LastSeen:  p.lastSeen.UnixMilli(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Authority && !out[j].Authority })
	return out
}

// Metrics exposes the relay counters when they are the built-in Counters.
func (h *Hub) Metrics() telemetry.Metrics { return h.cfg.Metrics }

func peerRef(actor session.ActorNumber) logging.EntityRef {
	return logging.PeerRef(fmt.Sprintf("%d", actor))
}
