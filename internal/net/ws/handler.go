package ws

import (
	"context"
	"errors"
	nethttp "net/http"
	"time"

	"github.com/gorilla/websocket"

	"arena-duel/server"
	"arena-duel/server/internal/session"
	"arena-duel/server/internal/telemetry"
)

type HandlerConfig struct {
	Logger telemetry.Logger
	// WriteTimeout bounds every relayed write.
	WriteTimeout time.Duration
	// MaxFrameBytes caps inbound frames.
	MaxFrameBytes int64
}

// Handler upgrades relay connections and pumps their frames into the hub.
type Handler struct {
	hub      *server.Hub
	logger   telemetry.Logger
	upgrader websocket.Upgrader
	cfg      HandlerConfig
}

func NewHandler(hub *server.Hub, cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.LoggerFunc(nil)
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = 64 << 10
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		hub:      hub,
		logger:   cfg.Logger,
		upgrader: upgrader,
		cfg:      cfg,
	}
}

func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	nickname := r.URL.Query().Get("nick")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %q: %v", nickname, err)
		return
	}
	conn.SetReadLimit(h.cfg.MaxFrameBytes)

	ctx := context.Background()
	peer := newPeerConn(conn, h.cfg.WriteTimeout)
	welcome, err := h.hub.Admit(ctx, nickname, peer)
	if err != nil {
		reason := "admission failed"
		if errors.Is(err, server.ErrRelayFull) {
			reason = "match full"
		}
		peer.closeWith(websocket.ClosePolicyViolation, reason)
		return
	}

	h.serve(ctx, welcome.Actor, conn)
}

func (h *Handler) serve(ctx context.Context, actor session.ActorNumber, conn *websocket.Conn) {
	hubCfg := h.hub.Config()
	conn.SetPongHandler(func(string) error {
		h.hub.Touch(actor)
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go h.ping(conn, hubCfg.HeartbeatInterval, done)

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			reason := "closed"
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = "read_failed"
			}
			h.hub.Remove(ctx, actor, reason)
			return
		}
		h.hub.HandleFrame(ctx, actor, messageType, payload)
	}
}

func (h *Handler) ping(conn *websocket.Conn, interval time.Duration, done <-chan struct{}) {
	ticker := h.hub.Config().Clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.Chan():
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}
