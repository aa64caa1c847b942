package network

import (
	"context"

	"arena-duel/server/logging"
)

const (
	// EventPeerJoined is emitted when the relay admits a peer.
	EventPeerJoined logging.EventType = "network.peer_joined"
	// EventPeerLeft is emitted when a peer disconnects or times out.
	EventPeerLeft logging.EventType = "network.peer_left"
	// EventAuthorityChanged is emitted when the Authority role moves.
	EventAuthorityChanged logging.EventType = "network.authority_changed"
	// EventMessageDropped is emitted when the relay refuses to route a frame.
	EventMessageDropped logging.EventType = "network.message_dropped"
)

// PeerPayload describes a membership change.
type PeerPayload struct {
	Nickname string `json:"nickname,omitempty"`
	Slot     int    `json:"slot"`
	Reason   string `json:"reason,omitempty"`
}

// AuthorityPayload records the previous and next Authority.
type AuthorityPayload struct {
	Previous int `json:"previous"`
	Next     int `json:"next"`
}

// DropPayload explains a refused frame.
type DropPayload struct {
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason"`
}

func PeerJoined(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PeerPayload, extra map[string]any) {
	publish(ctx, pub, EventPeerJoined, logging.SeverityInfo, tick, actor, payload, extra)
}

func PeerLeft(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PeerPayload, extra map[string]any) {
	publish(ctx, pub, EventPeerLeft, logging.SeverityInfo, tick, actor, payload, extra)
}

func AuthorityChanged(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload AuthorityPayload, extra map[string]any) {
	publish(ctx, pub, EventAuthorityChanged, logging.SeverityWarn, tick, actor, payload, extra)
}

// MessageDropped publishes a warning when a frame is refused.
func MessageDropped(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload DropPayload, extra map[string]any) {
	publish(ctx, pub, EventMessageDropped, logging.SeverityWarn, tick, actor, payload, extra)
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, severity logging.Severity, tick uint64, actor logging.EntityRef, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Tick:     tick,
		Actor:    actor,
		Severity: severity,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}
