package match

import (
	"context"

	"arena-duel/server/logging"
)

const (
	// EventScore is emitted after the Authority changes a score entry.
	EventScore logging.EventType = "match.score"
	// EventTimeScale is emitted whenever the global time scale changes.
	EventTimeScale logging.EventType = "match.time_scale"
	// EventRespawn is emitted when a respawn round begins.
	EventRespawn logging.EventType = "match.respawn"
	// EventEnded is emitted once per match when a winner is decided.
	EventEnded logging.EventType = "match.ended"
)

// ScorePayload captures one score change.
type ScorePayload struct {
	Score  int  `json:"score"`
	Scored bool `json:"scored"`
}

// TimeScalePayload records the new scale.
type TimeScalePayload struct {
	Scale float64 `json:"scale"`
}

// RespawnPayload records the round number.
type RespawnPayload struct {
	Round int `json:"round"`
}

// EndedPayload records the final table.
type EndedPayload struct {
	Winner string         `json:"winner"`
	Scores map[string]int `json:"scores,omitempty"`
}

// Score publishes a score change for the credited peer.
func Score(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, victim logging.EntityRef, payload ScorePayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventScore,
		Tick:     tick,
		Actor:    actor,
		Targets:  []logging.EntityRef{victim},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryMatch,
		Payload:  payload,
		Extra:    extra,
	})
}

// TimeScale publishes a debug event when the time scale changes.
func TimeScale(ctx context.Context, pub logging.Publisher, tick uint64, payload TimeScalePayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTimeScale,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryMatch,
		Payload:  payload,
		Extra:    extra,
	})
}

// Respawn publishes the start of a new round.
func Respawn(ctx context.Context, pub logging.Publisher, tick uint64, payload RespawnPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventRespawn,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryMatch,
		Payload:  payload,
		Extra:    extra,
	})
}

// Ended publishes the end of the match.
func Ended(ctx context.Context, pub logging.Publisher, tick uint64, winner logging.EntityRef, payload EndedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEnded,
		Tick:     tick,
		Actor:    winner,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryMatch,
		Payload:  payload,
		Extra:    extra,
	})
}
