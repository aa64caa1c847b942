package draft

import (
	"context"

	"arena-duel/server/logging"
)

const (
	EventStarted        logging.EventType = "draft.started"
	EventChoiceRecorded logging.EventType = "draft.choice_recorded"
	EventChoiceRejected logging.EventType = "draft.choice_rejected"
	EventResolved       logging.EventType = "draft.resolved"
	EventSideSkipped    logging.EventType = "draft.side_skipped"
)

// StartedPayload lists the options offered per participant.
type StartedPayload struct {
	Round   int              `json:"round"`
	Loser   string           `json:"loser"`
	Options map[string][]int `json:"options"`
}

// ChoicePayload describes a single submission.
type ChoicePayload struct {
	Panel  int    `json:"panel"`
	Choice int    `json:"choice"`
	Reward int    `json:"reward,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ResolvedPayload lists the applied catalog indices.
type ResolvedPayload struct {
	Round int            `json:"round"`
	Picks map[string]int `json:"picks"`
}

// SkippedPayload explains a side that could not be applied.
type SkippedPayload struct {
	Reward int    `json:"reward"`
	Reason string `json:"reason"`
}

func Started(ctx context.Context, pub logging.Publisher, tick uint64, payload StartedPayload, extra map[string]any) {
	publish(ctx, pub, EventStarted, logging.SeverityInfo, tick, logging.EntityRef{Kind: logging.EntityKindWorld}, payload, extra)
}

func ChoiceRecorded(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ChoicePayload, extra map[string]any) {
	publish(ctx, pub, EventChoiceRecorded, logging.SeverityInfo, tick, actor, payload, extra)
}

// ChoiceRejected is published for forged or malformed submissions.
func ChoiceRejected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ChoicePayload, extra map[string]any) {
	publish(ctx, pub, EventChoiceRejected, logging.SeverityWarn, tick, actor, payload, extra)
}

func Resolved(ctx context.Context, pub logging.Publisher, tick uint64, payload ResolvedPayload, extra map[string]any) {
	publish(ctx, pub, EventResolved, logging.SeverityInfo, tick, logging.EntityRef{Kind: logging.EntityKindWorld}, payload, extra)
}

func SideSkipped(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SkippedPayload, extra map[string]any) {
	publish(ctx, pub, EventSideSkipped, logging.SeverityWarn, tick, actor, payload, extra)
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
		Category: logging.CategoryDraft,
		Payload:  payload,
		Extra:    extra,
	})
}
