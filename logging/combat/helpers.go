package combat

import (
	"context"

	"arena-duel/server/logging"
)

const (
	// EventDamage is emitted when the Authority commits damage to an avatar.
	EventDamage logging.EventType = "combat.damage"
	// EventDefeat is emitted on the Alive to Dead transition.
	EventDefeat logging.EventType = "combat.defeat"
	// EventLifeSteal is emitted when a hit heals its attacker.
	EventLifeSteal logging.EventType = "combat.life_steal"
	// EventExplosion is emitted when the Authority fans out an explosion.
	EventExplosion logging.EventType = "combat.explosion"
	// EventDamageDiscarded is emitted for requests against dead or unknown avatars.
	EventDamageDiscarded logging.EventType = "combat.damage_discarded"
)

// DamagePayload captures the amount dealt to a single target.
type DamagePayload struct {
	Cause        string `json:"cause,omitempty"`
	Amount       int    `json:"amount"`
	TargetHealth int    `json:"targetHealth"`
	Revision     uint64 `json:"revision"`
}

// DefeatPayload describes the context for a fatal blow.
type DefeatPayload struct {
	Cause string `json:"cause,omitempty"`
}

// LifeStealPayload captures a heal instruction sent to an attacker.
type LifeStealPayload struct {
	Amount int     `json:"amount"`
	Ratio  float64 `json:"ratio"`
}

// ExplosionPayload summarises an explosion fan-out.
type ExplosionPayload struct {
	Projectile string  `json:"projectile"`
	Radius     float64 `json:"radius"`
	Damage     int     `json:"damage"`
}

// DiscardPayload explains why a damage request was dropped.
type DiscardPayload struct {
	Reason string `json:"reason"`
	Amount int    `json:"amount"`
}

// Damage publishes a combat damage event for a single target.
func Damage(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, target logging.EntityRef, payload DamagePayload, extra map[string]any) {
	publish(ctx, pub, EventDamage, logging.SeverityInfo, tick, actor, []logging.EntityRef{target}, payload, extra)
}

// Defeat publishes a combat defeat event for the eliminated avatar.
func Defeat(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, target logging.EntityRef, payload DefeatPayload, extra map[string]any) {
	publish(ctx, pub, EventDefeat, logging.SeverityInfo, tick, actor, []logging.EntityRef{target}, payload, extra)
}

// LifeSteal publishes the heal granted to an attacker.
func LifeSteal(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload LifeStealPayload, extra map[string]any) {
	publish(ctx, pub, EventLifeSteal, logging.SeverityDebug, tick, actor, nil, payload, extra)
}

// Explosion publishes an explosion fan-out with every avatar it reached.
func Explosion(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, targets []logging.EntityRef, payload ExplosionPayload, extra map[string]any) {
	publish(ctx, pub, EventExplosion, logging.SeverityInfo, tick, actor, targets, payload, extra)
}

// DamageDiscarded publishes a debug event for an ignored damage request.
func DamageDiscarded(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, target logging.EntityRef, payload DiscardPayload, extra map[string]any) {
	publish(ctx, pub, EventDamageDiscarded, logging.SeverityDebug, tick, actor, []logging.EntityRef{target}, payload, extra)
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, severity logging.Severity, tick uint64, actor logging.EntityRef, targets []logging.EntityRef, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Tick:     tick,
		Actor:    actor,
		Targets:  targets,
		Severity: severity,
		Category: logging.CategoryCombat,
		Payload:  payload,
		Extra:    extra,
	})
}
