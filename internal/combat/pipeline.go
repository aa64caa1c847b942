// Package combat resolves damage requests on the Authority and applies the
// resulting notifications on owning peers.
package combat

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"arena-duel/server/internal/geom"
	"arena-duel/server/internal/health"
	"arena-duel/server/internal/messaging"
	"arena-duel/server/internal/net/proto"
	"arena-duel/server/internal/session"
	"arena-duel/server/logging"
	loggingcombat "arena-duel/server/logging/combat"
)

// DeathSink receives exactly one notification per Alive to Dead transition.
type DeathSink interface {
	OnDeath(ctx context.Context, victim, attacker session.ActorNumber)
}

// DeathSinkFunc adapts a function into a DeathSink.
type DeathSinkFunc func(ctx context.Context, victim, attacker session.ActorNumber)

func (f DeathSinkFunc) OnDeath(ctx context.Context, victim, attacker session.ActorNumber) {
	if f != nil {
		f(ctx, victim, attacker)
	}
}

// PipelineConfig captures the collaborators of the damage pipeline. Lookups
// are supplied as callbacks so the pipeline stays free of avatar internals.
type PipelineConfig struct {
	Roster   *session.Roster
	Registry *session.Registry
	Health   *health.Book
	Sender   messaging.Sender
	Deaths   DeathSink

	// LifeSteal returns the attacker's current life-steal ratio.
	LifeSteal func(attacker session.ActorNumber) float64
	// Position returns an avatar's last known position.
	Position func(id session.EntityID) (geom.Vec3, bool)
	// Flash triggers the local damage indicator on the victim's owner.
	Flash func(victim session.EntityID, amount int)

	Publisher   logging.Publisher
	CurrentTick func() uint64
	Tracer      trace.Tracer
}

// Pipeline implements request, commit and notification of damage.
type Pipeline struct {
	cfg PipelineConfig
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	if cfg.CurrentTick == nil {
		cfg.CurrentTick = func() uint64 { return 0 }
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("combat")
	}
	if cfg.LifeSteal == nil {
		cfg.LifeSteal = func(session.ActorNumber) float64 { return 0 }
	}
	return &Pipeline{cfg: cfg}
}

// RequestDamage asks the Authority to commit damage. Any peer may call it,
// including the Authority itself; the request always travels through the
// messaging layer so every commit has the same ordering.
func (p *Pipeline) RequestDamage(ctx context.Context, target session.EntityID, amount int, attacker session.ActorNumber, cause proto.DamageCause) error {
	if amount <= 0 {
		return nil
	}
	msg := proto.ApplyDamage{Target: target, Amount: amount, Attacker: attacker, Cause: cause}
	return p.cfg.Sender.Send(ctx, messaging.Authority(), msg)
}

// HandleApplyDamage runs on the Authority. Requests for dead or unknown
// avatars are discarded.
func (p *Pipeline) HandleApplyDamage(ctx context.Context, msg proto.ApplyDamage) error {
	if err := p.cfg.Roster.CanCommitOutcome(p.cfg.Roster.Local()); err != nil {
		return fmt.Errorf("apply damage to %s: %w", msg.Target, err)
	}
	return p.commit(ctx, msg.Target, msg.Amount, msg.Attacker, msg.Cause)
}

func (p *Pipeline) commit(ctx context.Context, target session.EntityID, amount int, attacker session.ActorNumber, cause proto.DamageCause) error {
	ctx, span := p.cfg.Tracer.Start(ctx, "combat.apply_damage", trace.WithAttributes(
		attribute.String("arena.target", string(target)),
		attribute.Int("arena.amount", amount),
		attribute.Int("arena.attacker", int(attacker)),
		attribute.String("arena.cause", string(cause)),
	))
	defer span.End()

	tick := p.cfg.CurrentTick()
	attackerRef := peerRef(attacker)
	targetRef := avatarRef(target)

	state, ok := p.cfg.Health.Get(target)
	if !ok {
		loggingcombat.DamageDiscarded(ctx, p.cfg.Publisher, tick, attackerRef, targetRef, loggingcombat.DiscardPayload{Reason: "unknown_target", Amount: amount}, nil)
		return nil
	}
	out := state.ApplyDamage(amount)
	if !out.Applied {
		loggingcombat.DamageDiscarded(ctx, p.cfg.Publisher, tick, attackerRef, targetRef, loggingcombat.DiscardPayload{Reason: "already_dead", Amount: amount}, nil)
		span.SetAttributes(attribute.Bool("arena.discarded", true))
		return nil
	}

	loggingcombat.Damage(ctx, p.cfg.Publisher, tick, attackerRef, targetRef, loggingcombat.DamagePayload{
		Cause:        string(cause),
		Amount:       amount,
		TargetHealth: out.After,
		Revision:     out.Revision,
	}, nil)

	// A lethal notice reaches every peer: the victim's owner may be the
	// Authority itself, and replicas never die from a self-state publication.
	notify := messaging.Owner(target)
	if out.Killed {
		notify = messaging.All()
	}
	notice := proto.ShowDamageEffect{Victim: target, Attacker: attacker, Amount: amount, Health: out.After, Revision: out.Revision}
	if err := p.cfg.Sender.Send(ctx, notify, notice); err != nil {
		span.RecordError(err)
		return err
	}

	if err := p.lifeSteal(ctx, tick, amount, attacker); err != nil {
		span.RecordError(err)
		return err
	}

	if out.Killed {
		span.SetAttributes(attribute.Bool("arena.killed", true))
		loggingcombat.Defeat(ctx, p.cfg.Publisher, tick, attackerRef, targetRef, loggingcombat.DefeatPayload{Cause: string(cause)}, nil)
		victim, _ := p.cfg.Registry.Owner(target)
		if p.cfg.Deaths != nil {
			p.cfg.Deaths.OnDeath(ctx, victim, attacker)
		}
	}
	return nil
}

func (p *Pipeline) lifeSteal(ctx context.Context, tick uint64, amount int, attacker session.ActorNumber) error {
	ratio := p.cfg.LifeSteal(attacker)
	if ratio <= 0 {
		return nil
	}
	heal := int(math.Floor(float64(amount) * ratio))
	if heal <= 0 {
		return nil
	}
	avatar, ok := p.cfg.Registry.AvatarOf(attacker)
	if !ok {
		return nil
	}
	loggingcombat.LifeSteal(ctx, p.cfg.Publisher, tick, peerRef(attacker), loggingcombat.LifeStealPayload{Amount: heal, Ratio: ratio}, nil)
	return p.cfg.Sender.Send(ctx, messaging.Owner(avatar), proto.Heal{Avatar: avatar, Amount: heal})
}

// HandleExplode fans an explosion out on the Authority. Every avatar within
// the radius except the attacker's own takes the flat damage through the
// regular commit path. Other peers ignore the message.
func (p *Pipeline) HandleExplode(ctx context.Context, msg proto.Explode) error {
	if !p.cfg.Roster.LocalIsAuthority() {
		return nil
	}
	ctx, span := p.cfg.Tracer.Start(ctx, "combat.explosion", trace.WithAttributes(
		attribute.String("arena.projectile", string(msg.Projectile)),
		attribute.Float64("arena.radius", msg.Radius),
	))
	defer span.End()

	exclude, _ := p.cfg.Registry.AvatarOf(msg.Attacker)
	avatars := p.cfg.Registry.Avatars()
	sort.Slice(avatars, func(i, j int) bool { return avatars[i].ID < avatars[j].ID })

	var hit []session.EntityID
	for _, avatar := range avatars {
		if avatar.ID == exclude || p.cfg.Position == nil {
			continue
		}
		pos, ok := p.cfg.Position(avatar.ID)
		if !ok || pos.Distance(msg.Point) > msg.Radius {
			continue
		}
		hit = append(hit, avatar.ID)
	}

	targets := make([]logging.EntityRef, 0, len(hit))
	for _, id := range hit {
		targets = append(targets, avatarRef(id))
	}
	loggingcombat.Explosion(ctx, p.cfg.Publisher, p.cfg.CurrentTick(), peerRef(msg.Attacker), targets, loggingcombat.ExplosionPayload{
		Projectile: string(msg.Projectile),
		Radius:     msg.Radius,
		Damage:     msg.Damage,
	}, nil)

	for _, id := range hit {
		if err := p.commit(ctx, id, msg.Damage, msg.Attacker, proto.CauseExplosion); err != nil {
			return err
		}
	}
	return nil
}

// HandleShowDamageEffect adopts a committed value. The victim's owner takes
// every notice and plays the local indicator; other peers only take the
// lethal one, which marks their replica Dead.
func (p *Pipeline) HandleShowDamageEffect(ctx context.Context, msg proto.ShowDamageEffect) error {
	owned := p.cfg.Registry.CanWriteTransform(p.cfg.Roster.Local(), msg.Victim) == nil
	if !owned && msg.Health > 0 {
		return nil
	}
	if state, ok := p.cfg.Health.Get(msg.Victim); ok {
		state.Commit(msg.Health, msg.Revision)
	}
	if owned && p.cfg.Flash != nil {
		p.cfg.Flash(msg.Victim, msg.Amount)
	}
	return nil
}

// HandleHeal applies a local heal on the avatar's owner. The healed value
// reaches everyone else through the next self-state publication.
func (p *Pipeline) HandleHeal(ctx context.Context, msg proto.Heal) error {
	if err := p.cfg.Registry.CanWriteTransform(p.cfg.Roster.Local(), msg.Avatar); err != nil {
		return nil
	}
	if state, ok := p.cfg.Health.Get(msg.Avatar); ok {
		state.Heal(msg.Amount)
	}
	return nil
}

func peerRef(actor session.ActorNumber) logging.EntityRef {
	return logging.PeerRef(fmt.Sprintf("%d", actor))
}

func avatarRef(id session.EntityID) logging.EntityRef {
	return logging.EntityRef{ID: string(id), Kind: logging.EntityKindAvatar}
}
