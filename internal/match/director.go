// Package match implements the Match Director: score keeping, the
// slow-motion inter-round sequence, end of match and respawn.
package match

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"arena-duel/server/internal/geom"
	"arena-duel/server/internal/health"
	"arena-duel/server/internal/messaging"
	"arena-duel/server/internal/net/proto"
	"arena-duel/server/internal/session"
	"arena-duel/server/internal/telemetry"
	"arena-duel/server/logging"
	loggingmatch "arena-duel/server/logging/match"
)

// Phase is the Director's view of the round.
type Phase uint8

const (
	PhasePlaying Phase = iota
	PhaseSlowMotion
	PhaseDrafting
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhasePlaying:
		return "playing"
	case PhaseSlowMotion:
		return "slow_motion"
	case PhaseDrafting:
		return "drafting"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// SpawnPoint is a position and heading picked by slot index.
type SpawnPoint struct {
	Position geom.Vec3
	Yaw      float64
}

// Config holds match rules.
type Config struct {
	WinScore           int
	SlowMotionScale    float64
	SlowMotionDuration time.Duration
	SpawnPoints        []SpawnPoint
}

// DefaultConfig returns the standard duel rules.
func DefaultConfig() Config {
	return Config{
		WinScore:           5,
		SlowMotionScale:    0.2,
		SlowMotionDuration: 1500 * time.Millisecond,
		SpawnPoints: []SpawnPoint{
			{Position: geom.V(-12, 1, 0), Yaw: math.Pi / 2},
			{Position: geom.V(12, 1, 0), Yaw: -math.Pi / 2},
		},
	}
}

// Drafter is the Reward Draft surface the Director hands off to.
type Drafter interface {
	Begin(ctx context.Context, loser, winner session.ActorNumber) error
	Pending() bool
	Cancel()
}

// Recorder persists match history. Implementations must tolerate being
// called only on the Authority.
type Recorder interface {
	RecordKill(ctx context.Context, matchID string, victim, attacker session.ActorNumber, score int) error
	RecordResult(ctx context.Context, matchID string, winner session.ActorNumber, scores []proto.ScoreEntry) error
}

// DirectorConfig bundles collaborators.
type DirectorConfig struct {
	Rules    Config
	MatchID  string
	Roster   *session.Roster
	Sender   messaging.Sender
	Health   *health.Book
	Draft    Drafter
	Recorder Recorder

	// Reposition moves the local avatar; only the owner writes its transform.
	Reposition func(SpawnPoint)
	// OnScore, OnEndGame and OnTimeScale notify the UI collaborator.
	OnScore     func(actor session.ActorNumber, score int)
	OnEndGame   func(winner session.ActorNumber)
	OnTimeScale func(scale float64)
	// OnRespawn runs after the local respawn is applied.
	OnRespawn func(round int)

	Logger      telemetry.Logger
	Publisher   logging.Publisher
	CurrentTick func() uint64
	Tracer      trace.Tracer
}

// Director tracks score and drives rounds. Only the Authority's Director
// commits; every peer's Director applies the broadcasts.
type Director struct {
	cfg    DirectorConfig
	scores *ScoreTable
	timer  Timer
	phase  Phase
	scale  float64
	round  int

	// clock is the scaled match time last seen by Tick.
	clock time.Duration

	lastRespawn int
	ended       bool
	winner      session.ActorNumber

	pendingLoser  session.ActorNumber
	pendingWinner session.ActorNumber
}

func NewDirector(cfg DirectorConfig) *Director {
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	if cfg.CurrentTick == nil {
		cfg.CurrentTick = func() uint64 { return 0 }
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("match")
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.LoggerFunc(nil)
	}
	if cfg.Rules.WinScore <= 0 {
		cfg.Rules.WinScore = DefaultConfig().WinScore
	}
	return &Director{cfg: cfg, scores: NewScoreTable(), scale: 1}
}

func (d *Director) Phase() Phase                { return d.phase }
func (d *Director) TimeScale() float64          { return d.scale }
func (d *Director) Round() int                  { return d.round }
func (d *Director) Scores() *ScoreTable         { return d.scores }
func (d *Director) Winner() session.ActorNumber { return d.winner }

// SlowMotionDeadline exposes the armed inter-round deadline.
func (d *Director) SlowMotionDeadline() (time.Duration, bool) {
	return d.timer.Deadline(), d.timer.Armed()
}

func (d *Director) isAuthority() bool {
	return d.cfg.Roster.LocalIsAuthority()
}

// Join creates a zero score entry for a new peer and broadcasts it.
func (d *Director) Join(ctx context.Context, actor session.ActorNumber) error {
	if !d.isAuthority() || !d.scores.Ensure(actor) {
		return nil
	}
	return d.cfg.Sender.Send(ctx, messaging.All(), proto.UpdateScore{Actor: actor, Score: 0})
}

// OnDeath is called by the damage pipeline once per death, on the Authority.
// The win check runs before any inter-round sequence and takes priority over
// a draft already in flight.
func (d *Director) OnDeath(ctx context.Context, victim, attacker session.ActorNumber) {
	if err := d.handleDeath(ctx, victim, attacker); err != nil {
		d.cfg.Logger.Printf("match: death of %d by %d: %v", victim, attacker, err)
	}
}

func (d *Director) handleDeath(ctx context.Context, victim, attacker session.ActorNumber) error {
	if !d.isAuthority() {
		return session.ErrNotAuthority
	}
	ctx, span := d.cfg.Tracer.Start(ctx, "match.death", trace.WithAttributes(
		attribute.Int("arena.victim", int(victim)),
		attribute.Int("arena.attacker", int(attacker)),
		attribute.String("arena.phase", d.phase.String()),
	))
	defer span.End()

	if d.phase == PhaseEnded {
		return nil
	}

	scored := attacker != 0 && attacker != victim
	if scored {
		if d.scores.Ensure(attacker) {
			if err := d.cfg.Sender.Send(ctx, messaging.All(), proto.UpdateScore{Actor: attacker, Score: 0}); err != nil {
				return err
			}
		}
		score := d.scores.Increment(attacker)
		loggingmatch.Score(ctx, d.cfg.Publisher, d.cfg.CurrentTick(), peerRef(attacker), peerRef(victim), loggingmatch.ScorePayload{Score: score, Scored: true}, nil)
		if err := d.cfg.Sender.Send(ctx, messaging.All(), proto.UpdateScore{Actor: attacker, Score: score}); err != nil {
			return err
		}
		if d.cfg.Recorder != nil {
			if err := d.cfg.Recorder.RecordKill(ctx, d.cfg.MatchID, victim, attacker, score); err != nil {
				d.cfg.Logger.Printf("match: record kill: %v", err)
			}
		}
		if score >= d.cfg.Rules.WinScore {
			return d.end(ctx, attacker)
		}
	}

	if d.phase != PhasePlaying {
		return nil
	}
	d.phase = PhaseSlowMotion
	d.pendingLoser = victim
	d.pendingWinner = attacker
	d.timer.Arm(d.now(), d.cfg.Rules.SlowMotionDuration)
	return d.cfg.Sender.Send(ctx, messaging.All(), proto.SetTimeScale{Scale: d.cfg.Rules.SlowMotionScale})
}

func (d *Director) end(ctx context.Context, winner session.ActorNumber) error {
	d.timer.Cancel()
	if d.cfg.Draft != nil && d.cfg.Draft.Pending() {
		d.cfg.Draft.Cancel()
	}
	restore := d.phase == PhaseSlowMotion
	d.phase = PhaseEnded
	if restore {
		if err := d.cfg.Sender.Send(ctx, messaging.All(), proto.SetTimeScale{Scale: 1}); err != nil {
			return err
		}
	}
	scores := d.scores.Entries()
	if d.cfg.Recorder != nil {
		if err := d.cfg.Recorder.RecordResult(ctx, d.cfg.MatchID, winner, scores); err != nil {
			d.cfg.Logger.Printf("match: record result: %v", err)
		}
	}
	return d.cfg.Sender.Send(ctx, messaging.All(), proto.EndGame{Winner: winner, Scores: scores})
}

func (d *Director) now() time.Duration { return d.clock }

// Tick advances the inter-round sequence on the Authority. now is scaled
// match time, so the slow-motion wait stretches with the scale it set.
func (d *Director) Tick(ctx context.Context, now time.Duration) error {
	d.clock = now
	if !d.isAuthority() || d.phase != PhaseSlowMotion || !d.timer.Expired(now) {
		return nil
	}
	d.timer.Cancel()
	d.phase = PhaseDrafting
	if err := d.cfg.Sender.Send(ctx, messaging.All(), proto.SetTimeScale{Scale: 1}); err != nil {
		return err
	}
	if d.cfg.Draft == nil {
		return d.Respawn(ctx)
	}
	if err := d.cfg.Draft.Begin(ctx, d.pendingLoser, d.pendingWinner); err != nil {
		d.cfg.Logger.Printf("match: draft unavailable, respawning directly: %v", err)
		return d.Respawn(ctx)
	}
	return nil
}

// Respawn broadcasts the next round. Only the Authority may call it.
func (d *Director) Respawn(ctx context.Context) error {
	if err := d.cfg.Roster.CanCommitOutcome(d.cfg.Roster.Local()); err != nil {
		return fmt.Errorf("respawn: %w", err)
	}
	if d.phase == PhaseEnded {
		return nil
	}
	d.round++
	d.phase = PhasePlaying
	return d.cfg.Sender.Send(ctx, messaging.All(), proto.RespawnAll{Round: d.round})
}

// HandleUpdateScore applies a replicated score.
func (d *Director) HandleUpdateScore(ctx context.Context, msg proto.UpdateScore) {
	d.scores.Observe(msg.Actor, msg.Score)
	if d.cfg.OnScore != nil {
		d.cfg.OnScore(msg.Actor, d.scores.Get(msg.Actor))
	}
}

// HandleEndGame notifies the UI once.
func (d *Director) HandleEndGame(ctx context.Context, msg proto.EndGame) {
	if d.ended {
		return
	}
	d.ended = true
	d.winner = msg.Winner
	d.phase = PhaseEnded
	d.timer.Cancel()
	for _, entry := range msg.Scores {
		d.scores.Observe(entry.Actor, entry.Score)
	}
	scores := make(map[string]int, len(msg.Scores))
	for _, entry := range msg.Scores {
		scores[fmt.Sprintf("%d", entry.Actor)] = entry.Score
	}
	loggingmatch.Ended(ctx, d.cfg.Publisher, d.cfg.CurrentTick(), peerRef(msg.Winner), loggingmatch.EndedPayload{Winner: fmt.Sprintf("%d", msg.Winner), Scores: scores}, nil)
	if d.cfg.OnEndGame != nil {
		d.cfg.OnEndGame(msg.Winner)
	}
}

// HandleSetTimeScale changes the local simulation scale.
func (d *Director) HandleSetTimeScale(ctx context.Context, msg proto.SetTimeScale) {
	if msg.Scale <= 0 {
		return
	}
	d.scale = msg.Scale
	loggingmatch.TimeScale(ctx, d.cfg.Publisher, d.cfg.CurrentTick(), loggingmatch.TimeScalePayload{Scale: msg.Scale}, nil)
	if d.cfg.OnTimeScale != nil {
		d.cfg.OnTimeScale(msg.Scale)
	}
}

// HandleRespawnAll resets every health replica and moves only the local
// avatar to the spawn point of its slot. Replayed rounds are ignored.
func (d *Director) HandleRespawnAll(ctx context.Context, msg proto.RespawnAll) {
	if msg.Round <= d.lastRespawn || d.ended {
		return
	}
	d.lastRespawn = msg.Round
	d.round = msg.Round
	d.phase = PhasePlaying
	if d.cfg.Health != nil {
		d.cfg.Health.ResetAll()
	}
	loggingmatch.Respawn(ctx, d.cfg.Publisher, d.cfg.CurrentTick(), loggingmatch.RespawnPayload{Round: msg.Round}, nil)
	if d.cfg.Reposition != nil && len(d.cfg.Rules.SpawnPoints) > 0 {
		slot, err := d.cfg.Roster.Slot(d.cfg.Roster.Local())
		if err == nil {
			d.cfg.Reposition(d.cfg.Rules.SpawnPoints[slot%len(d.cfg.Rules.SpawnPoints)])
		}
	}
	if d.cfg.OnRespawn != nil {
		d.cfg.OnRespawn(msg.Round)
	}
}

func peerRef(actor session.ActorNumber) logging.EntityRef {
	return logging.PeerRef(fmt.Sprintf("%d", actor))
}
