package arena

import (
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"arena-duel/server/internal/draft"
	"arena-duel/server/internal/match"
	"arena-duel/server/internal/messaging"
	"arena-duel/server/internal/projectile"
	"arena-duel/server/internal/session"
	"arena-duel/server/internal/telemetry"
	"arena-duel/server/logging"
)

// Config wires one peer's Session.
type Config struct {
	// Local is the actor number when already known; relayed peers learn it
	// from Welcome.
	Local session.ActorNumber
	Link  messaging.Link

	Match      match.Config
	Projectile projectile.Config
	Movement   Movement
	Bounds     Bounds
	// Physics defaults to Bounds.
	Physics Physics

	Catalog  draft.Catalog
	Sampler  *draft.Sampler
	Recorder match.Recorder
	UI       UI

	// PublishInterval is the real-time period of self-state publications.
	PublishInterval time.Duration
	// RespawnFireLockout delays firing after a respawn, in match time.
	RespawnFireLockout time.Duration
	// Autopilot makes the local avatar aim, fire and draft on its own.
	Autopilot bool

	MatchID   string
	Logger    telemetry.Logger
	Publisher logging.Publisher
	Tracer    trace.Tracer
}

// DefaultConfig returns the standard match tuning for a peer.
func DefaultConfig() Config {
	return Config{
		Match:              match.DefaultConfig(),
		Projectile:         projectile.DefaultConfig(),
		Movement:           DefaultMovement(),
		Bounds:             DefaultBounds(),
		PublishInterval:    50 * time.Millisecond,
		RespawnFireLockout: 500 * time.Millisecond,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.Match.WinScore <= 0 {
		c.Match.WinScore = def.Match.WinScore
	}
	if c.Match.SlowMotionScale <= 0 {
		c.Match.SlowMotionScale = def.Match.SlowMotionScale
	}
	if c.Match.SlowMotionDuration <= 0 {
		c.Match.SlowMotionDuration = def.Match.SlowMotionDuration
	}
	if len(c.Match.SpawnPoints) == 0 {
		c.Match.SpawnPoints = def.Match.SpawnPoints
	}
	if c.Projectile == (projectile.Config{}) {
		c.Projectile = def.Projectile
	}
	if c.Movement == (Movement{}) {
		c.Movement = def.Movement
	}
	if c.Bounds == (Bounds{}) {
		c.Bounds = def.Bounds
	}
	if c.Physics == nil {
		c.Physics = c.Bounds
	}
	if c.UI == nil {
		c.UI = NopUI{}
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = def.PublishInterval
	}
	if c.MatchID == "" {
		c.MatchID = uuid.NewString()
	}
	if c.Logger == nil {
		c.Logger = telemetry.LoggerFunc(nil)
	}
	if c.Publisher == nil {
		c.Publisher = logging.NopPublisher()
	}
	return c
}
