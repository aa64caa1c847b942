package sim

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"arena-duel/server/internal/telemetry"
)

const (
	// CommandRejectQueueLimit indicates an intent was dropped by the per-tick
	// throttle.
	CommandRejectQueueLimit = "queue_limit"
	// CommandRejectQueueFull indicates the command ring is saturated.
	CommandRejectQueueFull = "queue_full"
)

// TickContext describes one fixed step. Delta is real seconds; Scaled is
// Delta multiplied by the time scale in force when the step began, and
// ScaledNow is the accumulated scaled match clock after this step.
type TickContext struct {
	Tick      uint64
	Now       time.Time
	Delta     float64
	Scaled    float64
	ScaledNow time.Duration
	Commands  []Command
}

// Stepper is advanced once per tick by the loop.
type Stepper interface {
	Step(ctx context.Context, tick TickContext) error
	TimeScale() float64
}

// StepResult reports timing for one executed step.
type StepResult struct {
	Tick         uint64
	Now          time.Time
	Delta        float64
	Scaled       float64
	ScaledNow    time.Duration
	Commands     int
	Duration     time.Duration
	Budget       time.Duration
	ClampedDelta bool
	MaxDelta     float64
	Err          error
}

// LoopConfig tunes the command buffer and tick loop orchestration.
type LoopConfig struct {
	TickRate        int
	CatchupMaxTicks int
	CommandCapacity int
	PerTickLimit    int
}

// LoopHooks observe the loop.
type LoopHooks struct {
	AfterStep     func(StepResult)
	OnCommandDrop func(reason string, cmd Command)
}

// Loop coordinates intent ingestion and the fixed-timestep runner.
type Loop struct {
	stepper Stepper
	buffer  *CommandBuffer
	clock   clockwork.Clock
	hooks   LoopHooks
	config  LoopConfig
	logger  telemetry.Logger

	mu        sync.Mutex
	staged    int
	drops     uint64
	tick      uint64
	last      time.Time
	scaledNow time.Duration
}

// NewLoop wraps the stepper with a ring-buffer queue and ticker.
func NewLoop(stepper Stepper, cfg LoopConfig, clock clockwork.Clock, hooks LoopHooks, logger telemetry.Logger, metrics telemetry.Metrics) *Loop {
	if cfg.TickRate <= 0 {
		cfg.TickRate = 50
	}
	if cfg.CommandCapacity <= 0 {
		cfg.CommandCapacity = 256
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	return &Loop{
		stepper: stepper,
		buffer:  NewCommandBuffer(cfg.CommandCapacity, metrics),
		clock:   clock,
		hooks:   hooks,
		config:  cfg,
		logger:  logger,
	}
}

// Enqueue stages an intent for the next tick.
func (l *Loop) Enqueue(cmd Command) (bool, string) {
	if l == nil {
		return false, CommandRejectQueueFull
	}
	l.mu.Lock()
	reason := ""
	if l.config.PerTickLimit > 0 && l.staged >= l.config.PerTickLimit {
		reason = CommandRejectQueueLimit
	} else if accepted, merged := l.buffer.Push(cmd); !accepted {
		reason = CommandRejectQueueFull
	} else if !merged {
		l.staged++
	}
	var drops uint64
	if reason != "" {
		l.drops++
		drops = l.drops
	}
	l.mu.Unlock()

	if reason == "" {
		return true, ""
	}
	if l.hooks.OnCommandDrop != nil {
		l.hooks.OnCommandDrop(reason, cmd)
	}
	if drops&(drops-1) == 0 {
		l.logger.Printf("[backpressure] dropping command type=%s reason=%s count=%d", cmd.Type, reason, drops)
	}
	return false, reason
}

// Pending reports the number of staged commands.
func (l *Loop) Pending() int {
	return l.buffer.Len()
}

// ScaledNow returns the scaled match clock.
func (l *Loop) ScaledNow() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scaledNow
}

func (l *Loop) budget() (float64, float64) {
	budget := 1.0 / float64(l.config.TickRate)
	maxDt := budget
	if l.config.CatchupMaxTicks > 1 {
		maxDt = budget * float64(l.config.CatchupMaxTicks)
	}
	return budget, maxDt
}

// Advance executes a single step ending at now.
func (l *Loop) Advance(ctx context.Context, now time.Time) StepResult {
	budget, maxDt := l.budget()

	l.mu.Lock()
	dt := budget
	if !l.last.IsZero() {
		dt = now.Sub(l.last).Seconds()
	}
	clamped := false
	if dt <= 0 {
		dt = budget
	} else if dt > maxDt {
		dt = maxDt
		clamped = true
	}
	l.last = now
	l.tick++
	tick := l.tick
	l.staged = 0
	l.mu.Unlock()

	commands := l.buffer.Drain()
	scale := l.stepper.TimeScale()
	if scale <= 0 {
		scale = 1
	}
	scaled := dt * scale

	l.mu.Lock()
	l.scaledNow += time.Duration(math.Round(scaled * float64(time.Second)))
	scaledNow := l.scaledNow
	l.mu.Unlock()

	start := l.clock.Now()
	err := l.stepper.Step(ctx, TickContext{
		Tick:      tick,
		Now:       now,
		Delta:     dt,
		Scaled:    scaled,
		ScaledNow: scaledNow,
		Commands:  commands,
	})
	return StepResult{
		Tick:         tick,
		Now:          now,
		Delta:        dt,
		Scaled:       scaled,
		ScaledNow:    scaledNow,
		Commands:     len(commands),
		Duration:     l.clock.Since(start),
		Budget:       time.Duration(budget * float64(time.Second)),
		ClampedDelta: clamped,
		MaxDelta:     maxDt,
		Err:          err,
	}
}

// Run drives the fixed-timestep loop until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := l.clock.NewTicker(time.Second / time.Duration(l.config.TickRate))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.Chan():
			result := l.Advance(ctx, now)
			if result.Err != nil {
				l.logger.Printf("sim: tick %d: %v", result.Tick, result.Err)
			}
			if l.hooks.AfterStep != nil {
				l.hooks.AfterStep(result)
			}
		}
	}
}
