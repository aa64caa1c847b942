package sim

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"arena-duel/server/internal/telemetry"
)

type recordingStepper struct {
	scale float64
	ticks []TickContext
	err   error
}

func (s *recordingStepper) Step(_ context.Context, tick TickContext) error {
	s.ticks = append(s.ticks, tick)
	return s.err
}

func (s *recordingStepper) TimeScale() float64 { return s.scale }

func TestAdvanceScalesDeltaAndAccumulatesMatchClock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	stepper := &recordingStepper{scale: 1}
	loop := NewLoop(stepper, LoopConfig{TickRate: 50}, clock, LoopHooks{}, nil, nil)
	ctx := context.Background()

	first := loop.Advance(ctx, clock.Now())
	if math.Abs(first.Delta-0.02) > 1e-9 {
		t.Fatalf("expected first step to use the budget, got %v", first.Delta)
	}

	stepper.scale = 0.2
	clock.Advance(20 * time.Millisecond)
	slowed := loop.Advance(ctx, clock.Now())
	if math.Abs(slowed.Scaled-0.004) > 1e-9 {
		t.Fatalf("expected scaled delta 0.004, got %v", slowed.Scaled)
	}
	if slowed.ScaledNow != 24*time.Millisecond {
		t.Fatalf("expected scaled clock 24ms, got %s", slowed.ScaledNow)
	}
	if loop.ScaledNow() != slowed.ScaledNow {
		t.Fatalf("scaled clock accessor disagrees")
	}
}

func TestAdvanceClampsLongPauses(t *testing.T) {
	clock := clockwork.NewFakeClock()
	stepper := &recordingStepper{scale: 1}
	loop := NewLoop(stepper, LoopConfig{TickRate: 50, CatchupMaxTicks: 3}, clock, LoopHooks{}, nil, nil)
	ctx := context.Background()
	loop.Advance(ctx, clock.Now())
	clock.Advance(5 * time.Second)
	result := loop.Advance(ctx, clock.Now())
	if !result.ClampedDelta || math.Abs(result.Delta-0.06) > 1e-9 {
		t.Fatalf("expected clamp to 0.06, got %v clamped=%v", result.Delta, result.ClampedDelta)
	}
}

func TestEnqueueDeliversCommandsOnNextTick(t *testing.T) {
	clock := clockwork.NewFakeClock()
	stepper := &recordingStepper{scale: 1}
	counters := telemetry.NewCounters()
	var dropped []string
	loop := NewLoop(stepper, LoopConfig{TickRate: 50, PerTickLimit: 2, CommandCapacity: 8}, clock, LoopHooks{
		OnCommandDrop: func(reason string, _ Command) { dropped = append(dropped, reason) },
	}, nil, counters)

	for _, typ := range []CommandType{CommandMove, CommandFire, CommandJump} {
		loop.Enqueue(Command{Type: typ})
	}
	if len(dropped) != 1 || dropped[0] != CommandRejectQueueLimit {
		t.Fatalf("expected one throttled command, got %v", dropped)
	}
	loop.Advance(context.Background(), clock.Now())
	if got := stepper.ticks[0].Commands; len(got) != 2 || got[1].Type != CommandFire {
		t.Fatalf("unexpected commands %+v", got)
	}
	if ok, _ := loop.Enqueue(Command{Type: CommandDash}); !ok {
		t.Fatalf("throttle must reset after a tick")
	}
	if counters.Snapshot()[commandBufferOccupancyMetricKey] != 1 {
		t.Fatalf("expected occupancy metric updated")
	}
}

func TestRunStopsOnCancelAndReportsErrors(t *testing.T) {
	clock := clockwork.NewFakeClock()
	stepper := &recordingStepper{scale: 1, err: errors.New("boom")}
	results := make(chan StepResult, 4)
	loop := NewLoop(stepper, LoopConfig{TickRate: 10}, clock, LoopHooks{
		AfterStep: func(r StepResult) { results <- r },
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("wait for ticker: %v", err)
	}
	clock.Advance(100 * time.Millisecond)
	select {
	case r := <-results:
		if r.Err == nil || r.Tick != 1 {
			t.Fatalf("unexpected result %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatalf("loop did not tick")
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("loop did not stop")
	}
}
