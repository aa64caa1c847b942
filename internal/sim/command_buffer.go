package sim

import (
	"sync"

	"arena-duel/server/internal/telemetry"
)

const (
	commandBufferOccupancyMetricKey = "peer_command_buffer_occupancy"
	commandBufferOverflowMetricKey  = "peer_command_buffer_overflow_total"
	commandBufferMergedMetricKey    = "peer_command_buffer_merged_total"
)

// Continuous reports whether only the latest intent of this type matters
// within a tick. Move and Look arrive at input-sampling rate; discrete
// intents such as Fire or Jump must each be delivered.
func (t CommandType) Continuous() bool {
	return t == CommandMove || t == CommandLook
}

// CommandBuffer stages intents between ticks. Input arrives on other
// goroutines; the loop is the single consumer.
//
// A continuous intent overwrites the staged intent of the same type unless a
// discrete intent was staged after it, so a Look issued before a Fire still
// aims that shot.
type CommandBuffer struct {
	mu       sync.Mutex
	staged   []Command
	capacity int
	metrics  telemetry.Metrics
}

// NewCommandBuffer constructs a buffer holding at most capacity intents per
// tick.
func NewCommandBuffer(capacity int, metrics telemetry.Metrics) *CommandBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &CommandBuffer{
		staged:   make([]Command, 0, capacity),
		capacity: capacity,
		metrics:  metrics,
	}
}

func (b *CommandBuffer) Capacity() int {
	if b == nil {
		return 0
	}
	return b.capacity
}

// Push stages cmd. accepted is false when the buffer is full; merged is true
// when cmd replaced an earlier continuous intent instead of taking a slot.
func (b *CommandBuffer) Push(cmd Command) (accepted, merged bool) {
	if b == nil {
		return false, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if cmd.Type.Continuous() {
		for i := len(b.staged) - 1; i >= 0; i-- {
			prev := b.staged[i].Type
			if !prev.Continuous() {
				break
			}
			if prev == cmd.Type {
				b.staged[i] = cmd
				b.add(commandBufferMergedMetricKey, 1)
				return true, true
			}
		}
	}
	if len(b.staged) == b.capacity {
		b.add(commandBufferOverflowMetricKey, 1)
		return false, false
	}
	b.staged = append(b.staged, cmd)
	b.storeOccupancyLocked()
	return true, false
}

// Drain returns the staged intents in arrival order and empties the buffer.
func (b *CommandBuffer) Drain() []Command {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.staged) == 0 {
		return nil
	}
	out := b.staged
	b.staged = make([]Command, 0, b.capacity)
	b.storeOccupancyLocked()
	return out
}

func (b *CommandBuffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.staged)
}

func (b *CommandBuffer) add(key string, delta uint64) {
	if b.metrics != nil {
		b.metrics.Add(key, delta)
	}
}

func (b *CommandBuffer) storeOccupancyLocked() {
	if b.metrics != nil {
		b.metrics.Store(commandBufferOccupancyMetricKey, uint64(len(b.staged)))
	}
}
