// Package stats implements the avatar stat set that rewards modify and
// projectiles snapshot at spawn.
package stats

import (
	"math"
	"sort"
	"time"
)

// StatID enumerates the numeric attributes tracked per avatar.
type StatID uint8

const (
	StatMoveSpeed StatID = iota
	StatJumpForce
	StatProjectileDamage
	StatProjectileSpeed
	StatLifeSteal
	StatMaxHealth
	StatFireCooldown
	StatBounces

	StatCount
)

var statNames = [StatCount]string{
	StatMoveSpeed:        "moveSpeed",
	StatJumpForce:        "jumpForce",
	StatProjectileDamage: "projectileDamage",
	StatProjectileSpeed:  "projectileSpeed",
	StatLifeSteal:        "lifeSteal",
	StatMaxHealth:        "maxHealth",
	StatFireCooldown:     "fireCooldown",
	StatBounces:          "bounces",
}

func (id StatID) String() string {
	if id >= StatCount {
		return "unknown"
	}
	return statNames[id]
}

// Capability is a boolean flag granted by rewards.
type Capability uint8

const (
	CapHoming Capability = 1 << iota
	CapExplosive
	CapDoubleJump
	CapDash
)

// Layer orders modifier application. Later layers apply on top of earlier ones.
type Layer uint8

const (
	LayerBase Layer = iota
	LayerReward
	LayerAdmin

	LayerCount
)

// SourceKey identifies a modifier source inside a layer. Re-applying the same
// key replaces the previous contribution instead of stacking it.
type SourceKey struct {
	Kind string
	ID   string
}

// ValueSet stores a fixed vector of stat values.
type ValueSet [StatCount]float64

// Delta is the contribution of one source.
type Delta struct {
	Add  ValueSet
	Mul  ValueSet
	Caps Capability
}

// NewDelta returns a delta with neutral multipliers.
func NewDelta() Delta {
	return Delta{Mul: unitValueSet()}
}

type layerStack struct {
	add  ValueSet
	mul  ValueSet
	caps Capability
}

// Component owns one avatar's stats and caches resolved totals.
type Component struct {
	layers  [LayerCount]layerStack
	sources [LayerCount]map[SourceKey]Delta
	totals  ValueSet
	caps    Capability
	dirty   bool
	version uint64
}

// DefaultBase returns the starting stat values of a fresh avatar.
func DefaultBase() ValueSet {
	var base ValueSet
	base[StatMoveSpeed] = 5
	base[StatJumpForce] = 8
	base[StatProjectileDamage] = 25
	base[StatProjectileSpeed] = 30
	base[StatLifeSteal] = 0
	base[StatMaxHealth] = 100
	base[StatFireCooldown] = 0.3
	base[StatBounces] = 0
	return base
}

// NewComponent constructs a component seeded with base values.
func NewComponent(base ValueSet) *Component {
	c := &Component{}
	for layer := range c.layers {
		c.layers[layer].mul = unitValueSet()
	}
	delta := NewDelta()
	delta.Add = base
	c.Apply(LayerBase, SourceKey{Kind: "archetype", ID: "base"}, delta)
	return c
}

// Apply sets the contribution of a source. It reports whether anything
// changed, so re-delivered rewards are detected as duplicates.
func (c *Component) Apply(layer Layer, key SourceKey, delta Delta) bool {
	if c == nil || layer >= LayerCount {
		return false
	}
	if c.sources[layer] == nil {
		c.sources[layer] = make(map[SourceKey]Delta)
	}
	if existing, ok := c.sources[layer][key]; ok && deltasEqual(existing, delta) {
		return false
	}
	c.sources[layer][key] = delta
	c.rebuild(layer)
	c.dirty = true
	return true
}

// Has reports whether a source is present in a layer.
func (c *Component) Has(layer Layer, key SourceKey) bool {
	if c == nil || layer >= LayerCount {
		return false
	}
	_, ok := c.sources[layer][key]
	return ok
}

// Remove drops a source.
func (c *Component) Remove(layer Layer, key SourceKey) bool {
	if c == nil || layer >= LayerCount {
		return false
	}
	if _, ok := c.sources[layer][key]; !ok {
		return false
	}
	delete(c.sources[layer], key)
	c.rebuild(layer)
	c.dirty = true
	return true
}

// Get returns the resolved value of a stat.
func (c *Component) Get(id StatID) float64 {
	if id >= StatCount {
		return 0
	}
	c.resolve()
	return c.totals[id]
}

// Can reports whether a capability is granted.
func (c *Component) Can(capability Capability) bool {
	c.resolve()
	return c.caps&capability != 0
}

// Version increments each time totals are recomputed.
func (c *Component) Version() uint64 {
	c.resolve()
	return c.version
}

func (c *Component) resolve() {
	if !c.dirty {
		return
	}
	var total ValueSet
	var caps Capability
	for layer := Layer(0); layer < LayerCount; layer++ {
		stack := c.layers[layer]
		addValueSet(&total, stack.add)
		multiplyValueSet(&total, stack.mul)
		caps |= stack.caps
	}
	for i := range total {
		if total[i] < 0 {
			total[i] = 0
		}
	}
	c.totals = total
	c.caps = caps
	c.version++
	c.dirty = false
}

func (c *Component) rebuild(layer Layer) {
	stack := &c.layers[layer]
	stack.add = ValueSet{}
	stack.mul = unitValueSet()
	stack.caps = 0
	entries := c.sources[layer]
	keys := make([]SourceKey, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Kind != keys[j].Kind {
			return keys[i].Kind < keys[j].Kind
		}
		return keys[i].ID < keys[j].ID
	})
	for _, key := range keys {
		d := entries[key]
		addValueSet(&stack.add, d.Add)
		multiplyValueSet(&stack.mul, d.Mul)
		stack.caps |= d.Caps
	}
}

// Snapshot is the frozen view a projectile captures at fire time.
type Snapshot struct {
	MoveSpeed       float64
	JumpForce       float64
	Damage          int
	ProjectileSpeed float64
	LifeSteal       float64
	MaxHealth       int
	FireCooldown    time.Duration
	Bounces         int
	Homing          bool
	Explosive       bool
	DoubleJump      bool
	Dash            bool
}

// Snapshot resolves the component into plain values.
func (c *Component) Snapshot() Snapshot {
	c.resolve()
	return Snapshot{
		MoveSpeed:       c.totals[StatMoveSpeed],
		JumpForce:       c.totals[StatJumpForce],
		Damage:          int(math.Round(c.totals[StatProjectileDamage])),
		ProjectileSpeed: c.totals[StatProjectileSpeed],
		LifeSteal:       c.totals[StatLifeSteal],
		MaxHealth:       int(math.Round(c.totals[StatMaxHealth])),
		FireCooldown:    time.Duration(math.Round(c.totals[StatFireCooldown] * float64(time.Second))),
		Bounces:         int(math.Round(c.totals[StatBounces])),
		Homing:          c.caps&CapHoming != 0,
		Explosive:       c.caps&CapExplosive != 0,
		DoubleJump:      c.caps&CapDoubleJump != 0,
		Dash:            c.caps&CapDash != 0,
	}
}

func addValueSet(target *ValueSet, other ValueSet) {
	for i := range target {
		target[i] += other[i]
	}
}

func multiplyValueSet(target *ValueSet, other ValueSet) {
	for i := range target {
		target[i] *= other[i]
	}
}

func unitValueSet() ValueSet {
	var vs ValueSet
	for i := range vs {
		vs[i] = 1
	}
	return vs
}

func deltasEqual(a, b Delta) bool {
	if a.Caps != b.Caps {
		return false
	}
	for i := range a.Add {
		if math.Abs(a.Add[i]-b.Add[i]) > 1e-9 || math.Abs(a.Mul[i]-b.Mul[i]) > 1e-9 {
			return false
		}
	}
	return true
}
