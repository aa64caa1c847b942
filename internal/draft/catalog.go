// Package draft runs the between-round reward draft: a rarity-weighted
// lottery per participant and a two-party choice rendezvous on the
// Authority.
package draft

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"arena-duel/server/internal/stats"
)

// Rarity is the weighted tier of a reward.
type Rarity string

const (
	Common Rarity = "common"
	Rare   Rarity = "rare"
	Epic   Rarity = "epic"
)

// lower returns the next tier down used by the sampling fallback.
func (r Rarity) lower() (Rarity, bool) {
	switch r {
	case Epic:
		return Rare, true
	case Rare:
		return Common, true
	default:
		return "", false
	}
}

func (r Rarity) valid() bool {
	return r == Common || r == Rare || r == Epic
}

// Effect names what a reward changes.
type Effect string

const (
	EffectProjectileSpeed Effect = "projectile_speed"
	EffectDamage          Effect = "damage"
	EffectMaxHealth       Effect = "max_health"
	EffectMoveSpeed       Effect = "move_speed"
	EffectJumpForce       Effect = "jump_force"
	EffectBounce          Effect = "bounce"
	EffectDoubleJump      Effect = "double_jump"
	EffectExplosive       Effect = "explosive"
	EffectLifeSteal       Effect = "life_steal"
	EffectDash            Effect = "dash"
	EffectHoming          Effect = "homing"
	EffectFireRate        Effect = "fire_rate"
)

// Reward is one immutable catalog entry.
type Reward struct {
	Name        string  `json:"name" jsonschema:"minLength=1"`
	Description string  `json:"description,omitempty"`
	Effect      Effect  `json:"effect" jsonschema:"enum=projectile_speed,enum=damage,enum=max_health,enum=move_speed,enum=jump_force,enum=bounce,enum=double_jump,enum=explosive,enum=life_steal,enum=dash,enum=homing,enum=fire_rate"`
	Value       float64 `json:"value"`
	Rarity      Rarity  `json:"rarity" jsonschema:"enum=common,enum=rare,enum=epic"`
}

// Delta converts the reward into a stat layer contribution. Multipliers
// apply to speeds and cooldowns, additive values to everything else.
func (r Reward) Delta() (stats.Delta, error) {
	d := stats.NewDelta()
	switch r.Effect {
	case EffectProjectileSpeed:
		d.Mul[stats.StatProjectileSpeed] = r.Value
	case EffectDamage:
		d.Add[stats.StatProjectileDamage] = r.Value
	case EffectMaxHealth:
		d.Add[stats.StatMaxHealth] = r.Value
	case EffectMoveSpeed:
		d.Mul[stats.StatMoveSpeed] = r.Value
	case EffectJumpForce:
		d.Mul[stats.StatJumpForce] = r.Value
	case EffectBounce:
		d.Add[stats.StatBounces] = r.Value
	case EffectLifeSteal:
		d.Add[stats.StatLifeSteal] = r.Value
	case EffectFireRate:
		d.Mul[stats.StatFireCooldown] = r.Value
	case EffectDoubleJump:
		d.Caps = stats.CapDoubleJump
	case EffectExplosive:
		d.Caps = stats.CapExplosive
	case EffectDash:
		d.Caps = stats.CapDash
	case EffectHoming:
		d.Caps = stats.CapHoming
	default:
		return d, fmt.Errorf("reward %q: unknown effect %q", r.Name, r.Effect)
	}
	return d, nil
}

// Catalog is the static, index-addressed reward list. Indices travel on
// the wire, so every peer must load the same catalog.
type Catalog []Reward

var ErrBadCatalog = errors.New("draft: invalid catalog")

// DefaultCatalog returns the built-in reward list.
func DefaultCatalog() Catalog {
	return Catalog{
		{Name: "Swift Bolt", Description: "Projectiles fly 25% faster.", Effect: EffectProjectileSpeed, Value: 1.25, Rarity: Common},
		{Name: "Sharpened Magic", Description: "Projectiles deal 10 more damage.", Effect: EffectDamage, Value: 10, Rarity: Common},
		{Name: "Vitality", Description: "Maximum health +25.", Effect: EffectMaxHealth, Value: 25, Rarity: Common},
		{Name: "Fleet Foot", Description: "Move 20% faster.", Effect: EffectMoveSpeed, Value: 1.2, Rarity: Common},
		{Name: "Spring Step", Description: "Jump 25% higher.", Effect: EffectJumpForce, Value: 1.25, Rarity: Common},
		{Name: "Rapid Cast", Description: "Fire cooldown reduced by 20%.", Effect: EffectFireRate, Value: 0.8, Rarity: Common},
		{Name: "Ricochet", Description: "Projectiles bounce once off walls.", Effect: EffectBounce, Value: 1, Rarity: Rare},
		{Name: "Double Jump", Description: "Jump again in mid-air.", Effect: EffectDoubleJump, Rarity: Rare},
		{Name: "Dash", Description: "Burst forward on command.", Effect: EffectDash, Rarity: Rare},
		{Name: "Vampiric Magic", Description: "Heal for 30% of damage dealt.", Effect: EffectLifeSteal, Value: 0.3, Rarity: Rare},
		{Name: "Explosive Shot", Description: "Projectiles explode on impact.", Effect: EffectExplosive, Rarity: Epic},
		{Name: "Seeker", Description: "Projectiles home in on the opponent.", Effect: EffectHoming, Rarity: Epic},
	}
}

// Validate checks every entry for a known effect and tier.
func (c Catalog) Validate() error {
	for i, r := range c {
		if r.Name == "" {
			return fmt.Errorf("%w: entry %d has no name", ErrBadCatalog, i)
		}
		if !r.Rarity.valid() {
			return fmt.Errorf("%w: entry %d has rarity %q", ErrBadCatalog, i, r.Rarity)
		}
		if _, err := r.Delta(); err != nil {
			return fmt.Errorf("%w: %v", ErrBadCatalog, err)
		}
	}
	return nil
}

// Get returns the reward at a catalog index.
func (c Catalog) Get(index int) (Reward, bool) {
	if index < 0 || index >= len(c) {
		return Reward{}, false
	}
	return c[index], true
}

// ReadCatalog decodes and validates a JSON catalog.
func ReadCatalog(r io.Reader) (Catalog, error) {
	var c Catalog
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
