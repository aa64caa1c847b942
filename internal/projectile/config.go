// Package projectile runs owner-exclusive projectile simulation: flight with
// constant speed, optional homing, bounces, explosions and a single destroy
// path.
package projectile

import (
	"math"
	"time"
)

// Config holds tunables shared by every projectile a peer fires.
type Config struct {
	Lifetime time.Duration

	HomingArmDelay     time.Duration
	HomingSearchRadius float64
	// TurnRate bounds homing steering in radians per second.
	TurnRate float64
	// DisengageAngle in radians; a target further off-heading is dropped.
	DisengageAngle float64

	ExplosionRadius float64
	ExplosionDamage int

	// A contact normal whose component along an axis exceeds SurfaceThreshold
	// marks the surface as perpendicular to that axis. A reflection whose
	// component on that axis stays below MinBounceComponent is lifted to
	// BounceLift before renormalising.
	SurfaceThreshold   float64
	MinBounceComponent float64
	BounceLift         float64
}

// DefaultConfig mirrors the tuning used in matches.
func DefaultConfig() Config {
	return Config{
		Lifetime:           5 * time.Second,
		HomingArmDelay:     100 * time.Millisecond,
		HomingSearchRadius: 20,
		TurnRate:           4,
		DisengageAngle:     math.Pi / 2,
		ExplosionRadius:    3,
		ExplosionDamage:    15,
		SurfaceThreshold:   0.7,
		MinBounceComponent: 0.1,
		BounceLift:         0.3,
	}
}
