package projectile

import (
	"math"

	"arena-duel/server/internal/geom"
)

// BounceDirection reflects a heading about a contact normal and returns the
// new unit heading. When the surface is near-horizontal (floor or ceiling) or
// near-vertical along x (wall) and the reflection would skim along it, the
// component away from the surface is lifted so the projectile leaves at a
// usable angle.
func BounceDirection(heading, normal geom.Vec3, cfg Config) geom.Vec3 {
	dir := heading.Normalize()
	n := normal.Normalize()
	if dir.IsZero() || n.IsZero() {
		return dir
	}
	r := geom.Reflect(dir, n)

	if math.Abs(n.Y) > cfg.SurfaceThreshold && math.Abs(r.Y) < cfg.MinBounceComponent {
		r.Y = math.Copysign(cfg.BounceLift, n.Y)
		r = r.Normalize()
	}
	if math.Abs(n.X) > cfg.SurfaceThreshold && math.Abs(r.X) < cfg.MinBounceComponent {
		r.X = math.Copysign(cfg.BounceLift, n.X)
		r = r.Normalize()
	}
	if math.Abs(n.Z) > cfg.SurfaceThreshold && math.Abs(r.Z) < cfg.MinBounceComponent {
		r.Z = math.Copysign(cfg.BounceLift, n.Z)
		r = r.Normalize()
	}
	return r
}
