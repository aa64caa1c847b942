package arena

import (
	"arena-duel/server/internal/geom"
	"arena-duel/server/internal/projectile"
	"arena-duel/server/internal/session"
)

// Body is an avatar as seen by contact detection.
type Body struct {
	Avatar session.EntityID
	Owner  session.ActorNumber
	Center geom.Vec3
}

// Physics reports the first contact of an owned projectile this tick. A
// renderer-backed peer replaces it with its engine's collision callbacks and
// calls Session.Contact instead.
type Physics interface {
	Detect(p *projectile.State, bodies []Body) (projectile.Contact, bool)
}

// Bounds is a box arena: a floor at y=0, four walls and a ceiling.
type Bounds struct {
	HalfExtent float64
	Ceiling    float64
	HitRadius  float64
}

// DefaultBounds returns the standard arena.
func DefaultBounds() Bounds {
	return Bounds{HalfExtent: 20, Ceiling: 15, HitRadius: 0.9}
}

// Detect checks avatars first, then level geometry. The firer's own avatar
// is skipped so it cannot shadow a real hit.
func (b Bounds) Detect(p *projectile.State, bodies []Body) (projectile.Contact, bool) {
	for _, body := range bodies {
		if body.Owner == p.Owner {
			continue
		}
		if body.Center.Distance(p.Position) <= b.HitRadius {
			return projectile.Contact{Entity: body.Avatar, Damageable: true, Point: p.Position}, true
		}
	}

	point := p.Position
	var normal geom.Vec3
	switch {
	case point.Y <= 0:
		point.Y = 0
		normal = geom.Up
	case point.Y >= b.Ceiling:
		point.Y = b.Ceiling
		normal = geom.V(0, -1, 0)
	case point.X >= b.HalfExtent:
		point.X = b.HalfExtent
		normal = geom.V(-1, 0, 0)
	case point.X <= -b.HalfExtent:
		point.X = -b.HalfExtent
		normal = geom.V(1, 0, 0)
	case point.Z >= b.HalfExtent:
		point.Z = b.HalfExtent
		normal = geom.V(0, 0, -1)
	case point.Z <= -b.HalfExtent:
		point.Z = -b.HalfExtent
		normal = geom.V(0, 0, 1)
	default:
		return projectile.Contact{}, false
	}
	return projectile.Contact{Point: point, Normal: normal}, true
}
