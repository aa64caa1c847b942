package arena

import (
	"math"
	"time"

	"arena-duel/server/internal/geom"
	"arena-duel/server/internal/session"
	"arena-duel/server/internal/sim"
	"arena-duel/server/internal/stats"
)

// Movement holds the kinematic constants shared by every avatar.
type Movement struct {
	Gravity       float64
	DashSpeed     float64
	DashDuration  time.Duration
	DashCooldown  time.Duration
	MaxPitch      float64
	MuzzleHeight  float64
	MuzzleForward float64
}

// DefaultMovement returns the standard controller tuning.
func DefaultMovement() Movement {
	return Movement{
		Gravity:       20,
		DashSpeed:     25,
		DashDuration:  150 * time.Millisecond,
		DashCooldown:  3 * time.Second,
		MaxPitch:      80 * math.Pi / 180,
		MuzzleHeight:  1.5,
		MuzzleForward: 0.8,
	}
}

// Avatar is one peer's player entity. Only the owner integrates it; replicas
// follow self-state publications.
type Avatar struct {
	ID       session.EntityID
	Owner    session.ActorNumber
	Position geom.Vec3
	Velocity geom.Vec3
	Yaw      float64
	Pitch    float64
	Stats    *stats.Component

	grounded     bool
	doubleJumped bool
	move         sim.MoveCommand
	dashUntil    time.Duration
	dashReadyAt  time.Duration
}

func newAvatar(owner session.ActorNumber) *Avatar {
	return &Avatar{
		ID:    session.AvatarID(owner),
		Owner: owner,
		Stats: stats.NewComponent(stats.DefaultBase()),
	}
}

// Facing is the unit look direction.
func (a *Avatar) Facing() geom.Vec3 {
	cp := math.Cos(a.Pitch)
	return geom.V(math.Sin(a.Yaw)*cp, math.Sin(a.Pitch), math.Cos(a.Yaw)*cp)
}

func (a *Avatar) forward() geom.Vec3 {
	return geom.V(math.Sin(a.Yaw), 0, math.Cos(a.Yaw))
}

func (a *Avatar) right() geom.Vec3 {
	return geom.V(math.Cos(a.Yaw), 0, -math.Sin(a.Yaw))
}

// Muzzle is where projectiles spawn.
func (a *Avatar) Muzzle(m Movement) geom.Vec3 {
	return a.Position.Add(geom.Up.Scale(m.MuzzleHeight)).Add(a.Facing().Scale(m.MuzzleForward))
}

// Center is the homing and hit reference point.
func (a *Avatar) Center() geom.Vec3 {
	return a.Position.Add(geom.V(0, 1, 0))
}

func (a *Avatar) look(cmd sim.LookCommand, m Movement) {
	a.Yaw = math.Remainder(cmd.Yaw, 2*math.Pi)
	a.Pitch = math.Max(-m.MaxPitch, math.Min(m.MaxPitch, cmd.Pitch))
}

func (a *Avatar) setMove(cmd sim.MoveCommand) {
	a.move = sim.MoveCommand{
		Forward: math.Max(-1, math.Min(1, cmd.Forward)),
		Strafe:  math.Max(-1, math.Min(1, cmd.Strafe)),
	}
}

// jump starts a jump from the ground, or a second one in the air when the
// double-jump capability is unlocked.
func (a *Avatar) jump(snap stats.Snapshot) bool {
	switch {
	case a.grounded:
		a.grounded = false
	case snap.DoubleJump && !a.doubleJumped:
		a.doubleJumped = true
	default:
		return false
	}
	a.Velocity.Y = snap.JumpForce
	return true
}

func (a *Avatar) dash(now time.Duration, snap stats.Snapshot, m Movement) bool {
	if !snap.Dash || now < a.dashReadyAt {
		return false
	}
	a.dashUntil = now + m.DashDuration
	a.dashReadyAt = now + m.DashCooldown
	return true
}

// integrate advances the owner-side kinematics by dt seconds of scaled time
// and keeps the avatar inside the arena.
func (a *Avatar) integrate(now time.Duration, dt float64, snap stats.Snapshot, m Movement, bounds Bounds) {
	var planar geom.Vec3
	if now < a.dashUntil {
		planar = a.forward().Scale(m.DashSpeed)
	} else {
		wish := a.forward().Scale(a.move.Forward).Add(a.right().Scale(a.move.Strafe))
		if wish.Len() > 1 {
			wish = wish.Normalize()
		}
		planar = wish.Scale(snap.MoveSpeed)
	}
	a.Velocity.X = planar.X
	a.Velocity.Z = planar.Z
	a.Velocity.Y -= m.Gravity * dt

	a.Position = a.Position.Add(a.Velocity.Scale(dt))
	if a.Position.Y <= 0 {
		a.Position.Y = 0
		a.Velocity.Y = 0
		a.grounded = true
		a.doubleJumped = false
	}
	a.Position.X = clamp(a.Position.X, -bounds.HalfExtent, bounds.HalfExtent)
	a.Position.Z = clamp(a.Position.Z, -bounds.HalfExtent, bounds.HalfExtent)
}

func (a *Avatar) place(position geom.Vec3, yaw float64) {
	a.Position = position
	a.Velocity = geom.Zero
	a.Yaw = yaw
	a.Pitch = 0
	a.move = sim.MoveCommand{}
	a.dashUntil = 0
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
