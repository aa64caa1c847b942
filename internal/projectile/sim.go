package projectile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"arena-duel/server/internal/geom"
	"arena-duel/server/internal/messaging"
	"arena-duel/server/internal/net/proto"
	"arena-duel/server/internal/session"
	"arena-duel/server/internal/stats"
)

// Destroy reasons carried by DestroyProjectile.
const (
	ReasonExpired  = "expired"
	ReasonHit      = "hit"
	ReasonExploded = "exploded"
	ReasonImpact   = "impact"
)

// State is one projectile. Owned projectiles are simulated; replicas of
// remote projectiles only dead-reckon until their owner destroys them.
type State struct {
	ID               session.EntityID
	Owner            session.ActorNumber
	Position         geom.Vec3
	Velocity         geom.Vec3
	Speed            float64
	Damage           int
	BouncesRemaining int
	Explosive        bool
	Homing           bool

	// Target is a weak reference: it may vanish without affecting the
	// projectile.
	Target     session.EntityID
	disengaged bool

	HomingArmAt time.Duration
	ExpiresAt   time.Duration
	destroyed   bool
}

// Destroyed reports whether the destroy path has run. It never reverts.
func (s *State) Destroyed() bool { return s.destroyed }

// Candidate is an avatar a homing projectile may steer toward.
type Candidate struct {
	Avatar   session.EntityID
	Position geom.Vec3
}

// Contact is a collision reported by the physics collaborator.
type Contact struct {
	// Entity is the struck entity, empty for level geometry.
	Entity     session.EntityID
	Damageable bool
	Point      geom.Vec3
	Normal     geom.Vec3
}

// DamageRequester forwards hits into the damage pipeline.
type DamageRequester interface {
	RequestDamage(ctx context.Context, target session.EntityID, amount int, attacker session.ActorNumber, cause proto.DamageCause) error
}

// SimConfig bundles the collaborators of a Sim.
type SimConfig struct {
	Config   Config
	Roster   *session.Roster
	Registry *session.Registry
	Sender   messaging.Sender
	Damage   DamageRequester
	// Candidates lists living avatars for homing.
	Candidates func() []Candidate
	// NewID allocates projectile ids; defaults to random UUIDs.
	NewID func() session.EntityID
	// OnDestroy observes every completed destroy, owned or replicated.
	OnDestroy func(id session.EntityID, reason string)
}

// Sim owns the projectiles of one peer.
type Sim struct {
	cfg      SimConfig
	owned    map[session.EntityID]*State
	replicas map[session.EntityID]*State
}

func NewSim(cfg SimConfig) *Sim {
	if cfg.NewID == nil {
		cfg.NewID = func() session.EntityID {
			return session.EntityID("projectile-" + uuid.NewString())
		}
	}
	if cfg.Candidates == nil {
		cfg.Candidates = func() []Candidate { return nil }
	}
	return &Sim{
		cfg:      cfg,
		owned:    make(map[session.EntityID]*State),
		replicas: make(map[session.EntityID]*State),
	}
}

// Fire spawns a projectile owned by the local peer along facing. Damage,
// speed and modifiers are frozen from the snapshot.
func (s *Sim) Fire(ctx context.Context, now time.Duration, origin, facing geom.Vec3, snap stats.Snapshot) (*State, error) {
	dir := facing.Normalize()
	if dir.IsZero() {
		return nil, fmt.Errorf("fire: zero facing")
	}
	owner := s.cfg.Roster.Local()
	st := &State{
		ID:               s.cfg.NewID(),
		Owner:            owner,
		Position:         origin,
		Velocity:         dir.Scale(snap.ProjectileSpeed),
		Speed:            snap.ProjectileSpeed,
		Damage:           snap.Damage,
		BouncesRemaining: snap.Bounces,
		Explosive:        snap.Explosive,
		Homing:           snap.Homing,
		HomingArmAt:      now + s.cfg.Config.HomingArmDelay,
		ExpiresAt:        now + s.cfg.Config.Lifetime,
	}
	if err := s.cfg.Registry.Register(session.Entity{ID: st.ID, Kind: session.EntityProjectile, Owner: owner}); err != nil {
		return nil, fmt.Errorf("fire: %w", err)
	}
	s.owned[st.ID] = st

	msg := proto.SpawnProjectile{
		Projectile: st.ID,
		Owner:      owner,
		Position:   st.Position,
		Velocity:   st.Velocity,
		Damage:     st.Damage,
		Explosive:  st.Explosive,
		Homing:     st.Homing,
	}
	if err := s.cfg.Sender.Send(ctx, messaging.All(), msg); err != nil {
		return st, err
	}
	return st, nil
}

// Get returns an owned projectile or replica.
func (s *Sim) Get(id session.EntityID) (*State, bool) {
	if st, ok := s.owned[id]; ok {
		return st, true
	}
	st, ok := s.replicas[id]
	return st, ok
}

// Owned returns the ids of live owned projectiles in stable order.
func (s *Sim) Owned() []session.EntityID {
	return sortedIDs(s.owned)
}

// Replicas returns the ids of live remote projectiles in stable order.
func (s *Sim) Replicas() []session.EntityID {
	return sortedIDs(s.replicas)
}

// Step advances every projectile by dt seconds of scaled time ending at now.
func (s *Sim) Step(ctx context.Context, now time.Duration, dt float64) error {
	for _, id := range sortedIDs(s.owned) {
		st := s.owned[id]
		if st.destroyed {
			continue
		}
		if now >= st.ExpiresAt {
			if err := s.destroy(ctx, st, ReasonExpired); err != nil {
				return err
			}
			continue
		}
		s.steer(st, now, dt)
		st.Position = st.Position.Add(st.Velocity.Scale(dt))
		if st.Velocity.Len() > geom.Epsilon {
			st.Velocity = st.Velocity.WithLength(st.Speed)
		}
	}
	for _, st := range s.replicas {
		st.Position = st.Position.Add(st.Velocity.Scale(dt))
	}
	return nil
}

func (s *Sim) steer(st *State, now time.Duration, dt float64) {
	if !st.Homing || st.disengaged || now < st.HomingArmAt {
		return
	}
	candidates := s.cfg.Candidates()
	exclude, _ := s.cfg.Registry.AvatarOf(st.Owner)

	var target *Candidate
	if st.Target != "" {
		for i := range candidates {
			if candidates[i].Avatar == st.Target {
				target = &candidates[i]
				break
			}
		}
		if target == nil {
			st.Target = ""
		}
	}
	if target == nil {
		best := s.cfg.Config.HomingSearchRadius
		for i := range candidates {
			c := &candidates[i]
			if c.Avatar == exclude {
				continue
			}
			if d := c.Position.Distance(st.Position); d < best {
				best = d
				target = c
			}
		}
		if target == nil {
			return
		}
		st.Target = target.Avatar
	}

	toTarget := target.Position.Sub(st.Position)
	if geom.AngleBetween(st.Velocity, toTarget) > s.cfg.Config.DisengageAngle {
		st.Target = ""
		st.disengaged = true
		return
	}
	dir := geom.RotateTowards(st.Velocity, toTarget, s.cfg.Config.TurnRate*dt)
	st.Velocity = dir.Scale(st.Speed)
}

// Collide resolves a contact for an owned projectile. Contacts on replicas,
// destroyed projectiles and the firer's own avatar are ignored.
func (s *Sim) Collide(ctx context.Context, id session.EntityID, contact Contact) error {
	st, ok := s.owned[id]
	if !ok || st.destroyed {
		return nil
	}
	if contact.Entity != "" {
		if owner, known := s.cfg.Registry.Owner(contact.Entity); known && owner == st.Owner {
			if e, _ := s.cfg.Registry.Lookup(contact.Entity); e.Kind == session.EntityAvatar {
				return nil
			}
		}
	}

	if contact.Damageable {
		if st.Explosive {
			if err := s.explode(ctx, st, contact.Point); err != nil {
				return err
			}
			return s.destroy(ctx, st, ReasonExploded)
		}
		if err := s.cfg.Damage.RequestDamage(ctx, contact.Entity, st.Damage, st.Owner, proto.CauseDirect); err != nil {
			return err
		}
		return s.destroy(ctx, st, ReasonHit)
	}

	if st.BouncesRemaining > 0 {
		st.BouncesRemaining--
		if st.Explosive {
			if err := s.explode(ctx, st, contact.Point); err != nil {
				return err
			}
		}
		st.Velocity = BounceDirection(st.Velocity, contact.Normal, s.cfg.Config).Scale(st.Speed)
		return nil
	}
	if st.Explosive {
		if err := s.explode(ctx, st, contact.Point); err != nil {
			return err
		}
		return s.destroy(ctx, st, ReasonExploded)
	}
	return s.destroy(ctx, st, ReasonImpact)
}

func (s *Sim) explode(ctx context.Context, st *State, point geom.Vec3) error {
	return s.cfg.Sender.Send(ctx, messaging.All(), proto.Explode{
		Projectile: st.ID,
		Attacker:   st.Owner,
		Point:      point,
		Radius:     s.cfg.Config.ExplosionRadius,
		Damage:     s.cfg.Config.ExplosionDamage,
	})
}

// destroy is the only way an owned projectile ends. The destroyed flag flips
// once, so the DestroyProjectile broadcast happens at most once per id.
func (s *Sim) destroy(ctx context.Context, st *State, reason string) error {
	if st.destroyed {
		return nil
	}
	st.destroyed = true
	delete(s.owned, st.ID)
	s.cfg.Registry.Remove(st.ID)
	if s.cfg.OnDestroy != nil {
		s.cfg.OnDestroy(st.ID, reason)
	}
	return s.cfg.Sender.Send(ctx, messaging.All(), proto.DestroyProjectile{Projectile: st.ID, Reason: reason})
}

// DestroyAll ends every owned projectile, used when a round ends.
func (s *Sim) DestroyAll(ctx context.Context, reason string) error {
	for _, id := range sortedIDs(s.owned) {
		if err := s.destroy(ctx, s.owned[id], reason); err != nil {
			return err
		}
	}
	return nil
}

// HandleSpawnProjectile creates a replica of a remote projectile. The owner's
// own broadcast copy is ignored.
func (s *Sim) HandleSpawnProjectile(msg proto.SpawnProjectile) {
	if msg.Owner == s.cfg.Roster.Local() {
		return
	}
	if _, ok := s.replicas[msg.Projectile]; ok {
		return
	}
	if err := s.cfg.Registry.Register(session.Entity{ID: msg.Projectile, Kind: session.EntityProjectile, Owner: msg.Owner}); err != nil {
		return
	}
	s.replicas[msg.Projectile] = &State{
		ID:        msg.Projectile,
		Owner:     msg.Owner,
		Position:  msg.Position,
		Velocity:  msg.Velocity,
		Speed:     msg.Velocity.Len(),
		Damage:    msg.Damage,
		Explosive: msg.Explosive,
		Homing:    msg.Homing,
	}
}

// HandleDestroyProjectile removes a replica.
func (s *Sim) HandleDestroyProjectile(msg proto.DestroyProjectile) {
	st, ok := s.replicas[msg.Projectile]
	if !ok {
		return
	}
	st.destroyed = true
	delete(s.replicas, msg.Projectile)
	s.cfg.Registry.Remove(msg.Projectile)
	if s.cfg.OnDestroy != nil {
		s.cfg.OnDestroy(msg.Projectile, msg.Reason)
	}
}

func sortedIDs(m map[session.EntityID]*State) []session.EntityID {
	ids := make([]session.EntityID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
