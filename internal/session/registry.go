package session

import (
	"errors"
	"fmt"
)

// ErrDuplicateEntity is returned when registering an id twice.
var ErrDuplicateEntity = errors.New("session: entity already registered")

// EntityID uniquely identifies a simulated object.
type EntityID string

// EntityKind distinguishes avatars from projectiles.
type EntityKind uint8

const (
	EntityAvatar EntityKind = iota + 1
	EntityProjectile
)

func (k EntityKind) String() string {
	switch k {
	case EntityAvatar:
		return "avatar"
	case EntityProjectile:
		return "projectile"
	default:
		return "unknown"
	}
}

// Entity records the immutable ownership of a simulated object.
type Entity struct {
	ID    EntityID
	Kind  EntityKind
	Owner ActorNumber
}

// AvatarID derives the avatar entity id for a peer. Every peer computes the
// same id, so avatars never need an allocation round trip.
func AvatarID(actor ActorNumber) EntityID {
	return EntityID(fmt.Sprintf("avatar-%d", actor))
}

// Registry indexes entities by id and avatars by owning peer. It replaces
// scene-wide lookups with O(1) map access populated at creation time.
type Registry struct {
	entities map[EntityID]Entity
	avatars  map[ActorNumber]EntityID
}

func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[EntityID]Entity),
		avatars:  make(map[ActorNumber]EntityID),
	}
}

// Register records a new entity. Ownership is fixed at this point; a second
// registration of the same id fails even with the same owner.
func (r *Registry) Register(e Entity) error {
	if e.ID == "" {
		return fmt.Errorf("register entity: empty id")
	}
	if _, exists := r.entities[e.ID]; exists {
		return fmt.Errorf("register %s: %w", e.ID, ErrDuplicateEntity)
	}
	r.entities[e.ID] = e
	if e.Kind == EntityAvatar {
		r.avatars[e.Owner] = e.ID
	}
	return nil
}

// Remove forgets an entity.
func (r *Registry) Remove(id EntityID) {
	e, ok := r.entities[id]
	if !ok {
		return
	}
	delete(r.entities, id)
	if e.Kind == EntityAvatar && r.avatars[e.Owner] == id {
		delete(r.avatars, e.Owner)
	}
}

// Lookup returns the entity record for an id.
func (r *Registry) Lookup(id EntityID) (Entity, bool) {
	e, ok := r.entities[id]
	return e, ok
}

// Owner returns the owning peer of an entity.
func (r *Registry) Owner(id EntityID) (ActorNumber, bool) {
	e, ok := r.entities[id]
	if !ok {
		return 0, false
	}
	return e.Owner, true
}

// AvatarOf returns the avatar owned by a peer.
func (r *Registry) AvatarOf(actor ActorNumber) (EntityID, bool) {
	id, ok := r.avatars[actor]
	return id, ok
}

// Avatars returns every registered avatar entity.
func (r *Registry) Avatars() []Entity {
	out := make([]Entity, 0, len(r.avatars))
	for _, id := range r.avatars {
		out = append(out, r.entities[id])
	}
	return out
}

// CanWriteTransform returns ErrNotOwner unless actor owns the entity.
func (r *Registry) CanWriteTransform(actor ActorNumber, id EntityID) error {
	owner, ok := r.Owner(id)
	if !ok || owner != actor {
		return fmt.Errorf("write transform %s: %w", id, ErrNotOwner)
	}
	return nil
}
