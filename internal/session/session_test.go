package session

import (
	"errors"
	"testing"
)

func TestRosterElectsEarliestJoinAndReassigns(t *testing.T) {
	r := NewRoster(2)
	r.Join(1, "alpha", -1)
	r.Join(2, "bravo", -1)
	r.Join(3, "charlie", -1)

	if got, ok := r.Authority(); !ok || got != 1 {
		t.Fatalf("expected actor 1 to be authority, got %d (ok=%v)", got, ok)
	}
	if r.LocalIsAuthority() {
		t.Fatalf("local actor 2 must not be authority yet")
	}

	next, changed := r.Leave(1)
	if !changed || next != 2 {
		t.Fatalf("expected authority to move to 2, got %d changed=%v", next, changed)
	}
	if !r.LocalIsAuthority() {
		t.Fatalf("expected local actor to become authority")
	}
	if err := r.CanCommitOutcome(3); !errors.Is(err, ErrNotAuthority) {
		t.Fatalf("expected ErrNotAuthority for actor 3, got %v", err)
	}

	if _, changed := r.Leave(3); changed {
		t.Fatalf("removing a non-authority must not change authority")
	}
}

func TestRosterAssignsLowestFreeSlot(t *testing.T) {
	r := NewRoster(0)
	r.Join(1, "", -1)
	r.Join(2, "", -1)
	r.Leave(1)
	p := r.Join(3, "", -1)
	if p.Slot != 0 {
		t.Fatalf("expected freed slot 0 to be reused, got %d", p.Slot)
	}
	if slot, err := r.Slot(2); err != nil || slot != 1 {
		t.Fatalf("expected actor 2 to keep slot 1, got %d err=%v", slot, err)
	}
	if _, err := r.Slot(9); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("expected ErrUnknownPeer, got %v", err)
	}
}

func TestRosterReplaceKeepsOrder(t *testing.T) {
	r := NewRoster(5)
	r.Replace([]Peer{{Actor: 7, Slot: 1}, {Actor: 5, Slot: 0}})
	if got, _ := r.Authority(); got != 7 {
		t.Fatalf("expected first listed peer to be authority, got %d", got)
	}
	peers := r.Peers()
	if len(peers) != 2 || peers[0].Actor != 7 || peers[1].Actor != 5 {
		t.Fatalf("unexpected peer order %+v", peers)
	}
	if opp, ok := r.Opponent(5); !ok || opp.Actor != 7 {
		t.Fatalf("expected opponent 7, got %+v", opp)
	}
}

func TestRegistryOwnershipIsImmutable(t *testing.T) {
	reg := NewRegistry()
	avatar := Entity{ID: AvatarID(1), Kind: EntityAvatar, Owner: 1}
	if err := reg.Register(avatar); err != nil {
		t.Fatalf("register avatar: %v", err)
	}
	err := reg.Register(Entity{ID: AvatarID(1), Kind: EntityAvatar, Owner: 2})
	if !errors.Is(err, ErrDuplicateEntity) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if owner, _ := reg.Owner(AvatarID(1)); owner != 1 {
		t.Fatalf("owner changed to %d", owner)
	}
	if id, ok := reg.AvatarOf(1); !ok || id != AvatarID(1) {
		t.Fatalf("expected avatar index for actor 1, got %q", id)
	}
	if err := reg.CanWriteTransform(2, AvatarID(1)); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := reg.CanWriteTransform(1, AvatarID(1)); err != nil {
		t.Fatalf("owner write rejected: %v", err)
	}

	reg.Remove(AvatarID(1))
	if _, ok := reg.AvatarOf(1); ok {
		t.Fatalf("expected avatar index cleared on removal")
	}
}
