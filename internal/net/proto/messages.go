package proto

import (
	"fmt"

	"arena-duel/server/internal/geom"
	"arena-duel/server/internal/session"
)

// Version tracks the wire-protocol revision expected by peers.
const Version = 1

// Kind enumerates every message the core exchanges. The set is closed:
// decoding an unknown kind is an error, never a silent drop.
type Kind uint8

const (
	KindApplyDamage Kind = iota + 1
	KindShowDamageEffect
	KindHeal
	KindExplode
	KindUpdateScore
	KindEndGame
	KindSetTimeScale
	KindRespawnAll
	KindShowChoiceUI
	KindSubmitChoice
	KindApplyChoicesAndResume
	KindSpawnProjectile
	KindDestroyProjectile
	KindWelcome
	KindRoster

	kindCount
)

var kindNames = [kindCount]string{
	KindApplyDamage:           "applyDamage",
	KindShowDamageEffect:      "showDamageEffect",
	KindHeal:                  "heal",
	KindExplode:               "explode",
	KindUpdateScore:           "updateScore",
	KindEndGame:               "endGame",
	KindSetTimeScale:          "setTimeScale",
	KindRespawnAll:            "respawnAll",
	KindShowChoiceUI:          "showChoiceUI",
	KindSubmitChoice:          "submitChoice",
	KindApplyChoicesAndResume: "applyChoicesAndResume",
	KindSpawnProjectile:       "spawnProjectile",
	KindDestroyProjectile:     "destroyProjectile",
	KindWelcome:               "welcome",
	KindRoster:                "roster",
}

func (k Kind) String() string {
	if k == 0 || k >= kindCount {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// Kinds returns every defined kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount-1)
	for k := KindApplyDamage; k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// ParseKind resolves a wire name into a Kind.
func ParseKind(name string) (Kind, error) {
	for k := KindApplyDamage; k < kindCount; k++ {
		if kindNames[k] == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// Message is implemented by every payload variant.
type Message interface {
	Kind() Kind
}

// DamageCause distinguishes direct projectile hits from explosion fan-out.
type DamageCause string

const (
	CauseDirect    DamageCause = "direct"
	CauseExplosion DamageCause = "explosion"
)

// ApplyDamage asks the Authority to commit damage against an avatar.
type ApplyDamage struct {
	Target   session.EntityID    `json:"target"`
	Amount   int                 `json:"amount"`
	Attacker session.ActorNumber `json:"attacker"`
	Cause    DamageCause         `json:"cause,omitempty"`
}

// ShowDamageEffect tells the victim's owner that damage was committed. Health
// and Revision carry the committed value so the owner's next self-state
// publication agrees with the Authority.
type ShowDamageEffect struct {
	Victim   session.EntityID    `json:"victim"`
	Attacker session.ActorNumber `json:"attacker"`
	Amount   int                 `json:"amount"`
	Health   int                 `json:"health"`
	Revision uint64              `json:"revision"`
}

// Heal instructs an avatar's owner to apply a local heal.
type Heal struct {
	Avatar session.EntityID `json:"avatar"`
	Amount int              `json:"amount"`
}

// Explode is broadcast by a projectile owner when an explosive round detonates.
type Explode struct {
	Projectile session.EntityID    `json:"projectile"`
	Attacker   session.ActorNumber `json:"attacker"`
	Point      geom.Vec3           `json:"point"`
	Radius     float64             `json:"radius"`
	Damage     int                 `json:"damage"`
}

// UpdateScore replicates one ScoreTable entry.
type UpdateScore struct {
	Actor session.ActorNumber `json:"actor"`
	Score int                 `json:"score"`
}

// ScoreEntry is one row of a score table.
type ScoreEntry struct {
	Actor session.ActorNumber `json:"actor"`
	Score int                 `json:"score"`
}

// EndGame announces the winner.
type EndGame struct {
	Winner session.ActorNumber `json:"winner"`
	Scores []ScoreEntry        `json:"scores,omitempty"`
}

// SetTimeScale changes the global simulation time scale.
type SetTimeScale struct {
	Scale float64 `json:"scale"`
}

// RespawnAll instructs every peer to respawn its own avatar.
type RespawnAll struct {
	Round int `json:"round"`
}

// ChoicePanel lists the catalog indices offered to one participant.
type ChoicePanel struct {
	Participant session.ActorNumber `json:"participant"`
	Options     []int               `json:"options"`
}

// ShowChoiceUI opens the reward draft on every peer.
type ShowChoiceUI struct {
	Round    int                 `json:"round"`
	Loser    session.ActorNumber `json:"loser"`
	LossName string              `json:"lossName,omitempty"`
	Panels   []ChoicePanel       `json:"panels"`
}

// SubmitChoice carries a panel-local option index to the Authority. The sender
// identity comes from the envelope, never from the payload.
type SubmitChoice struct {
	Panel  int `json:"panel"`
	Choice int `json:"choice"`
}

// ChoicePick is a resolved catalog index for one participant.
type ChoicePick struct {
	Participant session.ActorNumber `json:"participant"`
	Reward      int                 `json:"reward"`
}

// ApplyChoicesAndResume is broadcast once both draft choices are recorded.
type ApplyChoicesAndResume struct {
	Round int          `json:"round"`
	Picks []ChoicePick `json:"picks"`
}

// SpawnProjectile replicates a newly fired projectile.
type SpawnProjectile struct {
	Projectile session.EntityID    `json:"projectile"`
	Owner      session.ActorNumber `json:"owner"`
	Position   geom.Vec3           `json:"position"`
	Velocity   geom.Vec3           `json:"velocity"`
	Damage     int                 `json:"damage"`
	Explosive  bool                `json:"explosive,omitempty"`
	Homing     bool                `json:"homing,omitempty"`
}

// DestroyProjectile is sent at most once per projectile by its owner.
type DestroyProjectile struct {
	Projectile session.EntityID `json:"projectile"`
	Reason     string           `json:"reason"`
}

// Welcome is sent by the relay to a newly connected peer.
type Welcome struct {
	Actor   session.ActorNumber `json:"actor"`
	Slot    int                 `json:"slot"`
	Version int                 `json:"version"`
	MatchID string              `json:"matchId"`
}

// PeerInfo describes one roster entry on the wire.
type PeerInfo struct {
	Actor    session.ActorNumber `json:"actor"`
	Nickname string              `json:"nickname,omitempty"`
	Slot     int                 `json:"slot"`
}

// Roster is broadcast by the relay whenever membership or authority changes.
// Peers are listed in join order.
type Roster struct {
	Peers     []PeerInfo          `json:"peers"`
	Authority session.ActorNumber `json:"authority"`
}

func (ApplyDamage) Kind() Kind           { return KindApplyDamage }
func (ShowDamageEffect) Kind() Kind      { return KindShowDamageEffect }
func (Heal) Kind() Kind                  { return KindHeal }
func (Explode) Kind() Kind               { return KindExplode }
func (UpdateScore) Kind() Kind           { return KindUpdateScore }
func (EndGame) Kind() Kind               { return KindEndGame }
func (SetTimeScale) Kind() Kind          { return KindSetTimeScale }
func (RespawnAll) Kind() Kind            { return KindRespawnAll }
func (ShowChoiceUI) Kind() Kind          { return KindShowChoiceUI }
func (SubmitChoice) Kind() Kind          { return KindSubmitChoice }
func (ApplyChoicesAndResume) Kind() Kind { return KindApplyChoicesAndResume }
func (SpawnProjectile) Kind() Kind       { return KindSpawnProjectile }
func (DestroyProjectile) Kind() Kind     { return KindDestroyProjectile }
func (Welcome) Kind() Kind               { return KindWelcome }
func (Roster) Kind() Kind                { return KindRoster }
