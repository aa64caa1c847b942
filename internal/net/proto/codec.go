package proto

import (
	"encoding/json"
	"errors"
	"fmt"

	"arena-duel/server/internal/session"
)

var (
	// ErrUnknownKind is returned when a frame names a kind outside the closed set.
	ErrUnknownKind = errors.New("proto: unknown message kind")
	// ErrUnsupportedVersion is returned for frames from a different protocol revision.
	ErrUnsupportedVersion = errors.New("proto: unsupported protocol version")
)

// RouteKind selects the delivery set of an envelope on the wire. Owner
// targets are resolved to Specific by the sender before encoding.
type RouteKind string

const (
	RouteAll       RouteKind = "all"
	RouteAuthority RouteKind = "authority"
	RouteSpecific  RouteKind = "specific"
)

// Route is the wire form of a message target.
type Route struct {
	Kind RouteKind           `json:"kind"`
	Peer session.ActorNumber `json:"peer,omitempty"`
}

// Envelope carries one message between peers.
type Envelope struct {
	From    session.ActorNumber
	To      Route
	Seq     uint64
	Message Message
}

type frame struct {
	Ver     int                 `json:"ver"`
	Kind    string              `json:"kind"`
	From    session.ActorNumber `json:"from"`
	To      Route               `json:"to"`
	Seq     uint64              `json:"seq,omitempty"`
	Payload json.RawMessage     `json:"payload"`
}

// Frame is exported for schema generation only.
type Frame = frame

// Encode renders an envelope as a versioned JSON frame.
func Encode(env Envelope) ([]byte, error) {
	if env.Message == nil {
		return nil, fmt.Errorf("encode envelope: nil message")
	}
	kind := env.Message.Kind()
	if kind == 0 || kind >= kindCount {
		return nil, fmt.Errorf("encode envelope: %w: %d", ErrUnknownKind, kind)
	}
	payload, err := json.Marshal(env.Message)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return json.Marshal(frame{
		Ver:     Version,
		Kind:    kind.String(),
		From:    env.From,
		To:      env.To,
		Seq:     env.Seq,
		Payload: payload,
	})
}

// Decode parses a JSON frame, decoding the payload into its concrete variant.
func Decode(data []byte) (Envelope, error) {
	if len(data) == 0 {
		return Envelope{}, fmt.Errorf("decode envelope: empty frame")
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if f.Ver == 0 {
		f.Ver = Version
	}
	if f.Ver != Version {
		return Envelope{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, f.Ver)
	}
	kind, err := ParseKind(f.Kind)
	if err != nil {
		return Envelope{}, err
	}
	msg, err := decodeMessage(kind, f.Payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{From: f.From, To: f.To, Seq: f.Seq, Message: msg}, nil
}

func decodeMessage(kind Kind, raw json.RawMessage) (Message, error) {
	switch kind {
	case KindApplyDamage:
		return decodePayload[ApplyDamage](kind, raw)
	case KindShowDamageEffect:
		return decodePayload[ShowDamageEffect](kind, raw)
	case KindHeal:
		return decodePayload[Heal](kind, raw)
	case KindExplode:
		return decodePayload[Explode](kind, raw)
	case KindUpdateScore:
		return decodePayload[UpdateScore](kind, raw)
	case KindEndGame:
		return decodePayload[EndGame](kind, raw)
	case KindSetTimeScale:
		return decodePayload[SetTimeScale](kind, raw)
	case KindRespawnAll:
		return decodePayload[RespawnAll](kind, raw)
	case KindShowChoiceUI:
		return decodePayload[ShowChoiceUI](kind, raw)
	case KindSubmitChoice:
		return decodePayload[SubmitChoice](kind, raw)
	case KindApplyChoicesAndResume:
		return decodePayload[ApplyChoicesAndResume](kind, raw)
	case KindSpawnProjectile:
		return decodePayload[SpawnProjectile](kind, raw)
	case KindDestroyProjectile:
		return decodePayload[DestroyProjectile](kind, raw)
	case KindWelcome:
		return decodePayload[Welcome](kind, raw)
	case KindRoster:
		return decodePayload[Roster](kind, raw)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
}

func decodePayload[T Message](kind Kind, raw json.RawMessage) (Message, error) {
	var out T
	if len(raw) == 0 {
		return nil, fmt.Errorf("decode %s: empty payload", kind)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return out, nil
}
