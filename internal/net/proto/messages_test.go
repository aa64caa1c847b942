package proto

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"arena-duel/server/internal/geom"
)

func sampleMessages() []Message {
	return []Message{
		ApplyDamage{Target: "avatar-2", Amount: 40, Attacker: 1, Cause: CauseDirect},
		ShowDamageEffect{Victim: "avatar-2", Attacker: 1, Amount: 40, Health: 60, Revision: 3},
		Heal{Avatar: "avatar-1", Amount: 12},
		Explode{Projectile: "p-1", Attacker: 1, Point: geom.V(1, 2, 3), Radius: 4, Damage: 15},
		UpdateScore{Actor: 1, Score: 2},
		EndGame{Winner: 1, Scores: []ScoreEntry{{Actor: 1, Score: 5}, {Actor: 2, Score: 3}}},
		SetTimeScale{Scale: 0.2},
		RespawnAll{Round: 4},
		ShowChoiceUI{Round: 3, Loser: 2, LossName: "bravo", Panels: []ChoicePanel{{Participant: 1, Options: []int{0, 4, 9}}}},
		SubmitChoice{Panel: 1, Choice: 2},
		ApplyChoicesAndResume{Round: 3, Picks: []ChoicePick{{Participant: 1, Reward: 4}, {Participant: 2, Reward: 7}}},
		SpawnProjectile{Projectile: "p-1", Owner: 1, Velocity: geom.V(0, 0, 30), Damage: 20, Homing: true},
		DestroyProjectile{Projectile: "p-1", Reason: "expired"},
		Welcome{Actor: 3, Slot: 1, Version: Version},
		Roster{Peers: []PeerInfo{{Actor: 1, Slot: 0}, {Actor: 3, Slot: 1}}, Authority: 1},
	}
}

func TestEveryKindRoundTrips(t *testing.T) {
	messages := sampleMessages()
	if len(messages) != len(Kinds()) {
		t.Fatalf("sample set covers %d kinds, protocol defines %d", len(messages), len(Kinds()))
	}
	seen := make(map[Kind]bool)
	for _, msg := range messages {
		msg := msg
		t.Run(msg.Kind().String(), func(t *testing.T) {
			seen[msg.Kind()] = true
			data, err := Encode(Envelope{From: 1, To: Route{Kind: RouteAuthority}, Seq: 9, Message: msg})
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			env, err := Decode(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if env.From != 1 || env.Seq != 9 || env.To.Kind != RouteAuthority {
				t.Fatalf("unexpected envelope header %+v", env)
			}
			if !reflect.DeepEqual(env.Message, msg) {
				t.Fatalf("payload mismatch\nwant %#v\ngot  %#v", msg, env.Message)
			}
		})
	}
	for _, k := range Kinds() {
		if !seen[k] {
			t.Fatalf("kind %s not exercised", k)
		}
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	data, _ := json.Marshal(map[string]any{"ver": Version, "kind": "teleport", "payload": map[string]any{}})
	if _, err := Decode(data); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestDecodeRejectsVersionMismatch(t *testing.T) {
	data, _ := json.Marshal(map[string]any{"ver": Version + 1, "kind": "heal", "payload": map[string]any{}})
	if _, err := Decode(data); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestDecodeRejectsEmptyPayload(t *testing.T) {
	data, _ := json.Marshal(map[string]any{"ver": Version, "kind": "heal"})
	if _, err := Decode(data); err == nil {
		t.Fatalf("expected error for missing payload")
	}
	if _, err := Decode(nil); err == nil {
		t.Fatalf("expected error for empty frame")
	}
}

func TestEncodeRejectsNilMessage(t *testing.T) {
	if _, err := Encode(Envelope{}); err == nil {
		t.Fatalf("expected error for nil message")
	}
}

func TestParseKindNames(t *testing.T) {
	for _, k := range Kinds() {
		parsed, err := ParseKind(k.String())
		if err != nil || parsed != k {
			t.Fatalf("ParseKind(%q) = %v, %v", k.String(), parsed, err)
		}
	}
}

func TestSelfStateIsOrderedArray(t *testing.T) {
	in := SelfState{
		Actor:     2,
		Avatar:    "avatar-2",
		Health:    60,
		MaxHealth: 100,
		Revision:  3,
		Position:  geom.V(1, 0, -4),
		Yaw:       1.5,
		Pitch:     -0.2,
		Tick:      77,
	}
	data, err := EncodeSelfState(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// msgpack fixarray header for nine elements.
	if data[0] != 0x99 {
		t.Fatalf("expected fixarray(9) header, got %#x", data[0])
	}
	out, err := DecodeSelfState(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch\nwant %+v\ngot  %+v", in, out)
	}
}
