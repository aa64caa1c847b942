package proto

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"arena-duel/server/internal/geom"
	"arena-duel/server/internal/session"
)

// SelfState is the periodic one-way publication an owner sends for its own
// avatar. It travels as a msgpack array in binary frames, so field order is
// the format: append new fields at the end only.
type SelfState struct {
	_msgpack struct{} `msgpack:",as_array"`

	Actor     session.ActorNumber `json:"actor"`
	Avatar    session.EntityID    `json:"avatar"`
	Health    int                 `json:"health"`
	MaxHealth int                 `json:"maxHealth"`
	Revision  uint64              `json:"revision"`
	Position  geom.Vec3           `json:"position"`
	Yaw       float64             `json:"yaw"`
	Pitch     float64             `json:"pitch"`
	Tick      uint64              `json:"tick"`
}

// EncodeSelfState renders a self-state publication.
func EncodeSelfState(s SelfState) ([]byte, error) {
	data, err := msgpack.Marshal(&s)
	if err != nil {
		return nil, fmt.Errorf("encode self state: %w", err)
	}
	return data, nil
}

// DecodeSelfState parses a self-state publication.
func DecodeSelfState(data []byte) (SelfState, error) {
	var s SelfState
	if len(data) == 0 {
		return s, fmt.Errorf("decode self state: empty frame")
	}
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("decode self state: %w", err)
	}
	return s, nil
}
