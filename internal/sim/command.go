package sim

import "time"

// CommandType enumerates the input intents a peer routes to its own avatar.
type CommandType string

const (
	CommandMove CommandType = "Move"
	CommandLook CommandType = "Look"
	CommandJump CommandType = "Jump"
	CommandDash CommandType = "Dash"
	CommandFire CommandType = "Fire"

	// CommandChoose picks a reward from the open draft panel.
	CommandChoose CommandType = "Choose"
)

// MoveCommand carries the desired planar movement on the avatar's local axes.
// Components are clamped to [-1, 1].
type MoveCommand struct {
	Forward float64 `json:"forward"`
	Strafe  float64 `json:"strafe"`
}

// LookCommand sets the absolute camera orientation in radians.
type LookCommand struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
}

// ChooseCommand carries a panel-local draft option.
type ChooseCommand struct {
	Option int `json:"option"`
}

// Command represents an intent captured for processing on the next tick.
type Command struct {
	OriginTick uint64         `json:"originTick"`
	Type       CommandType    `json:"type"`
	IssuedAt   time.Time      `json:"issuedAt"`
	Move       *MoveCommand   `json:"move,omitempty"`
	Look       *LookCommand   `json:"look,omitempty"`
	Choose     *ChooseCommand `json:"choose,omitempty"`
}
