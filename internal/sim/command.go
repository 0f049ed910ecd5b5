package sim

import (
	"time"

	"sightline/server/internal/interest"
)

// CommandType enumerates the supported simulation commands.
type CommandType string

const (
	CommandJoin  CommandType = "Join"
	CommandLeave CommandType = "Leave"
	CommandMove  CommandType = "Move"
	CommandSpawn CommandType = "Spawn"
)

// MoveCommand carries the desired movement direction, each axis in [-1, 1].
type MoveCommand struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// SpawnCommand places a new entity.
type SpawnCommand struct {
	Kind string  `json:"kind"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// LeaveCommand records why a player left.
type LeaveCommand struct {
	Reason string `json:"reason"`
}

// Command represents an intent captured for processing on the next tick.
type Command struct {
	OriginTick uint64            `json:"originTick"`
	ActorID    interest.PlayerID `json:"actorId"`
	Type       CommandType       `json:"type"`
	IssuedAt   time.Time         `json:"issuedAt"`
	Move       *MoveCommand      `json:"move,omitempty"`
	Spawn      *SpawnCommand     `json:"spawn,omitempty"`
	Leave      *LeaveCommand     `json:"leave,omitempty"`
}
