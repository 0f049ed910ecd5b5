// Package intake validates client messages and stages them as simulation
// commands.
package intake

import (
	"time"

	"sightline/server/internal/interest"
	"sightline/server/internal/net/proto"
	"sightline/server/internal/sim"
)

const (
	// CommandRejectInvalid marks a message that does not map to a command.
	CommandRejectInvalid = "invalid_command"
	// CommandRejectUnknownActor marks a command from a player without an
	// authenticated session.
	CommandRejectUnknownActor = "unknown_actor"
)

// Enqueuer stages commands for the next tick.
type Enqueuer interface {
	Enqueue(cmd sim.Command) (bool, string)
}

type CommandContext struct {
	Loop      Enqueuer
	HasPlayer func(interest.PlayerID) bool
	Tick      func() uint64
	Now       func() time.Time
}

// StageClientCommand converts msg into a command for playerID and enqueues
// it. The reason is empty when the command was staged.
func StageClientCommand(ctx CommandContext, playerID interest.PlayerID, msg proto.ClientMessage) (sim.Command, bool, string) {
	var zero sim.Command

	command, ok := proto.ClientCommand(msg)
	if !ok {
		return zero, false, CommandRejectInvalid
	}

	switch command.Type {
	case sim.CommandMove:
		if command.Move == nil {
			return zero, false, CommandRejectInvalid
		}
	case sim.CommandSpawn:
		if command.Spawn == nil {
			return zero, false, CommandRejectInvalid
		}
	case sim.CommandLeave:
	default:
		return zero, false, CommandRejectInvalid
	}

	if ctx.HasPlayer != nil && !ctx.HasPlayer(playerID) {
		return zero, false, CommandRejectUnknownActor
	}

	command.ActorID = playerID
	if ctx.Tick != nil {
		command.OriginTick = ctx.Tick()
	}
	if ctx.Now != nil {
		command.IssuedAt = ctx.Now()
	} else {
		command.IssuedAt = time.Now()
	}

	if ctx.Loop == nil {
		return zero, false, sim.CommandRejectQueueFull
	}
	if ok, reason := ctx.Loop.Enqueue(command); !ok {
		return zero, false, reason
	}
	return command, true, ""
}
