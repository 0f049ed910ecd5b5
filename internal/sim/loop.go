package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sightline/server/internal/codec"
	"sightline/server/internal/interest"
	"sightline/server/internal/session"
	"sightline/server/internal/telemetry"
	"sightline/server/internal/world"
	"sightline/server/logging"
	lifecyclelog "sightline/server/logging/lifecycle"
	simlog "sightline/server/logging/simulation"
)

const (
	// CommandRejectQueueLimit indicates a command was dropped due to per-actor
	// queue throttling.
	CommandRejectQueueLimit = "queue_limit"
	// CommandRejectQueueFull indicates the global command buffer is saturated.
	CommandRejectQueueFull = "queue_full"
)

const (
	defaultTickRate         = 15
	defaultAvatarSpeed      = 160.0
	defaultSnapshotInterval = 30
)

const (
	metricTicks          = "sim_ticks_total"
	metricTickFailures   = "sim_tick_failures_total"
	metricBudgetOverruns = "sim_tick_budget_overruns_total"
	metricReplicated     = "sim_entities_replicated_total"
	metricCommands       = "sim_commands_applied_total"
)

// LoopConfig tunes the command buffer and tick loop orchestration.
type LoopConfig struct {
	TickRate        int     `yaml:"tick_rate"`
	CatchupMaxTicks int     `yaml:"catchup_max_ticks"`
	CommandCapacity int     `yaml:"command_capacity"`
	PerActorLimit   int     `yaml:"per_actor_limit"`
	WarningStep     int     `yaml:"warning_step"`
	AvatarSpeed     float64 `yaml:"avatar_speed"`
	// SnapshotInterval is the number of ticks between full-state sends.
	// Ticks in between replicate only entities that moved.
	SnapshotInterval int `yaml:"snapshot_interval"`
}

// DefaultLoopConfig returns the standard loop tuning.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		TickRate:         defaultTickRate,
		CatchupMaxTicks:  3,
		CommandCapacity:  1024,
		PerActorLimit:    8,
		WarningStep:      256,
		AvatarSpeed:      defaultAvatarSpeed,
		SnapshotInterval: defaultSnapshotInterval,
	}
}

// Normalized replaces unusable values with defaults.
func (c LoopConfig) Normalized() LoopConfig {
	if c.TickRate <= 0 {
		c.TickRate = defaultTickRate
	}
	if c.CommandCapacity <= 0 {
		c.CommandCapacity = 1
	}
	if c.AvatarSpeed <= 0 {
		c.AvatarSpeed = defaultAvatarSpeed
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = defaultSnapshotInterval
	}
	return c
}

// Connections detaches a player's network connection.
type Connections interface {
	Detach(player interest.PlayerID) bool
}

// Deps carries the collaborators driven by the loop.
type Deps struct {
	World       *world.World
	Sessions    *session.Registry
	Interest    *interest.Manager
	Transport   interest.Transport
	Connections Connections
	Framer      codec.Framer
	// Ticks is shared with components that stamp events with the current
	// tick. A nil Ticks uses a private counter.
	Ticks *atomic.Uint64

	Clock     logging.Clock
	Logger    telemetry.Logger
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
}

// LoopHooks exposes optional callbacks around each step.
type LoopHooks struct {
	AfterStep      func(LoopStepResult)
	OnQueueWarning func(length int)
	OnCommandDrop  func(reason string, cmd Command)
}

// LoopTickContext describes the tick being advanced.
type LoopTickContext struct {
	Tick  uint64
	Now   time.Time
	Delta float64
}

// LoopStepResult reports what one step did.
type LoopStepResult struct {
	Tick         uint64
	Now          time.Time
	Delta        float64
	Duration     time.Duration
	Budget       time.Duration
	ClampedDelta bool
	Commands     []Command
	Moved        []interest.EntityID
	Replicated   int
	Err          error
}

// Loop owns the simulation goroutine: it applies staged commands, advances
// the world, runs visibility checks and replicates entity state through the
// interest manager.
type Loop struct {
	deps   Deps
	buffer *CommandBuffer
	hooks  LoopHooks
	config LoopConfig
	ticks  *atomic.Uint64

	clock     logging.Clock
	logger    telemetry.Logger
	publisher logging.Publisher
	metrics   telemetry.Metrics

	queueMu       sync.Mutex
	perActorCount map[interest.PlayerID]int
	dropCounts    map[interest.PlayerID]uint64

	overrunStreak uint64
}

// NewLoop wires the loop to its collaborators.
func NewLoop(cfg LoopConfig, deps Deps, hooks LoopHooks) *Loop {
	cfg = cfg.Normalized()
	l := &Loop{
		deps:          deps,
		hooks:         hooks,
		config:        cfg,
		ticks:         deps.Ticks,
		clock:         deps.Clock,
		logger:        deps.Logger,
		publisher:     deps.Publisher,
		metrics:       deps.Metrics,
		perActorCount: make(map[interest.PlayerID]int),
		dropCounts:    make(map[interest.PlayerID]uint64),
	}
	if l.ticks == nil {
		l.ticks = new(atomic.Uint64)
	}
	if l.clock == nil {
		l.clock = logging.SystemClock{}
	}
	if l.logger == nil {
		l.logger = telemetry.NopLogger()
	}
	if l.publisher == nil {
		l.publisher = logging.NopPublisher()
	}
	if l.metrics == nil {
		l.metrics = telemetry.NopMetrics()
	}
	l.buffer = NewCommandBuffer(cfg.CommandCapacity, l.metrics)
	return l
}

// Tick returns the last advanced tick.
func (l *Loop) Tick() uint64 {
	return l.ticks.Load()
}

// Pending reports the number of staged commands.
func (l *Loop) Pending() int {
	return l.buffer.Len()
}

// Enqueue stages a command, enforcing per-actor throttling and capacity limits.
// Join and Leave bypass the per-actor limit so a session is never stranded.
func (l *Loop) Enqueue(cmd Command) (bool, string) {
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = l.clock.Now()
	}
	if cmd.OriginTick == 0 {
		cmd.OriginTick = l.Tick()
	}
	reason := ""
	var dropCount uint64
	throttled := cmd.Type != CommandJoin && cmd.Type != CommandLeave

	l.queueMu.Lock()
	if throttled && l.config.PerActorLimit > 0 && cmd.ActorID != "" {
		count := l.perActorCount[cmd.ActorID]
		if count >= l.config.PerActorLimit {
			reason = CommandRejectQueueLimit
			dropCount = l.incrementDropLocked(cmd.ActorID)
		} else {
			l.perActorCount[cmd.ActorID] = count + 1
		}
	}
	warn := 0
	if reason == "" {
		if !l.buffer.Push(cmd) {
			reason = CommandRejectQueueFull
			dropCount = l.incrementDropLocked(cmd.ActorID)
		} else if l.config.WarningStep > 0 {
			length := l.buffer.Len()
			if length >= l.config.WarningStep && length%l.config.WarningStep == 0 {
				warn = length
			}
		}
	}
	l.queueMu.Unlock()

	if warn > 0 && l.hooks.OnQueueWarning != nil {
		l.hooks.OnQueueWarning(warn)
	}
	if reason != "" {
		l.reportDrop(reason, cmd, dropCount)
		return false, reason
	}
	return true, ""
}

// Advance executes a single simulation step using the staged commands.
func (l *Loop) Advance(ctx context.Context, tc LoopTickContext) LoopStepResult {
	l.ticks.Store(tc.Tick)
	result := LoopStepResult{Tick: tc.Tick, Now: tc.Now, Delta: tc.Delta}
	result.Commands = l.drainCommands()
	l.metrics.Add(metricTicks, 1)

	for _, cmd := range result.Commands {
		if err := l.apply(ctx, cmd); err != nil {
			l.fail(ctx, tc.Tick, "command", err)
			result.Err = errors.Join(result.Err, err)
		}
	}
	l.metrics.Add(metricCommands, uint64(len(result.Commands)))

	if l.deps.World != nil {
		result.Moved = l.deps.World.Step(tc.Delta)
	}

	if l.deps.Interest != nil {
		if err := l.deps.Interest.Update(ctx); err != nil {
			l.fail(ctx, tc.Tick, "interest", err)
			result.Err = errors.Join(result.Err, err)
			return result
		}
	}

	replicated, err := l.replicate(ctx, tc.Tick, result.Moved)
	result.Replicated = replicated
	if err != nil {
		l.fail(ctx, tc.Tick, "replicate", err)
		result.Err = errors.Join(result.Err, err)
	}
	return result
}

// Run drives the fixed-timestep loop until the stop channel closes.
func (l *Loop) Run(stop <-chan struct{}) {
	tickRate := l.config.TickRate
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()

	last := l.clock.Now()
	budgetSeconds := 1.0 / float64(tickRate)
	maxDt := budgetSeconds
	if l.config.CatchupMaxTicks > 1 {
		maxDt = budgetSeconds * float64(l.config.CatchupMaxTicks)
	}
	budgetDuration := time.Second / time.Duration(tickRate)

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := l.clock.Now()
			dt := now.Sub(last).Seconds()
			clamped := false
			if dt <= 0 {
				dt = budgetSeconds
			} else if dt > maxDt {
				dt = maxDt
				clamped = true
			}
			last = now

			start := l.clock.Now()
			result := l.Advance(context.Background(), LoopTickContext{Tick: l.Tick() + 1, Now: now, Delta: dt})
			result.Duration = l.clock.Now().Sub(start)
			result.Budget = budgetDuration
			result.ClampedDelta = clamped
			l.observeBudget(result)

			if l.hooks.AfterStep != nil {
				l.hooks.AfterStep(result)
			}
		}
	}
}

func (l *Loop) apply(ctx context.Context, cmd Command) error {
	switch cmd.Type {
	case CommandJoin:
		return l.join(ctx, cmd.ActorID)
	case CommandLeave:
		reason := "disconnect"
		if cmd.Leave != nil && cmd.Leave.Reason != "" {
			reason = cmd.Leave.Reason
		}
		return l.leave(ctx, cmd.ActorID, reason)
	case CommandMove:
		if cmd.Move == nil || l.deps.World == nil {
			return nil
		}
		avatar, ok := l.deps.World.AvatarOf(cmd.ActorID)
		if !ok {
			return nil
		}
		dx := min(max(cmd.Move.DX, -1), 1)
		dy := min(max(cmd.Move.DY, -1), 1)
		return l.deps.World.SetVelocity(avatar, dx*l.config.AvatarSpeed, dy*l.config.AvatarSpeed)
	case CommandSpawn:
		if cmd.Spawn == nil || l.deps.World == nil {
			return nil
		}
		_, err := l.deps.World.Spawn(world.Spawn{Kind: cmd.Spawn.Kind, X: cmd.Spawn.X, Y: cmd.Spawn.Y})
		return err
	default:
		l.logger.Printf("[sim] ignoring unknown command %q from %s", cmd.Type, cmd.ActorID)
		return nil
	}
}

// join authenticates the session, spawns the player's avatar and tells the
// player which entity it controls.
func (l *Loop) join(ctx context.Context, player interest.PlayerID) error {
	if l.deps.Sessions == nil || l.deps.World == nil {
		return nil
	}
	err := l.deps.Sessions.Authenticate(player)
	switch {
	case errors.Is(err, session.ErrUnknownSession), errors.Is(err, session.ErrAlreadyActive):
		l.logger.Printf("[sim] join ignored for %s: %v", player, err)
		return nil
	case err != nil:
		return fmt.Errorf("sim: authenticate %s: %w", player, err)
	}

	width, height := l.deps.World.Dimensions()
	avatar, err := l.deps.World.Spawn(world.Spawn{Kind: world.KindAvatar, X: width / 2, Y: height / 2, Owner: player})
	if avatar.ID != 0 {
		l.deps.Sessions.SetAvatar(player, avatar.ID)
	}
	if err != nil {
		return fmt.Errorf("sim: spawn avatar for %s: %w", player, err)
	}

	if l.deps.Transport == nil {
		return nil
	}
	frame, err := l.deps.Framer.Encode(codec.Message{
		Kind:   codec.KindWelcome,
		Tick:   l.Tick(),
		Entity: uint64(avatar.ID),
		Player: string(player),
	})
	if err != nil {
		return err
	}
	return l.deps.Transport.SendToMany(ctx, []interest.PlayerID{player}, frame, interest.ChannelReliable)
}

// leave tells the avatar's observers it is gone, then removes the avatar,
// the session and the connection.
func (l *Loop) leave(ctx context.Context, player interest.PlayerID, reason string) error {
	var errs []error
	if l.deps.World != nil {
		if avatar, ok := l.deps.World.AvatarOf(player); ok {
			if err := l.sendEntity(ctx, codec.KindDespawn, avatar, interest.ChannelReliable, player); err != nil {
				errs = append(errs, err)
			}
			if _, err := l.deps.World.Despawn(avatar); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if l.deps.Sessions != nil {
		if _, ok, err := l.deps.Sessions.Disconnect(player); ok {
			lifecyclelog.PlayerDisconnected(ctx, l.publisher, l.Tick(), logging.PlayerRef(string(player)),
				lifecyclelog.PlayerDisconnectedPayload{Reason: reason}, nil)
			if err != nil {
				errs = append(errs, err)
			}
		}
	}
	if l.deps.Connections != nil {
		l.deps.Connections.Detach(player)
	}
	l.queueMu.Lock()
	delete(l.dropCounts, player)
	l.queueMu.Unlock()
	return errors.Join(errs...)
}

func (l *Loop) replicate(ctx context.Context, tick uint64, moved []interest.EntityID) (int, error) {
	if l.deps.World == nil || l.deps.Interest == nil {
		return 0, nil
	}
	full := tick%uint64(l.config.SnapshotInterval) == 0
	ids := moved
	if full {
		ids = l.deps.World.Spawned()
	}

	sent := 0
	for _, id := range ids {
		entity, ok := l.deps.World.Entity(id)
		if !ok {
			continue
		}
		var skip []interest.PlayerID
		if !full && entity.Owner != "" {
			skip = append(skip, entity.Owner)
		}
		if err := l.sendEntity(ctx, codec.KindState, id, interest.ChannelUnreliable, skip...); err != nil {
			return sent, err
		}
		sent++
	}
	l.metrics.Add(metricReplicated, uint64(sent))
	return sent, nil
}

func (l *Loop) sendEntity(ctx context.Context, kind codec.Kind, id interest.EntityID, channel interest.Channel, skip ...interest.PlayerID) error {
	msg, ok := l.deps.World.Message(kind, id)
	if !ok {
		return nil
	}
	frame, err := l.deps.Framer.Encode(msg)
	if err != nil {
		return err
	}
	return l.deps.Interest.Send(ctx, id, frame, channel, skip...)
}

func (l *Loop) observeBudget(result LoopStepResult) {
	if result.Budget <= 0 || result.Duration <= result.Budget {
		l.overrunStreak = 0
		return
	}
	l.overrunStreak++
	l.metrics.Add(metricBudgetOverruns, 1)
	simlog.TickBudgetOverrun(context.Background(), l.publisher, result.Tick, simlog.TickBudgetOverrunPayload{
		DurationMillis: result.Duration.Milliseconds(),
		BudgetMillis:   result.Budget.Milliseconds(),
		Ratio:          float64(result.Duration) / float64(result.Budget),
		Streak:         l.overrunStreak,
	}, map[string]any{"commands": len(result.Commands), "replicated": result.Replicated})
}

func (l *Loop) fail(ctx context.Context, tick uint64, stage string, err error) {
	l.metrics.Add(metricTickFailures, 1)
	l.logger.Printf("[sim] tick %d %s failed: %v", tick, stage, err)
	simlog.TickFailed(ctx, l.publisher, tick, simlog.TickFailedPayload{Stage: stage, Error: err.Error()})
}

func (l *Loop) drainCommands() []Command {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	commands := l.buffer.Drain()
	if len(l.perActorCount) > 0 {
		clear(l.perActorCount)
	}
	return commands
}

func (l *Loop) incrementDropLocked(actorID interest.PlayerID) uint64 {
	if actorID == "" {
		return 0
	}
	count := l.dropCounts[actorID] + 1
	l.dropCounts[actorID] = count
	return count
}

func (l *Loop) reportDrop(reason string, cmd Command, count uint64) {
	if l.hooks.OnCommandDrop != nil {
		l.hooks.OnCommandDrop(reason, cmd)
	}
	if count > 0 && count&(count-1) == 0 {
		l.logger.Printf(
			"[backpressure] dropping command actor=%s type=%s count=%d limit=%d",
			cmd.ActorID,
			cmd.Type,
			count,
			l.config.PerActorLimit,
		)
	}
}
