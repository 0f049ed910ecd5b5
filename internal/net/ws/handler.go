// Package ws serves the player websocket: it attaches the connection to the
// transport hub, stages the join, and turns client messages into commands.
package ws

import (
	nethttp "net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sightline/server/internal/interest"
	"sightline/server/internal/net/intake"
	"sightline/server/internal/net/proto"
	"sightline/server/internal/session"
	"sightline/server/internal/sim"
	"sightline/server/internal/telemetry"
	"sightline/server/internal/transport"
)

const defaultReadLimit = 4096

// Sessions resolves session ids issued by the join endpoint.
type Sessions interface {
	Lookup(id interest.PlayerID) (session.Player, bool)
}

// Connections owns the write side of every player connection.
type Connections interface {
	Attach(player interest.PlayerID, conn transport.Conn) error
	Reply(player interest.PlayerID, data []byte) bool
}

// Loop stages commands for the simulation.
type Loop interface {
	Enqueue(cmd sim.Command) (bool, string)
	Tick() uint64
}

type HandlerConfig struct {
	Logger    telemetry.Logger
	Now       func() time.Time
	ReadLimit int64
}

// Handler upgrades /ws requests and runs the read side of each connection.
type Handler struct {
	sessions    Sessions
	connections Connections
	loop        Loop
	logger      telemetry.Logger
	now         func() time.Time
	readLimit   int64
	upgrader    websocket.Upgrader

	mu      sync.Mutex
	current map[interest.PlayerID]*websocket.Conn
}

func NewHandler(sessions Sessions, connections Connections, loop Loop, cfg HandlerConfig) *Handler {
	h := &Handler{
		sessions:    sessions,
		connections: connections,
		loop:        loop,
		logger:      cfg.Logger,
		now:         cfg.Now,
		readLimit:   cfg.ReadLimit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *nethttp.Request) bool {
				return true
			},
		},
		current: make(map[interest.PlayerID]*websocket.Conn),
	}
	if h.logger == nil {
		h.logger = telemetry.NopLogger()
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.readLimit <= 0 {
		h.readLimit = defaultReadLimit
	}
	return h
}

func (h *Handler) ServeHTTP(w nethttp.ResponseWriter, r *nethttp.Request) {
	playerID := interest.PlayerID(r.URL.Query().Get("id"))
	if playerID == "" {
		nethttp.Error(w, "missing id", nethttp.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", playerID, err)
		return
	}
	h.Serve(playerID, conn)
}

// Serve runs a session for conn until the client goes away. It returns once
// the connection's read side fails.
func (h *Handler) Serve(playerID interest.PlayerID, conn *websocket.Conn) {
	if _, ok := h.sessions.Lookup(playerID); !ok {
		h.refuse(conn, "unknown player")
		return
	}
	if err := h.connections.Attach(playerID, conn); err != nil {
		h.logger.Printf("attach failed for %s: %v", playerID, err)
		h.refuse(conn, "server closing")
		return
	}
	h.mu.Lock()
	h.current[playerID] = conn
	h.mu.Unlock()

	if ok, reason := h.loop.Enqueue(sim.Command{ActorID: playerID, Type: sim.CommandJoin}); !ok {
		h.logger.Printf("join for %s dropped: %s", playerID, reason)
	}

	conn.SetReadLimit(h.readLimit)
	stage := intake.CommandContext{
		Loop: h.loop,
		HasPlayer: func(id interest.PlayerID) bool {
			_, ok := h.sessions.Lookup(id)
			return ok
		},
		Tick: h.loop.Tick,
		Now:  h.now,
	}

	var lastSeq uint64
	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			h.closed(playerID, conn)
			return
		}

		var msg proto.ClientMessage
		if kind == websocket.BinaryMessage {
			msg, err = proto.DecodeBinaryClientMessage(payload)
		} else {
			msg, err = proto.DecodeClientMessage(payload)
		}
		if err != nil {
			h.logger.Printf("discarding malformed message from %s: %v", playerID, err)
			continue
		}

		if msg.Type == proto.TypeHeartbeat {
			h.heartbeat(playerID, msg)
			continue
		}

		seq := msg.Seq()
		if seq > 0 && seq <= lastSeq {
			reply(h, playerID, proto.EncodeCommandAck, proto.CommandAck{Seq: seq})
			continue
		}
		cmd, ok, reason := intake.StageClientCommand(stage, playerID, msg)
		if !ok {
			if reason == intake.CommandRejectInvalid {
				h.logger.Printf("unknown message type %q from %s", msg.Type, playerID)
			}
			if seq > 0 {
				reply(h, playerID, proto.EncodeCommandReject, proto.CommandReject{
					Seq:    seq,
					Reason: reason,
					Retry:  reason == sim.CommandRejectQueueLimit,
					Tick:   h.loop.Tick(),
				})
			}
			continue
		}
		if seq > 0 {
			lastSeq = seq
			reply(h, playerID, proto.EncodeCommandAck, proto.CommandAck{Seq: seq, Tick: cmd.OriginTick})
		}
	}
}

func (h *Handler) heartbeat(playerID interest.PlayerID, msg proto.ClientMessage) {
	now := h.now()
	var rtt int64
	if msg.SentAt > 0 {
		rtt = max(now.UnixMilli()-msg.SentAt, 0)
	}
	reply(h, playerID, proto.EncodeHeartbeat, proto.Heartbeat{
		ServerTime: now.UnixMilli(),
		ClientTime: msg.SentAt,
		RTTMillis:  rtt,
	})
}

func reply[T any](h *Handler, playerID interest.PlayerID, encode func(T) ([]byte, error), msg T) {
	data, err := encode(msg)
	if err != nil {
		h.logger.Printf("failed to marshal response for %s: %v", playerID, err)
		return
	}
	if !h.connections.Reply(playerID, data) {
		h.logger.Printf("response to %s dropped", playerID)
	}
}

// closed stages a leave unless a newer connection has replaced conn.
func (h *Handler) closed(playerID interest.PlayerID, conn *websocket.Conn) {
	h.mu.Lock()
	current := h.current[playerID] == conn
	if current {
		delete(h.current, playerID)
	}
	h.mu.Unlock()
	if !current {
		return
	}
	cmd := sim.Command{ActorID: playerID, Type: sim.CommandLeave, Leave: &sim.LeaveCommand{Reason: "connection_closed"}}
	if ok, reason := h.loop.Enqueue(cmd); !ok {
		h.logger.Printf("leave for %s dropped: %s", playerID, reason)
	}
}

func (h *Handler) refuse(conn *websocket.Conn, reason string) {
	message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	conn.WriteMessage(websocket.CloseMessage, message)
	conn.Close()
}
