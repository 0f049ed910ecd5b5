// Package transport delivers encoded replication frames to connected players
// over websockets.
package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sightline/server/internal/interest"
	"sightline/server/internal/telemetry"
	"sightline/server/logging"
	networklog "sightline/server/logging/network"
)

const (
	defaultQueueSize = 64
	defaultWriteWait = 10 * time.Second
)

const (
	metricFramesQueued  = "transport_frames_queued_total"
	metricFramesWritten = "transport_frames_written_total"
	metricBytesWritten  = "transport_bytes_written_total"
	metricDropped       = "transport_unreliable_dropped_total"
	metricSlowConsumers = "transport_slow_consumers_total"
	metricWriteFailures = "transport_write_failures_total"
	metricConnections   = "transport_connections"
)

// ErrClosed is returned when attaching to a closed Hub.
var ErrClosed = errors.New("transport: hub closed")

// Conn is the subset of *websocket.Conn the Hub writes through.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Config sizes per-connection queues.
type Config struct {
	QueueSize int           `yaml:"queue_size"`
	WriteWait time.Duration `yaml:"write_wait"`
}

// DefaultConfig returns the default queue sizing.
func DefaultConfig() Config {
	return Config{QueueSize: defaultQueueSize, WriteWait: defaultWriteWait}
}

func (c Config) normalized() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
	return c
}

// Deps carries the Hub's infrastructure.
type Deps struct {
	Logger    telemetry.Logger
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
	Tick      func() uint64
	// OnDisconnect runs after the Hub drops a connection on its own, either
	// for a failed write or an overflowing reliable queue.
	OnDisconnect func(player interest.PlayerID)
}

// Hub fans frames out to per-player writer goroutines. Each connection has a
// reliable and an unreliable queue. A full unreliable queue drops the frame;
// a full reliable queue disconnects the player, since a gap in reliable
// delivery cannot be repaired.
type Hub struct {
	cfg Config

	mu      sync.RWMutex
	clients map[interest.PlayerID]*client
	closed  bool
	wg      sync.WaitGroup

	logger       telemetry.Logger
	publisher    logging.Publisher
	metrics      telemetry.Metrics
	tick         func() uint64
	onDisconnect func(interest.PlayerID)
}

type frame struct {
	kind int
	data []byte
}

type client struct {
	player     interest.PlayerID
	conn       Conn
	reliable   chan frame
	unreliable chan frame
	done       chan struct{}
	closeOnce  sync.Once
}

func (c *client) stop() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// NewHub constructs an empty Hub.
func NewHub(cfg Config, deps Deps) *Hub {
	h := &Hub{
		cfg:          cfg.normalized(),
		clients:      make(map[interest.PlayerID]*client),
		logger:       deps.Logger,
		publisher:    deps.Publisher,
		metrics:      deps.Metrics,
		tick:         deps.Tick,
		onDisconnect: deps.OnDisconnect,
	}
	if h.logger == nil {
		h.logger = telemetry.NopLogger()
	}
	if h.publisher == nil {
		h.publisher = logging.NopPublisher()
	}
	if h.metrics == nil {
		h.metrics = telemetry.NopMetrics()
	}
	if h.tick == nil {
		h.tick = func() uint64 { return 0 }
	}
	return h
}

// Attach binds conn to player and starts its writer. An existing connection
// for the same player is replaced and closed.
func (h *Hub) Attach(player interest.PlayerID, conn Conn) error {
	c := &client{
		player:     player,
		conn:       conn,
		reliable:   make(chan frame, h.cfg.QueueSize),
		unreliable: make(chan frame, h.cfg.QueueSize),
		done:       make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	previous := h.clients[player]
	h.clients[player] = c
	count := len(h.clients)
	h.wg.Add(1)
	h.mu.Unlock()

	if previous != nil {
		previous.stop()
	}
	h.metrics.Store(metricConnections, uint64(count))
	go h.writeLoop(c)
	return nil
}

// Detach closes the connection for player. It reports whether one existed.
func (h *Hub) Detach(player interest.PlayerID) bool {
	h.mu.Lock()
	c, ok := h.clients[player]
	if ok {
		delete(h.clients, player)
	}
	count := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return false
	}
	c.stop()
	h.metrics.Store(metricConnections, uint64(count))
	return true
}

// Connected returns the players with an attached connection.
func (h *Hub) Connected() []interest.PlayerID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	players := make([]interest.PlayerID, 0, len(h.clients))
	for player := range h.clients {
		players = append(players, player)
	}
	return players
}

// SendToMany enqueues message for every listed player that has a
// connection. Players without a connection are skipped. It never blocks on
// the network and does not retain players.
func (h *Hub) SendToMany(ctx context.Context, players []interest.PlayerID, message []byte, channel interest.Channel) error {
	var slow []*client

	h.mu.RLock()
	for _, player := range players {
		c, ok := h.clients[player]
		if !ok {
			continue
		}
		queue := c.reliable
		if channel == interest.ChannelUnreliable {
			queue = c.unreliable
		}
		select {
		case queue <- frame{kind: websocket.BinaryMessage, data: message}:
			h.metrics.Add(metricFramesQueued, 1)
		default:
			payload := networklog.QueuePayload{Channel: channel.String(), Capacity: cap(queue)}
			if channel == interest.ChannelUnreliable {
				h.metrics.Add(metricDropped, 1)
				networklog.SendDropped(ctx, h.publisher, h.tick(), logging.PlayerRef(string(player)), payload)
				continue
			}
			h.metrics.Add(metricSlowConsumers, 1)
			networklog.SlowConsumer(ctx, h.publisher, h.tick(), logging.PlayerRef(string(player)), payload)
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Printf("[transport] reliable queue full for %s, disconnecting", c.player)
		h.drop(c)
	}
	return nil
}

// Reply queues a text control message, such as a command acknowledgement,
// on player's reliable queue. It reports false when the player has no
// connection or the queue is full.
func (h *Hub) Reply(player interest.PlayerID, data []byte) bool {
	h.mu.RLock()
	c, ok := h.clients[player]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case c.reliable <- frame{kind: websocket.TextMessage, data: data}:
		h.metrics.Add(metricFramesQueued, 1)
		return true
	default:
		return false
	}
}

// drop removes c if it is still the current connection for its player and
// notifies OnDisconnect.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	current, ok := h.clients[c.player]
	owned := ok && current == c
	if owned {
		delete(h.clients, c.player)
	}
	count := len(h.clients)
	closed := h.closed
	h.mu.Unlock()

	c.stop()
	if !owned {
		return
	}
	h.metrics.Store(metricConnections, uint64(count))
	if h.onDisconnect != nil && !closed {
		h.onDisconnect(c.player)
	}
}

func (h *Hub) writeLoop(c *client) {
	defer h.wg.Done()
	defer c.conn.Close()

	for {
		var next frame
		select {
		case <-c.done:
			return
		case next = <-c.reliable:
		default:
			select {
			case <-c.done:
				return
			case next = <-c.reliable:
			case next = <-c.unreliable:
			}
		}

		c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
		if err := c.conn.WriteMessage(next.kind, next.data); err != nil {
			h.metrics.Add(metricWriteFailures, 1)
			h.logger.Printf("[transport] failed to send to %s: %v", c.player, err)
			networklog.WriteFailed(context.Background(), h.publisher, h.tick(), logging.PlayerRef(string(c.player)),
				networklog.WriteFailedPayload{Error: err.Error()})
			go h.drop(c)
			return
		}
		h.metrics.Add(metricFramesWritten, 1)
		h.metrics.Add(metricBytesWritten, uint64(len(next.data)))
	}
}

// Close disconnects every player and waits for the writers to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := h.clients
	h.clients = make(map[interest.PlayerID]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.stop()
	}
	h.wg.Wait()
	h.metrics.Store(metricConnections, 0)
}
