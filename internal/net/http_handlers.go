package net

import (
	"encoding/json"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/pprof"
	"time"

	"sightline/server/internal/net/proto"
	"sightline/server/internal/observability"
	"sightline/server/internal/session"
	"sightline/server/internal/telemetry"
	"sightline/server/logging"
)

const maxJoinBody = 1 << 10

// Sessions issues and lists player sessions.
type Sessions interface {
	Issue(name string) session.Player
	Snapshot() []session.Player
}

// HTTPDeps are the components the HTTP surface reads from. Every method is
// safe to call from request goroutines.
type HTTPDeps struct {
	Sessions  Sessions
	WebSocket nethttp.Handler
	Counters  *telemetry.Counters
	Tick      func() uint64
	Entities  func() int
	Logging   func() logging.RouterStats
}

type HTTPHandlerConfig struct {
	ClientDir     string
	Logger        telemetry.Logger
	Observability observability.Config
	TickRate      int
	Compression   string
	// Systems names the registered visibility systems in registration order.
	Systems []string
	Now     func() time.Time
}

func NewHTTPHandler(deps HTTPDeps, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/join", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		if deps.Sessions == nil {
			httpError(w, "sessions unavailable", nethttp.StatusServiceUnavailable)
			return
		}

		var req struct {
			Name string `json:"name"`
		}
		if r.Body != nil {
			defer r.Body.Close()
			decoder := json.NewDecoder(io.LimitReader(r.Body, maxJoinBody))
			if err := decoder.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
				httpError(w, "invalid payload", nethttp.StatusBadRequest)
				return
			}
		}

		player := deps.Sessions.Issue(req.Name)
		data, err := proto.EncodeJoinResponse(proto.JoinResponse{
			ID:          string(player.ID),
			Name:        player.Name,
			TickRate:    cfg.TickRate,
			Compression: cfg.Compression,
		})
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}
		logger.Printf("issued session %s for %q", player.ID, player.Name)
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	if cfg.Observability.EnableDiagnostics {
		mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
			payload := struct {
				Status     string               `json:"status"`
				ServerTime int64                `json:"serverTime"`
				Tick       uint64               `json:"tick"`
				TickRate   int                  `json:"tickRate"`
				Systems    []string             `json:"systems"`
				Entities   int                  `json:"entities"`
				Players    []session.Player     `json:"players"`
				Telemetry  map[string]uint64    `json:"telemetry"`
				Logging    *logging.RouterStats `json:"logging,omitempty"`
			}{
				Status:     "ok",
				ServerTime: now().UnixMilli(),
				TickRate:   cfg.TickRate,
				Systems:    append([]string{}, cfg.Systems...),
				Players:    []session.Player{},
				Telemetry:  map[string]uint64{},
			}
			if deps.Tick != nil {
				payload.Tick = deps.Tick()
			}
			if deps.Entities != nil {
				payload.Entities = deps.Entities()
			}
			if deps.Sessions != nil {
				payload.Players = append(payload.Players, deps.Sessions.Snapshot()...)
			}
			if deps.Counters != nil {
				payload.Telemetry = deps.Counters.Snapshot()
			}
			if deps.Logging != nil {
				stats := deps.Logging()
				payload.Logging = &stats
			}

			data, err := json.Marshal(payload)
			if err != nil {
				httpError(w, "failed to encode", nethttp.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write(data)
		})
	}

	if cfg.Observability.EnablePprofTrace {
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	if deps.WebSocket != nil {
		mux.Handle("/ws", deps.WebSocket)
	}

	if cfg.ClientDir != "" {
		fs := nethttp.FileServer(nethttp.Dir(cfg.ClientDir))
		mux.Handle("/", fs)
	}

	return mux
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
