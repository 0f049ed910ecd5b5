package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"sightline/server/internal/config"
	"sightline/server/internal/interest"
	"sightline/server/internal/lifecycle"
	servernet "sightline/server/internal/net"
	"sightline/server/internal/net/ws"
	"sightline/server/internal/session"
	"sightline/server/internal/sim"
	"sightline/server/internal/telemetry"
	"sightline/server/internal/tracing"
	"sightline/server/internal/transport"
	"sightline/server/internal/visibility/grid"
	"sightline/server/internal/visibility/manual"
	"sightline/server/internal/visibility/zone"
	"sightline/server/internal/world"
	"sightline/server/logging"
	loggingSinks "sightline/server/logging/sinks"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	Logger   telemetry.Logger
	Settings config.Config
	// Sinks replaces the sinks built from Settings.Logging when set.
	Sinks []logging.NamedSink
}

// Server is a fully wired replication server. Build it with New, then call
// Serve or Run.
type Server struct {
	settings config.Config
	logger   telemetry.Logger
	router   *logging.Router
	closers  []func(context.Context) error
	counters *telemetry.Counters
	ticks    *atomic.Uint64

	lifecycle *lifecycle.Lifecycle
	world     *world.World
	sessions  *session.Registry
	manager   *interest.Manager
	hub       *transport.Hub
	loop      *sim.Loop
	handler   http.Handler
	manual    *manual.System
	zones     *zone.System
}

// New builds every component. Nothing runs until Serve or Run.
func New(ctx context.Context, cfg Config) (*Server, error) {
	settings := cfg.Settings.Normalized()
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}
	fallbackLogger := log.Default()
	if provider, ok := telemetryLogger.(interface{ StandardLogger() *log.Logger }); ok {
		if candidate := provider.StandardLogger(); candidate != nil {
			fallbackLogger = candidate
		}
	}

	s := &Server{
		settings: settings,
		logger:   telemetryLogger,
		counters: telemetry.NewCounters(),
		ticks:    new(atomic.Uint64),
	}

	logConfig, _ := settings.Logging.Router()
	sinks := cfg.Sinks
	if sinks == nil {
		built, err := s.buildSinks(logConfig)
		if err != nil {
			s.close(ctx)
			return nil, err
		}
		sinks = built
	}
	router, err := logging.NewRouter(logConfig, logging.SystemClock{}, fallbackLogger, sinks)
	if err != nil {
		s.close(ctx)
		return nil, fmt.Errorf("failed to construct logging router: %w", err)
	}
	s.router = router

	shutdownTracing, err := tracing.Setup(ctx, settings.Tracing)
	if err != nil {
		s.close(ctx)
		return nil, err
	}
	s.closers = append(s.closers, shutdownTracing)

	framer, _ := settings.Codec.Framer()
	policy, _ := settings.Interest.Policy()
	tick := s.ticks.Load

	s.lifecycle = lifecycle.New()
	s.sessions = session.NewRegistry(nil)
	s.hub = transport.NewHub(settings.Transport, transport.Deps{
		Logger:    telemetryLogger,
		Publisher: router,
		Metrics:   s.counters,
		Tick:      tick,
		OnDisconnect: func(player interest.PlayerID) {
			s.loop.Enqueue(sim.Command{
				ActorID: player,
				Type:    sim.CommandLeave,
				Leave:   &sim.LeaveCommand{Reason: "transport_dropped"},
			})
		},
	})
	s.world = world.New(settings.World, world.Deps{
		Transport: s.hub,
		Framer:    framer,
		Logger:    telemetryLogger,
		Publisher: router,
		Metrics:   s.counters,
		Tick:      tick,
	})
	s.manager = interest.NewManager(interest.Config{PartialPolicy: policy}, interest.Deps{
		World:     s.world,
		Sessions:  s.sessions,
		Lifecycle: s.lifecycle,
		Transport: s.hub,
		Logger:    telemetryLogger,
		Publisher: router,
		Metrics:   s.counters,
		Tick:      tick,
	})
	if err := s.registerSystems(); err != nil {
		s.close(ctx)
		return nil, err
	}

	s.loop = sim.NewLoop(settings.Loop, sim.Deps{
		World:       s.world,
		Sessions:    s.sessions,
		Interest:    s.manager,
		Transport:   s.hub,
		Connections: s.hub,
		Framer:      framer,
		Ticks:       s.ticks,
		Logger:      telemetryLogger,
		Publisher:   router,
		Metrics:     s.counters,
	}, sim.LoopHooks{
		AfterStep: s.afterStep,
		OnQueueWarning: func(length int) {
			telemetryLogger.Printf("[sim] command queue length %d", length)
		},
	})

	wsHandler := ws.NewHandler(s.sessions, s.hub, s.loop, ws.HandlerConfig{Logger: telemetryLogger})
	s.handler = servernet.NewHTTPHandler(servernet.HTTPDeps{
		Sessions:  s.sessions,
		WebSocket: wsHandler,
		Counters:  s.counters,
		Tick:      tick,
		Entities:  s.world.Count,
		Logging:   router.Stats,
	}, servernet.HTTPHandlerConfig{
		ClientDir:     settings.Server.ClientDir,
		Logger:        telemetryLogger,
		Observability: settings.Observability,
		TickRate:      settings.Loop.TickRate,
		Compression:   framer.Compression.String(),
		Systems:       settings.Visibility.Systems,
	})
	return s, nil
}

func (s *Server) buildSinks(cfg logging.Config) ([]logging.NamedSink, error) {
	var sinks []logging.NamedSink
	if cfg.HasSink("console") {
		sinks = append(sinks, logging.NamedSink{Name: "console", Sink: loggingSinks.NewConsoleSink(os.Stdout, cfg.Console)})
	}
	if cfg.HasSink("json") {
		f, err := os.OpenFile(cfg.JSON.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open json log %s: %w", cfg.JSON.FilePath, err)
		}
		s.closers = append(s.closers, func(context.Context) error { return f.Close() })
		var w io.Writer = f
		// A .zst path gets a zstd stream; it is closed before the file.
		if strings.HasSuffix(cfg.JSON.FilePath, ".zst") {
			enc, err := zstd.NewWriter(f)
			if err != nil {
				return nil, fmt.Errorf("open zstd log stream: %w", err)
			}
			s.closers = append(s.closers, func(context.Context) error { return enc.Close() })
			w = enc
		}
		sinks = append(sinks, logging.NamedSink{Name: "json", Sink: loggingSinks.NewJSON(w, cfg.JSON.FlushInterval)})
	}
	return sinks, nil
}

func (s *Server) registerSystems() error {
	for _, name := range s.settings.Visibility.Systems {
		var system interest.VisibilitySystem
		switch name {
		case config.SystemGrid:
			system = grid.New(s.settings.Visibility.Grid, s.world, s.sessions)
		case config.SystemZone:
			zones, err := zone.New(s.settings.Visibility.Zone, s.world, s.sessions)
			if err != nil {
				return err
			}
			s.zones = zones
			system = zones
		case config.SystemManual:
			s.manual = manual.New(s.world, func(id interest.EntityID) (interest.PlayerID, bool) {
				entity, ok := s.world.Entity(id)
				return entity.Owner, ok && entity.Owner != ""
			})
			system = s.manual
		default:
			return fmt.Errorf("unknown visibility system %q", name)
		}
		if !s.manager.RegisterVisibilitySystem(system).Valid() {
			return fmt.Errorf("visibility system %q was not registered", name)
		}
	}
	return nil
}

// afterStep runs on the simulation goroutine after every tick.
func (s *Server) afterStep(result sim.LoopStepResult) {
	ttl := s.settings.Server.SessionTTL
	rate := uint64(s.settings.Loop.TickRate)
	if ttl <= 0 || rate == 0 || result.Tick%rate != 0 {
		return
	}
	for _, id := range s.sessions.Expire(result.Now.Add(-ttl)) {
		s.logger.Printf("[session] expired unused session %s", id)
	}
}

// Handler returns the HTTP surface.
func (s *Server) Handler() http.Handler { return s.handler }

// Manager returns the interest manager.
func (s *Server) Manager() *interest.Manager { return s.manager }

// World returns the replicated world.
func (s *Server) World() *world.World { return s.world }

// Counters returns the shared metrics.
func (s *Server) Counters() *telemetry.Counters { return s.counters }

// Manual returns the manual visibility system, or nil when it is not
// configured.
func (s *Server) Manual() *manual.System { return s.manual }

// Zones returns the zone visibility system, or nil when it is not configured.
func (s *Server) Zones() *zone.System { return s.zones }

// Loop returns the simulation loop.
func (s *Server) Loop() *sim.Loop { return s.loop }

// Start seeds the world, starts the lifecycle and runs the loop until the
// returned stop function is called. The stop function tears everything down
// in reverse order and is safe to call more than once.
func (s *Server) Start(ctx context.Context) (func(context.Context) error, error) {
	if err := s.lifecycle.Start(); err != nil {
		return nil, fmt.Errorf("start lifecycle: %w", err)
	}
	if err := world.SeedInitialEntities(s.world); err != nil {
		s.lifecycle.Stop()
		return nil, fmt.Errorf("seed world: %w", err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.loop.Run(stop)
	}()

	var once sync.Once
	var stopErr error
	return func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			<-done
			var errs []error
			if err := s.lifecycle.Stop(); err != nil {
				errs = append(errs, err)
			}
			s.manager.Close()
			s.hub.Close()
			errs = append(errs, s.close(ctx))
			stopErr = errors.Join(errs...)
		})
		return stopErr
	}, nil
}

func (s *Server) close(ctx context.Context) error {
	var errs []error
	if s.router != nil {
		if err := s.router.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close logging router: %w", err))
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Serve runs the server on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop, err := s.Start(ctx)
	if err != nil {
		s.close(ctx)
		return err
	}

	srv := &http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()
	s.logger.Printf("server listening on %s", ln.Addr())

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Printf("http shutdown: %v", err)
	}
	return errors.Join(runErr, stop(shutdownCtx))
}

// Run builds a server from cfg and listens on the configured address until
// ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	s, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.settings.Server.Addr)
	if err != nil {
		s.close(ctx)
		return fmt.Errorf("listen %s: %w", s.settings.Server.Addr, err)
	}
	return s.Serve(ctx, ln)
}
