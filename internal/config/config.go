// Package config assembles the server configuration from defaults, an
// optional YAML file and SIGHTLINE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"sightline/server/internal/codec"
	"sightline/server/internal/interest"
	"sightline/server/internal/observability"
	"sightline/server/internal/sim"
	"sightline/server/internal/tracing"
	"sightline/server/internal/transport"
	"sightline/server/internal/visibility/grid"
	"sightline/server/internal/visibility/zone"
	"sightline/server/internal/world"
	"sightline/server/logging"
)

const (
	SystemGrid   = "grid"
	SystemZone   = "zone"
	SystemManual = "manual"
)

const defaultAddr = ":8080"

// Config is the full server configuration.
type Config struct {
	Server        ServerConfig         `yaml:"server"`
	Interest      InterestConfig       `yaml:"interest"`
	Loop          sim.LoopConfig       `yaml:"loop"`
	Transport     transport.Config     `yaml:"transport"`
	Codec         CodecConfig          `yaml:"codec"`
	Logging       LoggingConfig        `yaml:"logging"`
	Tracing       tracing.Config       `yaml:"tracing"`
	World         world.Config         `yaml:"world"`
	Visibility    VisibilityConfig     `yaml:"visibility"`
	Observability observability.Config `yaml:"observability"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr"`
	ClientDir string `yaml:"client_dir"`
	// SessionTTL expires sessions that were issued but never connected.
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type InterestConfig struct {
	PartialPolicy string `yaml:"partial_policy"`
}

type CodecConfig struct {
	Compression string `yaml:"compression"`
	Threshold   int    `yaml:"threshold"`
}

type LoggingConfig struct {
	Sinks      []string `yaml:"sinks"`
	Level      string   `yaml:"level"`
	JSONPath   string   `yaml:"json_path"`
	BufferSize int      `yaml:"buffer_size"`
	// SinkLevels raises the level of individual sinks, e.g. json: warn.
	SinkLevels map[string]string `yaml:"sink_levels"`
}

// VisibilityConfig selects the visibility systems registered at startup, in
// registration order.
type VisibilityConfig struct {
	Systems []string    `yaml:"systems"`
	Grid    grid.Config `yaml:"grid"`
	Zone    zone.Config `yaml:"zone"`
}

// Default returns a configuration that runs a demo world with a grid system.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:       defaultAddr,
			SessionTTL: 30 * time.Second,
		},
		Interest:  InterestConfig{PartialPolicy: interest.PartialDeny.String()},
		Loop:      sim.DefaultLoopConfig(),
		Transport: transport.DefaultConfig(),
		Codec: CodecConfig{
			Compression: codec.CompressionLZ4.String(),
			Threshold:   256,
		},
		Logging: LoggingConfig{
			Sinks:      []string{"console"},
			Level:      logging.SeverityInfo.String(),
			BufferSize: logging.DefaultConfig().BufferSize,
		},
		Tracing: tracing.Config{
			ServiceName: "sightline",
			SampleRatio: 1,
		},
		World: world.DefaultConfig(),
		Visibility: VisibilityConfig{
			Systems: []string{SystemGrid},
			Grid:    grid.Config{CellSize: grid.DefaultCellSize, Range: grid.DefaultRange},
		},
		Observability: observability.Config{EnableDiagnostics: true},
	}
}

// Load reads path over the defaults. Unknown keys are rejected. An empty
// path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	if err := Decode(f, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Decode reads YAML from r into cfg, keeping values the document omits.
func Decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// environment lists the variables ApplyEnv understands. Nil fields were not
// set.
type environment struct {
	Addr             *string        `env:"ADDR"`
	ClientDir        *string        `env:"CLIENT_DIR"`
	TickRate         *int           `env:"TICK_RATE"`
	SnapshotInterval *int           `env:"SNAPSHOT_INTERVAL"`
	PartialPolicy    *string        `env:"PARTIAL_POLICY"`
	Systems          []string       `env:"VISIBILITY_SYSTEMS" envSeparator:","`
	Compression      *string        `env:"COMPRESSION"`
	Threshold        *int           `env:"COMPRESSION_THRESHOLD"`
	QueueSize        *int           `env:"QUEUE_SIZE"`
	WriteWait        *time.Duration `env:"WRITE_WAIT"`
	LogSinks         []string       `env:"LOG_SINKS" envSeparator:","`
	LogLevel         *string        `env:"LOG_LEVEL"`
	LogJSONPath      *string        `env:"LOG_JSON_PATH"`
	TracingEnabled   *bool          `env:"TRACING_ENABLED"`
	TracingEndpoint  *string        `env:"TRACING_ENDPOINT"`
	TracingRatio     *float64       `env:"TRACING_SAMPLE_RATIO"`
	WorldSeed        *string        `env:"WORLD_SEED"`
	PprofTrace       *bool          `env:"ENABLE_PPROF_TRACE"`
}

// ApplyEnv overlays SIGHTLINE_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var vars environment
	if err := env.ParseWithOptions(&vars, env.Options{Prefix: "SIGHTLINE_"}); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	set(&cfg.Server.Addr, vars.Addr)
	set(&cfg.Server.ClientDir, vars.ClientDir)
	set(&cfg.Loop.TickRate, vars.TickRate)
	set(&cfg.Loop.SnapshotInterval, vars.SnapshotInterval)
	set(&cfg.Interest.PartialPolicy, vars.PartialPolicy)
	set(&cfg.Codec.Compression, vars.Compression)
	set(&cfg.Codec.Threshold, vars.Threshold)
	set(&cfg.Transport.QueueSize, vars.QueueSize)
	set(&cfg.Transport.WriteWait, vars.WriteWait)
	set(&cfg.Logging.Level, vars.LogLevel)
	set(&cfg.Logging.JSONPath, vars.LogJSONPath)
	set(&cfg.Tracing.Enabled, vars.TracingEnabled)
	set(&cfg.Tracing.Endpoint, vars.TracingEndpoint)
	set(&cfg.Tracing.SampleRatio, vars.TracingRatio)
	set(&cfg.World.Seed, vars.WorldSeed)
	set(&cfg.Observability.EnablePprofTrace, vars.PprofTrace)
	if len(vars.Systems) > 0 {
		cfg.Visibility.Systems = vars.Systems
	}
	if len(vars.LogSinks) > 0 {
		cfg.Logging.Sinks = vars.LogSinks
	}
	return nil
}

func set[T any](dst *T, value *T) {
	if value != nil {
		*dst = *value
	}
}

// Normalized fills zero values with defaults and trims list entries.
func (c Config) Normalized() Config {
	defaults := Default()
	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Server.SessionTTL < 0 {
		c.Server.SessionTTL = 0
	}
	if c.Interest.PartialPolicy == "" {
		c.Interest.PartialPolicy = defaults.Interest.PartialPolicy
	}
	if c.Codec.Compression == "" {
		c.Codec.Compression = codec.CompressionNone.String()
	}
	if c.Codec.Threshold < 0 {
		c.Codec.Threshold = 0
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	if c.Logging.BufferSize <= 0 {
		c.Logging.BufferSize = defaults.Logging.BufferSize
	}
	c.Logging.Sinks = normalizeList(c.Logging.Sinks)
	c.Visibility.Systems = normalizeList(c.Visibility.Systems)
	if c.Tracing.SampleRatio < 0 {
		c.Tracing.SampleRatio = 0
	} else if c.Tracing.SampleRatio > 1 {
		c.Tracing.SampleRatio = 1
	}
	c.Loop = c.Loop.Normalized()
	c.World = c.World.Normalized()
	return c
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Validate reports every setting that cannot be used.
func (c Config) Validate() error {
	var errs []error
	if _, err := c.Interest.Policy(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Codec.Framer(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Logging.Router(); err != nil {
		errs = append(errs, err)
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		errs = append(errs, errors.New("config: tracing enabled without an endpoint"))
	}
	seen := make(map[string]bool, len(c.Visibility.Systems))
	for _, name := range c.Visibility.Systems {
		switch name {
		case SystemGrid, SystemZone, SystemManual:
		default:
			errs = append(errs, fmt.Errorf("config: unknown visibility system %q", name))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("config: visibility system %q listed twice", name))
		}
		seen[name] = true
	}
	return errors.Join(errs...)
}

// Policy parses the partial-coverage policy.
func (c InterestConfig) Policy() (interest.PartialPolicy, error) {
	policy, err := interest.ParsePartialPolicy(c.PartialPolicy)
	if err != nil {
		return 0, fmt.Errorf("config: %w", err)
	}
	return policy, nil
}

// Framer builds the frame encoder.
func (c CodecConfig) Framer() (codec.Framer, error) {
	compression, err := codec.ParseCompression(c.Compression)
	if err != nil {
		return codec.Framer{}, fmt.Errorf("config: %w", err)
	}
	return codec.Framer{Compression: compression, Threshold: c.Threshold}, nil
}

// Router converts the settings into a logging router configuration.
func (c LoggingConfig) Router() (logging.Config, error) {
	cfg := logging.DefaultConfig()
	severity, ok := logging.ParseSeverity(c.Level)
	if !ok {
		return cfg, fmt.Errorf("config: unknown log level %q", c.Level)
	}
	cfg.MinimumSeverity = severity
	if len(c.Sinks) > 0 {
		cfg.EnabledSinks = append([]string(nil), c.Sinks...)
	}
	if c.BufferSize > 0 {
		cfg.BufferSize = c.BufferSize
	}
	for name, level := range c.SinkLevels {
		floor, ok := logging.ParseSeverity(strings.ToLower(strings.TrimSpace(level)))
		if !ok {
			return cfg, fmt.Errorf("config: unknown log level %q for sink %s", level, name)
		}
		if cfg.SinkSeverity == nil {
			cfg.SinkSeverity = make(map[string]logging.Severity, len(c.SinkLevels))
		}
		cfg.SinkSeverity[name] = floor
	}
	cfg.JSON.FilePath = c.JSONPath
	if cfg.HasSink("json") && cfg.JSON.FilePath == "" {
		return cfg, errors.New("config: json sink enabled without logging.json_path")
	}
	return cfg, nil
}
