package logging

import (
	"maps"
	"slices"
	"time"
)

// Config selects the sinks a Router feeds and the events each receives.
type Config struct {
	EnabledSinks []string
	// BufferSize bounds the dispatch queue. Sink backlogs are clamped to
	// [32, 1024] of the same value.
	BufferSize      int
	MinimumSeverity Severity
	// SinkSeverity raises the floor for individual sinks above
	// MinimumSeverity.
	SinkSeverity map[string]Severity
	Fields       map[string]any
	JSON         JSONConfig
	Console      ConsoleConfig
}

type JSONConfig struct {
	FilePath      string
	FlushInterval time.Duration
}

type ConsoleConfig struct {
	Prefix string
}

func DefaultConfig() Config {
	return Config{
		EnabledSinks:    []string{"console"},
		BufferSize:      512,
		MinimumSeverity: SeverityInfo,
		JSON: JSONConfig{
			FlushInterval: 2 * time.Second,
		},
	}
}

func (c Config) HasSink(name string) bool {
	return slices.Contains(c.EnabledSinks, name)
}

// severityFor returns the floor applied to the named sink.
func (c Config) severityFor(name string) Severity {
	if floor, ok := c.SinkSeverity[name]; ok && floor > c.MinimumSeverity {
		return floor
	}
	return c.MinimumSeverity
}

func (c Config) CloneFields() map[string]any {
	if len(c.Fields) == 0 {
		return nil
	}
	return maps.Clone(c.Fields)
}
