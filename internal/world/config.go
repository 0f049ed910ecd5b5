package world

import "strings"

const (
	DefaultSeed   = "sightline"
	DefaultWidth  = 2400.0
	DefaultHeight = 1800.0
)

// Config describes the playfield and the entities seeded at startup.
type Config struct {
	Seed          string  `yaml:"seed"`
	Width         float64 `yaml:"width"`
	Height        float64 `yaml:"height"`
	PropCount     int     `yaml:"prop_count"`
	WandererCount int     `yaml:"wanderer_count"`
	WandererSpeed float64 `yaml:"wanderer_speed"`
}

func (cfg Config) normalized() Config {
	normalized := cfg
	normalized.Seed = strings.TrimSpace(normalized.Seed)
	if normalized.Seed == "" {
		normalized.Seed = DefaultSeed
	}
	if normalized.Width <= 0 {
		normalized.Width = DefaultWidth
	}
	if normalized.Height <= 0 {
		normalized.Height = DefaultHeight
	}
	if normalized.PropCount < 0 {
		normalized.PropCount = 0
	}
	if normalized.WandererCount < 0 {
		normalized.WandererCount = 0
	}
	if normalized.WandererSpeed < 0 {
		normalized.WandererSpeed = 0
	}
	return normalized
}

func (cfg Config) Normalized() Config {
	return cfg.normalized()
}

func DefaultConfig() Config {
	return Config{
		Seed:          DefaultSeed,
		Width:         DefaultWidth,
		Height:        DefaultHeight,
		PropCount:     24,
		WandererCount: 12,
		WandererSpeed: 90,
	}
}
