package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/profile"
	"github.com/spf13/pflag"

	"sightline/server/internal/app"
	"sightline/server/internal/config"
)

type options struct {
	configPath string
	addr       string
	tickRate   int
	systems    []string
	profile    string
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		log.Fatalf("%v", err)
	}
}

func run(args []string) error {
	opts, flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts, flags)
	if err != nil {
		return err
	}

	if opts.profile != "" {
		mode, err := profileMode(opts.profile)
		if err != nil {
			return err
		}
		defer profile.Start(mode, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx, app.Config{Settings: cfg})
}

func parseFlags(args []string) (options, *pflag.FlagSet, error) {
	var opts options
	flags := pflag.NewFlagSet("server", pflag.ContinueOnError)
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML configuration file")
	flags.StringVar(&opts.addr, "addr", "", "listen address (overrides config and environment)")
	flags.IntVar(&opts.tickRate, "tick-rate", 0, "simulation ticks per second")
	flags.StringSliceVar(&opts.systems, "visibility", nil, "visibility systems in registration order (grid, zone, manual)")
	flags.StringVar(&opts.profile, "profile", "", "write a cpu, mem or trace profile to the working directory")
	if err := flags.Parse(args); err != nil {
		return options{}, nil, err
	}
	return opts, flags, nil
}

// loadConfig layers defaults, the config file, SIGHTLINE_* variables and
// explicitly set flags, in that order.
func loadConfig(opts options, flags *pflag.FlagSet) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		return config.Config{}, err
	}
	if flags.Changed("addr") {
		cfg.Server.Addr = opts.addr
	}
	if flags.Changed("tick-rate") {
		cfg.Loop.TickRate = opts.tickRate
	}
	if flags.Changed("visibility") {
		cfg.Visibility.Systems = opts.systems
	}
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func profileMode(name string) (func(*profile.Profile), error) {
	switch name {
	case "cpu":
		return profile.CPUProfile, nil
	case "mem":
		return profile.MemProfile, nil
	case "trace":
		return profile.TraceProfile, nil
	default:
		return nil, fmt.Errorf("unknown profile mode %q", name)
	}
}
