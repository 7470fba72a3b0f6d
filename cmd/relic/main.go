// Copyright 2026 The Relic Authors
// SPDX-License-Identifier: Apache-2.0

// Command relic is the command-line interface to a local artifact
// store: add documents, inspect and stream them back, remove them by
// selector, and reclaim orphaned payloads.
//
// Configuration is loaded from the file named by --config or the
// RELIC_CONFIG environment variable; --root overrides the configured
// store location for one invocation.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/relic-foundation/relic/lib/artifact"
	"github.com/relic-foundation/relic/lib/config"
	"github.com/relic-foundation/relic/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// command is one relic subcommand. Flags specific to the subcommand
// are registered on its flag set by the constructor that built it.
type command struct {
	name    string
	summary string
	usage   string
	flags   *pflag.FlagSet
	run     func(env *environment, args []string) error
}

// environment carries what every subcommand needs: the resolved
// configuration and a logger built from it.
type environment struct {
	cfg    *config.Config
	logger *slog.Logger
}

func run(args []string) error {
	global := pflag.NewFlagSet("relic", pflag.ContinueOnError)
	configPath := global.String("config", "", "path to relic.yaml (default: $RELIC_CONFIG)")
	root := global.String("root", "", "store root directory (overrides configuration)")
	showVersion := global.Bool("version", false, "print version information and exit")
	global.SetInterspersed(false)
	global.Usage = func() { printUsage(global) }

	if err := global.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Printf("relic %s\n", version.Info())
		return nil
	}

	rest := global.Args()
	if len(rest) == 0 {
		printUsage(global)
		return fmt.Errorf("no command given")
	}

	name, commandArgs := rest[0], rest[1:]
	cmd := lookupCommand(name)
	if cmd == nil {
		printUsage(global)
		return fmt.Errorf("unknown command %q", name)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *root != "" {
		cfg.Store.Root = *root
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	env := &environment{
		cfg:    cfg,
		logger: newLogger(cfg.Log),
	}

	if err := cmd.flags.Parse(commandArgs); err != nil {
		return err
	}
	return cmd.run(env, cmd.flags.Args())
}

// loadConfig resolves the configuration: an explicit --config path
// wins, then RELIC_CONFIG, then built-in defaults. Unlike service
// deployments, an interactive CLI without a config file is a normal
// situation, so defaults are not an error here.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("RELIC_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

// newLogger builds the process logger from the logging configuration.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, options)
	} else {
		handler = slog.NewTextHandler(os.Stderr, options)
	}
	return slog.New(handler)
}

// openLayer opens the artifact layer described by the configuration.
func openLayer(env *environment) (*artifact.Layer, error) {
	var storeOpts []artifact.FSStoreOption

	if env.cfg.Store.Compression != "auto" {
		tag, err := artifact.ParseCompressionTag(env.cfg.Store.Compression)
		if err != nil {
			return nil, err
		}
		storeOpts = append(storeOpts, artifact.WithCompression(tag))
	}

	key, err := env.cfg.EncryptionKey()
	if err != nil {
		return nil, err
	}
	if key != nil {
		storeOpts = append(storeOpts, artifact.WithEncryptionKey(key))
	}

	layerOpts := []artifact.LayerOption{artifact.WithLogger(env.logger)}
	if env.cfg.Store.VerifyParents {
		layerOpts = append(layerOpts, artifact.WithVerifyParents())
	}

	return artifact.Open(env.cfg.Store.Root, storeOpts, layerOpts...)
}

// fetchMode maps the configured damage policy onto a FetchMode.
func fetchMode(env *environment) artifact.FetchMode {
	if env.cfg.Store.OnDamage == "fail" {
		return artifact.FetchFailFast
	}
	return artifact.FetchSkipDamaged
}

func lookupCommand(name string) *command {
	for _, cmd := range commands() {
		if cmd.name == name {
			return cmd
		}
	}
	return nil
}

func commands() []*command {
	return []*command{
		initCommand(),
		addCommand(),
		catCommand(),
		existsCommand(),
		lsCommand(),
		rmCommand(),
		gcCommand(),
		statsCommand(),
	}
}

func printUsage(global *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "usage: relic [flags] <command> [command flags] [args]\n\n")
	fmt.Fprintf(os.Stderr, "commands:\n")
	for _, cmd := range commands() {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", cmd.name, cmd.summary)
	}
	fmt.Fprintf(os.Stderr, "\nglobal flags:\n%s", global.FlagUsages())
}
