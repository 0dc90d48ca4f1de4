// Command flowforge-demo is a thin example harness that loads a block
// registry directory and drives a ProcessingUnit. It is not a wire
// contract of the engine core, only an operator-facing convenience,
// grounded on cmd/operion-worker's cli/v3 command structure.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tksoft/flowforge-engine/pkg/config"
	"github.com/tksoft/flowforge-engine/pkg/log"
	"github.com/tksoft/flowforge-engine/pkg/registry"
	"github.com/tksoft/flowforge-engine/pkg/scheduler"
)

func main() {
	cmd := &cli.Command{
		Name:                  "flowforge-demo",
		EnableShellCompletion: true,
		Usage:                 "Load a block registry and run instances against it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to an engine.yaml configuration file; overridden field-by-field by the flags below",
				Value:   "",
				Sources: cli.EnvVars("FLOWFORGE_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "blocks-path",
				Usage:   "Path to the directory containing block plugin bundles",
				Sources: cli.EnvVars("FLOWFORGE_BLOCKS_PATH"),
			},
			&cli.StringSliceFlag{
				Name:    "engine-version",
				Usage:   "Engine versions accepted from a plugin's BuilderService",
				Sources: cli.EnvVars("FLOWFORGE_ENGINE_VERSIONS"),
			},
			&cli.DurationFlag{
				Name:    "processing-delay",
				Usage:   "Delay between ticks",
				Sources: cli.EnvVars("FLOWFORGE_PROCESSING_DELAY"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))
	logger := log.WithModule("flowforge-demo")

	cfg := resolveConfig(command)
	if err := config.Validate(cfg); err != nil {
		return err
	}

	blockRegistry, err := registry.New(cfg.AcceptableEngineVersions, hostArchiveNames())
	if err != nil {
		return err
	}
	defer blockRegistry.Close()

	if err := blockRegistry.Load(cfg.BlocksPath, cfg.RemoveDuplicateDeps); err != nil {
		logger.Warn("no block bundles loaded", "error", err)
	}

	unit := scheduler.New(scheduler.WithProcessingDelay(cfg.ProcessingDelay))
	unit.StartProcessing()

	logger.Info("processing unit running, waiting for signal")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	unit.StopProcessing(context.Background(), 10*time.Second)
	return nil
}

// resolveConfig loads the config file named by --config (falling back to
// defaults if omitted or missing), then lets each explicitly-set flag
// override the corresponding field.
func resolveConfig(command *cli.Command) config.EngineConfig {
	cfg := config.DefaultEngineConfig()
	if path := command.String("config"); path != "" {
		cfg = config.LoadOrDefault(path)
	}

	if command.IsSet("blocks-path") {
		cfg.BlocksPath = command.String("blocks-path")
	}
	if command.IsSet("engine-version") {
		cfg.AcceptableEngineVersions = command.StringSlice("engine-version")
	}
	if command.IsSet("processing-delay") {
		cfg.ProcessingDelay = command.Duration("processing-delay")
	}

	return cfg
}

// hostArchiveNames lists archives already present in this binary's own
// build, used by the registry to detect duplicate dependencies bundled
// alongside a plugin directory. The demo binary ships no plugin
// dependencies of its own.
func hostArchiveNames() []string {
	return nil
}
