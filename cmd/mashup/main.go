// Package main provides the entry point for the mashup command.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maauso/media-mashup/internal/bootstrap"
	"github.com/maauso/media-mashup/internal/config"
	"github.com/maauso/media-mashup/internal/inventory"
	"github.com/maauso/media-mashup/internal/mashup/id"
	"github.com/maauso/media-mashup/internal/media"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment; flags override it below
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return newRootCmd(cfg, produce).ExecuteContext(ctx)
}

// runFunc executes a mashup with a validated configuration.
type runFunc func(ctx context.Context, cfg *config.Config) error

// newRootCmd builds the command. Flag defaults are the values already loaded
// from the environment, so a flag only wins when it is given.
func newRootCmd(cfg *config.Config, fn runFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mashup",
		Short: "Turn a folder of photos and videos into a randomized highlight reel",
		Long: fmt.Sprintf(`mashup picks random photos and videos from a directory, renders each into a
fixed-length %dx%d clip with fades, joins the clips and mixes in background
music when the music file exists.

Recognized files: %s`, media.Width, media.Height, strings.Join(media.Extensions(), " ")),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return fn(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&cfg.Clips, "clips", cfg.Clips, "number of clips to produce")
	flags.Float64Var(&cfg.Length, "length", cfg.Length, "length of every clip in seconds")
	flags.IntVar(&cfg.FPS, "fps", cfg.FPS, "output frame rate")
	flags.StringVar(&cfg.Music, "music", cfg.Music, "background music file, skipped when missing")
	flags.StringVar(&cfg.Output, "output", cfg.Output, "final mashup file")
	flags.StringVar(&cfg.SourceDir, "dir", cfg.SourceDir, "directory to scan for photos and videos")
	flags.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "random seed for reproducible runs, 0 picks one")
	flags.StringVar(&cfg.ProbeMode, "probe", cfg.ProbeMode, "duration probe: stderr or ffprobe")

	return cmd
}

// produce wires the dependencies and performs one run. Only configuration
// and bootstrap problems are returned; a run that produced nothing still
// exits cleanly.
func produce(ctx context.Context, cfg *config.Config) error {
	logger, closer, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()
	slog.SetDefault(logger)

	runID := id.Generate()
	logger.Info("starting mashup",
		slog.String("run_id", runID),
		slog.Int("clips", cfg.Clips),
		slog.Float64("length", cfg.Length),
		slog.Int("fps", cfg.FPS),
		slog.String("source_dir", cfg.SourceDir),
		slog.String("output", cfg.Output),
		slog.String("probe_mode", cfg.ProbeMode),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)

	deps, err := bootstrap.NewDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	if _, err := deps.Service.RunWithID(ctx, runID, deps.Settings); err != nil {
		if errors.Is(err, inventory.ErrNoMediaFiles) {
			return nil
		}
		return err
	}
	return nil
}
