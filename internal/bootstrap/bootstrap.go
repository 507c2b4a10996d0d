// Package bootstrap provides dependency initialization for the mashup command.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/maauso/media-mashup/internal/config"
	"github.com/maauso/media-mashup/internal/mashup"
	"github.com/maauso/media-mashup/internal/media"
	"github.com/maauso/media-mashup/internal/still"
	"github.com/maauso/media-mashup/internal/storage"
)

// Dependencies holds all initialized dependencies for a mashup run.
type Dependencies struct {
	Service  *mashup.Service
	Settings mashup.Settings
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Initialize ffmpeg processor and duration prober
	processor := media.NewFFmpegProcessor(cfg.FFmpegPath)
	prober := media.NewProber(cfg.ProbeMode, cfg.FFmpegPath)

	opts := []mashup.ServiceOption{mashup.WithSeed(cfg.Seed)}

	// Initialize optional publisher
	if cfg.S3Enabled() {
		publisher, err := initPublisher(cfg, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, mashup.WithPublisher(publisher))
	}

	svc := mashup.NewService(
		processor,
		prober,
		still.NewNormalizer(still.DefaultQuality),
		logger,
		opts...,
	)

	return &Dependencies{
		Service:  svc,
		Settings: SettingsFromConfig(cfg),
	}, nil
}

// SettingsFromConfig maps the validated configuration onto run settings.
func SettingsFromConfig(cfg *config.Config) mashup.Settings {
	return mashup.Settings{
		SourceDir:    cfg.SourceDir,
		Clips:        cfg.Clips,
		Length:       cfg.Length,
		FPS:          cfg.FPS,
		Music:        cfg.Music,
		Output:       cfg.Output,
		TempDir:      cfg.TempDir,
		ManifestFile: cfg.ManifestFile,
	}
}

// initPublisher creates the S3 publisher from configuration.
func initPublisher(cfg *config.Config, logger *slog.Logger) (storage.Publisher, error) {
	s3Cfg := storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Prefix:          cfg.S3Prefix,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
	}
	publisher, err := storage.NewS3Storage(s3Cfg)
	if err != nil {
		return nil, fmt.Errorf("create S3 storage: %w", err)
	}
	logger.Info("S3 publishing configured",
		slog.String("bucket", cfg.S3Bucket),
		slog.String("region", cfg.S3Region),
	)
	return publisher, nil
}
