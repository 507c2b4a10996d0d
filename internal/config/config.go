// Package config provides configuration loading from environment variables.
// Command-line flags are layered on top by the mashup command.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/media-mashup/internal/storage"
)

// ErrInvalidConfig is returned when a loaded or overridden value fails validation.
var ErrInvalidConfig = errors.New("config: invalid value")

// Config holds all configuration for a mashup run.
type Config struct {
	// Mashup settings
	Clips  int     `env:"MASHUP_CLIPS, default=75" json:"clips" validate:"min=1"`
	Length float64 `env:"MASHUP_LENGTH, default=7.0" json:"length" validate:"gt=1"` // must hold both 0.5s fades
	FPS    int     `env:"MASHUP_FPS, default=30" json:"fps" validate:"min=1,max=240"`
	Music  string  `env:"MASHUP_MUSIC, default=background_music.mp3" json:"music"`
	Output string  `env:"MASHUP_OUTPUT, default=STABLE_FINAL_MASHUP.mp4" json:"output" validate:"required"`

	// Source selection
	SourceDir string `env:"MASHUP_SOURCE_DIR, default=." json:"source_dir" validate:"required"`
	Seed      uint64 `env:"MASHUP_SEED" json:"seed"` // 0 picks a random seed

	// Scratch files
	TempDir      string `env:"MASHUP_TEMP_DIR, default=MASHUP_TEMP_FILES" json:"temp_dir" validate:"required,absent"`
	ManifestFile string `env:"MASHUP_MANIFEST, default=join_list.txt" json:"manifest_file" validate:"required"`

	// External tool
	FFmpegPath string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path" validate:"required"`
	ProbeMode  string `env:"MASHUP_PROBE_MODE, default=stderr" json:"probe_mode" validate:"oneof=stderr ffprobe"`

	// Optional S3 settings
	S3Bucket           string `env:"MASHUP_S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"MASHUP_S3_REGION" json:"s3_region,omitempty"`
	S3Prefix           string `env:"MASHUP_S3_PREFIX" json:"s3_prefix,omitempty"`
	S3Endpoint         string `env:"MASHUP_S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFile   string `env:"MASHUP_LOG_FILE, default=production.log" json:"log_file"`
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format" validate:"oneof=text json"`
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level" validate:"oneof=debug info warn warning error"`
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig.
// Flags may still override the result, so Validate runs separately.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Validate checks every field against its validate tag.
func (c *Config) Validate() error {
	c.LogFormat = strings.ToLower(c.LogFormat)
	c.LogLevel = strings.ToLower(c.LogLevel)

	if err := newValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			if hint, ok := tagHints[first.Tag()]; ok {
				return fmt.Errorf("%w: %s=%v %s", ErrInvalidConfig, first.Field(), first.Value(), hint)
			}
			return fmt.Errorf("%w: %s=%v fails %q", ErrInvalidConfig, first.Field(), first.Value(), first.Tag())
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// tagHints explains the custom validation tags.
var tagHints = map[string]string{
	"absent":   "already exists; the temp directory is deleted after every run, so remove it or pick a new path",
	"nesource": "is the source directory; the temp directory is deleted after every run",
}

// newValidator returns a validator that also knows the temp directory rules:
// the path must not exist yet and must not be the source directory.
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("absent", func(fl validator.FieldLevel) bool {
		_, err := os.Stat(fl.Field().String())
		return os.IsNotExist(err)
	})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		c, ok := sl.Current().Interface().(Config)
		if ok && storage.SameDir(c.TempDir, c.SourceDir) {
			sl.ReportError(c.TempDir, "TempDir", "TempDir", "nesource", "")
		}
	}, Config{})
	return v
}

// NewLogger creates a structured logger based on the configuration.
// Records go to stdout and, when LogFile is set, are appended to that file.
// The returned closer releases the log file.
func (c *Config) NewLogger() (*slog.Logger, io.Closer, error) {
	var w io.Writer = os.Stdout
	var closer io.Closer = io.NopCloser(nil)

	if c.LogFile != "" {
		f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644) // #nosec G302 G304 - log file path comes from config
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, f)
		closer = f
	}

	return slog.New(c.newHandler(w)), closer, nil
}

func (c *Config) newHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}
	if strings.ToLower(c.LogFormat) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Clips: %d, Length: %g, FPS: %d, Music: %s, Output: %s, SourceDir: %s, TempDir: %s, ManifestFile: %s, ProbeMode: %s, S3Bucket: %s, S3Region: %s, LogFile: %s, LogFormat: %s, LogLevel: %s}",
		c.Clips,
		c.Length,
		c.FPS,
		c.Music,
		c.Output,
		c.SourceDir,
		c.TempDir,
		c.ManifestFile,
		c.ProbeMode,
		c.S3Bucket,
		c.S3Region,
		c.LogFile,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
