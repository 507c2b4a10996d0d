package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// ErrNoDuration is returned when a probe finds no usable duration.
var ErrNoDuration = errors.New("duration not found")

// ErrFFprobeExecution is returned when the ffprobe command fails.
var ErrFFprobeExecution = errors.New("ffprobe execution failed")

// Probe modes accepted by NewProber.
const (
	ProbeStderr  = "stderr"
	ProbeFFprobe = "ffprobe"
)

var durationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+(?:\.\d+)?)`)

// ParseDuration extracts the "Duration: HH:MM:SS.ss" banner ffmpeg prints for
// its inputs and returns it in seconds.
func ParseDuration(output string) (float64, error) {
	m := durationRe.FindStringSubmatch(output)
	if m == nil {
		return 0, ErrNoDuration
	}

	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	secs, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, fmt.Errorf("parse seconds %q: %w", m[3], err)
	}

	return float64(hours*3600+minutes*60) + secs, nil
}

// StderrProber reads the duration from the diagnostic banner of `ffmpeg -i`.
// It works with ffmpeg builds that ship without ffprobe.
type StderrProber struct {
	ffmpegPath string
}

// NewStderrProber creates a StderrProber. An empty path defaults to "ffmpeg".
func NewStderrProber(ffmpegPath string) *StderrProber {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &StderrProber{ffmpegPath: ffmpegPath}
}

// Duration implements DurationProber.
func (p *StderrProber) Duration(ctx context.Context, path string) (float64, error) {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, "-hide_banner", "-i", path)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// ffmpeg exits non-zero without an output file; the banner is still printed.
	_ = cmd.Run()
	if ctx.Err() != nil {
		return 0, fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
	}

	d, err := ParseDuration(stderr.String())
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", path, err)
	}
	return d, nil
}

// FFprobeProber queries the container duration through ffprobe's JSON output.
type FFprobeProber struct{}

// NewFFprobeProber creates an FFprobeProber. ffprobe is resolved via PATH.
func NewFFprobeProber() *FFprobeProber {
	return &FFprobeProber{}
}

type probeFormat struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Duration implements DurationProber.
func (p *FFprobeProber) Duration(ctx context.Context, path string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("ffprobe cancelled: %w", err)
	}

	out, err := ffmpeg.Probe(path)
	if err != nil {
		return 0, fmt.Errorf("%w for %s: %w", ErrFFprobeExecution, path, err)
	}

	d, err := parseProbeJSON(out)
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", path, err)
	}
	return d, nil
}

func parseProbeJSON(out string) (float64, error) {
	var pf probeFormat
	if err := json.Unmarshal([]byte(out), &pf); err != nil {
		return 0, fmt.Errorf("decode ffprobe output: %w", err)
	}

	raw := strings.TrimSpace(pf.Format.Duration)
	if raw == "" || raw == "N/A" {
		return 0, ErrNoDuration
	}

	d, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	return d, nil
}

// NewProber returns the DurationProber for mode. Unknown modes fall back to
// the stderr prober.
func NewProber(mode, ffmpegPath string) DurationProber {
	if mode == ProbeFFprobe {
		return NewFFprobeProber()
	}
	return NewStderrProber(ffmpegPath)
}

var (
	_ DurationProber = (*StderrProber)(nil)
	_ DurationProber = (*FFprobeProber)(nil)
)
