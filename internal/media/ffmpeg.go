package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Static errors for media operations.
var (
	// ErrInvalidLength is returned when a clip is too short to hold its fades.
	ErrInvalidLength = errors.New("invalid clip length: must exceed twice the fade duration")
	// ErrInvalidFPS is returned when the frame rate is not positive.
	ErrInvalidFPS = errors.New("invalid frame rate: must be positive")
	// ErrInvalidDuration is returned when the weld duration is not positive.
	ErrInvalidDuration = errors.New("invalid duration: must be positive")
	// ErrNoManifest is returned when a weld is requested without a manifest.
	ErrNoManifest = errors.New("no manifest provided")
)

// Encoder settings. Clips favour speed, the weld favours size.
const (
	clipPreset = "ultrafast"
	clipCRF    = "18"
	weldPreset = "medium"
	weldCRF    = "22"
	videoCodec = "libx264"
	audioCodec = "aac"
)

// FFmpegProcessor implements Processor using the ffmpeg CLI.
type FFmpegProcessor struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegProcessor(ffmpegPath string) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegProcessor{ffmpegPath: ffmpegPath}
}

// RenderStill loops a still for spec.Length seconds next to a silent stereo
// track and encodes the normalized clip.
func (p *FFmpegProcessor) RenderStill(ctx context.Context, spec ClipSpec) error {
	args, err := StillArgs(spec)
	if err != nil {
		return err
	}
	return p.runFFmpeg(ctx, args)
}

// RenderVideo cuts and normalizes a window of a video source.
func (p *FFmpegProcessor) RenderVideo(ctx context.Context, spec ClipSpec) error {
	args, err := VideoArgs(spec)
	if err != nil {
		return err
	}
	return p.runFFmpeg(ctx, args)
}

// Weld concatenates the manifest clips, mixing in looped music when present.
func (p *FFmpegProcessor) Weld(ctx context.Context, spec WeldSpec) error {
	args, err := WeldArgs(spec)
	if err != nil {
		return err
	}
	return p.runFFmpeg(ctx, args)
}

func validateClip(spec ClipSpec) error {
	if spec.Length <= 2*FadeDuration {
		return fmt.Errorf("%w: got %.2f", ErrInvalidLength, spec.Length)
	}
	if spec.FPS <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidFPS, spec.FPS)
	}
	return nil
}

// clipOutputArgs are the encoder options shared by both clip branches.
func clipOutputArgs(spec ClipSpec) ffmpeg.KwArgs {
	return ffmpeg.KwArgs{
		"vf":     VideoFilter(spec.Length, spec.FPS),
		"c:v":    videoCodec,
		"preset": clipPreset,
		"crf":    clipCRF,
		"r":      fmt.Sprint(spec.FPS),
		"c:a":    audioCodec,
	}
}

// StillArgs builds the ffmpeg arguments for a still clip.
func StillArgs(spec ClipSpec) ([]string, error) {
	if err := validateClip(spec); err != nil {
		return nil, err
	}

	length := seconds(spec.Length)
	still := ffmpeg.Input(spec.Input, ffmpeg.KwArgs{"loop": "1", "t": length})
	// Bounding the silent source to the clip length keeps both tracks equal.
	silence := ffmpeg.Input(silenceSource(), ffmpeg.KwArgs{"f": "lavfi", "t": length})

	out := clipOutputArgs(spec)
	out["af"] = StillAudioFilter(spec.Length)

	return ffmpeg.Output([]*ffmpeg.Stream{still, silence}, spec.Output, out).
		OverWriteOutput().
		GetArgs(), nil
}

// VideoArgs builds the ffmpeg arguments for a video clip.
func VideoArgs(spec ClipSpec) ([]string, error) {
	if err := validateClip(spec); err != nil {
		return nil, err
	}

	// Seeking on the input keeps the cut fast; -t bounds the read.
	in := ffmpeg.Input(spec.Input, ffmpeg.KwArgs{
		"ss": seconds(spec.Start),
		"t":  seconds(spec.Length),
	})

	out := clipOutputArgs(spec)
	out["af"] = VideoAudioFilter(spec.Length)
	out["ac"] = "2"
	out["ar"] = fmt.Sprint(AudioSampleRate)

	return in.Output(spec.Output, out).OverWriteOutput().GetArgs(), nil
}

// WeldArgs builds the ffmpeg arguments for the final concatenation.
func WeldArgs(spec WeldSpec) ([]string, error) {
	if spec.Manifest == "" {
		return nil, ErrNoManifest
	}
	if spec.Duration <= 0 {
		return nil, fmt.Errorf("%w: got %.2f", ErrInvalidDuration, spec.Duration)
	}

	concat := ffmpeg.Input(spec.Manifest, ffmpeg.KwArgs{"f": "concat", "safe": "0"})

	if spec.Music == "" {
		return concat.Output(spec.Output, ffmpeg.KwArgs{
			"c:v": videoCodec,
			"c:a": audioCodec,
		}).OverWriteOutput().GetArgs(), nil
	}

	music := ffmpeg.Input(spec.Music, ffmpeg.KwArgs{"stream_loop": "-1"})

	clipAudio := concat.Audio().Filter("volume", ffmpeg.Args{seconds(ClipVolume)})
	musicAudio := music.Audio().
		Filter("volume", ffmpeg.Args{seconds(MusicVolume)}).
		Filter("afade", ffmpeg.Args{musicFade(spec.Duration)})
	// duration=first ends the mix with the clips, not the looped music.
	mixed := ffmpeg.Filter([]*ffmpeg.Stream{clipAudio, musicAudio}, "amix", ffmpeg.Args{"inputs=2:duration=first"})

	return ffmpeg.Output([]*ffmpeg.Stream{concat.Video(), mixed}, spec.Output, ffmpeg.KwArgs{
		"c:v":    videoCodec,
		"preset": weldPreset,
		"crf":    weldCRF,
		"c:a":    audioCodec,
		"t":      seconds(spec.Duration),
	}).OverWriteOutput().GetArgs(), nil
}

// musicFade fades the music out over the last MusicFadeOut seconds. Mashups
// shorter than that fade over their whole length.
func musicFade(duration float64) string {
	fade := min(MusicFadeOut, duration)
	return fmt.Sprintf("t=out:st=%s:d=%s", seconds(max(0, duration-fade)), seconds(fade))
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (p *FFmpegProcessor) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// Verify interface implementation at compile time.
var _ Processor = (*FFmpegProcessor)(nil)
