// Package media provides the ffmpeg-backed rendering and probing used to
// build a mashup: per-clip normalization, duration probing and the final weld.
package media

import "context"

// Output geometry and audio format shared by every rendered clip.
const (
	Width           = 1280
	Height          = 720
	AudioSampleRate = 44100
	// FadeDuration is the video fade in/out applied inside every clip.
	FadeDuration = 0.5
	// AudioFadeDuration is the audio fade in/out applied inside every clip.
	AudioFadeDuration = 0.3
	// MusicFadeOut is the fade applied to the music at the end of the mashup.
	MusicFadeOut = 3.0
	// ClipVolume and MusicVolume balance the two tracks in the weld.
	ClipVolume  = 0.3
	MusicVolume = 0.6
)

// ClipSpec describes one clip to render.
type ClipSpec struct {
	// Input is the file handed to ffmpeg: a normalized still for images,
	// the source itself for videos.
	Input string
	// Output is the clip file to write.
	Output string
	// Length is the clip duration in seconds.
	Length float64
	// FPS is the output frame rate.
	FPS int
	// Start is the offset into a video source in seconds. Ignored for stills.
	Start float64
}

// WeldSpec describes the final concatenation.
type WeldSpec struct {
	// Manifest is the concat list produced by the manifest writer.
	Manifest string
	// Music is the optional background track. Empty means no music.
	Music string
	// Output is the final mashup file.
	Output string
	// Duration is clips × clip length; the music mix is truncated to it.
	Duration float64
}

// Processor defines the ffmpeg operations the mashup pipeline needs.
type Processor interface {
	// RenderStill turns a normalized still into a clip with a silent stereo track.
	RenderStill(ctx context.Context, spec ClipSpec) error

	// RenderVideo cuts spec.Length seconds from spec.Start of a video source and
	// normalizes its picture and audio.
	RenderVideo(ctx context.Context, spec ClipSpec) error

	// Weld concatenates the clips listed in the manifest and mixes in music
	// when spec.Music is set.
	Weld(ctx context.Context, spec WeldSpec) error
}

// DurationProber returns the duration in seconds of a media file.
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}
