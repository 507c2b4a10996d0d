package media

import (
	"fmt"
	"strconv"
)

// seconds formats a duration for ffmpeg without trailing zeros.
func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// VideoFilter returns the normalization chain applied to every clip: fit into
// the output frame, pad to it, square pixels, resample to fps, fade the picture
// in and out inside length, and convert to yuv420p.
func VideoFilter(length float64, fps int) string {
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,"+
			"setsar=1,fps=%d,fade=t=in:st=0:d=%s,fade=t=out:st=%s:d=%s,format=yuv420p",
		Width, Height, Width, Height,
		fps,
		seconds(FadeDuration), seconds(length-FadeDuration), seconds(FadeDuration),
	)
}

// audioFades returns the short audio fade envelope for a clip of length seconds.
func audioFades(length float64) string {
	return fmt.Sprintf("afade=t=in:st=0:d=%s,afade=t=out:st=%s:d=%s",
		seconds(AudioFadeDuration), seconds(length-AudioFadeDuration), seconds(AudioFadeDuration))
}

// StillAudioFilter returns the audio chain for a still clip. The silent
// source starts at zero already, so only the fades are needed.
func StillAudioFilter(length float64) string {
	return audioFades(length)
}

// VideoAudioFilter returns the audio chain for a video clip: resample to the
// common rate, reset timestamps to zero after the seek, then fade.
func VideoAudioFilter(length float64) string {
	return fmt.Sprintf("aresample=%d:async=1,asetpts=PTS-STARTPTS,%s", AudioSampleRate, audioFades(length))
}

// silenceSource is the lavfi source used as the audio track of stills.
func silenceSource() string {
	return fmt.Sprintf("anullsrc=r=%d:cl=stereo", AudioSampleRate)
}
