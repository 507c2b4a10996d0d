package mashup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/media-mashup/internal/inventory"
	"github.com/maauso/media-mashup/internal/manifest"
	"github.com/maauso/media-mashup/internal/media"
	"github.com/maauso/media-mashup/internal/still"
)

// fakeProcessor writes placeholder files instead of running ffmpeg.
type fakeProcessor struct {
	stills   []media.ClipSpec
	videos   []media.ClipSpec
	welds    []media.WeldSpec
	manifest []string
	// prepSeen records whether the normalized still existed during rendering.
	prepSeen []bool
	// preps lists every normalized still handed to RenderStill.
	preps []string
	// lingering counts earlier normalized stills still on disk when the next
	// still was rendered.
	lingering int

	renderErr error
	weldErr   error
}

func (p *fakeProcessor) RenderStill(_ context.Context, spec media.ClipSpec) error {
	_, err := os.Stat(spec.Input)
	p.prepSeen = append(p.prepSeen, err == nil)
	for _, prev := range p.preps {
		if _, err := os.Stat(prev); err == nil {
			p.lingering++
		}
	}
	p.preps = append(p.preps, spec.Input)
	p.stills = append(p.stills, spec)
	if p.renderErr != nil {
		return p.renderErr
	}
	return os.WriteFile(spec.Output, []byte("clip"), 0600)
}

func (p *fakeProcessor) RenderVideo(_ context.Context, spec media.ClipSpec) error {
	p.videos = append(p.videos, spec)
	if p.renderErr != nil {
		return p.renderErr
	}
	return os.WriteFile(spec.Output, []byte("clip"), 0600)
}

func (p *fakeProcessor) Weld(_ context.Context, spec media.WeldSpec) error {
	p.welds = append(p.welds, spec)
	lines, err := manifest.Read(spec.Manifest)
	if err != nil {
		return err
	}
	p.manifest = lines
	if p.weldErr != nil {
		return p.weldErr
	}
	return os.WriteFile(spec.Output, []byte("mashup"), 0600)
}

// fakeProber reports a fixed duration for every file.
type fakeProber struct {
	duration float64
	err      error
}

func (p *fakeProber) Duration(_ context.Context, _ string) (float64, error) {
	return p.duration, p.err
}

// fakeNormalizer writes a placeholder JPEG and fails for names listed in broken.
type fakeNormalizer struct {
	broken map[string]bool
}

func (n *fakeNormalizer) Normalize(_ context.Context, src, dst string) error {
	if n.broken[filepath.Base(src)] {
		return fmt.Errorf("%w %s: corrupt", still.ErrDecode, src)
	}
	return os.WriteFile(dst, []byte("jpeg"), 0600)
}

type fakePublisher struct {
	key  string
	body string
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, key string, data io.Reader) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	p.key = key
	p.body = string(b)
	return "https://bucket.example/" + key, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func createSources(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte(n), 0600))
	}
}

func testSettings(t *testing.T, srcDir string) Settings {
	t.Helper()
	work := t.TempDir()
	return Settings{
		SourceDir:    srcDir,
		Clips:        3,
		Length:       2,
		FPS:          30,
		Music:        filepath.Join(work, "background_music.mp3"),
		Output:       filepath.Join(work, "STABLE_FINAL_MASHUP.mp4"),
		TempDir:      filepath.Join(work, "MASHUP_TEMP_FILES"),
		ManifestFile: filepath.Join(work, "join_list.txt"),
	}
}

func newTestService(proc *fakeProcessor, prober *fakeProber, opts ...ServiceOption) *Service {
	if prober == nil {
		prober = &fakeProber{duration: 60}
	}
	return NewService(proc, prober, &fakeNormalizer{}, testLogger(), append([]ServiceOption{WithSeed(7)}, opts...)...)
}

func TestNewService(t *testing.T) {
	svc := NewService(&fakeProcessor{}, &fakeProber{}, &fakeNormalizer{}, nil)
	require.NotNil(t, svc)
	assert.NotNil(t, svc.logger)
	assert.NotNil(t, svc.rng)
	assert.NotNil(t, svc.newWorkspace)
	assert.Nil(t, svc.publisher)
}

func TestService_Run_NoMedia(t *testing.T) {
	srcDir := t.TempDir()
	createSources(t, srcDir, "notes.txt", "song.mp3")
	settings := testSettings(t, srcDir)
	proc := &fakeProcessor{}

	run, err := newTestService(proc, nil).Run(context.Background(), settings)

	require.ErrorIs(t, err, inventory.ErrNoMediaFiles)
	assert.Equal(t, StageDone, run.Stage)
	assert.Empty(t, run.Clips)
	assert.NoDirExists(t, settings.TempDir)
	assert.NoFileExists(t, settings.Output)
	assert.Empty(t, proc.welds)
}

func TestService_Run_MissingSourceDir(t *testing.T) {
	settings := testSettings(t, filepath.Join(t.TempDir(), "missing"))

	run, err := newTestService(&fakeProcessor{}, nil).Run(context.Background(), settings)

	require.Error(t, err)
	assert.NotErrorIs(t, err, inventory.ErrNoMediaFiles)
	assert.Equal(t, StageScanning, run.Stage)
	assert.NoDirExists(t, settings.TempDir)
}

func TestService_Run_ShortVideosProduceNothing(t *testing.T) {
	srcDir := t.TempDir()
	createSources(t, srcDir, "a.mp4", "b.mov", "c.mkv")
	settings := testSettings(t, srcDir)
	settings.Length = 7
	proc := &fakeProcessor{}

	run, err := newTestService(proc, &fakeProber{duration: 5}).Run(context.Background(), settings)

	require.NoError(t, err)
	assert.Equal(t, StageDone, run.Stage)
	assert.Empty(t, run.Clips)
	assert.Equal(t, 3, run.Count(OutcomeSkipped))
	for _, o := range run.Outcomes {
		assert.ErrorIs(t, o.Err, ErrTooShort)
	}
	assert.Empty(t, proc.videos)
	assert.Empty(t, proc.welds)
	assert.NoFileExists(t, settings.Output)
	assert.NoDirExists(t, settings.TempDir)
}

func TestService_Run_Images(t *testing.T) {
	srcDir := t.TempDir()
	createSources(t, srcDir, "1.jpg", "2.jpeg", "3.png", "4.webp", "5.heic")
	settings := testSettings(t, srcDir)
	proc := &fakeProcessor{}

	run, err := newTestService(proc, nil).Run(context.Background(), settings)
	require.NoError(t, err)

	// Clips are capped at the requested count.
	require.Len(t, run.Clips, 3)
	assert.Len(t, proc.stills, 3)
	assert.Equal(t, 3, run.Count(OutcomeProduced))

	// No source is used twice.
	seen := map[string]bool{}
	for i, c := range run.Clips {
		assert.Equal(t, i, c.Index)
		assert.False(t, seen[c.Source.Path], "source %s reused", c.Source.Path)
		seen[c.Source.Path] = true
	}

	// Every still was normalized before rendering.
	assert.Equal(t, []bool{true, true, true}, proc.prepSeen)
	for _, spec := range proc.stills {
		assert.Equal(t, ".jpg", filepath.Ext(spec.Input))
		assert.InDelta(t, 2.0, spec.Length, 1e-9)
		assert.Equal(t, 30, spec.FPS)
	}

	// Manifest lines correspond 1:1, in order, to produced clips.
	require.Len(t, proc.welds, 1)
	assert.Equal(t, run.ClipPaths(), proc.manifest)
	assert.InDelta(t, 6.0, proc.welds[0].Duration, 1e-9)
	assert.Empty(t, proc.welds[0].Music, "missing music file must not be mixed in")

	assert.Equal(t, settings.Output, run.Output)
	assert.FileExists(t, settings.Output)

	// Intermediate files are gone, the output stays.
	assert.NoDirExists(t, settings.TempDir)
	assert.NoFileExists(t, settings.ManifestFile)
	assert.Equal(t, StageDone, run.Stage)
	assert.False(t, run.CompletedAt.IsZero())
}

func TestService_Run_FewerFilesThanClips(t *testing.T) {
	srcDir := t.TempDir()
	createSources(t, srcDir, "1.jpg", "2.mp4")
	settings := testSettings(t, srcDir)
	settings.Clips = 10
	proc := &fakeProcessor{}

	run, err := newTestService(proc, nil).Run(context.Background(), settings)
	require.NoError(t, err)

	assert.Len(t, run.Clips, 2)
	assert.Len(t, run.Outcomes, 2)
	assert.Len(t, proc.stills, 1)
	assert.Len(t, proc.videos, 1)
}

func TestService_Run_WithMusic(t *testing.T) {
	srcDir := t.TempDir()
	createSources(t, srcDir, "1.jpg", "2.jpg")
	settings := testSettings(t, srcDir)
	require.NoError(t, os.WriteFile(settings.Music, []byte("mp3"), 0600))
	proc := &fakeProcessor{}

	_, err := newTestService(proc, nil).Run(context.Background(), settings)
	require.NoError(t, err)

	require.Len(t, proc.welds, 1)
	assert.Equal(t, settings.Music, proc.welds[0].Music)
	assert.Equal(t, settings.ManifestFile, proc.welds[0].Manifest)
	assert.InDelta(t, 4.0, proc.welds[0].Duration, 1e-9)
	assert.FileExists(t, settings.Music, "music must never be removed")
}

func TestService_Run_ExcludesOutputFile(t *testing.T) {
	srcDir := t.TempDir()
	createSources(t, srcDir, "STABLE_FINAL_MASHUP.mp4", "1.jpg")
	settings := testSettings(t, srcDir)
	settings.Output = filepath.Join(srcDir, "STABLE_FINAL_MASHUP.mp4")
	proc := &fakeProcessor{}

	run, err := newTestService(proc, nil).Run(context.Background(), settings)
	require.NoError(t, err)

	require.Len(t, run.Outcomes, 1)
	assert.Equal(t, "1.jpg", run.Outcomes[0].Source.Name())
	assert.Empty(t, proc.videos)
}

func TestService_Run_VideoStartOffset(t *testing.T) {
	srcDir := t.TempDir()
	createSources(t, srcDir, "a.mp4", "b.mp4", "c.mp4", "d.mp4")
	settings := testSettings(t, srcDir)
	settings.Clips = 4
	settings.Length = 7
	proc := &fakeProcessor{}

	_, err := newTestService(proc, &fakeProber{duration: 20}).Run(context.Background(), settings)
	require.NoError(t, err)

	require.Len(t, proc.videos, 4)
	for _, spec := range proc.videos {
		assert.GreaterOrEqual(t, spec.Start, 1.0)
		assert.LessOrEqual(t, spec.Start, 20.0-7.0-1.0)
		assert.InDelta(t, 7.0, spec.Length, 1e-9)
	}
}

func TestService_Run_SeedIsReproducible(t *testing.T) {
	srcDir := t.TempDir()
	createSources(t, srcDir, "1.jpg", "2.jpg", "3.jpg", "4.jpg", "5.mp4", "6.mp4")

	sources := func() []string {
		settings := testSettings(t, srcDir)
		settings.Clips = 6
		run, err := newTestService(&fakeProcessor{}, nil, WithSeed(42)).Run(context.Background(), settings)
		require.NoError(t, err)
		names := make([]string, 0, len(run.Clips))
		for _, c := range run.Clips {
			names = append(names, c.Source.Name())
		}
		return names
	}

	first := sources()
	assert.Len(t, first, 6)
	assert.Equal(t, first, sources())
}

func TestService_Run_DecodeFailureIsSkipped(t *testing.T) {
	srcDir := t.TempDir()
	createSources(t, srcDir, "good1.jpg", "broken.heic", "good2.png")
	settings := testSettings(t, srcDir)
	proc := &fakeProcessor{}
	stills := &fakeNormalizer{broken: map[string]bool{"broken.heic": true}}

	svc := NewService(proc, &fakeProber{}, stills, testLogger(), WithSeed(3))
	run, err := svc.Run(context.Background(), settings)
	require.NoError(t, err)

	assert.Len(t, run.Clips, 2)
	assert.Equal(t, 1, run.Count(OutcomeSkipped))
	for _, o := range run.Outcomes {
		if o.Status == OutcomeSkipped {
			assert.Equal(t, "broken.heic", o.Source.Name())
			assert.ErrorIs(t, o.Err, still.ErrDecode)
		}
	}
	assert.Len(t, proc.stills, 2)
}

func TestService_Run_RenderFailureContinues(t *testing.T) {
	srcDir := t.TempDir()
	createSources(t, srcDir, "1.jpg", "2.mp4")
	settings := testSettings(t, srcDir)
	proc := &fakeProcessor{renderErr: &media.FFmpegError{Err: errors.New("exit status 1")}}

	run, err := newTestService(proc, nil).Run(context.Background(), settings)
	require.NoError(t, err)

	assert.Empty(t, run.Clips)
	assert.Equal(t, 2, run.Count(OutcomeFailed))
	assert.Empty(t, proc.welds)
	assert.NoDirExists(t, settings.TempDir)
	assert.Equal(t, StageDone, run.Stage)
}

func TestService_Run_UnreadableDuration(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status OutcomeStatus
	}{
		{"no duration in output is skipped", fmt.Errorf("probe /src/1.mp4: %w", media.ErrNoDuration), OutcomeSkipped},
		{"ffprobe crash is failed", fmt.Errorf("%w for /src/1.mp4: exit status 1", media.ErrFFprobeExecution), OutcomeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srcDir := t.TempDir()
			createSources(t, srcDir, "1.mp4")
			settings := testSettings(t, srcDir)
			proc := &fakeProcessor{}

			run, err := newTestService(proc, &fakeProber{err: tt.err}).Run(context.Background(), settings)
			require.NoError(t, err)

			require.Len(t, run.Outcomes, 1)
			assert.Equal(t, tt.status, run.Outcomes[0].Status)
			assert.ErrorIs(t, run.Outcomes[0].Err, tt.err)
			// The path is named once, by the prober.
			assert.Equal(t, 1, strings.Count(run.Outcomes[0].Err.Error(), "1.mp4"))
			assert.Empty(t, proc.videos)
		})
	}
}

func TestService_Run_RemovesEachPreparedStill(t *testing.T) {
	tests := []struct {
		name      string
		renderErr error
	}{
		{"successful renders", nil},
		{"failed renders", &media.FFmpegError{Err: errors.New("exit status 1")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srcDir := t.TempDir()
			createSources(t, srcDir, "1.jpg", "2.png", "3.heic", "4.webp")
			settings := testSettings(t, srcDir)
			settings.Clips = 4
			proc := &fakeProcessor{renderErr: tt.renderErr}

			_, err := newTestService(proc, nil).Run(context.Background(), settings)
			require.NoError(t, err)

			require.Len(t, proc.preps, 4)
			assert.Equal(t, []bool{true, true, true, true}, proc.prepSeen)
			assert.Zero(t, proc.lingering, "a prepared still outlived its render")
			for _, prep := range proc.preps {
				assert.NoFileExists(t, prep)
			}
		})
	}
}

func TestService_Run_TempDirIsSourceDir(t *testing.T) {
	srcDir := t.TempDir()
	createSources(t, srcDir, "a.jpg", "b.jpg", "c.jpg")
	require.NoError(t, os.Mkdir(filepath.Join(srcDir, "albums"), 0o750))
	createSources(t, filepath.Join(srcDir, "albums"), "wedding.mov")

	settings := testSettings(t, srcDir)
	settings.Clips = 1
	settings.TempDir = srcDir + string(filepath.Separator) + "."
	proc := &fakeProcessor{}

	run, err := newTestService(proc, nil).Run(context.Background(), settings)

	require.ErrorIs(t, err, ErrTempDirIsSource)
	assert.Equal(t, StageInit, run.Stage)
	assert.Empty(t, proc.stills)
	assert.Empty(t, proc.welds)
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg", filepath.Join("albums", "wedding.mov")} {
		assert.FileExists(t, filepath.Join(srcDir, name))
	}
}

func TestService_Run_LogsNoRefusedTransitions(t *testing.T) {
	srcDir := t.TempDir()
	createSources(t, srcDir, "1.jpg", "2.mp4")
	settings := testSettings(t, srcDir)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	svc := NewService(&fakeProcessor{}, &fakeProber{duration: 60}, &fakeNormalizer{}, logger, WithSeed(5))

	run, err := svc.Run(context.Background(), settings)
	require.NoError(t, err)

	assert.Equal(t, StageDone, run.Stage)
	assert.Contains(t, buf.String(), "mashup run finished")
	assert.NotContains(t, buf.String(), "stage transition refused")
}

func TestAdvance_LogsRefusedTransition(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	run := NewRunWithID("run-test")

	advance(run, StageWelding, logger)

	assert.Equal(t, StageInit, run.Stage)
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "stage transition refused")
	assert.Contains(t, buf.String(), "from=INIT")
	assert.Contains(t, buf.String(), "to=WELDING")
}

func TestWriteManifest(t *testing.T) {
	t.Run("lists every clip", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "join_list.txt")
		clips := []string{"/tmp/clip_0.mp4", "/tmp/it's clip_1.mp4"}

		require.NoError(t, writeManifest(path, clips))

		lines, err := manifest.Read(path)
		require.NoError(t, err)
		assert.Equal(t, clips, lines)
	})

	t.Run("clip path that breaks the line format", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "join_list.txt")
		assert.Error(t, writeManifest(path, []string{"/tmp/clip_0.mp4", "/tmp/clip\nfile 'x'.mp4"}))
	})

	t.Run("unwritable location", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing", "join_list.txt")
		assert.Error(t, writeManifest(path, []string{"/tmp/clip_0.mp4"}))
	})
}

func TestService_Run_WeldFailureStillCleansUp(t *testing.T) {
	srcDir := t.TempDir()
	createSources(t, srcDir, "1.jpg", "2.jpg", "3.jpg")
	settings := testSettings(t, srcDir)
	proc := &fakeProcessor{weldErr: errors.New("weld exploded")}
	pub := &fakePublisher{}

	run, err := newTestService(proc, nil, WithPublisher(pub)).Run(context.Background(), settings)
	require.NoError(t, err)

	assert.Len(t, run.Clips, 3)
	assert.Empty(t, run.Output)
	assert.Contains(t, run.Error, "weld exploded")
	assert.Empty(t, pub.key, "nothing to publish after a failed weld")
	assert.NoDirExists(t, settings.TempDir)
	assert.NoFileExists(t, settings.ManifestFile)
	assert.Equal(t, StageDone, run.Stage)
}

func TestService_Run_Publishes(t *testing.T) {
	srcDir := t.TempDir()
	createSources(t, srcDir, "1.jpg")
	settings := testSettings(t, srcDir)
	pub := &fakePublisher{}

	run, err := newTestService(&fakeProcessor{}, nil, WithPublisher(pub)).
		RunWithID(context.Background(), "mashup-20240101T000000Z-abcd", settings)
	require.NoError(t, err)

	assert.Equal(t, "mashup-20240101T000000Z-abcd/STABLE_FINAL_MASHUP.mp4", pub.key)
	assert.Equal(t, "mashup", pub.body)
	assert.Equal(t, "https://bucket.example/mashup-20240101T000000Z-abcd/STABLE_FINAL_MASHUP.mp4", run.URL)
	assert.FileExists(t, settings.Output, "local output is kept after upload")
}

func TestService_Run_PublishFailureIsRecorded(t *testing.T) {
	srcDir := t.TempDir()
	createSources(t, srcDir, "1.jpg")
	settings := testSettings(t, srcDir)
	pub := &fakePublisher{err: errors.New("access denied")}

	run, err := newTestService(&fakeProcessor{}, nil, WithPublisher(pub)).Run(context.Background(), settings)
	require.NoError(t, err)

	assert.Empty(t, run.URL)
	assert.Contains(t, run.Error, "access denied")
	assert.Equal(t, settings.Output, run.Output)
	assert.NoDirExists(t, settings.TempDir)
}

func TestService_Run_CancelledContext(t *testing.T) {
	srcDir := t.TempDir()
	createSources(t, srcDir, "1.jpg", "2.jpg")
	settings := testSettings(t, srcDir)
	proc := &fakeProcessor{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := newTestService(proc, nil).Run(ctx, settings)
	require.NoError(t, err)

	assert.Empty(t, run.Clips)
	assert.Empty(t, proc.stills)
	assert.Empty(t, proc.welds)
	assert.NoDirExists(t, settings.TempDir)
	assert.Equal(t, StageDone, run.Stage)
}

func TestService_StartOffset(t *testing.T) {
	svc := newTestService(&fakeProcessor{}, nil)

	t.Run("exact fit starts at one second", func(t *testing.T) {
		start, err := svc.startOffset(9, 7)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, start, 1e-9)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := svc.startOffset(8.99, 7)
		assert.ErrorIs(t, err, ErrTooShort)
	})

	t.Run("within window", func(t *testing.T) {
		for range 100 {
			start, err := svc.startOffset(30, 7)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, start, 1.0)
			assert.LessOrEqual(t, start, 22.0)
		}
	})
}

// cancellingProcessor cancels the run after its first clip.
type cancellingProcessor struct {
	fakeProcessor
	cancel context.CancelFunc
}

func (p *cancellingProcessor) RenderStill(ctx context.Context, spec media.ClipSpec) error {
	defer p.cancel()
	return p.fakeProcessor.RenderStill(ctx, spec)
}

func TestService_Run_InterruptedSkipsWeld(t *testing.T) {
	srcDir := t.TempDir()
	createSources(t, srcDir, "1.jpg", "2.jpg", "3.jpg")
	settings := testSettings(t, srcDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc := &cancellingProcessor{cancel: cancel}

	svc := NewService(proc, &fakeProber{}, &fakeNormalizer{}, testLogger(), WithSeed(1))
	run, err := svc.Run(ctx, settings)
	require.NoError(t, err)

	assert.Len(t, run.Clips, 1)
	assert.Empty(t, proc.welds)
	assert.Contains(t, run.Error, context.Canceled.Error())
	assert.NoDirExists(t, settings.TempDir)
	assert.NoFileExists(t, settings.ManifestFile)
	assert.Equal(t, StageDone, run.Stage)
}
