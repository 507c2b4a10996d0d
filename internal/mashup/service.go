package mashup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/maauso/media-mashup/internal/inventory"
	"github.com/maauso/media-mashup/internal/manifest"
	"github.com/maauso/media-mashup/internal/mashup/id"
	"github.com/maauso/media-mashup/internal/media"
	"github.com/maauso/media-mashup/internal/still"
	"github.com/maauso/media-mashup/internal/storage"
)

// ErrTooShort is returned for videos that cannot fit a clip plus one second
// of margin on each side.
var ErrTooShort = errors.New("video too short for clip")

// ErrTempDirIsSource is returned when the workspace would be the source
// directory; cleanup would then delete the user's media.
var ErrTempDirIsSource = errors.New("temp directory is the source directory")

// ErrManifestMismatch is returned when the manifest read back from disk does
// not list exactly the produced clips.
var ErrManifestMismatch = errors.New("manifest does not match produced clips")

// edgeMargin is the time kept clear at both ends of a video source.
const edgeMargin = 1.0

// Normalizer turns a still of any supported format into an upright JPEG.
type Normalizer interface {
	Normalize(ctx context.Context, src, dst string) error
}

// WorkspaceFactory creates the scratch workspace for one run.
type WorkspaceFactory func(dir string) (storage.Workspace, error)

// Settings contains the parameters of one mashup run.
type Settings struct {
	// SourceDir is scanned for photos and videos.
	SourceDir string
	// Clips is the number of clips requested.
	Clips int
	// Length is the duration of every clip in seconds.
	Length float64
	// FPS is the output frame rate.
	FPS int
	// Music is the optional background track. Ignored when the file is missing.
	Music string
	// Output is the final mashup file. A file with the same name in
	// SourceDir is never used as a source.
	Output string
	// TempDir holds intermediate stills and clips.
	TempDir string
	// ManifestFile is the concat list handed to the weld.
	ManifestFile string
}

// Service orchestrates a mashup run.
// It coordinates between the inventory scan, still normalization, ffmpeg
// rendering, the workspace and the optional publisher.
type Service struct {
	processor    media.Processor
	prober       media.DurationProber
	stills       Normalizer
	publisher    storage.Publisher
	newWorkspace WorkspaceFactory
	rng          *rand.Rand
	logger       *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPublisher uploads the finished mashup through p.
func WithPublisher(p storage.Publisher) ServiceOption {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithSeed makes clip selection and video offsets reproducible.
// A zero seed keeps the random default.
func WithSeed(seed uint64) ServiceOption {
	return func(s *Service) {
		if seed != 0 {
			s.rng = rand.New(rand.NewPCG(seed, seed)) // #nosec G404 - selection is not security sensitive
		}
	}
}

// WithWorkspaceFactory replaces the local workspace.
func WithWorkspaceFactory(f WorkspaceFactory) ServiceOption {
	return func(s *Service) {
		s.newWorkspace = f
	}
}

// NewService creates a new Service.
func NewService(
	processor media.Processor,
	prober media.DurationProber,
	stills Normalizer,
	logger *slog.Logger,
	opts ...ServiceOption,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		processor: processor,
		prober:    prober,
		stills:    stills,
		newWorkspace: func(dir string) (storage.Workspace, error) {
			return storage.NewLocalStorage(dir)
		},
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), // #nosec G404 - selection is not security sensitive
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes one mashup: scan, produce clips, weld, publish and clean up.
//
// It returns inventory.ErrNoMediaFiles when the source directory holds
// nothing usable; in that case no workspace is created. Per-clip failures,
// a failed weld and a failed upload are recorded on the Run and logged but do
// not make Run return an error.
func (s *Service) Run(ctx context.Context, settings Settings) (*Run, error) {
	return s.RunWithID(ctx, id.Generate(), settings)
}

// RunWithID is Run with a caller-chosen run ID.
func (s *Service) RunWithID(ctx context.Context, runID string, settings Settings) (*Run, error) {
	run := NewRunWithID(runID)
	logger := s.logger.With(slog.String("run_id", run.ID))

	if storage.SameDir(settings.TempDir, settings.SourceDir) {
		return run, fmt.Errorf("%w: %s", ErrTempDirIsSource, settings.TempDir)
	}

	advance(run, StageScanning, logger)
	files, err := inventory.Scan(settings.SourceDir, filepath.Base(settings.Output))
	if err != nil {
		if errors.Is(err, inventory.ErrNoMediaFiles) {
			logger.Warn("no media files found, nothing to do",
				slog.String("dir", settings.SourceDir),
			)
			advance(run, StageDone, logger)
		}
		return run, err
	}

	counts := inventory.CountByKind(files)
	logger.Info("media inventory ready",
		slog.Int("images", counts[media.KindImage]),
		slog.Int("videos", counts[media.KindVideo]),
		slog.Int("requested_clips", settings.Clips),
	)

	ws, err := s.newWorkspace(settings.TempDir)
	if err != nil {
		return run, fmt.Errorf("create workspace: %w", err)
	}

	advance(run, StageProducing, logger)
	s.produce(ctx, run, files, ws, settings, logger)

	switch {
	case len(run.Clips) == 0:
		logger.Warn("no clips produced, skipping weld",
			slog.Int("candidates_tried", len(run.Outcomes)),
		)
	case ctx.Err() != nil:
		run.Error = ctx.Err().Error()
		logger.Warn("run interrupted, skipping weld",
			slog.Int("clips", len(run.Clips)),
		)
	default:
		advance(run, StageWelding, logger)
		s.weld(ctx, run, settings, logger)
	}

	advance(run, StageCleaning, logger)
	s.cleanup(context.WithoutCancel(ctx), run, ws, settings, logger)

	advance(run, StageDone, logger)
	logger.Info("mashup run finished",
		slog.Int("produced", run.Count(OutcomeProduced)),
		slog.Int("skipped", run.Count(OutcomeSkipped)),
		slog.Int("failed", run.Count(OutcomeFailed)),
		slog.String("output", run.Output),
	)
	return run, nil
}

// advance moves run to stage. The pipeline only requests legal transitions,
// so a refusal is a programming error and is logged loudly.
func advance(run *Run, stage Stage, logger *slog.Logger) {
	if err := run.TransitionTo(stage); err != nil {
		logger.Error("stage transition refused",
			slog.String("from", string(run.Stage)),
			slog.String("to", string(stage)),
			slog.String("error", err.Error()),
		)
	}
}

// produce renders clips from randomly chosen candidates until enough clips
// exist, the pool is empty or ctx is cancelled. Each candidate is drawn at
// most once.
func (s *Service) produce(
	ctx context.Context,
	run *Run,
	files []media.File,
	ws storage.Workspace,
	settings Settings,
	logger *slog.Logger,
) {
	pool := make([]media.File, len(files))
	copy(pool, files)

	for attempt := 0; len(run.Clips) < settings.Clips && len(pool) > 0; attempt++ {
		if ctx.Err() != nil {
			logger.Warn("clip production interrupted",
				slog.String("error", ctx.Err().Error()),
			)
			return
		}

		i := s.rng.IntN(len(pool))
		src := pool[i]
		last := len(pool) - 1
		pool[i] = pool[last]
		pool = pool[:last]

		clip := Clip{
			Index:  len(run.Clips),
			Path:   ws.Path(fmt.Sprintf("clip_%d.mp4", len(run.Clips))),
			Source: src,
		}

		var err error
		if src.IsImage() {
			err = s.renderStill(ctx, src, clip.Path, ws.Path(fmt.Sprintf("prep_%d.jpg", attempt)), settings)
		} else {
			err = s.renderVideo(ctx, src, clip.Path, settings)
		}

		if err != nil {
			status := OutcomeFailed
			if errors.Is(err, ErrTooShort) || errors.Is(err, still.ErrDecode) || errors.Is(err, media.ErrNoDuration) {
				status = OutcomeSkipped
			}
			run.Reject(src, status, err)
			logger.Warn("candidate "+string(status),
				slog.String("source", src.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}

		run.AddClip(clip)
		logger.Info(fmt.Sprintf("clip produced (%d/%d)", len(run.Clips), settings.Clips),
			slog.String("source", src.Name()),
			slog.String("clip", clip.Path),
		)
	}
}

func (s *Service) renderStill(ctx context.Context, src media.File, out, prep string, settings Settings) error {
	if err := s.stills.Normalize(ctx, src.Path, prep); err != nil {
		return err
	}
	defer func() { _ = os.Remove(prep) }()

	return s.processor.RenderStill(ctx, media.ClipSpec{
		Input:  prep,
		Output: out,
		Length: settings.Length,
		FPS:    settings.FPS,
	})
}

func (s *Service) renderVideo(ctx context.Context, src media.File, out string, settings Settings) error {
	// Probers name the file in their errors.
	duration, err := s.prober.Duration(ctx, src.Path)
	if err != nil {
		return err
	}

	start, err := s.startOffset(duration, settings.Length)
	if err != nil {
		return fmt.Errorf("%s: %w", src.Name(), err)
	}

	return s.processor.RenderVideo(ctx, media.ClipSpec{
		Input:  src.Path,
		Output: out,
		Length: settings.Length,
		FPS:    settings.FPS,
		Start:  start,
	})
}

// startOffset picks a start uniformly in [1, duration-length-1].
func (s *Service) startOffset(duration, length float64) (float64, error) {
	window := duration - length - 2*edgeMargin
	if window < 0 {
		return 0, fmt.Errorf("%w: %.2fs < %.2fs", ErrTooShort, duration, length+2*edgeMargin)
	}
	return edgeMargin + s.rng.Float64()*window, nil
}

func (s *Service) weld(ctx context.Context, run *Run, settings Settings, logger *slog.Logger) {
	if err := writeManifest(settings.ManifestFile, run.ClipPaths()); err != nil {
		run.Error = err.Error()
		logger.Error("failed to write manifest", slog.String("error", err.Error()))
		return
	}

	music := settings.Music
	if music != "" {
		if _, err := os.Stat(music); err != nil {
			logger.Info("background music not found, welding without it",
				slog.String("music", music),
			)
			music = ""
		}
	}

	spec := media.WeldSpec{
		Manifest: settings.ManifestFile,
		Music:    music,
		Output:   settings.Output,
		Duration: float64(len(run.Clips)) * settings.Length,
	}
	logger.Info("welding clips",
		slog.Int("clips", len(run.Clips)),
		slog.Float64("duration", spec.Duration),
		slog.Bool("music", music != ""),
	)

	if err := s.processor.Weld(ctx, spec); err != nil {
		run.Error = err.Error()
		logger.Error("weld failed", slog.String("error", err.Error()))
		return
	}

	run.Output = settings.Output
	logger.Info("mashup written", slog.String("output", run.Output))

	if s.publisher != nil {
		s.publish(ctx, run, logger)
	}
}

// writeManifest writes the concat list and reads it back, so the weld never
// runs on a list that lost or gained clips.
func writeManifest(path string, clips []string) error {
	if err := manifest.Write(path, clips); err != nil {
		return err
	}
	listed, err := manifest.Read(path)
	if err != nil {
		return err
	}
	if len(listed) != len(clips) {
		return fmt.Errorf("%w: %d listed, %d produced", ErrManifestMismatch, len(listed), len(clips))
	}
	return nil
}

func (s *Service) publish(ctx context.Context, run *Run, logger *slog.Logger) {
	f, err := os.Open(run.Output) // #nosec G304 - output path comes from config
	if err != nil {
		run.Error = err.Error()
		logger.Error("failed to open mashup for upload", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = f.Close() }()

	url, err := s.publisher.Publish(ctx, run.ID+"/"+filepath.Base(run.Output), f)
	if err != nil {
		run.Error = err.Error()
		logger.Error("upload failed", slog.String("error", err.Error()))
		return
	}

	run.URL = url
	logger.Info("mashup published", slog.String("url", url))
}

// cleanup removes clips, the manifest and the workspace. It must run with a
// context that outlives cancellation of the run.
func (s *Service) cleanup(ctx context.Context, run *Run, ws storage.Workspace, settings Settings, logger *slog.Logger) {
	paths := append(run.ClipPaths(), settings.ManifestFile)
	if err := ws.CleanupTemp(ctx, paths); err != nil {
		logger.Warn("failed to remove temp files", slog.String("error", err.Error()))
	}
	if err := ws.Destroy(ctx); err != nil {
		logger.Warn("failed to remove temp directory", slog.String("error", err.Error()))
		return
	}
	logger.Debug("workspace removed", slog.String("temp_dir", ws.TempDir()))
}
