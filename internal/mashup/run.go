// Package mashup provides the Run aggregate and the Service that turns a
// folder of photos and videos into a single randomized highlight reel.
package mashup

import (
	"errors"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/maauso/media-mashup/internal/media"
)

// Stage represents the current step of a Run.
type Stage string

const (
	// StageInit indicates the run has been created but not started.
	StageInit Stage = "INIT"
	// StageScanning indicates the source directory is being listed.
	StageScanning Stage = "SCANNING"
	// StageProducing indicates clips are being rendered.
	StageProducing Stage = "PRODUCING"
	// StageWelding indicates the clips are being joined into the output.
	StageWelding Stage = "WELDING"
	// StageCleaning indicates intermediate files are being removed.
	StageCleaning Stage = "CLEANING"
	// StageDone indicates the run has finished.
	StageDone Stage = "DONE"
)

// ErrInvalidTransition is returned when an invalid stage transition is attempted.
var ErrInvalidTransition = errors.New("invalid stage transition")

// validTransitions defines which stage transitions are allowed.
// SCANNING → DONE covers an empty inventory and PRODUCING → CLEANING a run
// that rendered nothing.
var validTransitions = map[Stage][]Stage{
	StageInit:      {StageScanning},
	StageScanning:  {StageProducing, StageDone},
	StageProducing: {StageWelding, StageCleaning},
	StageWelding:   {StageCleaning},
	StageCleaning:  {StageDone},
	StageDone:      {},
}

func canTransition(from, to Stage) bool {
	return slices.Contains(validTransitions[from], to)
}

// OutcomeStatus is the result of handling one candidate file.
type OutcomeStatus string

const (
	// OutcomeProduced indicates a clip was rendered from the candidate.
	OutcomeProduced OutcomeStatus = "produced"
	// OutcomeSkipped indicates the candidate was unusable, e.g. too short.
	OutcomeSkipped OutcomeStatus = "skipped"
	// OutcomeFailed indicates ffmpeg or the still decoder failed.
	OutcomeFailed OutcomeStatus = "failed"
)

// Outcome records what happened to one selected candidate.
type Outcome struct {
	Source media.File
	Status OutcomeStatus
	Err    error
}

// Clip is a produced fixed-length segment.
type Clip struct {
	// Index is the position of the clip in the final mashup.
	Index int
	// Path is the rendered clip file inside the workspace.
	Path string
	// Source is the file the clip was cut from.
	Source media.File
}

// Run is a single mashup execution.
// A Run is owned by one goroutine and is not safe for concurrent use.
type Run struct {
	// ID is the unique identifier for this run.
	ID string
	// Stage is the current step.
	Stage Stage
	// Clips are the produced clips in mashup order.
	Clips []Clip
	// Outcomes holds one entry per selected candidate, in selection order.
	Outcomes []Outcome
	// Output is the path of the welded mashup, set once the weld succeeds.
	Output string
	// URL is where the mashup was published, if anywhere.
	URL string
	// Error contains the message of the last final-stage failure.
	Error string
	// CreatedAt is when the run was created.
	CreatedAt time.Time
	// UpdatedAt is when the run last changed stage.
	UpdatedAt time.Time
	// CompletedAt is when the run reached DONE.
	CompletedAt time.Time
}

// NewRunWithID creates a Run with the specified ID in the INIT stage.
func NewRunWithID(runID string) *Run {
	now := time.Now()
	return &Run{
		ID:        runID,
		Stage:     StageInit,
		Clips:     make([]Clip, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo moves the run to stage.
// Returns ErrInvalidTransition if the transition is not allowed.
func (r *Run) TransitionTo(stage Stage) error {
	if !canTransition(r.Stage, stage) {
		return ErrInvalidTransition
	}

	r.Stage = stage
	r.UpdatedAt = time.Now()
	if stage == StageDone {
		r.CompletedAt = r.UpdatedAt
	}
	return nil
}

// AddClip appends a produced clip and records its outcome.
func (r *Run) AddClip(clip Clip) {
	r.Clips = append(r.Clips, clip)
	r.Outcomes = append(r.Outcomes, Outcome{Source: clip.Source, Status: OutcomeProduced})
}

// Reject records a candidate that did not yield a clip.
func (r *Run) Reject(src media.File, status OutcomeStatus, err error) {
	r.Outcomes = append(r.Outcomes, Outcome{Source: src, Status: status, Err: err})
}

// ClipPaths returns the clip files in mashup order.
func (r *Run) ClipPaths() []string {
	return lo.Map(r.Clips, func(c Clip, _ int) string { return c.Path })
}

// Count returns how many outcomes have the given status.
func (r *Run) Count(status OutcomeStatus) int {
	return lo.CountBy(r.Outcomes, func(o Outcome) bool { return o.Status == status })
}
