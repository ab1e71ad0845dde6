// Package pipeline defines the typed pipeline descriptor model and the
// sequential stage runner that executes it. Stages are external processes;
// the descriptor declares, per stage, the command, its argument templates,
// the artifacts it consumes from earlier stages, and the artifacts it
// produces, so intermediate paths are threaded explicitly instead of by
// positional string interpolation.
package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/hcl/v2"
)

// Spec is the format-agnostic representation of one pipeline descriptor.
type Spec struct {
	Name             string
	RequiredServices []string
	ServingService   string
	Stages           []*StageSpec
	Verify           *VerifySpec
}

// StageSpec is the format-agnostic representation of a `stage` block.
// Command is fixed; Args are expressions evaluated per run against the run
// attributes and the outputs of earlier stages.
type StageSpec struct {
	Name     string
	Command  string
	Args     []hcl.Expression
	Consumes []string
	Outputs  []*OutputSpec
	// Enabled stages run; disabled ones are skipped without consuming or
	// producing artifacts (smoke runs re-use earlier partial results).
	Enabled bool
	// StreamsCorpus marks the stage whose stdout progress lines feed the
	// run-level progress indicator.
	StreamsCorpus bool
}

// OutputSpec declares one artifact a stage produces. Path is an expression
// evaluated against the run attributes.
type OutputSpec struct {
	Name string
	Path hcl.Expression
}

// VerifySpec carries the golden-path expectations checked after a successful
// run: an unfiltered query with a minimum hit count and expected top hit,
// plus optional filtered queries with exact hit counts.
type VerifySpec struct {
	Query    string
	MinHits  int
	TopHit   string
	Filtered []*FilteredQuerySpec
}

// FilteredQuerySpec is one type-filtered assertion against the live index.
type FilteredQuerySpec struct {
	CoarseTypes []string
	FineTypes   []string
	ExactHits   int
}

// Status is the lifecycle state of a pipeline run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is one execution instance of a pipeline. Immutable once terminal.
type Run struct {
	ID         string
	ArtifactID string
	DumpPath   string
	OutDir     string

	status      Status
	failedStage int
}

// NewRun creates a pending run. When artifactID is empty, one is generated
// from the prefix with a timestamp suffix so repeated runs never collide.
func NewRun(artifactID, prefix, dumpPath, outDir string) *Run {
	if artifactID == "" {
		artifactID = fmt.Sprintf("%s-%s", prefix, time.Now().UTC().Format("20060102150405"))
	}
	return &Run{
		ID:          uuid.NewString(),
		ArtifactID:  artifactID,
		DumpPath:    dumpPath,
		OutDir:      outDir,
		status:      StatusPending,
		failedStage: -1,
	}
}

// Status returns the run's current lifecycle state.
func (r *Run) Status() Status { return r.status }

// Succeed marks the run's terminal success. The runner never calls this: all
// stages exiting zero is necessary but not sufficient, so the caller driving
// the post-run rebind and verification owns the transition.
func (r *Run) Succeed() { r.finish(StatusSucceeded, -1) }

// Fail marks the run failed outside any particular stage, e.g. when the
// rebind or verification that follows the stages fails.
func (r *Run) Fail() { r.finish(StatusFailed, -1) }

// FailedStage returns the index of the failing stage, or -1.
func (r *Run) FailedStage() int { return r.failedStage }

func (r *Run) terminal() bool {
	return r.status == StatusSucceeded || r.status == StatusFailed
}

func (r *Run) start() {
	if !r.terminal() {
		r.status = StatusRunning
	}
}

func (r *Run) finish(status Status, failedStage int) {
	if r.terminal() {
		return
	}
	r.status = status
	r.failedStage = failedStage
}

// Artifact is one file produced by a stage and consumed by a later stage or
// the serving component.
type Artifact struct {
	Stage string
	Name  string
	Path  string
}

// Result is the outcome of a successful run: the full ordered list of
// produced artifacts.
type Result struct {
	Artifacts []Artifact
}

// StageFailedError reports a stage process that exited non-zero. Artifacts
// from completed stages are left in place for inspection.
type StageFailedError struct {
	Stage    string
	ExitCode int
	Stderr   string
}

// Error implements the error interface.
func (e *StageFailedError) Error() string {
	msg := fmt.Sprintf("stage %s failed with exit code %d", e.Stage, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}
