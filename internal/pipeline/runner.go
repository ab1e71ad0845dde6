package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/alpaca-search/alpacactl/internal/ctxlog"
	"github.com/alpaca-search/alpacactl/internal/progress"
)

// Runner executes a pipeline's stages strictly in order, threading artifact
// paths from completed stages into the argument templates of later ones, and
// aborting the whole run at the first non-zero exit.
type Runner struct {
	// Progress, when set, receives processed-unit counts parsed from the
	// stdout of the stage marked StreamsCorpus.
	Progress *progress.Reporter
	// Env entries are appended to each stage's inherited environment.
	Env []string
}

// Run executes every enabled stage of spec. The run transitions to running
// and, on any failure, to failed; a terminal run is never mutated again.
// Success leaves the run in the running state: the caller concludes it with
// Run.Succeed once the post-run checks pass. On failure Run returns a
// StageFailedError identifying the stage, its exit code, and the tail of its
// stderr.
func (r *Runner) Run(ctx context.Context, spec *Spec, run *Run) (*Result, error) {
	logger := ctxlog.FromContext(ctx).With("pipeline", spec.Name, "run_id", run.ID)

	if run.terminal() {
		return nil, fmt.Errorf("run %s is already terminal (%s)", run.ID, run.Status())
	}
	run.start()

	if run.OutDir != "" {
		if err := os.MkdirAll(run.OutDir, 0o755); err != nil {
			run.finish(StatusFailed, -1)
			return nil, fmt.Errorf("failed to create output directory %s: %w", run.OutDir, err)
		}
	}

	produced := map[string]Artifact{}
	result := &Result{}

	for i, stage := range spec.Stages {
		stageLogger := logger.With("stage", stage.Name)
		if !stage.Enabled {
			stageLogger.Info("⏭️ Stage disabled, skipping.")
			continue
		}

		if err := requireInputArtifacts(stage, produced); err != nil {
			run.finish(StatusFailed, i)
			return nil, err
		}

		evalCtx := buildEvalContext(run, produced)
		args, err := evaluateArgs(stage, evalCtx)
		if err != nil {
			run.finish(StatusFailed, i)
			return nil, err
		}

		stageLogger.Info("▶️ Starting stage.", "command", stage.Command)
		if err := r.execute(ctx, stage, args); err != nil {
			run.finish(StatusFailed, i)
			stageLogger.Error("Stage failed.", "error", err)
			return nil, err
		}

		outputs, err := collectOutputs(stage, evalCtx)
		if err != nil {
			run.finish(StatusFailed, i)
			return nil, err
		}
		for _, artifact := range outputs {
			produced[artifact.Name] = artifact
			result.Artifacts = append(result.Artifacts, artifact)
		}
		stageLogger.Info("✅ Stage finished.", "artifacts", len(outputs))
	}

	logger.Info("🏁 All stages finished.", "artifacts", len(result.Artifacts))
	return result, nil
}

// execute runs one stage process to completion, capturing the stderr tail
// for diagnostics and optionally feeding progress from stdout.
func (r *Runner) execute(ctx context.Context, stage *StageSpec, args []string) error {
	cmd := exec.CommandContext(ctx, stage.Command, args...)
	cmd.Env = append(os.Environ(), r.Env...)

	stderrTail := newTailBuffer(4096)
	cmd.Stderr = stderrTail
	if stage.StreamsCorpus && r.Progress != nil {
		cmd.Stdout = newProgressWriter(r.Progress)
	}

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &StageFailedError{
				Stage:    stage.Name,
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderrTail.String(),
			}
		}
		return fmt.Errorf("failed to invoke stage %s (%s): %w", stage.Name, stage.Command, err)
	}
	if stage.StreamsCorpus && r.Progress != nil {
		r.Progress.Finish()
	}
	return nil
}

// requireInputArtifacts enforces the invariant that a stage never starts
// before all of its declared inputs exist and are non-empty.
func requireInputArtifacts(stage *StageSpec, produced map[string]Artifact) error {
	for _, name := range stage.Consumes {
		artifact, ok := produced[name]
		if !ok {
			return fmt.Errorf("stage %s consumes artifact %q which no earlier stage produced", stage.Name, name)
		}
		info, err := os.Stat(artifact.Path)
		if err != nil {
			return fmt.Errorf("stage %s input artifact %q missing at %s: %w", stage.Name, name, artifact.Path, err)
		}
		if info.Size() == 0 {
			return fmt.Errorf("stage %s input artifact %q at %s is empty", stage.Name, name, artifact.Path)
		}
	}
	return nil
}

// buildEvalContext exposes the run attributes and every produced artifact to
// argument and output-path templates as run.* and stage.<name>.output.<name>.
func buildEvalContext(run *Run, produced map[string]Artifact) *hcl.EvalContext {
	byStage := map[string]map[string]cty.Value{}
	for _, artifact := range produced {
		outputs, ok := byStage[artifact.Stage]
		if !ok {
			outputs = map[string]cty.Value{}
			byStage[artifact.Stage] = outputs
		}
		outputs[artifact.Name] = cty.StringVal(artifact.Path)
	}

	stageVals := map[string]cty.Value{}
	for name, outputs := range byStage {
		stageVals[name] = cty.ObjectVal(map[string]cty.Value{
			"output": cty.ObjectVal(outputs),
		})
	}

	vars := map[string]cty.Value{
		"run": cty.ObjectVal(map[string]cty.Value{
			"id":          cty.StringVal(run.ID),
			"artifact_id": cty.StringVal(run.ArtifactID),
			"dump_path":   cty.StringVal(run.DumpPath),
			"out_dir":     cty.StringVal(run.OutDir),
		}),
	}
	if len(stageVals) > 0 {
		vars["stage"] = cty.ObjectVal(stageVals)
	}
	return &hcl.EvalContext{Variables: vars}
}

// evaluateArgs resolves a stage's argument templates to strings.
func evaluateArgs(stage *StageSpec, evalCtx *hcl.EvalContext) ([]string, error) {
	args := make([]string, 0, len(stage.Args))
	for i, expr := range stage.Args {
		value, err := evaluateString(expr, evalCtx)
		if err != nil {
			return nil, fmt.Errorf("stage %s argument %d: %w", stage.Name, i, err)
		}
		args = append(args, value)
	}
	return args, nil
}

// collectOutputs resolves the stage's declared output paths and verifies each
// artifact exists and is non-empty before any later stage may observe it.
func collectOutputs(stage *StageSpec, evalCtx *hcl.EvalContext) ([]Artifact, error) {
	artifacts := make([]Artifact, 0, len(stage.Outputs))
	for _, output := range stage.Outputs {
		path, err := evaluateString(output.Path, evalCtx)
		if err != nil {
			return nil, fmt.Errorf("stage %s output %q: %w", stage.Name, output.Name, err)
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stage %s declared output %q but %s does not exist: %w", stage.Name, output.Name, path, err)
		}
		if info.Size() == 0 {
			return nil, fmt.Errorf("stage %s produced empty artifact %q at %s", stage.Name, output.Name, path)
		}
		artifacts = append(artifacts, Artifact{Stage: stage.Name, Name: output.Name, Path: path})
	}
	return artifacts, nil
}

// evaluateString evaluates one expression and converts it to a string.
func evaluateString(expr hcl.Expression, evalCtx *hcl.EvalContext) (string, error) {
	value, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return "", diags
	}
	converted, err := convert.Convert(value, cty.String)
	if err != nil {
		return "", fmt.Errorf("value is not a string: %w", err)
	}
	if converted.IsNull() {
		return "", fmt.Errorf("value is null")
	}
	return converted.AsString(), nil
}
