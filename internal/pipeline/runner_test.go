package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpaca-search/alpacactl/internal/progress"
)

// expr parses one HCL expression for use in descriptor fixtures.
func expr(t *testing.T, src string) hcl.Expression {
	t.Helper()
	e, diags := hclsyntax.ParseExpression([]byte(src), "test.hcl", hcl.InitialPos)
	require.False(t, diags.HasErrors(), diags.Error())
	return e
}

// shellStage builds a stage that runs a shell snippet. Argument templates may
// reference run.* and stage.* variables.
func shellStage(t *testing.T, name, script string) *StageSpec {
	t.Helper()
	return &StageSpec{
		Name:    name,
		Command: "sh",
		Args:    []hcl.Expression{expr(t, `"-c"`), expr(t, script)},
		Enabled: true,
	}
}

func newTestRun(t *testing.T) *Run {
	t.Helper()
	return NewRun("", "test", "/dev/null", t.TempDir())
}

func TestRunner_ThreadsArtifactsBetweenStages(t *testing.T) {
	write := shellStage(t, "write", `"printf hello > ${run.out_dir}/a.txt"`)
	write.Outputs = []*OutputSpec{{Name: "greeting", Path: expr(t, `"${run.out_dir}/a.txt"`)}}

	copy := shellStage(t, "copy", `"cat ${stage.write.output.greeting} ${stage.write.output.greeting} > ${run.out_dir}/b.txt"`)
	copy.Consumes = []string{"greeting"}
	copy.Outputs = []*OutputSpec{{Name: "doubled", Path: expr(t, `"${run.out_dir}/b.txt"`)}}

	spec := &Spec{Name: "threading", Stages: []*StageSpec{write, copy}}
	run := newTestRun(t)

	result, err := (&Runner{}).Run(context.Background(), spec, run)
	require.NoError(t, err)

	// Stages exiting zero is not terminal success; the caller concludes the
	// run after its post-run checks.
	assert.Equal(t, StatusRunning, run.Status())
	assert.Equal(t, -1, run.FailedStage())
	run.Succeed()
	assert.Equal(t, StatusSucceeded, run.Status())

	want := []Artifact{
		{Stage: "write", Name: "greeting", Path: filepath.Join(run.OutDir, "a.txt")},
		{Stage: "copy", Name: "doubled", Path: filepath.Join(run.OutDir, "b.txt")},
	}
	if diff := cmp.Diff(want, result.Artifacts); diff != "" {
		t.Errorf("artifacts mismatch (-want +got):\n%s", diff)
	}

	content, err := os.ReadFile(filepath.Join(run.OutDir, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hellohello", string(content))
}

func TestRunner_FailFastStopsAtFirstFailure(t *testing.T) {
	ok := shellStage(t, "ok", `"printf fine > ${run.out_dir}/ok.txt"`)
	ok.Outputs = []*OutputSpec{{Name: "ok", Path: expr(t, `"${run.out_dir}/ok.txt"`)}}

	boom := shellStage(t, "boom", `"echo 'disk exploded' >&2; exit 7"`)
	never := shellStage(t, "never", `"printf x > ${run.out_dir}/never.txt"`)

	spec := &Spec{Name: "failing", Stages: []*StageSpec{ok, boom, never}}
	run := newTestRun(t)

	_, err := (&Runner{}).Run(context.Background(), spec, run)
	require.Error(t, err)

	var stageErr *StageFailedError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "boom", stageErr.Stage)
	assert.Equal(t, 7, stageErr.ExitCode)
	assert.Contains(t, stageErr.Stderr, "disk exploded")

	assert.Equal(t, StatusFailed, run.Status())
	assert.Equal(t, 1, run.FailedStage())

	// The failing stage aborted the run before the third stage started.
	assert.NoFileExists(t, filepath.Join(run.OutDir, "never.txt"))
	// Artifacts from completed stages stay on disk for inspection.
	assert.FileExists(t, filepath.Join(run.OutDir, "ok.txt"))
}

func TestRunner_MissingOutputArtifactFailsStage(t *testing.T) {
	liar := shellStage(t, "liar", `"true"`)
	liar.Outputs = []*OutputSpec{{Name: "ghost", Path: expr(t, `"${run.out_dir}/ghost.txt"`)}}

	run := newTestRun(t)
	_, err := (&Runner{}).Run(context.Background(), &Spec{Name: "p", Stages: []*StageSpec{liar}}, run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
	assert.Equal(t, StatusFailed, run.Status())
}

func TestRunner_EmptyOutputArtifactFailsStage(t *testing.T) {
	toucher := shellStage(t, "toucher", `"touch ${run.out_dir}/empty.txt"`)
	toucher.Outputs = []*OutputSpec{{Name: "empty", Path: expr(t, `"${run.out_dir}/empty.txt"`)}}

	run := newTestRun(t)
	_, err := (&Runner{}).Run(context.Background(), &Spec{Name: "p", Stages: []*StageSpec{toucher}}, run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty artifact")
}

func TestRunner_InputArtifactMustStillExist(t *testing.T) {
	write := shellStage(t, "write", `"printf data > ${run.out_dir}/a.txt"`)
	write.Outputs = []*OutputSpec{{Name: "data", Path: expr(t, `"${run.out_dir}/a.txt"`)}}

	eraser := shellStage(t, "eraser", `"rm ${run.out_dir}/a.txt"`)

	reader := shellStage(t, "reader", `"cat ${stage.write.output.data}"`)
	reader.Consumes = []string{"data"}

	run := newTestRun(t)
	spec := &Spec{Name: "p", Stages: []*StageSpec{write, eraser, reader}}
	_, err := (&Runner{}).Run(context.Background(), spec, run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
	assert.Equal(t, 2, run.FailedStage())
}

func TestRunner_DisabledStageIsSkipped(t *testing.T) {
	skipped := shellStage(t, "skipped", `"printf x > ${run.out_dir}/marker.txt"`)
	skipped.Enabled = false
	active := shellStage(t, "active", `"true"`)

	run := newTestRun(t)
	result, err := (&Runner{}).Run(context.Background(), &Spec{Name: "p", Stages: []*StageSpec{skipped, active}}, run)
	require.NoError(t, err)

	assert.Equal(t, StatusRunning, run.Status())
	assert.Empty(t, result.Artifacts)
	assert.NoFileExists(t, filepath.Join(run.OutDir, "marker.txt"))
}

func TestRunner_TerminalRunIsRejected(t *testing.T) {
	spec := &Spec{Name: "p", Stages: []*StageSpec{shellStage(t, "ok", `"true"`)}}
	run := newTestRun(t)

	_, err := (&Runner{}).Run(context.Background(), spec, run)
	require.NoError(t, err)
	run.Succeed()

	_, err = (&Runner{}).Run(context.Background(), spec, run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already terminal")
	assert.Equal(t, StatusSucceeded, run.Status())
}

func TestRun_ImmutableOnceTerminal(t *testing.T) {
	run := NewRun("", "test", "/dev/null", t.TempDir())
	run.Fail()
	assert.Equal(t, StatusFailed, run.Status())

	// A terminal run never flips to succeeded afterwards.
	run.Succeed()
	assert.Equal(t, StatusFailed, run.Status())
}

func TestRunner_UnresolvableCommandFails(t *testing.T) {
	ghost := &StageSpec{Name: "ghost", Command: "definitely-not-a-command-7c4a", Enabled: true}
	run := newTestRun(t)

	_, err := (&Runner{}).Run(context.Background(), &Spec{Name: "p", Stages: []*StageSpec{ghost}}, run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to invoke stage")
	assert.Equal(t, StatusFailed, run.Status())
}

func TestNewRun_GeneratesArtifactID(t *testing.T) {
	run := NewRun("", "alpaca", "/tmp/dump", "/tmp/out")
	assert.Regexp(t, `^alpaca-\d{14}$`, run.ArtifactID)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, StatusPending, run.Status())

	pinned := NewRun("alpaca-custom", "alpaca", "/tmp/dump", "/tmp/out")
	assert.Equal(t, "alpaca-custom", pinned.ArtifactID)
}

func TestProgressWriter_ParsesCumulativeCounts(t *testing.T) {
	reporter := progress.NewReporter(context.Background(), "records", 1000, 1_000_000)
	w := newProgressWriter(reporter)

	// Lines may arrive split across writes; counts are cumulative.
	_, err := w.Write([]byte("proce"))
	require.NoError(t, err)
	_, err = w.Write([]byte("ssed=10\nnoise line\nprocessed=25\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(25), reporter.Count())

	// Non-increasing and garbage counts are ignored.
	_, err = w.Write([]byte("processed=20\nprocessed=abc\nprocessed=40\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(40), reporter.Count())
}

func TestTailBuffer_KeepsOnlyTail(t *testing.T) {
	tail := newTailBuffer(8)
	_, err := tail.Write([]byte("0123456789abcdef"))
	require.NoError(t, err)
	assert.Equal(t, "89abcdef", tail.String())
}
