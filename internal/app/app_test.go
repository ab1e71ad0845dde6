package app_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpaca-search/alpacactl/internal/app"
	"github.com/alpaca-search/alpacactl/internal/binding"
	"github.com/alpaca-search/alpacactl/internal/envcfg"
	"github.com/alpaca-search/alpacactl/internal/estimate"
	"github.com/alpaca-search/alpacactl/internal/pipeline"
	"github.com/alpaca-search/alpacactl/internal/services"
	"github.com/alpaca-search/alpacactl/internal/testutil"
	"github.com/alpaca-search/alpacactl/internal/verify"
)

// stageHelperEnv re-invokes this test binary as the pipeline's stage
// processes, so the golden-path run needs no pre-built tools on PATH.
const stageHelperEnv = "ALPACACTL_STAGE_HELPER"

// fakeManager is an in-memory stand-in for docker compose.
type fakeManager struct {
	mu        sync.Mutex
	running   map[string]bool
	restarted []string
}

func newFakeManager(running ...string) *fakeManager {
	m := &fakeManager{running: map[string]bool{}}
	for _, name := range running {
		m.running[name] = true
	}
	return m
}

func (m *fakeManager) Running(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[name], nil
}

func (m *fakeManager) Restart(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarted = append(m.restarted, name)
	return nil
}

// writeGoldenDescriptor writes a pipeline whose stages are this test binary
// re-invoked in helper mode.
func writeGoldenDescriptor(t *testing.T, dir string) string {
	t.Helper()
	return writeDescriptorWithTopHit(t, dir, "Q312")
}

func writeDescriptorWithTopHit(t *testing.T, dir, topHit string) string {
	t.Helper()
	self, err := os.Executable()
	require.NoError(t, err)

	body := fmt.Sprintf(`
pipeline "entity-index" {
  required_services = ["postgres", "serving"]
  serving_service   = "serving"

  stage "extract" {
    command        = %q
    args           = ["-test.run=^TestStageHelper$", "--", "extract", run.dump_path, "${run.out_dir}/entities.jsonl"]
    streams_corpus = true

    output "entities" {
      path = "${run.out_dir}/entities.jsonl"
    }
  }

  stage "shape" {
    command  = %q
    consumes = ["entities"]
    args     = ["-test.run=^TestStageHelper$", "--", "shape", stage.extract.output.entities, "${run.out_dir}/docs.ndjson"]

    output "docs" {
      path = "${run.out_dir}/docs.ndjson"
    }
  }

  stage "ingest" {
    command  = %q
    consumes = ["docs"]
    args     = ["-test.run=^TestStageHelper$", "--", "ingest", stage.shape.output.docs]
  }

  verify {
    query    = "apple"
    min_hits = 2
    top_hit  = %q

    filtered {
      fine_types = ["COMPANY"]
      exact_hits = 1
    }
  }
}
`, self, self, self, topHit)

	path := filepath.Join(dir, "pipeline.hcl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func goldenConfig(t *testing.T, descriptorPath, servingURL string) *app.Config {
	t.Helper()
	cfg, err := app.NewConfig(app.Config{
		PipelinePath: descriptorPath,
		DumpPath:     filepath.Join(t.TempDir(), "dump.json.gz"),
		OutputDir:    filepath.Join(t.TempDir(), "out"),
		ArtifactID:   "entities-e2e",
		ServingURL:   servingURL,
		LogLevel:     "debug",
		PollAttempts: 50,
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	return cfg
}

func TestApp_GoldenPathEndToEnd(t *testing.T) {
	t.Setenv(stageHelperEnv, "1")

	endpoint := testutil.NewServingEndpoint()
	defer endpoint.Close()

	dir := t.TempDir()
	cfg := goldenConfig(t, writeGoldenDescriptor(t, dir), endpoint.URL())
	testutil.WriteDump(t, cfg.DumpPath, testutil.GoldenCorpus())

	manager := newFakeManager("postgres", "serving")
	bindings := binding.NewMemory()
	logBuffer := &testutil.SafeBuffer{}

	a := app.NewApp(logBuffer, cfg, app.WithManager(manager), app.WithBindings(bindings))
	require.NoError(t, a.Run(context.Background()), logBuffer.String())

	// The lexeme record was dropped; both entity records were indexed.
	docs := endpoint.Docs("entities-e2e")
	require.Len(t, docs, 2)
	ids := []string{docs[0].ID, docs[1].ID}
	sort.Strings(ids)
	assert.Equal(t, []string{"Q312", "Q89"}, ids)

	// The serving component was rebound to the new artifact and restarted.
	bound, err := bindings.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "entities-e2e", bound)
	assert.Equal(t, []string{"serving"}, manager.restarted)

	// Succeeded only after stages, rebind, and verification all held.
	require.NotNil(t, a.LastRun())
	assert.Equal(t, pipeline.StatusSucceeded, a.LastRun().Status())
}

func TestApp_StageOutputIsReproducible(t *testing.T) {
	t.Setenv(stageHelperEnv, "1")

	endpoint := testutil.NewServingEndpoint()
	defer endpoint.Close()

	dir := t.TempDir()
	descriptor := writeGoldenDescriptor(t, dir)

	runOnce := func(artifactID string) []byte {
		cfg := goldenConfig(t, descriptor, endpoint.URL())
		cfg.ArtifactID = artifactID
		cfg.SkipVerify = true
		testutil.WriteDump(t, cfg.DumpPath, testutil.GoldenCorpus())

		a := app.NewApp(&testutil.SafeBuffer{}, cfg,
			app.WithManager(newFakeManager("postgres", "serving")),
			app.WithBindings(binding.NewMemory()))
		require.NoError(t, a.Run(context.Background()))

		docs, err := os.ReadFile(filepath.Join(cfg.OutputDir, "docs.ndjson"))
		require.NoError(t, err)
		return docs
	}

	first := runOnce("entities-repro-1")
	second := runOnce("entities-repro-2")
	assert.Equal(t, first, second, "same dump must shape to bit-identical documents")
}

func TestApp_VerifyFailureLeavesRunFailed(t *testing.T) {
	t.Setenv(stageHelperEnv, "1")

	endpoint := testutil.NewServingEndpoint()
	defer endpoint.Close()

	// The corpus ranks Q312 first, so expecting Q89 must fail verification.
	dir := t.TempDir()
	cfg := goldenConfig(t, writeDescriptorWithTopHit(t, dir, "Q89"), endpoint.URL())
	testutil.WriteDump(t, cfg.DumpPath, testutil.GoldenCorpus())

	a := app.NewApp(&testutil.SafeBuffer{}, cfg,
		app.WithManager(newFakeManager("postgres", "serving")),
		app.WithBindings(binding.NewMemory()))

	err := a.Run(context.Background())
	require.Error(t, err)

	var verifyErr *verify.Error
	require.ErrorAs(t, err, &verifyErr)

	// Every stage exited zero, yet the run must not be recorded as succeeded.
	require.NotNil(t, a.LastRun())
	assert.Equal(t, pipeline.StatusFailed, a.LastRun().Status())
}

func TestApp_GateFailureRunsNoStage(t *testing.T) {
	t.Setenv(stageHelperEnv, "1")

	endpoint := testutil.NewServingEndpoint()
	defer endpoint.Close()

	dir := t.TempDir()
	cfg := goldenConfig(t, writeGoldenDescriptor(t, dir), endpoint.URL())
	testutil.WriteDump(t, cfg.DumpPath, testutil.GoldenCorpus())

	// postgres is down; serving is up.
	a := app.NewApp(&testutil.SafeBuffer{}, cfg,
		app.WithManager(newFakeManager("serving")),
		app.WithBindings(binding.NewMemory()))

	err := a.Run(context.Background())
	require.Error(t, err)

	var gateErr *services.ServiceNotRunningError
	require.ErrorAs(t, err, &gateErr)
	assert.Equal(t, []string{"postgres"}, gateErr.Missing)
	assert.Contains(t, gateErr.Remediation, "postgres")

	// Nothing ran: no artifacts on disk, nothing ingested.
	assert.NoFileExists(t, filepath.Join(cfg.OutputDir, "entities.jsonl"))
	assert.Empty(t, endpoint.Docs("entities-e2e"))
}

func TestApp_EstimateOnlySkipsStages(t *testing.T) {
	t.Setenv(stageHelperEnv, "1")

	endpoint := testutil.NewServingEndpoint()
	defer endpoint.Close()

	dir := t.TempDir()
	cfg := goldenConfig(t, writeGoldenDescriptor(t, dir), endpoint.URL())
	cfg.EstimateOnly = true
	testutil.WriteDump(t, cfg.DumpPath, testutil.GoldenCorpus())

	out := &testutil.SafeBuffer{}
	a := app.NewApp(out, cfg,
		app.WithManager(newFakeManager("postgres", "serving")),
		app.WithBindings(binding.NewMemory()))
	require.NoError(t, a.Run(context.Background()))

	// Three records, counted exactly on a dump this small.
	assert.Contains(t, out.String(), "~3 records")
	assert.NoFileExists(t, filepath.Join(cfg.OutputDir, "entities.jsonl"))

	// -limit clamps the estimate for smoke runs.
	cfg.RecordLimit = 2
	require.NoError(t, a.Run(context.Background()))
	assert.Contains(t, out.String(), "~2 records")
}

func TestNewApp_ServingServiceFromEnvironment(t *testing.T) {
	t.Setenv(envcfg.ServingServiceEnv, "serving-env")

	path := filepath.Join(t.TempDir(), "pipeline.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
pipeline "p" {
  stage "a" {
    command = "true"
  }
}
`), 0o644))

	cfg, err := app.NewConfig(app.Config{
		PipelinePath: path,
		DumpPath:     "/tmp/dump.json.gz",
		OutputDir:    t.TempDir(),
	})
	require.NoError(t, err)

	a := app.NewApp(&testutil.SafeBuffer{}, cfg)
	assert.Equal(t, "serving-env", a.Spec().ServingService)
}

func TestNewApp_PanicsOnBadDescriptor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`pipeline "p" {`), 0o644))

	cfg, err := app.NewConfig(app.Config{
		PipelinePath: path,
		DumpPath:     "/tmp/dump.json.gz",
		OutputDir:    t.TempDir(),
	})
	require.NoError(t, err)

	assert.Panics(t, func() {
		app.NewApp(&testutil.SafeBuffer{}, cfg)
	})
}

// TestStageHelper is not a test: it is the subprocess body for the pipeline
// stages above. The runner invokes this binary with -test.run targeting it.
func TestStageHelper(t *testing.T) {
	if os.Getenv(stageHelperEnv) != "1" {
		t.Skip("stage helper mode not requested")
	}
	args := flag.Args()
	if len(args) == 0 {
		t.Skip("no stage arguments")
	}

	var err error
	switch args[0] {
	case "extract":
		err = stageExtract(args[1], args[2])
	case "shape":
		err = stageShape(args[1], args[2])
	case "ingest":
		err = stageIngest(args[1])
	default:
		err = fmt.Errorf("unknown stage %q", args[0])
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// stageExtract decompresses the dump, drops malformed and non-entity records
// (lexemes have L-prefixed IDs), and reports cumulative progress on stdout.
func stageExtract(dumpPath, outPath string) error {
	in, err := os.Open(dumpPath)
	if err != nil {
		return err
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return err
	}

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	var processed int64
	scanner := bufio.NewScanner(zr)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := estimate.CleanDumpLine(scanner.Text())
		if line == "" {
			continue
		}
		var entity testutil.Entity
		if err := json.Unmarshal([]byte(line), &entity); err != nil {
			continue
		}
		if !strings.HasPrefix(entity.ID, "Q") && !strings.HasPrefix(entity.ID, "P") {
			continue
		}
		if _, err := fmt.Fprintf(out, "%s\n", line); err != nil {
			return err
		}
		processed++
		fmt.Printf("processed=%d\n", processed)
	}
	return scanner.Err()
}

// stageShape turns extracted entities into the serving component's document
// shape, one NDJSON line per entity.
func stageShape(inPath, outPath string) error {
	in, err := os.Open(inPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var entity testutil.Entity
		if err := json.Unmarshal(scanner.Bytes(), &entity); err != nil {
			return err
		}

		label := entity.Labels["en"]
		names := append([]string{label}, entity.Aliases["en"]...)
		doc := testutil.Doc{
			ID:         entity.ID,
			Label:      label,
			NameText:   strings.Join(names, " "),
			Bow:        entity.Descriptions["en"],
			CoarseType: entity.CoarseType,
			FineType:   entity.FineType,
			Popularity: entity.Popularity,
		}
		line, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(out, "%s\n", line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// stageIngest posts the shaped documents to the serving component's NDJSON
// ingest route for the artifact named in the environment.
func stageIngest(docsPath string) error {
	servingURL := os.Getenv(envcfg.ServingURLEnv)
	artifactID := os.Getenv("ALPACA_ARTIFACT_ID")
	if servingURL == "" || artifactID == "" {
		return fmt.Errorf("ingest stage needs %s and ALPACA_ARTIFACT_ID", envcfg.ServingURLEnv)
	}

	payload, err := os.ReadFile(docsPath)
	if err != nil {
		return err
	}
	resp, err := http.Post(
		fmt.Sprintf("%s/indexes/%s/ingest", servingURL, artifactID),
		"application/x-ndjson",
		bytes.NewReader(payload),
	)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ingest returned status %d", resp.StatusCode)
	}
	return nil
}
