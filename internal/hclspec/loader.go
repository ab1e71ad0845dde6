package hclspec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/alpaca-search/alpacactl/internal/ctxlog"
	"github.com/alpaca-search/alpacactl/internal/pipeline"
)

// Load reads a pipeline descriptor from path and translates it into the
// runner's model. Path may be a single .hcl file or a directory, in which
// case every .hcl file inside is parsed; exactly one pipeline block must
// exist across all parsed files.
func Load(ctx context.Context, path string) (*pipeline.Spec, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := descriptorFiles(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl descriptor files found at %q", path)
	}
	logger.Debug("Loading pipeline descriptor.", "path", path, "files", len(files))

	parser := hclparse.NewParser()
	var pipelines []*pipelineSchema
	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parsing %s: %w", file, diags)
		}
		var root rootSchema
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
			return nil, fmt.Errorf("decoding %s: %w", file, diags)
		}
		pipelines = append(pipelines, root.Pipelines...)
	}

	if len(pipelines) != 1 {
		return nil, fmt.Errorf("expected exactly one pipeline block, found %d", len(pipelines))
	}

	spec, err := translate(pipelines[0])
	if err != nil {
		return nil, err
	}
	logger.Debug("Pipeline descriptor loaded.", "pipeline", spec.Name, "stages", len(spec.Stages))
	return spec, nil
}

// descriptorFiles resolves path to a sorted list of .hcl files.
func descriptorFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat descriptor path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".hcl") {
			continue
		}
		files = append(files, filepath.Join(path, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// translate converts the decoded schema into the agnostic pipeline model,
// applying defaults and validating static structure.
func translate(p *pipelineSchema) (*pipeline.Spec, error) {
	if len(p.Stages) == 0 {
		return nil, fmt.Errorf("pipeline %q declares no stages", p.Name)
	}

	spec := &pipeline.Spec{
		Name:             p.Name,
		RequiredServices: p.RequiredServices,
		ServingService:   p.ServingService,
	}

	// Artifact names must be produced before they are consumed.
	produced := make(map[string]string)
	seen := make(map[string]bool)
	for _, s := range p.Stages {
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate stage name %q", s.Name)
		}
		seen[s.Name] = true

		stage, err := translateStage(s, produced)
		if err != nil {
			return nil, err
		}
		spec.Stages = append(spec.Stages, stage)

		for _, out := range stage.Outputs {
			if prev, ok := produced[out.Name]; ok {
				return nil, fmt.Errorf("artifact %q produced by both %q and %q", out.Name, prev, s.Name)
			}
			produced[out.Name] = s.Name
		}
	}

	if p.Verify != nil {
		verify, err := translateVerify(p.Verify)
		if err != nil {
			return nil, err
		}
		spec.Verify = verify
	}
	return spec, nil
}

func translateStage(s *stageSchema, produced map[string]string) (*pipeline.StageSpec, error) {
	if s.Command == "" {
		return nil, fmt.Errorf("stage %q has an empty command", s.Name)
	}
	for _, name := range s.Consumes {
		if _, ok := produced[name]; !ok {
			return nil, fmt.Errorf("stage %q consumes artifact %q which no earlier stage produces", s.Name, name)
		}
	}

	stage := &pipeline.StageSpec{
		Name:          s.Name,
		Command:       s.Command,
		Consumes:      s.Consumes,
		Enabled:       s.Enabled == nil || *s.Enabled,
		StreamsCorpus: s.StreamsCorpus,
	}

	args, err := splitArgs(s)
	if err != nil {
		return nil, err
	}
	stage.Args = args

	outSeen := make(map[string]bool)
	for _, out := range s.Outputs {
		if outSeen[out.Name] {
			return nil, fmt.Errorf("stage %q declares output %q twice", s.Name, out.Name)
		}
		outSeen[out.Name] = true
		stage.Outputs = append(stage.Outputs, &pipeline.OutputSpec{
			Name: out.Name,
			Path: out.Path,
		})
	}
	return stage, nil
}

// splitArgs breaks the `args` attribute's list expression into the element
// expressions so the runner can evaluate each against per-run variables.
func splitArgs(s *stageSchema) ([]hcl.Expression, error) {
	if s.Args == nil {
		return nil, nil
	}
	// An omitted optional expression attribute decodes to a null literal.
	if v, diags := s.Args.Value(nil); !diags.HasErrors() && v.IsNull() {
		return nil, nil
	}
	exprs, diags := hcl.ExprList(s.Args)
	if diags.HasErrors() {
		return nil, fmt.Errorf("stage %q: args must be a list: %w", s.Name, diags)
	}
	return exprs, nil
}

func translateVerify(v *verifySchema) (*pipeline.VerifySpec, error) {
	if v.Query == "" {
		return nil, fmt.Errorf("verify block has an empty query")
	}
	if v.MinHits < 1 {
		return nil, fmt.Errorf("verify block: min_hits must be at least 1, got %d", v.MinHits)
	}
	spec := &pipeline.VerifySpec{
		Query:   v.Query,
		MinHits: v.MinHits,
		TopHit:  v.TopHit,
	}
	for _, f := range v.Filtered {
		if len(f.CoarseTypes) == 0 && len(f.FineTypes) == 0 {
			return nil, fmt.Errorf("verify block: filtered assertion needs coarse_types or fine_types")
		}
		if f.ExactHits < 0 {
			return nil, fmt.Errorf("verify block: exact_hits must not be negative, got %d", f.ExactHits)
		}
		spec.Filtered = append(spec.Filtered, &pipeline.FilteredQuerySpec{
			CoarseTypes: f.CoarseTypes,
			FineTypes:   f.FineTypes,
			ExactHits:   f.ExactHits,
		})
	}
	return spec, nil
}
