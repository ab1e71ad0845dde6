// Package hclspec loads pipeline descriptors from HCL files and translates
// them into the format-agnostic pipeline model. Argument and output-path
// attributes are captured as unevaluated expressions; the stage runner
// evaluates them per run against run attributes and prior-stage outputs.
package hclspec

import "github.com/hashicorp/hcl/v2"

// rootSchema is the top-level structure of a descriptor file.
type rootSchema struct {
	Pipelines []*pipelineSchema `hcl:"pipeline,block"`
}

// pipelineSchema is a `pipeline` block.
type pipelineSchema struct {
	Name             string          `hcl:"name,label"`
	RequiredServices []string        `hcl:"required_services,optional"`
	ServingService   string          `hcl:"serving_service,optional"`
	Stages           []*stageSchema  `hcl:"stage,block"`
	Verify           *verifySchema   `hcl:"verify,block"`
}

// stageSchema is a `stage` block.
type stageSchema struct {
	Name          string          `hcl:"name,label"`
	Command       string          `hcl:"command"`
	Args          hcl.Expression  `hcl:"args,optional"`
	Consumes      []string        `hcl:"consumes,optional"`
	Enabled       *bool           `hcl:"enabled,optional"`
	StreamsCorpus bool            `hcl:"streams_corpus,optional"`
	Outputs       []*outputSchema `hcl:"output,block"`
}

// outputSchema is an `output` block inside a stage.
type outputSchema struct {
	Name string         `hcl:"name,label"`
	Path hcl.Expression `hcl:"path"`
}

// verifySchema is the `verify` block carrying golden-path expectations.
type verifySchema struct {
	Query    string            `hcl:"query"`
	MinHits  int               `hcl:"min_hits"`
	TopHit   string            `hcl:"top_hit,optional"`
	Filtered []*filteredSchema `hcl:"filtered,block"`
}

// filteredSchema is one type-filtered assertion inside `verify`.
type filteredSchema struct {
	CoarseTypes []string `hcl:"coarse_types,optional"`
	FineTypes   []string `hcl:"fine_types,optional"`
	ExactHits   int      `hcl:"exact_hits"`
}
