package app

import (
	"errors"
	"time"
)

// Config holds everything one alpacactl invocation needs to run.
type Config struct {
	PipelinePath string // hcl descriptor file or directory

	DumpPath          string
	OutputDir         string
	ArtifactID        string // empty means generate from IndexPrefix
	IndexPrefix       string
	ServingURL        string
	ServingConfigPath string
	ComposeFile       string

	LogFormat string
	LogLevel  string

	EstimateOnly bool
	SkipVerify   bool

	// RecordLimit clamps the estimated record total; smoke runs use it to
	// bound the progress indicator. Zero means no clamp.
	RecordLimit int64

	PollAttempts int
	PollInterval time.Duration
}

// NewConfig validates a Config and applies defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.PipelinePath == "" {
		return nil, errors.New("PipelinePath is a required configuration field and cannot be empty")
	}
	if cfg.DumpPath == "" {
		return nil, errors.New("DumpPath is required: pass -dump-path or set ALPACA_DUMP_PATH")
	}
	if cfg.OutputDir == "" {
		return nil, errors.New("OutputDir is required: pass -out-dir or set ALPACA_OUTPUT_DIR")
	}
	if cfg.IndexPrefix == "" {
		cfg.IndexPrefix = "entities"
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 30
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &cfg, nil
}
