package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/alpaca-search/alpacactl/internal/app"
	"github.com/alpaca-search/alpacactl/internal/envcfg"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("alpacactl", flag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
alpacactl - Builds an entity search index from a knowledge-base dump and
repoints the serving component at it.

Usage:
  alpacactl [options] [PIPELINE_PATH]

Arguments:
  PIPELINE_PATH
    Path to a single .hcl pipeline descriptor or a directory containing one.

Options:
`)
		flagSet.PrintDefaults()
	}

	pipelineFlag := flagSet.String("pipeline", "", "Path to the pipeline descriptor file or directory.")
	pFlag := flagSet.String("p", "", "Path to the pipeline descriptor file or directory (shorthand).")
	dumpPathFlag := flagSet.String("dump-path", "", "Path to the compressed dump. Defaults to $"+envcfg.DumpPathEnv+".")
	outDirFlag := flagSet.String("out-dir", "", "Directory for intermediate artifacts. Defaults to $"+envcfg.OutputDirEnv+".")
	artifactIDFlag := flagSet.String("artifact-id", "", "Index artifact identifier. Empty generates one with a timestamp suffix.")
	indexPrefixFlag := flagSet.String("index-prefix", "", "Prefix for generated artifact identifiers. Defaults to $"+envcfg.IndexPrefixEnv+" or 'entities'.")
	servingURLFlag := flagSet.String("serving-url", "", "Base URL of the serving component. Defaults to $"+envcfg.ServingURLEnv+".")
	servingConfigFlag := flagSet.String("serving-config", "", "Path to the serving component's binding file. Defaults to $"+envcfg.ServingConfigEnv+".")
	composeFileFlag := flagSet.String("compose-file", "", "Path to the compose file used to manage services. Defaults to $"+envcfg.ComposeFileEnv+".")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	estimateOnlyFlag := flagSet.Bool("estimate-only", false, "Print the dump size estimate and exit without running stages.")
	limitFlag := flagSet.Int64("limit", 0, "Clamp the estimated record total for smoke runs. 0 means no clamp.")
	skipVerifyFlag := flagSet.Bool("skip-verify", false, "Skip the golden-path verification after the run.")
	pollAttemptsFlag := flagSet.Int("poll-attempts", 0, "Maximum polls per verification phase. Defaults to $"+envcfg.PollAttemptsEnv+" or 30.")
	pollIntervalFlag := flagSet.Duration("poll-interval", 2*time.Second, "Fixed interval between verification polls.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := ""
	if *pipelineFlag != "" {
		path = *pipelineFlag
	} else if *pFlag != "" {
		path = *pFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	slog.Debug("Pipeline path determined.", "path", path)

	if path == "" {
		slog.Debug("No pipeline path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		PipelinePath:      path,
		DumpPath:          envcfg.Path(*dumpPathFlag, envcfg.DumpPathEnv, ""),
		OutputDir:         envcfg.Path(*outDirFlag, envcfg.OutputDirEnv, ""),
		ArtifactID:        *artifactIDFlag,
		IndexPrefix:       envcfg.String(*indexPrefixFlag, envcfg.IndexPrefixEnv, "entities"),
		ServingURL:        envcfg.String(*servingURLFlag, envcfg.ServingURLEnv, "http://localhost:7280"),
		ServingConfigPath: envcfg.Path(*servingConfigFlag, envcfg.ServingConfigEnv, ""),
		ComposeFile:       envcfg.Path(*composeFileFlag, envcfg.ComposeFileEnv, ""),
		LogFormat:         logFormat,
		LogLevel:          logLevel,
		EstimateOnly:      *estimateOnlyFlag,
		SkipVerify:        *skipVerifyFlag,
		RecordLimit:       *limitFlag,
		PollAttempts:      envcfg.Int(*pollAttemptsFlag, 0, envcfg.PollAttemptsEnv, 30),
		PollInterval:      *pollIntervalFlag,
	})

	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}
