// Package envcfg resolves configuration values with CLI > environment >
// default precedence. Every knob of the control plane can be set through an
// ALPACA_* environment variable so that operators configure containers
// without touching flags.
package envcfg

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Environment variables recognised by alpacactl.
const (
	DumpPathEnv       = "ALPACA_DUMP_PATH"
	OutputDirEnv      = "ALPACA_OUTPUT_DIR"
	ServingURLEnv     = "ALPACA_SERVING_URL"
	IndexPrefixEnv    = "ALPACA_INDEX_PREFIX"
	ComposeFileEnv    = "ALPACA_COMPOSE_FILE"
	ServingConfigEnv  = "ALPACA_SERVING_CONFIG_PATH"
	ServingServiceEnv = "ALPACA_SERVING_SERVICE"
	PollAttemptsEnv   = "ALPACA_POLL_ATTEMPTS"
)

// String returns the first non-empty value among the CLI value, the named
// environment variable, and the fallback. Surrounding whitespace is trimmed.
func String(cliValue, envVar, fallback string) string {
	if v := strings.TrimSpace(cliValue); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv(envVar)); v != "" {
		return v
	}
	return fallback
}

// Path resolves like String and additionally expands a leading "~/" against
// the user's home directory.
func Path(cliValue, envVar, fallback string) string {
	return expandHome(String(cliValue, envVar, fallback))
}

// Int resolves an integer with the same precedence as String. A CLI value
// equal to sentinel means "unset". Malformed environment values fall through
// to the fallback rather than aborting; the flag layer already validates
// operator-typed input.
func Int(cliValue int, sentinel int, envVar string, fallback int) int {
	if cliValue != sentinel {
		return cliValue
	}
	if raw := strings.TrimSpace(os.Getenv(envVar)); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return fallback
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
