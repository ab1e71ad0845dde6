package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/alpaca-search/alpacactl/internal/ctxlog"
)

// ServiceNotRunningError reports required background services that were not
// running when the pipeline was invoked. It carries the exact command the
// operator should run; the gate never starts services itself, to avoid
// masking the operator's intended topology.
type ServiceNotRunningError struct {
	Missing     []string
	Remediation string
}

// Error implements the error interface.
func (e *ServiceNotRunningError) Error() string {
	return fmt.Sprintf(
		"required services not running: %s (start them with: %s)",
		strings.Join(e.Missing, ", "), e.Remediation,
	)
}

// Remediator supplies the start command named in ServiceNotRunningError.
// ComposeManager implements it; fakes may not.
type Remediator interface {
	StartCommand(names ...string) string
}

// Gate checks that required background services are already running before
// any stage executes.
type Gate struct {
	Manager Manager
}

// RequireRunning fails fast with ServiceNotRunningError if any named service
// is not reported as running. It is a single point-in-time query per service,
// never a wait.
func (g *Gate) RequireRunning(ctx context.Context, names ...string) error {
	logger := ctxlog.FromContext(ctx)

	var missing []string
	for _, name := range names {
		running, err := g.Manager.Running(ctx, name)
		if err != nil {
			return fmt.Errorf("readiness gate could not query service %s: %w", name, err)
		}
		if !running {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		logger.Debug("Readiness gate passed.", "services", names)
		return nil
	}

	remediation := fmt.Sprintf("docker compose up -d %s", strings.Join(missing, " "))
	if r, ok := g.Manager.(Remediator); ok {
		remediation = r.StartCommand(missing...)
	}
	return &ServiceNotRunningError{Missing: missing, Remediation: remediation}
}
