package services

import (
	"context"
	"fmt"

	"github.com/alpaca-search/alpacactl/internal/binding"
	"github.com/alpaca-search/alpacactl/internal/ctxlog"
)

// RebindFailedError reports that the serving component could not be repointed
// at a new artifact. The previous binding remains active.
type RebindFailedError struct {
	Component  string
	ArtifactID string
	Err        error
}

// Error implements the error interface.
func (e *RebindFailedError) Error() string {
	return fmt.Sprintf("failed to rebind %s to artifact %s: %v", e.Component, e.ArtifactID, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *RebindFailedError) Unwrap() error { return e.Err }

// Rebinder atomically repoints the serving component's configuration at a new
// index artifact and restarts only that component. It never deletes the old
// artifact, so a failed rebind leaves the previous index being served.
type Rebinder struct {
	Bindings  binding.Store
	Manager   Manager
	Component string
}

// Rebind writes the new binding and restarts the serving component. If the
// restart fails, the previous binding is restored before returning, so no
// dangling binding is externally observable. Rebind does not poll for the
// component to come back; callers follow with the health predicate.
func (r *Rebinder) Rebind(ctx context.Context, artifactID string) error {
	logger := ctxlog.FromContext(ctx).With("component", r.Component, "artifact_id", artifactID)

	previous, err := r.Bindings.Get(ctx)
	if err != nil {
		return &RebindFailedError{Component: r.Component, ArtifactID: artifactID, Err: err}
	}

	if err := r.Bindings.Set(ctx, artifactID); err != nil {
		return &RebindFailedError{Component: r.Component, ArtifactID: artifactID, Err: err}
	}

	if err := r.Manager.Restart(ctx, r.Component); err != nil {
		logger.Warn("Restart failed, restoring previous binding.", "previous", previous)
		if restoreErr := r.Bindings.Set(ctx, previous); restoreErr != nil {
			err = fmt.Errorf("%w (and restoring binding %q failed: %v)", err, previous, restoreErr)
		}
		return &RebindFailedError{Component: r.Component, ArtifactID: artifactID, Err: err}
	}

	logger.Info("🔁 Serving component rebound.", "previous", previous)
	return nil
}
