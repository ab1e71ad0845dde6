package app

import (
	"context"
	"fmt"
	"time"

	"github.com/alpaca-search/alpacactl/internal/ctxlog"
	"github.com/alpaca-search/alpacactl/internal/envcfg"
	"github.com/alpaca-search/alpacactl/internal/estimate"
	"github.com/alpaca-search/alpacactl/internal/pipeline"
	"github.com/alpaca-search/alpacactl/internal/progress"
	"github.com/alpaca-search/alpacactl/internal/search"
	"github.com/alpaca-search/alpacactl/internal/services"
	"github.com/alpaca-search/alpacactl/internal/verify"
)

// Run executes the full control-plane sequence: readiness gate, dump size
// estimate, stage execution, serving rebind, golden-path verification.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if err := a.checkGate(ctx); err != nil {
		return err
	}

	est, err := a.estimateDump(ctx)
	if err != nil {
		return err
	}
	if a.config.EstimateOnly {
		fmt.Fprintf(a.outW, "%s: ~%d records in %s\n", a.config.DumpPath, est.Records, estimate.FormatBytes(est.TotalBytes))
		return nil
	}

	run := pipeline.NewRun(a.config.ArtifactID, a.config.IndexPrefix, a.config.DumpPath, a.config.OutputDir)
	a.lastRun = run
	a.logger.Info("🚀 Starting pipeline run.", "pipeline", a.spec.Name, "run_id", run.ID, "artifact_id", run.ArtifactID)

	reporter := progress.NewReporter(ctx, "records", est.Records, logEvery(est.Records))
	runner := &pipeline.Runner{
		Progress: reporter,
		Env: []string{
			envcfg.ServingURLEnv + "=" + a.config.ServingURL,
			"ALPACA_ARTIFACT_ID=" + run.ArtifactID,
		},
	}
	if _, err := runner.Run(ctx, a.spec, run); err != nil {
		return fmt.Errorf("pipeline run %s failed: %w", run.ID, err)
	}

	// All stages exited zero, but the run only counts as succeeded once the
	// serving component is rebound and the golden path holds.
	if err := a.rebindServing(ctx, run.ArtifactID); err != nil {
		run.Fail()
		return err
	}

	if err := a.verifyGoldenPath(ctx, run.ArtifactID); err != nil {
		run.Fail()
		return err
	}

	run.Succeed()
	a.logger.Info("🏁 Run complete.", "artifact_id", run.ArtifactID)
	return nil
}

// checkGate fails fast when a required background service is down. It is a
// point-in-time check, not a wait: a stopped database means the operator
// forgot to start the environment, and retrying would only mask that.
func (a *App) checkGate(ctx context.Context) error {
	if len(a.spec.RequiredServices) == 0 {
		a.logger.Debug("No required services declared, skipping gate.")
		return nil
	}
	gate := &services.Gate{Manager: a.manager}
	if err := gate.RequireRunning(ctx, a.spec.RequiredServices...); err != nil {
		return err
	}
	return nil
}

// estimateDump samples the dump prefix so progress can show a percentage.
func (a *App) estimateDump(ctx context.Context) (*estimate.SizeEstimate, error) {
	logger := ctxlog.FromContext(ctx)
	est, err := estimate.Estimator{Limit: a.config.RecordLimit}.Estimate(a.config.DumpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate dump size: %w", err)
	}
	logger.Info("Dump size estimated.",
		"path", a.config.DumpPath,
		"records", est.Records,
		"exact", est.Exact,
		"total", estimate.FormatBytes(est.TotalBytes))
	return est, nil
}

// rebindServing repoints the serving component at the new artifact. Skipped
// when the descriptor names no serving service.
func (a *App) rebindServing(ctx context.Context, artifactID string) error {
	if a.spec.ServingService == "" {
		a.logger.Debug("No serving service declared, skipping rebind.")
		return nil
	}
	rebinder := &services.Rebinder{
		Bindings:  a.bindings,
		Manager:   a.manager,
		Component: a.spec.ServingService,
	}
	return rebinder.Rebind(ctx, artifactID)
}

// verifyGoldenPath checks the freshly bound index against the descriptor's
// expectations.
func (a *App) verifyGoldenPath(ctx context.Context, artifactID string) error {
	if a.spec.Verify == nil || a.config.SkipVerify {
		a.logger.Debug("Verification skipped.", "configured", a.spec.Verify != nil)
		return nil
	}
	verifier := &verify.Verifier{
		Client: search.NewClient(a.config.ServingURL, 10*time.Second),
		Config: verify.Config{Attempts: a.config.PollAttempts, Interval: a.config.PollInterval},
	}
	return verifier.Run(ctx, artifactID, a.spec.Verify)
}

// logEvery spaces progress log lines so a full run emits on the order of
// twenty of them.
func logEvery(estimatedTotal int64) int64 {
	every := estimatedTotal / 20
	if every < 1 {
		every = 1
	}
	return every
}
