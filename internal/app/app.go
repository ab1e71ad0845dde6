package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/alpaca-search/alpacactl/internal/binding"
	"github.com/alpaca-search/alpacactl/internal/ctxlog"
	"github.com/alpaca-search/alpacactl/internal/envcfg"
	"github.com/alpaca-search/alpacactl/internal/hclspec"
	"github.com/alpaca-search/alpacactl/internal/pipeline"
	"github.com/alpaca-search/alpacactl/internal/services"
)

// App encapsulates the control plane's dependencies, configuration, and
// lifecycle for one invocation.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *Config
	spec     *pipeline.Spec
	manager  services.Manager
	bindings binding.Store
	lastRun  *pipeline.Run
}

// Option overrides one of the App's external dependencies, primarily so
// tests can substitute fakes for docker compose and the on-disk binding.
type Option func(*App)

// WithManager substitutes the service manager.
func WithManager(m services.Manager) Option {
	return func(a *App) { a.manager = m }
}

// WithBindings substitutes the serving binding store.
func WithBindings(s binding.Store) Option {
	return func(a *App) { a.bindings = s }
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and the loaded
// pipeline descriptor.
func NewApp(outW io.Writer, config *Config, opts ...Option) *App {
	logger := newLogger(config.LogLevel, config.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	spec, err := hclspec.Load(ctx, config.PipelinePath)
	if err != nil {
		// A failure to load the descriptor is a fatal startup error.
		panic(fmt.Errorf("failed to load pipeline descriptor: %w", err))
	}
	if spec.ServingService == "" {
		// Descriptors may leave the component name to the environment.
		spec.ServingService = envcfg.String("", envcfg.ServingServiceEnv, "")
	}
	logger.Debug("Pipeline descriptor loaded.", "pipeline", spec.Name)

	a := &App{
		outW:   outW,
		logger: logger,
		config: config,
		spec:   spec,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.manager == nil {
		a.manager = &services.ComposeManager{ComposeFile: config.ComposeFile}
	}
	if a.bindings == nil {
		if config.ServingConfigPath != "" {
			a.bindings = binding.NewFile(config.ServingConfigPath)
		} else {
			a.bindings = binding.NewMemory()
		}
	}
	return a
}

// Spec returns the loaded pipeline descriptor. This is primarily for testing.
func (a *App) Spec() *pipeline.Spec {
	return a.spec
}

// LastRun returns the most recent pipeline run, or nil if none started.
// This is primarily for testing.
func (a *App) LastRun() *pipeline.Run {
	return a.lastRun
}
