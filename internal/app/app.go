// Package app wires the application: logger, configuration, pool registry,
// and the orchestrator, behind a single Run entrypoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/biocomp/phylopipe/internal/config"
	"github.com/biocomp/phylopipe/internal/ctxlog"
	"github.com/biocomp/phylopipe/internal/orchestrator"
	"github.com/biocomp/phylopipe/internal/pool"
	"github.com/biocomp/phylopipe/internal/tools"
)

// Config holds everything an App instance needs to run.
type Config struct {
	ConfigPath string // .hcl file or directory of .hcl files
	LogFormat  string
	LogLevel   string
}

// NewConfig validates the raw CLI-derived configuration.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.ConfigPath == "" {
		return nil, errors.New("ConfigPath is a required configuration field and cannot be empty")
	}
	return &cfg, nil
}

// App encapsulates the application's dependencies and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	cfg    *config.RunConfig
}

// NewApp constructs a fully initialized App with its own isolated logger and
// a loaded, validated run configuration.
func NewApp(outW io.Writer, appConfig *Config) (*App, error) {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	cfg, err := config.Load(ctx, appConfig.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Debug("Run configuration loaded.", "pools", len(cfg.Pools), "tools", len(cfg.Tools))

	return &App{outW: outW, logger: logger, cfg: cfg}, nil
}

// RunConfig exposes the loaded configuration, primarily for tests.
func (a *App) RunConfig() *config.RunConfig {
	return a.cfg
}

// Run executes the whole batch and returns the run report. The pool registry
// lives exactly as long as this call.
func (a *App) Run(ctx context.Context) (*orchestrator.Report, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	pools, err := pool.NewRegistry(ctx, a.cfg.Pools)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pool registry: %w", err)
	}
	defer pools.Close()

	invoker := tools.NewExecInvoker(a.cfg)
	report, err := orchestrator.New(a.cfg, pools, invoker).Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("batch run aborted: %w", err)
	}

	a.logReport(report)
	return report, nil
}

// logReport writes the per-dataset outcome to the logging sink.
func (a *App) logReport(report *orchestrator.Report) {
	logger := a.logger.With("run_id", report.RunID)
	for dataset, result := range report.Results {
		if result.Status == orchestrator.Succeeded {
			logger.Info("Dataset succeeded.", "dataset", dataset)
			continue
		}
		logger.Error("Dataset failed.",
			"dataset", dataset,
			"failing_task", result.FailingTaskID,
			"error", result.Err)
	}
}
