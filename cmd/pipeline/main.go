// Command pipeline is the entry point for every role in the strategy
// pipeline: a single binary dispatching on its first argument, following
// the teacher's cmd/server/main.go flag-parsing style (no cobra/urfave).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/config"
	"github.com/atlas-quant/strategy-pipeline/internal/platform"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	subcommand := os.Args[1]
	fs := flag.NewFlagSet(subcommand, flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	logLevel := fs.String("log-level", "", "log level override (debug, info, warn, error)")
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	defer logger.Sync()

	workerID := fmt.Sprintf("%s-%d", subcommand, os.Getpid())
	p, err := platform.New(cfg, workerID, logger)
	if err != nil {
		logger.Fatal("failed to wire platform", zap.Error(err))
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	switch subcommand {
	case "status":
		runStatus(ctx, p)
	case "generate":
		runUntilSignal(ctx, cancel, sigCh, logger, "generator", p.Generator.Run)
	case "validate":
		runUntilSignal(ctx, cancel, sigCh, logger, "validator", p.Validator.Run)
	case "backtest":
		runUntilSignal(ctx, cancel, sigCh, logger, "backtester", p.Backtester.Run)
	case "classify":
		runUntilSignal(ctx, cancel, sigCh, logger, "classifier", func(ctx context.Context) error {
			return runScheduled(ctx, cfg.Classifier.Cron, p.Classifier.RunCycle, logger)
		})
	case "deploy":
		runUntilSignal(ctx, cancel, sigCh, logger, "deployer", p.Deployer.Run)
	case "executor":
		runUntilSignal(ctx, cancel, sigCh, logger, "executor", p.Executor.Run)
	case "serve":
		runServe(ctx, cancel, sigCh, p, logger)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: pipeline <status|generate|validate|backtest|classify|deploy|executor|serve> [flags]")
}

// runStatus prints the current strategy pool counts and exits, the CLI
// analogue of opsserver's /status endpoint for operators without curl.
func runStatus(ctx context.Context, p *platform.Platform) {
	counts := map[types.Status]int{}
	for _, st := range types.AllStatuses {
		n, err := p.Store.Strategies.QueueDepth(ctx, st)
		if err != nil {
			fmt.Fprintf(os.Stderr, "status: %v\n", err)
			os.Exit(1)
		}
		counts[st] = n
	}
	json.NewEncoder(os.Stdout).Encode(counts)
}

// runUntilSignal runs a role's blocking loop until SIGINT/SIGTERM, then
// cancels its context and waits for it to return.
func runUntilSignal(ctx context.Context, cancel context.CancelFunc, sigCh <-chan os.Signal, logger *zap.Logger, role string, run func(context.Context) error) {
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx) }()

	select {
	case <-sigCh:
		logger.Info("shutdown signal received", zap.String("role", role))
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			logger.Error("role exited with error", zap.String("role", role), zap.Error(err))
			os.Exit(1)
		}
	}
}

// runScheduled re-invokes fn every interval until ctx is cancelled,
// standing in for the classify subcommand's standalone cron loop when run
// outside of the scheduler-driven "serve" process.
func runScheduled(ctx context.Context, cronExpr string, fn func(context.Context) error, logger *zap.Logger) error {
	interval := 5 * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := fn(ctx); err != nil {
			logger.Warn("scheduled run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runServe starts every background role plus the scheduler and ops server
// in one process, the all-in-one mode used by local development and the
// reference deployment in spec §6.
func runServe(ctx context.Context, cancel context.CancelFunc, sigCh <-chan os.Signal, p *platform.Platform, logger *zap.Logger) {
	if err := p.RegisterScheduledJobs(ctx); err != nil {
		logger.Fatal("failed to register scheduled jobs", zap.Error(err))
	}
	p.Scheduler.Start()
	defer p.Scheduler.Stop()

	roles := map[string]func(context.Context) error{
		"generator":  p.Generator.Run,
		"validator":  p.Validator.Run,
		"backtester": p.Backtester.Run,
		"deployer":   p.Deployer.Run,
		"executor":   p.Executor.Run,
		"emergency":  p.Emergency.Run,
	}
	for name, run := range roles {
		name, run := name, run
		go func() {
			if err := run(ctx); err != nil && err != context.Canceled {
				logger.Error("role exited with error", zap.String("role", name), zap.Error(err))
			}
		}()
	}

	go func() {
		if err := p.Ops.Start(); err != nil {
			logger.Error("ops server error", zap.Error(err))
		}
	}()

	logger.Info("pipeline started")
	<-sigCh
	logger.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := p.Ops.Stop(shutdownCtx); err != nil {
		logger.Error("ops server shutdown error", zap.Error(err))
	}
	logger.Info("pipeline stopped")
}

func setupLogger(level, format string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}
	encoding := "console"
	if format == "json" {
		encoding = "json"
	}
	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
