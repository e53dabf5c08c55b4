package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/clawinfra/kubeclaw/internal/api"
	"github.com/clawinfra/kubeclaw/internal/audit"
	"github.com/clawinfra/kubeclaw/internal/config"
	"github.com/clawinfra/kubeclaw/internal/engine"
	"github.com/clawinfra/kubeclaw/internal/executor"
	"github.com/clawinfra/kubeclaw/internal/policy"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

// App holds all the runtime components
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Policy    *policy.Policy
	AuditLog  *audit.Log
	Pruner    *audit.Pruner
	Engine    *engine.Engine
	APIServer *api.Server
	apiCancel context.CancelFunc
	apiDone   chan struct{}
}

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("kubeclaw", flag.ExitOnError)
	configPath := fs.String("config", "kubeclaw.json", "Path to config file")
	showVersion := fs.Bool("version", false, "Show version")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		return 1
	}

	if *showVersion {
		fmt.Printf("kubeclaw v%s (built %s)\n", version, buildTime)
		fmt.Println("Validated Kubernetes command execution gateway")
		return 0
	}

	app, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		return 1
	}

	startServices(app)

	if err := waitForShutdown(app); err != nil {
		app.Logger.Error("shutdown error", "error", err)
		return 1
	}
	return 0
}

// setup initializes all application components
func setup(configPath string) (*App, error) {
	app := &App{}

	app.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	app.Logger.Info("starting kubeclaw", "version", version, "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app.Config = cfg

	// Recreate logger with config's log level
	app.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	app.Policy, err = loadPolicy(cfg.Policy.Path, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	if cfg.Audit.Enabled {
		if dir := filepath.Dir(cfg.Audit.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create audit dir: %w", err)
			}
		}
		app.AuditLog, err = audit.Open(cfg.Audit.Path, app.Logger)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		retention := time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour
		app.Pruner, err = audit.NewPruner(app.AuditLog, cfg.Audit.PruneSchedule, retention)
		if err != nil {
			return nil, fmt.Errorf("schedule audit pruning: %w", err)
		}
	}

	exec := executor.New(app.Logger)
	app.Engine = engine.New(app.Policy, exec, app.AuditLog, int64(cfg.Exec.MaxConcurrent), app.Logger)
	app.APIServer = api.NewServer(cfg.Addr(), app.Engine, exec, app.AuditLog, app.Logger)

	return app, nil
}

// loadPolicy loads the policy file, falling back to built-in defaults when no
// path is configured.
func loadPolicy(path string, logger *slog.Logger) (*policy.Policy, error) {
	if path == "" {
		logger.Info("no policy file configured, using built-in defaults")
		p := policy.Default()
		return p, p.Validate()
	}
	p, err := policy.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Info("policy loaded", "path", path, "tools", len(p.Tools))
	return p, nil
}

// startServices starts the background services
func startServices(app *App) {
	if app.Pruner != nil {
		app.Pruner.Start()
	}

	var apiCtx context.Context
	apiCtx, app.apiCancel = context.WithCancel(context.Background())
	app.apiDone = make(chan struct{})
	go func() {
		defer close(app.apiDone)
		if err := app.APIServer.Start(apiCtx); err != nil {
			app.Logger.Error("API server error", "error", err)
		}
	}()
}

// waitForShutdown waits for termination signal and performs graceful shutdown
func waitForShutdown(app *App) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	app.Logger.Info("shutdown signal received", "signal", sig)

	if app.apiCancel != nil {
		app.apiCancel()
		<-app.apiDone
	}
	if app.Pruner != nil {
		app.Pruner.Stop()
	}

	var errs []error
	if app.AuditLog != nil {
		if err := app.AuditLog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audit log: %w", err))
		}
	}

	app.Logger.Info("kubeclaw stopped")
	return errors.Join(errs...)
}

// parseLogLevel converts string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
