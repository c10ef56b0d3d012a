package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nhairs/nserver/internal/demoapp"
	"github.com/nhairs/nserver/pkg/audit"
	"github.com/nhairs/nserver/pkg/nsconfig"
	"github.com/nhairs/nserver/pkg/nslog"
	"github.com/nhairs/nserver/pkg/nstelemetry"
	"github.com/nhairs/nserver/pkg/server"
	"github.com/nhairs/nserver/pkg/transport/tcp"
	"github.com/nhairs/nserver/pkg/transport/udp"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file (omit to run with built-in defaults)")
	showVersion = flag.Bool("version", false, "Show version information and exit")

	// Build-time variables set via ldflags.
	// Example: go build -ldflags "-X main.version=$(git describe --tags) -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("nserverd\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Git Commit: %s\n", gitCommit)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Go Version: %s\n", runtime.Version())
		os.Exit(0)
	}

	ctx := context.Background()

	var cfg *nsconfig.Config
	if *configPath != "" {
		var err error
		cfg, err = nsconfig.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg = nsconfig.LoadWithDefaults()
	}

	logger, err := nslog.New(cfg.Logging.ToNslogConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	nslog.SetGlobal(logger)

	var cfgWatcher *nsconfig.Watcher
	if *configPath != "" {
		cfgWatcher, err = nsconfig.NewWatcher(*configPath, logger)
		if err != nil {
			logger.Error("failed to start config watcher", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("nserverd starting", "version", version, "build_time", buildTime, "git_commit", gitCommit)

	telem, err := nstelemetry.New(ctx, cfg.Telemetry.ToNstelemetryConfig(), logger)
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	metrics, err := telem.InitMetrics()
	if err != nil {
		logger.Error("failed to initialize metrics", "error", err)
		os.Exit(1)
	}

	var auditLogger *audit.Logger
	if cfg.Audit.Enabled {
		auditLogger, err = audit.New(audit.Config{
			Path:       cfg.Audit.Path,
			Workers:    cfg.Audit.Workers,
			BufferSize: cfg.Audit.BufferSize,
		}, logger)
		if err != nil {
			logger.Error("failed to initialize audit log", "error", err)
			os.Exit(1)
		}
		logger.Info("audit log initialized", "path", cfg.Audit.Path)
	}

	settings := cfg.Server.ToSettings()
	srv, err := demoapp.New("nserverd", settings)
	if err != nil {
		logger.Error("failed to build server", "error", err)
		os.Exit(1)
	}
	srv.Logger = logger

	if err := srv.RegisterMiddleware(metrics.AsQueryMiddleware()); err != nil {
		logger.Error("failed to register telemetry middleware", "error", err)
		os.Exit(1)
	}
	if auditLogger != nil {
		if err := srv.RegisterRawMiddleware(auditLogger.AsRawMiddleware()); err != nil {
			logger.Error("failed to register audit middleware", "error", err)
			os.Exit(1)
		}
	}
	if cfg.Policy.Enabled && len(cfg.Policy.Rules) > 0 {
		policyEngine, err := cfg.Policy.ToEngine()
		if err != nil {
			logger.Error("failed to compile policy rules", "error", err)
			os.Exit(1)
		}
		if err := srv.RegisterRawMiddleware(policyEngine.AsRawMiddleware()); err != nil {
			logger.Error("failed to register policy middleware", "error", err)
			os.Exit(1)
		}
		logger.Info("policy engine initialized", "rules", policyEngine.Count())
	}

	if cfgWatcher != nil {
		watcherCtx, watcherCancel := context.WithCancel(ctx)
		defer watcherCancel()
		go func() {
			if err := cfgWatcher.Start(watcherCtx); err != nil {
				logger.Error("config watcher stopped", "error", err)
			}
		}()
	}

	var t server.Transport
	switch settings.Transport {
	case "tcp":
		t = tcp.New()
	default:
		t = udp.New()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(serverCtx, t); err != nil {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	logger.Info("nserverd is running",
		"address", settings.Address,
		"port", settings.Port,
		"transport", settings.Transport,
	)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
		serverCancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := telem.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during telemetry shutdown", "error", err)
		}
		if auditLogger != nil {
			if err := auditLogger.Close(); err != nil {
				logger.Error("error during audit log shutdown", "error", err)
			}
		}
		if cfgWatcher != nil {
			if err := cfgWatcher.Close(); err != nil {
				logger.Error("error during config watcher shutdown", "error", err)
			}
		}
		logger.Info("nserverd stopped")

	case err := <-errChan:
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
