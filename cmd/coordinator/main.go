package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dgnsrekt/browser_fleet/internal/api"
	"github.com/dgnsrekt/browser_fleet/internal/config"
	"github.com/dgnsrekt/browser_fleet/internal/fleet"
	"github.com/dgnsrekt/browser_fleet/internal/netutil"
	"github.com/dgnsrekt/browser_fleet/internal/proxy"
	"github.com/dgnsrekt/browser_fleet/internal/relay"
	"github.com/dgnsrekt/browser_fleet/internal/worker"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.LoadCoordinator()
	if err != nil {
		slog.Error("failed to load coordinator config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("coordinator config loaded",
		"bind_addr", cfg.BindAddr,
		"worker_image", cfg.WorkerImage,
		"port_range", cfg.PortCount,
		"port_base", cfg.PortBase,
		"health_timeout_s", cfg.HealthTimeoutSeconds,
		"idle_timeout_min", cfg.IdleTimeoutMinutes,
		"max_sessions", cfg.MaxSessions,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	cli, err := worker.NewClient()
	if err != nil {
		slog.Error("failed to create docker client", "error", err)
		os.Exit(1)
	}
	sup := worker.NewSupervisor(cli, worker.Options{
		Image:        cfg.WorkerImage,
		NamePrefix:   cfg.WorkerNamePrefix,
		InternalPort: cfg.WorkerInternalPort,
		ShmSizeMB:    cfg.WorkerShmSizeMB,
	})

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	if err := sup.Ping(pingCtx); err != nil {
		cancelPing()
		slog.Error("docker daemon unreachable", "error", err)
		os.Exit(1)
	}
	cancelPing()

	if cfg.PruneOnStart {
		pruneCtx, cancelPrune := context.WithTimeout(context.Background(), 2*time.Minute)
		pruned, err := sup.PruneLeftovers(pruneCtx)
		cancelPrune()
		if err != nil {
			slog.Warn("leftover worker prune incomplete", "pruned", pruned, "error", err)
		} else if pruned > 0 {
			slog.Info("pruned leftover workers", "count", pruned)
		}
	}

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, nil, false)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	broker := relay.NewBroker()
	ports := fleet.NewPortAllocator(cfg.PortBase, cfg.PortCount)
	gate := fleet.NewHealthGate(time.Duration(cfg.HealthIntervalMS) * time.Millisecond)

	idleTimeout := time.Duration(cfg.IdleTimeoutMinutes) * time.Minute
	reapInterval := time.Duration(cfg.ReapIntervalSeconds) * time.Second
	mgr := fleet.NewManager(sup, ports, gate, broker, fleet.ManagerOptions{
		HeadlessDefault: cfg.HeadlessDefault,
		HealthTimeout:   time.Duration(cfg.HealthTimeoutSeconds) * time.Second,
		IdleTimeout:     idleTimeout,
		ReapInterval:    reapInterval,
		MaxSessions:     cfg.MaxSessions,
	})
	mgr.StartReaper()

	fwd := proxy.NewForwarder(mgr, time.Duration(cfg.ForwardTimeoutSeconds)*time.Second)
	h := api.NewServer(mgr, fwd, broker, api.StatusConfig{
		IdleTimeout:  idleTimeout,
		ReapInterval: reapInterval,
	})

	srv := &http.Server{Addr: bindAddr, Handler: h}

	go func() {
		slog.Info("coordinator listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("coordinator server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("coordinator shutting down")

	// Stop accepting requests first so no create can race the teardown sweep.
	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("coordinator http shutdown failed", "error", err)
	}
	cancelHTTP()

	fleetCtx, cancelFleet := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := mgr.Shutdown(fleetCtx); err != nil {
		slog.Error("session teardown incomplete", "error", err)
	}
	cancelFleet()

	slog.Info("coordinator stopped")
}

func setupLogger(level, filename string) error {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	var w io.Writer = os.Stdout
	if filename != "" {
		if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
			return err
		}
		logWriter := &lumberjack.Logger{
			Filename:   filename,
			MaxSize:    25,
			MaxBackups: 10,
			MaxAge:     14,
			Compress:   true,
		}
		w = io.MultiWriter(os.Stdout, logWriter)
	}

	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
