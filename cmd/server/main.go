package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "legalscan/internal/adapters/http"
	"legalscan/internal/adapters/fossology"
	pg "legalscan/internal/adapters/postgres"
	"legalscan/internal/adapters/semgrep"
	"legalscan/internal/config"
	"legalscan/internal/ports"
	"legalscan/internal/risk"
	scansvc "legalscan/internal/services/scans"
	"legalscan/internal/workers/scanrunner"
	"legalscan/internal/workspace"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config error", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect error", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Error("migrate error", "err", err)
		os.Exit(1)
	}

	backends := []ports.Backend{
		fossology.New(cfg.FossologyURL, cfg.FossologyToken, log),
		semgrep.New(cfg.SemgrepURL, log),
	}
	checkBackends(ctx, backends, log)

	workspaces := workspace.NewManager(cfg.WorkspaceDir, log)
	if err := workspaces.EnsureBaseDir(); err != nil {
		log.Error("workspace dir error", "dir", cfg.WorkspaceDir, "err", err)
		os.Exit(1)
	}

	engine := risk.NewEngine(risk.DefaultPolicy())
	poll := scanrunner.PollConfig{
		Initial: cfg.PollInitial,
		Max:     cfg.PollMax,
		Timeout: cfg.PollTimeout,
		MaxErrs: scanrunner.DefaultPollConfig().MaxErrs,
	}
	runner := scanrunner.New(db, backends,
		func(scanID string) scanrunner.Workspace { return workspaces.For(scanID) },
		engine, poll, cfg.ScanQueueSize, log)

	// Orphans must be swept before the queue starts accepting work.
	if err := runner.SweepOrphans(ctx); err != nil {
		log.Error("orphan sweep error", "err", err)
		os.Exit(1)
	}
	go runner.Run(ctx)

	names := make([]string, len(backends))
	for i, b := range backends {
		names[i] = b.Name()
	}
	service := scansvc.New(db, runner, names, log)
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: httpadapter.New(service, log).Routes(),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("listening", "addr", cfg.ListenAddr, "env", cfg.Env)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
		cancel()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			log.Error("shutdown error", "err", err)
		}
	case err := <-errCh:
		log.Error("server error", "err", err)
		os.Exit(1)
	}
}

// checkBackends probes each analysis backend once at startup. Failures are
// diagnostics only; a backend that is down now may be up by the time a scan
// reaches it.
func checkBackends(ctx context.Context, backends []ports.Backend, log *slog.Logger) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	for _, b := range backends {
		if err := b.HealthCheck(probeCtx); err != nil {
			log.Warn("backend unreachable at startup", "backend", b.Name(), "err", err)
		} else {
			log.Info("backend reachable", "backend", b.Name())
		}
	}
}
