// Command gateway runs the swarm task-processing core: the five actors
// (ServerRegistry, ServerInstance, LoadBalancer, TaskInstance,
// StatsAggregator) behind one HTTP ingress, matching orchestrator's
// main.go shape for startup/shutdown wiring.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/swarmguard/gateway/internal/actor"
	"github.com/swarmguard/gateway/internal/audit"
	"github.com/swarmguard/gateway/internal/backend"
	"github.com/swarmguard/gateway/internal/config"
	"github.com/swarmguard/gateway/internal/domain"
	"github.com/swarmguard/gateway/internal/httpapi"
	"github.com/swarmguard/gateway/internal/logging"
	"github.com/swarmguard/gateway/internal/otelinit"
	"github.com/swarmguard/gateway/internal/store"
)

const serviceName = "swarmguard-gateway"

func main() {
	logging.Init(serviceName)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, serviceName)
	shutdownMetrics, _ := otelinit.InitMetrics(ctx, serviceName)

	cfg := config.Load()
	reloadable := config.NewReloadable(cfg.ConfigFile)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open primary store", "error", err)
		return
	}
	defer db.Close()

	statsDB, err := store.OpenStats(cfg.StatsDBPath)
	if err != nil {
		slog.Error("failed to open stats store", "error", err)
		return
	}
	defer statsDB.Close()

	auditLog := audit.NewLog()
	be := backend.NewClient()
	sys := actor.NewSystem(db, statsDB, be, cfg, auditLog)

	go watchDefaultAlgorithm(sys, reloadable)

	handler := httpapi.NewAPI(sys, reloadable, cfg.JWTSecret)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler,
	}

	go func() {
		slog.Info("gateway listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	otelinit.Flush(shutdownCtx, shutdownTrace)
	_ = shutdownMetrics(shutdownCtx)

	slog.Info("shutdown complete")
}

// watchDefaultAlgorithm polls the reloadable config's default algorithm and
// pushes a change into LoadBalancer — the only Reloadable field that has a
// live actor to push into; AdminRoleClaim is read per-request by the auth
// middleware instead.
func watchDefaultAlgorithm(sys *actor.System, reloadable *config.Reloadable) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	current := domain.LBAlgorithm(reloadable.DefaultAlgorithm.Load().(string))
	for range ticker.C {
		next := domain.LBAlgorithm(reloadable.DefaultAlgorithm.Load().(string))
		if next == current || !domain.ValidAlgorithm(next) {
			continue
		}
		if err := sys.LoadBalancer().SetAlgorithm(next); err != nil {
			slog.Warn("reloaded default algorithm rejected", "algorithm", next, "error", err)
			continue
		}
		current = next
		slog.Info("load balancer algorithm reloaded", "algorithm", next)
	}
}
