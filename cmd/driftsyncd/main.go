// Command driftsyncd runs the offline-first record reconciliation daemon: a
// SQLite-backed local store kept convergent with a remote record service,
// with connectivity-triggered, scheduled and manual sync passes, plus a small
// operational HTTP surface.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/internal/config"
	"github.com/driftsync/driftsync/internal/connectivity"
	"github.com/driftsync/driftsync/internal/coordinator"
	"github.com/driftsync/driftsync/internal/health"
	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/internal/model"
	"github.com/driftsync/driftsync/internal/reconcile"
	"github.com/driftsync/driftsync/internal/remote"
	"github.com/driftsync/driftsync/internal/store/sqlite"
)

func main() {
	root := &cobra.Command{
		Use:          "driftsyncd",
		Short:        "Offline-first record reconciliation daemon",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	log := logger.New("driftsyncd")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return err
	}
	log.Info().
		Str("db_path", cfg.DBPath).
		Str("remote", cfg.RemoteBaseURL).
		Bool("authenticated", cfg.RemoteAPIToken != "").
		Str("sync_schedule", cfg.SyncSchedule).
		Int("http_port", cfg.HTTPPort).
		Msg("driftsyncd starting")

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		log.Error().Err(err).Msg("local store unavailable")
		return err
	}
	defer func() { _ = db.Close() }()

	local, err := sqlite.NewRecordStore(db)
	if err != nil {
		log.Error().Err(err).Msg("local store schema failed")
		return err
	}

	rem := remote.NewHTTPStore(remote.HTTPConfig{
		BaseURL:      cfg.RemoteBaseURL,
		APIToken:     cfg.RemoteAPIToken,
		OwnerID:      cfg.RemoteOwnerID,
		Timeout:      cfg.RemoteTimeout,
		PollInterval: cfg.ChangePollInterval,
	}, log)

	monitor := connectivity.NewHTTPProbe(cfg.ProbeURL, cfg.ProbeInterval, log)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Run(runCtx)

	checker := health.NewServiceChecker(log, health.NewPingChecker("local-store", local, 2*time.Second, log))
	go checker.Start(runCtx, 10*time.Second)

	engine := reconcile.New(local, rem, monitor, log)
	coord := coordinator.New(engine, local, rem, monitor, log)
	if err := coord.Initialize(runCtx); err != nil {
		log.Error().Err(err).Msg("coordinator initialization failed")
		return err
	}
	defer coord.Close()

	// Drain coordinator events into the log so the buffer never fills.
	go func() {
		for evt := range coord.Events() {
			log.Debug().Str("kind", string(evt.Kind)).Str("id", evt.RecordID).Msg("state event")
		}
	}()

	sched := cron.New()
	if _, err := sched.AddFunc(cfg.SyncSchedule, func() {
		if err := coord.ManualSync(runCtx); err != nil {
			log.Warn().Err(err).Msg("scheduled sync failed")
		}
	}); err != nil {
		log.Error().Err(err).Str("schedule", cfg.SyncSchedule).Msg("invalid sync schedule")
		return err
	}
	sched.Start()
	defer sched.Stop()

	server := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      newRouter(checker, coord),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("operational HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shut down")
		return err
	}
	log.Info().Msg("driftsyncd exited")
	return nil
}

// newRouter exposes the read-only operational surface: liveness, metrics and
// an introspection view of the coordinator state. This is not a CRUD API.
func newRouter(checker *health.ServiceChecker, coord *coordinator.Coordinator) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if !checker.IsHealthy() {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintln(w, "ok")
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/records", func(w http.ResponseWriter, req *http.Request) {
		recs := coord.Records()
		encoded := make([]map[string]any, len(recs))
		for i, rec := range recs {
			encoded[i] = model.Encode(rec)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"records": encoded,
			"pending": coord.PendingCount(),
			"online":  coord.Online(),
			"syncing": coord.Syncing(),
		})
	}).Methods(http.MethodGet)

	return r
}
