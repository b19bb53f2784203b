// laborflow-onboarding-service
//
// Post-placement onboarding workflow for labour profiles.
// Exposes a REST API used by the Gateway to implement:
//   - requestTransition(labourProfileId, targetStage, outcome, evidence, notes)
//   - reattempt(labourProfileId)    — fresh attempt after a FAILED outcome
//   - currentStage / historyFor     — derived stage and audit trail
//   - projection(assignmentId)      — documents + stage statuses for display
//
// Publishes EVENT_STAGE_CHANGED to Redis for Gateway SSE forward; a cron
// sweep publishes EVENT_ATTEMPT_STALE and EVENT_TRAVEL_UPCOMING reminders.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"laborflow/onboarding-service/internal/config"
	"laborflow/onboarding-service/internal/db"
	"laborflow/onboarding-service/internal/onboarding"
	"laborflow/onboarding-service/internal/scheduler"
	"laborflow/onboarding-service/internal/store"
)

const version = "1.0.0"

func main() {
	_ = godotenv.Load()

	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[onboarding-service] Config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── PostgreSQL ───────────────────────────────────────────────────────────
	log.Println("[onboarding-service] Connecting to PostgreSQL…")
	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.PGMaxConns)
	if err != nil {
		log.Fatalf("[onboarding-service] PostgreSQL: %v", err)
	}
	defer pool.Close()
	log.Println("[onboarding-service] PostgreSQL connected ✓")

	// ── Redis ────────────────────────────────────────────────────────────────
	log.Println("[onboarding-service] Connecting to Redis…")
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("[onboarding-service] Redis: %v", err)
	}
	defer rdb.Close()
	log.Println("[onboarding-service] Redis connected ✓")

	// ── Core wiring ──────────────────────────────────────────────────────────
	history := store.NewPostgresHistory(pool)
	assignments := store.NewPostgresAssignments(pool)
	gate := onboarding.NewGate(store.NewRedisDocuments(rdb))
	svc := onboarding.NewService(history, assignments, gate, rdb)

	// ── Reminder sweep ───────────────────────────────────────────────────────
	sched := scheduler.New(history, assignments, rdb, cfg.SweepIntervalHours, cfg.StalePendingHours)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("[onboarding-service] Scheduler: %v", err)
	}
	defer sched.Stop()

	// ── HTTP server ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)

	h := onboarding.NewHandler(svc)
	h.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[onboarding-service] v%s listening on :%s", version, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[onboarding-service] HTTP server error: %v", err)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[onboarding-service] Shutting down…")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[onboarding-service] Shutdown error: %v", err)
	}
	log.Println("[onboarding-service] Stopped.")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "onboarding-service",
		"version": version,
	})
}
