// Package scheduler wires up the cron job that periodically sweeps for stale
// PENDING attempts and upcoming travel dates, publishing reminder events for
// the notification collaborator to deliver.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"laborflow/onboarding-service/internal/onboarding"
)

// travelReminderWindow is how far ahead the sweep looks for travel dates.
const travelReminderWindow = 72 * time.Hour

// Scheduler wraps robfig/cron and manages the reminder sweep.
type Scheduler struct {
	cron         *cron.Cron
	history      onboarding.HistoryStore
	assignments  onboarding.AssignmentRepo
	rdb          *redis.Client
	spec         string // cron spec, e.g. "@every 6h"
	stalePending time.Duration
}

// New creates a Scheduler that fires every intervalHours hours and flags
// PENDING attempts older than stalePendingHours.
func New(history onboarding.HistoryStore, assignments onboarding.AssignmentRepo, rdb *redis.Client, intervalHours, stalePendingHours int) *Scheduler {
	return &Scheduler{
		cron:         cron.New(cron.WithLogger(cron.DefaultLogger)),
		history:      history,
		assignments:  assignments,
		rdb:          rdb,
		spec:         fmt.Sprintf("@every %dh", intervalHours),
		stalePending: time.Duration(stalePendingHours) * time.Hour,
	}
}

// Start registers the job and starts the scheduler. Also runs one sweep
// immediately so reminders do not wait for the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.runSweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	log.Printf("[scheduler] Cron started — spec: %s", s.spec)

	// Run immediately on startup (non-blocking)
	go s.runSweep(ctx)

	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("[scheduler] Cron stopped")
}

// runSweep publishes one event per stale PENDING attempt and one per
// assignment traveling inside the reminder window.
func (s *Scheduler) runSweep(ctx context.Context) {
	log.Println("[scheduler] Reminder sweep started")

	now := time.Now().UTC()

	stale, err := s.history.PendingOlderThan(ctx, now.Add(-s.stalePending))
	if err != nil {
		log.Printf("[scheduler] PendingOlderThan error: %v", err)
	}
	for _, e := range stale {
		s.publish(ctx, "EVENT_ATTEMPT_STALE", map[string]string{
			"type":            "EVENT_ATTEMPT_STALE",
			"labourProfileId": e.LabourProfileID,
			"stage":           string(e.Stage),
			"attemptId":       e.ID,
			"pendingSince":    e.CreatedAt.Format(time.RFC3339),
		})
	}

	traveling, err := s.assignments.TravelingBefore(ctx, now.Add(travelReminderWindow))
	if err != nil {
		log.Printf("[scheduler] TravelingBefore error: %v", err)
	}
	for _, a := range traveling {
		s.publish(ctx, "EVENT_TRAVEL_UPCOMING", map[string]string{
			"type":            "EVENT_TRAVEL_UPCOMING",
			"labourProfileId": a.LabourProfileID,
			"assignmentId":    a.ID,
			"travelDate":      a.TravelDate.Format("2006-01-02"),
		})
	}

	log.Printf("[scheduler] Reminder sweep complete — %d stale attempt(s), %d upcoming travel(s)", len(stale), len(traveling))
}

func (s *Scheduler) publish(ctx context.Context, channel string, payload map[string]string) {
	event, _ := json.Marshal(payload)
	if err := s.rdb.Publish(ctx, channel, event).Err(); err != nil {
		log.Printf("[scheduler] publish %s failed: %v", channel, err)
	}
}
