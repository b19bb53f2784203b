package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"laborflow/onboarding-service/internal/catalog"
)

// ─── Service ─────────────────────────────────────────────────────────────────

// Service encapsulates the onboarding workflow business logic: the transition
// engine, remediation and the read-side queries. It has no dependency on
// net/http — it can be used by any transport layer.
type Service struct {
	history     HistoryStore
	assignments AssignmentRepo
	gate        *Gate
	rdb         *redis.Client // nil disables events and projection caching
	now         func() time.Time
	newID       func() string
}

// NewService returns a configured Service. rdb may be nil; event publishing
// and projection caching are then skipped.
func NewService(history HistoryStore, assignments AssignmentRepo, gate *Gate, rdb *redis.Client) *Service {
	return &Service{
		history:     history,
		assignments: assignments,
		gate:        gate,
		rdb:         rdb,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// ─── Derived current stage ───────────────────────────────────────────────────

// deriveStage computes the current stage from the latest history entry. The
// stage is never stored directly; this derivation is the single source of
// truth.
//
//	no history            → first stage, no attempt
//	latest PENDING        → that stage, attempt in flight
//	latest FAILED         → that stage (remediation is a fresh attempt there)
//	latest COMPLETED      → next stage, except RESCHEDULED closes and the
//	                        terminal DEPLOYED entry, which both stay put
func deriveStage(latest *StageHistoryEntry) (stage catalog.Stage, inFlight bool) {
	if latest == nil {
		return catalog.First(), false
	}
	switch latest.Status {
	case AttemptPending:
		return latest.Stage, true
	case AttemptFailed:
		return latest.Stage, false
	}
	// COMPLETED
	if latest.Outcome == catalog.OutcomeRescheduled || catalog.IsTerminal(latest.Stage) {
		return latest.Stage, false
	}
	next, ok := catalog.Next(latest.Stage)
	if !ok {
		return latest.Stage, false
	}
	return next, false
}

// ─── Transition engine ───────────────────────────────────────────────────────

// RequestTransition validates and applies one stage transition for a labour
// profile. Rejections (OUT_OF_ORDER, INVALID_OUTCOME, MISSING_EVIDENCE,
// CONCURRENT_MODIFICATION, EVIDENCE_STORE_UNAVAILABLE) come back as
// *TransitionError and persist nothing. A FAILED outcome at a non-advancing
// stage is an accepted result, not an error.
func (s *Service) RequestTransition(ctx context.Context, labourProfileID string, targetStage catalog.Stage, outcome catalog.Outcome, ev Evidence, notes string) (*TransitionResult, error) {
	latest, err := s.history.LatestFor(ctx, labourProfileID)
	if err != nil {
		return nil, fmt.Errorf("load latest history: %w", err)
	}

	current, inFlight := deriveStage(latest)

	if catalog.IsTerminal(current) && latest != nil && latest.Status == AttemptCompleted {
		return nil, &TransitionError{
			Code: CodeOutOfOrder,
			Msg:  fmt.Sprintf("labour profile is already %s", catalog.StageDeployed),
		}
	}
	if targetStage != current {
		return nil, &TransitionError{
			Code: CodeOutOfOrder,
			Msg:  fmt.Sprintf("stage %s is not current (current stage is %s)", targetStage, current),
		}
	}

	def, ok := catalog.DefinitionFor(targetStage)
	if !ok {
		return nil, &ValidationError{Msg: fmt.Sprintf("unknown stage %q", targetStage)}
	}
	effect, permitted := def.Outcomes[outcome]
	if !permitted {
		return nil, &TransitionError{
			Code: CodeInvalidOutcome,
			Msg:  fmt.Sprintf("outcome %s is not permitted at stage %s", outcome, targetStage),
		}
	}

	asg, err := s.assignments.ForLabourProfile(ctx, labourProfileID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load assignment: %w", err)
	}

	if err := s.gate.Check(ctx, def, outcome, ev, asg); err != nil {
		return nil, err
	}

	entries, closeAttempt := s.buildChange(latest, inFlight, def, effect, outcome, ev, notes)
	for i := range entries {
		entries[i].LabourProfileID = labourProfileID
	}

	expectedLatestID := ""
	if latest != nil {
		expectedLatestID = latest.ID
	}
	if err := s.history.Append(ctx, labourProfileID, expectedLatestID, closeAttempt, entries); err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			return nil, &TransitionError{
				Code: CodeConcurrentModification,
				Msg:  "stage history changed concurrently; refresh and retry",
			}
		}
		return nil, fmt.Errorf("append history: %w", err)
	}

	// Accepted evidence becomes part of the assignment record (non-fatal).
	if asg != nil {
		s.attachEvidence(ctx, asg, ev)
	}

	newStage, _ := deriveStage(appliedLatest(latest, closeAttempt, entries))
	s.publishStageChanged(ctx, labourProfileID, current, newStage, outcome)
	s.invalidateProjection(ctx, asg)

	hist, err := s.history.HistoryFor(ctx, labourProfileID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return &TransitionResult{CurrentStage: newStage, History: hist}, nil
}

// buildChange maps an accepted (stage, outcome, effect) to the history change
// to apply: an optional close of the in-flight PENDING attempt plus zero or
// more appended entries.
func (s *Service) buildChange(latest *StageHistoryEntry, inFlight bool, def catalog.StageDefinition, effect catalog.Effect, outcome catalog.Outcome, ev Evidence, notes string) ([]StageHistoryEntry, *AttemptClose) {
	now := s.now()

	status := AttemptCompleted
	if effect == catalog.EffectFailInPlace {
		status = AttemptFailed
	}

	var entries []StageHistoryEntry
	var closeAttempt *AttemptClose

	if inFlight && latest.Stage == def.Stage {
		// Terminalize the open attempt instead of leaving a dangling
		// PENDING row next to a fresh terminal one.
		closeAttempt = &AttemptClose{
			AttemptID:    latest.ID,
			Status:       status,
			Outcome:      outcome,
			Notes:        notes,
			EvidenceRefs: ev.Refs(),
			ClosedAt:     now,
		}
	} else {
		entries = append(entries, StageHistoryEntry{
			ID:           s.newID(),
			Stage:        def.Stage,
			Status:       status,
			Outcome:      outcome,
			Notes:        notes,
			EvidenceRefs: ev.Refs(),
			CreatedAt:    now,
			CompletedAt:  &now,
		})
	}

	switch effect {
	case catalog.EffectRetryInPlace:
		// Travel reschedule: the closed attempt counts as COMPLETED and a
		// new PENDING attempt opens immediately with the updated date.
		entries = append(entries, StageHistoryEntry{
			ID:           s.newID(),
			Stage:        def.Stage,
			Status:       AttemptPending,
			EvidenceRefs: ev.Refs(),
			TravelDate:   ev.TravelDate,
			CreatedAt:    now,
		})
	case catalog.EffectAdvance:
		// Advancing into the terminal stage records the deployment itself;
		// no further transition is needed after arrival confirmation.
		if next, ok := catalog.Next(def.Stage); ok && catalog.IsTerminal(next) {
			entries = append(entries, StageHistoryEntry{
				ID:          s.newID(),
				Stage:       next,
				Status:      AttemptCompleted,
				Outcome:     catalog.OutcomeCompleted,
				CreatedAt:   now,
				CompletedAt: &now,
			})
		}
	}

	return entries, closeAttempt
}

// appliedLatest returns the entry the new current stage derives from: the
// final appended entry, or the just-terminalized attempt when nothing was
// appended.
func appliedLatest(prev *StageHistoryEntry, closeAttempt *AttemptClose, entries []StageHistoryEntry) *StageHistoryEntry {
	if len(entries) > 0 {
		return &entries[len(entries)-1]
	}
	if closeAttempt == nil {
		return prev
	}
	return &StageHistoryEntry{
		Stage:   prev.Stage,
		Status:  closeAttempt.Status,
		Outcome: closeAttempt.Outcome,
	}
}

// attachEvidence writes accepted document references and travel date back
// onto the assignment. Failures are logged, not returned: the transition is
// already committed and the projection rebuilds from history regardless.
func (s *Service) attachEvidence(ctx context.Context, asg *Assignment, ev Evidence) {
	for _, d := range ev.Documents {
		if err := s.assignments.AttachDocument(ctx, asg.ID, d.Kind, d.Ref); err != nil {
			slog.Warn("attach document failed", "assignmentId", asg.ID, "kind", d.Kind, "err", err)
		}
	}
	if ev.TravelDate != nil {
		if err := s.assignments.SetTravelDate(ctx, asg.ID, *ev.TravelDate); err != nil {
			slog.Warn("set travel date failed", "assignmentId", asg.ID, "err", err)
		}
	}
}

// ─── Remediation ─────────────────────────────────────────────────────────────

// Reattempt opens a fresh PENDING attempt at the current stage after a
// FAILED outcome. The engine never retries on its own; this is the explicit
// agency action that restarts a refused contract, an unfit medical or a
// failed fingerprint.
func (s *Service) Reattempt(ctx context.Context, labourProfileID, notes string) (*TransitionResult, error) {
	latest, err := s.history.LatestFor(ctx, labourProfileID)
	if err != nil {
		return nil, fmt.Errorf("load latest history: %w", err)
	}
	if latest == nil || latest.Status != AttemptFailed {
		return nil, &TransitionError{
			Code: CodeOutOfOrder,
			Msg:  "no failed attempt to remediate",
		}
	}

	now := s.now()
	entry := StageHistoryEntry{
		ID:              s.newID(),
		LabourProfileID: labourProfileID,
		Stage:           latest.Stage,
		Status:          AttemptPending,
		Notes:           notes,
		CreatedAt:       now,
	}
	if err := s.history.Append(ctx, labourProfileID, latest.ID, nil, []StageHistoryEntry{entry}); err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			return nil, &TransitionError{
				Code: CodeConcurrentModification,
				Msg:  "stage history changed concurrently; refresh and retry",
			}
		}
		return nil, fmt.Errorf("append history: %w", err)
	}

	hist, err := s.history.HistoryFor(ctx, labourProfileID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return &TransitionResult{CurrentStage: latest.Stage, History: hist}, nil
}

// ─── Read side ───────────────────────────────────────────────────────────────

// CurrentStage derives the profile's current stage from its history.
func (s *Service) CurrentStage(ctx context.Context, labourProfileID string) (catalog.Stage, error) {
	latest, err := s.history.LatestFor(ctx, labourProfileID)
	if err != nil {
		return "", fmt.Errorf("load latest history: %w", err)
	}
	stage, _ := deriveStage(latest)
	return stage, nil
}

// HistoryFor returns the profile's full attempt history oldest-first.
func (s *Service) HistoryFor(ctx context.Context, labourProfileID string) ([]StageHistoryEntry, error) {
	return s.history.HistoryFor(ctx, labourProfileID)
}

// ─── Events ──────────────────────────────────────────────────────────────────

// publishStageChanged emits EVENT_STAGE_CHANGED for the Gateway's SSE stream
// (non-fatal).
func (s *Service) publishStageChanged(ctx context.Context, labourProfileID string, from, to catalog.Stage, outcome catalog.Outcome) {
	if s.rdb == nil {
		return
	}
	event, _ := json.Marshal(map[string]string{
		"type":            "EVENT_STAGE_CHANGED",
		"labourProfileId": labourProfileID,
		"from":            string(from),
		"to":              string(to),
		"outcome":         string(outcome),
		"at":              s.now().Format(time.RFC3339),
	})
	if err := s.rdb.Publish(ctx, "EVENT_STAGE_CHANGED", event).Err(); err != nil {
		slog.Warn("publish EVENT_STAGE_CHANGED failed", "labourProfileId", labourProfileID, "err", err)
	}
}
