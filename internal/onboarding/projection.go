package onboarding

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"laborflow/onboarding-service/internal/catalog"
)

// projectionTTL bounds cache staleness when an invalidation is lost.
const projectionTTL = 10 * time.Minute

func projectionKey(assignmentID string) string {
	return "projection:assignment:" + assignmentID
}

// Projection composes an assignment's stored documents with the labour
// profile's stage history into the view the dashboard renders. It holds no
// state of its own: the result is recomputed from the history store and the
// assignment record, with a redis cache in front.
func (s *Service) Projection(ctx context.Context, assignmentID string) (*AssignmentView, error) {
	if view, ok := s.cachedProjection(ctx, assignmentID); ok {
		return view, nil
	}

	asg, err := s.assignments.Get(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	hist, err := s.history.HistoryFor(ctx, asg.LabourProfileID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	view := buildView(asg, hist)
	s.cacheProjection(ctx, view)
	return view, nil
}

// buildView is the pure projection: assignment documents plus a per-stage
// rollup of the attempt history.
func buildView(asg *Assignment, hist []StageHistoryEntry) *AssignmentView {
	var latest *StageHistoryEntry
	if len(hist) > 0 {
		latest = &hist[len(hist)-1]
	}
	current, _ := deriveStage(latest)

	view := &AssignmentView{
		AssignmentID:    asg.ID,
		LabourProfileID: asg.LabourProfileID,
		JobRoleID:       asg.JobRoleID,
		CurrentStage:    current,
		TravelDate:      asg.TravelDate,
		Documents:       documentViews(asg),
		Stages:          stageViews(hist, current),
	}
	return view
}

// documentKinds fixes the display order of the per-placement documents.
var documentKinds = []catalog.DocKind{
	catalog.DocSignedOfferLetter,
	catalog.DocVisa,
	catalog.DocFlightTicket,
	catalog.DocMedicalCertificate,
	catalog.DocPoliceClearance,
	catalog.DocEmploymentContract,
}

func documentViews(asg *Assignment) []DocumentView {
	docs := make([]DocumentView, 0, len(asg.Documents)+len(asg.AdditionalDocRefs))
	for _, kind := range documentKinds {
		if ref := asg.Documents[kind]; ref != "" {
			docs = append(docs, DocumentView{Kind: kind, Ref: ref})
		}
	}
	for _, ref := range asg.AdditionalDocRefs {
		docs = append(docs, DocumentView{Kind: catalog.DocAdditional, Ref: ref})
	}
	return docs
}

func stageViews(hist []StageHistoryEntry, current catalog.Stage) []StageStatusView {
	currentOrd := catalog.Ordinal(current)

	views := make([]StageStatusView, 0, len(catalog.Stages()))
	for _, stage := range catalog.Stages() {
		def, _ := catalog.DefinitionFor(stage)
		v := StageStatusView{
			Stage:       stage,
			DisplayName: def.DisplayName,
			Status:      "NOT_STARTED",
		}

		for _, e := range hist {
			if e.Stage != stage {
				continue
			}
			v.Attempts++
			switch e.Status {
			case AttemptPending:
				v.Status = string(AttemptPending)
			case AttemptFailed:
				v.Status = string(AttemptFailed)
			case AttemptCompleted:
				v.Status = string(AttemptCompleted)
				v.CompletedAt = e.CompletedAt
			}
		}

		// Stages the pipeline has moved past are complete even when the
		// history recorded them under an advancing outcome only.
		if v.Attempts > 0 && catalog.Ordinal(stage) < currentOrd {
			v.Status = string(AttemptCompleted)
		}
		views = append(views, v)
	}
	return views
}

// ─── Cache ───────────────────────────────────────────────────────────────────

func (s *Service) cachedProjection(ctx context.Context, assignmentID string) (*AssignmentView, bool) {
	if s.rdb == nil {
		return nil, false
	}
	raw, err := s.rdb.Get(ctx, projectionKey(assignmentID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("projection cache read failed", "assignmentId", assignmentID, "err", err)
		}
		return nil, false
	}
	var view AssignmentView
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, false
	}
	return &view, true
}

func (s *Service) cacheProjection(ctx context.Context, view *AssignmentView) {
	if s.rdb == nil {
		return
	}
	raw, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, projectionKey(view.AssignmentID), raw, projectionTTL).Err(); err != nil {
		slog.Warn("projection cache write failed", "assignmentId", view.AssignmentID, "err", err)
	}
}

// invalidateProjection drops the cached view after an accepted transition so
// the next read recomputes from fresh history (non-fatal).
func (s *Service) invalidateProjection(ctx context.Context, asg *Assignment) {
	if s.rdb == nil || asg == nil {
		return
	}
	if err := s.rdb.Del(ctx, projectionKey(asg.ID)).Err(); err != nil {
		slog.Warn("projection cache invalidation failed", "assignmentId", asg.ID, "err", err)
	}
}
