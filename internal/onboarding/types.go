// Package onboarding contains the pure business logic for the onboarding
// stage workflow: the transition engine, the document evidence gate and the
// assignment projection. It is transport-agnostic — the HTTP handler in this
// package and any future RPC layer delegate to Service.
package onboarding

import (
	"fmt"
	"strings"
	"time"

	"laborflow/onboarding-service/internal/catalog"
)

// AttemptStatus is the lifecycle state of one stage attempt.
type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "PENDING"
	AttemptCompleted AttemptStatus = "COMPLETED"
	AttemptFailed    AttemptStatus = "FAILED"
)

// StageHistoryEntry is one attempt at a stage. Entries are append-only; the
// only in-place change ever made is terminalizing a PENDING row, and that is
// done by the history store under its transactional guard.
type StageHistoryEntry struct {
	ID              string          `json:"id"`
	LabourProfileID string          `json:"labourProfileId"`
	Stage           catalog.Stage   `json:"stage"`
	Status          AttemptStatus   `json:"status"`
	Outcome         catalog.Outcome `json:"outcome,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	EvidenceRefs    []string        `json:"evidenceRefs,omitempty"`
	TravelDate      *time.Time      `json:"travelDate,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
}

// OfferLetterDetails are the contractual terms that must exist on the
// assignment before the offer-letter stage may even be attempted.
type OfferLetterDetails struct {
	WorkingHours    string `json:"workingHours"`
	WorkingDays     string `json:"workingDays"`
	LeaveSalary     string `json:"leaveSalary"`
	EndOfService    string `json:"endOfService"`
	ProbationPeriod string `json:"probationPeriod"`
}

// Assignment is the placement record (labour profile + job role) that owns
// the per-placement documents and travel data.
type Assignment struct {
	ID              string              `json:"id"`
	LabourProfileID string              `json:"labourProfileId"`
	JobRoleID       string              `json:"jobRoleId"`
	AgencyID        string              `json:"agencyId"`
	OfferDetails    *OfferLetterDetails `json:"offerDetails,omitempty"`

	// Stored document references, keyed by kind. DocAdditional refs live in
	// AdditionalDocRefs so the list keeps its order.
	Documents         map[catalog.DocKind]string `json:"documents"`
	AdditionalDocRefs []string                   `json:"additionalDocRefs,omitempty"`

	TravelDate *time.Time `json:"travelDate,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// DocumentRef is one piece of evidence supplied with a transition request.
type DocumentRef struct {
	Kind catalog.DocKind `json:"kind"`
	Ref  string          `json:"ref"`
}

// Evidence is everything a caller may attach to a transition request.
type Evidence struct {
	Documents  []DocumentRef `json:"documents,omitempty"`
	TravelDate *time.Time    `json:"travelDate,omitempty"`
}

// Document returns the supplied ref for kind, or "".
func (e Evidence) Document(kind catalog.DocKind) string {
	for _, d := range e.Documents {
		if d.Kind == kind {
			return d.Ref
		}
	}
	return ""
}

// Refs returns all supplied document references in order.
func (e Evidence) Refs() []string {
	if len(e.Documents) == 0 {
		return nil
	}
	refs := make([]string, 0, len(e.Documents))
	for _, d := range e.Documents {
		refs = append(refs, d.Ref)
	}
	return refs
}

// TransitionResult is returned for every accepted transition.
type TransitionResult struct {
	CurrentStage catalog.Stage       `json:"currentStage"`
	History      []StageHistoryEntry `json:"history"`
}

// DocumentView is one stored document in the assignment projection.
type DocumentView struct {
	Kind       catalog.DocKind `json:"kind"`
	Ref        string          `json:"ref"`
	UploadedAt *time.Time      `json:"uploadedAt,omitempty"`
}

// StageStatusView is the per-stage rollup in the assignment projection.
type StageStatusView struct {
	Stage       catalog.Stage `json:"stage"`
	DisplayName string        `json:"displayName"`
	Status      string        `json:"status"` // NOT_STARTED, PENDING, COMPLETED, FAILED
	Attempts    int           `json:"attempts"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}

// AssignmentView is the read-side composition the dashboard renders.
type AssignmentView struct {
	AssignmentID    string            `json:"assignmentId"`
	LabourProfileID string            `json:"labourProfileId"`
	JobRoleID       string            `json:"jobRoleId"`
	CurrentStage    catalog.Stage     `json:"currentStage"`
	TravelDate      *time.Time        `json:"travelDate,omitempty"`
	Documents       []DocumentView    `json:"documents"`
	Stages          []StageStatusView `json:"stages"`
}

// ─── Error taxonomy ──────────────────────────────────────────────────────────

// ErrorCode classifies a rejected transition. Every code is user-displayable
// and scoped to a single request; none are retried by the engine.
type ErrorCode string

const (
	CodeOutOfOrder               ErrorCode = "OUT_OF_ORDER"
	CodeInvalidOutcome           ErrorCode = "INVALID_OUTCOME"
	CodeMissingEvidence          ErrorCode = "MISSING_EVIDENCE"
	CodeConcurrentModification   ErrorCode = "CONCURRENT_MODIFICATION"
	CodeEvidenceStoreUnavailable ErrorCode = "EVIDENCE_STORE_UNAVAILABLE"
)

// TransitionError is a typed rejection of a transition request. Nothing is
// persisted when one is returned.
type TransitionError struct {
	Code ErrorCode
	Msg  string
	// Missing names the absent evidence items for CodeMissingEvidence.
	Missing []string
}

func (e *TransitionError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s: %s (missing: %s)", e.Code, e.Msg, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// ErrNotFound is returned when a labour profile or assignment is missing.
var ErrNotFound = fmt.Errorf("not found")

// ValidationError wraps a user-facing validation message (bad stage or
// outcome name, malformed evidence).
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }
