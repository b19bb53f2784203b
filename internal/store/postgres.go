package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"laborflow/onboarding-service/internal/catalog"
	"laborflow/onboarding-service/internal/onboarding"
)

// ─── History ─────────────────────────────────────────────────────────────────

// PostgresHistory is the production onboarding.HistoryStore, backed by the
// stage_history table (append-only; seq bigserial gives total order per
// profile).
type PostgresHistory struct {
	pool *pgxpool.Pool
}

// NewPostgresHistory returns a PostgresHistory on pool.
func NewPostgresHistory(pool *pgxpool.Pool) *PostgresHistory {
	return &PostgresHistory{pool: pool}
}

const historyColumns = `id, labour_profile_id, stage, status, outcome, notes,
       evidence_refs, travel_date, created_at, completed_at`

// refsOrEmpty keeps evidence_refs bindings non-nil: pgx encodes a nil
// []string as SQL NULL, which the NOT NULL column rejects. Most transitions
// carry no documents, so nil is the common case.
func refsOrEmpty(refs []string) []string {
	if refs == nil {
		return []string{}
	}
	return refs
}

func scanEntry(row pgx.Row) (*onboarding.StageHistoryEntry, error) {
	var (
		e       onboarding.StageHistoryEntry
		stage   string
		status  string
		outcome *string
	)
	if err := row.Scan(
		&e.ID, &e.LabourProfileID, &stage, &status, &outcome, &e.Notes,
		&e.EvidenceRefs, &e.TravelDate, &e.CreatedAt, &e.CompletedAt,
	); err != nil {
		return nil, err
	}
	e.Stage = catalog.Stage(stage)
	e.Status = onboarding.AttemptStatus(status)
	if outcome != nil {
		e.Outcome = catalog.Outcome(*outcome)
	}
	return &e, nil
}

// LatestFor returns the most recent entry, or nil when the profile has no
// history yet.
func (s *PostgresHistory) LatestFor(ctx context.Context, labourProfileID string) (*onboarding.StageHistoryEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+historyColumns+`
		 FROM stage_history
		 WHERE labour_profile_id = $1
		 ORDER BY seq DESC
		 LIMIT 1`,
		labourProfileID,
	)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latestFor scan: %w", err)
	}
	return e, nil
}

// HistoryFor returns all entries oldest-first.
func (s *PostgresHistory) HistoryFor(ctx context.Context, labourProfileID string) ([]onboarding.StageHistoryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+historyColumns+`
		 FROM stage_history
		 WHERE labour_profile_id = $1
		 ORDER BY seq ASC`,
		labourProfileID,
	)
	if err != nil {
		return nil, fmt.Errorf("historyFor query: %w", err)
	}
	defer rows.Close()

	entries := make([]onboarding.StageHistoryEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("historyFor scan: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Append applies one transition inside a transaction. A per-profile advisory
// lock is the serialization point: two concurrent appends for the same
// profile queue behind it, and the second one sees the first one's entry and
// fails the expected-latest check with ErrConcurrentModification.
func (s *PostgresHistory) Append(ctx context.Context, labourProfileID, expectedLatestID string, closeAttempt *onboarding.AttemptClose, entries []onboarding.StageHistoryEntry) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("append begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		labourProfileID,
	); err != nil {
		return fmt.Errorf("append lock: %w", err)
	}

	var latestID string
	err = tx.QueryRow(ctx,
		`SELECT id FROM stage_history
		 WHERE labour_profile_id = $1
		 ORDER BY seq DESC
		 LIMIT 1`,
		labourProfileID,
	).Scan(&latestID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("append read latest: %w", err)
	}
	if latestID != expectedLatestID {
		return onboarding.ErrConcurrentModification
	}

	if closeAttempt != nil {
		tag, err := tx.Exec(ctx,
			`UPDATE stage_history
			 SET status       = $1,
			     outcome      = $2,
			     notes        = $3,
			     evidence_refs = $4,
			     completed_at = $5
			 WHERE id = $6 AND status = 'PENDING'`,
			string(closeAttempt.Status), string(closeAttempt.Outcome),
			closeAttempt.Notes, refsOrEmpty(closeAttempt.EvidenceRefs),
			closeAttempt.ClosedAt, closeAttempt.AttemptID,
		)
		if err != nil {
			return fmt.Errorf("append close attempt: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return onboarding.ErrConcurrentModification
		}
	}

	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		var outcome *string
		if e.Outcome != "" {
			o := string(e.Outcome)
			outcome = &o
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO stage_history
			   (id, labour_profile_id, stage, status, outcome, notes,
			    evidence_refs, travel_date, created_at, completed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			e.ID, labourProfileID, string(e.Stage), string(e.Status), outcome,
			e.Notes, refsOrEmpty(e.EvidenceRefs), e.TravelDate, e.CreatedAt, e.CompletedAt,
		); err != nil {
			return fmt.Errorf("append insert: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// PendingOlderThan returns stale PENDING attempts for the reminder sweep.
func (s *PostgresHistory) PendingOlderThan(ctx context.Context, cutoff time.Time) ([]onboarding.StageHistoryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+historyColumns+`
		 FROM stage_history
		 WHERE status = 'PENDING' AND created_at < $1
		 ORDER BY created_at ASC`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("pendingOlderThan query: %w", err)
	}
	defer rows.Close()

	entries := make([]onboarding.StageHistoryEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("pendingOlderThan scan: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// ─── Assignments ─────────────────────────────────────────────────────────────

// PostgresAssignments is the production onboarding.AssignmentRepo, backed by
// the assignments table owned by the main application database.
type PostgresAssignments struct {
	pool *pgxpool.Pool
}

// NewPostgresAssignments returns a PostgresAssignments on pool.
func NewPostgresAssignments(pool *pgxpool.Pool) *PostgresAssignments {
	return &PostgresAssignments{pool: pool}
}

// docColumns maps a document kind to its assignments column. DocAdditional
// lives in the additional_doc_refs array instead.
var docColumns = map[catalog.DocKind]string{
	catalog.DocSignedOfferLetter:  "signed_offer_letter_ref",
	catalog.DocVisa:               "visa_ref",
	catalog.DocFlightTicket:       "flight_ticket_ref",
	catalog.DocMedicalCertificate: "medical_certificate_ref",
	catalog.DocPoliceClearance:    "police_clearance_ref",
	catalog.DocEmploymentContract: "employment_contract_ref",
}

const assignmentColumns = `id, labour_profile_id, job_role_id, agency_id,
       working_hours, working_days, leave_salary, end_of_service, probation_period,
       COALESCE(signed_offer_letter_ref, ''), COALESCE(visa_ref, ''),
       COALESCE(flight_ticket_ref, ''), COALESCE(medical_certificate_ref, ''),
       COALESCE(police_clearance_ref, ''), COALESCE(employment_contract_ref, ''),
       additional_doc_refs, travel_date, created_at, updated_at`

func scanAssignment(row pgx.Row) (*onboarding.Assignment, error) {
	var (
		a     onboarding.Assignment
		terms [5]*string
		docs  [6]string
	)
	if err := row.Scan(
		&a.ID, &a.LabourProfileID, &a.JobRoleID, &a.AgencyID,
		&terms[0], &terms[1], &terms[2], &terms[3], &terms[4],
		&docs[0], &docs[1], &docs[2], &docs[3], &docs[4], &docs[5],
		&a.AdditionalDocRefs, &a.TravelDate, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if terms[0] != nil || terms[1] != nil || terms[2] != nil || terms[3] != nil || terms[4] != nil {
		a.OfferDetails = &onboarding.OfferLetterDetails{
			WorkingHours:    deref(terms[0]),
			WorkingDays:     deref(terms[1]),
			LeaveSalary:     deref(terms[2]),
			EndOfService:    deref(terms[3]),
			ProbationPeriod: deref(terms[4]),
		}
	}

	a.Documents = make(map[catalog.DocKind]string, len(docColumns))
	for i, kind := range []catalog.DocKind{
		catalog.DocSignedOfferLetter, catalog.DocVisa, catalog.DocFlightTicket,
		catalog.DocMedicalCertificate, catalog.DocPoliceClearance, catalog.DocEmploymentContract,
	} {
		if docs[i] != "" {
			a.Documents[kind] = docs[i]
		}
	}
	return &a, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (s *PostgresAssignments) Get(ctx context.Context, assignmentID string) (*onboarding.Assignment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`,
		assignmentID,
	)
	a, err := scanAssignment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, onboarding.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("assignment get: %w", err)
	}
	return a, nil
}

func (s *PostgresAssignments) ForLabourProfile(ctx context.Context, labourProfileID string) (*onboarding.Assignment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+assignmentColumns+`
		 FROM assignments
		 WHERE labour_profile_id = $1 AND is_active
		 ORDER BY created_at DESC
		 LIMIT 1`,
		labourProfileID,
	)
	a, err := scanAssignment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, onboarding.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("assignment forLabourProfile: %w", err)
	}
	return a, nil
}

func (s *PostgresAssignments) AttachDocument(ctx context.Context, assignmentID string, kind catalog.DocKind, ref string) error {
	if kind == catalog.DocAdditional {
		tag, err := s.pool.Exec(ctx,
			`UPDATE assignments
			 SET additional_doc_refs = array_append(additional_doc_refs, $1),
			     updated_at = NOW()
			 WHERE id = $2`,
			ref, assignmentID,
		)
		if err != nil {
			return fmt.Errorf("attach additional document: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return onboarding.ErrNotFound
		}
		return nil
	}

	col, ok := docColumns[kind]
	if !ok {
		return fmt.Errorf("unknown document kind %q", kind)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE assignments SET `+col+` = $1, updated_at = NOW() WHERE id = $2`,
		ref, assignmentID,
	)
	if err != nil {
		return fmt.Errorf("attach document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return onboarding.ErrNotFound
	}
	return nil
}

func (s *PostgresAssignments) SetTravelDate(ctx context.Context, assignmentID string, d time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE assignments SET travel_date = $1, updated_at = NOW() WHERE id = $2`,
		d, assignmentID,
	)
	if err != nil {
		return fmt.Errorf("set travel date: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return onboarding.ErrNotFound
	}
	return nil
}

func (s *PostgresAssignments) TravelingBefore(ctx context.Context, t time.Time) ([]onboarding.Assignment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+assignmentColumns+`
		 FROM assignments
		 WHERE travel_date IS NOT NULL
		   AND travel_date < $1
		   AND travel_date >= NOW()
		 ORDER BY travel_date ASC`,
		t,
	)
	if err != nil {
		return nil, fmt.Errorf("travelingBefore query: %w", err)
	}
	defer rows.Close()

	out := make([]onboarding.Assignment, 0)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("travelingBefore scan: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
