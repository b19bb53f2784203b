package onboarding

import (
	"context"
	"errors"
	"time"

	"laborflow/onboarding-service/internal/catalog"
)

// ErrConcurrentModification is returned by HistoryStore.Append when the
// profile's history changed between the engine's read and its write. The
// caller must refresh state and retry the whole request.
var ErrConcurrentModification = errors.New("stage history changed concurrently")

// AttemptClose terminalizes the profile's in-flight PENDING attempt as part
// of an Append. The store rejects the whole Append if the row is no longer
// PENDING.
type AttemptClose struct {
	AttemptID    string
	Status       AttemptStatus // COMPLETED or FAILED
	Outcome      catalog.Outcome
	Notes        string
	EvidenceRefs []string
	ClosedAt     time.Time
}

// HistoryStore is the append-only record of stage attempts. Implementations
// must make Append atomic per labour profile: the expected-latest check, the
// optional attempt close and the inserts succeed or fail together, so two
// concurrent transitions for the same profile cannot both advance past the
// same stage. Operations on different profiles never serialize against each
// other.
type HistoryStore interface {
	// LatestFor returns the most recent entry, or nil when the profile has
	// no history yet.
	LatestFor(ctx context.Context, labourProfileID string) (*StageHistoryEntry, error)

	// HistoryFor returns all entries oldest-first.
	HistoryFor(ctx context.Context, labourProfileID string) ([]StageHistoryEntry, error)

	// Append atomically applies one transition: it verifies the latest entry
	// id still equals expectedLatestID ("" for an empty history), closes the
	// pending attempt if closeAttempt is non-nil, and inserts entries in
	// order. Returns ErrConcurrentModification when the expectation fails.
	Append(ctx context.Context, labourProfileID, expectedLatestID string, closeAttempt *AttemptClose, entries []StageHistoryEntry) error

	// PendingOlderThan returns PENDING entries created before cutoff, for
	// the staleness sweep.
	PendingOlderThan(ctx context.Context, cutoff time.Time) ([]StageHistoryEntry, error)
}

// AssignmentRepo provides the placement records that own documents and
// travel data. Backed by the main application database; the engine only
// reads and attaches evidence.
type AssignmentRepo interface {
	Get(ctx context.Context, assignmentID string) (*Assignment, error)

	// ForLabourProfile returns the profile's active assignment.
	ForLabourProfile(ctx context.Context, labourProfileID string) (*Assignment, error)

	// AttachDocument stores a new document reference on the assignment.
	// DocAdditional kinds append to the ordered additional list; every other
	// kind replaces the previous reference.
	AttachDocument(ctx context.Context, assignmentID string, kind catalog.DocKind, ref string) error

	// SetTravelDate updates the assignment's travel date.
	SetTravelDate(ctx context.Context, assignmentID string, d time.Time) error

	// TravelingBefore returns assignments whose travel date falls before t
	// and is not in the past, for the travel-reminder sweep.
	TravelingBefore(ctx context.Context, t time.Time) ([]Assignment, error)
}

// DocumentInfo is the metadata a document store resolves for a reference.
type DocumentInfo struct {
	Ref         string
	ContentType string
	Size        int64
	UploadedAt  time.Time
}

// DocumentStore resolves uploaded-document references. Upload itself happens
// upstream; the gate only needs to know a supplied reference actually
// exists. A transport/availability failure here is surfaced as
// EVIDENCE_STORE_UNAVAILABLE, never as MISSING_EVIDENCE.
type DocumentStore interface {
	Stat(ctx context.Context, ref string) (*DocumentInfo, error)
}

// ErrDocumentNotFound is returned by DocumentStore.Stat for a reference that
// does not resolve. Any other Stat error means the store is unreachable.
var ErrDocumentNotFound = errors.New("document reference not found")
