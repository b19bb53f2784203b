// Package store provides the history and assignment store implementations:
// a PostgreSQL store for production and an in-memory store for tests and
// local development. Both enforce the same append-time guarantees.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"laborflow/onboarding-service/internal/catalog"
	"laborflow/onboarding-service/internal/onboarding"
)

// ─── History ─────────────────────────────────────────────────────────────────

// MemoryHistory is an in-memory onboarding.HistoryStore. Each labour profile
// has its own log and lock, so appends for different profiles never contend.
type MemoryHistory struct {
	logs sync.Map // labourProfileID → *profileLog
}

type profileLog struct {
	mu      sync.Mutex
	entries []onboarding.StageHistoryEntry
}

// NewMemoryHistory returns an empty MemoryHistory.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

func (m *MemoryHistory) log(labourProfileID string) *profileLog {
	l, _ := m.logs.LoadOrStore(labourProfileID, &profileLog{})
	return l.(*profileLog)
}

// LatestFor returns a copy of the most recent entry, or nil.
func (m *MemoryHistory) LatestFor(_ context.Context, labourProfileID string) (*onboarding.StageHistoryEntry, error) {
	l := m.log(labourProfileID)
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return nil, nil
	}
	e := l.entries[len(l.entries)-1]
	return &e, nil
}

// HistoryFor returns a copy of all entries oldest-first.
func (m *MemoryHistory) HistoryFor(_ context.Context, labourProfileID string) ([]onboarding.StageHistoryEntry, error) {
	l := m.log(labourProfileID)
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]onboarding.StageHistoryEntry, len(l.entries))
	copy(out, l.entries)
	return out, nil
}

// Append applies the expected-latest check, the optional attempt close and
// the inserts under the profile's lock, all-or-nothing.
func (m *MemoryHistory) Append(_ context.Context, labourProfileID, expectedLatestID string, closeAttempt *onboarding.AttemptClose, entries []onboarding.StageHistoryEntry) error {
	l := m.log(labourProfileID)
	l.mu.Lock()
	defer l.mu.Unlock()

	latestID := ""
	if len(l.entries) > 0 {
		latestID = l.entries[len(l.entries)-1].ID
	}
	if latestID != expectedLatestID {
		return onboarding.ErrConcurrentModification
	}

	if closeAttempt != nil {
		idx := -1
		for i := range l.entries {
			if l.entries[i].ID == closeAttempt.AttemptID {
				idx = i
				break
			}
		}
		if idx < 0 || l.entries[idx].Status != onboarding.AttemptPending {
			return onboarding.ErrConcurrentModification
		}
		closedAt := closeAttempt.ClosedAt
		l.entries[idx].Status = closeAttempt.Status
		l.entries[idx].Outcome = closeAttempt.Outcome
		l.entries[idx].Notes = closeAttempt.Notes
		l.entries[idx].EvidenceRefs = closeAttempt.EvidenceRefs
		l.entries[idx].CompletedAt = &closedAt
	}

	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.LabourProfileID == "" {
			e.LabourProfileID = labourProfileID
		}
		l.entries = append(l.entries, e)
	}
	return nil
}

// PendingOlderThan scans every profile log for stale PENDING attempts.
func (m *MemoryHistory) PendingOlderThan(_ context.Context, cutoff time.Time) ([]onboarding.StageHistoryEntry, error) {
	var out []onboarding.StageHistoryEntry
	m.logs.Range(func(_, v any) bool {
		l := v.(*profileLog)
		l.mu.Lock()
		for _, e := range l.entries {
			if e.Status == onboarding.AttemptPending && e.CreatedAt.Before(cutoff) {
				out = append(out, e)
			}
		}
		l.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ─── Assignments ─────────────────────────────────────────────────────────────

// MemoryAssignments is an in-memory onboarding.AssignmentRepo.
type MemoryAssignments struct {
	mu          sync.RWMutex
	byID        map[string]*onboarding.Assignment
	byProfileID map[string]string // labourProfileID → assignmentID
}

// NewMemoryAssignments returns an empty MemoryAssignments.
func NewMemoryAssignments() *MemoryAssignments {
	return &MemoryAssignments{
		byID:        make(map[string]*onboarding.Assignment),
		byProfileID: make(map[string]string),
	}
}

// Put seeds or replaces an assignment.
func (m *MemoryAssignments) Put(asg *onboarding.Assignment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *asg
	if cp.Documents == nil {
		cp.Documents = make(map[catalog.DocKind]string)
	}
	m.byID[cp.ID] = &cp
	m.byProfileID[cp.LabourProfileID] = cp.ID
}

func (m *MemoryAssignments) Get(_ context.Context, assignmentID string) (*onboarding.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	asg, ok := m.byID[assignmentID]
	if !ok {
		return nil, onboarding.ErrNotFound
	}
	cp := *asg
	return &cp, nil
}

func (m *MemoryAssignments) ForLabourProfile(_ context.Context, labourProfileID string) (*onboarding.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byProfileID[labourProfileID]
	if !ok {
		return nil, onboarding.ErrNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *MemoryAssignments) AttachDocument(_ context.Context, assignmentID string, kind catalog.DocKind, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	asg, ok := m.byID[assignmentID]
	if !ok {
		return onboarding.ErrNotFound
	}
	if kind == catalog.DocAdditional {
		asg.AdditionalDocRefs = append(asg.AdditionalDocRefs, ref)
	} else {
		asg.Documents[kind] = ref
	}
	asg.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryAssignments) SetTravelDate(_ context.Context, assignmentID string, d time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	asg, ok := m.byID[assignmentID]
	if !ok {
		return onboarding.ErrNotFound
	}
	asg.TravelDate = &d
	asg.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryAssignments) TravelingBefore(_ context.Context, t time.Time) ([]onboarding.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now().UTC()
	var out []onboarding.Assignment
	for _, asg := range m.byID {
		if asg.TravelDate != nil && asg.TravelDate.Before(t) && asg.TravelDate.After(now) {
			out = append(out, *asg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TravelDate.Before(*out[j].TravelDate) })
	return out, nil
}

// ─── Documents ───────────────────────────────────────────────────────────────

// MemoryDocuments is an in-memory onboarding.DocumentStore.
type MemoryDocuments struct {
	mu   sync.RWMutex
	docs map[string]onboarding.DocumentInfo
}

// NewMemoryDocuments returns an empty MemoryDocuments.
func NewMemoryDocuments() *MemoryDocuments {
	return &MemoryDocuments{docs: make(map[string]onboarding.DocumentInfo)}
}

// Put registers a reference as resolvable.
func (m *MemoryDocuments) Put(info onboarding.DocumentInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[info.Ref] = info
}

func (m *MemoryDocuments) Stat(_ context.Context, ref string) (*onboarding.DocumentInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.docs[ref]
	if !ok {
		return nil, onboarding.ErrDocumentNotFound
	}
	return &info, nil
}
