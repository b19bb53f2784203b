package onboarding_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laborflow/onboarding-service/internal/catalog"
	"laborflow/onboarding-service/internal/onboarding"
	"laborflow/onboarding-service/internal/store"
)

const profileID = "b8f1c9c2-0000-4000-8000-000000000001"

// fixture wires a Service to in-memory stores with a fully-documented
// assignment, so evidence gates pass unless a test removes something.
type fixture struct {
	svc         *onboarding.Service
	history     *store.MemoryHistory
	assignments *store.MemoryAssignments
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	history := store.NewMemoryHistory()
	assignments := store.NewMemoryAssignments()

	travel := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	assignments.Put(&onboarding.Assignment{
		ID:              "asg-1",
		LabourProfileID: profileID,
		JobRoleID:       "role-1",
		AgencyID:        "agency-1",
		OfferDetails:    completeOffer(),
		Documents: map[catalog.DocKind]string{
			catalog.DocSignedOfferLetter:  "doc://offer.pdf",
			catalog.DocVisa:               "doc://visa.pdf",
			catalog.DocFlightTicket:       "doc://ticket.pdf",
			catalog.DocEmploymentContract: "doc://contract.pdf",
		},
		TravelDate: &travel,
	})

	svc := onboarding.NewService(history, assignments, onboarding.NewGate(nil), nil)
	return &fixture{svc: svc, history: history, assignments: assignments}
}

func (f *fixture) transition(t *testing.T, stage catalog.Stage, outcome catalog.Outcome) *onboarding.TransitionResult {
	t.Helper()
	res, err := f.svc.RequestTransition(context.Background(), profileID, stage, outcome, onboarding.Evidence{}, "")
	require.NoError(t, err, "transition %s/%s", stage, outcome)
	return res
}

func requireCode(t *testing.T, err error, code onboarding.ErrorCode) *onboarding.TransitionError {
	t.Helper()
	var te *onboarding.TransitionError
	require.ErrorAs(t, err, &te)
	require.Equal(t, code, te.Code)
	return te
}

// happyPath is the outcome per stage that advances the pipeline.
var happyPath = []struct {
	stage   catalog.Stage
	outcome catalog.Outcome
}{
	{catalog.StageOfferLetterSign, catalog.OutcomeCompleted},
	{catalog.StageVisaApplying, catalog.OutcomeCompleted},
	{catalog.StageQVCPayment, catalog.OutcomeCompleted},
	{catalog.StageContractSign, catalog.OutcomeApprove},
	{catalog.StageMedicalStatus, catalog.OutcomeFit},
	{catalog.StageFingerprint, catalog.OutcomePass},
	{catalog.StageVisaPrinting, catalog.OutcomeCompleted},
	{catalog.StageReadyToTravel, catalog.OutcomeCompleted},
	{catalog.StageTravelConfirmation, catalog.OutcomeTraveled},
	{catalog.StageArrivalConfirmation, catalog.OutcomeCompleted},
}

// advance runs the happy path up to (excluding) stop.
func (f *fixture) advanceTo(t *testing.T, stop catalog.Stage) {
	t.Helper()
	for _, step := range happyPath {
		if step.stage == stop {
			return
		}
		f.transition(t, step.stage, step.outcome)
	}
}

// ── Full pipeline ──────────────────────────────────────────────────────────

func TestRequestTransition_FullPipelineInTenTransitions(t *testing.T) {
	f := newFixture(t)

	var last *onboarding.TransitionResult
	for _, step := range happyPath {
		last = f.transition(t, step.stage, step.outcome)
	}

	assert.Equal(t, catalog.StageDeployed, last.CurrentStage)

	stage, err := f.svc.CurrentStage(context.Background(), profileID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StageDeployed, stage)

	// History covers all 11 stages and ends with the terminal record.
	final := last.History[len(last.History)-1]
	assert.Equal(t, catalog.StageDeployed, final.Stage)
	assert.Equal(t, onboarding.AttemptCompleted, final.Status)
}

func TestRequestTransition_HistoryIsMonotonic(t *testing.T) {
	f := newFixture(t)
	for _, step := range happyPath {
		f.transition(t, step.stage, step.outcome)
	}

	hist, err := f.svc.HistoryFor(context.Background(), profileID)
	require.NoError(t, err)

	prev := -1
	for _, e := range hist {
		ord := catalog.Ordinal(e.Stage)
		assert.GreaterOrEqual(t, ord, prev, "entry %s out of order", e.Stage)
		prev = ord
	}
}

func TestRequestTransition_NothingSucceedsAfterDeployed(t *testing.T) {
	f := newFixture(t)
	for _, step := range happyPath {
		f.transition(t, step.stage, step.outcome)
	}

	for _, stage := range catalog.Stages() {
		_, err := f.svc.RequestTransition(context.Background(), profileID, stage, catalog.OutcomeCompleted, onboarding.Evidence{}, "")
		requireCode(t, err, onboarding.CodeOutOfOrder)
	}
}

// ── Ordering ───────────────────────────────────────────────────────────────

func TestRequestTransition_SkippingIsOutOfOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RequestTransition(context.Background(), profileID, catalog.StageVisaApplying, catalog.OutcomeCompleted, onboarding.Evidence{}, "")
	requireCode(t, err, onboarding.CodeOutOfOrder)
}

func TestRequestTransition_ReplayingACompletedStageIsOutOfOrder(t *testing.T) {
	f := newFixture(t)
	f.transition(t, catalog.StageOfferLetterSign, catalog.OutcomeCompleted)

	_, err := f.svc.RequestTransition(context.Background(), profileID, catalog.StageOfferLetterSign, catalog.OutcomeCompleted, onboarding.Evidence{}, "")
	requireCode(t, err, onboarding.CodeOutOfOrder)
}

func TestRequestTransition_RejectionPersistsNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RequestTransition(context.Background(), profileID, catalog.StageDeployed, catalog.OutcomeCompleted, onboarding.Evidence{}, "")
	requireCode(t, err, onboarding.CodeOutOfOrder)

	hist, err := f.svc.HistoryFor(context.Background(), profileID)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

// ── Outcome validation ─────────────────────────────────────────────────────

func TestRequestTransition_InvalidOutcomeForStage(t *testing.T) {
	f := newFixture(t)
	f.advanceTo(t, catalog.StageMedicalStatus)

	// COMPLETED is not a medical outcome; FIT/UNFIT are.
	_, err := f.svc.RequestTransition(context.Background(), profileID, catalog.StageMedicalStatus, catalog.OutcomeCompleted, onboarding.Evidence{}, "")
	requireCode(t, err, onboarding.CodeInvalidOutcome)
}

// ── Evidence ───────────────────────────────────────────────────────────────

func TestRequestTransition_OfferLetterWithoutEvidence(t *testing.T) {
	history := store.NewMemoryHistory()
	assignments := store.NewMemoryAssignments()
	// Assignment with neither offer details nor a signed letter.
	assignments.Put(&onboarding.Assignment{ID: "asg-bare", LabourProfileID: profileID})
	svc := onboarding.NewService(history, assignments, onboarding.NewGate(nil), nil)

	_, err := svc.RequestTransition(context.Background(), profileID, catalog.StageOfferLetterSign, catalog.OutcomeCompleted, onboarding.Evidence{}, "")
	te := requireCode(t, err, onboarding.CodeMissingEvidence)
	assert.Contains(t, te.Missing, string(catalog.DocSignedOfferLetter))
	assert.Contains(t, te.Missing, "workingHours")

	hist, err := svc.HistoryFor(context.Background(), profileID)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestRequestTransition_AttachesSuppliedEvidence(t *testing.T) {
	f := newFixture(t)
	f.advanceTo(t, catalog.StageVisaApplying)

	ev := onboarding.Evidence{Documents: []onboarding.DocumentRef{
		{Kind: catalog.DocVisa, Ref: "doc://visa-v2.pdf"},
	}}
	_, err := f.svc.RequestTransition(context.Background(), profileID, catalog.StageVisaApplying, catalog.OutcomeCompleted, ev, "")
	require.NoError(t, err)

	asg, err := f.assignments.Get(context.Background(), "asg-1")
	require.NoError(t, err)
	assert.Equal(t, "doc://visa-v2.pdf", asg.Documents[catalog.DocVisa])
}

// ── Failing outcomes hold the stage ────────────────────────────────────────

func TestRequestTransition_UnfitMedicalFailsInPlace(t *testing.T) {
	f := newFixture(t)
	f.advanceTo(t, catalog.StageMedicalStatus)

	res, err := f.svc.RequestTransition(context.Background(), profileID, catalog.StageMedicalStatus, catalog.OutcomeUnfit, onboarding.Evidence{}, "low blood pressure")
	require.NoError(t, err)

	assert.Equal(t, catalog.StageMedicalStatus, res.CurrentStage)
	last := res.History[len(res.History)-1]
	assert.Equal(t, catalog.StageMedicalStatus, last.Stage)
	assert.Equal(t, onboarding.AttemptFailed, last.Status)
	assert.Equal(t, catalog.OutcomeUnfit, last.Outcome)
	assert.Equal(t, "low blood pressure", last.Notes)
}

func TestRequestTransition_FailInPlaceAcrossStages(t *testing.T) {
	cases := []struct {
		stage   catalog.Stage
		outcome catalog.Outcome
	}{
		{catalog.StageContractSign, catalog.OutcomeRefuse},
		{catalog.StageMedicalStatus, catalog.OutcomeUnfit},
		{catalog.StageFingerprint, catalog.OutcomeFail},
		{catalog.StageTravelConfirmation, catalog.OutcomeCanceled},
	}
	for _, c := range cases {
		f := newFixture(t)
		f.advanceTo(t, c.stage)

		res, err := f.svc.RequestTransition(context.Background(), profileID, c.stage, c.outcome, onboarding.Evidence{}, "")
		require.NoError(t, err, "%s/%s", c.stage, c.outcome)
		assert.Equal(t, c.stage, res.CurrentStage, "%s/%s should not advance", c.stage, c.outcome)
	}
}

func TestRequestTransition_FailedStageBlocksUntilReattempt(t *testing.T) {
	f := newFixture(t)
	f.advanceTo(t, catalog.StageContractSign)
	f.transition(t, catalog.StageContractSign, catalog.OutcomeRefuse)

	// The pipeline holds at CONTRACT_SIGN; the next stage is out of order.
	_, err := f.svc.RequestTransition(context.Background(), profileID, catalog.StageMedicalStatus, catalog.OutcomeFit, onboarding.Evidence{}, "")
	requireCode(t, err, onboarding.CodeOutOfOrder)

	// Remediation opens a fresh PENDING attempt at the same stage.
	res, err := f.svc.Reattempt(context.Background(), profileID, "terms renegotiated")
	require.NoError(t, err)
	assert.Equal(t, catalog.StageContractSign, res.CurrentStage)
	last := res.History[len(res.History)-1]
	assert.Equal(t, onboarding.AttemptPending, last.Status)

	// The reopened attempt can then be approved.
	res = f.transition(t, catalog.StageContractSign, catalog.OutcomeApprove)
	assert.Equal(t, catalog.StageMedicalStatus, res.CurrentStage)
}

func TestReattempt_RequiresAFailedAttempt(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Reattempt(context.Background(), profileID, "")
	requireCode(t, err, onboarding.CodeOutOfOrder)
}

// ── Travel reschedule ──────────────────────────────────────────────────────

func TestRequestTransition_RescheduledOpensNewPendingAttempt(t *testing.T) {
	f := newFixture(t)
	f.advanceTo(t, catalog.StageTravelConfirmation)

	newDate := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	ev := onboarding.Evidence{
		Documents:  []onboarding.DocumentRef{{Kind: catalog.DocFlightTicket, Ref: "doc://ticket-2.pdf"}},
		TravelDate: &newDate,
	}
	res, err := f.svc.RequestTransition(context.Background(), profileID, catalog.StageTravelConfirmation, catalog.OutcomeRescheduled, ev, "flight moved")
	require.NoError(t, err)

	assert.Equal(t, catalog.StageTravelConfirmation, res.CurrentStage)

	last := res.History[len(res.History)-1]
	prev := res.History[len(res.History)-2]
	assert.Equal(t, onboarding.AttemptCompleted, prev.Status)
	assert.Equal(t, catalog.OutcomeRescheduled, prev.Outcome)
	assert.Equal(t, onboarding.AttemptPending, last.Status)
	assert.Equal(t, catalog.StageTravelConfirmation, last.Stage)
	require.NotNil(t, last.TravelDate)
	assert.Equal(t, newDate, *last.TravelDate)

	// The new travel date lands on the assignment too.
	asg, err := f.assignments.Get(context.Background(), "asg-1")
	require.NoError(t, err)
	require.NotNil(t, asg.TravelDate)
	assert.Equal(t, newDate, *asg.TravelDate)

	// The reopened attempt closes with TRAVELED and the pipeline moves on.
	res = f.transition(t, catalog.StageTravelConfirmation, catalog.OutcomeTraveled)
	assert.Equal(t, catalog.StageArrivalConfirmation, res.CurrentStage)
}

func TestRequestTransition_RescheduleKeepsSinglePending(t *testing.T) {
	f := newFixture(t)
	f.advanceTo(t, catalog.StageTravelConfirmation)

	d1 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	for _, d := range []time.Time{d1, d2} {
		date := d
		ev := onboarding.Evidence{
			Documents:  []onboarding.DocumentRef{{Kind: catalog.DocFlightTicket, Ref: "doc://ticket.pdf"}},
			TravelDate: &date,
		}
		_, err := f.svc.RequestTransition(context.Background(), profileID, catalog.StageTravelConfirmation, catalog.OutcomeRescheduled, ev, "")
		require.NoError(t, err)
	}

	hist, err := f.svc.HistoryFor(context.Background(), profileID)
	require.NoError(t, err)
	pending := 0
	for _, e := range hist {
		if e.Status == onboarding.AttemptPending {
			pending++
		}
	}
	assert.Equal(t, 1, pending, "at most one PENDING entry per profile")
}

// ── Concurrency ────────────────────────────────────────────────────────────

// racingHistory injects a competing append between the engine's read and its
// write, modeling two operators acting on the same profile at once.
type racingHistory struct {
	*store.MemoryHistory
	raceOnce func()
}

func (r *racingHistory) Append(ctx context.Context, labourProfileID, expectedLatestID string, closeAttempt *onboarding.AttemptClose, entries []onboarding.StageHistoryEntry) error {
	if r.raceOnce != nil {
		race := r.raceOnce
		r.raceOnce = nil
		race()
	}
	return r.MemoryHistory.Append(ctx, labourProfileID, expectedLatestID, closeAttempt, entries)
}

func TestRequestTransition_ConcurrentModificationIsRejected(t *testing.T) {
	mem := store.NewMemoryHistory()
	assignments := store.NewMemoryAssignments()
	assignments.Put(&onboarding.Assignment{
		ID:              "asg-1",
		LabourProfileID: profileID,
		OfferDetails:    completeOffer(),
		Documents: map[catalog.DocKind]string{
			catalog.DocSignedOfferLetter: "doc://offer.pdf",
		},
	})

	racing := &racingHistory{MemoryHistory: mem}
	racing.raceOnce = func() {
		// A competing request lands first.
		err := mem.Append(context.Background(), profileID, "", nil, []onboarding.StageHistoryEntry{{
			ID:        "competing",
			Stage:     catalog.StageOfferLetterSign,
			Status:    onboarding.AttemptCompleted,
			Outcome:   catalog.OutcomeCompleted,
			CreatedAt: time.Now().UTC(),
		}})
		require.NoError(t, err)
	}

	svc := onboarding.NewService(racing, assignments, onboarding.NewGate(nil), nil)
	_, err := svc.RequestTransition(context.Background(), profileID, catalog.StageOfferLetterSign, catalog.OutcomeCompleted, onboarding.Evidence{}, "")
	requireCode(t, err, onboarding.CodeConcurrentModification)

	// Retrying with refreshed state does not double-apply: the stage is no
	// longer current.
	_, err = svc.RequestTransition(context.Background(), profileID, catalog.StageOfferLetterSign, catalog.OutcomeCompleted, onboarding.Evidence{}, "")
	requireCode(t, err, onboarding.CodeOutOfOrder)

	hist, err := svc.HistoryFor(context.Background(), profileID)
	require.NoError(t, err)
	assert.Len(t, hist, 1, "the losing request must persist nothing")
}

// ── Read side ──────────────────────────────────────────────────────────────

func TestCurrentStage_DefaultsToFirstStage(t *testing.T) {
	f := newFixture(t)

	stage, err := f.svc.CurrentStage(context.Background(), "never-seen-profile")
	require.NoError(t, err)
	assert.Equal(t, catalog.StageOfferLetterSign, stage)
}
