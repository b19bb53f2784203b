package onboarding_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laborflow/onboarding-service/internal/catalog"
)

func TestProjection_ComposesDocumentsAndStages(t *testing.T) {
	f := newFixture(t)
	f.advanceTo(t, catalog.StageContractSign)

	view, err := f.svc.Projection(context.Background(), "asg-1")
	require.NoError(t, err)

	assert.Equal(t, "asg-1", view.AssignmentID)
	assert.Equal(t, profileID, view.LabourProfileID)
	assert.Equal(t, catalog.StageContractSign, view.CurrentStage)
	require.Len(t, view.Stages, 11)

	// Documents keep the fixed display order.
	require.NotEmpty(t, view.Documents)
	assert.Equal(t, catalog.DocSignedOfferLetter, view.Documents[0].Kind)

	byStage := make(map[catalog.Stage]string, len(view.Stages))
	for _, s := range view.Stages {
		byStage[s.Stage] = s.Status
	}
	assert.Equal(t, "COMPLETED", byStage[catalog.StageOfferLetterSign])
	assert.Equal(t, "COMPLETED", byStage[catalog.StageQVCPayment])
	assert.Equal(t, "NOT_STARTED", byStage[catalog.StageContractSign])
	assert.Equal(t, "NOT_STARTED", byStage[catalog.StageDeployed])
}

func TestProjection_CountsAttemptsAfterRemediation(t *testing.T) {
	f := newFixture(t)
	f.advanceTo(t, catalog.StageContractSign)
	f.transition(t, catalog.StageContractSign, catalog.OutcomeRefuse)

	view, err := f.svc.Projection(context.Background(), "asg-1")
	require.NoError(t, err)
	assert.Equal(t, catalog.StageContractSign, view.CurrentStage)

	_, err = f.svc.Reattempt(context.Background(), profileID, "renegotiated")
	require.NoError(t, err)
	f.transition(t, catalog.StageContractSign, catalog.OutcomeApprove)

	view, err = f.svc.Projection(context.Background(), "asg-1")
	require.NoError(t, err)
	assert.Equal(t, catalog.StageMedicalStatus, view.CurrentStage)

	for _, s := range view.Stages {
		if s.Stage != catalog.StageContractSign {
			continue
		}
		assert.Equal(t, "COMPLETED", s.Status)
		assert.Equal(t, 2, s.Attempts, "refused attempt plus approved reattempt")
	}
}
