package onboarding_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laborflow/onboarding-service/internal/catalog"
	"laborflow/onboarding-service/internal/onboarding"
)

// redisFixture is newFixture with a real client against an in-process redis,
// so event publishing and projection caching are observable.
type redisFixture struct {
	*fixture
	mr  *miniredis.Miniredis
	rdb *redis.Client
}

func newRedisFixture(t *testing.T) *redisFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFixture(t)
	f.svc = onboarding.NewService(f.history, f.assignments, onboarding.NewGate(nil), rdb)
	return &redisFixture{fixture: f, mr: mr, rdb: rdb}
}

func TestRequestTransition_PublishesStageChangedEvent(t *testing.T) {
	f := newRedisFixture(t)
	ctx := context.Background()

	sub := f.rdb.Subscribe(ctx, "EVENT_STAGE_CHANGED")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err, "subscription must be live before the transition")

	f.transition(t, catalog.StageOfferLetterSign, catalog.OutcomeCompleted)

	recvCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(recvCtx)
	require.NoError(t, err)

	var event map[string]string
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
	assert.Equal(t, "EVENT_STAGE_CHANGED", event["type"])
	assert.Equal(t, profileID, event["labourProfileId"])
	assert.Equal(t, string(catalog.StageOfferLetterSign), event["from"])
	assert.Equal(t, string(catalog.StageVisaApplying), event["to"])
	assert.Equal(t, string(catalog.OutcomeCompleted), event["outcome"])
}

func TestProjection_CachesAndInvalidatesOnTransition(t *testing.T) {
	f := newRedisFixture(t)
	ctx := context.Background()

	view, err := f.svc.Projection(ctx, "asg-1")
	require.NoError(t, err)
	assert.Equal(t, catalog.StageOfferLetterSign, view.CurrentStage)
	assert.True(t, f.mr.Exists("projection:assignment:asg-1"))

	// A write the projection never saw: the cached view keeps serving it
	// until something invalidates the key.
	require.NoError(t, f.assignments.AttachDocument(ctx, "asg-1", catalog.DocMedicalCertificate, "doc://medical.pdf"))
	cached, err := f.svc.Projection(ctx, "asg-1")
	require.NoError(t, err)
	assert.Len(t, cached.Documents, len(view.Documents))

	// An accepted transition drops the key and the next read recomputes.
	f.transition(t, catalog.StageOfferLetterSign, catalog.OutcomeCompleted)
	assert.False(t, f.mr.Exists("projection:assignment:asg-1"))

	fresh, err := f.svc.Projection(ctx, "asg-1")
	require.NoError(t, err)
	assert.Equal(t, catalog.StageVisaApplying, fresh.CurrentStage)
	assert.Len(t, fresh.Documents, len(view.Documents)+1)
}

func TestProjection_SurvivesRedisOutage(t *testing.T) {
	f := newRedisFixture(t)
	f.mr.Close()

	// Cache read and write both fail; the projection still computes.
	view, err := f.svc.Projection(context.Background(), "asg-1")
	require.NoError(t, err)
	assert.Equal(t, catalog.StageOfferLetterSign, view.CurrentStage)
}
