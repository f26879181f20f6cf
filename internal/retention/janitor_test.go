package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsule-memory/capsule/internal/store"
	"github.com/capsule-memory/capsule/pkg/models"
)

func testTenancy() models.Tenancy {
	return models.Tenancy{OrgID: "org-1", ProjectID: "proj-1", SubjectID: "subj-1"}
}

func TestResolveExplicitProvidedWins(t *testing.T) {
	c := Resolve(Classification{Provided: models.RetentionPermanent, Pinned: false})
	assert.Equal(t, models.RetentionPermanent, c)
}

func TestResolvePinnedIsIrreplaceable(t *testing.T) {
	c := Resolve(Classification{Pinned: true})
	assert.Equal(t, models.RetentionIrreplaceable, c)
}

func TestResolveShortTTLIsEphemeral(t *testing.T) {
	c := Resolve(Classification{TTLSeconds: 2 * 24 * 3600})
	assert.Equal(t, models.RetentionEphemeral, c)
}

func TestResolveDefaultIsReplaceable(t *testing.T) {
	c := Resolve(Classification{})
	assert.Equal(t, models.RetentionReplaceable, c)
}

func TestNormalizeTTLClearsForProtected(t *testing.T) {
	ttl := 100
	gotTTL, gotExpiry := NormalizeTTL(models.RetentionPermanent, &ttl, time.Now())
	assert.Nil(t, gotTTL)
	assert.Nil(t, gotExpiry)
}

func TestNormalizeTTLAppliesDefaultForEphemeral(t *testing.T) {
	gotTTL, gotExpiry := NormalizeTTL(models.RetentionEphemeral, nil, time.Now())
	require.NotNil(t, gotTTL)
	require.NotNil(t, gotExpiry)
	assert.Equal(t, int(defaultEphemeralTTL.Seconds()), *gotTTL)
}

func TestEnforceCapEvictsLowestPriorityOldest(t *testing.T) {
	s := store.NewInMemoryStore("")
	ctx := context.Background()
	ten := testTenancy()
	now := time.Now()

	require.NoError(t, s.CreateMemory(ctx, &models.Memory{ID: "m1", Tenancy: ten, Retention: models.RetentionReplaceable, CreatedAt: now}))
	require.NoError(t, s.CreateMemory(ctx, &models.Memory{ID: "m2", Tenancy: ten, Retention: models.RetentionReplaceable, CreatedAt: now.Add(time.Second)}))
	require.NoError(t, s.CreateMemory(ctx, &models.Memory{ID: "m3", Tenancy: ten, Retention: models.RetentionPermanent, CreatedAt: now.Add(2 * time.Second)}))

	evicted := EnforceCap(ctx, s, ten, 2)
	assert.Equal(t, "m1", evicted)

	count, err := s.CountMemories(ctx, ten)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestEnforceCapNoEvictionWhenUnderCap(t *testing.T) {
	s := store.NewInMemoryStore("")
	ctx := context.Background()
	ten := testTenancy()
	require.NoError(t, s.CreateMemory(ctx, &models.Memory{ID: "m1", Tenancy: ten, CreatedAt: time.Now()}))

	evicted := EnforceCap(ctx, s, ten, 10)
	assert.Empty(t, evicted)
}

func TestEnforceCapNoCandidateWhenAllProtected(t *testing.T) {
	s := store.NewInMemoryStore("")
	ctx := context.Background()
	ten := testTenancy()
	now := time.Now()
	require.NoError(t, s.CreateMemory(ctx, &models.Memory{ID: "m1", Tenancy: ten, Pinned: true, Retention: models.RetentionIrreplaceable, CreatedAt: now}))
	require.NoError(t, s.CreateMemory(ctx, &models.Memory{ID: "m2", Tenancy: ten, Retention: models.RetentionPermanent, CreatedAt: now.Add(time.Second)}))

	evicted := EnforceCap(ctx, s, ten, 1)
	assert.Empty(t, evicted)
}

func TestJanitorSweepPurgesExpiredMemories(t *testing.T) {
	s := store.NewInMemoryStore("")
	ctx := context.Background()
	ten := testTenancy()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	require.NoError(t, s.CreateMemory(ctx, &models.Memory{ID: "expired", Tenancy: ten, ExpiresAt: &past, CreatedAt: time.Now()}))
	require.NoError(t, s.CreateMemory(ctx, &models.Memory{ID: "fresh", Tenancy: ten, ExpiresAt: &future, CreatedAt: time.Now()}))

	j := NewJanitor(s, s, time.Minute)
	j.runCycle(ctx)

	_, err := s.GetMemory(ctx, ten, "expired")
	assert.Error(t, err)
	_, err = s.GetMemory(ctx, ten, "fresh")
	assert.NoError(t, err)
}
