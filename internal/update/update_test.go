package update

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsule-memory/capsule/internal/pii"
	"github.com/capsule-memory/capsule/internal/store"
	"github.com/capsule-memory/capsule/pkg/models"
)

func testTenancy() models.Tenancy {
	return models.Tenancy{OrgID: "org-1", ProjectID: "proj-1", SubjectID: "subj-1"}
}

func newTestPipeline() (*Pipeline, *store.InMemoryStore) {
	s := store.NewInMemoryStore("")
	return &Pipeline{Store: s, GraphJobs: s, Keys: pii.NewKeyProvider("test-secret")}, s
}

func seedMemory(t *testing.T, s *store.InMemoryStore, m *models.Memory) {
	t.Helper()
	require.NoError(t, s.CreateMemory(context.Background(), m))
}

func TestUpdateNoOpReturnsExplanation(t *testing.T) {
	p, s := newTestPipeline()
	ten := testTenancy()
	seedMemory(t, s, &models.Memory{ID: "m1", Tenancy: ten, Content: "hi", CreatedAt: time.Now(), UpdatedAt: time.Now()})

	result, err := p.Update(context.Background(), Request{Tenancy: ten, ID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, "No changes applied.", result.Explanation)
}

func TestUpdateAppendsProvenance(t *testing.T) {
	p, s := newTestPipeline()
	ten := testTenancy()
	seedMemory(t, s, &models.Memory{ID: "m1", Tenancy: ten, Content: "hi", CreatedAt: time.Now(), UpdatedAt: time.Now()})

	newContent := "updated content"
	result, err := p.Update(context.Background(), Request{Tenancy: ten, ID: "m1", Content: &newContent, Actor: "subj-1"})
	require.NoError(t, err)
	assert.Equal(t, newContent, result.Memory.Content)
	require.Len(t, result.Memory.Provenance, 1)
	assert.Equal(t, "updated", result.Memory.Provenance[0].Event)
}

func TestUpdateRejectsWideningVisibilityWithSensitivePII(t *testing.T) {
	p, s := newTestPipeline()
	ten := testTenancy()
	env, err := p.Keys.EncryptFlags(map[string]bool{"email": true}, "")
	require.NoError(t, err)
	seedMemory(t, s, &models.Memory{ID: "m1", Tenancy: ten, PII: env, ACL: models.ACL{Visibility: "private"}, CreatedAt: time.Now(), UpdatedAt: time.Now()})

	_, err = p.Update(context.Background(), Request{Tenancy: ten, ID: "m1", ACL: &models.ACL{Visibility: "public"}})
	require.Error(t, err)
}

func TestUpdateAllowsWideningVisibilityWithNonSensitivePII(t *testing.T) {
	p, s := newTestPipeline()
	ten := testTenancy()
	env, err := p.Keys.EncryptFlags(map[string]bool{"email": false}, "")
	require.NoError(t, err)
	seedMemory(t, s, &models.Memory{ID: "m1", Tenancy: ten, PII: env, ACL: models.ACL{Visibility: "private"}, CreatedAt: time.Now(), UpdatedAt: time.Now()})

	result, err := p.Update(context.Background(), Request{Tenancy: ten, ID: "m1", ACL: &models.ACL{Visibility: "public"}})
	require.NoError(t, err)
	assert.Equal(t, "public", result.Memory.ACL.Visibility)
}

func TestUpdateRejectsSettingSensitivePIIWhileNonPrivate(t *testing.T) {
	p, s := newTestPipeline()
	ten := testTenancy()
	seedMemory(t, s, &models.Memory{ID: "m1", Tenancy: ten, ACL: models.ACL{Visibility: "public"}, CreatedAt: time.Now(), UpdatedAt: time.Now()})

	_, err := p.Update(context.Background(), Request{Tenancy: ten, ID: "m1", PIIFlags: map[string]bool{"email": true}})
	require.Error(t, err)
}

func TestUpdateAllowsSettingNonSensitivePIIFlags(t *testing.T) {
	p, s := newTestPipeline()
	ten := testTenancy()
	seedMemory(t, s, &models.Memory{ID: "m1", Tenancy: ten, ACL: models.ACL{Visibility: "public"}, CreatedAt: time.Now(), UpdatedAt: time.Now()})

	result, err := p.Update(context.Background(), Request{Tenancy: ten, ID: "m1", PIIFlags: map[string]bool{"email": false}})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"email": false}, result.Memory.PIIFlags)
	assert.Nil(t, result.Memory.PII)
}

func TestUpdateSettingSensitivePIIWhilePrivateEncrypts(t *testing.T) {
	p, s := newTestPipeline()
	ten := testTenancy()
	seedMemory(t, s, &models.Memory{ID: "m1", Tenancy: ten, ACL: models.ACL{Visibility: "private"}, CreatedAt: time.Now(), UpdatedAt: time.Now()})

	result, err := p.Update(context.Background(), Request{Tenancy: ten, ID: "m1", PIIFlags: map[string]bool{"email": true}})
	require.NoError(t, err)
	require.NotNil(t, result.Memory.PII)
	assert.Nil(t, result.Memory.PIIFlags)
}

func TestUpdateSettingTTLOnProtectedIsDropped(t *testing.T) {
	p, s := newTestPipeline()
	ten := testTenancy()
	seedMemory(t, s, &models.Memory{ID: "m1", Tenancy: ten, Retention: models.RetentionPermanent, CreatedAt: time.Now(), UpdatedAt: time.Now()})

	ttl := 3600
	result, err := p.Update(context.Background(), Request{Tenancy: ten, ID: "m1", TTLSeconds: &ttl})
	require.NoError(t, err)
	assert.Nil(t, result.Memory.TTLSeconds)
	assert.Equal(t, models.RetentionPermanent, result.Memory.Retention)
}

func TestUpdateGraphEnrichTransitionEnqueuesJob(t *testing.T) {
	p, s := newTestPipeline()
	ten := testTenancy()
	seedMemory(t, s, &models.Memory{ID: "m1", Tenancy: ten, GraphEnrich: false, CreatedAt: time.Now(), UpdatedAt: time.Now()})

	enrich := true
	result, err := p.Update(context.Background(), Request{Tenancy: ten, ID: "m1", GraphEnrich: &enrich})
	require.NoError(t, err)
	assert.Contains(t, result.Explanation, "graph enrichment enqueued")

	job, err := s.ClaimNextGraphJob(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "m1", job.MemoryID)
}
