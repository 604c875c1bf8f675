package service

import (
	"context"
	"errors"
	"testing"

	"SyncHub/internal/adapter"
	"SyncHub/internal/model"
	"SyncHub/internal/repository"
	"SyncHub/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reconcileFixture struct {
	mirrors    repository.MirrorRepository
	changes    repository.ChangeRepository
	mappings   repository.MappingRepository
	hubspot    *testutil.FakeAdapter
	audit      *testutil.MemoryAudit
	reconciler *Reconciler
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	db := testutil.NewDB(t)
	log := testutil.NewLogger()
	f := &reconcileFixture{
		mirrors:  repository.NewMirrorRepository(db),
		changes:  repository.NewChangeRepository(db),
		mappings: repository.NewMappingRepository(db),
		hubspot:  testutil.NewFakeAdapter(model.PlatformHubSpot, map[string][]string{"deals": {"dealname", "status", "project_number"}}),
		audit:    &testutil.MemoryAudit{},
	}
	registry := adapter.NewStaticRegistry(log, f.hubspot)
	f.reconciler = NewReconciler(f.mirrors, f.changes, f.mappings, registry, NewRuleSet([]model.MappingRule{projectsToDeals}), f.audit, log)
	return f
}

func (f *reconcileFixture) seed(t *testing.T, master, secondary model.FieldMap) *model.EntityMapping {
	ctx := context.Background()
	for _, e := range []*model.RemoteEntity{
		{Platform: model.PlatformProcore, Resource: "projects", NativeID: "P123", Name: "Oak Street", Fields: master},
		{Platform: model.PlatformHubSpot, Resource: "deals", NativeID: "D45", Name: "Oak Street", Fields: secondary},
	} {
		row, err := model.NewEntityMirror(e)
		require.NoError(t, err)
		_, err = f.mirrors.Insert(ctx, row)
		require.NoError(t, err)
	}
	f.hubspot.Put("deals", "D45", "Oak Street", secondary)

	m := &model.EntityMapping{
		Rule:              projectsToDeals.Name,
		MasterPlatform:    "procore",
		MasterResource:    "projects",
		MasterID:          "P123",
		SecondaryPlatform: "hubspot",
		SecondaryResource: "deals",
		SecondaryID:       "D45",
		MatchType:         model.MatchTypeExact,
	}
	ok, err := f.mappings.Create(ctx, m)
	require.NoError(t, err)
	require.True(t, ok)
	return m
}

func TestReconcile_MasterWinsWritesSecondary(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()
	m := f.seed(t,
		model.FieldMap{"name": sp("Oak Street"), "status": sp("closed")},
		model.FieldMap{"dealname": sp("Oak Street"), "status": sp("active")})

	got, err := f.reconciler.Reconcile(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusSuccess, got.LastSyncStatus)
	require.NotNil(t, got.LastSyncAt)

	md := got.GetMetadata()
	assert.Empty(t, md.Conflicts)
	assert.Equal(t, []string{"status"}, md.UpdatedFields)
	require.Len(t, md.Resolved, 1)
	assert.Equal(t, model.ResolutionMasterWins, md.Resolved[0].Resolution)
	assert.Equal(t, "closed", *md.Resolved[0].MasterValue)
	assert.Equal(t, "active", *md.Resolved[0].SecondaryValue)

	writes := f.hubspot.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "D45", writes[0].NativeID)
	assert.Equal(t, "status", writes[0].Field)
	assert.Equal(t, "closed", *writes[0].Value)

	// 从平台镜像同步更新并记录变更
	row, err := f.mirrors.Get(ctx, model.PlatformHubSpot, "deals", "D45")
	require.NoError(t, err)
	assert.Equal(t, "closed", model.Stringify(row.ToRemote().Fields.Get("status")))
	changes, err := f.changes.List(ctx, repository.ChangeFilter{EntityType: "hubspot.deals", NativeID: "D45"})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "status", *changes[0].FieldName)

	// 持久化后的映射一致
	stored, err := f.mappings.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusSuccess, stored.LastSyncStatus)
	assert.Equal(t, []string{"status"}, stored.GetMetadata().UpdatedFields)

	// 再次对齐：已无差异，不再回写
	got, err = f.reconciler.Reconcile(ctx, stored)
	require.NoError(t, err)
	assert.Empty(t, got.GetMetadata().UpdatedFields)
	assert.Len(t, f.hubspot.Writes(), 1)
}

func TestReconcile_WriteFailureIsPartial(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()
	f.hubspot.WriteErrs["status"] = errors.New("hubspot unavailable")
	m := f.seed(t,
		model.FieldMap{"name": sp("Oak Street Renovation"), "status": sp("closed")},
		model.FieldMap{"dealname": sp("Oak Street"), "status": sp("active")})

	got, err := f.reconciler.Reconcile(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusPartial, got.LastSyncStatus)

	md := got.GetMetadata()
	assert.Equal(t, []string{"dealname"}, md.UpdatedFields)
	require.Len(t, md.Conflicts, 1)
	assert.Equal(t, "status", md.Conflicts[0].Field)
	assert.Equal(t, model.ResolutionMasterWins, md.Conflicts[0].Resolution)
	assert.Contains(t, md.Conflicts[0].Error, "hubspot unavailable")

	row, err := f.mirrors.Get(ctx, model.PlatformHubSpot, "deals", "D45")
	require.NoError(t, err)
	assert.Equal(t, "active", model.Stringify(row.ToRemote().Fields.Get("status")))
	assert.Len(t, f.audit.Actions(ActionReconcile), 1)
}

func TestReconcile_BidirectionalKeepsBoth(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()
	m := f.seed(t,
		model.FieldMap{"name": sp("Oak Street"), "project_number": sp("1001")},
		model.FieldMap{"dealname": sp("Oak Street"), "project_number": sp("1001-A")})

	got, err := f.reconciler.Reconcile(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusSuccess, got.LastSyncStatus)

	md := got.GetMetadata()
	require.Len(t, md.Conflicts, 1)
	assert.Equal(t, model.ResolutionBothKept, md.Conflicts[0].Resolution)
	assert.Equal(t, "1001", *md.Conflicts[0].MasterValue)
	assert.Equal(t, "1001-A", *md.Conflicts[0].SecondaryValue)
	assert.Empty(t, md.UpdatedFields)
	assert.Empty(t, f.hubspot.Writes())
}

func TestReconcile_MissingMirror(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()
	m := &model.EntityMapping{
		Rule:              projectsToDeals.Name,
		MasterPlatform:    "procore",
		MasterResource:    "projects",
		MasterID:          "P404",
		SecondaryPlatform: "hubspot",
		SecondaryResource: "deals",
		SecondaryID:       "D404",
		MatchType:         model.MatchTypeManual,
	}
	_, err := f.mappings.Create(ctx, m)
	require.NoError(t, err)

	got, err := f.reconciler.Reconcile(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusError, got.LastSyncStatus)
	assert.Empty(t, got.GetMetadata().Conflicts)
}

func TestReconcileRule_Summary(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()
	f.seed(t,
		model.FieldMap{"name": sp("Oak Street"), "status": sp("closed")},
		model.FieldMap{"dealname": sp("Oak Street"), "status": sp("active")})

	summary, err := f.reconciler.ReconcileRule(ctx, projectsToDeals.Name)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Mappings)
	assert.Equal(t, 1, summary.Success)
	assert.Equal(t, 1, summary.Written)

	require.NoError(t, f.reconciler.ReconcileEntity(ctx, model.PlatformProcore, "projects", "P123"))
}
