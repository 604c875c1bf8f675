package service

import (
	"context"
	"testing"

	"SyncHub/internal/interfaces"
	"SyncHub/internal/model"
	"SyncHub/internal/repository"
	"SyncHub/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var projectsToDeals = model.MappingRule{
	Name:      "projects_to_deals",
	Master:    model.EntityRef{Platform: model.PlatformProcore, Resource: "projects"},
	Secondary: model.EntityRef{Platform: model.PlatformHubSpot, Resource: "deals"},
	Fields: []model.FieldRule{
		{Master: "name", Secondary: "dealname"},
		{Master: "status"},
		{Master: "project_number", Mode: model.FieldModeBidirectional},
	},
}

func entity(platform model.PlatformType, resource, id, name string) *model.RemoteEntity {
	return &model.RemoteEntity{Platform: platform, Resource: resource, NativeID: id, Name: name, Fields: model.FieldMap{}}
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "oak street phase 2", normalizeName("  Oak-Street,  Phase #2 "))
	assert.Equal(t, "", normalizeName(" -- "))
}

func TestFindCandidates_ExactBeforePartial(t *testing.T) {
	a := []*model.RemoteEntity{
		entity("procore", "projects", "P1", "Oak Street"),
		entity("procore", "projects", "P2", "Oak Street Renovation"),
	}
	b := []*model.RemoteEntity{
		entity("hubspot", "deals", "D1", "Oak Street Renovation"),
		entity("hubspot", "deals", "D2", "oak street"),
	}

	got := FindCandidates(projectsToDeals, a, b)
	require.Len(t, got, 2)
	pairs := map[string]string{}
	types := map[string]string{}
	for _, m := range got {
		pairs[m.MasterID] = m.SecondaryID
		types[m.MasterID] = m.MatchType
	}
	// P1 的包含匹配会命中 D1，但 P2 的精确匹配优先占用 D1
	assert.Equal(t, "D2", pairs["P1"])
	assert.Equal(t, "D1", pairs["P2"])
	assert.Equal(t, model.MatchTypeExact, types["P1"])
	assert.Equal(t, model.MatchTypeExact, types["P2"])
}

func TestFindCandidates_PartialEitherDirectionAndSingleUse(t *testing.T) {
	a := []*model.RemoteEntity{
		entity("procore", "projects", "P1", "Maple Ave Clinic Expansion"),
		entity("procore", "projects", "P2", "Maple Ave Clinic"),
		entity("procore", "projects", "P3", "  "),
	}
	b := []*model.RemoteEntity{
		entity("hubspot", "deals", "D1", "Clinic"),
		entity("hubspot", "deals", "D2", ""),
	}

	got := FindCandidates(projectsToDeals, a, b)
	require.Len(t, got, 1)
	assert.Equal(t, "P1", got[0].MasterID)
	assert.Equal(t, "D1", got[0].SecondaryID)
	assert.Equal(t, model.MatchTypePartial, got[0].MatchType)
	assert.Equal(t, "procore", got[0].MasterPlatform)
	assert.Equal(t, "deals", got[0].SecondaryResource)
}

func TestFindCandidates_NoMatch(t *testing.T) {
	got := FindCandidates(projectsToDeals,
		[]*model.RemoteEntity{entity("procore", "projects", "P1", "Harbor Bridge")},
		[]*model.RemoteEntity{entity("hubspot", "deals", "D1", "Sunset Mall")})
	assert.Empty(t, got)
}

type matcherFixture struct {
	mirrors  repository.MirrorRepository
	mappings repository.MappingRepository
	audit    *testutil.MemoryAudit
	matcher  *Matcher
}

func newMatcherFixture(t *testing.T) *matcherFixture {
	db := testutil.NewDB(t)
	f := &matcherFixture{
		mirrors:  repository.NewMirrorRepository(db),
		mappings: repository.NewMappingRepository(db),
		audit:    &testutil.MemoryAudit{},
	}
	f.matcher = NewMatcher(f.mirrors, f.mappings, NewRuleSet([]model.MappingRule{projectsToDeals}), f.audit, testutil.NewLogger())
	return f
}

func (f *matcherFixture) mirror(t *testing.T, e *model.RemoteEntity) {
	row, err := model.NewEntityMirror(e)
	require.NoError(t, err)
	_, err = f.mirrors.Insert(context.Background(), row)
	require.NoError(t, err)
}

func TestMatcher_AutoMatchSkipsMapped(t *testing.T) {
	f := newMatcherFixture(t)
	ctx := context.Background()
	f.mirror(t, entity("procore", "projects", "P1", "Oak Street"))
	f.mirror(t, entity("procore", "projects", "P2", "Pine Tower"))
	f.mirror(t, entity("hubspot", "deals", "D1", "Oak Street"))
	f.mirror(t, entity("hubspot", "deals", "D2", "Elm Plaza"))

	// 人工关联的实体不再参与自动匹配
	_, err := f.matcher.ManualLink(ctx, projectsToDeals.Name, "P2", "D1")
	require.NoError(t, err)

	created, err := f.matcher.AutoMatch(ctx, projectsToDeals.Name)
	require.NoError(t, err)
	assert.Zero(t, created)

	list, err := f.mappings.List(ctx, projectsToDeals.Name)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.MatchTypeManual, list[0].MatchType)
	assert.Equal(t, "Pine Tower", list[0].MasterName)
	assert.Equal(t, "Oak Street", list[0].SecondaryName)

	unmatched, err := f.matcher.Unmatched(ctx, projectsToDeals.Name)
	require.NoError(t, err)
	require.Len(t, unmatched.Master, 1)
	assert.Equal(t, "P1", unmatched.Master[0].NativeID)
	require.Len(t, unmatched.Secondary, 1)
	assert.Equal(t, "D2", unmatched.Secondary[0].NativeID)
}

func TestMatcher_AutoMatchCreatesAndAudits(t *testing.T) {
	f := newMatcherFixture(t)
	ctx := context.Background()
	f.mirror(t, entity("procore", "projects", "P1", "Oak Street"))
	f.mirror(t, entity("hubspot", "deals", "D1", "OAK STREET"))

	created, err := f.matcher.AutoMatch(ctx, projectsToDeals.Name)
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Len(t, f.audit.Actions(ActionMappingCreated), 1)

	// 再次执行不重复创建
	created, err = f.matcher.AutoMatch(ctx, projectsToDeals.Name)
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestMatcher_ManualLinkReplacesExisting(t *testing.T) {
	f := newMatcherFixture(t)
	ctx := context.Background()
	f.mirror(t, entity("procore", "projects", "P1", "Oak Street"))
	f.mirror(t, entity("hubspot", "deals", "D1", "Oak Street"))

	_, err := f.matcher.AutoMatch(ctx, projectsToDeals.Name)
	require.NoError(t, err)

	// D9 尚未同步到镜像也允许关联
	m, err := f.matcher.ManualLink(ctx, projectsToDeals.Name, "P1", "D9")
	require.NoError(t, err)
	assert.Equal(t, model.MatchTypeManual, m.MatchType)
	assert.Empty(t, m.SecondaryName)

	list, err := f.mappings.List(ctx, projectsToDeals.Name)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "D9", list[0].SecondaryID)
	assert.Len(t, f.audit.Actions(ActionMappingLinked), 1)

	require.NoError(t, f.matcher.Unlink(ctx, list[0].ID))
	assert.Len(t, f.audit.Actions(ActionMappingUnlinked), 1)
	assert.ErrorIs(t, f.matcher.Unlink(ctx, list[0].ID), interfaces.ErrNotFound)
}

func TestMatcher_Errors(t *testing.T) {
	f := newMatcherFixture(t)
	ctx := context.Background()

	_, err := f.matcher.AutoMatch(ctx, "missing_rule")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	_, err = f.matcher.ManualLink(ctx, projectsToDeals.Name, "P1", "")
	assert.ErrorIs(t, err, interfaces.ErrMalformedPayload)
}
