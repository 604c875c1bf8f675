package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"SyncHub/internal/interfaces"
	"SyncHub/internal/model"
	"SyncHub/internal/repository"
	"SyncHub/internal/service"
	"SyncHub/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobs struct {
	jobs    map[string]service.JobStatus
	running map[string]bool
}

func newFakeJobs(names ...string) *fakeJobs {
	f := &fakeJobs{jobs: map[string]service.JobStatus{}, running: map[string]bool{}}
	for _, n := range names {
		f.jobs[n] = service.JobStatus{Name: n, IntervalMinutes: 15}
	}
	return f
}

func (f *fakeJobs) List() []service.JobStatus {
	out := make([]service.JobStatus, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out
}

func (f *fakeJobs) Status(name string) (service.JobStatus, error) {
	j, ok := f.jobs[name]
	if !ok {
		return service.JobStatus{}, fmt.Errorf("任务%s: %w", name, interfaces.ErrNotFound)
	}
	return j, nil
}

func (f *fakeJobs) Configure(_ context.Context, name string, enabled bool, interval int) (service.JobStatus, error) {
	j, err := f.Status(name)
	if err != nil {
		return j, err
	}
	j.Enabled = enabled
	if interval > 0 {
		j.IntervalMinutes = interval
	}
	f.jobs[name] = j
	return j, nil
}

func (f *fakeJobs) Trigger(name string) (bool, error) {
	if _, err := f.Status(name); err != nil {
		return false, err
	}
	if f.running[name] {
		return false, nil
	}
	f.running[name] = true
	return true, nil
}

type fakeReceiver struct {
	calls    int
	platform model.PlatformType
	body     []byte
	ack      service.AckResult
}

func (f *fakeReceiver) Receive(_ context.Context, platform model.PlatformType, _ http.Header, body []byte) service.AckResult {
	f.calls++
	f.platform = platform
	f.body = body
	return f.ack
}

type fakeLinker struct {
	mappings repository.MappingRepository
	unlinked []uint64
}

func (f *fakeLinker) Unmatched(_ context.Context, rule string) (*service.UnmatchedResult, error) {
	if rule != "procore_projects_to_hubspot_deals" {
		return nil, fmt.Errorf("规则%s: %w", rule, interfaces.ErrNotFound)
	}
	return &service.UnmatchedResult{Rule: rule, Master: []*model.RemoteEntity{}, Secondary: []*model.RemoteEntity{}}, nil
}

func (f *fakeLinker) ManualLink(ctx context.Context, rule, masterID, secondaryID string) (*model.EntityMapping, error) {
	m := &model.EntityMapping{
		MappingUUID:       "manual-" + masterID,
		Rule:              rule,
		MasterPlatform:    string(model.PlatformProcore),
		MasterResource:    "projects",
		MasterID:          masterID,
		SecondaryPlatform: string(model.PlatformHubSpot),
		SecondaryResource: "deals",
		SecondaryID:       secondaryID,
		MatchType:         model.MatchTypeManual,
		LastSyncStatus:    model.SyncStatusPending,
	}
	if err := m.SetMetadata(model.MappingMetadata{}); err != nil {
		return nil, err
	}
	return m, f.mappings.ReplaceManual(ctx, m)
}

func (f *fakeLinker) Unlink(ctx context.Context, id uint64) error {
	f.unlinked = append(f.unlinked, id)
	return f.mappings.Delete(ctx, id)
}

type fakeReconciler struct{}

func (fakeReconciler) Reconcile(_ context.Context, m *model.EntityMapping) (*model.EntityMapping, error) {
	m.LastSyncStatus = model.SyncStatusSuccess
	return m, nil
}

type apiFixture struct {
	router   *gin.Engine
	jobs     *fakeJobs
	receiver *fakeReceiver
	linker   *fakeLinker
	mappings repository.MappingRepository
	changes  repository.ChangeRepository
	audits   repository.AuditLogRepository
}

func newAPIFixture(t *testing.T) *apiFixture {
	gin.SetMode(gin.TestMode)
	db := testutil.NewDB(t)
	log := testutil.NewLogger()
	f := &apiFixture{
		jobs:     newFakeJobs("procore_projects", "hubspot_deals"),
		receiver: &fakeReceiver{ack: service.AckResult{Status: service.AckAccepted, Accepted: 1}},
		mappings: repository.NewMappingRepository(db),
		changes:  repository.NewChangeRepository(db),
		audits:   repository.NewAuditLogRepository(db),
	}
	f.linker = &fakeLinker{mappings: f.mappings}
	f.router = gin.New()
	RegisterRoutes(f.router, Handlers{
		Webhook:    NewWebhookHandler(f.receiver, log),
		Automation: NewAutomationHandler(f.jobs, log),
		Mapping:    NewMappingHandler(f.mappings, f.linker, fakeReconciler{}, log),
		Change:     NewChangeHandler(f.changes, log),
		Audit:      NewAuditHandler(f.audits, log),
	})
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	out := map[string]interface{}{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)
	w, body := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestWebhookAlwaysOK(t *testing.T) {
	f := newAPIFixture(t)
	w, body := f.do(t, http.MethodPost, "/webhooks/procore", `{"id":1}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.AckAccepted, body["status"])
	assert.Equal(t, model.PlatformProcore, f.receiver.platform)
	assert.JSONEq(t, `{"id":1}`, string(f.receiver.body))

	f.receiver.ack = service.AckResult{Status: service.AckRejected, Message: "invalid signature"}
	w, body = f.do(t, http.MethodPost, "/webhooks/hubspot", `[]`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.AckRejected, body["status"])
	assert.Equal(t, 2, f.receiver.calls)
}

func TestAutomationJobs(t *testing.T) {
	f := newAPIFixture(t)

	w, body := f.do(t, http.MethodGet, "/automation", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["jobs"], 2)

	w, body = f.do(t, http.MethodGet, "/automation/procore_projects/config", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["enabled"])

	w, _ = f.do(t, http.MethodGet, "/automation/nope/config", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAutomationUpdateConfig(t *testing.T) {
	f := newAPIFixture(t)

	w, body := f.do(t, http.MethodPost, "/automation/procore_projects/config", map[string]interface{}{"enabled": true, "intervalMinutes": 5})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["enabled"])
	assert.EqualValues(t, 5, body["intervalMinutes"])
	assert.True(t, f.jobs.jobs["procore_projects"].Enabled)

	// enabled 必填
	w, _ = f.do(t, http.MethodPost, "/automation/procore_projects/config", map[string]interface{}{"intervalMinutes": 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodPost, "/automation/procore_projects/config", map[string]interface{}{"enabled": true, "intervalMinutes": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodPost, "/automation/procore_projects/config", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodPost, "/automation/nope/config", map[string]interface{}{"enabled": false})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAutomationTrigger(t *testing.T) {
	f := newAPIFixture(t)

	w, body := f.do(t, http.MethodPost, "/automation/hubspot_deals/trigger", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["started"])
	assert.Equal(t, "started", body["status"])

	w, body = f.do(t, http.MethodPost, "/automation/hubspot_deals/trigger", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["started"])
	assert.Equal(t, "already_running", body["status"])

	w, _ = f.do(t, http.MethodPost, "/automation/nope/trigger", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMappingEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	rule := "procore_projects_to_hubspot_deals"

	w, _ := f.do(t, http.MethodGet, "/mappings/unmatched", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := f.do(t, http.MethodGet, "/mappings/unmatched?rule="+rule, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, rule, body["rule"])

	w, _ = f.do(t, http.MethodGet, "/mappings/unmatched?rule=missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(t, http.MethodPost, "/mappings/manual-link", map[string]string{"rule": rule, "idA": "P123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = f.do(t, http.MethodPost, "/mappings/manual-link", map[string]string{"rule": rule, "idA": "P123", "idB": "D45"})
	require.Equal(t, http.StatusOK, w.Code, body)
	assert.Equal(t, model.MatchTypeManual, body["matchType"])
	ids, ok := body["idsByPlatform"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "P123", ids["procore"])
	assert.Equal(t, "D45", ids["hubspot"])
	id := uint64(body["id"].(float64))

	w, body = f.do(t, http.MethodGet, "/mappings?rule="+rule, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["total"])

	w, body = f.do(t, http.MethodPost, fmt.Sprintf("/mappings/%d/reconcile", id), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.SyncStatusSuccess, body["lastSyncStatus"])

	w, _ = f.do(t, http.MethodPost, "/mappings/abc/reconcile", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = f.do(t, http.MethodDelete, fmt.Sprintf("/mappings/%d", id), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, id, body["deleted"])
	assert.Equal(t, []uint64{id}, f.linker.unlinked)

	w, _ = f.do(t, http.MethodDelete, fmt.Sprintf("/mappings/%d", id), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(t, http.MethodPost, fmt.Sprintf("/mappings/%d/reconcile", id), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChangesList(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	field := "status"
	oldV, newV := "active", "closed"
	now := time.Now()
	require.NoError(t, f.changes.Create(ctx, []*model.ChangeRecord{
		{EntityType: "procore.projects", NativeID: "P123", ChangeType: model.ChangeTypeFieldChanged,
			FieldName: &field, OldValue: &oldV, NewValue: &newV, CreatedAt: now},
		{EntityType: "procore.projects", NativeID: "P124", ChangeType: model.ChangeTypeCreated, CreatedAt: now},
		{EntityType: "hubspot.deals", NativeID: "D45", ChangeType: model.ChangeTypeCreated, CreatedAt: now},
	}))

	w, body := f.do(t, http.MethodGet, "/changes", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, body["total"])

	w, body = f.do(t, http.MethodGet, "/changes?entity_type=procore.projects&native_id=P123", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["total"])

	w, body = f.do(t, http.MethodGet, "/changes?limit=1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["total"])
}

func TestAuditLogsList(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	require.NoError(t, f.audits.Create(ctx, &model.AuditLog{Action: service.ActionJobAuthExpired, EntityType: "job", EntityID: "procore_projects", Status: "failed"}))
	require.NoError(t, f.audits.Create(ctx, &model.AuditLog{Action: service.ActionWebhookProcessed, EntityType: "webhook", EntityID: "procore", Status: "success"}))

	w, body := f.do(t, http.MethodGet, "/audit-logs", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["total"])

	w, body = f.do(t, http.MethodGet, "/audit-logs?action="+service.ActionJobAuthExpired, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["total"])
}
