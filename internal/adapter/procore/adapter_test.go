package procore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"SyncHub/internal/config"
	"SyncHub/internal/interfaces"
	"SyncHub/internal/model"
	"SyncHub/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := &config.PlatformConfig{BaseURL: srv.URL, Timeout: 5, PageSize: 2}
	return NewProcoreAdapter(cfg, testutil.Tokens{model.PlatformProcore: "tok"}, testutil.NewLogger()).(*Adapter)
}

func TestFetchPage_Projects(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1.0/projects", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		assert.Equal(t, "2", r.URL.Query().Get("per_page"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `[
			{"id":123,"name":"Oak Street","city":"Austin","state_code":"TX","active":true,"project_stage":{"id":1,"name":"Course of Construction"}},
			{"id":124,"name":"Pine Tower","project_stage":null}
		]`)
	})

	page, err := a.FetchPage(context.Background(), "projects", 1)
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	require.Len(t, page.Entities, 2)

	e := page.Entities[0]
	assert.Equal(t, model.PlatformProcore, e.Platform)
	assert.Equal(t, "123", e.NativeID)
	assert.Equal(t, "Oak Street", e.Name)
	assert.Equal(t, "course of construction", model.Stringify(e.Fields.Get("status")))
	assert.Equal(t, "TX", model.Stringify(e.Fields.Get("state_code")))
	assert.Equal(t, "true", model.Stringify(e.Fields.Get("active")))
	assert.Nil(t, e.Fields.Get("zip"))
	assert.JSONEq(t, `{"id":123,"name":"Oak Street","city":"Austin","state_code":"TX","active":true,"project_stage":{"id":1,"name":"Course of Construction"}}`, string(e.Raw))

	assert.Nil(t, page.Entities[1].Fields.Get("status"))
}

func TestFetchPage_AuthExpired(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"invalid_token"}`)
	})
	_, err := a.FetchPage(context.Background(), "projects", 1)
	assert.ErrorIs(t, err, interfaces.ErrAuthExpired)
}

func TestFetchPage_MissingToken(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("没有令牌时不应发出请求")
	})
	a.tokens = testutil.Tokens{}
	_, err := a.FetchPage(context.Background(), "projects", 1)
	assert.ErrorIs(t, err, interfaces.ErrAuthExpired)
}

func TestFetchEntity_NotFoundAndUnsupported(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1.0/projects/999", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := a.FetchEntity(context.Background(), "projects", "999")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	_, err = a.FetchEntity(context.Background(), "rfis", "1")
	assert.ErrorIs(t, err, interfaces.ErrUnsupportedResource)
}

func TestWriteField_PatchesWrappedBody(t *testing.T) {
	var got map[string]map[string]*string
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/rest/v1.0/projects/123", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"id":123}`)
	})

	require.NoError(t, a.WriteField(context.Background(), "projects", "123", "city", testutil.S("Dallas")))
	require.Contains(t, got, "project")
	assert.Equal(t, "Dallas", *got["project"]["city"])

	// 项目阶段由 Procore 控制，不允许回写
	err := a.WriteField(context.Background(), "projects", "123", "status", testutil.S("closed"))
	assert.ErrorIs(t, err, interfaces.ErrUnsupportedResource)
}

func TestParseWebhook(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})

	notices, err := a.ParseWebhook([]byte(`{"id":77,"event_type":"update","resource_name":"Projects","resource_id":123,"project_id":123,"timestamp":"2024-06-15T12:00:00Z"}`))
	require.NoError(t, err)
	require.Len(t, notices, 1)
	n := notices[0]
	assert.Equal(t, "projects", n.Resource)
	assert.Equal(t, "123", n.NativeID)
	assert.Equal(t, "updated", n.EventType)
	assert.Equal(t, "77", n.EventID)
	assert.Equal(t, 2024, n.OccurredAt.Year())

	_, err = a.ParseWebhook([]byte(`{"event_type":"update"}`))
	assert.ErrorIs(t, err, interfaces.ErrMalformedPayload)
	_, err = a.ParseWebhook([]byte(`not json`))
	assert.ErrorIs(t, err, interfaces.ErrMalformedPayload)
}
