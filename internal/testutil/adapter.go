package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"SyncHub/internal/interfaces"
	"SyncHub/internal/model"
)

// FieldWrite 一次回写调用
type FieldWrite struct {
	Resource string
	NativeID string
	Field    string
	Value    *string
}

// FakeAdapter 内存平台：实体按原生ID保存，webhook 体为 []model.WebhookNotice 的 JSON
type FakeAdapter struct {
	Platform model.PlatformType
	Tracked  map[string][]string
	PageSize int

	mu        sync.Mutex
	entities  map[string]map[string]*model.RemoteEntity
	writes    []FieldWrite
	fetches   int
	FetchErr  error
	WriteErrs map[string]error // 字段名 → 回写错误
}

func NewFakeAdapter(platform model.PlatformType, tracked map[string][]string) *FakeAdapter {
	return &FakeAdapter{
		Platform:  platform,
		Tracked:   tracked,
		PageSize:  100,
		entities:  make(map[string]map[string]*model.RemoteEntity),
		WriteErrs: make(map[string]error),
	}
}

// Put 写入或替换平台侧实体
func (a *FakeAdapter) Put(resource, nativeID, name string, fields model.FieldMap) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.entities[resource] == nil {
		a.entities[resource] = make(map[string]*model.RemoteEntity)
	}
	a.entities[resource][nativeID] = &model.RemoteEntity{
		Platform: a.Platform,
		Resource: resource,
		NativeID: nativeID,
		Name:     name,
		Fields:   fields.Clone(),
		Raw:      json.RawMessage(fmt.Sprintf(`{"id":%q}`, nativeID)),
	}
}

// Field 平台侧当前字段值
func (a *FakeAdapter) Field(resource, nativeID, field string) *string {
	a.mu.Lock()
	defer a.mu.Unlock()
	e := a.entities[resource][nativeID]
	if e == nil {
		return nil
	}
	return e.Fields.Get(field)
}

func (a *FakeAdapter) Writes() []FieldWrite {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]FieldWrite(nil), a.writes...)
}

func (a *FakeAdapter) Fetches() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fetches
}

func (a *FakeAdapter) GetType() model.PlatformType { return a.Platform }

func (a *FakeAdapter) Resources() []string {
	out := make([]string, 0, len(a.Tracked))
	for r := range a.Tracked {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func (a *FakeAdapter) TrackedFields(resource string) []string { return a.Tracked[resource] }

func (a *FakeAdapter) FetchPage(_ context.Context, resource string, page int) (*model.EntityPage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetches++
	if a.FetchErr != nil {
		return nil, a.FetchErr
	}
	ids := make([]string, 0, len(a.entities[resource]))
	for id := range a.entities[resource] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	start := (page - 1) * a.PageSize
	if start >= len(ids) {
		return &model.EntityPage{}, nil
	}
	end := start + a.PageSize
	if end > len(ids) {
		end = len(ids)
	}
	pg := &model.EntityPage{HasMore: end < len(ids)}
	for _, id := range ids[start:end] {
		pg.Entities = append(pg.Entities, copyEntity(a.entities[resource][id]))
	}
	return pg, nil
}

func (a *FakeAdapter) FetchEntity(_ context.Context, resource, nativeID string) (*model.RemoteEntity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetches++
	if a.FetchErr != nil {
		return nil, a.FetchErr
	}
	e := a.entities[resource][nativeID]
	if e == nil {
		return nil, fmt.Errorf("%s/%s: %w", resource, nativeID, interfaces.ErrNotFound)
	}
	return copyEntity(e), nil
}

func (a *FakeAdapter) WriteField(_ context.Context, resource, nativeID, field string, value *string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.WriteErrs[field]; err != nil {
		return err
	}
	a.writes = append(a.writes, FieldWrite{Resource: resource, NativeID: nativeID, Field: field, Value: value})
	if e := a.entities[resource][nativeID]; e != nil {
		e.Fields[field] = value
	}
	return nil
}

func (a *FakeAdapter) ParseWebhook(body []byte) ([]*model.WebhookNotice, error) {
	var notices []*model.WebhookNotice
	if err := json.Unmarshal(body, &notices); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedPayload, err)
	}
	for _, n := range notices {
		n.Platform = a.Platform
	}
	return notices, nil
}

func copyEntity(e *model.RemoteEntity) *model.RemoteEntity {
	c := *e
	c.Fields = e.Fields.Clone()
	return &c
}

// MemoryAudit 记录全部审计调用
type MemoryAudit struct {
	mu      sync.Mutex
	Entries []AuditEntry
}

type AuditEntry struct {
	Action     string
	EntityType string
	EntityID   string
	Status     string
	Details    map[string]interface{}
}

func (m *MemoryAudit) Record(_ context.Context, action, entityType, entityID, status string, details map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, AuditEntry{action, entityType, entityID, status, details})
}

// Actions 按动作筛选
func (m *MemoryAudit) Actions(action string) []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AuditEntry
	for _, e := range m.Entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// S 字符串指针
func S(s string) *string { return &s }

// Tokens 固定令牌；空串返回 ErrAuthExpired
type Tokens map[model.PlatformType]string

func (t Tokens) GetToken(_ context.Context, platform model.PlatformType) (string, error) {
	if tok := t[platform]; tok != "" {
		return tok, nil
	}
	return "", fmt.Errorf("%s: %w", platform, interfaces.ErrAuthExpired)
}
