package procore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"SyncHub/internal/adapter"
	"SyncHub/internal/config"
	"SyncHub/internal/interfaces"
	"SyncHub/internal/model"
	"SyncHub/internal/utils/httpclient"

	"github.com/sirupsen/logrus"
)

func init() {
	adapter.Register(model.PlatformProcore, NewProcoreAdapter)
}

var trackedFields = map[string][]string{
	"projects": {"name", "project_number", "address", "city", "state_code", "zip", "phone", "status", "active"},
	"vendors":  {"name", "email_address", "business_phone", "address", "city", "state_code", "zip", "is_active"},
	"bids":     {"bid_package_title", "bid_status", "lump_sum_amount", "vendor", "project", "due_date"},
}

// 可回写字段（status/active 等由 Procore 工作流控制，不允许外部改写）
var writableFields = map[string][]string{
	"projects": {"name", "project_number", "address", "city", "state_code", "zip", "phone"},
	"vendors":  {"name", "email_address", "business_phone", "address", "city", "state_code", "zip"},
}

// 资源名 → PATCH 请求体的包装键
var singular = map[string]string{
	"projects": "project",
	"vendors":  "vendor",
	"bids":     "bid",
}

type Adapter struct {
	cfg        *config.PlatformConfig
	httpClient *http.Client
	tokens     interfaces.TokenProvider
	logger     *logrus.Logger
}

func NewProcoreAdapter(cfg *config.PlatformConfig, tokens interfaces.TokenProvider, logger *logrus.Logger) interfaces.PlatformAdapter {
	return &Adapter{
		cfg:        cfg,
		httpClient: httpclient.NewHTTPClient(cfg, logger),
		tokens:     tokens,
		logger:     logger,
	}
}

// GetType ========== 实现PlatformAdapter接口 ==========
func (a *Adapter) GetType() model.PlatformType {
	return model.PlatformProcore
}

func (a *Adapter) Resources() []string {
	return []string{"projects", "vendors", "bids"}
}

func (a *Adapter) TrackedFields(resource string) []string {
	return trackedFields[resource]
}

func (a *Adapter) FetchPage(ctx context.Context, resource string, page int) (*model.EntityPage, error) {
	if err := adapter.CheckResource(a.GetType(), resource, a.Resources()); err != nil {
		return nil, err
	}
	token, err := a.tokens.GetToken(ctx, a.GetType())
	if err != nil {
		return nil, err
	}

	perPage := a.pageSize()
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	pageURL := fmt.Sprintf("%s/rest/v1.0/%s?%s", strings.TrimRight(a.cfg.BaseURL, "/"), resource, q.Encode())

	var body json.RawMessage
	if err := httpclient.DoJSON(ctx, a.httpClient, http.MethodGet, pageURL, token, nil, &body); err != nil {
		return nil, fmt.Errorf("获取Procore %s第%d页失败: %w", resource, page, err)
	}
	items, err := adapter.SplitRaw(body)
	if err != nil {
		return nil, fmt.Errorf("解析Procore %s列表失败: %w", resource, err)
	}

	result := &model.EntityPage{HasMore: len(items) >= perPage}
	for _, item := range items {
		raw, err := a.decode(resource, item)
		if err != nil {
			a.logger.WithError(err).WithField("resource", resource).Warn("Procore实体解析失败，跳过")
			continue
		}
		result.Entities = append(result.Entities, a.convert(raw))
	}
	a.logger.WithFields(logrus.Fields{"resource": resource, "page": page, "count": len(result.Entities)}).Debug("Procore分页拉取完成")
	return result, nil
}

func (a *Adapter) FetchEntity(ctx context.Context, resource, nativeID string) (*model.RemoteEntity, error) {
	if err := adapter.CheckResource(a.GetType(), resource, a.Resources()); err != nil {
		return nil, err
	}
	token, err := a.tokens.GetToken(ctx, a.GetType())
	if err != nil {
		return nil, err
	}
	entityURL := fmt.Sprintf("%s/rest/v1.0/%s/%s", strings.TrimRight(a.cfg.BaseURL, "/"), resource, url.PathEscape(nativeID))

	var body json.RawMessage
	if err := httpclient.DoJSON(ctx, a.httpClient, http.MethodGet, entityURL, token, nil, &body); err != nil {
		return nil, fmt.Errorf("获取Procore %s/%s失败: %w", resource, nativeID, err)
	}
	raw, err := a.decode(resource, body)
	if err != nil {
		return nil, err
	}
	return a.convert(raw), nil
}

func (a *Adapter) WriteField(ctx context.Context, resource, nativeID, field string, value *string) error {
	if err := adapter.CheckField(a.GetType(), resource, field, writableFields[resource]); err != nil {
		return err
	}
	token, err := a.tokens.GetToken(ctx, a.GetType())
	if err != nil {
		return err
	}
	entityURL := fmt.Sprintf("%s/rest/v1.0/%s/%s", strings.TrimRight(a.cfg.BaseURL, "/"), resource, url.PathEscape(nativeID))
	payload := map[string]interface{}{
		singular[resource]: map[string]*string{field: value},
	}
	if err := httpclient.DoJSON(ctx, a.httpClient, http.MethodPatch, entityURL, token, payload, nil); err != nil {
		return fmt.Errorf("回写Procore %s/%s字段%s失败: %w", resource, nativeID, field, err)
	}
	return nil
}

// ParseWebhook Procore 每次推送一条通知
func (a *Adapter) ParseWebhook(body []byte) ([]*model.WebhookNotice, error) {
	var hook model.ProcoreWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedPayload, err)
	}
	if hook.ResourceID == 0 || hook.ResourceName == "" {
		return nil, fmt.Errorf("%w: 缺少resource_id或resource_name", interfaces.ErrMalformedPayload)
	}

	resource := strings.ToLower(strings.ReplaceAll(hook.ResourceName, " ", "_"))
	occurredAt := time.Now()
	if t, err := time.Parse(time.RFC3339, hook.Timestamp); err == nil {
		occurredAt = t
	}
	eventID := ""
	if hook.ID != 0 {
		eventID = strconv.FormatInt(hook.ID, 10)
	}
	return []*model.WebhookNotice{{
		Platform:   a.GetType(),
		Resource:   resource,
		NativeID:   strconv.FormatInt(hook.ResourceID, 10),
		EventType:  adapter.NormalizeEventType(hook.EventType),
		EventID:    eventID,
		OccurredAt: occurredAt,
		Raw:        body,
	}}, nil
}

// decode 按资源解码为类型化的平台原始实体
func (a *Adapter) decode(resource string, item json.RawMessage) (*model.PlatformRawEntity, error) {
	raw := &model.PlatformRawEntity{Platform: a.GetType(), Resource: resource, Raw: item}
	switch resource {
	case "projects":
		var p model.ProcoreProject
		if err := json.Unmarshal(item, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedPayload, err)
		}
		raw.ID, raw.Data = strconv.FormatInt(p.ID, 10), p
	case "vendors":
		var v model.ProcoreVendor
		if err := json.Unmarshal(item, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedPayload, err)
		}
		raw.ID, raw.Data = strconv.FormatInt(v.ID, 10), v
	case "bids":
		var b model.ProcoreBid
		if err := json.Unmarshal(item, &b); err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedPayload, err)
		}
		raw.ID, raw.Data = strconv.FormatInt(b.ID, 10), b
	default:
		return nil, fmt.Errorf("资源%s: %w", resource, interfaces.ErrUnsupportedResource)
	}
	if raw.ID == "0" {
		return nil, fmt.Errorf("%w: 缺少id", interfaces.ErrMalformedPayload)
	}
	return raw, nil
}

func (a *Adapter) convert(raw *model.PlatformRawEntity) *model.RemoteEntity {
	switch d := raw.Data.(type) {
	case model.ProcoreProject:
		return adapter.ToRemote(raw, d.Name, d.Fields())
	case model.ProcoreVendor:
		return adapter.ToRemote(raw, d.Name, d.Fields())
	case model.ProcoreBid:
		name := d.Title
		if d.Vendor != nil && d.Vendor.Name != "" {
			name = fmt.Sprintf("%s - %s", d.Title, d.Vendor.Name)
		}
		fields := d.Fields()
		fields["lump_sum_amount"] = adapter.NormalizeAmount(fields["lump_sum_amount"])
		return adapter.ToRemote(raw, name, fields)
	}
	return adapter.ToRemote(raw, "", model.FieldMap{})
}

func (a *Adapter) pageSize() int {
	if a.cfg.PageSize > 0 {
		return a.cfg.PageSize
	}
	return 100
}
