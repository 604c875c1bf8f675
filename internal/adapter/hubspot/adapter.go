package hubspot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"SyncHub/internal/adapter"
	"SyncHub/internal/config"
	"SyncHub/internal/interfaces"
	"SyncHub/internal/model"
	"SyncHub/internal/utils/httpclient"

	"github.com/sirupsen/logrus"
)

func init() {
	adapter.Register(model.PlatformHubSpot, NewHubSpotAdapter)
}

var trackedFields = map[string][]string{
	"deals":    {"dealname", "amount", "dealstage", "status", "closedate", "address", "city", "state", "zip", "project_number"},
	"contacts": {"firstname", "lastname", "email", "phone", "company", "address", "city", "state", "zip"},
}

// webhook subscriptionType 的对象前缀 → 资源
var objectResources = map[string]string{
	"deal":    "deals",
	"contact": "contacts",
}

type Adapter struct {
	cfg        *config.PlatformConfig
	httpClient *http.Client
	tokens     interfaces.TokenProvider
	logger     *logrus.Logger

	// 资源 → 下一页 after 游标，第1页重置
	mu      sync.Mutex
	cursors map[string]string
}

func NewHubSpotAdapter(cfg *config.PlatformConfig, tokens interfaces.TokenProvider, logger *logrus.Logger) interfaces.PlatformAdapter {
	return &Adapter{
		cfg:        cfg,
		httpClient: httpclient.NewHTTPClient(cfg, logger),
		tokens:     tokens,
		logger:     logger,
		cursors:    make(map[string]string),
	}
}

func (a *Adapter) GetType() model.PlatformType {
	return model.PlatformHubSpot
}

func (a *Adapter) Resources() []string {
	return []string{"deals", "contacts"}
}

func (a *Adapter) TrackedFields(resource string) []string {
	return trackedFields[resource]
}

// FetchPage HubSpot 的 after 是不透明游标，第N+1页使用第N页返回的 paging.next.after；
// 游标缺失（未从第1页开始遍历或上一页已是末页）时返回空页
func (a *Adapter) FetchPage(ctx context.Context, resource string, page int) (*model.EntityPage, error) {
	if err := adapter.CheckResource(a.GetType(), resource, a.Resources()); err != nil {
		return nil, err
	}
	token, err := a.tokens.GetToken(ctx, a.GetType())
	if err != nil {
		return nil, err
	}

	limit := a.cfg.PageSize
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("properties", strings.Join(trackedFields[resource], ","))
	if page > 1 {
		after, ok := a.nextCursor(resource)
		if !ok {
			a.logger.WithFields(logrus.Fields{"resource": resource, "page": page}).Warn("HubSpot分页游标缺失，按末页处理")
			return &model.EntityPage{}, nil
		}
		q.Set("after", after)
	} else {
		a.setCursor(resource, "")
	}
	pageURL := fmt.Sprintf("%s/crm/v3/objects/%s?%s", a.baseURL(), resource, q.Encode())

	var resp struct {
		Results []json.RawMessage    `json:"results"`
		Paging  *model.HubSpotPaging `json:"paging"`
	}
	if err := httpclient.DoJSON(ctx, a.httpClient, http.MethodGet, pageURL, token, nil, &resp); err != nil {
		return nil, fmt.Errorf("获取HubSpot %s第%d页失败: %w", resource, page, err)
	}

	next := ""
	if resp.Paging != nil && resp.Paging.Next != nil {
		next = resp.Paging.Next.After
	}
	a.setCursor(resource, next)

	result := &model.EntityPage{HasMore: next != ""}
	for _, item := range resp.Results {
		entity, err := a.decode(resource, item)
		if err != nil {
			a.logger.WithError(err).WithField("resource", resource).Warn("HubSpot对象解析失败，跳过")
			continue
		}
		result.Entities = append(result.Entities, entity)
	}
	return result, nil
}

func (a *Adapter) nextCursor(resource string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	after, ok := a.cursors[resource]
	return after, ok
}

// setCursor 空游标表示遍历结束
func (a *Adapter) setCursor(resource, after string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if after == "" {
		delete(a.cursors, resource)
		return
	}
	a.cursors[resource] = after
}

func (a *Adapter) FetchEntity(ctx context.Context, resource, nativeID string) (*model.RemoteEntity, error) {
	if err := adapter.CheckResource(a.GetType(), resource, a.Resources()); err != nil {
		return nil, err
	}
	token, err := a.tokens.GetToken(ctx, a.GetType())
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("properties", strings.Join(trackedFields[resource], ","))
	entityURL := fmt.Sprintf("%s/crm/v3/objects/%s/%s?%s", a.baseURL(), resource, url.PathEscape(nativeID), q.Encode())

	var body json.RawMessage
	if err := httpclient.DoJSON(ctx, a.httpClient, http.MethodGet, entityURL, token, nil, &body); err != nil {
		return nil, fmt.Errorf("获取HubSpot %s/%s失败: %w", resource, nativeID, err)
	}
	return a.decode(resource, body)
}

// WriteField HubSpot 属性值均为字符串，nil 以空串清空
func (a *Adapter) WriteField(ctx context.Context, resource, nativeID, field string, value *string) error {
	if err := adapter.CheckField(a.GetType(), resource, field, trackedFields[resource]); err != nil {
		return err
	}
	token, err := a.tokens.GetToken(ctx, a.GetType())
	if err != nil {
		return err
	}
	entityURL := fmt.Sprintf("%s/crm/v3/objects/%s/%s", a.baseURL(), resource, url.PathEscape(nativeID))
	payload := map[string]interface{}{
		"properties": map[string]string{field: model.Stringify(value)},
	}
	if err := httpclient.DoJSON(ctx, a.httpClient, http.MethodPatch, entityURL, token, payload, nil); err != nil {
		return fmt.Errorf("回写HubSpot %s/%s属性%s失败: %w", resource, nativeID, field, err)
	}
	return nil
}

// ParseWebhook HubSpot 批量推送，请求体为事件数组
func (a *Adapter) ParseWebhook(body []byte) ([]*model.WebhookNotice, error) {
	var events []model.HubSpotWebhookEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedPayload, err)
	}

	notices := make([]*model.WebhookNotice, 0, len(events))
	for i, e := range events {
		object, verb, ok := strings.Cut(e.SubscriptionType, ".")
		resource, known := objectResources[object]
		if !ok || !known || e.ObjectID == 0 {
			a.logger.WithFields(logrus.Fields{
				"subscription_type": e.SubscriptionType,
				"object_id":         e.ObjectID,
			}).Warn("HubSpot webhook事件无法识别，跳过")
			continue
		}

		occurredAt := time.Now()
		if e.OccurredAt > 0 {
			occurredAt = time.UnixMilli(e.OccurredAt)
		}
		eventType := adapter.NormalizeEventType(verb)
		if verb == "propertyChange" {
			eventType = "updated"
		}
		eventID := ""
		if e.EventID != 0 {
			eventID = strconv.FormatInt(e.EventID, 10)
		}
		raw, _ := json.Marshal(events[i])
		notices = append(notices, &model.WebhookNotice{
			Platform:   a.GetType(),
			Resource:   resource,
			NativeID:   strconv.FormatInt(e.ObjectID, 10),
			EventType:  eventType,
			EventID:    eventID,
			OccurredAt: occurredAt,
			Raw:        raw,
		})
	}
	if len(notices) == 0 && len(events) > 0 {
		return nil, fmt.Errorf("%w: 没有可识别的事件", interfaces.ErrMalformedPayload)
	}
	return notices, nil
}

func (a *Adapter) decode(resource string, item json.RawMessage) (*model.RemoteEntity, error) {
	var obj model.HubSpotObject
	if err := json.Unmarshal(item, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedPayload, err)
	}
	if obj.ID == "" {
		return nil, fmt.Errorf("%w: 缺少id", interfaces.ErrMalformedPayload)
	}
	raw := &model.PlatformRawEntity{Platform: a.GetType(), Resource: resource, ID: obj.ID, Data: obj, Raw: item}

	fields := model.FieldMap{}
	for _, name := range trackedFields[resource] {
		fields[name] = model.StrPtr(model.Stringify(obj.Properties[name]))
	}
	if _, ok := fields["amount"]; ok {
		fields["amount"] = adapter.NormalizeAmount(fields["amount"])
	}
	return adapter.ToRemote(raw, displayName(resource, obj), fields), nil
}

func displayName(resource string, obj model.HubSpotObject) string {
	if resource == "contacts" {
		return strings.TrimSpace(model.Stringify(obj.Properties["firstname"]) + " " + model.Stringify(obj.Properties["lastname"]))
	}
	return model.Stringify(obj.Properties["dealname"])
}

func (a *Adapter) baseURL() string {
	if a.cfg.BaseURL == "" {
		return "https://api.hubapi.com"
	}
	return strings.TrimRight(a.cfg.BaseURL, "/")
}
