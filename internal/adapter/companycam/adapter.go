package companycam

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
	adapter.Register(model.PlatformCompanyCam, NewCompanyCamAdapter)
}

var trackedFields = map[string][]string{
	"projects": {"name", "status", "address", "city", "state", "postal_code"},
	"photos":   {"project_id", "description", "status", "photo_url", "captured_at"},
}

// address 相关字段在 API 中嵌套于 address 对象
var addressKeys = map[string]string{
	"address":     "street_address_1",
	"city":        "city",
	"state":       "state",
	"postal_code": "postal_code",
}

type Adapter struct {
	cfg        *config.PlatformConfig
	httpClient *http.Client
	tokens     interfaces.TokenProvider
	logger     *logrus.Logger
}

func NewCompanyCamAdapter(cfg *config.PlatformConfig, tokens interfaces.TokenProvider, logger *logrus.Logger) interfaces.PlatformAdapter {
	return &Adapter{
		cfg:        cfg,
		httpClient: httpclient.NewHTTPClient(cfg, logger),
		tokens:     tokens,
		logger:     logger,
	}
}

func (a *Adapter) GetType() model.PlatformType {
	return model.PlatformCompanyCam
}

func (a *Adapter) Resources() []string {
	return []string{"projects", "photos"}
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

	perPage := a.cfg.PageSize
	if perPage <= 0 {
		perPage = 50
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	pageURL := fmt.Sprintf("%s/v2/%s?%s", a.baseURL(), resource, q.Encode())

	var body json.RawMessage
	if err := httpclient.DoJSON(ctx, a.httpClient, http.MethodGet, pageURL, token, nil, &body); err != nil {
		return nil, fmt.Errorf("获取CompanyCam %s第%d页失败: %w", resource, page, err)
	}
	items, err := adapter.SplitRaw(body)
	if err != nil {
		return nil, fmt.Errorf("解析CompanyCam %s列表失败: %w", resource, err)
	}

	result := &model.EntityPage{HasMore: len(items) >= perPage}
	for _, item := range items {
		entity, err := a.decode(resource, item)
		if err != nil {
			a.logger.WithError(err).WithField("resource", resource).Warn("CompanyCam实体解析失败，跳过")
			continue
		}
		result.Entities = append(result.Entities, entity)
	}
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
	entityURL := fmt.Sprintf("%s/v2/%s/%s", a.baseURL(), resource, url.PathEscape(nativeID))

	var body json.RawMessage
	if err := httpclient.DoJSON(ctx, a.httpClient, http.MethodGet, entityURL, token, nil, &body); err != nil {
		return nil, fmt.Errorf("获取CompanyCam %s/%s失败: %w", resource, nativeID, err)
	}
	return a.decode(resource, body)
}

// WriteField 仅项目可回写；照片为只读
func (a *Adapter) WriteField(ctx context.Context, resource, nativeID, field string, value *string) error {
	if resource != "projects" {
		return fmt.Errorf("CompanyCam %s为只读资源: %w", resource, interfaces.ErrUnsupportedResource)
	}
	if field != "name" {
		if _, ok := addressKeys[field]; !ok {
			return adapter.CheckField(a.GetType(), resource, field, nil)
		}
	}
	token, err := a.tokens.GetToken(ctx, a.GetType())
	if err != nil {
		return err
	}

	project := map[string]interface{}{}
	if key, ok := addressKeys[field]; ok {
		project["address"] = map[string]string{key: model.Stringify(value)}
	} else {
		project[field] = model.Stringify(value)
	}
	entityURL := fmt.Sprintf("%s/v2/projects/%s", a.baseURL(), url.PathEscape(nativeID))
	if err := httpclient.DoJSON(ctx, a.httpClient, http.MethodPut, entityURL, token, map[string]interface{}{"project": project}, nil); err != nil {
		return fmt.Errorf("回写CompanyCam项目%s字段%s失败: %w", nativeID, field, err)
	}
	return nil
}

// ParseWebhook type 形如 project.updated / photo.created
func (a *Adapter) ParseWebhook(body []byte) ([]*model.WebhookNotice, error) {
	var hook model.CompanyCamWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedPayload, err)
	}
	object, verb, ok := strings.Cut(hook.Type, ".")
	if !ok {
		return nil, fmt.Errorf("%w: 无法识别的事件类型%q", interfaces.ErrMalformedPayload, hook.Type)
	}

	var payload map[string]struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(hook.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", interfaces.ErrMalformedPayload, err)
	}
	ref, found := payload[object]
	if !found || ref.ID == "" {
		return nil, fmt.Errorf("%w: payload缺少%s.id", interfaces.ErrMalformedPayload, object)
	}

	occurredAt := time.Now()
	if hook.CreatedAt > 0 {
		occurredAt = time.Unix(hook.CreatedAt, 0)
	}
	return []*model.WebhookNotice{{
		Platform:   a.GetType(),
		Resource:   object + "s",
		NativeID:   ref.ID,
		EventType:  adapter.NormalizeEventType(verb),
		EventID:    hook.ID,
		OccurredAt: occurredAt,
		Raw:        body,
	}}, nil
}

func (a *Adapter) decode(resource string, item json.RawMessage) (*model.RemoteEntity, error) {
	raw := &model.PlatformRawEntity{Platform: a.GetType(), Resource: resource, Raw: item}
	switch resource {
	case "projects":
		var p model.CompanyCamProject
		if err := json.Unmarshal(item, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedPayload, err)
		}
		if p.ID == "" {
			return nil, fmt.Errorf("%w: 缺少id", interfaces.ErrMalformedPayload)
		}
		raw.ID, raw.Data = p.ID, p
		return adapter.ToRemote(raw, p.Name, p.Fields()), nil
	case "photos":
		var p model.CompanyCamPhoto
		if err := json.Unmarshal(item, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedPayload, err)
		}
		if p.ID == "" {
			return nil, fmt.Errorf("%w: 缺少id", interfaces.ErrMalformedPayload)
		}
		raw.ID, raw.Data = p.ID, p
		return adapter.ToRemote(raw, p.Description, p.Fields()), nil
	}
	return nil, fmt.Errorf("资源%s: %w", resource, interfaces.ErrUnsupportedResource)
}

func (a *Adapter) baseURL() string {
	if a.cfg.BaseURL == "" {
		return "https://api.companycam.com"
	}
	return strings.TrimRight(a.cfg.BaseURL, "/")
}
