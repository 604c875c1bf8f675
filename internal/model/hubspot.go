package model

// HubSpotObject CRM 对象（deals/contacts），属性统一为字符串或 null
type HubSpotObject struct {
	ID         string             `json:"id"`
	Properties map[string]*string `json:"properties"`
	CreatedAt  string             `json:"createdAt"`
	UpdatedAt  string             `json:"updatedAt"`
	Archived   bool               `json:"archived"`
}

// HubSpotPaging 游标分页
type HubSpotPaging struct {
	Next *struct {
		After string `json:"after"`
	} `json:"next"`
}

// HubSpotWebhookEvent webhook 请求体为该结构的数组
type HubSpotWebhookEvent struct {
	EventID          int64  `json:"eventId"`
	SubscriptionID   int64  `json:"subscriptionId"`
	PortalID         int64  `json:"portalId"`
	OccurredAt       int64  `json:"occurredAt"`       // 毫秒
	SubscriptionType string `json:"subscriptionType"` // deal.propertyChange ...
	ObjectID         int64  `json:"objectId"`
	PropertyName     string `json:"propertyName"`
	PropertyValue    string `json:"propertyValue"`
	AttemptNumber    int    `json:"attemptNumber"`
}
