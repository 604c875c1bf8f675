package model

import (
	"encoding/json"
	"strconv"
)

// CompanyCamAddress 项目地址
type CompanyCamAddress struct {
	StreetAddress1 string `json:"street_address_1"`
	StreetAddress2 string `json:"street_address_2"`
	City           string `json:"city"`
	State          string `json:"state"`
	PostalCode     string `json:"postal_code"`
	Country        string `json:"country"`
}

// CompanyCamProject 项目（/v2/projects）
type CompanyCamProject struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Status    string            `json:"status"`
	Address   CompanyCamAddress `json:"address"`
	CreatedAt int64             `json:"created_at"`
	UpdatedAt int64             `json:"updated_at"`
}

func (p *CompanyCamProject) Fields() FieldMap {
	return FieldMap{
		"name":        StrPtr(p.Name),
		"status":      StrPtr(p.Status),
		"address":     StrPtr(p.Address.StreetAddress1),
		"city":        StrPtr(p.Address.City),
		"state":       StrPtr(p.Address.State),
		"postal_code": StrPtr(p.Address.PostalCode),
	}
}

// CompanyCamPhoto 照片（/v2/photos）
type CompanyCamPhoto struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Description string `json:"description"`
	Status      string `json:"status"`
	CapturedAt  int64  `json:"captured_at"`
	PhotoURL    string `json:"photo_url"`
	UpdatedAt   int64  `json:"updated_at"`
}

func (p *CompanyCamPhoto) Fields() FieldMap {
	fields := FieldMap{
		"project_id":  StrPtr(p.ProjectID),
		"description": StrPtr(p.Description),
		"status":      StrPtr(p.Status),
		"photo_url":   StrPtr(p.PhotoURL),
		"captured_at": nil,
	}
	if p.CapturedAt > 0 {
		fields["captured_at"] = StrPtr(strconv.FormatInt(p.CapturedAt, 10))
	}
	return fields
}

// CompanyCamWebhook webhook 信封，payload 内含 project/photo 对象
type CompanyCamWebhook struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"` // project.created / photo.updated ...
	CreatedAt int64           `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}
