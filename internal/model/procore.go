package model

import (
	"strconv"
	"strings"
)

// ProcoreStage 项目阶段
type ProcoreStage struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ProcoreProject Procore 项目（/rest/v1.0/projects）
type ProcoreProject struct {
	ID            int64         `json:"id"`
	Name          string        `json:"name"`
	ProjectNumber string        `json:"project_number"`
	Address       string        `json:"address"`
	City          string        `json:"city"`
	StateCode     string        `json:"state_code"`
	Zip           string        `json:"zip"`
	Phone         string        `json:"phone"`
	Active        bool          `json:"active"`
	Stage         *ProcoreStage `json:"project_stage"`
	UpdatedAt     string        `json:"updated_at"`
}

// Fields 字段投影
func (p *ProcoreProject) Fields() FieldMap {
	var stage *string
	if p.Stage != nil {
		stage = StrPtr(strings.ToLower(p.Stage.Name))
	}
	return FieldMap{
		"name":           StrPtr(p.Name),
		"project_number": StrPtr(p.ProjectNumber),
		"address":        StrPtr(p.Address),
		"city":           StrPtr(p.City),
		"state_code":     StrPtr(p.StateCode),
		"zip":            StrPtr(p.Zip),
		"phone":          StrPtr(p.Phone),
		"status":         stage,
		"active":         StrPtr(strconv.FormatBool(p.Active)),
	}
}

// ProcoreVendor 供应商（/rest/v1.0/vendors）
type ProcoreVendor struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	EmailAddress  string `json:"email_address"`
	BusinessPhone string `json:"business_phone"`
	Address       string `json:"address"`
	City          string `json:"city"`
	StateCode     string `json:"state_code"`
	Zip           string `json:"zip"`
	IsActive      bool   `json:"is_active"`
	UpdatedAt     string `json:"updated_at"`
}

func (v *ProcoreVendor) Fields() FieldMap {
	return FieldMap{
		"name":           StrPtr(v.Name),
		"email_address":  StrPtr(v.EmailAddress),
		"business_phone": StrPtr(v.BusinessPhone),
		"address":        StrPtr(v.Address),
		"city":           StrPtr(v.City),
		"state_code":     StrPtr(v.StateCode),
		"zip":            StrPtr(v.Zip),
		"is_active":      StrPtr(strconv.FormatBool(v.IsActive)),
	}
}

// ProcoreRef 嵌套引用
type ProcoreRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ProcoreBid 投标（/rest/v1.0/bids）
type ProcoreBid struct {
	ID            int64       `json:"id"`
	BidPackageID  int64       `json:"bid_package_id"`
	Title         string      `json:"bid_package_title"`
	BidStatus     string      `json:"bid_status"`
	LumpSumAmount *float64    `json:"lump_sum_amount"`
	Vendor        *ProcoreRef `json:"vendor"`
	Project       *ProcoreRef `json:"project"`
	DueDate       string      `json:"due_date"`
	UpdatedAt     string      `json:"updated_at"`
}

func (b *ProcoreBid) Fields() FieldMap {
	fields := FieldMap{
		"bid_package_title": StrPtr(b.Title),
		"bid_status":        StrPtr(b.BidStatus),
		"due_date":          StrPtr(b.DueDate),
		"lump_sum_amount":   nil,
		"vendor":            nil,
		"project":           nil,
	}
	if b.LumpSumAmount != nil {
		fields["lump_sum_amount"] = StrPtr(strconv.FormatFloat(*b.LumpSumAmount, 'f', -1, 64))
	}
	if b.Vendor != nil {
		fields["vendor"] = StrPtr(b.Vendor.Name)
	}
	if b.Project != nil {
		fields["project"] = StrPtr(b.Project.Name)
	}
	return fields
}

// ProcoreWebhook Procore webhook 信封（单条通知）
type ProcoreWebhook struct {
	ID           int64  `json:"id"`
	EventType    string `json:"event_type"` // create/update/delete
	ResourceName string `json:"resource_name"`
	ResourceID   int64  `json:"resource_id"`
	ProjectID    int64  `json:"project_id"`
	CompanyID    int64  `json:"company_id"`
	Timestamp    string `json:"timestamp"`
}
