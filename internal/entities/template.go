package entities

import "time"

type TemplateStatus string

const (
	TemplateDraft    TemplateStatus = "draft"
	TemplatePending  TemplateStatus = "pending"
	TemplateApproved TemplateStatus = "approved"
	TemplateRejected TemplateStatus = "rejected"
)

type Template struct {
	ID                 string         `json:"id"`
	OrganizationID     string         `json:"organization_id"`
	Name               string         `json:"name"`
	Language           string         `json:"language"`
	Category           string         `json:"category"` // MARKETING, UTILITY, AUTHENTICATION
	Body               string         `json:"body"`
	Status             TemplateStatus `json:"status"`
	ProviderTemplateID string         `json:"provider_template_id"`
	RejectionReason    string         `json:"rejection_reason,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}
