package entities

import "time"

type Agent struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	SystemPrompt   string    `json:"system_prompt"`
	Model          string    `json:"model"`
	Enabled        bool      `json:"enabled"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type User struct {
	ID             int    `json:"id"`
	OrganizationID string `json:"organization_id"`
	Username       string `json:"username"`
	PasswordHash   string `json:"-"`
	Role           string `json:"role"`
}
