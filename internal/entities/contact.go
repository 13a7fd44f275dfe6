package entities

import "time"

type Contact struct {
	ID             string
	OrganizationID string
	Channel        Channel
	ExternalID     string
	DisplayName    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type ContactMemory struct {
	ContactID           string
	OrganizationID      string
	NameAsked           bool
	NameConfirmed       bool
	NameConfirmedAt     *time.Time
	OriginalDisplayName string // unverified name captured before confirmation, written once
	Facts               []string
	Objections          []string
	UpdatedAt           time.Time
}

type NameState int

const (
	NameStateNeedsConfirmation NameState = iota
	NameStateLikelyReal
	NameStateAwaitingResponse
	NameStateConfirmed
)

func (s NameState) String() string {
	switch s {
	case NameStateConfirmed:
		return "confirmed"
	case NameStateAwaitingResponse:
		return "awaiting_response"
	case NameStateLikelyReal:
		return "likely_real"
	default:
		return "needs_confirmation"
	}
}
