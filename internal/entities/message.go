package entities

import "time"

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

const (
	MessageStatusReceived  = "received"
	MessageStatusSending   = "sending"
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
	MessageStatusFailed    = "failed"
)

type Message struct {
	ID                string
	ThreadID          string
	OrganizationID    string
	Direction         Direction
	Content           string
	Consumed          bool // inbound only: picked up by a batch
	MediaURLs         []string
	ProviderMessageID string
	Status            string
	DedupeKey         string // outbound only: batch that produced the reply
	CreatedAt         time.Time
	DeletedAt         *time.Time
}

// InboundMessage is what a channel source hands to the inbound service.
type InboundMessage struct {
	OrganizationID    string
	Channel           Channel
	ExternalID        string // phone number or chat id
	DisplayName       string
	Content           string
	ProviderMessageID string
	MediaURLs         []string
}

// OutboundMessage is what the composer hands to the send transport.
type OutboundMessage struct {
	Text    string
	Options []ButtonOption
}

type Destination struct {
	OrganizationID string
	Channel        Channel
	Address        string
}
