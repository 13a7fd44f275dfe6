package entities

import "time"

type Channel string

const (
	ChannelWhatsApp      Channel = "whatsapp"       // linked device (whatsmeow)
	ChannelWhatsAppCloud Channel = "whatsapp_cloud" // Graph API
	ChannelTelegram      Channel = "telegram"
)

type ThreadStatus string

const (
	ThreadStatusAI    ThreadStatus = "ai"
	ThreadStatusHuman ThreadStatus = "human" // escalated, no automated replies
)

type ButtonOption struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ButtonPrompt is present on a thread only while a choice is waiting for an answer.
type ButtonPrompt struct {
	Options []ButtonOption `json:"options"`
}

type Thread struct {
	ID             string
	OrganizationID string
	ContactID      string
	Channel        Channel
	Status         ThreadStatus
	Buttons        *ButtonPrompt
	AgentTyping    bool
	AgentTypingAt  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (t *Thread) AwaitingButtonResponse() bool {
	return t.Buttons != nil && len(t.Buttons.Options) > 0
}

// BatchTrigger is the "message received" event consumed by the batch processor.
type BatchTrigger struct {
	ThreadID       string
	OrganizationID string
	ContactID      string
	MessageID      string
}
