package interfaces

import (
	"context"

	"whatsapp_ai_backend/internal/entities"
)

// SendTransport delivers outbound content on the thread's channel.
type SendTransport interface {
	Send(ctx context.Context, dest entities.Destination, msg entities.OutboundMessage) (string, error)
	SetTyping(ctx context.Context, dest entities.Destination, typing bool) error
}

// Messenger is one channel's client.
type Messenger interface {
	SendMessage(ctx context.Context, to string, msg entities.OutboundMessage) (string, error)
	SendPresence(ctx context.Context, to string, typing bool) error
}

type ThreadStore interface {
	GetThread(ctx context.Context, orgID, threadID string) (*entities.Thread, error)
	FindOrCreateThread(ctx context.Context, orgID, contactID string, channel entities.Channel) (*entities.Thread, error)
	SetButtonPrompt(ctx context.Context, orgID, threadID string, prompt *entities.ButtonPrompt) error
	SetAgentTyping(ctx context.Context, orgID, threadID string, typing bool) error
	SetStatus(ctx context.Context, orgID, threadID string, status entities.ThreadStatus) error
}

type MessageStore interface {
	// CreateInbound stores an inbound message; created is false when the provider id was already seen.
	CreateInbound(ctx context.Context, msg *entities.Message) (created bool, err error)
	ListPendingInbound(ctx context.Context, orgID, threadID string) ([]entities.Message, error)
	ListRecent(ctx context.Context, orgID, threadID string, limit int) ([]entities.Message, error)
	MarkConsumed(ctx context.Context, orgID string, ids []string) error
	// ClaimOutbound inserts msg under its dedupe key; claimed is false if a live claim already exists.
	ClaimOutbound(ctx context.Context, msg *entities.Message) (claimed bool, err error)
	MarkOutboundSent(ctx context.Context, orgID, id, providerMessageID string) error
	MarkOutboundFailed(ctx context.Context, orgID, id string) error
	UpdateStatusByProviderID(ctx context.Context, providerMessageID, status string) error
}

type ContactStore interface {
	GetContact(ctx context.Context, orgID, contactID string) (*entities.Contact, error)
	FindOrCreateContact(ctx context.Context, orgID string, channel entities.Channel, externalID, displayName string) (*entities.Contact, error)
	UpdateContactName(ctx context.Context, orgID, contactID, name string) error
}

type MemoryStore interface {
	GetMemory(ctx context.Context, orgID, contactID string) (*entities.ContactMemory, error)
	UpsertMemory(ctx context.Context, mem *entities.ContactMemory) error
}

type KnowledgeStore interface {
	SearchProductChunks(ctx context.Context, orgID, productID string, vec []float32, threshold float64, limit int) ([]entities.KnowledgeChunk, error)
	SearchGlobalChunks(ctx context.Context, orgID string, vec []float32, threshold float64, limit int) ([]entities.KnowledgeChunk, error)
	SearchAllChunks(ctx context.Context, orgID string, vec []float32, threshold float64, limit int) ([]entities.KnowledgeChunk, error)
}

type ProductStore interface {
	ListProducts(ctx context.Context, orgID string) ([]entities.Product, error)
}

type AgentStore interface {
	GetEnabledAgent(ctx context.Context, orgID string) (*entities.Agent, error)
}

type SettingsStore interface {
	GetSetting(ctx context.Context, orgID, key string) (string, error)
}

type UsageRecorder interface {
	IncrementSent(ctx context.Context, orgID string) error
	IncrementReceived(ctx context.Context, orgID string) error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]entities.RerankResult, error)
}

type CompletionClient interface {
	Complete(ctx context.Context, apiKey string, req entities.CompletionRequest) (*entities.CompletionResponse, error)
}

type UsageReader interface {
	GetUsageHistory(ctx context.Context, orgID string, days int) ([]entities.DailyUsage, error)
}

type UserStore interface {
	GetByUsername(ctx context.Context, username string) (*entities.User, error)
	Create(ctx context.Context, user *entities.User) error
}

type AgentAdminStore interface {
	GetAgent(ctx context.Context, orgID string) (*entities.Agent, error)
	UpsertAgent(ctx context.Context, agent *entities.Agent) error
}

type SettingsAdminStore interface {
	SetSetting(ctx context.Context, orgID, key, value string) error
	ListSettingKeys(ctx context.Context, orgID string) ([]string, error)
}

type ProductCatalog interface {
	ListProducts(ctx context.Context, orgID string) ([]entities.Product, error)
	UpsertProducts(ctx context.Context, orgID string, products []entities.Product) (int, error)
}

type KnowledgeWriter interface {
	InsertChunk(ctx context.Context, chunk *entities.KnowledgeChunk, vec []float32) error
}

type TemplateStore interface {
	CreateTemplate(ctx context.Context, t *entities.Template) error
	GetTemplate(ctx context.Context, orgID, id string) (*entities.Template, error)
	ListTemplates(ctx context.Context, orgID string) ([]entities.Template, error)
	// ListPendingTemplates spans organizations; it feeds the status sync job.
	ListPendingTemplates(ctx context.Context) ([]entities.Template, error)
	UpdateTemplateStatus(ctx context.Context, t *entities.Template) error
}

// TemplateProvider is the messaging provider's template API, resolved per organization.
type TemplateProvider interface {
	SubmitTemplate(ctx context.Context, t *entities.Template) (providerID string, status entities.TemplateStatus, err error)
	FetchTemplateStatus(ctx context.Context, t *entities.Template) (status entities.TemplateStatus, reason string, err error)
	SendTemplate(ctx context.Context, t *entities.Template, to string, params []string) (providerMessageID string, err error)
}
