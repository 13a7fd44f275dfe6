package usecases

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"whatsapp_ai_backend/internal/apperr"
	"whatsapp_ai_backend/internal/entities"
	"whatsapp_ai_backend/internal/interfaces"
)

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// secretSettings are write-only from the dashboard.
var secretSettings = map[string]bool{
	SettingAnthropicAPIKey: true,
	"cloud_api_token":      true,
}

type DashboardUsecase struct {
	agents    interfaces.AgentAdminStore
	settings  interfaces.SettingsAdminStore
	products  interfaces.ProductCatalog
	knowledge interfaces.KnowledgeWriter
	embedder  interfaces.Embedder
	usage     interfaces.UsageReader
}

func NewDashboardUsecase(
	agents interfaces.AgentAdminStore,
	settings interfaces.SettingsAdminStore,
	products interfaces.ProductCatalog,
	knowledge interfaces.KnowledgeWriter,
	embedder interfaces.Embedder,
	usage interfaces.UsageReader,
) *DashboardUsecase {
	return &DashboardUsecase{
		agents:    agents,
		settings:  settings,
		products:  products,
		knowledge: knowledge,
		embedder:  embedder,
		usage:     usage,
	}
}

// Agent

func (u *DashboardUsecase) GetAgent(ctx context.Context, orgID string) (*entities.Agent, error) {
	return u.agents.GetAgent(ctx, orgID)
}

func (u *DashboardUsecase) SaveAgent(ctx context.Context, orgID string, agent *entities.Agent) error {
	agent.OrganizationID = orgID
	agent.Name = strings.TrimSpace(agent.Name)
	if agent.Name == "" {
		return fmt.Errorf("%w: agent name is required", apperr.ErrInvalidInput)
	}
	existing, err := u.agents.GetAgent(ctx, orgID)
	switch {
	case err == nil:
		agent.ID = existing.ID
	case errors.Is(err, apperr.ErrNotFound):
		agent.ID = uuid.NewString()
	default:
		return err
	}
	return u.agents.UpsertAgent(ctx, agent)
}

// Settings

func (u *DashboardUsecase) SetSetting(ctx context.Context, orgID, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: setting key is required", apperr.ErrInvalidInput)
	}
	return u.settings.SetSetting(ctx, orgID, key, strings.TrimSpace(value))
}

// ListSettingKeys returns configured keys; secret values are never read back.
func (u *DashboardUsecase) ListSettingKeys(ctx context.Context, orgID string) (map[string]bool, error) {
	keys, err := u.settings.ListSettingKeys(ctx, orgID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[k] = secretSettings[k]
	}
	return out, nil
}

// Products

func (u *DashboardUsecase) ListProducts(ctx context.Context, orgID string) ([]entities.Product, error) {
	return u.products.ListProducts(ctx, orgID)
}

// ImportProducts upserts a catalog from CSV with a header row: name[,slug][,description].
func (u *DashboardUsecase) ImportProducts(ctx context.Context, orgID string, data io.Reader) (int, error) {
	reader := csv.NewReader(data)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("%w: read CSV: %v", apperr.ErrInvalidInput, err)
	}
	if len(records) < 2 {
		return 0, fmt.Errorf("%w: CSV has no rows", apperr.ErrInvalidInput)
	}

	col := map[string]int{"name": -1, "slug": -1, "description": -1}
	for i, h := range records[0] {
		if _, ok := col[strings.ToLower(strings.TrimSpace(h))]; ok {
			col[strings.ToLower(strings.TrimSpace(h))] = i
		}
	}
	if col["name"] < 0 {
		return 0, fmt.Errorf("%w: CSV needs a name column", apperr.ErrInvalidInput)
	}
	field := func(row []string, name string) string {
		if i := col[name]; i >= 0 && i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	var products []entities.Product
	for _, row := range records[1:] {
		name := field(row, "name")
		if name == "" {
			continue
		}
		slug := field(row, "slug")
		if slug == "" {
			slug = Slugify(name)
		}
		products = append(products, entities.Product{
			ID:             uuid.NewString(),
			OrganizationID: orgID,
			Name:           name,
			Slug:           slug,
			Description:    field(row, "description"),
		})
	}
	return u.products.UpsertProducts(ctx, orgID, products)
}

// Knowledge

type KnowledgeInput struct {
	Title     string `json:"title"`
	Content   string `json:"content" binding:"required"`
	Category  string `json:"category"`
	ProductID string `json:"product_id"`
}

// IngestKnowledge embeds and stores one passage. A product id makes it product scoped.
func (u *DashboardUsecase) IngestKnowledge(ctx context.Context, orgID string, in KnowledgeInput) (*entities.KnowledgeChunk, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", apperr.ErrInvalidInput)
	}
	chunk := &entities.KnowledgeChunk{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Title:          strings.TrimSpace(in.Title),
		Content:        content,
		Scope:          entities.ScopeGlobal,
		Category:       strings.TrimSpace(in.Category),
		ProductID:      strings.TrimSpace(in.ProductID),
	}
	if chunk.ProductID != "" {
		chunk.Scope = entities.ScopeProduct
	}
	text := content
	if chunk.Title != "" {
		text = chunk.Title + "\n" + content
	}
	vec, err := u.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed knowledge: %w", err)
	}
	if err := u.knowledge.InsertChunk(ctx, chunk, vec); err != nil {
		return nil, fmt.Errorf("store knowledge: %w", err)
	}
	return chunk, nil
}

// Usage

func (u *DashboardUsecase) UsageHistory(ctx context.Context, orgID string, days int) ([]entities.DailyUsage, error) {
	if days <= 0 || days > 366 {
		days = 30
	}
	return u.usage.GetUsageHistory(ctx, orgID, days)
}

// Slugify lowercases and hyphenates a product name, keeping accented letters as their base form.
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = accentReplacer.Replace(s)
	s = slugInvalid.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

var accentReplacer = strings.NewReplacer(
	"á", "a", "à", "a", "â", "a", "ã", "a", "ä", "a",
	"é", "e", "ê", "e", "è", "e",
	"í", "i", "î", "i",
	"ó", "o", "ô", "o", "õ", "o", "ö", "o",
	"ú", "u", "ü", "u",
	"ç", "c", "ñ", "n",
)
