package entities

type Scope string

const (
	ScopeProduct Scope = "product"
	ScopeGlobal  Scope = "global"
)

type KnowledgeChunk struct {
	ID             string
	OrganizationID string
	Title          string
	Content        string
	Scope          Scope
	Category       string
	ProductID      string
	Similarity     float64 // assigned at query time
}

type Product struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	Slug           string `json:"slug"`
	Description    string `json:"description"`
}

type RerankResult struct {
	Index int
	Score float64
}
