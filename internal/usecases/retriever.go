package usecases

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"whatsapp_ai_backend/internal/entities"
	"whatsapp_ai_backend/internal/interfaces"
)

const (
	DefaultTopK               = 5
	defaultContextMessages    = 15
	defaultProductLookback    = 5
	defaultSearchThreshold    = 0.30
	defaultEmergencyThreshold = 0.15
	defaultCandidatesPerQuery = 10
	shortMessageChars         = 50
	shortMessageWords         = 5
	dedupePrefixRunes         = 100
)

var ackPhrases = map[string]struct{}{
	"ok": {}, "okay": {}, "okk": {}, "blz": {}, "beleza": {}, "certo": {}, "entendi": {}, "entendido": {},
	"obrigado": {}, "obrigada": {}, "obg": {}, "brigado": {}, "valeu": {}, "vlw": {}, "show": {}, "top": {},
	"perfeito": {}, "otimo": {}, "ótimo": {}, "legal": {}, "massa": {}, "combinado": {}, "fechado": {},
	"oi": {}, "olá": {}, "ola": {}, "eai": {}, "e ai": {}, "e aí": {}, "bom dia": {}, "boa tarde": {}, "boa noite": {},
	"tchau": {}, "até mais": {}, "ate mais": {}, "até logo": {}, "ate logo": {}, "falou": {},
	"thanks": {}, "thank you": {}, "thx": {}, "hi": {}, "hello": {}, "hey": {}, "bye": {}, "got it": {},
	"great": {}, "cool": {}, "nice": {}, "good morning": {}, "good afternoon": {}, "good evening": {},
}

var ackPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(muito )?obrigad[oa]s?( (mesmo|demais|pela ajuda))?$`),
	regexp.MustCompile(`^(ok+|okay)( (obrigad[oa]|valeu|thanks))?$`),
	regexp.MustCompile(`^(k{2,}|(ha)+h?|(he)+h?|(hu)+h?|rs+)$`),
	regexp.MustCompile(`^(oi+|ol[aá]+)( (tudo bem|td bem|boa (tarde|noite)|bom dia))?$`),
	regexp.MustCompile(`^(thanks?|thank you)( (so much|a lot))?$`),
}

var needsAnswerKeywords = []string{
	"preço", "preco", "valor", "quanto", "custa", "custo", "price", "cost",
	"prazo", "demora", "deadline", "documento", "document", "link",
	"como", "onde", "quando", "qual", "quais", "how", "where", "when", "which",
}

// KnowledgeRetriever is what the composer needs from retrieval.
type KnowledgeRetriever interface {
	Retrieve(ctx context.Context, message, orgID string, history []entities.Message) []entities.KnowledgeChunk
}

type RetrieverConfig struct {
	TopK               int
	Dimensions         int
	ContextMessages    int
	ProductLookback    int
	Threshold          float64
	EmergencyThreshold float64
	CandidatesPerQuery int
}

func (c RetrieverConfig) withDefaults() RetrieverConfig {
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.ContextMessages <= 0 {
		c.ContextMessages = defaultContextMessages
	}
	if c.ProductLookback <= 0 {
		c.ProductLookback = defaultProductLookback
	}
	if c.Threshold <= 0 {
		c.Threshold = defaultSearchThreshold
	}
	if c.EmergencyThreshold <= 0 {
		c.EmergencyThreshold = defaultEmergencyThreshold
	}
	if c.CandidatesPerQuery <= 0 {
		c.CandidatesPerQuery = defaultCandidatesPerQuery
	}
	return c
}

type Retriever struct {
	embedder  interfaces.Embedder
	reranker  interfaces.Reranker
	knowledge interfaces.KnowledgeStore
	products  interfaces.ProductStore
	detector  *ProductDetector
	cfg       RetrieverConfig
	logger    zerolog.Logger
}

func NewRetriever(
	embedder interfaces.Embedder,
	reranker interfaces.Reranker,
	knowledge interfaces.KnowledgeStore,
	products interfaces.ProductStore,
	detector *ProductDetector,
	cfg RetrieverConfig,
	logger zerolog.Logger,
) *Retriever {
	return &Retriever{
		embedder:  embedder,
		reranker:  reranker,
		knowledge: knowledge,
		products:  products,
		detector:  detector,
		cfg:       cfg.withDefaults(),
		logger:    logger.With().Str("component", "retriever").Logger(),
	}
}

// Retrieve returns up to TopK chunks for message, most relevant first. Failures degrade to fewer results.
// history is the thread's prior messages, oldest first.
func (r *Retriever) Retrieve(ctx context.Context, message, orgID string, history []entities.Message) []entities.KnowledgeChunk {
	message = strings.TrimSpace(message)
	log := r.logger.With().Str("organization_id", orgID).Logger()

	var catalog []entities.Product
	catalogLoaded := false
	loadCatalog := func() []entities.Product {
		if catalogLoaded {
			return catalog
		}
		catalogLoaded = true
		products, err := r.products.ListProducts(ctx, orgID)
		if err != nil {
			log.Warn().Err(err).Msg("list products failed, continuing without catalog")
			return nil
		}
		catalog = products
		return catalog
	}

	if ShouldSkipRetrieval(message, func(text string) bool {
		if normalizeAck(text) == "" {
			return false
		}
		return len(r.detector.Detect(text, loadCatalog())) > 0
	}) {
		log.Debug().Str("message", message).Msg("retrieval skipped")
		return nil
	}

	query := buildQuery(message, history, r.cfg.ContextMessages)
	productIDs := r.scopeProducts(message, history, loadCatalog())

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		log.Warn().Err(err).Msg("embedding failed")
		return nil
	}
	if r.cfg.Dimensions > 0 && len(vec) != r.cfg.Dimensions {
		log.Warn().Int("expected", r.cfg.Dimensions).Int("got", len(vec)).Msg("embedding dimension mismatch")
		return nil
	}

	candidates := r.search(ctx, log, orgID, productIDs, vec)
	if len(candidates) == 0 {
		chunks, err := r.knowledge.SearchAllChunks(ctx, orgID, vec, r.cfg.EmergencyThreshold, r.cfg.CandidatesPerQuery)
		if err != nil {
			log.Warn().Err(err).Msg("emergency search failed")
		}
		candidates = dedupeChunks(chunks)
		log.Debug().Int("candidates", len(candidates)).Msg("emergency search")
	}

	return r.rerank(ctx, log, query, candidates)
}

func (r *Retriever) scopeProducts(message string, history []entities.Message, catalog []entities.Product) []string {
	if len(catalog) == 0 {
		return nil
	}
	ids := r.detector.Detect(message, catalog)
	if len(ids) > 0 || IsDisambiguation(message) {
		return ids
	}
	for i, seen := len(history)-1, 0; i >= 0 && seen < r.cfg.ProductLookback; i-- {
		seen++
		if ids := r.detector.Detect(history[i].Content, catalog); len(ids) > 0 {
			return ids
		}
	}
	return nil
}

func (r *Retriever) search(ctx context.Context, log zerolog.Logger, orgID string, productIDs []string, vec []float32) []entities.KnowledgeChunk {
	threshold, limit := r.cfg.Threshold, r.cfg.CandidatesPerQuery
	if len(productIDs) == 0 {
		chunks, err := r.knowledge.SearchAllChunks(ctx, orgID, vec, threshold, limit)
		if err != nil {
			log.Warn().Err(err).Msg("organization search failed")
		}
		return dedupeChunks(chunks)
	}

	// one slot per product plus the trailing global slot keeps the union order stable
	results := make([][]entities.KnowledgeChunk, len(productIDs)+1)
	var mu sync.Mutex
	var g errgroup.Group
	for i, productID := range productIDs {
		g.Go(func() error {
			chunks, err := r.knowledge.SearchProductChunks(ctx, orgID, productID, vec, threshold, limit)
			if err != nil {
				log.Warn().Err(err).Str("product_id", productID).Msg("product search failed")
				return nil
			}
			mu.Lock()
			results[i] = chunks
			mu.Unlock()
			return nil
		})
	}
	g.Go(func() error {
		chunks, err := r.knowledge.SearchGlobalChunks(ctx, orgID, vec, threshold, limit)
		if err != nil {
			log.Warn().Err(err).Msg("global search failed")
			return nil
		}
		mu.Lock()
		results[len(productIDs)] = chunks
		mu.Unlock()
		return nil
	})
	_ = g.Wait()

	var all []entities.KnowledgeChunk
	for _, chunks := range results {
		all = append(all, chunks...)
	}
	return dedupeChunks(all)
}

func (r *Retriever) rerank(ctx context.Context, log zerolog.Logger, query string, candidates []entities.KnowledgeChunk) []entities.KnowledgeChunk {
	k := r.cfg.TopK
	if len(candidates) <= k {
		return candidates
	}
	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Content
	}
	ranked, err := r.reranker.Rerank(ctx, query, docs, k)
	if err != nil || len(ranked) == 0 {
		log.Warn().Err(err).Int("candidates", len(candidates)).Msg("rerank failed, keeping first results")
		return candidates[:k]
	}
	out := make([]entities.KnowledgeChunk, 0, k)
	used := make(map[int]bool, k)
	for _, res := range ranked {
		if res.Index < 0 || res.Index >= len(candidates) || used[res.Index] {
			continue
		}
		used[res.Index] = true
		out = append(out, candidates[res.Index])
		if len(out) == k {
			break
		}
	}
	return out
}

// ShouldSkipRetrieval reports whether message is conversational filler not worth a retrieval pass.
// mentionsProduct lets short acknowledgements that name a catalog item through.
func ShouldSkipRetrieval(message string, mentionsProduct func(string) bool) bool {
	normalized := normalizeAck(message)
	if !isAcknowledgement(message, normalized) {
		return false
	}
	if len(strings.Fields(normalized)) >= shortMessageWords {
		return true
	}
	for _, word := range strings.Fields(normalized) {
		for _, kw := range needsAnswerKeywords {
			if word == kw {
				return false
			}
		}
	}
	// listed phrases never name a product; only the short-content rule needs the catalog
	if isListedAck(normalized) {
		return true
	}
	if mentionsProduct != nil && mentionsProduct(message) {
		return false
	}
	return true
}

func isAcknowledgement(raw, normalized string) bool {
	alnum := 0
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	if alnum < 3 {
		return true
	}
	return isListedAck(normalized)
}

func isListedAck(normalized string) bool {
	if _, ok := ackPhrases[normalized]; ok {
		return true
	}
	for _, p := range ackPatterns {
		if p.MatchString(normalized) {
			return true
		}
	}
	return false
}

func normalizeAck(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, text)
	return strings.Join(strings.Fields(text), " ")
}

func buildQuery(message string, history []entities.Message, n int) string {
	if utf8.RuneCountInString(message) >= shortMessageChars {
		return message
	}
	var prior []string
	for i := len(history) - 1; i >= 0 && len(prior) < n; i-- {
		m := history[i]
		if m.Direction != entities.DirectionInbound || strings.TrimSpace(m.Content) == "" {
			continue
		}
		prior = append(prior, strings.TrimSpace(m.Content))
	}
	if len(prior) == 0 {
		return message
	}
	// restore chronological order
	for i, j := 0, len(prior)-1; i < j; i, j = i+1, j-1 {
		prior[i], prior[j] = prior[j], prior[i]
	}
	return message + "\n" + strings.Join(prior, "\n")
}

func dedupeChunks(chunks []entities.KnowledgeChunk) []entities.KnowledgeChunk {
	seen := make(map[string]struct{}, len(chunks))
	out := make([]entities.KnowledgeChunk, 0, len(chunks))
	for _, c := range chunks {
		key := contentPrefix(c.Content)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

func contentPrefix(content string) string {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) <= dedupePrefixRunes {
		return content
	}
	return string([]rune(content)[:dedupePrefixRunes])
}
