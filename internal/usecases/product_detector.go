package usecases

import (
	"sort"
	"strings"

	"whatsapp_ai_backend/internal/entities"
)

// DefaultProductAliases maps a product slug to colloquial phrases customers use for it.
var DefaultProductAliases = map[string][]string{
	"visto-americano": {
		"só o visto", "so o visto", "apenas o visto", "somente o visto",
		"only the visa", "just the visa", "visa only",
	},
	"passaporte": {
		"só o passaporte", "so o passaporte", "apenas o passaporte",
		"only the passport", "just the passport",
	},
}

// Unaccented "so" is ordinary English; that spelling is only matched through the alias lists.
var disambiguationMarkers = []string{
	"only", "just", "só", "apenas", "somente",
}

// ProductDetector finds catalog products referenced in free text.
type ProductDetector struct {
	aliases map[string][]string
}

func NewProductDetector(aliases map[string][]string) *ProductDetector {
	normalized := make(map[string][]string, len(aliases))
	for slug, phrases := range aliases {
		key := strings.ToLower(strings.TrimSpace(slug))
		for _, phrase := range phrases {
			phrase = strings.ToLower(strings.TrimSpace(phrase))
			if phrase != "" {
				normalized[key] = append(normalized[key], phrase)
			}
		}
	}
	return &ProductDetector{aliases: normalized}
}

// Detect returns the sorted ids of every product the text mentions. An empty result means
// the caller should search all knowledge.
func (d *ProductDetector) Detect(text string, catalog []entities.Product) []string {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" || len(catalog) == 0 {
		return nil
	}

	found := make(map[string]struct{})

	bySlug := make(map[string]entities.Product, len(catalog))
	for _, p := range catalog {
		if p.Slug != "" {
			bySlug[strings.ToLower(p.Slug)] = p
		}
	}
	for slug, phrases := range d.aliases {
		p, ok := bySlug[slug]
		if !ok {
			continue
		}
		for _, phrase := range phrases {
			if strings.Contains(lower, phrase) {
				found[p.ID] = struct{}{}
				break
			}
		}
	}

	for _, p := range catalog {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		slug := strings.ToLower(strings.TrimSpace(p.Slug))
		if name != "" && strings.Contains(lower, name) {
			found[p.ID] = struct{}{}
			continue
		}
		if slug == "" {
			continue
		}
		if strings.Contains(lower, slug) {
			found[p.ID] = struct{}{}
			continue
		}
		spaced := strings.ReplaceAll(slug, "-", " ")
		joined := strings.ReplaceAll(slug, "-", "")
		if strings.Contains(lower, spaced) || strings.Contains(lower, joined) {
			found[p.ID] = struct{}{}
		}
	}

	ids := make([]string, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsDisambiguation reports whether text narrows a previous product reference
// ("only the visa", "just the passport").
func IsDisambiguation(text string) bool {
	words := " " + strings.Join(strings.Fields(strings.ToLower(text)), " ") + " "
	for _, marker := range disambiguationMarkers {
		if strings.Contains(words, " "+marker+" ") {
			return true
		}
	}
	return false
}
