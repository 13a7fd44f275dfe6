package infrastructure

import (
	"sync"
	"time"
)

// TemplateIDCache remembers provider template ids by organization, name and language.
type TemplateIDCache struct {
	mu      sync.Mutex
	entries map[string]templateIDEntry
	ttl     time.Duration
	max     int
	now     func() time.Time
}

type templateIDEntry struct {
	id        string
	expiresAt time.Time
}

func NewTemplateIDCache(ttl time.Duration, max int) *TemplateIDCache {
	return &TemplateIDCache{
		entries: make(map[string]templateIDEntry),
		ttl:     ttl,
		max:     max,
		now:     time.Now,
	}
}

func templateCacheKey(orgID, name, language string) string {
	return orgID + "\x00" + name + "\x00" + language
}

func (c *TemplateIDCache) Get(orgID, name, language string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := templateCacheKey(orgID, name, language)
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return "", false
	}
	return e.id, true
}

func (c *TemplateIDCache) Set(orgID, name, language, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if len(c.entries) >= c.max {
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
		// still full: drop an arbitrary entry
		for k := range c.entries {
			if len(c.entries) < c.max {
				break
			}
			delete(c.entries, k)
		}
	}
	c.entries[templateCacheKey(orgID, name, language)] = templateIDEntry{id: id, expiresAt: now.Add(c.ttl)}
}

func (c *TemplateIDCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
