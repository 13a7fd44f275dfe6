package infrastructure

import (
	"testing"
	"time"
)

func TestTemplateIDCacheExpires(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewTemplateIDCache(time.Hour, 10)
	c.now = func() time.Time { return now }

	c.Set("org-1", "order_update", "pt_BR", "123")
	if id, ok := c.Get("org-1", "order_update", "pt_BR"); !ok || id != "123" {
		t.Fatalf("expected cached id, got %q %v", id, ok)
	}
	if _, ok := c.Get("org-2", "order_update", "pt_BR"); ok {
		t.Fatal("expected organizations isolated")
	}
	if _, ok := c.Get("org-1", "order_update", "en_US"); ok {
		t.Fatal("expected language to be part of the key")
	}

	now = now.Add(2 * time.Hour)
	if _, ok := c.Get("org-1", "order_update", "pt_BR"); ok {
		t.Fatal("expected entry expired")
	}
}

func TestTemplateIDCacheCapped(t *testing.T) {
	c := NewTemplateIDCache(time.Hour, 2)
	c.Set("org-1", "a", "pt_BR", "1")
	c.Set("org-1", "b", "pt_BR", "2")
	c.Set("org-1", "c", "pt_BR", "3")
	if c.Len() > 2 {
		t.Fatalf("expected at most 2 entries, got %d", c.Len())
	}
	if id, ok := c.Get("org-1", "c", "pt_BR"); !ok || id != "3" {
		t.Fatal("expected newest entry kept")
	}
}
