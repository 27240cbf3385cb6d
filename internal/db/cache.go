package db

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

type cacheItem[T any] struct {
	Response Page[T]
	Expires  time.Time
}

// ListCache keeps first-page listings per scope (tenant, shop, ...) for a
// short TTL. Any write in a scope drops that scope's entries.
type ListCache[T any] struct {
	ttl   time.Duration
	mu    sync.RWMutex
	items map[string]cacheItem[T]
}

func NewListCache[T any](ttl time.Duration) *ListCache[T] {
	return &ListCache[T]{ttl: ttl, items: make(map[string]cacheItem[T])}
}

func CacheKey(scope string, parts ...any) string {
	var b strings.Builder
	b.WriteString(scope)
	for _, p := range parts {
		b.WriteString("|")
		b.WriteString(fmt.Sprint(p))
	}
	return b.String()
}

func (c *ListCache[T]) Get(key string) (Page[T], bool) {
	if c == nil || c.ttl <= 0 {
		return Page[T]{}, false
	}
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(item.Expires) {
		return Page[T]{}, false
	}
	return item.Response, true
}

func (c *ListCache[T]) Set(key string, value Page[T]) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.items[key] = cacheItem[T]{Response: value, Expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *ListCache[T]) Invalidate(scope string) {
	if c == nil || scope == "" {
		return
	}
	prefix := scope + "|"
	c.mu.Lock()
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
		}
	}
	c.mu.Unlock()
}
