package template

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 512

// Cache is a bounded parse-once cache keyed by the template source string.
// Bound functions parse their template a single time at construction, but
// code that renders ad-hoc templates per call (the migration connection,
// callers building SQL dynamically) goes through a Cache instead.
type Cache struct {
	cache *lru.Cache[string, *Template]
}

// NewCache creates a cache holding up to size parsed templates. A size of
// zero or less falls back to a default.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, _ := lru.New[string, *Template](size)
	return &Cache{cache: cache}
}

// Get returns the parsed template for source, parsing and caching it on the
// first request.
func (c *Cache) Get(source string) (*Template, error) {
	if t, ok := c.cache.Get(source); ok {
		return t, nil
	}
	t, err := Parse(source)
	if err != nil {
		return nil, err
	}
	c.cache.Add(source, t)
	return t, nil
}

// Len returns the number of cached templates.
func (c *Cache) Len() int { return c.cache.Len() }
