package insight

import (
	"strings"
	"time"

	"summoner-story/internal/config"
	"summoner-story/internal/domain"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache holds generated narratives keyed by payload fingerprint. It is safe for concurrent use. A
// miss never blocks other callers, so two racing jobs may both generate; the later Put wins.
type Cache struct {
	lru *expirable.LRU[string, domain.Narrative]
}

func NewCache(size int, ttl time.Duration) *Cache {
	return &Cache{lru: expirable.NewLRU[string, domain.Narrative](size, nil, ttl)}
}

func NewCacheFromConfig(cfg *config.Config) *Cache {
	return NewCache(cfg.InsightCacheSize, cfg.InsightCacheTTL)
}

// Key scopes a fingerprint to the template and the player the narrative addresses by name.
func Key(fingerprint, template, handle string) string {
	return fingerprint + ":" + template + ":" + strings.ToLower(handle)
}

func (c *Cache) Get(key string) (domain.Narrative, bool) {
	return c.lru.Get(key)
}

func (c *Cache) Put(key string, n domain.Narrative) {
	c.lru.Add(key, n)
}

func (c *Cache) Len() int {
	return c.lru.Len()
}
