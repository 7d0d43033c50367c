package cache

import (
	"time"

	"cassa/internal/settlement"
)

// SettlementCache memoizes settlement results by ledger revision. A
// revision never maps to two different expense sets, so entries only need
// to expire to bound memory.
type SettlementCache struct {
	lru *LRUCache[uint64, settlement.Result]
}

func NewSettlementCache(maxSize int, ttl time.Duration) *SettlementCache {
	return &SettlementCache{lru: NewLRUCache[uint64, settlement.Result](maxSize, ttl)}
}

// Get returns the result cached for revision, computing and storing it on
// a miss. hit reports whether compute was skipped.
func (c *SettlementCache) Get(revision uint64, compute func() (settlement.Result, uint64)) (res settlement.Result, rev uint64, hit bool) {
	if res, ok := c.lru.Get(revision); ok {
		return res, revision, true
	}
	res, rev = compute()
	c.lru.Set(rev, res)
	return res, rev, false
}

func (c *SettlementCache) CleanExpired() int {
	return c.lru.CleanExpired()
}

func (c *SettlementCache) Size() int {
	return c.lru.Size()
}
