package compaction

import (
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ent0n29/reysq/internal/memory"
)

// summaryCache remembers recent fold results keyed by the fingerprint of
// their input, so retrying a fold after a failed save does not summarize the
// same turns twice.
type summaryCache struct {
	lru *expirable.LRU[uint64, string]
}

func newSummaryCache(size int, ttl time.Duration) *summaryCache {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &summaryCache{lru: expirable.NewLRU[uint64, string](size, nil, ttl)}
}

func (c *summaryCache) get(key uint64) (string, bool) {
	if c == nil {
		return "", false
	}
	return c.lru.Get(key)
}

func (c *summaryCache) put(key uint64, summary string) {
	if c == nil {
		return
	}
	c.lru.Add(key, summary)
}

// Fingerprint hashes a (summary, evicted turns) pair.
func Fingerprint(summary string, evicted []memory.Turn) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(summary)
	_, _ = d.Write([]byte{0})
	for _, t := range evicted {
		_, _ = d.WriteString(t.ID)
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(string(t.Role))
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(t.Content)
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}
