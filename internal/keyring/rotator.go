// Package keyring rotates outbound API keys round-robin per provider
// so that concurrent background pipelines spread load across a key
// pool instead of hammering one key.
package keyring

import (
	"log"
	"strings"
	"sync"
)

// Rotator holds one independent rotation cycle per provider. Access is
// serialised; concurrent callers receive distinct keys in round-robin
// order. An empty pool yields the caller-supplied fallback.
type Rotator struct {
	mu    sync.Mutex
	pools map[string][]string
	next  map[string]int
}

func New() *Rotator {
	return &Rotator{
		pools: make(map[string][]string),
		next:  make(map[string]int),
	}
}

// SetPool installs the key pool for a provider from a comma-separated
// list. Blank entries are discarded; a fully blank list leaves the
// provider on fallback-only behaviour.
func (r *Rotator) SetPool(provider, raw string) {
	keys := ParseKeys(raw)

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(keys) == 0 {
		delete(r.pools, provider)
		delete(r.next, provider)
		log.Printf("[KEYRING] No %s key pool configured — using fallback keys", provider)
		return
	}
	r.pools[provider] = keys
	r.next[provider] = 0
	log.Printf("[KEYRING] %s round-robin pool initialised with %d key(s)", provider, len(keys))
}

// Next returns the next key for the provider, or fallback when no pool
// is configured. Misconfiguration is never observable as an error.
func (r *Rotator) Next(provider, fallback string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	pool, ok := r.pools[provider]
	if !ok || len(pool) == 0 {
		return fallback
	}
	key := pool[r.next[provider]]
	r.next[provider] = (r.next[provider] + 1) % len(pool)
	return key
}

// PoolSize reports how many keys are rotating for a provider.
func (r *Rotator) PoolSize(provider string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pools[provider])
}

// ParseKeys splits a comma-separated key string into a clean list.
func ParseKeys(raw string) []string {
	if raw == "" {
		return nil
	}
	var keys []string
	for _, part := range strings.Split(raw, ",") {
		if k := strings.TrimSpace(part); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
