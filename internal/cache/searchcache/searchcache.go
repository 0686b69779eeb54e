// Package searchcache keeps granule search results in an in-process LRU,
// optionally backed by a shared Redis tier.
package searchcache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/lakeextract/internal/core/observability"
	"github.com/mohammed-shakir/lakeextract/internal/logger"
)

const (
	tierLocal  = "local"
	tierRemote = "remote"
)

// Remote is the shared tier; *redisstore.Client satisfies it.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

type entry struct {
	val     []byte
	expires time.Time
}

type Cache struct {
	mu     sync.Mutex
	local  *lru.Cache[string, entry]
	remote Remote
	ttl    time.Duration
	now    func() time.Time
	log    *slog.Logger
}

// New builds a cache holding up to size local entries. A nil remote keeps
// the cache process-local; size <= 0 disables the local tier.
func New(size int, ttl time.Duration, remote Remote, log *slog.Logger) *Cache {
	c := &Cache{remote: remote, ttl: ttl, now: time.Now, log: logger.OrDiscard(log)}
	if size > 0 {
		c.local, _ = lru.New[string, entry](size)
	}
	return c
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c.local != nil {
		c.mu.Lock()
		e, ok := c.local.Get(key)
		if ok && c.ttl > 0 && c.now().After(e.expires) {
			c.local.Remove(key)
			ok = false
		}
		c.mu.Unlock()
		if ok {
			observability.ObserveSearchCache(tierLocal, observability.OutcomeHit)
			return e.val, true
		}
		observability.ObserveSearchCache(tierLocal, observability.OutcomeMiss)
	}

	if c.remote == nil {
		return nil, false
	}
	val, ok, err := c.remote.Get(ctx, key)
	if err != nil {
		c.log.WarnContext(ctx, "search cache remote get failed", "key", key, "err", err)
		observability.ObserveSearchCache(tierRemote, observability.OutcomeFailed)
		return nil, false
	}
	if !ok {
		observability.ObserveSearchCache(tierRemote, observability.OutcomeMiss)
		return nil, false
	}
	observability.ObserveSearchCache(tierRemote, observability.OutcomeHit)
	c.addLocal(key, val)
	return val, true
}

// Set stores val in every tier. Remote failures are logged and swallowed.
func (c *Cache) Set(ctx context.Context, key string, val []byte) {
	if len(val) == 0 {
		return
	}
	c.addLocal(key, val)
	if c.remote != nil {
		if err := c.remote.Set(ctx, key, val, c.ttl); err != nil {
			c.log.WarnContext(ctx, "search cache remote set failed", "key", key, "err", err)
		}
	}
}

func (c *Cache) addLocal(key string, val []byte) {
	if c.local == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local.Add(key, entry{val: val, expires: c.now().Add(c.ttl)})
}

// Len reports the number of local entries.
func (c *Cache) Len() int {
	if c.local == nil {
		return 0
	}
	return c.local.Len()
}
