package cache

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Domain actions mapped to invalidation sets by InvalidateOnAction.
const (
	ActionMarkRead   = "mark_read"
	ActionMarkUnread = "mark_unread"
	ActionArchive    = "archive"
	ActionDelete     = "delete"
	ActionSend       = "send"
	ActionReceive    = "receive"
)

type Options struct {
	// Tier1TTLCeiling caps every tier-one TTL so a hot read is never more
	// than a few seconds staler than tier two.
	Tier1TTLCeiling time.Duration
	Tier1MaxEntries int
	// A key read HotKeyThreshold times within HotKeyWindow is promoted from
	// tier two into tier one.
	HotKeyThreshold int
	HotKeyWindow    time.Duration
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.Tier1TTLCeiling <= 0 {
		opts.Tier1TTLCeiling = 5 * time.Second
	}
	if opts.Tier1MaxEntries <= 0 {
		opts.Tier1MaxEntries = 10000
	}
	if opts.HotKeyThreshold <= 0 {
		opts.HotKeyThreshold = 3
	}
	if opts.HotKeyWindow <= 0 {
		opts.HotKeyWindow = time.Minute
	}
	return opts
}

// TieredCache layers a small in-process tier over a shared persistent tier.
// Tier-two failures degrade to tier-one-only operation; they are logged and
// never surfaced to the caller.
type TieredCache struct {
	tier1 *memoryTier
	tier2 Store
	opts  Options

	hitMu sync.Mutex
	hits  map[string]hitWindow
}

type hitWindow struct {
	count int
	start time.Time
}

func NewTieredCache(tier2 Store, opts Options) *TieredCache {
	opts = opts.withDefaults()
	return &TieredCache{
		tier1: newMemoryTier(opts.Tier1MaxEntries),
		tier2: tier2,
		opts:  opts,
		hits:  make(map[string]hitWindow),
	}
}

// Get checks tier one, then tier two. A tier-two hit is promoted into tier
// one only once the key is hot. Both-tier misses and tier-two failures
// return (nil, false); the caller fetches from the remote provider and Sets.
func (c *TieredCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if value, ok := c.tier1.get(key); ok {
		c.recordHit(key)
		return value, true
	}

	value, err := c.tier2.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("[Cache] tier two degraded on get %s: %v", key, err)
		}
		return nil, false
	}

	if c.recordHit(key) >= c.opts.HotKeyThreshold {
		c.tier1.set(key, value, c.opts.Tier1TTLCeiling)
	}
	return value, true
}

// Set writes tier one with the capped TTL and tier two with the requested
// TTL. A tier-two failure leaves tier one fresh and is only logged.
func (c *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	tier1TTL := ttl
	if tier1TTL > c.opts.Tier1TTLCeiling {
		tier1TTL = c.opts.Tier1TTLCeiling
	}
	c.tier1.set(key, value, tier1TTL)

	if err := c.tier2.Set(ctx, key, value, ttl); err != nil {
		log.Printf("[Cache] tier two degraded on set %s: %v", key, err)
	}
}

func (c *TieredCache) Delete(ctx context.Context, key string) {
	c.tier1.delete(key)
	if err := c.tier2.Delete(ctx, key); err != nil {
		log.Printf("[Cache] tier two degraded on delete %s: %v", key, err)
	}
}

// DeletePrefix is the pattern-invalidation path. The tier-two scan is the
// expensive half, so callers use it on explicit actions and confirmed
// remote changes, not speculatively.
func (c *TieredCache) DeletePrefix(ctx context.Context, prefix string) {
	c.tier1.deletePrefix(prefix)
	if err := c.tier2.DeletePrefix(ctx, prefix); err != nil {
		log.Printf("[Cache] tier two degraded on delete prefix %s: %v", prefix, err)
	}
}

// InvalidateOnAction maps a domain action to the entries it implies are
// stale. Every action can change list membership or counts, so listing
// pages and the stats key always go; membership-changing actions also drop
// search results; named threads drop their cached content.
func (c *TieredCache) InvalidateOnAction(ctx context.Context, provider, userID, action string, threadIDs []string) {
	c.DeletePrefix(ctx, EmailPagePrefix(provider, userID))
	c.Delete(ctx, StatsKey(provider, userID))

	switch action {
	case ActionArchive, ActionDelete, ActionSend, ActionReceive:
		c.DeletePrefix(ctx, SearchPrefix(provider, userID))
	}

	for _, threadID := range threadIDs {
		c.Delete(ctx, ThreadKey(provider, userID, threadID))
	}
}

// InvalidateUser drops every cached entry for the user. Used by the full
// resync path when incremental state is unrecoverable. AI entries are
// content-keyed and survive.
func (c *TieredCache) InvalidateUser(ctx context.Context, provider, userID string) {
	for _, prefix := range UserPrefixes(provider, userID) {
		c.DeletePrefix(ctx, prefix)
	}
	c.Delete(ctx, StatsKey(provider, userID))
}

// PurgeExpired sweeps both tiers. Wired to a periodic scheduler task.
func (c *TieredCache) PurgeExpired(ctx context.Context) {
	c.tier1.purgeExpired()
	c.pruneHitWindows()
	if err := c.tier2.PurgeExpired(ctx); err != nil {
		log.Printf("[Cache] tier two degraded on purge: %v", err)
	}
}

func (c *TieredCache) recordHit(key string) int {
	now := time.Now()
	c.hitMu.Lock()
	defer c.hitMu.Unlock()
	window := c.hits[key]
	if now.Sub(window.start) > c.opts.HotKeyWindow {
		window = hitWindow{start: now}
	}
	window.count++
	c.hits[key] = window
	return window.count
}

func (c *TieredCache) pruneHitWindows() {
	now := time.Now()
	c.hitMu.Lock()
	defer c.hitMu.Unlock()
	for key, window := range c.hits {
		if now.Sub(window.start) > c.opts.HotKeyWindow {
			delete(c.hits, key)
		}
	}
}
