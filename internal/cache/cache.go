package cache

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/speechkit/internal/metrics"
	"github.com/dgnsrekt/speechkit/internal/storage"
	"github.com/dgnsrekt/speechkit/internal/ttypes"
)

// SynthesizeFunc produces audio for a seed during Preload.
type SynthesizeFunc func(ctx context.Context, text, modelID, format string) ([]byte, error)

// entryMeta mirrors the parts of an Entry needed for eviction decisions.
type entryMeta struct {
	size        int
	createdAt   time.Time
	lastAccess  time.Time
	accessCount int
}

func (m entryMeta) score() int64 {
	return evictionScore(m.lastAccess, m.accessCount)
}

// ResponseCache caches synthesized speech in a storage.Store.
type ResponseCache struct {
	store   *storage.Store
	cfg     Config
	logger  *log.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu        sync.Mutex
	index     map[string]entryMeta
	loaded    bool
	hits      int64
	misses    int64
	evictions int64
}

type Option func(*ResponseCache)

func WithLogger(l *log.Logger) Option {
	return func(c *ResponseCache) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *ResponseCache) {
		c.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *ResponseCache) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a cache over store. Zero config fields take defaults.
func New(store *storage.Store, cfg Config, opts ...Option) *ResponseCache {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	if cfg.EvictFraction <= 0 || cfg.EvictFraction > 1 {
		cfg.EvictFraction = def.EvictFraction
	}

	c := &ResponseCache{
		store:  store,
		cfg:    cfg,
		logger: log.Default().WithPrefix("cache"),
		now:    time.Now,
		index:  make(map[string]entryMeta),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Has reports whether a live entry exists. Expired entries are removed.
func (c *ResponseCache) Has(text, modelID, format string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.lookupLocked(Normalize(text), modelID, format)
	return ok
}

// Get returns the cached payload and records the access.
func (c *ResponseCache) Get(text, modelID, format string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lookupLocked(Normalize(text), modelID, format)
	if !ok {
		c.misses++
		c.metrics.ObserveCacheLookup(false)
		return nil, false
	}

	now := c.now()
	entry.AccessCount++
	entry.LastAccessAt = now
	if !c.store.Set(entry.Key, entry, storage.SetOptions{MaxAge: c.remainingTTL(entry, now)}) {
		c.logger.Warn("Failed to persist cache access", "key", entry.Key)
	}
	c.index[entry.Key] = metaOf(entry)

	c.hits++
	c.metrics.ObserveCacheLookup(true)
	c.logger.Debug("Cache hit", "key", entry.Key, "accesses", entry.AccessCount)
	return entry.Payload, true
}

// lookupLocked loads the entry for the normalized triple. Entries whose
// stored inputs differ from the request are hash collisions and count as
// absent.
func (c *ResponseCache) lookupLocked(normalized, modelID, format string) (*Entry, bool) {
	key := keyFor(normalized, modelID, format)

	var entry Entry
	if !c.store.Get(key, &entry) {
		delete(c.index, key)
		return nil, false
	}
	if entry.NormalizedText != normalized || entry.ModelID != modelID || entry.Format != format {
		c.logger.Debug("Cache key collision", "key", key)
		return nil, false
	}
	if entry.expired(c.now(), c.cfg.TTL) {
		c.store.Delete(key)
		delete(c.index, key)
		return nil, false
	}
	return &entry, true
}

// Put caches payload for the request, evicting low-scoring entries first
// when a ceiling is reached. It reports whether the entry was stored.
func (c *ResponseCache) Put(text, modelID, format string, payload []byte) bool {
	if len(payload) == 0 {
		c.logger.Debug("Refusing to cache payload", "error", ErrEmptyPayload)
		return false
	}
	if int64(len(payload)) > c.cfg.MaxBytes {
		c.logger.Warn("Refusing to cache payload", "size", len(payload), "error", ErrItemTooLarge)
		return false
	}

	normalized := Normalize(text)
	key := keyFor(normalized, modelID, format)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncIndexLocked()

	c.makeRoomLocked(key, len(payload))

	entry := &Entry{
		Key:            key,
		NormalizedText: normalized,
		ModelID:        modelID,
		Format:         format,
		Payload:        payload,
		SizeBytes:      len(payload),
		CreatedAt:      now,
		LastAccessAt:   now,
		Compressed:     true,
	}
	if !c.store.Set(key, entry, storage.SetOptions{Compress: storage.Bool(true), MaxAge: c.cfg.TTL}) {
		c.logger.Warn("Failed to store cache entry", "key", key)
		return false
	}
	c.index[key] = metaOf(entry)
	return true
}

// makeRoomLocked evicts until one more entry of size bytes fits. key is
// excluded from the count since writing it replaces the old value.
func (c *ResponseCache) makeRoomLocked(key string, size int) {
	for {
		count, bytes := 0, int64(0)
		for k, m := range c.index {
			if k == key {
				continue
			}
			count++
			bytes += int64(m.size)
		}
		if count == 0 || (count < c.cfg.MaxEntries && bytes+int64(size) <= c.cfg.MaxBytes) {
			return
		}
		c.evictLocked(key)
	}
}

// evictLocked deletes the lowest-scoring fraction of entries, rounded up.
func (c *ResponseCache) evictLocked(skip string) {
	type scored struct {
		key   string
		score int64
	}
	var candidates []scored
	for k, m := range c.index {
		if k == skip {
			continue
		}
		candidates = append(candidates, scored{k, m.score()})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score == candidates[j].score {
			return candidates[i].key < candidates[j].key
		}
		return candidates[i].score < candidates[j].score
	})

	n := int(math.Ceil(float64(len(candidates)) * c.cfg.EvictFraction))
	for _, victim := range candidates[:n] {
		c.store.Delete(victim.key)
		delete(c.index, victim.key)
	}
	c.evictions += int64(n)
	c.metrics.AddEvictions(n)
	c.logger.Debug("Evicted cache entries", "count", n, "remaining", len(c.index))
}

// syncIndexLocked reconciles the in-memory index with the store, which may
// have reclaimed entries on its own.
func (c *ResponseCache) syncIndexLocked() {
	keys := c.store.Keys(KeyPrefix)
	present := make(map[string]bool, len(keys))
	for _, k := range keys {
		present[k] = true
		if _, ok := c.index[k]; ok && c.loaded {
			continue
		}
		var entry Entry
		if c.store.Get(k, &entry) {
			c.index[k] = metaOf(&entry)
		}
	}
	for k := range c.index {
		if !present[k] {
			delete(c.index, k)
		}
	}
	c.loaded = true
}

func metaOf(e *Entry) entryMeta {
	return entryMeta{
		size:        e.SizeBytes,
		createdAt:   e.CreatedAt,
		lastAccess:  e.LastAccessAt,
		accessCount: e.AccessCount,
	}
}

func (c *ResponseCache) remainingTTL(e *Entry, now time.Time) time.Duration {
	left := c.cfg.TTL - now.Sub(e.CreatedAt)
	if left <= 0 {
		return time.Millisecond
	}
	return left
}

// HitRate is hits/(hits+misses) since construction or the last Clear.
func (c *ResponseCache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return hitRate(c.hits, c.misses)
}

func hitRate(hits, misses int64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// Preload synthesizes and caches each seed that is not cached yet. It
// returns the number of entries added. Synthesis failures are logged and
// skipped; cancellation stops the preload.
func (c *ResponseCache) Preload(ctx context.Context, synth SynthesizeFunc, seeds []Seed) (int, error) {
	added := 0
	for _, seed := range seeds {
		if err := ttypes.ContextError(ctx); err != nil {
			return added, err
		}
		if c.Has(seed.Text, seed.ModelID, seed.Format) {
			continue
		}

		payload, err := synth(ctx, seed.Text, seed.ModelID, seed.Format)
		if err != nil {
			if ttypes.IsCancellation(err) || ttypes.IsTimeout(err) {
				return added, err
			}
			c.logger.Warn("Preload synthesis failed", "text", seed.Text, "error", err)
			continue
		}
		// synth may have stored the payload itself.
		if c.Has(seed.Text, seed.ModelID, seed.Format) || c.Put(seed.Text, seed.ModelID, seed.Format, payload) {
			added++
		}
	}
	return added, nil
}

// Entries lists live entries without payloads, most recently used first.
func (c *ResponseCache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncIndexLocked()

	now := c.now()
	var out []Entry
	for k := range c.index {
		var e Entry
		if !c.store.Get(k, &e) || e.expired(now, c.cfg.TTL) {
			continue
		}
		e.Payload = nil
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastAccessAt.After(out[j].LastAccessAt)
	})
	return out
}

func (c *ResponseCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncIndexLocked()

	st := Stats{
		Entries:    len(c.index),
		MaxEntries: c.cfg.MaxEntries,
		MaxBytes:   c.cfg.MaxBytes,
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
		HitRate:    hitRate(c.hits, c.misses),
	}
	for _, m := range c.index {
		st.Bytes += int64(m.size)
		if st.Oldest.IsZero() || m.createdAt.Before(st.Oldest) {
			st.Oldest = m.createdAt
		}
		if m.createdAt.After(st.Newest) {
			st.Newest = m.createdAt
		}
	}
	return st
}

// Cleanup removes entries past the TTL and returns how many were removed.
func (c *ResponseCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncIndexLocked()

	now := c.now()
	removed := 0
	for k, m := range c.index {
		if now.Sub(m.createdAt) > c.cfg.TTL {
			c.store.Delete(k)
			delete(c.index, k)
			removed++
		}
	}
	return removed
}

// Clear removes every entry and resets the hit counters.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range c.store.Keys(KeyPrefix) {
		c.store.Delete(k)
	}
	c.index = make(map[string]entryMeta)
	c.hits, c.misses, c.evictions = 0, 0, 0
}
