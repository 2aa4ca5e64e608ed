package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"

	"github.com/dgnsrekt/speechkit/internal/metrics"
	"github.com/dgnsrekt/speechkit/internal/ttypes"
)

const (
	// DefaultCeiling is the byte budget for all stored items.
	DefaultCeiling = 50 << 20

	// DefaultCompressThreshold is the serialized size above which payloads
	// are compressed.
	DefaultCompressThreshold = 1 << 10
)

// envelope is the stored form of every item. Exactly one of Payload and
// Packed is set.
type envelope struct {
	Payload    json.RawMessage `json:"payload,omitempty"`
	Packed     []byte          `json:"packed,omitempty"`
	Timestamp  int64           `json:"timestamp"`
	Size       int             `json:"size"`
	Compressed bool            `json:"compressed"`
	MaxAge     int64           `json:"maxAge,omitempty"`
}

func (e *envelope) expired(now time.Time) bool {
	return e.MaxAge > 0 && now.UnixMilli()-e.Timestamp > e.MaxAge
}

// itemMeta is the in-memory index entry for a stored key.
type itemMeta struct {
	size      int
	timestamp int64
	maxAge    int64
}

// SetOptions controls a single write.
type SetOptions struct {
	// Compress defaults to true when nil.
	Compress *bool
	// MaxAge of zero never expires.
	MaxAge time.Duration
}

// Bool returns a pointer to b, for SetOptions.Compress.
func Bool(b bool) *bool {
	return &b
}

// ItemInfo describes a stored item without decoding its payload.
type ItemInfo struct {
	Key        string
	StoredSize int
	ValueSize  int
	Timestamp  time.Time
	MaxAge     time.Duration
	Compressed bool
	Expired    bool
}

// LargestItem names the biggest stored item.
type LargestItem struct {
	Key  string
	Size int
}

// Stats reports quota usage.
type Stats struct {
	UsedBytes     int64
	QuotaBytes    int64
	UsagePercent  float64
	ItemCount     int
	OldestItemAge time.Duration
	Largest       LargestItem
}

// Store is a quota-aware key/value layer over a Backend. Values are JSON
// encoded and wrapped in an envelope carrying timestamp and expiry. Every
// method is a no-op on a Store without a backend.
type Store struct {
	backend   Backend
	ceiling   int64
	threshold int
	logger    *log.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu        sync.Mutex
	index     map[string]itemMeta
	used      int64
	loaded    bool
	closed    bool
	essential map[string]bool
}

type Option func(*Store)

// WithCeiling sets the byte budget; the effective limit is the smaller of
// this and the backend quota.
func WithCeiling(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.ceiling = n
		}
	}
}

func WithCompressThreshold(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.threshold = n
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Store over backend. A nil backend yields a Store that
// stores nothing.
func New(backend Backend, opts ...Option) (*Store, error) {
	s := &Store{
		backend:   backend,
		ceiling:   DefaultCeiling,
		threshold: DefaultCompressThreshold,
		logger:    log.Default().WithPrefix("store"),
		now:       time.Now,
		index:     make(map[string]itemMeta),
		essential: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if backend == nil {
		return s, nil
	}

	var err error
	s.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	s.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return s, nil
}

// Enabled reports whether the store has a backend.
func (s *Store) Enabled() bool {
	return s != nil && s.backend != nil
}

// MarkEssential protects keys from reclamation.
func (s *Store) MarkEssential(keys ...string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.essential[k] = true
	}
}

// Set stores value under key and reports whether it was written. When the
// write does not fit, older items are reclaimed first; essential keys are
// never reclaimed.
func (s *Store) Set(key string, value any, opts SetOptions) bool {
	if !s.Enabled() {
		return false
	}

	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("Failed to serialize value", "key", key, "error", err)
		return false
	}

	now := s.now()
	env := envelope{
		Timestamp: now.UnixMilli(),
		Size:      len(raw),
		MaxAge:    opts.MaxAge.Milliseconds(),
	}
	compress := opts.Compress == nil || *opts.Compress
	if compress && len(raw) > s.threshold {
		if packed := s.encoder.EncodeAll(raw, nil); len(packed) < len(raw) {
			env.Packed = packed
			env.Compressed = true
		}
	}
	if !env.Compressed {
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		s.logger.Warn("Failed to encode envelope", "key", key, "error", err)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureIndexLocked()

	ok := s.writeLocked(key, data, env, raw)
	s.metrics.ObserveStoreWrite(ok)
	return ok
}

func (s *Store) writeLocked(key string, data []byte, env envelope, raw []byte) bool {
	limit := s.limitLocked()
	if int64(len(data)) > limit {
		s.logger.Warn("Item larger than storage budget", "key", key, "size", len(data), "limit", limit)
		return false
	}

	if need := int64(len(data)); need > s.availableLocked(key, limit) {
		s.reclaimLocked(need, key, limit)
		if need > s.availableLocked(key, limit) {
			s.logger.Warn("Storage quota exceeded after reclamation", "key", key, "size", need)
			return false
		}
	}

	err := s.backend.Set(key, data)
	if errors.Is(err, ErrQuotaExceeded) {
		minimal := envelope{Payload: raw, Timestamp: env.Timestamp, Size: env.Size, MaxAge: env.MaxAge}
		retry, mErr := json.Marshal(minimal)
		if mErr == nil && int64(len(retry)) <= s.availableLocked(key, limit) {
			s.logger.Debug("Backend quota hit, retrying with minimal envelope", "key", key)
			if err = s.backend.Set(key, retry); err == nil {
				data = retry
			}
		}
	}
	if err != nil {
		s.logger.Warn("Storage write failed", "key", key, "error", err)
		return false
	}

	s.used += int64(len(data)) - int64(s.index[key].size)
	s.index[key] = itemMeta{size: len(data), timestamp: env.Timestamp, maxAge: env.MaxAge}
	return true
}

// limitLocked is the effective byte budget.
func (s *Store) limitLocked() int64 {
	limit := s.ceiling
	if est, err := s.backend.Estimate(); err == nil && est.Quota > 0 && est.Quota < limit {
		limit = est.Quota
	}
	return limit
}

// availableLocked is the space a write to key may use. The backend's own
// usage report wins when it exceeds the index total.
func (s *Store) availableLocked(key string, limit int64) int64 {
	used := s.used
	if est, err := s.backend.Estimate(); err == nil && est.Usage > used {
		used = est.Usage
	}
	return limit - used + int64(s.index[key].size)
}

// reclaimLocked frees space for a write of need bytes to key. Graduated
// reclamation deletes the oldest indexed non-essential items until the write
// fits; if that is not enough every non-essential backend key is deleted.
func (s *Store) reclaimLocked(need int64, key string, limit int64) {
	type candidate struct {
		key       string
		timestamp int64
	}
	var candidates []candidate
	for k, m := range s.index {
		if k == key || s.essential[k] {
			continue
		}
		candidates = append(candidates, candidate{k, m.timestamp})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].timestamp == candidates[j].timestamp {
			return candidates[i].key < candidates[j].key
		}
		return candidates[i].timestamp < candidates[j].timestamp
	})

	removed := 0
	for _, c := range candidates {
		if need <= s.availableLocked(key, limit) {
			break
		}
		if s.deleteLocked(c.key) == nil {
			removed++
		}
	}
	if removed > 0 {
		s.metrics.AddReclaimed("graduated", removed)
		s.logger.Warn("Reclaimed storage", "mode", "graduated", "removed", removed)
	}
	if need <= s.availableLocked(key, limit) {
		return
	}

	// Emergency: delete every non-essential key the backend holds, including
	// any the index does not know about, then rebuild the index.
	keys, err := s.backend.Keys()
	if err != nil {
		s.logger.Warn("Emergency reclamation failed", "error", err)
		return
	}
	removed = 0
	for _, k := range keys {
		if k == key || s.essential[k] {
			continue
		}
		if s.backend.Delete(k) == nil {
			removed++
		}
	}
	s.loaded = false
	s.ensureIndexLocked()
	s.metrics.AddReclaimed("emergency", removed)
	s.logger.Warn("Reclaimed storage", "mode", "emergency", "removed", removed)
}

// Get decodes the value stored under key into dst. Expired and corrupt
// entries are deleted and reported as missing.
func (s *Store) Get(key string, dst any) bool {
	if !s.Enabled() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureIndexLocked()

	env, ok := s.readLocked(key)
	if !ok {
		return false
	}

	payload := []byte(env.Payload)
	if env.Compressed {
		var err error
		payload, err = s.decoder.DecodeAll(env.Packed, nil)
		if err != nil {
			s.dropCorruptLocked(key, err)
			return false
		}
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		s.dropCorruptLocked(key, err)
		return false
	}
	return true
}

// GetAs is a typed wrapper around Store.Get.
func GetAs[T any](s *Store, key string) (T, bool) {
	var v T
	ok := s.Get(key, &v)
	return v, ok
}

// Peek returns metadata for key without decoding its payload. Expired items
// are reported, not removed.
func (s *Store) Peek(key string) (ItemInfo, bool) {
	if !s.Enabled() {
		return ItemInfo{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureIndexLocked()

	data, ok, err := s.backend.Get(key)
	if err != nil || !ok {
		return ItemInfo{}, false
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ItemInfo{}, false
	}
	return ItemInfo{
		Key:        key,
		StoredSize: len(data),
		ValueSize:  env.Size,
		Timestamp:  time.UnixMilli(env.Timestamp),
		MaxAge:     time.Duration(env.MaxAge) * time.Millisecond,
		Compressed: env.Compressed,
		Expired:    env.expired(s.now()),
	}, true
}

// readLocked loads and validates the envelope for key.
func (s *Store) readLocked(key string) (*envelope, bool) {
	data, ok, err := s.backend.Get(key)
	if err != nil {
		s.logger.Warn("Storage read failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		s.forgetLocked(key)
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.dropCorruptLocked(key, err)
		return nil, false
	}
	if env.expired(s.now()) {
		s.logger.Debug("Removing expired item", "key", key)
		_ = s.deleteLocked(key)
		return nil, false
	}
	return &env, true
}

func (s *Store) dropCorruptLocked(key string, cause error) {
	s.logger.Warn("Removing corrupted item", "key", key, "error", fmt.Errorf("%w: %w", ttypes.ErrCorruptedEntry, cause))
	_ = s.deleteLocked(key)
}

// Delete removes key.
func (s *Store) Delete(key string) {
	if !s.Enabled() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureIndexLocked()

	if err := s.deleteLocked(key); err != nil {
		s.logger.Warn("Storage delete failed", "key", key, "error", err)
	}
}

func (s *Store) deleteLocked(key string) error {
	if err := s.backend.Delete(key); err != nil {
		return err
	}
	s.forgetLocked(key)
	return nil
}

func (s *Store) forgetLocked(key string) {
	if m, ok := s.index[key]; ok {
		s.used -= int64(m.size)
		delete(s.index, key)
	}
}

// Keys returns the stored keys with the given prefix in sorted order.
func (s *Store) Keys(prefix string) []string {
	if !s.Enabled() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureIndexLocked()

	var keys []string
	for k := range s.index {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Stats reports usage against the effective budget.
func (s *Store) Stats() Stats {
	if !s.Enabled() {
		return Stats{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureIndexLocked()

	st := Stats{
		UsedBytes:  s.used,
		QuotaBytes: s.limitLocked(),
		ItemCount:  len(s.index),
	}
	if st.QuotaBytes > 0 {
		st.UsagePercent = float64(st.UsedBytes) / float64(st.QuotaBytes) * 100
	}

	now := s.now().UnixMilli()
	oldest := now
	for k, m := range s.index {
		if m.timestamp < oldest {
			oldest = m.timestamp
		}
		if m.size > st.Largest.Size || (m.size == st.Largest.Size && k < st.Largest.Key) {
			st.Largest = LargestItem{Key: k, Size: m.size}
		}
	}
	if len(s.index) > 0 {
		st.OldestItemAge = time.Duration(now-oldest) * time.Millisecond
	}
	return st
}

// Cleanup removes every expired item and returns how many were removed.
func (s *Store) Cleanup() int {
	if !s.Enabled() {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureIndexLocked()

	now := s.now().UnixMilli()
	removed := 0
	for k, m := range s.index {
		if m.maxAge > 0 && now-m.timestamp > m.maxAge {
			if s.deleteLocked(k) == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		s.logger.Debug("Removed expired items", "count", removed)
	}
	return removed
}

// Clear removes every item, essential or not.
func (s *Store) Clear() error {
	if !s.Enabled() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.backend.Keys()
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}
	var errs []error
	for _, k := range keys {
		if err := s.backend.Delete(k); err != nil {
			errs = append(errs, err)
		}
	}
	s.index = make(map[string]itemMeta)
	s.used = 0
	s.loaded = len(errs) == 0
	return errors.Join(errs...)
}

// Close releases the backend. Later calls do nothing.
func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.encoder.Close()
	s.decoder.Close()
	return s.backend.Close()
}

// ensureIndexLocked builds the key index from the backend on first use.
// Unparseable items found while loading are deleted.
func (s *Store) ensureIndexLocked() {
	if s.loaded {
		return
	}
	keys, err := s.backend.Keys()
	if err != nil {
		s.logger.Warn("Failed to list stored keys", "error", err)
		return
	}

	s.index = make(map[string]itemMeta, len(keys))
	s.used = 0
	for _, k := range keys {
		data, ok, err := s.backend.Get(k)
		if err != nil || !ok {
			continue
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn("Removing corrupted item", "key", k, "error", err)
			_ = s.backend.Delete(k)
			continue
		}
		s.index[k] = itemMeta{size: len(data), timestamp: env.Timestamp, maxAge: env.MaxAge}
		s.used += int64(len(data))
	}
	s.loaded = true
}
