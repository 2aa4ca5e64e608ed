package cache

import (
	"errors"
	"time"
)

// Common errors for cache operations
var (
	// ErrItemTooLarge is returned when a payload exceeds the byte ceiling
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrEmptyPayload is returned when asked to cache no audio
	ErrEmptyPayload = errors.New("cannot cache an empty payload")
)

const (
	// KeyPrefix isolates cache entries inside the persistent store.
	KeyPrefix = "tts:"

	oneDay = 24 * time.Hour
)

// Config holds the cache ceilings.
type Config struct {
	TTL        time.Duration
	MaxEntries int
	MaxBytes   int64
	// EvictFraction of entries removed per eviction round, rounded up.
	EvictFraction float64
}

// DefaultConfig returns default cache configuration
func DefaultConfig() Config {
	return Config{
		TTL:           7 * oneDay,
		MaxEntries:    100,
		MaxBytes:      20 << 20,
		EvictFraction: 0.25,
	}
}

// Entry is a cached synthesis result.
type Entry struct {
	Key            string    `json:"key"`
	NormalizedText string    `json:"normalizedText"`
	ModelID        string    `json:"modelId"`
	Format         string    `json:"format"`
	Payload        []byte    `json:"payload"`
	SizeBytes      int       `json:"sizeBytes"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessAt   time.Time `json:"lastAccessAt"`
	AccessCount    int       `json:"accessCount"`
	Compressed     bool      `json:"compressed"`
}

// EvictionScore ranks entries for eviction; lower scores go first.
// Score = lastAccess(ms) + accessCount * one day(ms), so each access is
// worth a day of recency.
func (e *Entry) EvictionScore() int64 {
	return evictionScore(e.LastAccessAt, e.AccessCount)
}

func evictionScore(lastAccess time.Time, accessCount int) int64 {
	return lastAccess.UnixMilli() + int64(accessCount)*oneDay.Milliseconds()
}

func (e *Entry) expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(e.CreatedAt) > ttl
}

// Stats holds cache performance metrics
type Stats struct {
	Entries    int
	Bytes      int64
	MaxEntries int
	MaxBytes   int64

	Hits      int64
	Misses    int64
	Evictions int64
	HitRate   float64

	Oldest time.Time
	Newest time.Time
}

// Seed is a phrase to synthesize ahead of time.
type Seed struct {
	Text    string
	ModelID string
	Format  string
}

// DefaultPhrases are common short responses worth having ready.
var DefaultPhrases = []string{
	"Hello!",
	"How can I help you today?",
	"Processing your request.",
	"Your file is ready.",
	"Something went wrong. Please try again.",
	"Thank you!",
	"Done.",
}
