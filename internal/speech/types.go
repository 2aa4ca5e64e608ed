package speech

import (
	"context"
	"time"

	"github.com/dgnsrekt/speechkit/internal/cache"
	"github.com/dgnsrekt/speechkit/internal/coordinator"
	"github.com/dgnsrekt/speechkit/internal/retry"
	"github.com/dgnsrekt/speechkit/internal/storage"
	"github.com/dgnsrekt/speechkit/internal/ttypes"
	"github.com/dgnsrekt/speechkit/internal/usage"
)

const (
	// MaxUploadBytes is the largest audio payload accepted for transcription.
	MaxUploadBytes = 25 << 20
	// MaxTextChars is the longest text accepted for synthesis, in runes.
	MaxTextChars = 5000

	DefaultVoicesTTL       = 5 * time.Minute
	DefaultCleanupInterval = time.Hour
	DefaultPurgeInterval   = 24 * time.Hour
)

type TranscriptionInput = ttypes.TranscriptionInput

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, in TranscriptionInput) (*ttypes.Transcript, error)
}

// Synthesizer turns text into an audio payload. An empty payload must be
// reported as ttypes.ErrEmptyPayload.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, modelID, format string) ([]byte, error)
}

// VoiceCatalog lists the voices a provider offers.
type VoiceCatalog interface {
	Voices(ctx context.Context) ([]ttypes.Voice, error)
}

// Provider is a backend implementing every speech capability.
type Provider interface {
	Name() string
	Transcriber
	Synthesizer
	VoiceCatalog
}

// Config controls a Service. Zero fields take defaults.
type Config struct {
	Coordinator coordinator.Config
	Cache       cache.Config
	// DisableCache skips the response cache entirely.
	DisableCache bool

	// MaxRetries follow the first try. Zero takes the default and a
	// negative value disables retries.
	MaxRetries     int
	RetryBaseDelay time.Duration

	// Limits, when set, replace the ceilings persisted by the ledger.
	Limits        *usage.Limits
	EnforceLimits bool

	ModelID string
	Format  string

	VoicesTTL       time.Duration
	CleanupInterval time.Duration
	PurgeInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Coordinator:     coordinator.DefaultConfig(),
		Cache:           cache.DefaultConfig(),
		MaxRetries:      retry.DefaultMaxAttempts,
		RetryBaseDelay:  retry.DefaultBaseDelay,
		EnforceLimits:   true,
		VoicesTTL:       DefaultVoicesTTL,
		CleanupInterval: DefaultCleanupInterval,
		PurgeInterval:   DefaultPurgeInterval,
	}
}

// TimeRange selects part of an audio payload, in seconds.
type TimeRange struct {
	Start float64
	End   float64
}

type TranscribeRequest struct {
	Audio    []byte
	FileName string
	MimeType string
	Language string
	Trim     *TimeRange
	// Compress applies the size-band compression heuristic before upload.
	Compress bool
}

type SynthesizeRequest struct {
	Text    string
	ModelID string
	Format  string
}

// Speech is a synthesis result.
type Speech struct {
	Audio   []byte
	ModelID string
	Format  string
	Cached  bool
}

// Status is a snapshot of every component.
type Status struct {
	Operations coordinator.Status
	Cache      cache.Stats
	Store      storage.Stats
	Limits     usage.LimitStatus
}
