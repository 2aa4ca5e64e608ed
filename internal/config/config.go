// Package config loads speechkit settings from the config file, the
// environment and built-in defaults, in increasing order of precedence for
// the environment.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"

	"github.com/dgnsrekt/speechkit/internal/cache"
	"github.com/dgnsrekt/speechkit/internal/coordinator"
	"github.com/dgnsrekt/speechkit/internal/retry"
	"github.com/dgnsrekt/speechkit/internal/storage"
	"github.com/dgnsrekt/speechkit/internal/usage"
)

const (
	AppName   = "speechkit"
	EnvPrefix = "SPEECHKIT_"

	ProviderElevenLabs = "elevenlabs"
	ProviderOpenAI     = "openai"

	BackendSQLite = "sqlite"
	BackendDisk   = "disk"
	BackendMemory = "memory"
	BackendNone   = "none"

	// MaxUploadBytes is the largest audio upload accepted for transcription.
	MaxUploadBytes = 25 << 20
	// MaxTextChars is the longest text accepted for synthesis.
	MaxTextChars = 5000
)

var (
	validProviders = []string{ProviderElevenLabs, ProviderOpenAI}
	validBackends  = []string{BackendSQLite, BackendDisk, BackendMemory, BackendNone}
)

// Config contains every speechkit option.
type Config struct {
	Provider      string `yaml:"provider" env:"PROVIDER"`
	DataDir       string `yaml:"data_dir" env:"DATA_DIR"`
	EnforceLimits bool   `yaml:"enforce_limits" env:"ENFORCE_LIMITS"`
	MetricsAddr   string `yaml:"metrics_addr" env:"METRICS_ADDR"`

	Storage     StorageConfig     `yaml:"storage" envPrefix:"STORAGE_"`
	Cache       CacheConfig       `yaml:"cache" envPrefix:"CACHE_"`
	Coordinator CoordinatorConfig `yaml:"coordinator" envPrefix:"COORDINATOR_"`
	Retry       RetryConfig       `yaml:"retry" envPrefix:"RETRY_"`
	Limits      LimitsConfig      `yaml:"limits" envPrefix:"LIMITS_"`
	Audio       AudioConfig       `yaml:"audio" envPrefix:"AUDIO_"`
	ElevenLabs  ElevenLabsConfig  `yaml:"elevenlabs" envPrefix:"ELEVENLABS_"`
	OpenAI      OpenAIConfig      `yaml:"openai" envPrefix:"OPENAI_"`
}

// StorageConfig selects the persistent backend.
type StorageConfig struct {
	Backend           string `yaml:"backend" env:"BACKEND"`
	Path              string `yaml:"path" env:"PATH"`
	QuotaBytes        int64  `yaml:"quota_bytes" env:"QUOTA_BYTES"`
	CompressThreshold int    `yaml:"compress_threshold" env:"COMPRESS_THRESHOLD"`
}

type CacheConfig struct {
	Enabled    bool          `yaml:"enabled" env:"ENABLED"`
	TTL        time.Duration `yaml:"ttl" env:"TTL"`
	MaxEntries int           `yaml:"max_entries" env:"MAX_ENTRIES"`
	MaxBytes   int64         `yaml:"max_bytes" env:"MAX_BYTES"`
}

type CoordinatorConfig struct {
	MaxConcurrent     int           `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	TranscribeTimeout time.Duration `yaml:"transcribe_timeout" env:"TRANSCRIBE_TIMEOUT"`
	SynthesizeTimeout time.Duration `yaml:"synthesize_timeout" env:"SYNTHESIZE_TIMEOUT"`
	SweepInterval     time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BaseDelay   time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
}

// LimitsConfig holds daily usage ceilings. Zero disables a ceiling.
type LimitsConfig struct {
	MaxTranscribeRequests  int   `yaml:"max_transcribe_requests" env:"MAX_TRANSCRIBE_REQUESTS"`
	MaxSynthesizeRequests  int   `yaml:"max_synthesize_requests" env:"MAX_SYNTHESIZE_REQUESTS"`
	MaxTranscribeCostCents int64 `yaml:"max_transcribe_cost_cents" env:"MAX_TRANSCRIBE_COST_CENTS"`
	MaxSynthesizeCostCents int64 `yaml:"max_synthesize_cost_cents" env:"MAX_SYNTHESIZE_COST_CENTS"`
	MaxTotalCostCents      int64 `yaml:"max_total_cost_cents" env:"MAX_TOTAL_COST_CENTS"`
}

type AudioConfig struct {
	CompressUploads bool `yaml:"compress_uploads" env:"COMPRESS_UPLOADS"`
	SampleRate      int  `yaml:"sample_rate" env:"SAMPLE_RATE"`
	Channels        int  `yaml:"channels" env:"CHANNELS"`
}

type ElevenLabsConfig struct {
	APIKey            string `yaml:"api_key" env:"API_KEY"`
	BaseURL           string `yaml:"base_url" env:"BASE_URL"`
	VoiceID           string `yaml:"voice_id" env:"VOICE_ID"`
	ModelID           string `yaml:"model_id" env:"MODEL_ID"`
	TranscribeModel   string `yaml:"transcribe_model" env:"TRANSCRIBE_MODEL"`
	OutputFormat      string `yaml:"output_format" env:"OUTPUT_FORMAT"`
	RequestsPerMinute int    `yaml:"requests_per_minute" env:"REQUESTS_PER_MINUTE"`
}

type OpenAIConfig struct {
	APIKey            string `yaml:"api_key" env:"API_KEY"`
	BaseURL           string `yaml:"base_url" env:"BASE_URL"`
	TranscribeModel   string `yaml:"transcribe_model" env:"TRANSCRIBE_MODEL"`
	SpeechModel       string `yaml:"speech_model" env:"SPEECH_MODEL"`
	Voice             string `yaml:"voice" env:"VOICE"`
	RequestsPerMinute int    `yaml:"requests_per_minute" env:"REQUESTS_PER_MINUTE"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	coord := coordinator.DefaultConfig()
	cc := cache.DefaultConfig()
	lim := usage.DefaultLimits()

	return Config{
		Provider:      ProviderElevenLabs,
		EnforceLimits: true,
		MetricsAddr:   "127.0.0.1:9464",

		Storage: StorageConfig{
			Backend:           BackendSQLite,
			QuotaBytes:        storage.DefaultCeiling,
			CompressThreshold: storage.DefaultCompressThreshold,
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTL:        cc.TTL,
			MaxEntries: cc.MaxEntries,
			MaxBytes:   cc.MaxBytes,
		},
		Coordinator: CoordinatorConfig{
			MaxConcurrent:     coord.MaxConcurrent,
			TranscribeTimeout: coord.TranscribeTimeout,
			SynthesizeTimeout: coord.SynthesizeTimeout,
			SweepInterval:     coord.SweepInterval,
		},
		Retry: RetryConfig{
			MaxAttempts: retry.DefaultMaxAttempts,
			BaseDelay:   retry.DefaultBaseDelay,
		},
		Limits: LimitsConfig{
			MaxTranscribeRequests:  lim.MaxTranscribeRequests,
			MaxSynthesizeRequests:  lim.MaxSynthesizeRequests,
			MaxTranscribeCostCents: lim.MaxTranscribeCostCents,
			MaxSynthesizeCostCents: lim.MaxSynthesizeCostCents,
			MaxTotalCostCents:      lim.MaxTotalCostCents,
		},
		Audio: AudioConfig{
			CompressUploads: true,
			SampleRate:      44100,
			Channels:        1,
		},
		ElevenLabs: ElevenLabsConfig{
			BaseURL:           "https://api.elevenlabs.io",
			VoiceID:           "21m00Tcm4TlvDq8ikWAM",
			ModelID:           "eleven_multilingual_v2",
			TranscribeModel:   "scribe_v1",
			OutputFormat:      "mp3_44100_128",
			RequestsPerMinute: 50,
		},
		OpenAI: OpenAIConfig{
			BaseURL:           "https://api.openai.com/v1",
			TranscribeModel:   "whisper-1",
			SpeechModel:       "tts-1",
			Voice:             "alloy",
			RequestsPerMinute: 50,
		},
	}
}

// Validate checks the configuration and normalises enum fields.
func (c *Config) Validate() error {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if !oneOf(c.Provider, validProviders) {
		return fmt.Errorf("invalid provider '%s': must be one of %v", c.Provider, validProviders)
	}

	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if !oneOf(c.Storage.Backend, validBackends) {
		return fmt.Errorf("invalid storage backend '%s': must be one of %v", c.Storage.Backend, validBackends)
	}
	if c.Storage.QuotaBytes < 0 {
		return fmt.Errorf("storage quota_bytes must not be negative, got %d", c.Storage.QuotaBytes)
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %v", c.Cache.TTL)
	}
	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache max_entries must be at least 1, got %d", c.Cache.MaxEntries)
	}

	if c.Coordinator.MaxConcurrent < 1 || c.Coordinator.MaxConcurrent > 64 {
		return fmt.Errorf("coordinator max_concurrent must be between 1 and 64, got %d", c.Coordinator.MaxConcurrent)
	}
	if c.Coordinator.TranscribeTimeout < time.Second || c.Coordinator.SynthesizeTimeout < time.Second {
		return fmt.Errorf("coordinator timeouts must be at least 1 second")
	}

	if c.Retry.MaxAttempts < 0 || c.Retry.MaxAttempts > 10 {
		return fmt.Errorf("retry max_attempts must be between 0 and 10, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("retry base_delay must not be negative, got %v", c.Retry.BaseDelay)
	}

	l := c.Limits
	if l.MaxTranscribeRequests < 0 || l.MaxSynthesizeRequests < 0 ||
		l.MaxTranscribeCostCents < 0 || l.MaxSynthesizeCostCents < 0 || l.MaxTotalCostCents < 0 {
		return fmt.Errorf("usage limits must not be negative")
	}

	if c.Audio.SampleRate != 44100 && c.Audio.SampleRate != 48000 {
		return fmt.Errorf("invalid sample rate %d: must be 44100 or 48000", c.Audio.SampleRate)
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Audio.Channels)
	}
	return nil
}

// APIKey returns the key for the selected provider.
func (c Config) APIKey() string {
	if c.Provider == ProviderOpenAI {
		return c.OpenAI.APIKey
	}
	return c.ElevenLabs.APIKey
}

// UsageLimits converts the configured ceilings for the usage ledger.
func (c Config) UsageLimits() usage.Limits {
	return usage.Limits{
		MaxTranscribeRequests:  c.Limits.MaxTranscribeRequests,
		MaxSynthesizeRequests:  c.Limits.MaxSynthesizeRequests,
		MaxTranscribeCostCents: c.Limits.MaxTranscribeCostCents,
		MaxSynthesizeCostCents: c.Limits.MaxSynthesizeCostCents,
		MaxTotalCostCents:      c.Limits.MaxTotalCostCents,
	}
}

func (c Config) CoordinatorConfig() coordinator.Config {
	return coordinator.Config{
		MaxConcurrent:     c.Coordinator.MaxConcurrent,
		TranscribeTimeout: c.Coordinator.TranscribeTimeout,
		SynthesizeTimeout: c.Coordinator.SynthesizeTimeout,
		SweepInterval:     c.Coordinator.SweepInterval,
	}
}

func (c Config) CacheConfig() cache.Config {
	return cache.Config{
		TTL:        c.Cache.TTL,
		MaxEntries: c.Cache.MaxEntries,
		MaxBytes:   c.Cache.MaxBytes,
	}
}

// ResolveDataDir returns the expanded data directory, falling back to the
// per-user data dir.
func (c Config) ResolveDataDir() (string, error) {
	if c.DataDir != "" {
		return ExpandPath(c.DataDir), nil
	}
	dirs, err := gap.NewScope(gap.User, AppName).DataDirs()
	if err != nil {
		return "", fmt.Errorf("could not find data directory: %w", err)
	}
	if len(dirs) == 0 {
		return "", fmt.Errorf("could not find data directory")
	}
	return dirs[0], nil
}

// StoragePath returns the expanded backend location.
func (c Config) StoragePath() (string, error) {
	if c.Storage.Path != "" {
		return ExpandPath(c.Storage.Path), nil
	}
	dir, err := c.ResolveDataDir()
	if err != nil {
		return "", err
	}
	if c.Storage.Backend == BackendDisk {
		return filepath.Join(dir, "store"), nil
	}
	return filepath.Join(dir, AppName+".db"), nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return path
	}
	return expanded
}

func oneOf(s string, set []string) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}
