package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

const sampleConfig = `
speechkit:
  provider: openai
  enforce_limits: false
  storage:
    backend: memory
  cache:
    ttl: 48h
    max_entries: 10
  retry:
    max_attempts: 3
    base_delay: 250ms
  limits:
    max_total_cost_cents: 300
  openai:
    voice: nova
`

func loadViper(t *testing.T, content string) *viper.Viper {
	t.Helper()
	path := filepath.Join(t.TempDir(), "speechkit.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig: %v", err)
	}
	return v
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Cache.TTL != 7*24*time.Hour {
		t.Errorf("cache ttl = %v, want 7 days", cfg.Cache.TTL)
	}
	if cfg.Retry.MaxAttempts != 2 || cfg.Retry.BaseDelay != time.Second {
		t.Errorf("retry = %+v", cfg.Retry)
	}
}

func TestLoadFromViper(t *testing.T) {
	cfg, err := LoadFromViper(loadViper(t, sampleConfig))
	if err != nil {
		t.Fatalf("LoadFromViper: %v", err)
	}

	if cfg.Provider != ProviderOpenAI {
		t.Errorf("provider = %q", cfg.Provider)
	}
	if cfg.EnforceLimits {
		t.Error("enforce_limits should be false")
	}
	if cfg.Cache.TTL != 48*time.Hour || cfg.Cache.MaxEntries != 10 {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Retry.BaseDelay != 250*time.Millisecond {
		t.Errorf("base delay = %v", cfg.Retry.BaseDelay)
	}
	if cfg.Limits.MaxTotalCostCents != 300 {
		t.Errorf("total limit = %d", cfg.Limits.MaxTotalCostCents)
	}
	// unset keys keep their defaults
	if cfg.Limits.MaxSynthesizeRequests != Default().Limits.MaxSynthesizeRequests {
		t.Errorf("synthesize request limit = %d", cfg.Limits.MaxSynthesizeRequests)
	}
	if cfg.OpenAI.Voice != "nova" || cfg.OpenAI.SpeechModel != "tts-1" {
		t.Errorf("openai = %+v", cfg.OpenAI)
	}
}

func TestApplyEnvOverridesFile(t *testing.T) {
	cfg, err := LoadFromViper(loadViper(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}

	err = ApplyEnv(&cfg, map[string]string{
		"SPEECHKIT_PROVIDER":                    "elevenlabs",
		"SPEECHKIT_CACHE_TTL":                   "1h",
		"SPEECHKIT_LIMITS_MAX_TOTAL_COST_CENTS": "50",
		"ELEVENLABS_API_KEY":                    "xi-key",
	})
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}

	if cfg.Provider != ProviderElevenLabs {
		t.Errorf("provider = %q", cfg.Provider)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("ttl = %v", cfg.Cache.TTL)
	}
	if cfg.Limits.MaxTotalCostCents != 50 {
		t.Errorf("limit = %d", cfg.Limits.MaxTotalCostCents)
	}
	// values without a variable are untouched
	if cfg.Cache.MaxEntries != 10 {
		t.Errorf("max entries = %d", cfg.Cache.MaxEntries)
	}
	if cfg.APIKey() != "xi-key" {
		t.Errorf("api key = %q", cfg.APIKey())
	}
}

func TestApplyEnvPrefixedKeyWins(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(&cfg, map[string]string{
		"SPEECHKIT_OPENAI_API_KEY": "prefixed",
		"OPENAI_API_KEY":           "plain",
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OpenAI.APIKey != "prefixed" {
		t.Errorf("api key = %q", cfg.OpenAI.APIKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"provider", func(c *Config) { c.Provider = "polly" }, "invalid provider"},
		{"backend", func(c *Config) { c.Storage.Backend = "s3" }, "invalid storage backend"},
		{"concurrency", func(c *Config) { c.Coordinator.MaxConcurrent = 0 }, "max_concurrent"},
		{"attempts", func(c *Config) { c.Retry.MaxAttempts = -1 }, "max_attempts"},
		{"limits", func(c *Config) { c.Limits.MaxTotalCostCents = -1 }, "must not be negative"},
		{"sample rate", func(c *Config) { c.Audio.SampleRate = 22050 }, "sample rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestValidateNormalisesCase(t *testing.T) {
	cfg := Default()
	cfg.Provider = " OpenAI "
	cfg.Storage.Backend = "SQLite"
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Provider != ProviderOpenAI || cfg.Storage.Backend != BackendSQLite {
		t.Errorf("got %q %q", cfg.Provider, cfg.Storage.Backend)
	}
}

func TestStoragePath(t *testing.T) {
	cfg := Default()
	cfg.DataDir = t.TempDir()

	p, err := cfg.StoragePath()
	if err != nil {
		t.Fatal(err)
	}
	if p != filepath.Join(cfg.DataDir, "speechkit.db") {
		t.Errorf("sqlite path = %q", p)
	}

	cfg.Storage.Backend = BackendDisk
	p, _ = cfg.StoragePath()
	if p != filepath.Join(cfg.DataDir, "store") {
		t.Errorf("disk path = %q", p)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/speech"); got != filepath.Join(home, "speech") {
		t.Errorf("ExpandPath = %q", got)
	}
	if got := ExpandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("ExpandPath = %q", got)
	}
}
