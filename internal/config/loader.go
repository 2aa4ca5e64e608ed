package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

const root = "speechkit."

// Load builds the effective configuration: defaults, then the config file
// values held by v, then SPEECHKIT_* environment variables.
func Load(v *viper.Viper) (Config, error) {
	cfg := fromViper(v)
	if err := ApplyEnv(&cfg, nil); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFromViper reads configuration from v without the environment overlay.
// A nil v uses the global viper instance.
func LoadFromViper(v *viper.Viper) (Config, error) {
	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays SPEECHKIT_* variables onto cfg. environ replaces the
// process environment when non-nil. Provider keys also fall back to the
// conventional ELEVENLABS_API_KEY and OPENAI_API_KEY variables.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("error parsing environment: %w", err)
	}

	lookup := os.Getenv
	if environ != nil {
		lookup = func(k string) string { return environ[k] }
	}
	if cfg.ElevenLabs.APIKey == "" {
		cfg.ElevenLabs.APIKey = lookup("ELEVENLABS_API_KEY")
	}
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = lookup("OPENAI_API_KEY")
	}
	return nil
}

func fromViper(v *viper.Viper) Config {
	if v == nil {
		v = viper.GetViper()
	}
	cfg := Default()

	setString(v, "provider", &cfg.Provider)
	setString(v, "data_dir", &cfg.DataDir)
	setBool(v, "enforce_limits", &cfg.EnforceLimits)
	setString(v, "metrics_addr", &cfg.MetricsAddr)

	setString(v, "storage.backend", &cfg.Storage.Backend)
	setString(v, "storage.path", &cfg.Storage.Path)
	setInt64(v, "storage.quota_bytes", &cfg.Storage.QuotaBytes)
	setInt(v, "storage.compress_threshold", &cfg.Storage.CompressThreshold)

	setBool(v, "cache.enabled", &cfg.Cache.Enabled)
	setDuration(v, "cache.ttl", &cfg.Cache.TTL)
	setInt(v, "cache.max_entries", &cfg.Cache.MaxEntries)
	setInt64(v, "cache.max_bytes", &cfg.Cache.MaxBytes)

	setInt(v, "coordinator.max_concurrent", &cfg.Coordinator.MaxConcurrent)
	setDuration(v, "coordinator.transcribe_timeout", &cfg.Coordinator.TranscribeTimeout)
	setDuration(v, "coordinator.synthesize_timeout", &cfg.Coordinator.SynthesizeTimeout)
	setDuration(v, "coordinator.sweep_interval", &cfg.Coordinator.SweepInterval)

	setInt(v, "retry.max_attempts", &cfg.Retry.MaxAttempts)
	setDuration(v, "retry.base_delay", &cfg.Retry.BaseDelay)

	cfg.Limits = limitsFromViper(v, cfg.Limits)

	setBool(v, "audio.compress_uploads", &cfg.Audio.CompressUploads)
	setInt(v, "audio.sample_rate", &cfg.Audio.SampleRate)
	setInt(v, "audio.channels", &cfg.Audio.Channels)

	setString(v, "elevenlabs.api_key", &cfg.ElevenLabs.APIKey)
	setString(v, "elevenlabs.base_url", &cfg.ElevenLabs.BaseURL)
	setString(v, "elevenlabs.voice_id", &cfg.ElevenLabs.VoiceID)
	setString(v, "elevenlabs.model_id", &cfg.ElevenLabs.ModelID)
	setString(v, "elevenlabs.transcribe_model", &cfg.ElevenLabs.TranscribeModel)
	setString(v, "elevenlabs.output_format", &cfg.ElevenLabs.OutputFormat)
	setInt(v, "elevenlabs.requests_per_minute", &cfg.ElevenLabs.RequestsPerMinute)

	setString(v, "openai.api_key", &cfg.OpenAI.APIKey)
	setString(v, "openai.base_url", &cfg.OpenAI.BaseURL)
	setString(v, "openai.transcribe_model", &cfg.OpenAI.TranscribeModel)
	setString(v, "openai.speech_model", &cfg.OpenAI.SpeechModel)
	setString(v, "openai.voice", &cfg.OpenAI.Voice)
	setInt(v, "openai.requests_per_minute", &cfg.OpenAI.RequestsPerMinute)

	return cfg
}

func limitsFromViper(v *viper.Viper, l LimitsConfig) LimitsConfig {
	setInt(v, "limits.max_transcribe_requests", &l.MaxTranscribeRequests)
	setInt(v, "limits.max_synthesize_requests", &l.MaxSynthesizeRequests)
	setInt64(v, "limits.max_transcribe_cost_cents", &l.MaxTranscribeCostCents)
	setInt64(v, "limits.max_synthesize_cost_cents", &l.MaxSynthesizeCostCents)
	setInt64(v, "limits.max_total_cost_cents", &l.MaxTotalCostCents)
	return l
}

// SetDefaults registers default values with v so they show up in viper
// lookups and generated config files.
func SetDefaults(v *viper.Viper) {
	if v == nil {
		v = viper.GetViper()
	}
	d := Default()

	v.SetDefault(root+"provider", d.Provider)
	v.SetDefault(root+"enforce_limits", d.EnforceLimits)
	v.SetDefault(root+"metrics_addr", d.MetricsAddr)
	v.SetDefault(root+"storage.backend", d.Storage.Backend)
	v.SetDefault(root+"storage.quota_bytes", d.Storage.QuotaBytes)
	v.SetDefault(root+"cache.enabled", d.Cache.Enabled)
	v.SetDefault(root+"cache.ttl", d.Cache.TTL.String())
	v.SetDefault(root+"cache.max_entries", d.Cache.MaxEntries)
	v.SetDefault(root+"coordinator.max_concurrent", d.Coordinator.MaxConcurrent)
	v.SetDefault(root+"retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault(root+"retry.base_delay", d.Retry.BaseDelay.String())
	v.SetDefault(root+"limits.max_total_cost_cents", d.Limits.MaxTotalCostCents)
}

func setString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(root + key) {
		*dst = v.GetString(root + key)
	}
}

func setBool(v *viper.Viper, key string, dst *bool) {
	if v.IsSet(root + key) {
		*dst = v.GetBool(root + key)
	}
}

func setInt(v *viper.Viper, key string, dst *int) {
	if v.IsSet(root + key) {
		*dst = v.GetInt(root + key)
	}
}

func setInt64(v *viper.Viper, key string, dst *int64) {
	if v.IsSet(root + key) {
		*dst = v.GetInt64(root + key)
	}
}

func setDuration(v *viper.Viper, key string, dst *time.Duration) {
	if v.IsSet(root + key) {
		if d, err := time.ParseDuration(v.GetString(root + key)); err == nil {
			*dst = d
		}
	}
}
