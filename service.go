package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/speechkit/internal/audio"
	"github.com/dgnsrekt/speechkit/internal/cache"
	"github.com/dgnsrekt/speechkit/internal/config"
	"github.com/dgnsrekt/speechkit/internal/metrics"
	"github.com/dgnsrekt/speechkit/internal/providers/elevenlabs"
	"github.com/dgnsrekt/speechkit/internal/providers/openai"
	"github.com/dgnsrekt/speechkit/internal/speech"
	"github.com/dgnsrekt/speechkit/internal/storage"
	"github.com/dgnsrekt/speechkit/internal/usage"
)

// openStore opens the configured backend. The "none" backend yields a
// Store that keeps nothing.
func openStore(c config.Config, m *metrics.Metrics) (*storage.Store, error) {
	var (
		backend storage.Backend
		err     error
	)

	switch c.Storage.Backend {
	case config.BackendNone:
	case config.BackendMemory:
		backend = storage.NewMemoryBackend(c.Storage.QuotaBytes)
	default:
		path, perr := c.StoragePath()
		if perr != nil {
			return nil, perr
		}
		if c.Storage.Backend == config.BackendDisk {
			backend, err = storage.NewDiskBackend(path, c.Storage.QuotaBytes)
		} else {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec
				return nil, fmt.Errorf("unable to create data directory: %w", err)
			}
			backend, err = storage.NewSQLiteBackend(path, c.Storage.QuotaBytes)
		}
		if err != nil {
			return nil, err
		}
		log.Debug("Opened store", "backend", c.Storage.Backend, "path", path)
	}

	return storage.New(backend,
		storage.WithCeiling(c.Storage.QuotaBytes),
		storage.WithCompressThreshold(c.Storage.CompressThreshold),
		storage.WithLogger(log.Default().WithPrefix("store")),
		storage.WithMetrics(m),
	)
}

// openLedger opens the usage ledger without a provider, for commands that
// only inspect local state.
func openLedger() (*usage.Ledger, *storage.Store, error) {
	st, err := openStore(cfg, registry)
	if err != nil {
		return nil, nil, err
	}
	ledger := usage.New(st,
		usage.WithLogger(log.Default().WithPrefix("usage")),
		usage.WithMetrics(registry),
	)
	return ledger, st, nil
}

// openCache opens the response cache without a provider.
func openCache() (*cache.ResponseCache, *storage.Store, error) {
	st, err := openStore(cfg, registry)
	if err != nil {
		return nil, nil, err
	}
	if !st.Enabled() {
		_ = st.Close()
		return nil, nil, fmt.Errorf("the cache needs a storage backend, %q keeps nothing", cfg.Storage.Backend)
	}
	rc := cache.New(st, cfg.CacheConfig(),
		cache.WithLogger(log.Default().WithPrefix("cache")),
		cache.WithMetrics(registry),
	)
	return rc, st, nil
}

func newProvider(c config.Config, m *metrics.Metrics) (speech.Provider, error) {
	if c.APIKey() == "" {
		return nil, fmt.Errorf("no API key for %s: set %s%s_API_KEY or add it to the config file",
			c.Provider, config.EnvPrefix, envName(c.Provider))
	}

	switch c.Provider {
	case config.ProviderOpenAI:
		return openai.New(openai.Config{
			APIKey:            c.OpenAI.APIKey,
			BaseURL:           c.OpenAI.BaseURL,
			TranscribeModel:   c.OpenAI.TranscribeModel,
			SpeechModel:       c.OpenAI.SpeechModel,
			Voice:             c.OpenAI.Voice,
			RequestsPerMinute: c.OpenAI.RequestsPerMinute,
		},
			openai.WithLogger(log.Default().WithPrefix(openai.Name)),
			openai.WithMetrics(m),
		), nil
	default:
		return elevenlabs.New(elevenlabs.Config{
			APIKey:            c.ElevenLabs.APIKey,
			BaseURL:           c.ElevenLabs.BaseURL,
			VoiceID:           c.ElevenLabs.VoiceID,
			ModelID:           c.ElevenLabs.ModelID,
			TranscribeModel:   c.ElevenLabs.TranscribeModel,
			RequestsPerMinute: c.ElevenLabs.RequestsPerMinute,
		},
			elevenlabs.WithLogger(log.Default().WithPrefix(elevenlabs.Name)),
			elevenlabs.WithMetrics(m),
		), nil
	}
}

func envName(provider string) string {
	if provider == config.ProviderOpenAI {
		return "OPENAI"
	}
	return "ELEVENLABS"
}

// speechConfig maps the file configuration onto the service.
func speechConfig(c config.Config) speech.Config {
	sc := speech.DefaultConfig()
	sc.Coordinator = c.CoordinatorConfig()
	sc.Cache = c.CacheConfig()
	sc.DisableCache = !c.Cache.Enabled
	sc.RetryBaseDelay = c.Retry.BaseDelay
	sc.MaxRetries = c.Retry.MaxAttempts
	if sc.MaxRetries == 0 {
		sc.MaxRetries = -1
	}

	limits := c.UsageLimits()
	sc.Limits = &limits
	sc.EnforceLimits = c.EnforceLimits

	switch c.Provider {
	case config.ProviderOpenAI:
		sc.ModelID = c.OpenAI.SpeechModel
		sc.Format = "mp3"
	default:
		sc.ModelID = c.ElevenLabs.ModelID
		sc.Format = c.ElevenLabs.OutputFormat
	}
	return sc
}

// openService wires the full speech service. withPlayer opens the audio
// device.
func openService(withPlayer bool) (*speech.Service, error) {
	p, err := newProvider(cfg, registry)
	if err != nil {
		return nil, err
	}

	st, err := openStore(cfg, registry)
	if err != nil {
		return nil, err
	}

	opts := []speech.Option{
		speech.WithProvider(p),
		speech.WithStore(st),
		speech.WithLogger(log.Default().WithPrefix("speech")),
		speech.WithMetrics(registry),
	}
	if withPlayer {
		pc := audio.DefaultPlayerConfig()
		pc.SampleRate = cfg.Audio.SampleRate
		pc.Channels = cfg.Audio.Channels
		player, err := audio.NewOtoPlayer(pc)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		opts = append(opts, speech.WithPlayer(player))
	}

	svc, err := speech.New(speechConfig(cfg), opts...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return svc, nil
}
