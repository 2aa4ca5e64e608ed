// Package speech is the entry point to the speech core. A Service owns the
// coordinator, store, response cache, usage ledger and transcoder, and
// runs every transcription and synthesis through them.
package speech

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/speechkit/internal/audio"
	"github.com/dgnsrekt/speechkit/internal/cache"
	"github.com/dgnsrekt/speechkit/internal/coordinator"
	"github.com/dgnsrekt/speechkit/internal/metrics"
	"github.com/dgnsrekt/speechkit/internal/retry"
	"github.com/dgnsrekt/speechkit/internal/storage"
	"github.com/dgnsrekt/speechkit/internal/ttypes"
	"github.com/dgnsrekt/speechkit/internal/usage"
)

// Service coordinates speech operations against a provider.
type Service struct {
	cfg Config

	provider    string
	transcriber Transcriber
	synthesizer Synthesizer
	catalog     VoiceCatalog
	player      audio.Player
	decoder     audio.Decoder

	store      *storage.Store
	cache      *cache.ResponseCache
	ledger     *usage.Ledger
	coord      *coordinator.Coordinator
	transcoder *audio.Transcoder

	logger  *log.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	sleep   retry.SleepFunc

	voicesMu sync.Mutex
	voices   []ttypes.Voice
	voicesAt time.Time

	runMu   sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	running bool
}

type Option func(*Service)

// WithProvider sets the transcriber, synthesizer and voice catalog at once.
func WithProvider(p Provider) Option {
	return func(s *Service) {
		s.provider = p.Name()
		s.transcriber = p
		s.synthesizer = p
		s.catalog = p
	}
}

func WithTranscriber(t Transcriber) Option {
	return func(s *Service) { s.transcriber = t }
}

func WithSynthesizer(sy Synthesizer) Option {
	return func(s *Service) { s.synthesizer = sy }
}

func WithVoiceCatalog(c VoiceCatalog) Option {
	return func(s *Service) { s.catalog = c }
}

// WithProviderName labels usage records when providers are set
// individually.
func WithProviderName(name string) Option {
	return func(s *Service) { s.provider = name }
}

func WithPlayer(p audio.Player) Option {
	return func(s *Service) { s.player = p }
}

func WithDecoder(d audio.Decoder) Option {
	return func(s *Service) { s.decoder = d }
}

// WithStore persists the cache and ledger in store. The Service closes it.
func WithStore(st *storage.Store) Option {
	return func(s *Service) { s.store = st }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSleep replaces the retry backoff sleep.
func WithSleep(fn retry.SleepFunc) Option {
	return func(s *Service) { s.sleep = fn }
}

// New wires a Service. Without a store the ledger lives in memory and
// nothing is cached.
func New(cfg Config, opts ...Option) (*Service, error) {
	def := DefaultConfig()
	if cfg.VoicesTTL <= 0 {
		cfg.VoicesTTL = def.VoicesTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = def.PurgeInterval
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	switch {
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = def.MaxRetries
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	}

	s := &Service{
		cfg:      cfg,
		provider: "unknown",
		logger:   log.Default().WithPrefix("speech"),
		now:      time.Now,
		sleep:    retry.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.transcriber == nil || s.synthesizer == nil {
		return nil, errors.New("speech: a transcriber and a synthesizer are required")
	}

	s.coord = coordinator.New(cfg.Coordinator,
		coordinator.WithLogger(s.logger.WithPrefix("coordinator")),
		coordinator.WithMetrics(s.metrics),
		coordinator.WithClock(s.now),
	)
	s.transcoder = audio.NewTranscoder(s.decoder, s.logger.WithPrefix("audio"))

	s.ledger = usage.New(s.store,
		usage.WithLogger(s.logger.WithPrefix("usage")),
		usage.WithMetrics(s.metrics),
		usage.WithClock(s.now),
	)
	if cfg.Limits != nil {
		if err := s.ledger.SetLimits(*cfg.Limits); err != nil {
			return nil, fmt.Errorf("applying usage limits: %w", err)
		}
	}

	if !cfg.DisableCache && s.store.Enabled() {
		s.cache = cache.New(s.store, cfg.Cache,
			cache.WithLogger(s.logger.WithPrefix("cache")),
			cache.WithMetrics(s.metrics),
			cache.WithClock(s.now),
		)
	}
	return s, nil
}

// Start launches the background sweeps. It is a no-op when already running.
func (s *Service) Start() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})

	s.coord.Start()
	s.every(s.cfg.CleanupInterval, "store cleanup", func() {
		if n := s.store.Cleanup(); n > 0 {
			s.logger.Debug("Removed expired items", "count", n)
		}
	})
	s.every(s.cfg.PurgeInterval, "usage purge", func() {
		if n := s.ledger.Purge(); n > 0 {
			s.logger.Debug("Purged usage records", "count", n)
		}
	})
}

func (s *Service) every(interval time.Duration, name string, fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.logger.Debug("Running sweep", "sweep", name)
				fn()
			}
		}
	}()
}

// Close stops the sweeps, cancels in-flight operations and closes the store.
func (s *Service) Close() error {
	s.runMu.Lock()
	if s.running {
		close(s.stop)
		s.running = false
	}
	s.runMu.Unlock()
	s.wg.Wait()

	s.coord.Stop()
	return s.store.Close()
}

// Transcribe validates, optionally trims and compresses the audio, and
// sends it to the transcriber under admission control and retry.
func (s *Service) Transcribe(ctx context.Context, req TranscribeRequest) (transcript *ttypes.Transcript, err error) {
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("%w: audio is empty", ttypes.ErrValidation)
	}
	if len(req.Audio) > MaxUploadBytes {
		return nil, fmt.Errorf("%w: audio is %d bytes, limit is %d", ttypes.ErrValidation, len(req.Audio), MaxUploadBytes)
	}
	if req.Trim != nil && !(req.Trim.Start < req.Trim.End) {
		return nil, audio.ErrInvalidRange
	}
	if err := s.checkLimits(); err != nil {
		return nil, err
	}

	op, err := s.coord.Admit(ctx, ttypes.KindTranscribe)
	if err != nil {
		return nil, err
	}
	defer s.coord.Release(op.ID)
	opCtx := op.Context()

	in := TranscriptionInput{
		Audio:        req.Audio,
		FileName:     req.FileName,
		MimeType:     audio.NormalizeMIME(req.MimeType, req.Audio),
		LanguageCode: req.Language,
	}

	// Every admitted request leaves a record, including ones that fail
	// while preparing the upload.
	defer func() {
		meta := usage.Metadata{Bytes: int64(len(in.Audio)), Success: err == nil}
		if err != nil {
			meta.Error = err.Error()
		} else if transcript != nil {
			meta.DurationSec = transcript.DurationSec
		}
		s.track(ttypes.KindTranscribe, meta)
	}()

	if req.Trim != nil {
		trimmed, err := s.transcoder.TrimBytes(opCtx, in.Audio, req.Trim.Start, req.Trim.End)
		if err != nil {
			return nil, err
		}
		in.Audio, in.MimeType = trimmed, "audio/wav"
		in.FileName = withExt(in.FileName, ".wav")
	}
	if req.Compress {
		res := s.transcoder.Compress(opCtx, in.Audio, in.MimeType)
		if !res.Skipped {
			in.Audio, in.MimeType = res.Data, "audio/wav"
			in.FileName = withExt(in.FileName, ".wav")
		}
	}

	return retry.Do(opCtx, func(ctx context.Context) (*ttypes.Transcript, error) {
		return s.transcriber.Transcribe(ctx, in)
	}, s.retryOptions()...)
}

// Synthesize returns speech for req.Text, from the cache when possible.
// Cache hits are neither admitted nor billed.
func (s *Service) Synthesize(ctx context.Context, req SynthesizeRequest) (*Speech, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: text is empty", ttypes.ErrValidation)
	}
	if n := utf8.RuneCountInString(text); n > MaxTextChars {
		return nil, fmt.Errorf("%w: text is %d characters, limit is %d", ttypes.ErrValidation, n, MaxTextChars)
	}
	modelID, format := s.defaults(req.ModelID, req.Format)

	if s.cache != nil {
		if payload, ok := s.cache.Get(text, modelID, format); ok {
			return &Speech{Audio: payload, ModelID: modelID, Format: format, Cached: true}, nil
		}
	}

	payload, err := s.fetchSpeech(ctx, text, modelID, format)
	if err != nil {
		return nil, err
	}
	return &Speech{Audio: payload, ModelID: modelID, Format: format}, nil
}

// fetchSpeech calls the synthesizer under admission control and retry,
// caches the payload and records the outcome in the ledger, all before the
// operation is released.
func (s *Service) fetchSpeech(ctx context.Context, text, modelID, format string) ([]byte, error) {
	if err := s.checkLimits(); err != nil {
		return nil, err
	}

	op, err := s.coord.Admit(ctx, ttypes.KindSynthesize)
	if err != nil {
		return nil, err
	}
	defer s.coord.Release(op.ID)

	payload, err := retry.Do(op.Context(), func(ctx context.Context) ([]byte, error) {
		data, err := s.synthesizer.Synthesize(ctx, text, modelID, format)
		if err == nil && len(data) == 0 {
			err = ttypes.ErrEmptyPayload
		}
		return data, err
	}, s.retryOptions()...)

	if err == nil && s.cache != nil && !s.cache.Put(text, modelID, format, payload) {
		s.logger.Warn("Could not cache synthesized speech", "chars", len(text))
	}

	meta := usage.Metadata{Characters: utf8.RuneCountInString(text), ModelID: modelID, Success: err == nil}
	if err != nil {
		meta.Error = err.Error()
	}
	s.track(ttypes.KindSynthesize, meta)

	return payload, err
}

// Speak synthesizes req and plays it. Cancelling ctx halts playback.
func (s *Service) Speak(ctx context.Context, req SynthesizeRequest) (*Speech, error) {
	if s.player == nil {
		return nil, errors.New("speech: no audio player configured")
	}
	sp, err := s.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.player.Play(ctx, sp.Audio); err != nil {
		return sp, fmt.Errorf("playback: %w", err)
	}
	return sp, nil
}

// Voices returns the provider's voice list, cached for VoicesTTL.
func (s *Service) Voices(ctx context.Context) ([]ttypes.Voice, error) {
	if s.catalog == nil {
		return nil, errors.New("speech: no voice catalog configured")
	}

	s.voicesMu.Lock()
	defer s.voicesMu.Unlock()

	if s.voices != nil && s.now().Sub(s.voicesAt) < s.cfg.VoicesTTL {
		return append([]ttypes.Voice(nil), s.voices...), nil
	}

	voices, err := retry.Do(ctx, s.catalog.Voices, s.retryOptions()...)
	if err != nil {
		return nil, err
	}
	s.voices, s.voicesAt = voices, s.now()
	return append([]ttypes.Voice(nil), voices...), nil
}

// Preload synthesizes the default phrases that are not cached yet.
func (s *Service) Preload(ctx context.Context) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	modelID, format := s.defaults("", "")
	seeds := make([]cache.Seed, 0, len(cache.DefaultPhrases))
	for _, p := range cache.DefaultPhrases {
		seeds = append(seeds, cache.Seed{Text: p, ModelID: modelID, Format: format})
	}
	return s.cache.Preload(ctx, s.fetchSpeech, seeds)
}

// Cancel cancels in-flight operations of kind; an empty id matches all.
func (s *Service) Cancel(kind ttypes.Kind, id string) int {
	return s.coord.Cancel(kind, id)
}

// SetLimits replaces the usage ceilings, e.g. after a config reload.
func (s *Service) SetLimits(l usage.Limits) error {
	return s.ledger.SetLimits(l)
}

func (s *Service) Status() Status {
	st := Status{
		Operations: s.coord.Status(),
		Store:      s.store.Stats(),
		Limits:     s.ledger.CheckLimits(),
	}
	if s.cache != nil {
		st.Cache = s.cache.Stats()
	}
	return st
}

func (s *Service) Usage() *usage.Ledger { return s.ledger }

// Cache returns the response cache, or nil when caching is disabled.
func (s *Service) Cache() *cache.ResponseCache { return s.cache }

func (s *Service) Store() *storage.Store { return s.store }

func (s *Service) Coordinator() *coordinator.Coordinator { return s.coord }

func (s *Service) Provider() string { return s.provider }

func (s *Service) checkLimits() error {
	if !s.cfg.EnforceLimits {
		return nil
	}
	status := s.ledger.CheckLimits()
	if status.WithinLimits {
		return nil
	}
	var reached []string
	for _, w := range status.Warnings {
		if w.Used >= w.Limit {
			reached = append(reached, w.Metric)
		}
	}
	return fmt.Errorf("%w: %s", ttypes.ErrLimitExceeded, strings.Join(reached, ", "))
}

func (s *Service) track(kind ttypes.Kind, meta usage.Metadata) {
	if _, err := s.ledger.Track(kind, s.provider, meta); err != nil {
		s.logger.Warn("Failed to record usage", "kind", kind, "error", err)
	}
}

func (s *Service) retryOptions() []retry.Option {
	return []retry.Option{
		retry.WithMaxAttempts(s.cfg.MaxRetries),
		retry.WithBaseDelay(s.cfg.RetryBaseDelay),
		retry.WithSleep(s.sleep),
		retry.WithLogger(s.logger),
		retry.WithObserver(func(_ int, _ time.Duration, err error) {
			s.metrics.IncRetry(retryReason(err))
		}),
	}
}

func (s *Service) defaults(modelID, format string) (string, string) {
	if modelID == "" {
		modelID = s.cfg.ModelID
	}
	if format == "" {
		format = s.cfg.Format
	}
	return modelID, format
}

func retryReason(err error) string {
	switch {
	case errors.Is(err, ttypes.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ttypes.ErrServiceUnavailable):
		return "unavailable"
	case errors.Is(err, ttypes.ErrEmptyPayload):
		return "empty_payload"
	case errors.Is(err, ttypes.ErrNetwork):
		return "network"
	default:
		return "other"
	}
}

func withExt(name, ext string) string {
	if name == "" {
		return "audio" + ext
	}
	return strings.TrimSuffix(name, filepath.Ext(name)) + ext
}
