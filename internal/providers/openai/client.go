// Package openai adapts the OpenAI audio endpoints to the speech provider
// interfaces using go-openai.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	goopenai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/speechkit/internal/metrics"
	"github.com/dgnsrekt/speechkit/internal/providers"
	"github.com/dgnsrekt/speechkit/internal/ttypes"
)

const (
	Name = "openai"

	DefaultTranscribeModel = goopenai.Whisper1
	DefaultSpeechModel     = string(goopenai.TTSModel1)
	DefaultVoice           = string(goopenai.VoiceAlloy)
)

// voiceNames is the fixed set of voices offered by the speech endpoint.
var voiceNames = []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "nova", "onyx", "sage", "shimmer"}

type Config struct {
	APIKey            string
	BaseURL           string
	TranscribeModel   string
	SpeechModel       string
	Voice             string
	RequestsPerMinute int
	HTTPClient        *http.Client
}

type Client struct {
	cfg     Config
	api     *goopenai.Client
	limiter *rate.Limiter
	logger  *log.Logger
	metrics *metrics.Metrics
}

type Option func(*Client)

func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func New(cfg Config, opts ...Option) *Client {
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = DefaultTranscribeModel
	}
	if cfg.SpeechModel == "" {
		cfg.SpeechModel = DefaultSpeechModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}

	apiCfg := goopenai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		apiCfg.HTTPClient = cfg.HTTPClient
	}

	c := &Client{
		cfg:     cfg,
		api:     goopenai.NewClientWithConfig(apiCfg),
		limiter: providers.NewLimiter(cfg.RequestsPerMinute),
		logger:  log.Default().WithPrefix(Name),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return Name }

// Transcribe runs whisper with word level timestamps.
func (c *Client) Transcribe(ctx context.Context, in ttypes.TranscriptionInput) (*ttypes.Transcript, error) {
	if err := providers.Wait(ctx, c.limiter); err != nil {
		return nil, err
	}

	name := in.FileName
	if name == "" {
		name = "audio" + extensionFor(in.MimeType)
	}

	started := time.Now()
	resp, err := c.api.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:                  c.cfg.TranscribeModel,
		FilePath:               name,
		Reader:                 bytes.NewReader(in.Audio),
		Language:               in.LanguageCode,
		Format:                 goopenai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []goopenai.TranscriptionTimestampGranularity{goopenai.TranscriptionTimestampGranularityWord},
	})
	c.observe("audio_transcriptions", err, time.Since(started))
	if err != nil {
		return nil, c.mapError(ctx, err)
	}

	t := &ttypes.Transcript{
		Text:         strings.TrimSpace(resp.Text),
		LanguageCode: resp.Language,
		DurationSec:  resp.Duration,
	}
	for _, w := range resp.Words {
		t.Words = append(t.Words, ttypes.Word{Text: w.Word, Start: w.Start, End: w.End})
	}
	return t, nil
}

// Synthesize calls the speech endpoint. format accepts either a plain
// container name or a provider style "codec_rate_bitrate" string.
func (c *Client) Synthesize(ctx context.Context, text, modelID, format string) ([]byte, error) {
	if err := providers.Wait(ctx, c.limiter); err != nil {
		return nil, err
	}
	if !isSpeechModel(modelID) {
		modelID = c.cfg.SpeechModel
	}

	started := time.Now()
	resp, err := c.api.CreateSpeech(ctx, goopenai.CreateSpeechRequest{
		Model:          goopenai.SpeechModel(modelID),
		Input:          text,
		Voice:          goopenai.SpeechVoice(c.cfg.Voice),
		ResponseFormat: speechFormat(format),
	})
	c.observe("audio_speech", err, time.Since(started))
	if err != nil {
		return nil, c.mapError(ctx, err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, ttypes.ClassifyTransport(ctx, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: %w", Name, ttypes.ErrEmptyPayload)
	}
	return data, nil
}

// Voices returns the fixed voice list; the API has no catalog endpoint.
func (c *Client) Voices(context.Context) ([]ttypes.Voice, error) {
	voices := make([]ttypes.Voice, 0, len(voiceNames))
	for _, v := range voiceNames {
		voices = append(voices, ttypes.Voice{
			ID:       v,
			Name:     strings.ToUpper(v[:1]) + v[1:],
			Category: "premade",
		})
	}
	return voices, nil
}

func (c *Client) mapError(ctx context.Context, err error) error {
	if ctxErr := ttypes.ContextError(ctx); ctxErr != nil {
		return ctxErr
	}

	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return &ttypes.APIError{Provider: Name, StatusCode: apiErr.HTTPStatusCode, Body: providers.TruncateBody(apiErr.Message)}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		body := ""
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &ttypes.APIError{Provider: Name, StatusCode: reqErr.HTTPStatusCode, Body: providers.TruncateBody(body)}
	}
	return ttypes.ClassifyTransport(ctx, err)
}

func (c *Client) observe(endpoint string, err error, d time.Duration) {
	status := "200"
	if err != nil {
		status = ""
		var apiErr *goopenai.APIError
		var reqErr *goopenai.RequestError
		switch {
		case errors.As(err, &apiErr):
			status = strconv.Itoa(apiErr.HTTPStatusCode)
		case errors.As(err, &reqErr):
			status = strconv.Itoa(reqErr.HTTPStatusCode)
		}
		c.logger.Debug("request failed", "endpoint", endpoint, "error", err)
	}
	c.metrics.ObserveProvider(Name, endpoint, status, d)
}

// isSpeechModel reports whether id names an OpenAI speech model. Cache keys
// may carry another provider's model id.
func isSpeechModel(id string) bool {
	return strings.HasPrefix(id, "tts-") || strings.HasPrefix(id, "gpt-4o")
}

func speechFormat(format string) goopenai.SpeechResponseFormat {
	codec, _, _ := strings.Cut(strings.ToLower(format), "_")
	switch codec {
	case "opus", "aac", "flac", "wav", "pcm":
		return goopenai.SpeechResponseFormat(codec)
	default:
		return goopenai.SpeechResponseFormatMp3
	}
}

func extensionFor(mime string) string {
	switch {
	case strings.Contains(mime, "wav"):
		return ".wav"
	case strings.Contains(mime, "aiff"):
		return ".aiff"
	case strings.Contains(mime, "mpeg"), strings.Contains(mime, "mp3"):
		return ".mp3"
	case strings.Contains(mime, "mp4"), strings.Contains(mime, "m4a"):
		return ".m4a"
	case strings.Contains(mime, "ogg"):
		return ".ogg"
	case strings.Contains(mime, "webm"):
		return ".webm"
	case strings.Contains(mime, "flac"):
		return ".flac"
	default:
		return ".wav"
	}
}
