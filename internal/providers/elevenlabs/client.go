// Package elevenlabs is a client for the ElevenLabs speech-to-text,
// text-to-speech and voice catalog endpoints.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/speechkit/internal/metrics"
	"github.com/dgnsrekt/speechkit/internal/providers"
	"github.com/dgnsrekt/speechkit/internal/ttypes"
)

const (
	Name = "elevenlabs"

	DefaultBaseURL         = "https://api.elevenlabs.io"
	DefaultVoiceID         = "21m00Tcm4TlvDq8ikWAM"
	DefaultModelID         = "eleven_multilingual_v2"
	DefaultTranscribeModel = "scribe_v1"
	DefaultOutputFormat    = "mp3_44100_128"
)

// Config holds client settings. Zero fields take defaults.
type Config struct {
	APIKey            string
	BaseURL           string
	VoiceID           string
	ModelID           string
	TranscribeModel   string
	RequestsPerMinute int
	HTTPClient        *http.Client
}

// Client talks to the ElevenLabs REST API.
type Client struct {
	cfg     Config
	http    *http.Client
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
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.VoiceID == "" {
		cfg.VoiceID = DefaultVoiceID
	}
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = DefaultTranscribeModel
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: providers.NewLimiter(cfg.RequestsPerMinute),
		logger:  log.Default().WithPrefix(Name),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name identifies the provider in usage records.
func (c *Client) Name() string { return Name }

type speechRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Synthesize converts text into audio in the requested output format.
func (c *Client) Synthesize(ctx context.Context, text, modelID, format string) ([]byte, error) {
	if modelID == "" {
		modelID = c.cfg.ModelID
	}
	if format == "" {
		format = DefaultOutputFormat
	}

	payload, err := json.Marshal(speechRequest{Text: text, ModelID: modelID})
	if err != nil {
		return nil, fmt.Errorf("encoding speech request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?%s",
		c.cfg.BaseURL, url.PathEscape(c.cfg.VoiceID), url.Values{"output_format": {format}}.Encode())

	body, err := c.do(ctx, "text_to_speech", http.MethodPost, endpoint, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%s: %w", Name, ttypes.ErrEmptyPayload)
	}
	return body, nil
}

type transcriptResponse struct {
	Text         string `json:"text"`
	LanguageCode string `json:"language_code"`
	Words        []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Type  string  `json:"type"`
	} `json:"words"`
}

// Transcribe uploads audio and returns the transcript with word timings.
func (c *Client) Transcribe(ctx context.Context, in ttypes.TranscriptionInput) (*ttypes.Transcript, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("model_id", c.cfg.TranscribeModel); err != nil {
		return nil, err
	}
	if in.LanguageCode != "" {
		if err := w.WriteField("language_code", in.LanguageCode); err != nil {
			return nil, err
		}
	}

	name := in.FileName
	if name == "" {
		name = "audio"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	if in.MimeType != "" {
		header.Set("Content-Type", in.MimeType)
	} else {
		header.Set("Content-Type", "application/octet-stream")
	}
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(in.Audio); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	body, err := c.do(ctx, "speech_to_text", http.MethodPost, c.cfg.BaseURL+"/v1/speech-to-text", w.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}

	var parsed transcriptResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%s: invalid transcription response: %w", Name, err)
	}

	t := &ttypes.Transcript{Text: strings.TrimSpace(parsed.Text), LanguageCode: parsed.LanguageCode}
	for _, word := range parsed.Words {
		if word.Type != "" && word.Type != "word" {
			continue
		}
		t.Words = append(t.Words, ttypes.Word{Text: word.Text, Start: word.Start, End: word.End})
		if word.End > t.DurationSec {
			t.DurationSec = word.End
		}
	}
	return t, nil
}

type voicesResponse struct {
	Voices []struct {
		VoiceID     string            `json:"voice_id"`
		Name        string            `json:"name"`
		Category    string            `json:"category"`
		Description string            `json:"description"`
		PreviewURL  string            `json:"preview_url"`
		Labels      map[string]string `json:"labels"`
	} `json:"voices"`
}

// Voices lists the voices available to the account.
func (c *Client) Voices(ctx context.Context) ([]ttypes.Voice, error) {
	body, err := c.do(ctx, "voices", http.MethodGet, c.cfg.BaseURL+"/v1/voices", "", nil)
	if err != nil {
		return nil, err
	}

	var parsed voicesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%s: invalid voices response: %w", Name, err)
	}

	voices := make([]ttypes.Voice, 0, len(parsed.Voices))
	for _, v := range parsed.Voices {
		voices = append(voices, ttypes.Voice{
			ID:          v.VoiceID,
			Name:        v.Name,
			Category:    v.Category,
			Description: v.Description,
			PreviewURL:  v.PreviewURL,
			Labels:      v.Labels,
		})
	}
	return voices, nil
}

// do performs one rate-limited request and returns the response body of a
// 2xx answer. Other statuses become *ttypes.APIError.
func (c *Client) do(ctx context.Context, endpoint, method, target, contentType string, body io.Reader) ([]byte, error) {
	if err := providers.Wait(ctx, c.limiter); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%s: building request: %w", Name, err)
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	started := time.Now()
	status := ""
	defer func() {
		c.metrics.ObserveProvider(Name, endpoint, status, time.Since(started))
	}()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, ttypes.ClassifyTransport(ctx, err)
	}
	defer resp.Body.Close()
	status = strconv.Itoa(resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ttypes.ClassifyTransport(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("request failed", "endpoint", endpoint, "status", resp.StatusCode)
		return nil, &ttypes.APIError{
			Provider:   Name,
			StatusCode: resp.StatusCode,
			Body:       providers.TruncateBody(string(data)),
		}
	}
	return data, nil
}
