package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dgnsrekt/speechkit/internal/ttypes"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return New(Config{
		APIKey:            "test-key",
		BaseURL:           ts.URL + "/v1",
		RequestsPerMinute: -1,
		HTTPClient:        ts.Client(),
	})
}

func TestTranscribeVerboseJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected auth header: %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		defer r.MultipartForm.RemoveAll()
		if got := r.FormValue("model"); got != DefaultTranscribeModel {
			t.Fatalf("unexpected model: %q", got)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Fatalf("unexpected response_format: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"task":"transcribe","language":"english","duration":2.5,"text":" hi there ",
			"words":[{"word":"hi","start":0,"end":0.4},{"word":"there","start":0.5,"end":0.9}]}`)
	})

	tr, err := c.Transcribe(context.Background(), ttypes.TranscriptionInput{Audio: []byte("RIFF"), MimeType: "audio/wav"})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if tr.Text != "hi there" || tr.DurationSec != 2.5 || tr.LanguageCode != "english" {
		t.Fatalf("unexpected transcript: %+v", tr)
	}
	if len(tr.Words) != 2 || tr.Words[1].Text != "there" {
		t.Fatalf("unexpected words: %+v", tr.Words)
	}
}

func TestSynthesize(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3audio"))
	})

	audio, err := c.Synthesize(context.Background(), "hello", "eleven_multilingual_v2", "mp3_44100_128")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if string(audio) != "ID3audio" {
		t.Fatalf("unexpected audio: %q", audio)
	}
}

func TestSynthesizeEmptyPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if _, err := c.Synthesize(context.Background(), "hello", "", ""); !errors.Is(err, ttypes.ErrEmptyPayload) {
		t.Fatalf("expected ErrEmptyPayload, got %v", err)
	}
}

func TestRateLimitedMapsToTaxonomy(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"slow down","type":"requests"}}`)
	})

	_, err := c.Synthesize(context.Background(), "hello", "", "")
	if !errors.Is(err, ttypes.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	var apiErr *ttypes.APIError
	if !errors.As(err, &apiErr) || apiErr.Provider != Name || apiErr.Body != "slow down" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestVoicesStatic(t *testing.T) {
	c := New(Config{})
	voices, err := c.Voices(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(voices) != len(voiceNames) || voices[0].Name != "Alloy" {
		t.Fatalf("unexpected voices: %+v", voices)
	}
}

func TestSpeechFormat(t *testing.T) {
	tests := map[string]string{
		"":              "mp3",
		"mp3_44100_128": "mp3",
		"pcm_16000":     "pcm",
		"opus":          "opus",
		"ulaw_8000":     "mp3",
	}
	for in, want := range tests {
		if got := string(speechFormat(in)); got != want {
			t.Errorf("speechFormat(%q) = %q, want %q", in, got, want)
		}
	}
}
