package elevenlabs

import (
	"context"
	"encoding/json"
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
		BaseURL:           ts.URL,
		VoiceID:           "voice-1",
		RequestsPerMinute: -1,
		HTTPClient:        ts.Client(),
	})
}

func TestSynthesizeSendsRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/text-to-speech/voice-1" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("xi-api-key"); got != "test-key" {
			t.Fatalf("unexpected api key header: %q", got)
		}
		if got := r.URL.Query().Get("output_format"); got != "pcm_16000" {
			t.Fatalf("unexpected output_format: %q", got)
		}
		var req speechRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if req.Text != "hello" || req.ModelID != DefaultModelID {
			t.Fatalf("unexpected body: %+v", req)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte{1, 2, 3})
	})

	audio, err := c.Synthesize(context.Background(), "hello", "", "pcm_16000")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if len(audio) != 3 {
		t.Fatalf("audio len = %d, want 3", len(audio))
	}
}

func TestSynthesizeEmptyPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	_, err := c.Synthesize(context.Background(), "hello", "m", "mp3_44100_128")
	if !errors.Is(err, ttypes.ErrEmptyPayload) {
		t.Fatalf("expected ErrEmptyPayload, got %v", err)
	}
	if !ttypes.IsRetryable(err) {
		t.Error("empty payload should be retryable")
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, ttypes.ErrRateLimited},
		{http.StatusServiceUnavailable, ttypes.ErrServiceUnavailable},
		{http.StatusBadRequest, ttypes.ErrValidation},
		{http.StatusUnauthorized, ttypes.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			})
			_, err := c.Synthesize(context.Background(), "hi", "", "")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			var apiErr *ttypes.APIError
			if !errors.As(err, &apiErr) || apiErr.StatusCode != tt.status || apiErr.Body != "nope" {
				t.Fatalf("unexpected api error: %+v", apiErr)
			}
		})
	}
}

func TestTranscribeMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/speech-to-text" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		defer r.MultipartForm.RemoveAll()
		if got := r.FormValue("model_id"); got != DefaultTranscribeModel {
			t.Fatalf("unexpected model_id: %q", got)
		}
		f, fh, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile: %v", err)
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if string(data) != "RIFFdata" || fh.Filename != "clip.wav" {
			t.Fatalf("unexpected file %q %q", fh.Filename, data)
		}
		if got := fh.Header.Get("Content-Type"); got != "audio/wav" {
			t.Fatalf("unexpected part content type: %q", got)
		}
		_, _ = io.WriteString(w, `{"text":" hello world ","language_code":"eng","words":[
			{"text":"hello","start":0.1,"end":0.5,"type":"word"},
			{"text":" ","start":0.5,"end":0.6,"type":"spacing"},
			{"text":"world","start":0.6,"end":1.2,"type":"word"}]}`)
	})

	tr, err := c.Transcribe(context.Background(), ttypes.TranscriptionInput{
		Audio:    []byte("RIFFdata"),
		FileName: "clip.wav",
		MimeType: "audio/wav",
	})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if tr.Text != "hello world" || tr.LanguageCode != "eng" {
		t.Fatalf("unexpected transcript: %+v", tr)
	}
	if len(tr.Words) != 2 || tr.Words[1].Text != "world" {
		t.Fatalf("unexpected words: %+v", tr.Words)
	}
	if tr.DurationSec != 1.2 {
		t.Errorf("duration = %v, want 1.2", tr.DurationSec)
	}
}

func TestVoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/voices" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"voices":[{"voice_id":"a","name":"Rachel","category":"premade","labels":{"accent":"american"}}]}`)
	})

	voices, err := c.Voices(context.Background())
	if err != nil {
		t.Fatalf("Voices() error = %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "a" || voices[0].Labels["accent"] != "american" {
		t.Fatalf("unexpected voices: %+v", voices)
	}
}

func TestTransportFailureIsUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	addr := ts.URL
	ts.Close()

	c := New(Config{BaseURL: addr, RequestsPerMinute: -1})
	_, err := c.Voices(context.Background())
	if !errors.Is(err, ttypes.ErrNetworkUnreachable) {
		t.Fatalf("expected ErrNetworkUnreachable, got %v", err)
	}
	if ttypes.IsRetryable(err) {
		t.Error("unreachable should not be retryable")
	}
}

func TestCancelledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should not be sent")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Voices(ctx); !ttypes.IsCancellation(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
