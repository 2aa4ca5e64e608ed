package ttypes

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", ErrCanceled, false},
		{"context canceled", context.Canceled, false},
		{"timeout", ErrTimeout, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), false},
		{"admission", ErrAdmissionRejected, false},
		{"unreachable", ErrNetworkUnreachable, false},
		{"validation", ErrValidation, false},
		{"decode", ErrDecode, false},
		{"limit", ErrLimitExceeded, false},
		{"network", ErrNetwork, true},
		{"rate limited", &APIError{Provider: "x", StatusCode: http.StatusTooManyRequests}, true},
		{"unavailable", &APIError{Provider: "x", StatusCode: http.StatusServiceUnavailable}, true},
		{"bad request", &APIError{Provider: "x", StatusCode: http.StatusBadRequest}, false},
		{"unauthorized", &APIError{Provider: "x", StatusCode: http.StatusUnauthorized}, false},
		{"forbidden", &APIError{Provider: "x", StatusCode: http.StatusForbidden}, false},
		{"empty payload", ErrEmptyPayload, true},
		{"unknown", errors.New("boom"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestAPIErrorUnwrap(t *testing.T) {
	err := error(&APIError{Provider: "elevenlabs", StatusCode: 429, Body: "slow down"})
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("429 should unwrap to ErrRateLimited")
	}

	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		if err := error(&APIError{Provider: "openai", StatusCode: code}); !errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNetwork) {
			t.Errorf("%d should unwrap to ErrUnauthorized only", code)
		}
	}

	var apiErr *APIError
	if !errors.As(fmt.Errorf("wrapped: %w", err), &apiErr) {
		t.Fatal("expected errors.As to find APIError")
	}
	if apiErr.StatusCode != 429 {
		t.Errorf("StatusCode = %d, want 429", apiErr.StatusCode)
	}
}

func TestContextError(t *testing.T) {
	if err := ContextError(context.Background()); err != nil {
		t.Errorf("live context should return nil, got %v", err)
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(nil)
	if err := ContextError(ctx); !errors.Is(err, ErrCanceled) {
		t.Errorf("expected ErrCanceled, got %v", err)
	}

	ctx, cancel = context.WithCancelCause(context.Background())
	cancel(ErrTimeout)
	err := ContextError(ctx)
	if !errors.Is(err, ErrTimeout) || errors.Is(err, ErrCanceled) {
		t.Errorf("expected ErrTimeout only, got %v", err)
	}
}

func TestClassifyTransport(t *testing.T) {
	ctx := context.Background()

	dns := &net.DNSError{Err: "no such host", Name: "api.example.invalid"}
	if err := ClassifyTransport(ctx, dns); !errors.Is(err, ErrNetworkUnreachable) {
		t.Errorf("DNS failure should be unreachable, got %v", err)
	}

	refused := &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
	if err := ClassifyTransport(ctx, refused); !errors.Is(err, ErrNetworkUnreachable) {
		t.Errorf("connection refused should be unreachable, got %v", err)
	}

	if err := ClassifyTransport(ctx, errors.New("EOF")); !errors.Is(err, ErrNetwork) {
		t.Errorf("generic failure should be ErrNetwork, got %v", err)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if err := ClassifyTransport(canceled, errors.New("EOF")); !IsCancellation(err) {
		t.Errorf("cancelled context should win, got %v", err)
	}
}

func TestParseKind(t *testing.T) {
	tests := map[string]Kind{
		"tts":        KindSynthesize,
		"Synthesize": KindSynthesize,
		"stt":        KindTranscribe,
		"":           KindAny,
		"all":        KindAny,
	}
	for in, want := range tests {
		got, err := ParseKind(in)
		if err != nil {
			t.Errorf("ParseKind(%q) error: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseKind(%q) = %q, want %q", in, got, want)
		}
	}

	if _, err := ParseKind("video"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
