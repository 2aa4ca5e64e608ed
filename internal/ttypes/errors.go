package ttypes

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// Error taxonomy for the speech orchestration layer.
var (
	// ErrValidation is returned for missing or oversized input. Never retried.
	ErrValidation = errors.New("invalid input")

	// ErrAdmissionRejected is returned when the concurrency ceiling is reached.
	// Never retried; the caller should try again later.
	ErrAdmissionRejected = errors.New("too many requests in flight, try again later")

	// ErrNetwork is a transient transport failure. Retried.
	ErrNetwork = errors.New("network error")

	// ErrUnauthorized maps a 401 or 403 response: the API key is missing,
	// wrong or lacks access. Never retried.
	ErrUnauthorized = errors.New("provider rejected the API key")

	// ErrRateLimited maps a 429 response. Retried.
	ErrRateLimited = errors.New("rate limited by provider")

	// ErrServiceUnavailable maps a 503 response. Retried.
	ErrServiceUnavailable = errors.New("provider service unavailable")

	// ErrNetworkUnreachable means the provider cannot be reached at all. Never retried.
	ErrNetworkUnreachable = errors.New("network unreachable")

	// ErrTimeout means the operation ran past its deadline. Never retried.
	ErrTimeout = errors.New("operation timed out")

	// ErrCanceled means the operation was cancelled. Never retried.
	ErrCanceled = errors.New("operation canceled")

	// ErrStorageQuota means persistent storage is full even after reclamation.
	ErrStorageQuota = errors.New("storage quota exceeded")

	// ErrCorruptedEntry marks a stored item that could not be parsed.
	ErrCorruptedEntry = errors.New("corrupted storage entry")

	// ErrDecode means audio bytes could not be decoded.
	ErrDecode = errors.New("unable to decode audio")

	// ErrEmptyPayload is returned when a provider answers successfully with no audio.
	ErrEmptyPayload = errors.New("provider returned an empty payload")

	// ErrLimitExceeded means a configured daily usage ceiling has been reached.
	ErrLimitExceeded = errors.New("daily usage limit reached")
)

// APIError is a non-2xx response from a speech provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: request failed with status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: request failed with status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Unwrap maps the HTTP status onto the error taxonomy.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return ErrServiceUnavailable
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return ErrValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	default:
		return ErrNetwork
	}
}

// IsRetryable reports whether err may succeed on a later attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case IsCancellation(err), IsTimeout(err):
		return false
	case errors.Is(err, ErrAdmissionRejected),
		errors.Is(err, ErrNetworkUnreachable),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrDecode),
		errors.Is(err, ErrLimitExceeded):
		return false
	}
	return true
}

// IsCancellation reports whether err is an explicit cancellation.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

// IsTimeout reports whether err is a deadline failure.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// ContextError converts a finished context into ErrTimeout or ErrCanceled,
// keeping the cancel cause in the chain. It returns nil while ctx is live.
func ContextError(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(ctx)
	if IsTimeout(cause) {
		if errors.Is(cause, ErrTimeout) {
			return cause
		}
		return fmt.Errorf("%w: %w", ErrTimeout, cause)
	}
	if errors.Is(cause, ErrCanceled) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrCanceled, cause)
}

// ClassifyTransport maps an error returned by an HTTP round trip onto the
// taxonomy. ctx is the request context; its state wins over the raw error.
func ClassifyTransport(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ContextError(ctx); ctxErr != nil {
		return ctxErr
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsTimeout {
		return fmt.Errorf("%w: %w", ErrNetworkUnreachable, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return fmt.Errorf("%w: %w", ErrNetworkUnreachable, err)
	}
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}
