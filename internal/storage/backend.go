package storage

import (
	"github.com/dgnsrekt/speechkit/internal/ttypes"
)

// ErrQuotaExceeded is returned by a Backend that cannot accept a write
// because its own quota is exhausted.
var ErrQuotaExceeded = ttypes.ErrStorageQuota

// Estimate is a best-effort report of backend usage. A zero Quota means the
// backend does not enforce one.
type Estimate struct {
	Usage int64
	Quota int64
}

// Backend is the durable key/value substrate under a Store. Implementations
// must be safe for concurrent use.
type Backend interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Keys() ([]string, error)
	Estimate() (Estimate, error)
	Close() error
}
