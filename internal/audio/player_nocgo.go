//go:build !cgo || nocgo

package audio

import (
	"context"
	"fmt"
)

// Stub for builds without cgo, where the oto device driver is unavailable.
// Decoding, trimming and compression work the same.

// OtoPlayer is unavailable in this build.
type OtoPlayer struct{}

// NewOtoPlayer validates cfg and reports ErrPlaybackUnavailable.
func NewOtoPlayer(cfg PlayerConfig) (*OtoPlayer, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid player config: %w", err)
	}
	return nil, ErrPlaybackUnavailable
}

func (p *OtoPlayer) SetVolume(float64) error {
	return ErrPlaybackUnavailable
}

func (p *OtoPlayer) Play(context.Context, []byte) error {
	return ErrPlaybackUnavailable
}
