//go:build !cgo || nocgo

package audio

import (
	"context"
	"errors"
	"testing"
)

func TestOtoPlayerUnavailableWithoutCgo(t *testing.T) {
	if _, err := NewOtoPlayer(DefaultPlayerConfig()); !errors.Is(err, ErrPlaybackUnavailable) {
		t.Fatalf("expected ErrPlaybackUnavailable, got %v", err)
	}
	if _, err := NewOtoPlayer(PlayerConfig{SampleRate: 8000, Channels: 1}); err == nil || errors.Is(err, ErrPlaybackUnavailable) {
		t.Errorf("invalid config should fail validation first, got %v", err)
	}
	var p OtoPlayer
	if err := p.Play(context.Background(), []byte{1}); !errors.Is(err, ErrPlaybackUnavailable) {
		t.Errorf("Play = %v", err)
	}
}
