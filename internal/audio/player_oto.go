//go:build cgo && !nocgo

package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/dgnsrekt/speechkit/internal/ttypes"
)

// oto allows a single context per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoCfg  PlayerConfig
	otoErr  error
)

// OtoPlayer plays audio on the default output device. Payloads are decoded,
// converted to the device format and played one at a time.
type OtoPlayer struct {
	cfg     PlayerConfig
	decoder Decoder
	volume  float64

	// mu serialises playback; the device has a single output.
	mu sync.Mutex
}

// NewOtoPlayer opens the audio device. Every OtoPlayer shares the device
// opened by the first call.
func NewOtoPlayer(cfg PlayerConfig) (*OtoPlayer, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid player config: %w", err)
	}

	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   cfg.SampleRate,
			ChannelCount: cfg.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   cfg.BufferSize,
		})
		if err != nil {
			otoErr = fmt.Errorf("failed to create oto context: %w", err)
			return
		}
		<-ready
		otoCtx = ctx
		otoCfg = cfg
	})
	if otoErr != nil {
		return nil, otoErr
	}

	return &OtoPlayer{
		cfg:     otoCfg,
		decoder: DefaultDecoder(),
		volume:  1.0,
	}, nil
}

// SetVolume sets the playback volume (0.0 to 1.0).
func (p *OtoPlayer) SetVolume(volume float64) error {
	if volume < 0.0 || volume > 1.0 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %f", volume)
	}
	p.mu.Lock()
	p.volume = volume
	p.mu.Unlock()
	return nil
}

func (p *OtoPlayer) Play(ctx context.Context, wav []byte) error {
	if len(wav) == 0 {
		return errors.New("audio data is empty")
	}

	buf, err := p.decoder.Decode(ctx, wav)
	if err != nil {
		return err
	}
	pcm := devicePCM(buf, p.cfg)

	p.mu.Lock()
	defer p.mu.Unlock()

	// pcm stays referenced by the reader until the player is closed.
	player := otoCtx.NewPlayer(bytes.NewReader(pcm))
	defer player.Close()
	player.SetVolume(p.volume)
	player.Play()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			player.Pause()
			return ttypes.ContextError(ctx)
		case <-ticker.C:
			if player.IsPlaying() {
				continue
			}
			if err := player.Err(); err != nil {
				return fmt.Errorf("playback failed: %w", err)
			}
			return nil
		}
	}
}
