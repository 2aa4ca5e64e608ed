package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Player plays a WAV payload. Play blocks until playback finishes, fails
// or ctx is done, and returns exactly once. Cancelling ctx halts playback.
type Player interface {
	Play(ctx context.Context, wav []byte) error
}

// ErrPlaybackUnavailable is returned by NewOtoPlayer in builds without an
// audio device driver.
var ErrPlaybackUnavailable = errors.New("audio playback not available in this build")

// PlayerConfig contains configuration for the oto device.
type PlayerConfig struct {
	SampleRate int // 44100 or 48000 Hz only
	Channels   int // 1 = mono, 2 = stereo
	BufferSize time.Duration
}

func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		SampleRate: 44100,
		Channels:   1,
		BufferSize: 100 * time.Millisecond,
	}
}

func (c PlayerConfig) validate() error {
	if c.SampleRate != 44100 && c.SampleRate != 48000 {
		return fmt.Errorf("sample rate must be 44100 or 48000 Hz, got %d", c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", c.Channels)
	}
	return nil
}

// devicePCM converts buf to interleaved s16le at the rate and channel
// count of cfg.
func devicePCM(buf *SampleBuffer, cfg PlayerConfig) []byte {
	src := buf
	if src.Channels() != cfg.Channels {
		src = src.Mono()
		if cfg.Channels == 2 {
			src = &SampleBuffer{SampleRate: src.SampleRate, Data: [][]float32{src.Data[0], src.Data[0]}}
		}
	}
	src = src.Resample(cfg.SampleRate)

	frames := src.Frames()
	out := make([]byte, frames*cfg.Channels*2)
	off := 0
	for i := 0; i < frames; i++ {
		for ch := 0; ch < cfg.Channels; ch++ {
			binary.LittleEndian.PutUint16(out[off:], uint16(toInt16(src.Data[ch][i])))
			off += 2
		}
	}
	return out
}
