package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/dgnsrekt/speechkit/internal/ttypes"
)

// Decoder turns encoded audio bytes into samples. Implementations must
// observe ctx and wrap failures with ttypes.ErrDecode.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (*SampleBuffer, error)
}

// ChainDecoder tries each decoder in order and returns the first success.
type ChainDecoder []Decoder

func (c ChainDecoder) Decode(ctx context.Context, data []byte) (*SampleBuffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ttypes.ErrDecode)
	}

	var errs []error
	for _, d := range c {
		buf, err := d.Decode(ctx, data)
		if err == nil {
			return buf, nil
		}
		if ttypes.IsCancellation(err) || ttypes.IsTimeout(err) {
			return nil, err
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no decoders configured", ttypes.ErrDecode)
	}
	return nil, errors.Join(errs...)
}

// DefaultDecoder handles WAV and AIFF natively and falls back to ffmpeg for
// compressed containers when it is installed.
func DefaultDecoder() Decoder {
	chain := ChainDecoder{WAVDecoder{}, AIFFDecoder{}}
	if _, err := exec.LookPath("ffmpeg"); err == nil {
		chain = append(chain, &FFmpegDecoder{})
	}
	return chain
}

// FFmpegDecoder shells out to ffmpeg to decode any container it understands
// into signed 16-bit little-endian PCM.
type FFmpegDecoder struct {
	// Binary defaults to "ffmpeg" on PATH.
	Binary string
	// SampleRate of the decoded output, default 44100.
	SampleRate int
	// Channels of the decoded output, default 1.
	Channels int
}

func (d *FFmpegDecoder) Decode(ctx context.Context, data []byte) (*SampleBuffer, error) {
	binary := d.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	rate := d.SampleRate
	if rate <= 0 {
		rate = 44100
	}
	channels := d.Channels
	if channels <= 0 {
		channels = 1
	}

	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not available: %w", ttypes.ErrDecode, err)
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(rate),
		"-ac", strconv.Itoa(channels),
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = bytes.NewReader(data)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ttypes.ContextError(ctx); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: ffmpeg: %w: %s", ttypes.ErrDecode, err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%w: ffmpeg produced no samples", ttypes.ErrDecode)
	}

	read, _ := sampleReader(wavFormatPCM, 16, leOrder)
	return decodeInterleaved(ctx, stdout.Bytes(), rate, channels, 2, read)
}
