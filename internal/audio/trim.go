package audio

import (
	"context"
	"fmt"
	"math"

	"github.com/dgnsrekt/speechkit/internal/ttypes"
)

// ErrInvalidRange is returned by Trim when start is not before end.
var ErrInvalidRange = fmt.Errorf("%w: trim start must be before end", ttypes.ErrValidation)

// Trim copies the half-open range [floor(start*rate), floor(end*rate)) of
// every channel into a new buffer. Bounds are clamped to the buffer; buf is
// never modified.
func Trim(buf *SampleBuffer, start, end float64) (*SampleBuffer, error) {
	if err := buf.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ttypes.ErrValidation, err)
	}
	if math.IsNaN(start) || math.IsNaN(end) || start >= end {
		return nil, fmt.Errorf("%w (start %.3fs, end %.3fs)", ErrInvalidRange, start, end)
	}

	frames := buf.Frames()
	rate := float64(buf.SampleRate)
	from := clampFrame(math.Floor(start*rate), frames)
	to := clampFrame(math.Floor(end*rate), frames)
	if to < from {
		to = from
	}

	out := NewSampleBuffer(buf.SampleRate, buf.Channels(), to-from)
	for ch := range buf.Data {
		copy(out.Data[ch], buf.Data[ch][from:to])
	}
	return out, nil
}

func clampFrame(f float64, frames int) int {
	if f < 0 {
		return 0
	}
	if f > float64(frames) {
		return frames
	}
	return int(f)
}

// TrimBytes decodes data, trims it and returns the result as WAV.
func (t *Transcoder) TrimBytes(ctx context.Context, data []byte, start, end float64) ([]byte, error) {
	if math.IsNaN(start) || math.IsNaN(end) || start >= end {
		return nil, fmt.Errorf("%w (start %.3fs, end %.3fs)", ErrInvalidRange, start, end)
	}
	buf, err := t.decoder.Decode(ctx, data)
	if err != nil {
		return nil, err
	}
	trimmed, err := Trim(buf, start, end)
	if err != nil {
		return nil, err
	}
	return EncodeWAV(trimmed), nil
}
