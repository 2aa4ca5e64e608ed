package audio

import (
	"fmt"
	"math"
	"time"
)

// SampleBuffer holds decoded audio, one slice per channel.
type SampleBuffer struct {
	SampleRate int
	Data       [][]float32
}

// NewSampleBuffer allocates a silent buffer.
func NewSampleBuffer(sampleRate, channels, frames int) *SampleBuffer {
	data := make([][]float32, channels)
	for ch := range data {
		data[ch] = make([]float32, frames)
	}
	return &SampleBuffer{SampleRate: sampleRate, Data: data}
}

func (b *SampleBuffer) Channels() int {
	return len(b.Data)
}

// Frames returns the number of sample frames. Ragged buffers report the
// shortest channel.
func (b *SampleBuffer) Frames() int {
	if len(b.Data) == 0 {
		return 0
	}
	n := len(b.Data[0])
	for _, ch := range b.Data[1:] {
		if len(ch) < n {
			n = len(ch)
		}
	}
	return n
}

func (b *SampleBuffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

func (b *SampleBuffer) validate() error {
	if b == nil {
		return fmt.Errorf("nil sample buffer")
	}
	if b.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", b.SampleRate)
	}
	if len(b.Data) == 0 {
		return fmt.Errorf("sample buffer has no channels")
	}
	return nil
}

// Mono averages all channels into a single channel.
func (b *SampleBuffer) Mono() *SampleBuffer {
	frames := b.Frames()
	out := NewSampleBuffer(b.SampleRate, 1, frames)
	if len(b.Data) == 1 {
		copy(out.Data[0], b.Data[0][:frames])
		return out
	}
	scale := 1 / float32(len(b.Data))
	for i := 0; i < frames; i++ {
		var sum float32
		for _, ch := range b.Data {
			sum += ch[i]
		}
		out.Data[0][i] = sum * scale
	}
	return out
}

// Resample converts the buffer to rate using linear interpolation.
func (b *SampleBuffer) Resample(rate int) *SampleBuffer {
	if rate <= 0 || rate == b.SampleRate {
		frames := b.Frames()
		out := NewSampleBuffer(b.SampleRate, b.Channels(), frames)
		for ch := range b.Data {
			copy(out.Data[ch], b.Data[ch][:frames])
		}
		return out
	}

	inFrames := b.Frames()
	step := float64(b.SampleRate) / float64(rate)
	outFrames := int(math.Floor(float64(inFrames) / step))
	out := NewSampleBuffer(rate, b.Channels(), outFrames)

	for ch, in := range b.Data {
		dst := out.Data[ch]
		for i := range dst {
			pos := float64(i) * step
			i0 := int(pos)
			if i0 >= inFrames-1 {
				dst[i] = in[inFrames-1]
				continue
			}
			frac := float32(pos - float64(i0))
			dst[i] = in[i0] + (in[i0+1]-in[i0])*frac
		}
	}
	return out
}

// toInt16 converts a float sample to signed 16-bit PCM with clamping.
func toInt16(s float32) int16 {
	v := math.Round(float64(s) * 32768)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
