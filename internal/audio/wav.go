package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dgnsrekt/speechkit/internal/ttypes"
)

var leOrder binary.ByteOrder = binary.LittleEndian

const (
	wavHeaderSize = 44

	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

// EncodeWAV renders buf as a 16-bit PCM WAV file with the canonical 44-byte
// header. The result is exactly 44 + frames*channels*2 bytes long.
func EncodeWAV(buf *SampleBuffer) []byte {
	channels := buf.Channels()
	frames := buf.Frames()
	dataLen := frames * channels * 2

	out := make([]byte, wavHeaderSize+dataLen)
	le := binary.LittleEndian

	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], uint32(36+dataLen))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], 16)
	le.PutUint16(out[20:22], wavFormatPCM)
	le.PutUint16(out[22:24], uint16(channels))
	le.PutUint32(out[24:28], uint32(buf.SampleRate))
	le.PutUint32(out[28:32], uint32(buf.SampleRate*channels*2))
	le.PutUint16(out[32:34], uint16(channels*2))
	le.PutUint16(out[34:36], 16)
	copy(out[36:40], "data")
	le.PutUint32(out[40:44], uint32(dataLen))

	off := wavHeaderSize
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			le.PutUint16(out[off:], uint16(toInt16(buf.Data[ch][i])))
			off += 2
		}
	}
	return out
}

// WAVDecoder decodes RIFF/WAVE files holding integer PCM (8, 16, 24 or 32
// bits) or IEEE float samples.
type WAVDecoder struct{}

type wavFormat struct {
	tag        uint16
	channels   int
	sampleRate int
	bits       int
}

func (WAVDecoder) Decode(ctx context.Context, data []byte) (*SampleBuffer, error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return nil, fmt.Errorf("%w: not a RIFF/WAVE file", ttypes.ErrDecode)
	}

	le := binary.LittleEndian
	var (
		format  *wavFormat
		payload []byte
	)

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(le.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if size < 0 || end > len(data) {
			// Truncated data chunks are common in streamed WAVs.
			if id == "data" {
				end = len(data)
			} else {
				return nil, fmt.Errorf("%w: chunk %q overruns file", ttypes.ErrDecode, id)
			}
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, fmt.Errorf("%w: short fmt chunk", ttypes.ErrDecode)
			}
			f := &wavFormat{
				tag:        le.Uint16(data[body:]),
				channels:   int(le.Uint16(data[body+2:])),
				sampleRate: int(le.Uint32(data[body+4:])),
				bits:       int(le.Uint16(data[body+14:])),
			}
			if f.tag == wavFormatExtensible && end-body >= 26 {
				f.tag = le.Uint16(data[body+24:])
			}
			format = f
		case "data":
			payload = data[body:end]
		}

		pos = end
		if size%2 == 1 {
			pos++
		}
	}

	if format == nil {
		return nil, fmt.Errorf("%w: missing fmt chunk", ttypes.ErrDecode)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: missing data chunk", ttypes.ErrDecode)
	}
	if format.channels <= 0 || format.sampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid format (%d channels, %d Hz)", ttypes.ErrDecode, format.channels, format.sampleRate)
	}

	read, err := sampleReader(format.tag, format.bits, le)
	if err != nil {
		return nil, err
	}
	return decodeInterleaved(ctx, payload, format.sampleRate, format.channels, format.bits/8, read)
}

type sampleFunc func(b []byte) float32

func sampleReader(tag uint16, bits int, order binary.ByteOrder) (sampleFunc, error) {
	switch {
	case tag == wavFormatPCM && bits == 8:
		return func(b []byte) float32 { return (float32(b[0]) - 128) / 128 }, nil
	case tag == wavFormatPCM && bits == 16:
		return func(b []byte) float32 { return float32(int16(order.Uint16(b))) / 32768 }, nil
	case tag == wavFormatPCM && bits == 24:
		return func(b []byte) float32 {
			var v int32
			if order == binary.ByteOrder(binary.BigEndian) {
				v = int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2])
			} else {
				v = int32(b[2])<<16 | int32(b[1])<<8 | int32(b[0])
			}
			if v&0x800000 != 0 {
				v -= 1 << 24
			}
			return float32(v) / 8388608
		}, nil
	case tag == wavFormatPCM && bits == 32:
		return func(b []byte) float32 { return float32(float64(int32(order.Uint32(b))) / 2147483648) }, nil
	case tag == wavFormatFloat && bits == 32:
		return func(b []byte) float32 { return math.Float32frombits(order.Uint32(b)) }, nil
	case tag == wavFormatFloat && bits == 64:
		return func(b []byte) float32 { return float32(math.Float64frombits(order.Uint64(b))) }, nil
	}
	return nil, fmt.Errorf("%w: unsupported sample format (tag %d, %d bits)", ttypes.ErrDecode, tag, bits)
}

// ctxCheckInterval is how many frames are converted between context checks.
const ctxCheckInterval = 1 << 16

func decodeInterleaved(ctx context.Context, payload []byte, rate, channels, width int, read sampleFunc) (*SampleBuffer, error) {
	frameSize := channels * width
	frames := len(payload) / frameSize
	buf := NewSampleBuffer(rate, channels, frames)

	for i := 0; i < frames; i++ {
		if i%ctxCheckInterval == 0 {
			if err := ttypes.ContextError(ctx); err != nil {
				return nil, err
			}
		}
		off := i * frameSize
		for ch := 0; ch < channels; ch++ {
			buf.Data[ch][i] = read(payload[off+ch*width : off+(ch+1)*width])
		}
	}
	return buf, nil
}
