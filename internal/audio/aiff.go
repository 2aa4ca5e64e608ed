package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dgnsrekt/speechkit/internal/ttypes"
)

// AIFFDecoder decodes uncompressed big-endian AIFF files.
type AIFFDecoder struct{}

func (AIFFDecoder) Decode(ctx context.Context, data []byte) (*SampleBuffer, error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("FORM")) || !bytes.Equal(data[8:12], []byte("AIFF")) {
		return nil, fmt.Errorf("%w: not an AIFF file", ttypes.ErrDecode)
	}

	be := binary.BigEndian
	var (
		channels, bits int
		rate           float64
		haveComm       bool
		payload        []byte
	)

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(be.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if size < 0 || end > len(data) {
			return nil, fmt.Errorf("%w: chunk %q overruns file", ttypes.ErrDecode, id)
		}

		switch id {
		case "COMM":
			if size < 18 {
				return nil, fmt.Errorf("%w: short COMM chunk", ttypes.ErrDecode)
			}
			channels = int(be.Uint16(data[body:]))
			bits = int(be.Uint16(data[body+6:]))
			rate = extendedToFloat(data[body+8 : body+18])
			haveComm = true
		case "SSND":
			if size < 8 {
				return nil, fmt.Errorf("%w: short SSND chunk", ttypes.ErrDecode)
			}
			offset := int(be.Uint32(data[body:]))
			start := body + 8 + offset
			if start > end {
				return nil, fmt.Errorf("%w: SSND offset overruns chunk", ttypes.ErrDecode)
			}
			payload = data[start:end]
		}

		pos = end
		if size%2 == 1 {
			pos++
		}
	}

	if !haveComm || payload == nil {
		return nil, fmt.Errorf("%w: missing COMM or SSND chunk", ttypes.ErrDecode)
	}
	if channels <= 0 || rate <= 0 {
		return nil, fmt.Errorf("%w: invalid format (%d channels, %.0f Hz)", ttypes.ErrDecode, channels, rate)
	}

	// AIFF stores 8-bit samples signed, unlike WAV.
	var read sampleFunc
	if bits == 8 {
		read = func(b []byte) float32 { return float32(int8(b[0])) / 128 }
	} else {
		var err error
		read, err = sampleReader(wavFormatPCM, bits, be)
		if err != nil {
			return nil, err
		}
	}
	return decodeInterleaved(ctx, payload, int(math.Round(rate)), channels, (bits+7)/8, read)
}

// extendedToFloat converts an 80-bit IEEE 754 extended value.
func extendedToFloat(b []byte) float64 {
	exp := int(binary.BigEndian.Uint16(b[0:2]))
	mant := binary.BigEndian.Uint64(b[2:10])
	sign := 1.0
	if exp&0x8000 != 0 {
		sign = -1
		exp &= 0x7FFF
	}
	if exp == 0 && mant == 0 {
		return 0
	}
	return sign * math.Ldexp(float64(mant), exp-16383-63)
}
