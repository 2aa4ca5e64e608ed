package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/dgnsrekt/speechkit/internal/ttypes"
)

func TestEncodeWAVLayout(t *testing.T) {
	buf := &SampleBuffer{
		SampleRate: 16000,
		Data: [][]float32{
			{0, 0.5, -0.5},
			{1, -1, 0.25},
		},
	}

	out := EncodeWAV(buf)
	if len(out) != 56 {
		t.Fatalf("len = %d, want 56", len(out))
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" {
		t.Errorf("bad magic: %q %q", out[0:4], out[8:12])
	}
	if string(out[12:16]) != "fmt " || string(out[36:40]) != "data" {
		t.Errorf("bad chunk ids: %q %q", out[12:16], out[36:40])
	}

	le := binary.LittleEndian
	checks := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"riff size", le.Uint32(out[4:8]), 48},
		{"fmt size", le.Uint32(out[16:20]), 16},
		{"format", uint32(le.Uint16(out[20:22])), 1},
		{"channels", uint32(le.Uint16(out[22:24])), 2},
		{"sample rate", le.Uint32(out[24:28]), 16000},
		{"byte rate", le.Uint32(out[28:32]), 64000},
		{"block align", uint32(le.Uint16(out[32:34])), 4},
		{"bits", uint32(le.Uint16(out[34:36])), 16},
		{"data size", le.Uint32(out[40:44]), 12},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
	if out[22] != 2 || out[23] != 0 {
		t.Errorf("channel bytes = %v, want [2 0]", out[22:24])
	}

	// Frame 0: left 0, right clamped +1.
	if got := int16(le.Uint16(out[44:46])); got != 0 {
		t.Errorf("sample[0][0] = %d, want 0", got)
	}
	if got := int16(le.Uint16(out[46:48])); got != 32767 {
		t.Errorf("sample[0][1] = %d, want 32767", got)
	}
	if got := int16(le.Uint16(out[50:52])); got != -32768 {
		t.Errorf("sample[1][1] = %d, want -32768", got)
	}
}

func TestEncodeWAVClamps(t *testing.T) {
	buf := &SampleBuffer{SampleRate: 8000, Data: [][]float32{{3.5, -7}}}
	out := EncodeWAV(buf)
	le := binary.LittleEndian
	if got := int16(le.Uint16(out[44:])); got != math.MaxInt16 {
		t.Errorf("positive overflow = %d", got)
	}
	if got := int16(le.Uint16(out[46:])); got != math.MinInt16 {
		t.Errorf("negative overflow = %d", got)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	in := sine(22050, 2, 1000)
	decoded, err := WAVDecoder{}.Decode(context.Background(), EncodeWAV(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.SampleRate != 22050 || decoded.Channels() != 2 || decoded.Frames() != 1000 {
		t.Fatalf("decoded %d Hz %d ch %d frames", decoded.SampleRate, decoded.Channels(), decoded.Frames())
	}
	for ch := range in.Data {
		for i, want := range in.Data[ch] {
			if d := math.Abs(float64(decoded.Data[ch][i] - want)); d > 1.0/16000 {
				t.Fatalf("sample[%d][%d] = %f, want %f", ch, i, decoded.Data[ch][i], want)
			}
		}
	}

	if !bytes.Equal(EncodeWAV(decoded), EncodeWAV(in)) {
		t.Error("re-encoding a decoded buffer should be stable")
	}
}

func TestWAVDecodeErrors(t *testing.T) {
	tests := map[string][]byte{
		"empty":      nil,
		"not riff":   []byte("ID3\x03\x00\x00\x00\x00\x00\x00\x00\x00"),
		"no fmt":     append([]byte("RIFF\x0c\x00\x00\x00WAVE"), []byte("data\x00\x00\x00\x00")...),
		"truncated":  []byte("RIFF\x24\x00\x00\x00WAVEfmt \x10\x00\x00\x00\x01\x00"),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := (WAVDecoder{}).Decode(context.Background(), data); !errors.Is(err, ttypes.ErrDecode) {
				t.Errorf("err = %v, want ErrDecode", err)
			}
		})
	}
}

func TestAIFFDecode(t *testing.T) {
	data := buildAIFF(t, 8000, []int16{0, 16384, -16384, 32767})
	buf, err := AIFFDecoder{}.Decode(context.Background(), data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if buf.SampleRate != 8000 || buf.Channels() != 1 || buf.Frames() != 4 {
		t.Fatalf("decoded %d Hz %d ch %d frames", buf.SampleRate, buf.Channels(), buf.Frames())
	}
	if buf.Data[0][1] != 0.5 || buf.Data[0][2] != -0.5 {
		t.Errorf("samples = %v", buf.Data[0])
	}
}

func TestChainDecoder(t *testing.T) {
	chain := ChainDecoder{WAVDecoder{}, AIFFDecoder{}}

	aiff := buildAIFF(t, 44100, []int16{1, 2, 3})
	if _, err := chain.Decode(context.Background(), aiff); err != nil {
		t.Errorf("chain should fall through to AIFF: %v", err)
	}

	_, err := chain.Decode(context.Background(), []byte("garbage data that is no audio"))
	if !errors.Is(err, ttypes.ErrDecode) {
		t.Errorf("err = %v, want ErrDecode", err)
	}
}

func TestDecodeObservesContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WAVDecoder{}.Decode(ctx, EncodeWAV(sine(8000, 1, 10)))
	if !ttypes.IsCancellation(err) {
		t.Errorf("err = %v, want cancellation", err)
	}
}

func sine(rate, channels, frames int) *SampleBuffer {
	buf := NewSampleBuffer(rate, channels, frames)
	for ch := range buf.Data {
		for i := range buf.Data[ch] {
			buf.Data[ch][i] = float32(0.8 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)+float64(ch)))
		}
	}
	return buf
}

func buildAIFF(t *testing.T, rate int, samples []int16) []byte {
	t.Helper()
	be := binary.BigEndian

	comm := make([]byte, 18)
	be.PutUint16(comm[0:], 1)
	be.PutUint32(comm[2:], uint32(len(samples)))
	be.PutUint16(comm[6:], 16)
	// 80-bit extended sample rate.
	exp := 16383 + 63
	mant := uint64(rate)
	for mant&(1<<63) == 0 {
		mant <<= 1
		exp--
	}
	be.PutUint16(comm[8:], uint16(exp))
	be.PutUint64(comm[10:], mant)

	ssnd := make([]byte, 8+len(samples)*2)
	for i, s := range samples {
		be.PutUint16(ssnd[8+i*2:], uint16(s))
	}

	var body bytes.Buffer
	body.WriteString("AIFF")
	writeChunk := func(id string, data []byte) {
		body.WriteString(id)
		var size [4]byte
		be.PutUint32(size[:], uint32(len(data)))
		body.Write(size[:])
		body.Write(data)
		if len(data)%2 == 1 {
			body.WriteByte(0)
		}
	}
	writeChunk("COMM", comm)
	writeChunk("SSND", ssnd)

	var out bytes.Buffer
	out.WriteString("FORM")
	var size [4]byte
	be.PutUint32(size[:], uint32(body.Len()))
	out.Write(size[:])
	out.Write(body.Bytes())
	return out.Bytes()
}
