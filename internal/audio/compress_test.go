package audio

import (
	"bytes"
	"context"
	"testing"
)

func TestBandFor(t *testing.T) {
	tests := []struct {
		size int
		want string
	}{
		{0, "small"},
		{500<<10 - 1, "small"},
		{500 << 10, "medium"},
		{2<<20 - 1, "medium"},
		{2 << 20, "large"},
		{50 << 20, "large"},
	}
	for _, tt := range tests {
		if got := BandFor(tt.size).Name; got != tt.want {
			t.Errorf("BandFor(%d) = %s, want %s", tt.size, got, tt.want)
		}
	}
}

func TestCompressSkipsUnderCeiling(t *testing.T) {
	tc := NewTranscoder(WAVDecoder{}, nil)
	wav := EncodeWAV(sine(44100, 1, 1000))

	res := tc.Compress(context.Background(), wav, "audio/wav")
	if !res.Skipped || res.Ratio != 1.0 || !bytes.Equal(res.Data, wav) {
		t.Errorf("expected unchanged result, got skipped=%v ratio=%v", res.Skipped, res.Ratio)
	}
	if res.Band != "small" {
		t.Errorf("band = %s", res.Band)
	}
}

func TestCompressSkipsUnknownFormat(t *testing.T) {
	tc := NewTranscoder(WAVDecoder{}, nil)
	data := bytes.Repeat([]byte{0xff, 0xfb, 0x90, 0x00}, 400<<10)

	res := tc.Compress(context.Background(), data, "audio/mpeg")
	if !res.Skipped || res.Ratio != 1.0 || len(res.Data) != len(data) {
		t.Errorf("mp3 should be skipped, got %+v", res.Reason)
	}
}

func TestCompressReencodesLargeWAV(t *testing.T) {
	tc := NewTranscoder(WAVDecoder{}, nil)
	// 44.1 kHz stereo, 10s: ~1.7 MiB, medium band.
	wav := EncodeWAV(sine(44100, 2, 441000))

	res := tc.Compress(context.Background(), wav, "audio/x-wav; codecs=1")
	if res.Skipped {
		t.Fatalf("unexpected skip: %s", res.Reason)
	}
	if res.Band != "medium" {
		t.Errorf("band = %s, want medium", res.Band)
	}
	if res.Size >= res.OriginalSize || res.Ratio <= 1 {
		t.Errorf("size %d -> %d ratio %v", res.OriginalSize, res.Size, res.Ratio)
	}

	out, err := WAVDecoder{}.Decode(context.Background(), res.Data)
	if err != nil {
		t.Fatalf("compressed output does not decode: %v", err)
	}
	if out.SampleRate != 16000 || out.Channels() != 1 {
		t.Errorf("output %d Hz %d ch, want 16000 Hz mono", out.SampleRate, out.Channels())
	}
	if d := out.Duration().Seconds(); d < 9.9 || d > 10.1 {
		t.Errorf("duration = %v", d)
	}
}

func TestCompressFallsBackOnDecodeFailure(t *testing.T) {
	tc := NewTranscoder(WAVDecoder{}, nil)
	data := append([]byte("RIFF\x00\x00\x00\x00WAVE"), make([]byte, 1200<<10)...)

	res := tc.Compress(context.Background(), data, "audio/wav")
	if !res.Skipped || res.Ratio != 1.0 || !bytes.Equal(res.Data, data) {
		t.Errorf("decode failure should return original bytes, got %s", res.Reason)
	}
}

func TestNormalizeMIME(t *testing.T) {
	wav := EncodeWAV(sine(8000, 1, 10))
	if got := NormalizeMIME("", wav); got != "audio/wave" {
		t.Errorf("sniffed %q, want audio/wave", got)
	}
	if got := NormalizeMIME("Audio/WAV; rate=8000", nil); got != "audio/wav" {
		t.Errorf("got %q", got)
	}
}

func TestResampleLength(t *testing.T) {
	buf := sine(44100, 1, 44100)
	out := buf.Resample(11025)
	if out.Frames() != 11025 || out.SampleRate != 11025 {
		t.Errorf("got %d frames at %d Hz", out.Frames(), out.SampleRate)
	}
}
