package audio

import (
	"context"
	"mime"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
)

// Band is a size class that selects a compression target.
type Band struct {
	Name string
	// Below is the exclusive upper bound of the original size for this
	// band; zero means unbounded.
	Below      int
	SampleRate int
	// Ceiling is the size at or under which compression is skipped.
	Ceiling int
}

// Bands are checked in order; the last band catches everything else.
var Bands = []Band{
	{Name: "small", Below: 500 << 10, SampleRate: 22050, Ceiling: 256 << 10},
	{Name: "medium", Below: 2 << 20, SampleRate: 16000, Ceiling: 1 << 20},
	{Name: "large", SampleRate: 11025, Ceiling: 2 << 20},
}

// CompressibleTypes lists the uncompressed containers the heuristic
// re-encodes.
var CompressibleTypes = map[string]bool{
	"audio/wav":    true,
	"audio/wave":   true,
	"audio/x-wav":  true,
	"audio/aiff":   true,
	"audio/x-aiff": true,
}

// BandFor returns the band for an original size in bytes.
func BandFor(size int) Band {
	for _, b := range Bands {
		if b.Below == 0 || size < b.Below {
			return b
		}
	}
	return Bands[len(Bands)-1]
}

// CompressionResult describes what Compress did. Data is always usable:
// when compression is skipped or fails it is the original input.
type CompressionResult struct {
	Data         []byte
	OriginalSize int
	Size         int
	// Ratio is OriginalSize/Size; 1.0 when nothing changed.
	Ratio   float64
	Band    string
	Skipped bool
	Reason  string
}

// Transcoder applies the compression heuristic and trimming to raw audio.
type Transcoder struct {
	decoder Decoder
	logger  *log.Logger
}

func NewTranscoder(decoder Decoder, logger *log.Logger) *Transcoder {
	if decoder == nil {
		decoder = DefaultDecoder()
	}
	if logger == nil {
		logger = log.Default().WithPrefix("audio")
	}
	return &Transcoder{decoder: decoder, logger: logger}
}

func (t *Transcoder) Decoder() Decoder {
	return t.decoder
}

// Compress shrinks uncompressed audio to the sample rate of its size band.
// It never fails: any problem yields the original bytes with ratio 1.0.
func (t *Transcoder) Compress(ctx context.Context, data []byte, mimeType string) CompressionResult {
	band := BandFor(len(data))
	unchanged := func(reason string) CompressionResult {
		return CompressionResult{
			Data:         data,
			OriginalSize: len(data),
			Size:         len(data),
			Ratio:        1.0,
			Band:         band.Name,
			Skipped:      true,
			Reason:       reason,
		}
	}

	if len(data) <= band.Ceiling {
		return unchanged("under band ceiling")
	}
	mediaType := NormalizeMIME(mimeType, data)
	if !CompressibleTypes[mediaType] {
		return unchanged("format " + mediaType + " not compressible")
	}

	buf, err := t.decoder.Decode(ctx, data)
	if err != nil {
		t.logger.Warn("Compression decode failed, sending original", "error", err)
		return unchanged("decode failed")
	}

	mono := buf.Mono()
	if mono.SampleRate > band.SampleRate {
		mono = mono.Resample(band.SampleRate)
	}
	out := EncodeWAV(mono)
	if len(out) >= len(data) {
		return unchanged("re-encoded output not smaller")
	}

	res := CompressionResult{
		Data:         out,
		OriginalSize: len(data),
		Size:         len(out),
		Ratio:        float64(len(data)) / float64(len(out)),
		Band:         band.Name,
	}
	t.logger.Debug("Compressed audio", "band", band.Name, "from", len(data), "to", len(out), "ratio", res.Ratio)
	return res
}

// NormalizeMIME lower-cases a media type and strips parameters. An empty
// type is sniffed from the data.
func NormalizeMIME(mimeType string, data []byte) string {
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	if mediaType, _, err := mime.ParseMediaType(mimeType); err == nil {
		return mediaType
	}
	return strings.ToLower(mimeType)
}
