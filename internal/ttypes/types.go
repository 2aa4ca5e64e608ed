package ttypes

import (
	"fmt"
	"strings"
)

// Kind identifies the class of a speech operation.
type Kind string

const (
	// KindTranscribe is a speech-to-text operation.
	KindTranscribe Kind = "transcribe"

	// KindSynthesize is a text-to-speech operation.
	KindSynthesize Kind = "synthesize"

	// KindAny matches every operation kind in filters.
	KindAny Kind = ""
)

// Kinds lists every concrete operation kind.
var Kinds = []Kind{KindTranscribe, KindSynthesize}

// String returns the string representation of the kind
func (k Kind) String() string {
	if k == KindAny {
		return "any"
	}
	return string(k)
}

// Valid reports whether k is a concrete operation kind.
func (k Kind) Valid() bool {
	return k == KindTranscribe || k == KindSynthesize
}

// ParseKind converts user input such as "tts" or "stt" into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any", "all":
		return KindAny, nil
	case "transcribe", "transcription", "stt":
		return KindTranscribe, nil
	case "synthesize", "synthesis", "tts":
		return KindSynthesize, nil
	default:
		return KindAny, fmt.Errorf("%w: unknown operation kind %q", ErrValidation, s)
	}
}

// Voice describes a voice model offered by a synthesis provider.
type Voice struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Category    string            `json:"category,omitempty" yaml:"category,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	PreviewURL  string            `json:"preview_url,omitempty" yaml:"preview_url,omitempty"`
	Labels      map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// Word is a single transcribed word with its timing in seconds.
type Word struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Transcript is the structured result of a transcription.
type Transcript struct {
	Text         string  `json:"text"`
	LanguageCode string  `json:"language_code,omitempty"`
	Words        []Word  `json:"words,omitempty"`
	DurationSec  float64 `json:"duration_sec,omitempty"`
}

// TranscriptionInput is the audio handed to a transcription provider.
type TranscriptionInput struct {
	Audio        []byte
	FileName     string
	MimeType     string
	LanguageCode string
}
