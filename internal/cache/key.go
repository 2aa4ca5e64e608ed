package cache

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Normalize canonicalises text for keying: Unicode NFC, surrounding space
// trimmed, lower-cased.
func Normalize(text string) string {
	text = strings.TrimSpace(norm.NFC.String(text))
	return cases.Lower(language.Und).String(text)
}

// Key derives the store key for a synthesis request. Distinct requests may
// collide; entries carry their inputs so Get can tell them apart.
func Key(text, modelID, format string) string {
	return keyFor(Normalize(text), modelID, format)
}

func keyFor(normalized, modelID, format string) string {
	h := xxhash.New()
	_, _ = h.WriteString(normalized)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(modelID)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(format)
	return KeyPrefix + strconv.FormatUint(h.Sum64(), 36)
}
