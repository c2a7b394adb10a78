package cache

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/bobarin/kanjivoice/internal/models"
)

// DefaultMarks are stripped from reading text before hashing. Dictionary
// readings use "." to separate okurigana and "-" for affixes; neither is spoken.
var DefaultMarks = []string{".", "-", "―", "ー"}

// Normalizer maps reading text onto the form that is hashed, cached and spoken.
type Normalizer struct {
	marks    []string
	replacer *strings.Replacer
}

// NewNormalizer strips every mark in marks. A nil slice selects DefaultMarks;
// an empty non-nil slice only trims whitespace.
func NewNormalizer(marks []string) *Normalizer {
	if marks == nil {
		marks = DefaultMarks
	}

	pairs := make([]string, 0, len(marks)*2)
	kept := make([]string, 0, len(marks))
	for _, m := range marks {
		if m == "" {
			continue
		}
		pairs = append(pairs, m, "")
		kept = append(kept, m)
	}

	return &Normalizer{
		marks:    kept,
		replacer: strings.NewReplacer(pairs...),
	}
}

// Normalize removes the configured marks and surrounding whitespace.
func (n *Normalizer) Normalize(text string) string {
	return strings.TrimSpace(n.replacer.Replace(text))
}

// Marks returns the marks this normalizer strips.
func (n *Normalizer) Marks() []string {
	out := make([]string, len(n.marks))
	copy(out, n.marks)
	return out
}

// Hash returns the lowercase hex MD5 of already-normalized text.
func Hash(normalized string) models.ContentHash {
	sum := md5.Sum([]byte(normalized))
	return models.ContentHash(hex.EncodeToString(sum[:]))
}
