// Package language guesses the language of post text.
package language

import (
	"strings"

	"github.com/pemistahl/lingua-go"
)

// DefaultLanguages keeps the detector's memory footprint small.
var DefaultLanguages = []lingua.Language{
	lingua.English,
	lingua.Spanish,
	lingua.Portuguese,
	lingua.French,
	lingua.German,
	lingua.Italian,
	lingua.Dutch,
	lingua.Russian,
	lingua.Turkish,
	lingua.Arabic,
	lingua.Hindi,
	lingua.Indonesian,
	lingua.Japanese,
	lingua.Korean,
	lingua.Chinese,
}

type Detector struct {
	detector lingua.LanguageDetector
}

func NewDetector(languages ...lingua.Language) *Detector {
	if len(languages) == 0 {
		languages = DefaultLanguages
	}
	return &Detector{
		detector: lingua.NewLanguageDetectorBuilder().
			FromLanguages(languages...).
			Build(),
	}
}

// Detect returns the lower-case ISO 639-1 code of text, or "" when unsure.
// Links, mentions and hashtags are ignored.
func (d *Detector) Detect(text string) string {
	if d == nil {
		return ""
	}
	words := strings.FieldsFunc(text, func(r rune) bool { return r == ' ' || r == '\n' || r == '\t' })
	kept := words[:0]
	for _, w := range words {
		if strings.HasPrefix(w, "http") || strings.HasPrefix(w, "@") || strings.HasPrefix(w, "#") {
			continue
		}
		kept = append(kept, w)
	}
	if len(kept) == 0 {
		return ""
	}

	lang, ok := d.detector.DetectLanguageOf(strings.Join(kept, " "))
	if !ok {
		return ""
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}
