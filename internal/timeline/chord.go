package timeline

import (
	"strings"
	"unicode/utf8"
)

var flatToSharp = map[string]string{
	"Db": "C#",
	"Eb": "D#",
	"Gb": "F#",
	"Ab": "G#",
	"Bb": "A#",
}

// NormalizeChord canonicalizes a chord label so that enharmonic spellings
// and common suffix variants compare equal: "Bbm" and "A#min" both become "A#m".
func NormalizeChord(label string) string {
	s := strings.TrimSpace(label)
	if s == "" {
		return ""
	}

	_, n := utf8.DecodeRuneInString(s)
	root := strings.ToUpper(s[:n])
	rest := s[n:]
	if len(rest) > 0 && (rest[0] == '#' || rest[0] == 'b') {
		root += rest[:1]
		rest = rest[1:]
	}
	if sharp, ok := flatToSharp[root]; ok {
		root = sharp
	}

	switch lower := strings.ToLower(rest); {
	case rest == "M" || lower == "maj" || lower == "major":
		rest = ""
	case rest == "-" || lower == "min" || lower == "minor":
		rest = "m"
	}
	return root + rest
}

// SameChord reports whether two labels name the same chord.
func SameChord(a, b string) bool {
	return NormalizeChord(a) == NormalizeChord(b)
}
