package model

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaxReasonLen is the maximum stored reason length in runes.
const MaxReasonLen = 255

// NormalizeReason prepares a free-text reason for storage: NFC normalized,
// trimmed, and truncated to MaxReasonLen runes.
func NormalizeReason(s string) string {
	s = strings.TrimSpace(norm.NFC.String(s))
	if utf8.RuneCountInString(s) <= MaxReasonLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxReasonLen])
}
