package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// WordChars classifies keyword characters the way the host's default
// iskeyword does, plus extra characters configured per filetype.
type WordChars struct {
	extra string
}

func NewWordChars(extra string) WordChars {
	return WordChars{extra: extra}
}

// IsWord reports whether r belongs to a word.
func (w WordChars) IsWord(r rune) bool {
	if r >= 256 {
		return !unicode.IsSpace(r) && !unicode.IsPunct(r)
	}
	if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	return w.extra != "" && strings.ContainsRune(w.extra, r)
}

// WordBefore returns the run of word characters ending at the end of s.
func (w WordChars) WordBefore(s string) string {
	return WordBefore(s, w.IsWord)
}

// WordBefore returns the run of runes accepted by isWord at the end of s.
func WordBefore(s string, isWord func(rune) bool) string {
	i := len(s)
	for i > 0 {
		r, size := utf8.DecodeLastRuneInString(s[:i])
		if !isWord(r) {
			break
		}
		i -= size
	}
	return s[i:]
}

// IsNumeric reports whether s is a non-empty run of digits.
func IsNumeric(s string) bool {
	return s != "" && strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0
}

func HasWhitespace(s string) bool {
	return strings.IndexFunc(s, unicode.IsSpace) >= 0
}

// EndsWithSpace reports whether the last rune of s is white space.
func EndsWithSpace(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return unicode.IsSpace(r)
}
