package utils

import (
	"unicode"

	"github.com/mattn/go-runewidth"
)

// ApplyCapitals copies the upper-case positions of input onto word, so a
// lower-case dictionary word follows what the user typed ("Hel" -> "Hello").
func ApplyCapitals(word, input string) string {
	var positions []int
	i := 0
	for _, r := range input {
		if unicode.IsUpper(r) {
			positions = append(positions, i)
		}
		i++
	}
	if len(positions) == 0 {
		return word
	}
	runes := []rune(word)
	for _, pos := range positions {
		if pos < len(runes) {
			runes[pos] = unicode.ToUpper(runes[pos])
		}
	}
	return string(runes)
}

// TruncateWidth cuts s to at most width display cells, marking the cut.
func TruncateWidth(s string, width int) string {
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}
