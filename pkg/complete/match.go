package complete

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

const localityLines = 100

// MatchScore rates how well input matches word. 0 means no match.
func MatchScore(word, input string) float64 {
	if input == "" || len(word) < len(input) {
		return 0
	}
	if !fuzzy.MatchFold(input, word) {
		return 0
	}
	var score float64
	switch {
	case strings.HasPrefix(word, input):
		score = 10
	case len(word) >= len(input) && strings.EqualFold(word[:len(input)], input):
		score = 8
	case firstRuneFold(word, input):
		score = 5
	default:
		score = 1
	}
	if dist := fuzzy.RankMatchFold(input, word); dist >= 0 {
		score += 1 / float64(1+dist)
	}
	return score
}

func firstRuneFold(a, b string) bool {
	ra, _ := utf8.DecodeRuneInString(a)
	rb, _ := utf8.DecodeRuneInString(b)
	return unicode.ToLower(ra) == unicode.ToLower(rb)
}

// EachWord calls fn for every maximal run of word characters in s with its
// byte range.
func EachWord(s string, isWord func(rune) bool, fn func(word string, start, end int)) {
	start := -1
	for i, r := range s {
		if isWord(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			fn(s[start:i], start, i)
			start = -1
		}
	}
	if start >= 0 {
		fn(s[start:], start, len(s))
	}
}

// LocalityBonus weighs the words around the cursor: words closer to the input
// position get a value closer to 1. startCol and endCol are byte columns of the
// input start and the cursor on line lnum (1-based).
func LocalityBonus(lines []string, lnum, startCol, endCol int, isWord func(rune) bool) map[string]float64 {
	res := make(map[string]float64)
	idx := lnum - 1
	if idx < 0 || idx >= len(lines) {
		return res
	}
	first := max(0, idx-localityLines)
	last := min(len(lines)-1, idx+localityLines)

	var b strings.Builder
	head, tail := 0, 0
	for i := first; i <= last; i++ {
		if i == idx {
			head = b.Len() + clamp(startCol, 0, len(lines[i]))
			tail = b.Len() + clamp(endCol, 0, len(lines[i]))
		}
		b.WriteString(lines[i])
		if i < last {
			b.WriteByte('\n')
		}
	}
	content := b.String()

	if head > 0 {
		EachWord(content[:head], isWord, func(w string, _, end int) {
			if len(w) > 1 {
				res[w] = float64(end) / float64(head)
			}
		})
	}
	if rest := len(content) - tail; rest > 0 {
		EachWord(content[tail:], isWord, func(w string, start, _ int) {
			if len(w) <= 1 {
				return
			}
			score := float64(rest-start) / float64(rest)
			if score > res[w] {
				res[w] = score
			}
		})
	}
	return res
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
