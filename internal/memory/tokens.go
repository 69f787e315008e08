package memory

import (
	"math"
	"strings"
	"unicode"

	"github.com/soyeahso/shopagent/internal/domain"
)

// EstimateTokens approximates the token count of msgs: 1.5 per CJK rune
// plus 1.3 per whitespace-separated word, rounded up.
func EstimateTokens(msgs []domain.Message) int {
	var total float64
	for _, m := range msgs {
		total += estimateText(m.Content)
	}
	return int(math.Ceil(total))
}

func estimateText(s string) float64 {
	cjk := 0
	rest := strings.Map(func(r rune) rune {
		if isCJK(r) {
			cjk++
			return ' '
		}
		return r
	}, s)
	words := len(strings.Fields(rest))
	return float64(cjk)*1.5 + float64(words)*1.3
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}
