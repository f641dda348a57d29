// Package tokens estimates prompt token counts for composition-time input
// budgets. It prefers an exact tiktoken count and falls back to a
// character-ratio estimate when the encoding data is unavailable (tiktoken
// may need to download its BPE tables on first use).
package tokens

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const encoding = "cl100k_base"

var (
	once sync.Once
	enc  *tiktoken.Tiktoken
)

// Estimate returns an approximate token count for text. It never fails;
// when the tiktoken encoding cannot be initialized it estimates from
// character counts instead.
func Estimate(text string) int {
	if text == "" {
		return 0
	}

	once.Do(func() {
		e, err := tiktoken.GetEncoding(encoding)
		if err == nil {
			enc = e
		}
	})

	if enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return heuristic(text)
}

// heuristic assumes roughly 4 ASCII characters per token and 1.5 for wide
// runes, matching common LLM tokenizer ratios.
func heuristic(text string) int {
	runes := utf8.RuneCountInString(text)
	wide := 0
	for _, r := range text {
		if r > 0x2E80 {
			wide++
		}
	}
	ascii := runes - wide
	n := ascii/4 + (wide*2)/3
	if n < 1 {
		n = 1
	}
	return n
}
