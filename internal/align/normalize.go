// Package align locates a speaker within a fixed reference document.
//
// Recognized speech and the document are both reduced to streams of
// normalized tokens. A fixed-size window slides across the document tokens and
// each window is scored against the recognized tokens with a blend of exact
// equality, normalized Levenshtein similarity and Soundex agreement. The best
// window is mapped back to the line that contains its first token.
//
// Comparison is positional: recognized token i is compared only with window
// token i. A skipped or repeated word therefore shifts every later comparison.
// This is a known property of the scorer, not an oversight, and callers that
// need true sequence alignment should look elsewhere.
//
// Every function in this package is pure and safe for concurrent use. A
// reference document may be shared between goroutines without locking.
package align

import "strings"

// Normalize lowercases text, deletes every byte that is not an ASCII letter,
// digit or space, splits on single spaces and drops empty fragments.
//
// Punctuation is deleted rather than treated as a separator, so "Mudam-se"
// becomes the single token "mudamse". Non-ASCII letters are deleted as well:
// "mágoas" becomes "mgoas". Tabs and newlines are not separators.
//
// [strings.ToLower] applies Unicode simple case mapping with no locale rules,
// so Turkish dotless-i handling never applies.
func Normalize(text string) []string {
	lower := strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(lower))
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == ' ' {
			b.WriteByte(c)
		}
	}

	parts := strings.Split(b.String(), " ")
	tokens := parts[:0]
	for _, p := range parts {
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// NormalizeLines normalizes each line independently and concatenates the
// results. The output is token-identical to normalizing the lines joined by a
// single space, since no deleted byte can merge tokens across a space.
func NormalizeLines(lines []string) []string {
	var tokens []string
	for _, l := range lines {
		tokens = append(tokens, Normalize(l)...)
	}
	return tokens
}
