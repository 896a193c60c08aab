package align

import "github.com/antzucaro/matchr"

// Pair weights. They sum to 1 so every pair score lies in [0, 1].
const (
	exactWeight    = 0.4
	editWeight     = 0.4
	phoneticWeight = 0.2
)

// Pair is the breakdown of one positional token comparison.
type Pair struct {
	Recognized string
	Reference  string

	// Exact is 1 when the tokens are byte-equal, else 0.
	Exact float64

	// Edit is the normalized Levenshtein similarity in [0, 1].
	Edit float64

	// Phonetic is 1 when both tokens share a Soundex code, else 0.
	Phonetic float64

	// Score is the weighted blend of the three terms.
	Score float64
}

// Score returns the mean pair score of recognized against window, comparing
// token i with token i for i < min(len(recognized), len(window)).
//
// The mean is taken over the compared length only. A three-word fragment is
// judged on three positions and is not diluted by the remaining window
// tokens, which favours recall for short utterances.
//
// Score returns 0 if either input is empty.
func Score(recognized, window []string) float64 {
	n := min(len(recognized), len(window))
	if n == 0 {
		return 0
	}
	var total float64
	for i := range n {
		total += comparePair(recognized[i], window[i]).Score
	}
	return total / float64(n)
}

// Explain returns the per-position breakdown that [Score] averages.
func Explain(recognized, window []string) []Pair {
	n := min(len(recognized), len(window))
	pairs := make([]Pair, n)
	for i := range n {
		pairs[i] = comparePair(recognized[i], window[i])
	}
	return pairs
}

func comparePair(a, b string) Pair {
	p := Pair{Recognized: a, Reference: b}
	if a == b {
		p.Exact = 1
	}
	p.Edit = editSimilarity(a, b)
	if Soundex(a) == Soundex(b) {
		p.Phonetic = 1
	}
	p.Score = exactWeight*p.Exact + editWeight*p.Edit + phoneticWeight*p.Phonetic
	return p
}

// editSimilarity is 1 - levenshtein(a, b) / max(len(a), len(b)). Two empty
// strings are identical and score 1.
func editSimilarity(a, b string) float64 {
	longest := max(len(a), len(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(Levenshtein(a, b))/float64(longest)
}

// Levenshtein returns the unit-cost insert/delete/substitute edit distance
// between a and b.
//
// matchr computes the distance over runes. Tokens produced by [Normalize] are
// pure ASCII, so this equals the byte-level distance.
func Levenshtein(a, b string) int {
	return matchr.Levenshtein(a, b)
}

// soundexCodes maps lowercase consonants to their Soundex digit. Letters
// absent from the table (vowels, h, w, y) and digits map to '0'.
var soundexCodes = [256]byte{
	'b': '1', 'f': '1', 'p': '1', 'v': '1',
	'c': '2', 'g': '2', 'j': '2', 'k': '2', 'q': '2', 's': '2', 'x': '2', 'z': '2',
	'd': '3', 't': '3',
	'l': '4',
	'm': '5', 'n': '5',
	'r': '6',
}

func soundexCode(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		c += 'a' - 'A'
	}
	if code := soundexCodes[c]; code != 0 {
		return code
	}
	return '0'
}

// Soundex returns the four-character American Soundex code of s.
//
// The first byte is kept and uppercased. Vowels and h, w, y have no code but
// still count as the previous code, so a consonant repeated across a vowel is
// encoded twice ("Ashcraft" is A226). A digit is written only when it differs
// from the previous code. The result is padded with '0' to four characters.
//
// matchr.Soundex merges repeats across h and w, which changes codes such as
// "Ashcraft", so the encoding is done here.
//
// Soundex returns "" for an empty string.
func Soundex(s string) string {
	if s == "" {
		return ""
	}

	out := [4]byte{upper(s[0]), '0', '0', '0'}
	n := 1
	prev := soundexCode(s[0])
	for i := 1; i < len(s) && n < len(out); i++ {
		cur := soundexCode(s[i])
		if cur != '0' && cur != prev {
			out[n] = cur
			n++
		}
		prev = cur
	}
	return string(out[:])
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
