// Package audit holds the page-level quality checks of the extended stage:
// exact duplicate detection and continuity between neighbouring pages.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var wordRe = regexp.MustCompile(`[A-Za-zА-Яа-я0-9]{2,}`)

// StopWords are the English and Russian function words ignored by Tokenize.
var StopWords = makeSet(strings.Fields(`
a an the and or for to of in on at by as is are was were be been being
this that those these with from into over under about across between
among through during before after above below not no nor so such it
its their our your my we you they he she his her them us
и в во не на но а к ко от до по за из у о об при над под для без
между как так же уже ещё еще или либо это эти эта этот кто что где
когда чем чтобы который которая которые бы то все всё
`))

func makeSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Tokenize lowercases text and returns its words of two or more letters or
// digits, stop words removed.
func Tokenize(text string) []string {
	words := wordRe.FindAllString(strings.ToLower(text), -1)
	out := words[:0]
	for _, w := range words {
		if _, stop := StopWords[w]; !stop {
			out = append(out, w)
		}
	}
	return out
}

// Jaccard is |A ∩ B| / |A ∪ B| over the token sets. Two empty inputs are
// identical; one empty input shares nothing.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setA := makeSet(a)
	setB := makeSet(b)
	inter := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// TextHash hashes the lowercase, whitespace-collapsed text.
func TextHash(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
