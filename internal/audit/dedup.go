package audit

import (
	"sort"
	"strings"
	"unicode/utf8"

	"archivist/internal/dataset"
)

// DefaultMinLength is the shortest trimmed page text considered for
// deduplication.
const DefaultMinLength = 50

// DuplicateGroup lists pages with identical normalised text.
type DuplicateGroup struct {
	Pages      []int   `json:"pages"`
	Similarity float64 `json:"similarity"`
	Type       string  `json:"type"`
}

// Canonical is the page kept as the original.
func (g DuplicateGroup) Canonical() int {
	return g.Pages[0]
}

// Deduplicator finds exact duplicate pages.
type Deduplicator struct {
	MinLength int
}

// NewDeduplicator creates a detector. minLength <= 0 uses DefaultMinLength.
func NewDeduplicator(minLength int) *Deduplicator {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	return &Deduplicator{MinLength: minLength}
}

// Detect groups cards whose normalised text hashes are equal. Groups are
// ordered by their first page.
func (d *Deduplicator) Detect(cards []*dataset.Card) []DuplicateGroup {
	byHash := make(map[string][]int)
	var order []string

	for _, c := range cards {
		if utf8.RuneCountInString(strings.TrimSpace(c.Segment)) < d.MinLength {
			continue
		}
		h := TextHash(c.Segment)
		if _, seen := byHash[h]; !seen {
			order = append(order, h)
		}
		byHash[h] = append(byHash[h], c.PageNum)
	}

	var groups []DuplicateGroup
	for _, h := range order {
		pages := byHash[h]
		if len(pages) < 2 {
			continue
		}
		sort.Ints(pages)
		groups = append(groups, DuplicateGroup{Pages: pages, Similarity: 1.0, Type: "exact"})
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Canonical() < groups[j].Canonical()
	})
	return groups
}

// Mark sets is_duplicate and duplicate_of on every non-canonical page of each
// group and returns how many cards were marked. Cards are never removed.
func (d *Deduplicator) Mark(cards []*dataset.Card, groups []DuplicateGroup) int {
	canonicalOf := make(map[int]int)
	for _, g := range groups {
		for _, p := range g.Pages[1:] {
			if _, ok := canonicalOf[p]; !ok {
				canonicalOf[p] = g.Canonical()
			}
		}
	}

	marked := 0
	for _, c := range cards {
		orig, ok := canonicalOf[c.PageNum]
		if !ok {
			continue
		}
		c.Set("is_duplicate", true)
		c.Set("duplicate_of", orig)
		marked++
	}
	return marked
}

// DuplicatePages counts the non-canonical pages across groups.
func DuplicatePages(groups []DuplicateGroup) int {
	n := 0
	for _, g := range groups {
		n += len(g.Pages) - 1
	}
	return n
}
