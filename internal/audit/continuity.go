package audit

import (
	"archivist/internal/dataset"
)

// DefaultOverlapThreshold is the Jaccard overlap below which neighbouring
// pages are reported as a gap.
const DefaultOverlapThreshold = 0.1

// Gap is a pair of neighbouring pages with too little vocabulary in common.
type Gap struct {
	FromPage int     `json:"from_page"`
	ToPage   int     `json:"to_page"`
	Overlap  float64 `json:"overlap"`
}

// ContinuityReport summarises one continuity audit.
type ContinuityReport struct {
	Gaps       []Gap   `json:"gaps"`
	GapCount   int     `json:"gap_count"`
	GapRatio   float64 `json:"gap_ratio"`
	AvgOverlap float64 `json:"avg_overlap"`
	Threshold  float64 `json:"threshold"`
}

// ContinuityAuditor compares each card with the card before it.
type ContinuityAuditor struct {
	Threshold float64
}

// NewContinuityAuditor creates an auditor. A threshold of 0 reports no gaps.
func NewContinuityAuditor(threshold float64) *ContinuityAuditor {
	return &ContinuityAuditor{Threshold: threshold}
}

// Audit walks adjacent pairs in card order. Pairs whose later card is a
// duplicate, or where either side has no tokens, are skipped; the comparison
// is not bridged across a skipped card. A gap sets flags.continuity_gap on
// the later card.
func (a *ContinuityAuditor) Audit(cards []*dataset.Card) ContinuityReport {
	report := ContinuityReport{Gaps: []Gap{}, Threshold: a.Threshold}
	if len(cards) == 0 {
		return report
	}

	tokens := make([][]string, len(cards))
	for i, c := range cards {
		tokens[i] = Tokenize(c.Segment)
	}

	var sum float64
	var compared int
	for i := 1; i < len(cards); i++ {
		prev, curr := cards[i-1], cards[i]
		if curr.IsDuplicate() {
			continue
		}
		if len(tokens[i-1]) == 0 || len(tokens[i]) == 0 {
			continue
		}

		sim := Jaccard(tokens[i-1], tokens[i])
		sum += sim
		compared++

		if a.Threshold > 0 && sim < a.Threshold {
			report.Gaps = append(report.Gaps, Gap{
				FromPage: prev.PageNum,
				ToPage:   curr.PageNum,
				Overlap:  dataset.Round3(sim),
			})
			curr.SetFlag("continuity_gap")
		}
	}

	report.GapCount = len(report.Gaps)
	report.GapRatio = float64(report.GapCount) / float64(max(1, len(cards)-1))
	if compared > 0 {
		report.AvgOverlap = dataset.Round3(sum / float64(compared))
	}
	return report
}
