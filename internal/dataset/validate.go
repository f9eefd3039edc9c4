package dataset

import "fmt"

// NoCardsProblem is reported by ValidateStructure for an empty card list.
const NoCardsProblem = "no cards found"

// ValidateStructure checks the header, the stage's required card fields,
// reserved sentinel collisions and duplicate segment ids. It returns every
// problem found; an empty result means the dataset is structurally valid.
func ValidateStructure(header Record, cards []*Card, stage string) []string {
	var problems []string

	if len(header) == 0 {
		problems = append(problems, "missing header")
	} else if _, hasBook := header["book"]; !hasBook {
		if _, hasTitle := header["title"]; !hasTitle {
			problems = append(problems, "header missing both 'book' and 'title'")
		}
	}

	if len(cards) == 0 {
		return append(problems, NoCardsProblem)
	}

	required := RequiredFor(stage)
	seen := make(map[string]int, len(cards))
	for i, c := range cards {
		for _, field := range required {
			if !c.Has(field) {
				problems = append(problems, fmt.Sprintf("card %d: missing required field '%s'", i, field))
			}
		}
		if IsReserved(c.SegmentID) {
			problems = append(problems, fmt.Sprintf("card %d: invalid segment_id '%s' (reserved)", i, c.SegmentID))
			continue
		}
		if first, dup := seen[c.SegmentID]; dup {
			problems = append(problems, fmt.Sprintf("card %d: duplicate segment_id '%s' (first at card %d)", i, c.SegmentID, first))
			continue
		}
		seen[c.SegmentID] = i
	}
	return problems
}
