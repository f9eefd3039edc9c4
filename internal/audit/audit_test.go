package audit

import (
	"reflect"
	"strings"
	"testing"

	"archivist/internal/dataset"
)

func card(page int, text string) *dataset.Card {
	return &dataset.Card{
		SegmentID: dataset.SegmentIDForPage(page),
		PageNum:   page,
		Segment:   text,
	}
}

const (
	intro   = "Distributed systems fail in partial ways, and every request may time out while the server keeps working."
	network = "Routers forward packets between autonomous networks using tables learned from neighbouring peers."
)

func TestTokenize(t *testing.T) {
	got := Tokenize("The Server and THE client: it is 2 servers, x и сервер в сети")
	want := []string{"server", "client", "servers", "сервер", "сети"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokenize = %v, want %v", got, want)
	}
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"both empty", nil, nil, 1},
		{"one empty", []string{"a"}, nil, 0},
		{"identical", []string{"ab", "cd"}, []string{"cd", "ab", "ab"}, 1},
		{"disjoint", []string{"ab"}, []string{"cd"}, 0},
		{"half", []string{"ab", "cd"}, []string{"ab", "ef"}, 1.0 / 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Jaccard(tt.a, tt.b); got != tt.want {
				t.Errorf("Jaccard = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTextHashNormalises(t *testing.T) {
	if TextHash("Hello   World\n") != TextHash("hello world") {
		t.Error("case and whitespace changed the hash")
	}
	if TextHash("hello world") == TextHash("hello, world") {
		t.Error("punctuation ignored")
	}
}

func TestDetectGroups(t *testing.T) {
	cards := []*dataset.Card{
		card(1, intro),
		card(2, network),
		card(3, strings.ToUpper(intro)),
		card(4, "short"),
		card(5, "short"),
		card(6, network),
		card(7, intro),
	}
	d := NewDeduplicator(0)
	groups := d.Detect(cards)

	want := []DuplicateGroup{
		{Pages: []int{1, 3, 7}, Similarity: 1, Type: "exact"},
		{Pages: []int{2, 6}, Similarity: 1, Type: "exact"},
	}
	if !reflect.DeepEqual(groups, want) {
		t.Fatalf("groups = %+v, want %+v", groups, want)
	}

	if n := d.Mark(cards, groups); n != 3 {
		t.Errorf("marked = %d, want 3", n)
	}
	if DuplicatePages(groups) != 3 {
		t.Error("DuplicatePages mismatch")
	}
	for _, c := range cards {
		orig, _ := c.Int("duplicate_of")
		switch c.PageNum {
		case 3, 7:
			if !c.IsDuplicate() || orig != 1 {
				t.Errorf("page %d: duplicate=%v of %d", c.PageNum, c.IsDuplicate(), orig)
			}
		case 6:
			if !c.IsDuplicate() || orig != 2 {
				t.Errorf("page 6: duplicate=%v of %d", c.IsDuplicate(), orig)
			}
		default:
			if c.IsDuplicate() || c.Has("duplicate_of") {
				t.Errorf("page %d wrongly marked", c.PageNum)
			}
		}
	}
	if len(cards) != 7 {
		t.Error("cards removed")
	}
}

func TestContinuityIdenticalAndDisjoint(t *testing.T) {
	a := NewContinuityAuditor(DefaultOverlapThreshold)

	same := []*dataset.Card{card(1, intro), card(2, intro)}
	r := a.Audit(same)
	if r.GapCount != 0 || r.AvgOverlap != 1 {
		t.Errorf("identical pages: %+v", r)
	}

	disjoint := []*dataset.Card{card(1, intro), card(2, network)}
	r = a.Audit(disjoint)
	if r.GapCount != 1 || r.Gaps[0] != (Gap{FromPage: 1, ToPage: 2, Overlap: 0}) {
		t.Errorf("disjoint pages: %+v", r)
	}
	if !disjoint[1].Flag("continuity_gap") || disjoint[0].Flag("continuity_gap") {
		t.Error("gap flag on the wrong card")
	}
	if r.GapRatio != 1 || r.Threshold != DefaultOverlapThreshold {
		t.Errorf("ratio = %v threshold = %v", r.GapRatio, r.Threshold)
	}
}

func TestContinuityZeroThresholdDisablesGaps(t *testing.T) {
	cards := []*dataset.Card{card(1, intro), card(2, network)}
	r := NewContinuityAuditor(0).Audit(cards)
	if r.GapCount != 0 || r.Threshold != 0 {
		t.Errorf("report = %+v", r)
	}
	if cards[1].Flag("continuity_gap") {
		t.Error("gap flag set with threshold 0")
	}
	if r.AvgOverlap != 0 {
		t.Errorf("avg overlap = %v, want 0 for disjoint pages", r.AvgOverlap)
	}
}

func TestContinuitySkipsWithoutBridging(t *testing.T) {
	cards := []*dataset.Card{
		card(1, intro),
		card(2, ""),
		card(3, network),
		card(4, network),
	}
	r := NewContinuityAuditor(0.1).Audit(cards)
	// 1->2 and 2->3 are skipped for the empty page; 1 is never compared with 3
	if r.GapCount != 0 {
		t.Errorf("gaps = %+v", r.Gaps)
	}
	if r.GapRatio != 0 || r.AvgOverlap != 1 {
		t.Errorf("report = %+v", r)
	}
}

func TestAuditEmpty(t *testing.T) {
	r := NewContinuityAuditor(0).Audit(nil)
	if r.GapCount != 0 || r.Gaps == nil {
		t.Errorf("report = %+v", r)
	}
}

func TestThreePageScenario(t *testing.T) {
	cards := []*dataset.Card{
		card(1, intro),
		card(2, intro),
		card(3, network),
	}

	d := NewDeduplicator(50)
	groups := d.Detect(cards)
	if len(groups) != 1 || !reflect.DeepEqual(groups[0].Pages, []int{1, 2}) {
		t.Fatalf("groups = %+v", groups)
	}
	d.Mark(cards, groups)
	if orig, _ := cards[1].Int("duplicate_of"); !cards[1].IsDuplicate() || orig != 1 {
		t.Fatalf("page 2 not marked as duplicate of 1")
	}

	r := NewContinuityAuditor(0.1).Audit(cards)
	if r.GapCount != 1 || r.Gaps[0].FromPage != 2 || r.Gaps[0].ToPage != 3 {
		t.Fatalf("gaps = %+v", r.Gaps)
	}
	if !cards[2].Flag("continuity_gap") || cards[1].Flag("continuity_gap") {
		t.Error("flags misplaced")
	}
	if r.GapRatio != 0.5 {
		t.Errorf("gap ratio = %v", r.GapRatio)
	}
}
