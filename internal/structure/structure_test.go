package structure

import (
	"reflect"
	"strings"
	"testing"

	"archivist/internal/config"
	"archivist/internal/dataset"
)

func pages(texts ...string) []*dataset.Card {
	cards := make([]*dataset.Card, len(texts))
	for i, text := range texts {
		cards[i] = &dataset.Card{
			SegmentID: dataset.SegmentIDForPage(i + 1),
			PageNum:   i + 1,
			Segment:   text,
		}
	}
	return cards
}

func detector() *Detector {
	return NewDetector(config.DefaultPipeline().StructureDetect)
}

func TestMatchChapter(t *testing.T) {
	tests := []struct {
		text      string
		num       string
		title     string
		wantMatch bool
	}{
		{"Chapter 1: Introduction\nbody", "1", "Introduction", true},
		{"\n\n  CHAPTER IV - The Return", "IV", "The Return", true},
		{"Ch. 7 Networking", "7", "Networking", true},
		{"Глава 3. Основы", "3", "Основы", true},
		{"Chapter 12\nDistributed Consensus\ntext", "12", "Distributed Consensus", true},
		{"Chapter in the middle of a sentence", "", "", false},
		{"Chapter Marks", "", "", false},
		{"l1\nl2\nl3\nl4\nl5\nChapter 9 Too Late", "", "", false},
	}
	for _, tt := range tests {
		num, title, ok := match(chapterPatterns, tt.text, chapterLines)
		if ok != tt.wantMatch || num != tt.num || title != tt.title {
			t.Errorf("match(%q) = %q, %q, %v; want %q, %q, %v", tt.text, num, title, ok, tt.num, tt.title, tt.wantMatch)
		}
	}
}

func TestMatchSection(t *testing.T) {
	tests := []struct {
		text  string
		num   string
		title string
	}{
		{"1.2 Scope of Work", "1.2", "Scope of Work"},
		{"2.3.1 Leases", "2.3.1", "Leases"},
		{"Section B: Appendices", "B", "Appendices"},
		{"§ 4 Definitions", "4", "Definitions"},
	}
	for _, tt := range tests {
		num, title, ok := match(sectionPatterns, tt.text, sectionLines)
		if !ok || num != tt.num || title != tt.title {
			t.Errorf("match(%q) = %q, %q, %v", tt.text, num, title, ok)
		}
	}
}

func TestChaptersRespectGap(t *testing.T) {
	cards := pages(
		"Chapter 1 Beginnings",
		"Chapter 2 Too Soon",
		"plain text",
		"Chapter 3 Later",
		"Chapter 4 No",
	)
	got := detector().Chapters(cards)
	var nums []string
	for _, ch := range got {
		nums = append(nums, ch.Num)
	}
	if !reflect.DeepEqual(nums, []string{"1", "3"}) {
		t.Errorf("chapters = %v, want [1 3]", nums)
	}
}

func TestChaptersRejectBadTitles(t *testing.T) {
	cards := pages("Chapter 1 A", "x", "x", "Chapter 2 "+strings.Repeat("t", 201))
	if got := detector().Chapters(cards); len(got) != 0 {
		t.Errorf("chapters = %+v", got)
	}
}

func TestTOC(t *testing.T) {
	digits := strings.Repeat("Topic ..... 12\n", 30)
	cards := pages("Title page", "Table of Contents\n"+digits, digits, "Preface text", digits)
	toc := detector().TOC(cards)
	want := &TOC{Found: true, StartPage: 2, EndPage: 3, PageCount: 2}
	if !reflect.DeepEqual(toc, want) {
		t.Errorf("TOC = %+v, want %+v", toc, want)
	}

	if toc := detector().TOC(pages("nothing", "here")); toc != nil {
		t.Errorf("TOC = %+v, want nil", toc)
	}
}

func TestApply(t *testing.T) {
	cards := pages(
		"Front matter",
		"Chapter 1: Basics\n1.1 Terms\ntext",
		"more text",
		"1.2 Units\ntext",
		"Chapter 2: Advanced\ntext",
	)
	d := detector()
	r := d.Detect(cards)
	Apply(cards, r)

	want := []struct {
		chapter, section any
	}{
		{nil, nil},
		{"Basics", "Terms"},
		{"Basics", "Terms"},
		{"Basics", "Units"},
		{"Advanced", nil},
	}
	for i, w := range want {
		ch, _ := cards[i].Get("chapter_title")
		sec, _ := cards[i].Get("section_title")
		if ch != w.chapter || sec != w.section {
			t.Errorf("page %d: chapter=%v section=%v, want %v %v", i+1, ch, sec, w.chapter, w.section)
		}
		if !cards[i].Has("chapter_num") || !cards[i].Has("section_num") {
			t.Errorf("page %d: heading keys missing", i+1)
		}
	}
	if r.Sections[1].ChapterNum != "1" {
		t.Errorf("section chapter = %q", r.Sections[1].ChapterNum)
	}
	if got := Coverage(cards); got != 0.8 {
		t.Errorf("Coverage = %v, want 0.8", got)
	}
}
