// Package structure finds chapters, sections and the table of contents in
// page text using heading patterns.
package structure

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"archivist/internal/config"
	"archivist/internal/dataset"
)

var chapterPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(?:Chapter|CHAPTER)\s+(\d+|[IVXLCDM]+)(?:\s*[:.\-]\s*|\s+|$)(.*)$`),
	regexp.MustCompile(`^Ch\.\s*(\d+)(?:\s*[:.\-]\s*|\s+|$)(.*)$`),
	regexp.MustCompile(`^(?:Глава|ГЛАВА)\s+(\d+|[IVXLCDM]+)(?:\s*[:.\-]\s*|\s+|$)(.*)$`),
}

var sectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(\d+\.\d+(?:\.\d+)?)\s+(.+)$`),
	regexp.MustCompile(`^Section\s+(\d+|[A-Z])(?:\s*[:.\-]\s*|\s+|$)(.*)$`),
	regexp.MustCompile(`^§\s*(\d+)(?:\s*[:.\-]\s*|\s+|$)(.*)$`),
}

var tocMarkers = []string{"table of contents", "contents", "содержание", "оглавление"}

const (
	chapterLines   = 5
	sectionLines   = 10
	tocFollowPages = 10
	tocMinDigits   = 50
)

// Heading is one detected chapter or section start.
type Heading struct {
	PageNum    int    `json:"page_num"`
	Num        string `json:"num"`
	Title      string `json:"title"`
	ChapterNum string `json:"chapter_num,omitempty"`
	Method     string `json:"detection_method"`
}

// TOC is the detected table of contents span.
type TOC struct {
	Found     bool `json:"found"`
	StartPage int  `json:"start_page"`
	EndPage   int  `json:"end_page"`
	PageCount int  `json:"page_count"`
}

// Result is everything Detect found.
type Result struct {
	Chapters []Heading
	Sections []Heading
	TOC      *TOC
}

// Detector matches heading patterns against card text.
type Detector struct {
	minChapterGap int
	minTitle      int
	maxTitle      int
	tocScanPages  int
}

// NewDetector creates a detector from the structure_detect settings.
func NewDetector(cfg config.StructureDetectConfig) *Detector {
	d := &Detector{
		minChapterGap: cfg.MinChapterGap,
		minTitle:      cfg.MinTitleLength,
		maxTitle:      cfg.MaxTitleLength,
		tocScanPages:  cfg.TOCScanPages,
	}
	if d.maxTitle <= 0 {
		d.maxTitle = 200
	}
	if d.tocScanPages <= 0 {
		d.tocScanPages = 20
	}
	return d
}

// Detect runs chapter, section and TOC detection over cards in page order.
func (d *Detector) Detect(cards []*dataset.Card) Result {
	chapters := d.Chapters(cards)
	return Result{
		Chapters: chapters,
		Sections: d.Sections(cards, chapters),
		TOC:      d.TOC(cards),
	}
}

// Chapters finds chapter headings in the first lines of each page. A
// heading closer than the minimum gap to the previous chapter is ignored.
func (d *Detector) Chapters(cards []*dataset.Card) []Heading {
	var chapters []Heading
	last := -d.minChapterGap
	for _, c := range cards {
		if c.PageNum-last < d.minChapterGap {
			continue
		}
		num, title, ok := match(chapterPatterns, c.Segment, chapterLines)
		if !ok || !d.validTitle(title) {
			continue
		}
		chapters = append(chapters, Heading{PageNum: c.PageNum, Num: num, Title: title, Method: "pattern"})
		last = c.PageNum
	}
	return chapters
}

// Sections finds section headings and ties each to the chapter open at its
// page.
func (d *Detector) Sections(cards []*dataset.Card, chapters []Heading) []Heading {
	chapterAt := make(map[int]string, len(chapters))
	for _, ch := range chapters {
		chapterAt[ch.PageNum] = ch.Num
	}

	var sections []Heading
	current := ""
	for _, c := range cards {
		if num, ok := chapterAt[c.PageNum]; ok {
			current = num
		}
		num, title, ok := match(sectionPatterns, c.Segment, sectionLines)
		if !ok || !d.validTitle(title) {
			continue
		}
		sections = append(sections, Heading{
			PageNum:    c.PageNum,
			Num:        num,
			Title:      title,
			ChapterNum: current,
			Method:     "pattern",
		})
	}
	return sections
}

// TOC looks for a contents marker in the first pages. The span extends over
// following pages dense with digits.
func (d *Detector) TOC(cards []*dataset.Card) *TOC {
	limit := min(len(cards), d.tocScanPages)
	for i := 0; i < limit; i++ {
		text := strings.ToLower(cards[i].Segment)
		if !containsAny(text, tocMarkers) {
			continue
		}
		toc := &TOC{Found: true, StartPage: cards[i].PageNum, EndPage: cards[i].PageNum, PageCount: 1}
		for j := i + 1; j < min(i+tocFollowPages, len(cards)); j++ {
			if countDigits(cards[j].Segment) <= tocMinDigits {
				break
			}
			toc.EndPage = cards[j].PageNum
			toc.PageCount++
		}
		return toc
	}
	return nil
}

// Apply stores chapter_num, chapter_title, section_num and section_title on
// every card, null where nothing is open. A new chapter closes the open
// section unless the section starts on the same page.
func Apply(cards []*dataset.Card, r Result) {
	chapterAt := make(map[int]Heading, len(r.Chapters))
	for _, ch := range r.Chapters {
		chapterAt[ch.PageNum] = ch
	}
	sectionAt := make(map[int]Heading, len(r.Sections))
	for _, s := range r.Sections {
		sectionAt[s.PageNum] = s
	}

	var chapter, section *Heading
	for _, c := range cards {
		if ch, ok := chapterAt[c.PageNum]; ok {
			chapter = &ch
			section = nil
		}
		if s, ok := sectionAt[c.PageNum]; ok {
			section = &s
		}
		setHeading(c, "chapter", chapter)
		setHeading(c, "section", section)
	}
}

func setHeading(c *dataset.Card, kind string, h *Heading) {
	if h == nil {
		c.Set(kind+"_num", nil)
		c.Set(kind+"_title", nil)
		return
	}
	c.Set(kind+"_num", h.Num)
	c.Set(kind+"_title", h.Title)
}

// match tries patterns against the first non-empty lines of text. A heading
// with no title on its own line takes the next non-empty line as title.
func match(patterns []*regexp.Regexp, text string, maxLines int) (num, title string, ok bool) {
	lines := headLines(text, maxLines+1)
	for i, line := range lines {
		if i == maxLines {
			break
		}
		for _, re := range patterns {
			m := re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			title = strings.TrimSpace(m[2])
			if title == "" && i+1 < len(lines) {
				title = lines[i+1]
			}
			return m[1], title, true
		}
	}
	return "", "", false
}

func headLines(text string, n int) []string {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == n {
			break
		}
	}
	return lines
}

func (d *Detector) validTitle(title string) bool {
	n := utf8.RuneCountInString(title)
	return n >= d.minTitle && n <= d.maxTitle
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

// Coverage is the share of cards inside a chapter or section.
func Coverage(cards []*dataset.Card) float64 {
	if len(cards) == 0 {
		return 0
	}
	n := 0
	for _, c := range cards {
		if c.String("chapter_num") != "" || c.String("section_num") != "" {
			n++
		}
	}
	return dataset.Round3(float64(n) / float64(len(cards)))
}
