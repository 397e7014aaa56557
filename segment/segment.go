// Package segment turns extracted document text into an ordered sequence of
// typed content items: paragraphs, tables and images.
//
// The segmenter walks the text line by line. Caption lines become image items
// immediately. Title lines (short, unpunctuated, standalone) flush any
// pending paragraph under the previous title and open a new one. Everything
// else accumulates into the current paragraph, which flushes once a sentence
// terminator is reached and the following line is itself a title — the
// lookahead keeps a paragraph from splitting at an incidental sentence
// boundary followed by more body text.
package segment

import (
	"regexp"
	"strings"
	"unicode"
)

// ItemType classifies a content item.
type ItemType string

const (
	ItemParagraph ItemType = "paragraph"
	ItemTable     ItemType = "table"
	ItemImage     ItemType = "image"
)

// Item is one typed unit of extracted content.
type Item struct {
	Type  ItemType `json:"type"`
	Page  int      `json:"page"`
	Title string   `json:"title,omitempty"`
	// Text holds paragraph prose or an image caption.
	Text string `json:"text,omitempty"`
	// Header and Rows are set for table items only.
	Header []string   `json:"header,omitempty"`
	Rows   [][]string `json:"rows,omitempty"`
}

// captionRe matches caption lines that announce an image.
var captionRe = regexp.MustCompile(`(?i)^(figure|fig\.|image|chart)\b`)

// knownTitles are section headings recognised regardless of shape.
var knownTitles = map[string]bool{
	"abstract": true, "introduction": true, "background": true,
	"overview": true, "summary": true, "methodology": true,
	"results": true, "discussion": true, "conclusion": true,
	"references": true, "appendix": true,
}

// Segment splits page text into content items. Page numbers are 1-based and
// default to 1 when unknown.
func Segment(text string, page int) []Item {
	if page < 1 {
		page = 1
	}

	var lines []string
	for _, ln := range strings.Split(text, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			lines = append(lines, ln)
		}
	}

	var items []Item
	var para strings.Builder
	title := ""

	flush := func() {
		p := strings.TrimSpace(para.String())
		para.Reset()
		if p == "" {
			return
		}
		items = append(items, Item{
			Type:  ItemParagraph,
			Page:  page,
			Title: title,
			Text:  p,
		})
	}

	for i, line := range lines {
		switch {
		case captionRe.MatchString(line):
			flush()
			items = append(items, Item{
				Type: ItemImage,
				Page: page,
				Text: line,
			})
			title = ""

		case isTitleLine(line):
			// The pending paragraph belongs to the previous title.
			flush()
			title = line

		default:
			if para.Len() > 0 {
				para.WriteByte(' ')
			}
			para.WriteString(line)

			if endsSentence(line) && nextBreaks(lines, i) {
				flush()
			}
		}
	}
	flush()

	return items
}

// nextBreaks reports whether the line after i is a title, a caption, or
// end-of-input — the only places a terminated paragraph may end.
func nextBreaks(lines []string, i int) bool {
	if i+1 >= len(lines) {
		return true
	}
	next := lines[i+1]
	return isTitleLine(next) || captionRe.MatchString(next)
}

func endsSentence(line string) bool {
	return strings.HasSuffix(line, ".") ||
		strings.HasSuffix(line, "!") ||
		strings.HasSuffix(line, "?")
}

var titleStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "and": true, "or": true,
	"in": true, "on": true, "for": true, "to": true, "with": true,
}

// isTitleLine applies the heading heuristic: a known section name, or a
// short standalone line in title case without terminal punctuation.
func isTitleLine(line string) bool {
	if knownTitles[strings.ToLower(strings.TrimSuffix(line, ":"))] {
		return true
	}
	if len(line) > 60 || endsSentence(line) || strings.HasSuffix(line, ",") || strings.HasSuffix(line, ";") {
		return false
	}
	words := strings.Fields(line)
	if len(words) == 0 || len(words) > 8 {
		return false
	}
	for i, w := range words {
		r := []rune(w)[0]
		if unicode.IsUpper(r) || unicode.IsDigit(r) {
			continue
		}
		if i > 0 && titleStopwords[strings.ToLower(w)] {
			continue
		}
		return false
	}
	return true
}
