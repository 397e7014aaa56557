package docpipe

import (
	"regexp"
	"strings"
)

// Table detection is a fallback chain: each detector is strictly cheaper to
// get right than the previous one and only runs if the prior stage found
// nothing. Real-world table extraction from flowed text is unreliable, so the
// chain trades precision for coverage.
type tableDetector struct {
	name string
	fn   func(lines []string, page int) ([]Table, map[int]bool)
}

var tableDetectors = []tableDetector{
	{"grid", detectGridTables},
	{"record", detectRecordTables},
	{"loose", detectLooseTables},
}

// detectTables runs the fallback chain over the page text. It returns the
// detected tables and the text with consumed lines removed.
func detectTables(text string, page int) ([]Table, string) {
	lines := strings.Split(text, "\n")
	for _, d := range tableDetectors {
		tables, consumed := d.fn(lines, page)
		if len(tables) == 0 {
			continue
		}
		kept := make([]string, 0, len(lines))
		for i, ln := range lines {
			if !consumed[i] {
				kept = append(kept, ln)
			}
		}
		return tables, strings.Join(kept, "\n")
	}
	return nil, text
}

// nonTableMarkerRe matches figure/caption lines that terminate a table scan.
var nonTableMarkerRe = regexp.MustCompile(`(?i)^(figure|fig\.|image|chart)\b`)

// tableTitleRe matches an explicit table title line ("Table 3: Quarterly ...").
var tableTitleRe = regexp.MustCompile(`(?i)^table\b`)

// tableTitle looks at the nearest non-blank line above the header for an
// explicit table title. Returns the title and its line index, or "" and -1.
func tableTitle(lines []string, headerIdx int) (string, int) {
	for i := headerIdx - 1; i >= 0; i-- {
		ln := strings.TrimSpace(lines[i])
		if ln == "" {
			continue
		}
		if tableTitleRe.MatchString(ln) {
			return ln, i
		}
		return "", -1
	}
	return "", -1
}

// detectGridTables finds runs of tab-delimited lines with a consistent cell
// count. This is the structural pass: an explicit delimiter and a stable
// column count across at least two consecutive lines.
func detectGridTables(lines []string, page int) ([]Table, map[int]bool) {
	var tables []Table
	consumed := make(map[int]bool)

	i := 0
	for i < len(lines) {
		cells := splitTabs(lines[i])
		if len(cells) < 2 {
			i++
			continue
		}

		start := i
		width := len(cells)
		var rows [][]string
		for i < len(lines) {
			c := splitTabs(lines[i])
			if len(c) != width {
				break
			}
			rows = append(rows, c)
			i++
		}
		if len(rows) < 2 {
			continue
		}

		title, titleIdx := tableTitle(lines, start)
		if titleIdx >= 0 {
			consumed[titleIdx] = true
		}
		for j := start; j < start+len(rows); j++ {
			consumed[j] = true
		}
		tables = append(tables, Table{
			Page:   page,
			Title:  title,
			Header: rows[0],
			Rows:   rows[1:],
		})
	}

	if len(tables) == 0 {
		return nil, nil
	}
	return tables, consumed
}

func splitTabs(line string) []string {
	if !strings.Contains(line, "\t") {
		return nil
	}
	parts := strings.Split(line, "\t")
	cells := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cells = append(cells, p)
		}
	}
	return cells
}

// recordHeaderRe matches the known multi-column header signature:
// an ID column, a name column, a units column and a currency column.
var recordHeaderRe = regexp.MustCompile(
	`(?i)^id\s+(.+?\bname)\s+(units(?:\s+\w+)?|qty|quantity)\s+((?:revenue|sales|amount|total|price)\b.*)$`)

// recordLineRe splits a data line right-to-left: trailing currency amount,
// trailing numeric run before it, leading numeric id, remainder is the name.
var recordLineRe = regexp.MustCompile(
	`^(\d+)\s+(.+?)\s+([\d,]+(?:\.\d+)?)\s+(\$[\d,]+(?:\.\d+)?)\s*$`)

// detectRecordTables scans for the known header signature and parses the
// lines that follow as <id> <name> <units> <amount> records. The scan stops
// at the first blank line, at figure/caption markers, and at any line that no
// longer matches the record pattern.
func detectRecordTables(lines []string, page int) ([]Table, map[int]bool) {
	var tables []Table
	consumed := make(map[int]bool)

	for i := 0; i < len(lines); i++ {
		m := recordHeaderRe.FindStringSubmatch(strings.TrimSpace(lines[i]))
		if m == nil {
			continue
		}
		header := []string{"ID", m[1], m[2], strings.TrimSpace(m[3])}

		var rows [][]string
		j := i + 1
		for ; j < len(lines); j++ {
			ln := strings.TrimSpace(lines[j])
			if ln == "" || nonTableMarkerRe.MatchString(ln) {
				break
			}
			rm := recordLineRe.FindStringSubmatch(ln)
			if rm == nil {
				break
			}
			rows = append(rows, []string{rm[1], rm[2], rm[3], rm[4]})
		}
		if len(rows) == 0 {
			continue
		}

		title, titleIdx := tableTitle(lines, i)
		if titleIdx >= 0 {
			consumed[titleIdx] = true
		}
		for k := i; k < i+1+len(rows); k++ {
			consumed[k] = true
		}
		tables = append(tables, Table{
			Page:   page,
			Title:  title,
			Header: header,
			Rows:   rows,
		})
		i += len(rows)
	}

	if len(tables) == 0 {
		return nil, nil
	}
	return tables, consumed
}

var looseSplitRe = regexp.MustCompile(`\t|\s{2,}`)

// detectLooseTables is the generic last-resort heuristic: any line that
// splits into three or more segments on runs of whitespace is a table row,
// and the first such line is the header.
func detectLooseTables(lines []string, page int) ([]Table, map[int]bool) {
	consumed := make(map[int]bool)
	var rows [][]string

	for i, ln := range lines {
		ln = strings.TrimRight(ln, " \t")
		cells := looseSplitRe.Split(strings.TrimSpace(ln), -1)
		filtered := cells[:0]
		for _, c := range cells {
			if c = strings.TrimSpace(c); c != "" {
				filtered = append(filtered, c)
			}
		}
		if len(filtered) < 3 {
			continue
		}
		rows = append(rows, filtered)
		consumed[i] = true
	}
	if len(rows) < 2 {
		return nil, nil
	}

	return []Table{{
		Page:   page,
		Header: rows[0],
		Rows:   rows[1:],
	}}, consumed
}
