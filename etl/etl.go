// Package etl maps content items onto the flat search-document model. The
// transform is a pure function: no I/O, no clock, identical inputs produce
// identical output.
package etl

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/docdex/segment"
)

// TableRow is one column-structured table row: a mapping from normalized
// column name to cell value.
type TableRow struct {
	RowNumber int               `json:"row_number"`
	Row       map[string]string `json:"row"`
}

// ImageMeta carries physical image metadata. Populated by the external image
// pipeline, not by this package; the transform writes an empty block.
type ImageMeta struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

// ImageData is the image-specific payload of a search document.
type ImageData struct {
	Caption   string    `json:"caption"`
	ImageText string    `json:"imagetext"`
	Metadata  ImageMeta `json:"metadata"`
}

// SearchDoc is the unit written to the search index, one per content item.
// Text is always populated so free-text search has a uniform target.
type SearchDoc struct {
	DocID      string     `json:"pdf_id"`
	OwnerID    string     `json:"user_id"`
	TotalPages int        `json:"total_pages"`
	PageNumber int        `json:"page_number"`
	Type       string     `json:"type"`
	Title      string     `json:"title"`
	Text       string     `json:"text"`
	Table      []TableRow `json:"table_structured,omitempty"`
	Image      *ImageData `json:"image,omitempty"`
}

// TransformError reports malformed content that cannot be mapped onto the
// search-document model. It is fatal to the affected document, never to the
// consumer.
type TransformError struct {
	Reason string
	Err    error
}

func (e *TransformError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transform: %s: %v", e.Reason, e.Err)
	}
	return "transform: " + e.Reason
}

func (e *TransformError) Unwrap() error { return e.Err }

// Transform maps content items into search documents. Items with an unknown
// type are skipped and reported in skipped; they are never fatal.
func Transform(items []segment.Item, docID, ownerID string, totalPages int) (docs []SearchDoc, skipped []int, err error) {
	if docID == "" || ownerID == "" {
		return nil, nil, &TransformError{Reason: "missing document or owner id"}
	}
	if totalPages < 1 {
		totalPages = 1
	}

	for i, item := range items {
		page := item.Page
		if page < 1 {
			page = 1
		}
		base := SearchDoc{
			DocID:      docID,
			OwnerID:    ownerID,
			TotalPages: totalPages,
			PageNumber: page,
			Type:       string(item.Type),
			Title:      flatten(item.Title),
		}

		switch item.Type {
		case segment.ItemParagraph:
			base.Text = flatten(item.Text)

		case segment.ItemTable:
			base.Text = joinCells(item.Rows)
			base.Table = structureTable(item.Header, item.Rows)

		case segment.ItemImage:
			base.Text = flatten(item.Text)
			base.Image = &ImageData{Caption: flatten(item.Text)}

		default:
			skipped = append(skipped, i)
			continue
		}

		docs = append(docs, base)
	}
	return docs, skipped, nil
}

// structureTable zips normalized header tokens positionally against every
// row's cells. Missing cells become empty strings; extra cells are dropped.
// Column-name collisions are not de-duplicated — last header wins.
func structureTable(header []string, rows [][]string) []TableRow {
	var cols []string
	for _, h := range header {
		if c := NormalizeColumn(h); c != "" {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return nil
	}

	out := make([]TableRow, 0, len(rows))
	for n, row := range rows {
		m := make(map[string]string, len(cols))
		for i, c := range cols {
			if i < len(row) {
				m[c] = row[i]
			} else {
				m[c] = ""
			}
		}
		out = append(out, TableRow{RowNumber: n + 1, Row: m})
	}
	return out
}

// joinCells pipe-joins all cells of all rows into a flat searchable string.
func joinCells(rows [][]string) string {
	var parts []string
	for _, row := range rows {
		for _, cell := range row {
			if cell = strings.TrimSpace(cell); cell != "" {
				parts = append(parts, cell)
			}
		}
	}
	return strings.Join(parts, " | ")
}

// NormalizeColumn derives a column name from a header token:
// lowercase, trim, spaces to underscore, strip everything outside
// [a-z0-9_], trim leading/trailing underscores. Idempotent.
func NormalizeColumn(h string) string {
	s := strings.ToLower(strings.TrimSpace(h))
	s = strings.ReplaceAll(s, " ", "_")
	var sb strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			sb.WriteRune(r)
		}
	}
	return strings.Trim(sb.String(), "_")
}

// flatten collapses internal whitespace into single spaces.
func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
