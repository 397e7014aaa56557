package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/docdex/etl"
)

// ErrNoFilter is returned when a search request carries no usable filter at
// all. It is surfaced to the caller and never retried.
var ErrNoFilter = errors.New("search: at least one filter is required")

// ErrNoOwner is returned when the mandatory owner filter is missing.
var ErrNoOwner = errors.New("search: owner id is required")

// FilenameResolver translates a filename into the owner's document IDs.
// The status store implements it.
type FilenameResolver interface {
	LookupByFilename(ctx context.Context, ownerID, filename string) ([]string, error)
}

// WithFilenameResolver wires the collaborator used for filename filters.
func WithFilenameResolver(r FilenameResolver) Option {
	return func(s *Store) { s.resolver = r }
}

// Request are the search parameters consumed from the API layer.
// Zero values mean "not set".
type Request struct {
	OwnerID    string `json:"user_id"`
	Query      string `json:"query,omitempty"`
	Filename   string `json:"pdf_filename,omitempty"`
	Type       string `json:"type,omitempty"`
	PageNumber int    `json:"page_number,omitempty"`
	TotalPages int    `json:"total_pages,omitempty"`
	SortBy     string `json:"sort_by,omitempty"`
	SortOrder  string `json:"sort_order,omitempty"`
	Size       int    `json:"size,omitempty"`
	From       int    `json:"from,omitempty"`
}

// Hit is one search result in the uniform response envelope, decoupled from
// the index's native row shape.
type Hit struct {
	ID               string          `json:"id"`
	Score            float64         `json:"score"`
	DocID            string          `json:"doc_id"`
	OwnerID          string          `json:"owner_id"`
	Type             string          `json:"type"`
	Title            string          `json:"title"`
	PageNumber       int             `json:"page_number"`
	TotalPages       int             `json:"total_pages"`
	Text             string          `json:"text"`
	HighlightedText  string          `json:"highlighted_text,omitempty"`
	HighlightedTitle string          `json:"highlighted_title,omitempty"`
	TableData        []etl.TableRow  `json:"table_data,omitempty"`
	ImageData        *etl.ImageData  `json:"image_data,omitempty"`
}

// Response is the search result envelope.
type Response struct {
	Total int   `json:"total"`
	Hits  []Hit `json:"hits"`
	Size  int   `json:"size"`
	From  int   `json:"from"`
}

// Search builds and runs a query against the index. The owner filter is
// mandatory; beyond it at least one of free text, filename, type,
// page_number or total_pages must be present.
func (s *Store) Search(ctx context.Context, req Request) (*Response, error) {
	if req.OwnerID == "" {
		return nil, ErrNoOwner
	}
	if req.Query == "" && req.Filename == "" && req.Type == "" &&
		req.PageNumber == 0 && req.TotalPages == 0 {
		return nil, ErrNoFilter
	}
	if req.Size <= 0 {
		req.Size = 20
	}
	if req.From < 0 {
		req.From = 0
	}

	resp := &Response{Hits: []Hit{}, Size: req.Size, From: req.From}

	// Filename narrows to a doc-id set via the external lookup collaborator.
	var docIDs []string
	if req.Filename != "" {
		if s.resolver == nil {
			return nil, fmt.Errorf("search: filename filter needs a resolver")
		}
		ids, err := s.resolver.LookupByFilename(ctx, req.OwnerID, req.Filename)
		if err != nil {
			return nil, fmt.Errorf("search: resolve filename: %w", err)
		}
		if len(ids) == 0 {
			return resp, nil
		}
		docIDs = ids
	}

	where := []string{"d.user_id = ?"}
	args := []any{req.OwnerID}

	if req.Type != "" {
		where = append(where, "d.type = ?")
		args = append(args, req.Type)
	}
	if req.PageNumber > 0 {
		where = append(where, "d.page_number = ?")
		args = append(args, req.PageNumber)
	}
	if req.TotalPages > 0 {
		where = append(where, "d.total_pages = ?")
		args = append(args, req.TotalPages)
	}
	if len(docIDs) > 0 {
		ph := strings.TrimSuffix(strings.Repeat("?,", len(docIDs)), ",")
		where = append(where, fmt.Sprintf("d.pdf_id IN (%s)", ph))
		for _, id := range docIDs {
			args = append(args, id)
		}
	}

	match := buildMatch(req.Query, req.Type == "image")
	if match != "" {
		return s.searchFTS(ctx, req, resp, match, where, args)
	}
	return s.searchFiltered(ctx, req, resp, where, args)
}

// searchFTS runs a free-text query through the FTS index, joined back to the
// document rows for filtering.
func (s *Store) searchFTS(ctx context.Context, req Request, resp *Response, match string, where []string, args []any) (*Response, error) {
	textCol := 1
	if req.Type == "image" {
		textCol = 2 // highlight the caption column for image searches
	}

	cond := "search_fts MATCH ? AND " + strings.Join(where, " AND ")
	ftsArgs := append([]any{match}, args...)

	countQ := `
		SELECT COUNT(*)
		FROM search_fts
		JOIN search_documents d ON d.rowid = search_fts.rowid
		WHERE ` + cond
	if err := s.DB.QueryRowContext(ctx, countQ, ftsArgs...).Scan(&resp.Total); err != nil {
		return nil, fmt.Errorf("search: count: %w", err)
	}

	q := fmt.Sprintf(`
		SELECT d.id, d.pdf_id, d.user_id, d.total_pages, d.page_number, d.type,
		       d.title, d.text, d.table_json, d.image_json,
		       -rank,
		       snippet(search_fts, %d, '<em>', '</em>', '…', 32),
		       snippet(search_fts, 0, '<em>', '</em>', '…', 16)
		FROM search_fts
		JOIN search_documents d ON d.rowid = search_fts.rowid
		WHERE %s
		ORDER BY %s
		LIMIT ? OFFSET ?`,
		textCol, cond, orderClause(req, true),
	)
	rows, err := s.DB.QueryContext(ctx, q, append(ftsArgs, req.Size, req.From)...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var h Hit
		var tableJSON, imageJSON string
		if err := rows.Scan(&h.ID, &h.DocID, &h.OwnerID, &h.TotalPages, &h.PageNumber,
			&h.Type, &h.Title, &h.Text, &tableJSON, &imageJSON,
			&h.Score, &h.HighlightedText, &h.HighlightedTitle); err != nil {
			return nil, fmt.Errorf("search: scan: %w", err)
		}
		if err := attachPayloads(&h, tableJSON, imageJSON); err != nil {
			return nil, err
		}
		resp.Hits = append(resp.Hits, h)
	}
	return resp, rows.Err()
}

// searchFiltered answers structured queries with no free-text component.
func (s *Store) searchFiltered(ctx context.Context, req Request, resp *Response, where []string, args []any) (*Response, error) {
	cond := strings.Join(where, " AND ")

	countQ := `SELECT COUNT(*) FROM search_documents d WHERE ` + cond
	if err := s.DB.QueryRowContext(ctx, countQ, args...).Scan(&resp.Total); err != nil {
		return nil, fmt.Errorf("search: count: %w", err)
	}

	q := fmt.Sprintf(`
		SELECT d.id, d.pdf_id, d.user_id, d.total_pages, d.page_number, d.type,
		       d.title, d.text, d.table_json, d.image_json
		FROM search_documents d
		WHERE %s
		ORDER BY %s
		LIMIT ? OFFSET ?`,
		cond, orderClause(req, false),
	)
	rows, err := s.DB.QueryContext(ctx, q, append(args, req.Size, req.From)...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var h Hit
		var tableJSON, imageJSON string
		if err := rows.Scan(&h.ID, &h.DocID, &h.OwnerID, &h.TotalPages, &h.PageNumber,
			&h.Type, &h.Title, &h.Text, &tableJSON, &imageJSON); err != nil {
			return nil, fmt.Errorf("search: scan: %w", err)
		}
		if err := attachPayloads(&h, tableJSON, imageJSON); err != nil {
			return nil, err
		}
		resp.Hits = append(resp.Hits, h)
	}
	return resp, rows.Err()
}

func attachPayloads(h *Hit, tableJSON, imageJSON string) error {
	if h.Type == "table" && tableJSON != "" {
		if err := json.Unmarshal([]byte(tableJSON), &h.TableData); err != nil {
			return fmt.Errorf("search: decode table payload: %w", err)
		}
	}
	if h.Type == "image" && imageJSON != "" {
		if err := json.Unmarshal([]byte(imageJSON), &h.ImageData); err != nil {
			return fmt.Errorf("search: decode image payload: %w", err)
		}
	}
	return nil
}

// buildMatch converts free text into an FTS5 match expression. Every term is
// quoted and prefix-matched, which is the fuzziness the index offers.
// Image searches target the image caption/text columns instead of title/text.
func buildMatch(query string, image bool) string {
	var terms []string
	for _, w := range strings.Fields(query) {
		w = sanitizeTerm(w)
		if w == "" {
			continue
		}
		terms = append(terms, `"`+w+`"*`)
	}
	if len(terms) == 0 {
		return ""
	}

	fields := "{title text}"
	if image {
		fields = "{image_caption image_text}"
	}
	return fields + " : (" + strings.Join(terms, " AND ") + ")"
}

// sanitizeTerm strips FTS5 syntax characters from a raw query token.
func sanitizeTerm(w string) string {
	var sb strings.Builder
	for _, r := range w {
		switch r {
		case '"', '\'', '*', '(', ')', ':', '^', '{', '}', '-':
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// orderClause maps the requested sort onto SQL. Relevance is the default;
// unrecognized keys fall back to it instead of erroring.
func orderClause(req Request, hasQuery bool) string {
	var col string
	switch req.SortBy {
	case "page_number":
		col = "d.page_number"
	case "total_pages":
		col = "d.total_pages"
	case "type":
		col = "d.type"
	case "relevance":
	default:
		// unknown sort keys fall back to relevance
	}

	if col == "" {
		if hasQuery {
			return "rank" // ascending rank = best match first
		}
		return "d.created_at DESC"
	}

	dir := "ASC"
	if strings.EqualFold(req.SortOrder, "desc") {
		dir = "DESC"
	}
	return col + " " + dir
}
