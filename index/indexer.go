// Package index writes search documents into the SQLite/FTS5 search index
// and answers structured and free-text queries against it.
//
// The index is the only writer to the search tables; no other component
// touches them. Indexing is bulk and tolerant of partial failure: a rejected
// row is logged and counted, and only a batch with zero successes fails the
// overall call.
package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/docdex/dbopen"
	"github.com/hazyhaar/docdex/etl"
	"github.com/hazyhaar/docdex/idgen"
)

// Store is the search index handle.
type Store struct {
	DB       *sql.DB
	logger   *slog.Logger
	newID    func() string
	resolver FilenameResolver
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		DB:     db,
		logger: slog.Default(),
		newID:  idgen.Default,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates the search tables and FTS index.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, Schema)
	return err
}

// IndexResult reports the outcome of a bulk write. Indexed < the batch size
// is a soft failure: the caller should treat it as worth re-checking, not as
// a hard error.
type IndexResult struct {
	Indexed int      `json:"indexed"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// Index bulk-writes search documents. Rows that fail to insert are logged
// and counted; the call errors only when the batch is empty or nothing was
// indexed. Re-indexing the same pdf_id is not deduplicated — callers that
// re-process a document must DeleteByDoc first.
func (s *Store) Index(ctx context.Context, docs []etl.SearchDoc) (*IndexResult, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("index: empty batch")
	}

	res := &IndexResult{}
	now := time.Now().UnixMilli()

	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		for i := range docs {
			if err := s.insertDoc(ctx, tx, &docs[i], now); err != nil {
				s.logger.Warn("index: document rejected",
					"pdf_id", docs[i].DocID, "type", docs[i].Type, "error", err)
				res.Failed++
				res.Errors = append(res.Errors, err.Error())
				continue
			}
			res.Indexed++
		}
		if res.Indexed == 0 {
			return fmt.Errorf("index: all %d documents rejected: %s", len(docs), res.Errors[0])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Failed > 0 {
		s.logger.Warn("index: partial bulk failure",
			"indexed", res.Indexed, "failed", res.Failed)
	}
	return res, nil
}

func (s *Store) insertDoc(ctx context.Context, tx *sql.Tx, doc *etl.SearchDoc, now int64) error {
	if doc.DocID == "" || doc.OwnerID == "" {
		return fmt.Errorf("missing pdf_id or user_id")
	}

	var tableJSON, imageJSON, caption, imageText string
	if len(doc.Table) > 0 {
		b, err := json.Marshal(doc.Table)
		if err != nil {
			return fmt.Errorf("marshal table: %w", err)
		}
		tableJSON = string(b)
	}
	if doc.Image != nil {
		b, err := json.Marshal(doc.Image)
		if err != nil {
			return fmt.Errorf("marshal image: %w", err)
		}
		imageJSON = string(b)
		caption = doc.Image.Caption
		imageText = doc.Image.ImageText
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO search_documents
		(id, pdf_id, user_id, total_pages, page_number, type, title, text,
		 table_json, image_json, image_caption, image_text, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.newID(), doc.DocID, doc.OwnerID, doc.TotalPages, doc.PageNumber,
		doc.Type, doc.Title, doc.Text, tableJSON, imageJSON, caption, imageText, now,
	)
	return err
}

// DeleteByDoc removes every search document belonging to a source document.
func (s *Store) DeleteByDoc(ctx context.Context, docID string) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM search_documents WHERE pdf_id = ?`, docID)
	if err != nil {
		return 0, fmt.Errorf("delete by doc: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the total number of indexed search documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM search_documents`).Scan(&n)
	return n, err
}
