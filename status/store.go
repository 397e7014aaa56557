package status

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Schema contains the DDL for the documents table.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
    id          TEXT PRIMARY KEY,
    owner_id    TEXT NOT NULL,
    filename    TEXT NOT NULL DEFAULT '',
    source_path TEXT NOT NULL DEFAULT '',
    content_ref TEXT NOT NULL DEFAULT '',
    page_count  INTEGER NOT NULL DEFAULT 0,
    status      TEXT NOT NULL DEFAULT 'queued',
    error       TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_documents_filename ON documents(owner_id, filename);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
`

// Document is the tracked record for one uploaded document.
type Document struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	Filename   string    `json:"filename"`
	SourcePath string    `json:"source_path,omitempty"`
	ContentRef string    `json:"content_ref,omitempty"`
	PageCount  int       `json:"page_count"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store persists document records and enforces the state machine on writes.
type Store struct {
	DB *sql.DB
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Init creates the documents table.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, Schema)
	return err
}

// Create inserts a new document in the queued state.
func (s *Store) Create(ctx context.Context, d *Document) error {
	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	d.Status = Queued

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO documents (id, owner_id, filename, source_path, content_ref, page_count, status, error, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.OwnerID, d.Filename, d.SourcePath, d.ContentRef, d.PageCount,
		d.Status, d.Error, d.CreatedAt.UnixMilli(), d.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// Get retrieves a document by ID.
func (s *Store) Get(ctx context.Context, id string) (*Document, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, owner_id, filename, source_path, content_ref, page_count, status, error, created_at, updated_at
		FROM documents WHERE id = ?`, id)
	return scanDocument(row.Scan)
}

// ListByOwner returns the owner's documents, newest first.
func (s *Store) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Document, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, owner_id, filename, source_path, content_ref, page_count, status, error, created_at, updated_at
		FROM documents WHERE owner_id = ? ORDER BY created_at DESC LIMIT ?`,
		ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// SetStatus moves a document to the given state, enforcing the transition
// table atomically. Leaving failed clears the stored error. Use MarkFailed
// for failures so the reason is recorded.
func (s *Store) SetStatus(ctx context.Context, id string, to Status) error {
	if _, ok := transitions[to]; !ok {
		return fmt.Errorf("unknown status %q", to)
	}

	froms := make([]string, 0, 2)
	for from, nexts := range transitions {
		for _, next := range nexts {
			if next == to {
				froms = append(froms, string(from))
			}
		}
	}
	if len(froms) == 0 {
		return fmt.Errorf("set status %s: %w", to, ErrBadTransition)
	}

	placeholders := strings.Repeat("?,", len(froms))
	placeholders = placeholders[:len(placeholders)-1]

	args := []any{string(to), time.Now().UnixMilli(), id}
	for _, f := range froms {
		args = append(args, f)
	}
	res, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
		UPDATE documents SET status = ?, error = '', updated_at = ?
		WHERE id = ? AND status IN (%s)`, placeholders),
		args...,
	)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 1 {
		return nil
	}

	// Distinguish missing document from an illegal transition.
	cur, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%s -> %s: %w", cur.Status, to, ErrBadTransition)
}

// MarkFailed moves a document to failed and records a short reason. Only
// documents currently in parsing or transform can fail.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE documents SET status = ?, error = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(Failed), reason, time.Now().UnixMilli(), id, string(Parsing), string(Transform),
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 1 {
		return nil
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%s -> %s: %w", cur.Status, Failed, ErrBadTransition)
}

// SetContentRef records the extracted-content handle and page count.
func (s *Store) SetContentRef(ctx context.Context, id, ref string, pageCount int) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE documents SET content_ref = ?, page_count = ?, updated_at = ? WHERE id = ?`,
		ref, pageCount, time.Now().UnixMilli(), id,
	)
	return err
}

// LookupByFilename resolves a filename to the owner's matching document IDs.
// This is the collaborator the search service uses to translate a filename
// filter into doc_id terms.
func (s *Store) LookupByFilename(ctx context.Context, ownerID, filename string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id FROM documents WHERE owner_id = ? AND filename = ?`,
		ownerID, filename)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountByStatus returns document counts grouped by status.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[Status(st)] = n
	}
	return counts, rows.Err()
}

func scanDocument(scan func(...any) error) (*Document, error) {
	var d Document
	var st string
	var creAt, updAt int64
	err := scan(&d.ID, &d.OwnerID, &d.Filename, &d.SourcePath, &d.ContentRef,
		&d.PageCount, &st, &d.Error, &creAt, &updAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	d.Status = Status(st)
	d.CreatedAt = time.UnixMilli(creAt)
	d.UpdatedAt = time.UnixMilli(updAt)
	return &d, nil
}
