package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/docdex/docpipe"
	"github.com/hazyhaar/docdex/segment"
	"github.com/hazyhaar/docdex/status"
	"github.com/hazyhaar/docdex/vtq"
)

// ErrQueueFull is returned by Submit when the ingestion backlog is at
// capacity. Callers should surface it as a retry-later condition.
var ErrQueueFull = errors.New("ingest: submission queue full")

// Config tunes the ingestion side of the pipeline.
type Config struct {
	// SpoolDir is where extracted content is written before indexing.
	SpoolDir string `yaml:"spool_dir"`
	// Workers is the number of concurrent extraction workers. Default: 2.
	Workers int `yaml:"workers"`
	// Backlog is the submission channel capacity. Default: 64.
	Backlog int `yaml:"backlog"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.SpoolDir == "" {
		c.SpoolDir = "spool"
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.Backlog <= 0 {
		c.Backlog = 64
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Ingester accepts submitted documents, extracts their content and enqueues
// transform work. Extraction failures mark the document failed; they never
// stop the worker loop.
type Ingester struct {
	pipe     *docpipe.Pipeline
	statuses *status.Store
	queue    *vtq.Q
	cfg      Config
	tasks    chan string
}

// New builds an Ingester. The spool directory is created if missing.
func New(pipe *docpipe.Pipeline, statuses *status.Store, queue *vtq.Q, cfg Config) (*Ingester, error) {
	cfg.defaults()
	if err := os.MkdirAll(cfg.SpoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("ingest: create spool dir: %w", err)
	}
	return &Ingester{
		pipe:     pipe,
		statuses: statuses,
		queue:    queue,
		cfg:      cfg,
		tasks:    make(chan string, cfg.Backlog),
	}, nil
}

// Submit hands a queued document to the extraction workers. It never blocks:
// a full backlog returns ErrQueueFull so the caller can shed load.
func (g *Ingester) Submit(ctx context.Context, docID string) error {
	select {
	case g.tasks <- docID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Run starts the extraction workers and blocks until ctx is cancelled.
func (g *Ingester) Run(ctx context.Context) error {
	grp, ctx := errgroup.WithContext(ctx)
	for i := 0; i < g.cfg.Workers; i++ {
		grp.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case id := <-g.tasks:
					g.process(ctx, id)
				}
			}
		})
	}
	err := grp.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// process runs extraction for one document. All failure paths mark the
// document failed with a reason; only logging escapes this function.
func (g *Ingester) process(ctx context.Context, docID string) {
	log := g.cfg.Logger.With("doc_id", docID)

	doc, err := g.statuses.Get(ctx, docID)
	if err != nil {
		log.Error("ingest: load document", "error", err)
		return
	}
	if err := g.statuses.SetStatus(ctx, docID, status.Parsing); err != nil {
		log.Warn("ingest: not in a startable state", "status", doc.Status, "error", err)
		return
	}

	ext, err := g.pipe.Extract(ctx, doc.SourcePath)
	if err != nil {
		g.fail(ctx, log, docID, "extract: "+shortReason(err))
		return
	}

	items := buildItems(ext)
	content := Content{
		DocID:       docID,
		OwnerID:     doc.OwnerID,
		Filename:    doc.Filename,
		TotalPages:  ext.PageCount(),
		Items:       items,
		ExtractedAt: time.Now().UTC(),
	}

	path := filepath.Join(g.cfg.SpoolDir, docID+".json")
	if err := writeJSON(path, &content); err != nil {
		g.fail(ctx, log, docID, "spool: "+shortReason(err))
		return
	}
	if err := g.statuses.SetContentRef(ctx, docID, path, ext.PageCount()); err != nil {
		g.fail(ctx, log, docID, "record content: "+shortReason(err))
		return
	}

	msg := Message{
		DocID:      docID,
		OwnerID:    doc.OwnerID,
		Filename:   doc.Filename,
		JSONPath:   path,
		PageCount:  ext.PageCount(),
		TextLength: len(ext.Text),
		TableCount: len(ext.Tables),
		ParsedAt:   time.Now().UTC(),
	}
	payload, err := json.Marshal(&msg)
	if err != nil {
		g.fail(ctx, log, docID, "encode message: "+shortReason(err))
		return
	}

	// The content is spooled and recorded; a publish failure leaves the
	// document in parsing, where a resubmit cannot restart it. Log loudly
	// so an operator can redrive rather than silently losing the work.
	if err := g.queue.Publish(ctx, docID, payload); err != nil {
		log.Error("ingest: enqueue failed, document stuck in parsing", "error", err)
		return
	}

	log.Info("ingest: extracted",
		"pages", msg.PageCount, "tables", msg.TableCount, "items", len(items))
}

func (g *Ingester) fail(ctx context.Context, log *slog.Logger, docID, reason string) {
	log.Error("ingest: " + reason)
	if err := g.statuses.MarkFailed(ctx, docID, reason); err != nil {
		log.Error("ingest: mark failed", "error", err)
	}
}

// buildItems merges segmented prose with detected tables, page by page, so
// the spooled item list reads in document order.
func buildItems(doc *docpipe.Document) []segment.Item {
	byPage := make(map[int][]docpipe.Table)
	for _, t := range doc.Tables {
		byPage[t.Page] = append(byPage[t.Page], t)
	}

	var items []segment.Item
	for _, p := range doc.Pages {
		items = append(items, segment.Segment(p.Text, p.Number)...)
		for _, t := range byPage[p.Number] {
			items = append(items, segment.Item{
				Type:   segment.ItemTable,
				Page:   t.Page,
				Title:  t.Title,
				Header: t.Header,
				Rows:   t.Rows,
			})
		}
	}
	return items
}

func writeJSON(path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// shortReason trims an error to a status-field-sized message.
func shortReason(err error) string {
	s := err.Error()
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
