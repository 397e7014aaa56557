// Package docdex is a document ingestion and search service. Uploaded
// documents move through an asynchronous pipeline: content extraction,
// segmentation, transformation into search documents, and full-text
// indexing. Every stage change is tracked, so callers can poll a document's
// progress and search its content once it is ready.
package docdex

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/docdex/dbopen"
	"github.com/hazyhaar/docdex/docpipe"
	"github.com/hazyhaar/docdex/idgen"
	"github.com/hazyhaar/docdex/index"
	"github.com/hazyhaar/docdex/ingest"
	"github.com/hazyhaar/docdex/status"
	"github.com/hazyhaar/docdex/vtq"
)

// Service wires the pipeline components around a single SQLite database.
type Service struct {
	db       *sql.DB
	statuses *status.Store
	idx      *index.Store
	queue    *vtq.Q
	pipe     *docpipe.Pipeline
	ingester *ingest.Ingester
	consumer *ingest.Consumer
	newID    idgen.Generator
	logger   *slog.Logger
	config   *Config
}

// New opens the database and builds the pipeline. Start must be called to
// launch the background workers.
func New(cfg *Config, logger *slog.Logger) (*Service, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		db.Close()
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	ctx := context.Background()
	statuses := status.NewStore(db)
	if err := statuses.Init(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init status store: %w", err)
	}
	idx := index.NewStore(db,
		index.WithLogger(logger),
		index.WithFilenameResolver(statuses),
	)
	if err := idx.Init(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init index: %w", err)
	}

	queue := vtq.New(db, vtq.Options{
		Queue:        "docdex_work",
		Visibility:   cfg.Queue.Visibility,
		PollInterval: cfg.Queue.PollInterval,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		Logger:       logger,
	})
	if err := queue.EnsureTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init queue: %w", err)
	}

	pipe := docpipe.New(docpipe.Config{
		MaxFileSize: cfg.MaxFileSize,
		Logger:      logger,
	})

	ingCfg := cfg.Ingest
	ingCfg.Logger = logger
	ingester, err := ingest.New(pipe, statuses, queue, ingCfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Service{
		db:       db,
		statuses: statuses,
		idx:      idx,
		queue:    queue,
		pipe:     pipe,
		ingester: ingester,
		consumer: ingest.NewConsumer(statuses, idx, logger),
		newID:    idgen.Prefixed("doc_", idgen.Default),
		logger:   logger,
		config:   cfg,
	}, nil
}

// Start launches the extraction workers and the queue consumer. They stop
// when ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	go func() {
		if err := s.ingester.Run(ctx); err != nil {
			s.logger.Error("docdex: ingester stopped", "error", err)
		}
	}()
	go s.queue.Run(ctx, s.consumer.Handle)
	s.logger.Info("docdex: started", "db", s.config.DBPath)
}

// Close shuts down the service and closes the database.
func (s *Service) Close() error {
	return s.db.Close()
}

// Upload stores a source file and queues it for processing. The returned
// document starts in the queued state; processing is asynchronous.
func (s *Service) Upload(ctx context.Context, ownerID, filename string, r io.Reader) (*status.Document, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("upload: owner id is required")
	}
	filename = filepath.Base(filename)
	if filename == "" || filename == "." {
		return nil, fmt.Errorf("upload: filename is required")
	}
	if _, err := s.pipe.Detect(filename); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	id := s.newID()
	path := filepath.Join(s.config.UploadDir, id+strings.ToLower(filepath.Ext(filename)))

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("upload: store file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(r, s.config.MaxFileSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > s.config.MaxFileSize {
		err = fmt.Errorf("file exceeds %d bytes", s.config.MaxFileSize)
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("upload: %w", err)
	}

	doc := &status.Document{
		ID:         id,
		OwnerID:    ownerID,
		Filename:   filename,
		SourcePath: path,
	}
	if err := s.statuses.Create(ctx, doc); err != nil {
		os.Remove(path)
		return nil, err
	}

	if err := s.ingester.Submit(ctx, id); err != nil {
		// The document stays queued; a later Reprocess can pick it up.
		return doc, fmt.Errorf("upload: %w", err)
	}
	return doc, nil
}

// Document returns one tracked document.
func (s *Service) Document(ctx context.Context, id string) (*status.Document, error) {
	return s.statuses.Get(ctx, id)
}

// Documents lists an owner's documents, newest first.
func (s *Service) Documents(ctx context.Context, ownerID string, limit int) ([]*status.Document, error) {
	return s.statuses.ListByOwner(ctx, ownerID, limit)
}

// Search queries the index.
func (s *Service) Search(ctx context.Context, req index.Request) (*index.Response, error) {
	return s.idx.Search(ctx, req)
}

// Reprocess sends a failed document back through the pipeline. A document
// still waiting in the queued state is resubmitted as-is.
func (s *Service) Reprocess(ctx context.Context, id string) error {
	doc, err := s.statuses.Get(ctx, id)
	if err != nil {
		return err
	}
	if doc.Status != status.Queued {
		if err := s.statuses.SetStatus(ctx, id, status.Queued); err != nil {
			return err
		}
	}
	return s.ingester.Submit(ctx, id)
}

// DeadLetters returns jobs that exhausted their delivery attempts.
func (s *Service) DeadLetters(ctx context.Context, limit int) ([]*vtq.DeadJob, error) {
	return s.queue.DeadLetters(ctx, limit)
}

// Redrive puts a dead-lettered job back on the queue with a fresh attempt
// budget.
func (s *Service) Redrive(ctx context.Context, jobID string) error {
	return s.queue.Redrive(ctx, jobID)
}

// Stats holds pipeline counters.
type Stats struct {
	Documents map[string]int `json:"documents"`
	Indexed   int            `json:"indexed"`
	Queued    int            `json:"queue_depth"`
	Dead      int            `json:"dead_letters"`
}

// Stats reports document counts by status plus queue and index depth.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	byStatus, err := s.statuses.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	indexed, err := s.idx.Count(ctx)
	if err != nil {
		return nil, err
	}
	depth, err := s.queue.Len(ctx)
	if err != nil {
		return nil, err
	}
	dead, err := s.queue.DeadLen(ctx)
	if err != nil {
		return nil, err
	}

	docs := make(map[string]int, len(byStatus))
	for st, n := range byStatus {
		docs[st.String()] = n
	}
	return &Stats{Documents: docs, Indexed: indexed, Queued: depth, Dead: dead}, nil
}
