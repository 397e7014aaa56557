// Package ingest drives documents through the processing pipeline: the
// Ingester extracts and spools content then enqueues work, the Consumer
// transforms spooled content and writes it to the search index. The two
// halves communicate only through the queue and the spool directory, so
// they can run in the same process or in separate ones.
package ingest

import (
	"time"

	"github.com/hazyhaar/docdex/segment"
)

// Message is the work item published to the queue once extraction has
// finished. It carries metadata plus a pointer to the spooled content; the
// content itself never travels through the queue.
type Message struct {
	DocID      string    `json:"pdfId"`
	OwnerID    string    `json:"userId"`
	Filename   string    `json:"filename"`
	JSONPath   string    `json:"jsonPath"`
	PageCount  int       `json:"pageCount"`
	TextLength int       `json:"textLength"`
	TableCount int       `json:"tableCount"`
	ParsedAt   time.Time `json:"parsedAt"`
}

// Content is the spooled extraction result the consumer reads back. One file
// per document, named <doc id>.json under the spool directory.
type Content struct {
	DocID       string         `json:"pdfId"`
	OwnerID     string         `json:"userId"`
	Filename    string         `json:"filename"`
	TotalPages  int            `json:"totalPages"`
	Items       []segment.Item `json:"items"`
	ExtractedAt time.Time      `json:"extractedAt"`
}
