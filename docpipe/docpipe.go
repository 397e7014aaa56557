// Package docpipe extracts text and tables from document files.
//
// Supported formats:
//   - .pdf  — PDF text extraction (pure Go, content stream decoding)
//   - .txt  — plain text (passthrough with whitespace normalization)
//   - .html — HTML (tag-stripping text extraction)
//
// Tables are detected per page through an ordered fallback chain of
// detectors; the first detector that yields a result wins and its consumed
// lines are removed from the page text.
//
// Usage:
//
//	pipe := docpipe.New(docpipe.Config{})
//	doc, err := pipe.Extract(ctx, "/path/to/report.pdf")
//	fmt.Println(doc.Title, len(doc.Tables), "tables")
package docpipe

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Pipeline is the document extraction engine.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Pipeline with the given configuration.
func New(cfg Config) *Pipeline {
	cfg.defaults()
	return &Pipeline{
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

// Detect returns the document format based on file extension.
func (p *Pipeline) Detect(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf":
		return FormatPDF, nil
	case ".txt", ".text":
		return FormatTXT, nil
	case ".html", ".htm":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("unsupported format: %q", ext)
	}
}

// Extract parses a document, runs table detection on every page, and returns
// the remaining prose plus detected tables. Any failure is reported as an
// *ExtractionError.
func (p *Pipeline) Extract(ctx context.Context, path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &ExtractionError{Path: path, Err: err}
	}
	if info.Size() > p.cfg.MaxFileSize {
		return nil, &ExtractionError{Path: path, Err: fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), p.cfg.MaxFileSize)}
	}

	format, err := p.Detect(path)
	if err != nil {
		return nil, &ExtractionError{Path: path, Err: err}
	}

	p.logger.Debug("extracting document", "path", path, "format", format)

	var title string
	var pages []Page
	var hasImages bool

	switch format {
	case FormatPDF:
		title, pages, hasImages, err = extractPDF(path)
	case FormatTXT:
		title, pages, err = extractText(path)
	case FormatHTML:
		title, pages, err = extractHTMLFile(path)
	default:
		err = fmt.Errorf("no parser for format: %s", format)
	}
	if err != nil {
		return nil, &ExtractionError{Path: path, Err: err}
	}
	if len(pages) == 0 {
		return nil, &ExtractionError{Path: path, Err: fmt.Errorf("no text content found")}
	}

	// Table detection per page, prose reassembled without consumed lines.
	var tables []Table
	var all strings.Builder
	for i := range pages {
		pageTables, remaining := detectTables(pages[i].Text, pages[i].Number)
		tables = append(tables, pageTables...)
		pages[i].Text = remaining
		if all.Len() > 0 {
			all.WriteByte('\n')
		}
		all.WriteString(remaining)
	}

	if len(tables) > 0 {
		p.logger.Debug("tables detected", "path", path, "count", len(tables))
	}

	return &Document{
		Path:      path,
		Format:    format,
		Title:     title,
		Pages:     pages,
		Tables:    tables,
		Text:      all.String(),
		HasImages: hasImages,
	}, nil
}

// SupportedFormats returns all supported format extensions.
func SupportedFormats() []string {
	return []string{"pdf", "txt", "html"}
}
