package docpipe

import "fmt"

// ExtractionError wraps any failure to read or parse a source document.
// A document that produces an ExtractionError is fatal to that document's
// pipeline run; the caller marks it failed.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
