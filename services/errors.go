package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyQuestion     = errors.New("question must not be empty")
	ErrNoText            = errors.New("no extractable text")
	ErrInvalidTopK       = errors.New("top_k must be a positive integer")
	ErrUnsupportedMetric = errors.New("unsupported similarity metric")
	ErrMalformedResponse = errors.New("malformed response")
)

// InvalidDirectoryError is returned before any work starts when the
// ingestion path is missing or not a directory.
type InvalidDirectoryError struct {
	Path string
	Err  error
}

func (e *InvalidDirectoryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid directory %q: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("invalid directory %q: not a directory", e.Path)
}

func (e *InvalidDirectoryError) Unwrap() error { return e.Err }

// EmbeddingError carries the (truncated) input that could not be embedded.
type EmbeddingError struct {
	Model string
	Input string
	Err   error
}

func newEmbeddingError(model, input string, err error) *EmbeddingError {
	return &EmbeddingError{Model: model, Input: truncate(input, 80), Err: err}
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embed %q with %s: %v", e.Input, e.Model, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// IndexProvisioningError is returned when an index cannot be created or an
// existing one does not match the requested dimension or metric.
type IndexProvisioningError struct {
	Index string
	Err   error
}

func (e *IndexProvisioningError) Error() string {
	return fmt.Sprintf("provision index %q: %v", e.Index, e.Err)
}

func (e *IndexProvisioningError) Unwrap() error { return e.Err }

// IndexWriteError reports a partial or total upsert failure. Succeeded and
// Failed partition the IDs of the attempted records.
type IndexWriteError struct {
	Index     string
	Namespace string
	Succeeded []string
	Failed    []string
	Err       error
}

func (e *IndexWriteError) Error() string {
	return fmt.Sprintf("upsert into %s/%s: %d of %d records failed: %v",
		e.Index, e.Namespace, len(e.Failed), len(e.Failed)+len(e.Succeeded), e.Err)
}

func (e *IndexWriteError) Unwrap() error { return e.Err }

// Partial reports whether at least one record was written.
func (e *IndexWriteError) Partial() bool { return len(e.Succeeded) > 0 }

// IndexQueryError wraps a failed similarity search.
type IndexQueryError struct {
	Index     string
	Namespace string
	Err       error
}

func (e *IndexQueryError) Error() string {
	return fmt.Sprintf("query %s/%s: %v", e.Index, e.Namespace, e.Err)
}

func (e *IndexQueryError) Unwrap() error { return e.Err }

// Retrieval stages named in RetrievalError.
const (
	StageEmbed    = "embed"
	StageSearch   = "search"
	StagePrompt   = "prompt"
	StageGenerate = "generate"
)

// RetrievalError is the single failure surfaced by the retrieval pipeline.
type RetrievalError struct {
	Stage string
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed at %s: %v", e.Stage, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
