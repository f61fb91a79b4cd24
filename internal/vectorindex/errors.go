package vectorindex

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidConfig indicates invalid index configuration.
	ErrInvalidConfig = errors.New("invalid vector index config")

	// ErrMissingOrganisation is returned when an operation is attempted
	// without an organisation id. Operations without a partition are
	// rejected rather than run unscoped.
	ErrMissingOrganisation = errors.New("organisation id required")

	// ErrDimensionMismatch is returned when a vector's length differs
	// from the configured embedding dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmptyBatch is returned when AddDocuments is called with no
	// documents.
	ErrEmptyBatch = errors.New("empty document batch")

	// ErrInvalidSearchMode is returned for an unknown SearchMode.
	ErrInvalidSearchMode = errors.New("invalid search mode")

	// ErrConnectionFailed indicates the backing store is unreachable.
	ErrConnectionFailed = errors.New("vector store connection failed")
)

// DocumentError records why one document in a batch was rejected.
type DocumentError struct {
	// ID is the failed document's id; may be empty when the document
	// had none.
	ID string

	// Index is the document's position in the submitted batch.
	Index int

	// Err is the per-document failure.
	Err error
}

func (e DocumentError) Error() string {
	return fmt.Sprintf("document %q (index %d): %v", e.ID, e.Index, e.Err)
}

func (e DocumentError) Unwrap() error { return e.Err }

// PartialBatchError reports a batch where some documents were indexed
// and others failed. Documents not listed in Failed were committed.
type PartialBatchError struct {
	Failed []DocumentError
}

func (e *PartialBatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d document(s) failed", len(e.Failed))
	for i, f := range e.Failed {
		if i == 3 {
			b.WriteString("; ...")
			break
		}
		b.WriteString("; ")
		b.WriteString(f.Error())
	}
	return b.String()
}

// Is allows errors.Is(err, target) to match per-document sentinel
// errors such as ErrDimensionMismatch.
func (e *PartialBatchError) Is(target error) bool {
	for _, f := range e.Failed {
		if errors.Is(f.Err, target) {
			return true
		}
	}
	return false
}
