package intake

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrTimeout is the cause of a PipelineError when an ingestion exceeded its deadline.
var ErrTimeout = errors.New("ingestion timed out")

// PipelineError reports a failed ingestion. Nothing from the failed attempt was committed
// except the run, which the ledger records as FAILED when RunID is set.
type PipelineError struct {
	RunID uuid.UUID
	Cause error
}

func (e *PipelineError) Error() string {
	if e.RunID == uuid.Nil {
		return fmt.Sprintf("ingestion failed: %v", e.Cause)
	}
	return fmt.Sprintf("ingestion failed (run %s): %v", e.RunID, e.Cause)
}

func (e *PipelineError) Unwrap() error { return e.Cause }

// DuplicateError is returned by IngestIfAbsent when a contact with the same email exists.
type DuplicateError struct {
	Email string
	RowID uuid.UUID
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("contact already exists: row %s", e.RowID)
}
