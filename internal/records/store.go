package records

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jonathan/storm-crm/internal/schemas"
)

// Reader holds the read paths shared by a store and its transactions.
type Reader interface {
	GetRow(ctx context.Context, rowID uuid.UUID) (*Row, error)
	ListRecentRows(ctx context.Context, page Page) ([]Row, error)
	GetRowset(ctx context.Context, rowsetID uuid.UUID) (*Rowset, error)
	ListRowsetRows(ctx context.Context, rowsetID uuid.UUID) ([]Row, error)
	GetRun(ctx context.Context, runID uuid.UUID) (*IntakeRun, error)
	// FindRunByOperation returns the latest run for operationID in the given status, or
	// nil. An empty status matches any run.
	FindRunByOperation(ctx context.Context, operationID string, status RunStatus) (*IntakeRun, error)
	ListRunArtifacts(ctx context.Context, runID uuid.UUID) ([]IntakeArtifact, error)
	ListRunRowsets(ctx context.Context, runID uuid.UUID) ([]Rowset, error)
}

// RecordWriter is the write side of the record store.
type RecordWriter interface {
	CreateRowset(ctx context.Context, in RowsetInput) (uuid.UUID, error)
	FindReusableRowset(ctx context.Context, schemaVersion string, stage Stage) (*Rowset, error)
	AppendRow(ctx context.Context, rowsetID uuid.UUID, content Document, status RowStatus) (*Row, error)
	FindRowByField(ctx context.Context, schemaVersion, field, value string) (*Row, error)
	// AdvisoryLock blocks until the transaction holds the lock named by key; it is released
	// when the transaction ends.
	AdvisoryLock(ctx context.Context, key string) error
}

// LedgerWriter is the write side of the intake ledger.
type LedgerWriter interface {
	BeginRun(ctx context.Context, in RunInput) (uuid.UUID, error)
	RecordArtifact(ctx context.Context, artifactID, runID uuid.UUID, payload json.RawMessage) (uuid.UUID, error)
	MarkArtifactProcessed(ctx context.Context, artifactID uuid.UUID) error
	UpdateRunStatus(ctx context.Context, runID uuid.UUID, status RunStatus, errMsg string) error
	MarkRunFailed(ctx context.Context, in RunInput, errMsg string) error
}

// Tx is a transaction handle. All writes go through one.
type Tx interface {
	Reader
	RecordWriter
	LedgerWriter
}

// Store is a durable store. Reads may run outside a transaction; writes only inside InTx,
// which commits when fn returns nil and rolls back otherwise.
type Store interface {
	Reader
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close()
}

// CheckRowsetInput validates the closed enumerations of a rowset.
func CheckRowsetInput(in RowsetInput) error {
	switch in.Stage {
	case StageOriginal, StageManual, StageNormalized:
	default:
		return &ConstraintViolation{Field: "stage", Value: string(in.Stage)}
	}
	if !schemas.Known(in.SchemaVersion) {
		return &ConstraintViolation{Field: "schema_version", Value: in.SchemaVersion}
	}
	switch in.StorageLocation {
	case StorageInline, StorageExternal:
	default:
		return &ConstraintViolation{Field: "storage_location", Value: string(in.StorageLocation)}
	}
	return nil
}

// CheckField validates that field is a top-level column of the schema version.
func CheckField(schemaVersion, field string) error {
	if !schemas.HasColumn(schemaVersion, field) {
		return &ConstraintViolation{Field: "field", Value: field}
	}
	return nil
}

// CheckRowStatus validates a row status.
func CheckRowStatus(s RowStatus) error {
	switch s {
	case RowOK, RowPending, RowRejected:
		return nil
	}
	return &ConstraintViolation{Field: "status", Value: string(s)}
}

// CheckRunInput enforces that an ingestion is never anonymous.
func CheckRunInput(in RunInput) error {
	switch {
	case in.OperationID == "":
		return &ConstraintViolation{Field: "operation_id", Value: ""}
	case in.CorrelationID == "":
		return &ConstraintViolation{Field: "correlation_id", Value: ""}
	case in.SourceSystem == "":
		return &ConstraintViolation{Field: "source_system", Value: ""}
	}
	return nil
}
