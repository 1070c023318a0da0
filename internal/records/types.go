// Package records defines the generic versioned record model (rows grouped into rowsets)
// and the intake audit trail (runs and artifacts) shared by every store implementation.
package records

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of an intake run.
type RunStatus string

// Run statuses. COMMITTED and FAILED are terminal.
const (
	RunReceived  RunStatus = "RECEIVED"
	RunCommitted RunStatus = "COMMITTED"
	RunFailed    RunStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s RunStatus) Terminal() bool {
	return s == RunCommitted || s == RunFailed
}

// CanTransition reports whether a run may move from s to next.
func (s RunStatus) CanTransition(next RunStatus) bool {
	return s == RunReceived && next.Terminal()
}

// ArtifactStatus is the processing state of a raw artifact.
type ArtifactStatus string

// Artifact statuses
const (
	ArtifactReceived  ArtifactStatus = "RECEIVED"
	ArtifactProcessed ArtifactStatus = "PROCESSED"
)

// Stage marks where a rowset sits in a transformation pipeline.
type Stage string

// Stage constants
const (
	StageOriginal   Stage = "ORIGINAL"
	StageManual     Stage = "MANUAL"
	StageNormalized Stage = "NORMALIZED"
)

// StorageLocation says where the row data of a rowset physically lives.
type StorageLocation string

// StorageLocation constants
const (
	StorageInline   StorageLocation = "INLINE"
	StorageExternal StorageLocation = "EXTERNAL"
)

// RowStatus is the closed set of row states.
type RowStatus string

// RowStatus constants
const (
	RowOK       RowStatus = "OK"
	RowPending  RowStatus = "PENDING"
	RowRejected RowStatus = "REJECTED"
)

// IntakeRun is one ingestion attempt.
type IntakeRun struct {
	ID            uuid.UUID  `json:"id"`
	OperationID   string     `json:"operation_id"`
	CorrelationID string     `json:"correlation_id"`
	SourceSystem  string     `json:"source_system"`
	Status        RunStatus  `json:"status"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// RunInput holds the attributes needed to open a run
type RunInput struct {
	ID            uuid.UUID
	OperationID   string
	CorrelationID string
	SourceSystem  string
}

// IntakeArtifact is the raw payload of a run as received.
type IntakeArtifact struct {
	ID          uuid.UUID       `json:"id"`
	RunID       uuid.UUID       `json:"run_id"`
	Payload     json.RawMessage `json:"payload"`
	ContentType string          `json:"content_type"`
	Status      ArtifactStatus  `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Rowset is a versioned batch of rows sharing one schema.
type Rowset struct {
	ID              uuid.UUID       `json:"id"`
	RunID           *uuid.UUID      `json:"run_id,omitempty"`
	ArtifactID      *uuid.UUID      `json:"artifact_id,omitempty"`
	Stage           Stage           `json:"stage"`
	SchemaVersion   string          `json:"schema_version"`
	StorageLocation StorageLocation `json:"storage_location"`
	RowCount        int             `json:"row_count"`
	CreatedAt       time.Time       `json:"created_at"`
}

// RowsetInput holds the attributes of a new rowset. RunID and ArtifactID are nil for
// manual rowsets, which are not tied to the ledger.
type RowsetInput struct {
	RunID           *uuid.UUID
	ArtifactID      *uuid.UUID
	Stage           Stage
	SchemaVersion   string
	StorageLocation StorageLocation
}

// Row is one logical record within a rowset.
type Row struct {
	ID            uuid.UUID `json:"id"`
	RowsetID      uuid.UUID `json:"rowset_id"`
	PositionIndex int       `json:"position_index"`
	Status        RowStatus `json:"status"`
	Content       Document  `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
}

// Page bounds a listing.
type Page struct {
	Limit  int
	Offset int
}

// Pagination bounds
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Clamp returns the page with Limit forced into [1, MaxLimit] and a non-negative Offset.
func (p Page) Clamp() Page {
	if p.Limit < 1 {
		p.Limit = 1
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
