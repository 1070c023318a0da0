// Package types provides the request and response shapes of the contact API.
package types

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jonathan/storm-crm/internal/records"
	"github.com/jonathan/storm-crm/internal/schemas"
)

var validate = validator.New()

// ContactCreate is the body of a contact submission.
type ContactCreate struct {
	Email       string  `json:"email" validate:"required,email,max=320"`
	FirstName   *string `json:"first_name,omitempty" validate:"omitempty,max=200"`
	LastName    *string `json:"last_name,omitempty" validate:"omitempty,max=200"`
	CompanyName *string `json:"company_name,omitempty" validate:"omitempty,max=200"`
}

// ParseContact checks body against the current content schema and the struct rules and
// returns the contact it describes. Optional fields sent as null are treated as absent.
func ParseContact(body []byte) (*ContactCreate, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &schemas.ValidationError{Errors: []schemas.FieldError{
			{Field: "body", Message: "invalid JSON: " + err.Error()},
		}}
	}
	if err := schemas.ValidateDocument(schemas.CurrentVersion, doc); err != nil {
		return nil, err
	}

	var contact ContactCreate
	if err := json.Unmarshal(body, &contact); err != nil {
		return nil, &schemas.ValidationError{Errors: []schemas.FieldError{
			{Field: "body", Message: "invalid contact: " + err.Error()},
		}}
	}
	if err := contact.Validate(); err != nil {
		return nil, err
	}
	return &contact, nil
}

// Validate validates the ContactCreate using the validator.
func (c *ContactCreate) Validate() error {
	return validate.Struct(c)
}

// Document returns the content document stored for the contact. Absent optional fields
// are omitted rather than stored as null.
func (c *ContactCreate) Document() records.Document {
	doc := records.Document{"email": strings.TrimSpace(c.Email)}
	for key, val := range map[string]*string{
		"first_name":   c.FirstName,
		"last_name":    c.LastName,
		"company_name": c.CompanyName,
	} {
		if val != nil {
			doc[key] = strings.TrimSpace(*val)
		}
	}
	return doc
}

// IngestResponse is returned by POST /contacts.
type IngestResponse struct {
	Status     string    `json:"status"`
	RunID      uuid.UUID `json:"run_id"`
	ArtifactID uuid.UUID `json:"artifact_id"`
	RowsetID   uuid.UUID `json:"rowset_id"`
	RowID      uuid.UUID `json:"row_id"`
	Replayed   bool      `json:"replayed,omitempty"`
}

// QuickAddResponse is returned by POST /contacts/quick.
type QuickAddResponse struct {
	Status        string    `json:"status"`
	RowsetID      uuid.UUID `json:"rowset_id"`
	RowID         uuid.UUID `json:"row_id"`
	PositionIndex int       `json:"position_index"`
}

// ContactListResponse is returned by GET /contacts.
type ContactListResponse struct {
	Contacts any `json:"contacts"`
	Count    int `json:"count"`
	Limit    int `json:"limit"`
	Offset   int `json:"offset"`
}

// RunResponse is the audit view of one intake run.
type RunResponse struct {
	ID            uuid.UUID      `json:"id"`
	OperationID   string         `json:"operation_id"`
	CorrelationID string         `json:"correlation_id"`
	SourceSystem  string         `json:"source_system"`
	Status        string         `json:"status"`
	ErrorMessage  *string        `json:"error_message,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	Artifacts     []ArtifactView `json:"artifacts"`
	Rowsets       []RowsetView   `json:"rowsets"`
}

// ArtifactView describes a captured payload.
type ArtifactView struct {
	ID          uuid.UUID `json:"id"`
	ContentType string    `json:"content_type"`
	Status      string    `json:"status"`
	Payload     any       `json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
}

// RowsetView describes a rowset.
type RowsetView struct {
	ID              uuid.UUID `json:"id"`
	Stage           string    `json:"stage"`
	SchemaVersion   string    `json:"schema_version"`
	StorageLocation string    `json:"storage_location"`
	RowCount        int       `json:"row_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewRunResponse builds the audit view of a run.
func NewRunResponse(run *records.IntakeRun, artifacts []records.IntakeArtifact, rowsets []records.Rowset) *RunResponse {
	resp := &RunResponse{
		ID:            run.ID,
		OperationID:   run.OperationID,
		CorrelationID: run.CorrelationID,
		SourceSystem:  run.SourceSystem,
		Status:        string(run.Status),
		ErrorMessage:  run.ErrorMessage,
		CreatedAt:     run.CreatedAt,
		CompletedAt:   run.CompletedAt,
		Artifacts:     make([]ArtifactView, 0, len(artifacts)),
		Rowsets:       make([]RowsetView, 0, len(rowsets)),
	}
	for _, a := range artifacts {
		var payload any = string(a.Payload)
		if len(a.Payload) > 0 && (a.Payload[0] == '{' || a.Payload[0] == '[') {
			payload = a.Payload
		}
		resp.Artifacts = append(resp.Artifacts, ArtifactView{
			ID:          a.ID,
			ContentType: a.ContentType,
			Status:      string(a.Status),
			Payload:     payload,
			CreatedAt:   a.CreatedAt,
		})
	}
	for _, rs := range rowsets {
		resp.Rowsets = append(resp.Rowsets, RowsetView{
			ID:              rs.ID,
			Stage:           string(rs.Stage),
			SchemaVersion:   rs.SchemaVersion,
			StorageLocation: string(rs.StorageLocation),
			RowCount:        rs.RowCount,
			CreatedAt:       rs.CreatedAt,
		})
	}
	return resp
}
