package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/storm-crm/internal/intake"
	"github.com/jonathan/storm-crm/internal/records"
	"github.com/jonathan/storm-crm/internal/schemas"
	"github.com/jonathan/storm-crm/internal/types"
)

func TestErrValidation(t *testing.T) {
	err := &ErrValidation{Field: "body", Message: "empty"}
	assert.Equal(t, "validation error: body - empty", err.Error())
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
}

func TestHTTPStatus(t *testing.T) {
	runID := uuid.New()
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "nil", err: nil, expected: http.StatusOK},
		{name: "not found", err: records.NotFoundError("row", uuid.New()), expected: http.StatusNotFound},
		{name: "wrapped not found", err: fmt.Errorf("failed: %w", records.ErrNotFound), expected: http.StatusNotFound},
		{name: "schema validation", err: &schemas.ValidationError{Errors: []schemas.FieldError{{Field: "email"}}}, expected: http.StatusBadRequest},
		{name: "constraint violation", err: &records.ConstraintViolation{Field: "stage", Value: "X"}, expected: http.StatusInternalServerError},
		{name: "pipeline", err: &intake.PipelineError{RunID: runID, Cause: errors.New("disk full")}, expected: http.StatusInternalServerError},
		{name: "pipeline wrapping not found", err: &intake.PipelineError{RunID: runID, Cause: records.ErrNotFound}, expected: http.StatusInternalServerError},
		{name: "duplicate", err: &intake.PipelineError{RunID: runID, Cause: &intake.DuplicateError{RowID: uuid.New()}}, expected: http.StatusConflict},
		{name: "unknown", err: errors.New("boom"), expected: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatus(tt.err))
		})
	}
}

func TestHTTPStatus_StructValidation(t *testing.T) {
	c := types.ContactCreate{Email: "nope"}
	err := c.Validate()
	require.Error(t, err)

	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
	details := validationDetails(err)
	require.Len(t, details, 1)
	assert.Equal(t, "Email", details[0].Field)
	assert.Contains(t, details[0].Message, "email")
}
