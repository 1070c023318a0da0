package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnown(t *testing.T) {
	assert.True(t, Known(CurrentVersion))
	assert.True(t, Known("CRMRow.v1"))
	assert.False(t, Known("CRMRow.v0"))
	assert.False(t, Known(""))
}

func TestHasColumn(t *testing.T) {
	for _, c := range []string{"email", "first_name", "last_name", "company_name"} {
		assert.True(t, HasColumn(CurrentVersion, c), c)
	}
	assert.False(t, HasColumn(CurrentVersion, "phone"))
	assert.False(t, HasColumn(CurrentVersion, ""))
	assert.False(t, HasColumn("CRMRow.v0", "email"))
}

func TestValidateDocument_Valid(t *testing.T) {
	doc := map[string]any{
		"email":      "a@b.com",
		"first_name": "A",
		"last_name":  "B",
	}
	assert.NoError(t, ValidateDocument(CurrentVersion, doc))
}

func TestValidateDocument_MissingEmail(t *testing.T) {
	err := ValidateDocument(CurrentVersion, map[string]any{"first_name": "A"})
	require.Error(t, err)

	validationErr, ok := err.(*ValidationError)
	require.True(t, ok, "error should be ValidationError type")
	require.NotEmpty(t, validationErr.Errors)
	assert.Contains(t, validationErr.Error(), "email")
}

func TestValidateDocument_NullOptionalFields(t *testing.T) {
	err := ValidateDocument(CurrentVersion, map[string]any{
		"email":        "a@b.com",
		"first_name":   nil,
		"last_name":    nil,
		"company_name": nil,
	})
	assert.NoError(t, err)

	err = ValidateDocument(CurrentVersion, map[string]any{"email": nil})
	assert.Error(t, err)
}

func TestValidateDocument_BadEmailFormat(t *testing.T) {
	err := ValidateDocument(CurrentVersion, map[string]any{"email": "not-an-email"})
	require.Error(t, err)
	_, ok := err.(*ValidationError)
	assert.True(t, ok)
}

func TestValidateDocument_UnknownColumn(t *testing.T) {
	err := ValidateDocument(CurrentVersion, map[string]any{"email": "a@b.com", "phone": "555"})
	require.Error(t, err)
	_, ok := err.(*ValidationError)
	assert.True(t, ok)
}

func TestValidateDocument_UnknownVersion(t *testing.T) {
	err := ValidateDocument("Nope.v9", map[string]any{"email": "a@b.com"})
	require.Error(t, err)

	loadErr, ok := err.(*SchemaLoadError)
	require.True(t, ok, "error should be SchemaLoadError type")
	assert.Contains(t, loadErr.Error(), "unknown schema version")
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Errors: []FieldError{
			{Field: "email", Message: "is required"},
			{Field: "first_name", Message: "must be a string"},
		},
	}

	errorMsg := err.Error()
	assert.Contains(t, errorMsg, "validation failed")
	assert.Contains(t, errorMsg, "email")
	assert.Contains(t, errorMsg, "first_name")
}
