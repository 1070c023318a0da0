// Package schemas provides the registry of content schema versions and JSON Schema
// validation of content documents.
package schemas

import (
	"fmt"
	"strings"
	"sync"

	schemafiles "github.com/jonathan/storm-crm/schemas"
	"github.com/xeipuuv/gojsonschema"
)

// CurrentVersion is the schema version new rows are written with.
const CurrentVersion = "CRMRow.v1"

// Version describes one content schema version.
type Version struct {
	Tag     string   // e.g. "CRMRow.v1"
	File    string   // schema file name in the embedded FS
	Columns []string // top-level fields a row of this version may carry
}

var versions = map[string]Version{
	"CRMRow.v1": {
		Tag:     "CRMRow.v1",
		File:    "crm_row.v1.schema.json",
		Columns: []string{"email", "first_name", "last_name", "company_name"},
	},
}

// Known reports whether tag names a registered schema version.
func Known(tag string) bool {
	_, ok := versions[tag]
	return ok
}

// HasColumn reports whether rows of version tag may carry the top-level field.
func HasColumn(tag, field string) bool {
	for _, c := range versions[tag].Columns {
		if c == field {
			return true
		}
	}
	return false
}

// ValidationError represents a schema validation error with field paths
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

// FieldError represents a single validation error at a specific field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// SchemaLoadError represents errors loading or parsing the schema itself
type SchemaLoadError struct {
	Path    string
	Message string
	Cause   error
}

func (e *SchemaLoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to load schema %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("failed to load schema %s: %s", e.Path, e.Message)
}

func (e *SchemaLoadError) Unwrap() error {
	return e.Cause
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("validation failed:")
	for i, err := range ve.Errors {
		sb.WriteString(fmt.Sprintf(" %d. %s: %s;", i+1, err.Field, err.Message))
	}
	return strings.TrimSuffix(sb.String(), ";")
}

var (
	compiledMu sync.Mutex
	compiled   = map[string]*gojsonschema.Schema{}
)

// schemaFor compiles and caches the JSON Schema of a registered version.
func schemaFor(tag string) (*gojsonschema.Schema, error) {
	v, ok := versions[tag]
	if !ok {
		return nil, &SchemaLoadError{Path: tag, Message: "unknown schema version"}
	}

	compiledMu.Lock()
	defer compiledMu.Unlock()
	if s, ok := compiled[tag]; ok {
		return s, nil
	}

	data, err := schemafiles.FS.ReadFile(v.File)
	if err != nil {
		return nil, &SchemaLoadError{Path: v.File, Message: "schema file not found", Cause: err}
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, &SchemaLoadError{Path: v.File, Message: "invalid schema", Cause: err}
	}
	compiled[tag] = s
	return s, nil
}

// ValidateDocument validates a content document (any JSON-marshalable value) against the
// JSON Schema of the given version.
func ValidateDocument(tag string, doc any) error {
	schema, err := schemaFor(tag)
	if err != nil {
		return err
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("failed to validate document: %w", err)
	}
	return toValidationError(result)
}

func toValidationError(result *gojsonschema.Result) error {
	if result.Valid() {
		return nil
	}

	validationErr := &ValidationError{
		Errors: make([]FieldError, 0, len(result.Errors())),
	}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		validationErr.Errors = append(validationErr.Errors, FieldError{
			Field:   field,
			Message: desc.Description(),
		})
	}
	return validationErr
}
