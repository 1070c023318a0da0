package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/storm-crm/internal/intake"
	"github.com/jonathan/storm-crm/internal/records"
	"github.com/jonathan/storm-crm/internal/schemas"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error. A pipeline failure is
// a server error whatever its cause, except a duplicate contact.
func HTTPStatus(err error) int {
	var (
		dup        *intake.DuplicateError
		pipeline   *intake.PipelineError
		schemaErr  *schemas.ValidationError
		fieldErr   *ErrValidation
		validation validator.ValidationErrors
		constraint *records.ConstraintViolation
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &dup):
		return http.StatusConflict
	case errors.As(err, &pipeline):
		return http.StatusInternalServerError
	case errors.As(err, &schemaErr), errors.As(err, &fieldErr), errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, records.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &constraint):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// validationDetails flattens the validation errors of either validator into field/message
// pairs for the response body.
func validationDetails(err error) []schemas.FieldError {
	var schemaErr *schemas.ValidationError
	if errors.As(err, &schemaErr) {
		return schemaErr.Errors
	}
	var fieldErr *ErrValidation
	if errors.As(err, &fieldErr) {
		return []schemas.FieldError{{Field: fieldErr.Field, Message: fieldErr.Message}}
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := make([]schemas.FieldError, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, schemas.FieldError{
				Field:   fe.Field(),
				Message: fmt.Sprintf("failed on the '%s' rule", fe.Tag()),
			})
		}
		return out
	}
	return nil
}
