package validation

import (
	"fmt"

	"github.com/bcnelson/membership-manager/internal/domain"
)

// FieldError is a rejected request field. The submitted value is not echoed
// back.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every rejected field of one request.
type ValidationErrors []*FieldError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return ""
	case 1:
		return e[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", e[0].Error(), len(e)-1)
}

// Add records a rejected field.
func (e *ValidationErrors) Add(field, message string) {
	*e = append(*e, &FieldError{Field: field, Message: message})
}

func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// StandardError renders the collection as a VALIDATION_ERROR body. Field
// names the first rejected field; details list all of them.
func (e ValidationErrors) StandardError() domain.StandardError {
	se := domain.StandardError{
		Code:    domain.ErrCodeValidationError,
		Message: e.Error(),
	}
	if len(e) > 0 {
		se.Field = e[0].Field
		se.Details = map[string]any{"errors": []*FieldError(e)}
	}
	return se
}
