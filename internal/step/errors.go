package step

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/row"
)

var (
	// ErrTooManyErrors is returned once the rejected rows exceed the limits
	// of the step's error handling.
	ErrTooManyErrors = errors.New("too many rejected rows")
	// ErrNoErrorHandling is returned by PutError on steps without an error sink.
	ErrNoErrorHandling = errors.New("error handling is not configured")
)

// ErrorDescriptor describes why a row was rejected. Code is an opaque,
// step-defined identifier such as "WebServiceAvailable001".
type ErrorDescriptor struct {
	NrErrors    int64
	Description string
	Fields      string
	Code        string
}

// RowError is a row-level failure. Returned from ProcessRow it is routed to
// the error sink when one is configured; Row defaults to the last row read.
type RowError struct {
	Meta  *row.Meta
	Row   row.Row
	Field string
	Code  string
	Err   error
}

func (e *RowError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("field %q: %v", e.Field, e.Err)
	}
	return e.Err.Error()
}

func (e *RowError) Unwrap() error { return e.Err }

// NewRowError builds a RowError for the current row.
func NewRowError(code, field string, err error) *RowError {
	return &RowError{Code: code, Field: field, Err: err}
}

// fatalError marks an error that must never be routed to the error sink.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal wraps err so the worker fails the copy even when error handling is
// enabled.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// routable reports whether err may be sent to the error sink instead of
// failing the copy.
func routable(err error) bool {
	var fe *fatalError
	switch {
	case errors.As(err, &fe),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrTooManyErrors),
		errors.Is(err, ErrNoErrorHandling),
		errors.Is(err, row.ErrMetaMismatch):
		return false
	}
	return true
}

// errorFields returns the value metas appended to error rows, in the order
// nr-errors, descriptions, fields, codes; unset bindings are skipped.
func errorFields(eh *config.ErrorHandling) []row.ValueMeta {
	var fields []row.ValueMeta
	if eh.NrErrorsField != "" {
		fields = append(fields, row.ValueMeta{Name: eh.NrErrorsField, Type: row.TypeInteger})
	}
	if eh.DescriptionsField != "" {
		fields = append(fields, row.ValueMeta{Name: eh.DescriptionsField, Type: row.TypeString})
	}
	if eh.FieldsField != "" {
		fields = append(fields, row.ValueMeta{Name: eh.FieldsField, Type: row.TypeString})
	}
	if eh.CodesField != "" {
		fields = append(fields, row.ValueMeta{Name: eh.CodesField, Type: row.TypeString})
	}
	return fields
}

// errorValues returns the values matching errorFields.
func errorValues(eh *config.ErrorHandling, d ErrorDescriptor) []any {
	var values []any
	if eh.NrErrorsField != "" {
		values = append(values, d.NrErrors)
	}
	if eh.DescriptionsField != "" {
		values = append(values, d.Description)
	}
	if eh.FieldsField != "" {
		values = append(values, d.Fields)
	}
	if eh.CodesField != "" {
		values = append(values, d.Code)
	}
	return values
}
