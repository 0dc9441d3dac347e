// Package outcome defines the failure taxonomy shared by the schema mapper,
// the repository contract and its adapters, and the HTTP error mapper.
//
// A nil error is a success. Any non-nil error returned by a repository is
// classified by KindOf into exactly one Kind.
package outcome

import (
	"errors"
	"fmt"
	"strings"
)

// Kind enumerates the non-success outcomes of a repository operation.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindValidation
	KindRetryable
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation_failed"
	case KindRetryable:
		return "unavailable"
	case KindFatal:
		return "internal"
	default:
		return "unknown"
	}
}

// Sentinels usable with errors.Is.
var (
	ErrNotFound   = errors.New("entity not found")
	ErrConflict   = errors.New("entity already exists")
	ErrValidation = errors.New("validation failed")
	ErrAdapter    = errors.New("adapter failure")
)

// NotFoundError reports that no entity with ID exists.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("entity with id %q: %s", e.ID, ErrNotFound)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound returns a NotFoundError for id.
func NotFound(id string) error {
	return &NotFoundError{ID: id}
}

// ConflictError reports an identity collision.
type ConflictError struct {
	ID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("entity with id %q: %s", e.ID, ErrConflict)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Conflict returns a ConflictError for id.
func Conflict(id string) error {
	return &ConflictError{ID: id}
}

// FieldError is a single offending field in a ValidationError.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every offending field of a rejected input.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid returns a ValidationError with a single field.
func Invalid(field, message string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// Collector accumulates field errors so validation can report all of them at once.
type Collector struct {
	fields []FieldError
}

// Add records a field error.
func (c *Collector) Add(field, message string) {
	c.fields = append(c.fields, FieldError{Field: field, Message: message})
}

// Merge appends the fields of a ValidationError, prefixing each field path.
// Errors of any other kind are recorded against prefix itself.
func (c *Collector) Merge(prefix string, err error) {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		c.Add(prefix, err.Error())
		return
	}
	for _, f := range ve.Fields {
		name := f.Field
		if prefix != "" {
			name = prefix + "." + f.Field
		}
		c.fields = append(c.fields, FieldError{Field: name, Message: f.Message})
	}
}

// Len returns the number of recorded errors.
func (c *Collector) Len() int { return len(c.fields) }

// Err returns nil when nothing was recorded, otherwise a *ValidationError.
func (c *Collector) Err() error {
	if len(c.fields) == 0 {
		return nil
	}
	out := make([]FieldError, len(c.fields))
	copy(out, c.fields)
	return &ValidationError{Fields: out}
}

// AdapterError wraps a backend failure. Retryable failures are transient
// (timeouts, lost connections, open circuit); everything else is fatal.
type AdapterError struct {
	Retryable bool
	Err       error
}

func (e *AdapterError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("%s (retryable): %v", ErrAdapter, e.Err)
	}
	return fmt.Sprintf("%s: %v", ErrAdapter, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

func (e *AdapterError) Is(target error) bool { return target == ErrAdapter }

// Retryable wraps err as a transient adapter failure.
func Retryable(err error) error {
	return &AdapterError{Retryable: true, Err: err}
}

// Fatal wraps err as a non-transient adapter failure.
func Fatal(err error) error {
	return &AdapterError{Err: err}
}

// KindOf classifies err. Errors outside the taxonomy are treated as fatal
// because an adapter failed to translate them.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var (
		nf *NotFoundError
		cf *ConflictError
		ve *ValidationError
		ae *AdapterError
	)
	switch {
	case errors.As(err, &nf):
		return KindNotFound
	case errors.As(err, &cf):
		return KindConflict
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ae):
		if ae.Retryable {
			return KindRetryable
		}
		return KindFatal
	default:
		return KindFatal
	}
}

// IDOf returns the entity id carried by a NotFound or Conflict error.
func IDOf(err error) (string, bool) {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return nf.ID, true
	}
	var cf *ConflictError
	if errors.As(err, &cf) {
		return cf.ID, true
	}
	return "", false
}

// FieldsOf returns the field errors of a ValidationError.
func FieldsOf(err error) []FieldError {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return nil
}
