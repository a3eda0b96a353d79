package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// FieldError describes a single validation failure at a path within the value.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (fe FieldError) Error() string {
	return fmt.Sprintf("%s: %s", fe.Path, fe.Message)
}

// Result holds the outcome of validating a value against a compiled schema.
type Result struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors,omitempty"`
}

// ValidationError wraps a failed validation result as an error. It is never
// retried; callers surface it immediately.
type ValidationError struct {
	Subject string
	Errors  []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("%s validation failed", e.Subject)
	}
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Error()
	}
	return fmt.Sprintf("%s validation failed: %s", e.Subject, strings.Join(msgs, "; "))
}

// Validator validates values against a schema compiled once at construction.
// Validation itself has no side effects and is safe for concurrent use.
type Validator struct {
	schema *gojsonschema.Schema
}

// Compile compiles a schema document. The document may be raw JSON bytes or
// any value that marshals to a JSON schema (e.g. map[string]interface{}).
func Compile(document interface{}) (*Validator, error) {
	var loader gojsonschema.JSONLoader

	switch doc := document.(type) {
	case nil:
		return nil, fmt.Errorf("schema document cannot be nil")
	case []byte:
		loader = gojsonschema.NewBytesLoader(doc)
	case json.RawMessage:
		loader = gojsonschema.NewBytesLoader(doc)
	case string:
		loader = gojsonschema.NewStringLoader(doc)
	default:
		loader = gojsonschema.NewGoLoader(doc)
	}

	compiled, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: compiled}, nil
}

// Validate checks a value against the compiled schema and returns an ordered
// list of field errors on failure. The same value always produces the same
// result.
func (v *Validator) Validate(value interface{}) (*Result, error) {
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(value))
	if err != nil {
		return nil, fmt.Errorf("schema validation error: %w", err)
	}

	if result.Valid() {
		return &Result{Valid: true}, nil
	}

	fieldErrors := make([]FieldError, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		fieldErrors = append(fieldErrors, FieldError{
			Path:    desc.Field(),
			Message: desc.Description(),
		})
	}

	return &Result{Valid: false, Errors: fieldErrors}, nil
}

// MustValidate validates a value and converts a failed result into a
// ValidationError identifying the subject (e.g. "input", "output").
func (v *Validator) MustValidate(subject string, value interface{}) error {
	result, err := v.Validate(value)
	if err != nil {
		return err
	}
	if !result.Valid {
		return &ValidationError{Subject: subject, Errors: result.Errors}
	}
	return nil
}
