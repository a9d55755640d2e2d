package invoice

import (
	"fmt"
	"strings"
)

// Stage names the normalization step that failed
type Stage string

const (
	StageExtract  Stage = "extract"
	StageValidate Stage = "validate"
)

// MalformedPayloadError means no JSON object could be located in the payload.
type MalformedPayloadError struct {
	Reason string
	Err    error
}

func (e *MalformedPayloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed payload: %s: %v", e.Reason, e.Err)
	}
	return "malformed payload: " + e.Reason
}

func (e *MalformedPayloadError) Unwrap() error {
	return e.Err
}

// ValidationError means structured data was found but is unusable, or that
// operator metadata is incomplete.
type ValidationError struct {
	Message string
	Fields  []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Message
}

// ProcessingError is returned by Normalize for every failure. It names the
// stage and unwraps to the underlying cause.
type ProcessingError struct {
	Stage Stage
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing invoice data: %s: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

func missingFields(fields []string) *ValidationError {
	return &ValidationError{
		Message: "missing " + strings.Join(fields, ", "),
		Fields:  fields,
	}
}
