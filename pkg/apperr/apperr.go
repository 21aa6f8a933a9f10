// Package apperr defines the error categories shared by the batch and serving paths.
//
// Every error that crosses a component boundary carries a Kind so that callers can
// decide how to recover without inspecting messages:
//   - KindExtraction: the metrics source is unreachable or returned malformed output
//   - KindAlignment: a single row failed timestamp or metric parsing (recovered per row)
//   - KindModelLoad: the forecasting model could not be loaded at startup (fatal)
//   - KindPrediction: a predict call failed (recovered at the request boundary)
//   - KindValidation: a request payload did not match the record shape (client error)
//   - KindConfiguration: model and adapter disagree, e.g. missing quantile columns (fatal at startup)
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error.
type Kind string

const (
	KindExtraction    Kind = "extraction"
	KindAlignment     Kind = "alignment"
	KindModelLoad     Kind = "model_load"
	KindPrediction    Kind = "prediction"
	KindValidation    Kind = "validation"
	KindConfiguration Kind = "configuration"
)

// Error wraps an operation, a human-facing message and an underlying cause.
type Error struct {
	Kind    Kind
	Op      string
	Msg     string
	Err     error
	Details []string
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Msg)
	if len(e.Details) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Details, "; "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs an Error of the given kind.
func New(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// Extraction wraps err as an extraction failure.
func Extraction(op string, err error) *Error {
	return New(KindExtraction, op, "metrics source failed", err)
}

// Alignment reports a row that could not be parsed.
func Alignment(op, format string, args ...any) *Error {
	return New(KindAlignment, op, fmt.Sprintf(format, args...), nil)
}

// ModelLoad wraps err as a startup model loading failure.
func ModelLoad(op string, err error) *Error {
	return New(KindModelLoad, op, "model failed to load", err)
}

// Prediction wraps err as a predict failure.
func Prediction(op string, err error) *Error {
	return New(KindPrediction, op, "prediction failed", err)
}

// Validation reports a malformed request with one detail per offending field.
func Validation(op string, details ...string) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: "invalid request", Details: details}
}

// Configuration reports a model/adapter mismatch.
func Configuration(op, format string, args ...any) *Error {
	return New(KindConfiguration, op, fmt.Sprintf(format, args...), nil)
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// DetailsOf returns the validation details attached to err, if any.
func DetailsOf(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}
