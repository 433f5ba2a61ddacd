// Package apperr defines the error taxonomy used across agentsearch.
// Every error that crosses a package boundary is tagged with a Kind so
// the orchestrator and the CLI can decide whether to retry, skip, or
// abort without parsing error strings.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies an error by how the caller should react to it.
type Kind string

const (
	KindSourceParse Kind = "source_parse"
	KindSourceIO    Kind = "source_io"
	KindStoreWrite  Kind = "store_write"
	KindIndexWrite  Kind = "index_write"
	KindQuerySyntax Kind = "query_syntax"
	KindConfig      Kind = "config"
)

// Error is the structured error type returned by connectors, the store,
// the index, and the query service.
type Error struct {
	Code      string `json:"code"`
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Hint      string `json:"hint,omitempty"`
	Retryable bool   `json:"retryable"`

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// MarshalJSON emits the --robot envelope shape: {code, kind, message, hint, retryable}.
func (e *Error) MarshalJSON() ([]byte, error) {
	type envelope struct {
		Code      string `json:"code"`
		Kind      Kind   `json:"kind"`
		Message   string `json:"message"`
		Hint      string `json:"hint,omitempty"`
		Retryable bool   `json:"retryable"`
	}
	return json.Marshal(envelope{
		Code:      e.Code,
		Kind:      e.Kind,
		Message:   e.Message,
		Hint:      e.Hint,
		Retryable: e.Retryable,
	})
}

// retryableKinds are the kinds whose errors are, by policy, safe to retry
// on the next run (see spec section 7's taxonomy table).
var retryableKinds = map[Kind]bool{
	KindSourceParse: false,
	KindSourceIO:    true,
	KindStoreWrite:  true,
	KindIndexWrite:  false,
	KindQuerySyntax: false,
	KindConfig:      false,
}

// New builds an Error with the default retryability for its kind.
func New(kind Kind, code, message string) *Error {
	return &Error{Code: code, Kind: kind, Message: message, Retryable: retryableKinds[kind]}
}

// Wrap builds an Error that chains to cause via Unwrap.
func Wrap(kind Kind, code, message string, cause error) *Error {
	e := New(kind, code, message)
	e.cause = cause
	return e
}

// WithHint attaches a human-readable remediation hint and returns e for
// chaining at the call site.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// OfKind reports whether err (or anything it wraps) is an *Error of kind k.
func OfKind(err error, k Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == k
	}
	return false
}
