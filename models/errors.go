package models

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures across the engine. The MCP layer maps kinds
// onto stable JSON-RPC error codes.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindNotFound    ErrorKind = "not_found"
	KindConflict    ErrorKind = "conflict"
	KindDuplicate   ErrorKind = "duplicate"
	KindFilterParse ErrorKind = "filter_parse"
	KindStorage     ErrorKind = "storage"
	KindBlobScan    ErrorKind = "blob_scan"
	KindTimeout     ErrorKind = "timeout"
	KindDependency  ErrorKind = "dependency"
)

// ValidationError reports a record or request that violates the schema.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
	Hint   string `json:"hint,omitempty"`
}

func (e *ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("validation failed on %s: %s (%s)", e.Field, e.Reason, e.Hint)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a missing dataset, record, or tool.
type NotFoundError struct {
	Resource string `json:"resource"` // "record", "dataset", "collection", "tool", "task"
	ID       string `json:"id"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NewNotFound builds a NotFoundError for the given resource kind and id.
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// DuplicateError reports a strict add that collided with an existing uuid.
type DuplicateError struct {
	UUID string `json:"uuid"`
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("record already exists: %s", e.UUID)
}

// ConflictError reports a lost commit race between concurrent writers.
type ConflictError struct {
	ExpectedVersion uint64 `json:"expected_version"`
	ActualVersion   uint64 `json:"actual_version"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: expected %d, dataset is at %d", e.ExpectedVersion, e.ActualVersion)
}

// DimensionError reports a vector whose length does not match the dataset.
type DimensionError struct {
	Want int `json:"want"`
	Got  int `json:"got"`
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: dataset is %d-dimensional, got %d", e.Want, e.Got)
}

// FilterParseError reports an ill-formed filter expression. Pos is the
// byte offset of the offending token within the expression.
type FilterParseError struct {
	Pos    int    `json:"pos"`
	Token  string `json:"token,omitempty"`
	Reason string `json:"reason"`
}

func (e *FilterParseError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("filter parse error at %d near %q: %s", e.Pos, e.Token, e.Reason)
	}
	return fmt.Sprintf("filter parse error at %d: %s", e.Pos, e.Reason)
}

// StorageError wraps a failure in the storage backend. Transient failures
// are eligible for retry with backoff; permanent ones are surfaced directly.
type StorageError struct {
	Op        string `json:"op"`
	Transient bool   `json:"transient"`
	Err       error  `json:"-"`
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// DependencyError wraps a failure inside a plugged-in capability such as
// an Embedder or ChunkSplitter.
type DependencyError struct {
	Component string `json:"component"`
	Err       error  `json:"-"`
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Component, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// ErrBlobScan guards the blob-safe projection rule: a filtered scan must
// never project a blob column. Hitting this is a programmer error.
var ErrBlobScan = errors.New("blob column projected in a filtered scan")

// KindOf classifies an error into the taxonomy above. Unknown errors are
// reported as storage failures.
func KindOf(err error) ErrorKind {
	var (
		ve  *ValidationError
		nfe *NotFoundError
		de  *DuplicateError
		ce  *ConflictError
		dme *DimensionError
		fpe *FilterParseError
		se  *StorageError
		dep *DependencyError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &dme):
		return KindValidation
	case errors.As(err, &nfe):
		return KindNotFound
	case errors.As(err, &de):
		return KindDuplicate
	case errors.As(err, &ce):
		return KindConflict
	case errors.As(err, &fpe):
		return KindFilterParse
	case errors.Is(err, ErrBlobScan):
		return KindBlobScan
	case errors.As(err, &dep):
		return KindDependency
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTimeout
	case errors.As(err, &se):
		return KindStorage
	default:
		return KindStorage
	}
}

// IsTransient reports whether an error is worth retrying with backoff.
func IsTransient(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Transient
}
