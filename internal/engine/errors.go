package engine

import (
	"errors"
	"fmt"
)

// Local write errors.
var (
	// ErrRowExists is returned when inserting over a live row.
	ErrRowExists = errors.New("row already exists")

	// ErrRowNotFound is returned when updating or deleting a row that is
	// unknown or tombstoned.
	ErrRowNotFound = errors.New("row not found")

	// ErrVersionExhausted is returned when the replica's db_version has
	// reached the int64 limit.
	ErrVersionExhausted = errors.New("db_version exhausted")
)

// MergeError represents a failure while applying a batch of change records.
//
// Merge errors fall in two classes:
//   - Integrity: a record is malformed or names an unknown table/column.
//     The whole batch is refused before any storage access.
//   - Storage: the row store failed mid-batch. The batch transaction is
//     rolled back, leaving every row's clocks as before.
//
// Records rejected by the merge rule (stale causal length, losing
// tie-break) are outcomes, not errors.
type MergeError struct {
	// Code identifies the error category.
	Code MergeErrorCode

	// Message is a human-readable description.
	Message string

	// Table and CID identify the offending record, if any.
	Table string
	CID   string

	// Index is the offending record's position in the batch, or -1.
	Index int

	// Err is the underlying cause.
	Err error
}

// MergeErrorCode categorizes merge errors.
type MergeErrorCode string

const (
	// ErrCodeUnknownTable indicates a record names a table not in the schema.
	ErrCodeUnknownTable MergeErrorCode = "UNKNOWN_TABLE"

	// ErrCodeUnknownColumn indicates a record names a column not in its table.
	ErrCodeUnknownColumn MergeErrorCode = "UNKNOWN_COLUMN"

	// ErrCodeMalformedRecord indicates a record violates the record format.
	ErrCodeMalformedRecord MergeErrorCode = "MALFORMED_RECORD"

	// ErrCodeStorage indicates the row store failed.
	ErrCodeStorage MergeErrorCode = "STORAGE"
)

// Error implements the error interface.
func (e *MergeError) Error() string {
	if e.Index >= 0 && e.CID != "" {
		return fmt.Sprintf("%s: %s (record=%d, table=%s, cid=%s)", e.Code, e.Message, e.Index, e.Table, e.CID)
	}
	if e.Index >= 0 {
		return fmt.Sprintf("%s: %s (record=%d)", e.Code, e.Message, e.Index)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *MergeError) Unwrap() error {
	return e.Err
}

// IsIntegrityError returns true if the error is a malformed-record or
// unknown table/column error. Uses errors.As to handle wrapped errors.
func IsIntegrityError(err error) bool {
	var me *MergeError
	if errors.As(err, &me) {
		switch me.Code {
		case ErrCodeUnknownTable, ErrCodeUnknownColumn, ErrCodeMalformedRecord:
			return true
		}
	}
	return false
}

// IsStorageError returns true if the error is a row store failure.
// Uses errors.As to handle wrapped errors.
func IsStorageError(err error) bool {
	var me *MergeError
	if errors.As(err, &me) {
		return me.Code == ErrCodeStorage
	}
	return false
}

// NewStorageError wraps a row store failure.
func NewStorageError(err error) *MergeError {
	return &MergeError{
		Code:    ErrCodeStorage,
		Message: err.Error(),
		Index:   -1,
		Err:     err,
	}
}
