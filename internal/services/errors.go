// Package services implements the message core: the persistent message
// store, the processing pipeline and the history/retention manager.
// This file centralizes service-level error values and the typed
// OperationResult that every store operation maps to.
//
// Store methods return a *StoreError carrying an OperationResult; callers
// that only need the category use ResultOf(err). Translation into HTTP
// status codes is done by the handler layer.
package services

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-store/internal/repo"
)

// Store errors.
var (
	// ErrNotFound indicates that the requested message does not exist.
	ErrNotFound = errors.New("message not found")

	// ErrAlreadyExists is returned when storing a message whose id is taken.
	ErrAlreadyExists = errors.New("message already exists")

	// ErrStorageFull is returned when the configured size limit is reached or
	// the disk is full.
	ErrStorageFull = errors.New("storage full")

	// ErrPermissionDenied is returned when the database file is not writable.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotReady is returned when the store is closed or being restored.
	ErrNotReady = errors.New("store not ready")

	// ErrInvalidMessage wraps domain validation failures.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrInvalidTransition is returned when an update would move a message
	// out of an absorbing status (e.g. Deleted back to Pending).
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrIntegrity is returned when the integrity check reports problems.
	ErrIntegrity = errors.New("integrity check failed")
)

// Pipeline and history errors.
var (
	// ErrNotInitialized is returned by pipeline operations before Initialize.
	ErrNotInitialized = errors.New("pipeline not initialized")

	// ErrUnsupportedFormat is returned for unknown export/import formats.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrHistoryDisabled is returned when history management is switched off.
	ErrHistoryDisabled = errors.New("history disabled")

	// ErrInvalidQuery is returned for malformed search patterns.
	ErrInvalidQuery = errors.New("invalid search query")
)

// OperationResult categorizes the outcome of a store operation.
type OperationResult int

const (
	Success OperationResult = iota
	Failed
	NotFound
	AlreadyExists
	PermissionDenied
	StorageFull
)

var operationResultNames = [...]string{
	"success", "failed", "not_found", "already_exists", "permission_denied", "storage_full",
}

func (r OperationResult) String() string {
	if r >= 0 && int(r) < len(operationResultNames) {
		return operationResultNames[r]
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// StoreError is the error returned by MessageStore operations.
type StoreError struct {
	Op     string
	Result OperationResult
	Err    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %s: %v", e.Op, e.Result, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ResultOf maps err to an OperationResult; nil is Success.
func ResultOf(err error) OperationResult {
	if err == nil {
		return Success
	}
	var se *StoreError
	if errors.As(err, &se) {
		return se.Result
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return NotFound
	case errors.Is(err, ErrAlreadyExists):
		return AlreadyExists
	case errors.Is(err, ErrPermissionDenied):
		return PermissionDenied
	case errors.Is(err, ErrStorageFull):
		return StorageFull
	}
	return Failed
}

// storeErr wraps err for op, classifying raw driver errors.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	switch {
	case errors.Is(err, ErrNotFound), isNotFound(err):
		return &StoreError{Op: op, Result: NotFound, Err: fmt.Errorf("%w: %v", ErrNotFound, err)}
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, gorm.ErrDuplicatedKey), isDuplicate(err):
		return &StoreError{Op: op, Result: AlreadyExists, Err: fmt.Errorf("%w: %v", ErrAlreadyExists, err)}
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, os.ErrPermission), isReadOnly(err):
		return &StoreError{Op: op, Result: PermissionDenied, Err: fmt.Errorf("%w: %v", ErrPermissionDenied, err)}
	case errors.Is(err, ErrStorageFull), isDiskFull(err):
		return &StoreError{Op: op, Result: StorageFull, Err: fmt.Errorf("%w: %v", ErrStorageFull, err)}
	}
	return &StoreError{Op: op, Result: Failed, Err: err}
}

// isNotFound treats repo-level not found sentinels as "not found".
func isNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}

// isDuplicate detects unique-constraint violations that the driver does not
// map to gorm.ErrDuplicatedKey. SQLite reports "UNIQUE constraint failed".
func isDuplicate(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}

func isReadOnly(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "readonly database") ||
		strings.Contains(msg, "permission denied")
}

func isDiskFull(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database or disk is full") ||
		strings.Contains(msg, "no space left on device")
}
