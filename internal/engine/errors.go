package engine

import (
	"errors"
	"fmt"
)

// ErrDraining is returned by Submit once Drain has started.
var ErrDraining = errors.New("engine is draining")

// SyncError reports a failed record transition.
//
// Sync errors never escape the lane that produced them. They are logged
// and journaled; the record keeps its prior consistent state.
type SyncError struct {
	// Code identifies the error category.
	Code SyncErrorCode

	// Op is the step that failed ("send", "edit", "delete", "respond", "persist").
	Op string

	ChatID    int64
	MessageID int64

	Err error
}

// SyncErrorCode categorizes sync errors.
type SyncErrorCode string

const (
	// ErrCodePlatformAction indicates the platform rejected send, edit, or delete.
	ErrCodePlatformAction SyncErrorCode = "PLATFORM_ACTION"

	// ErrCodeCollaborator indicates a responder collaborator failed.
	ErrCodeCollaborator SyncErrorCode = "COLLABORATOR"

	// ErrCodePersistence indicates the record snapshot could not be written.
	ErrCodePersistence SyncErrorCode = "PERSISTENCE"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.MessageID != 0 {
		return fmt.Sprintf("%s: %s %d/%d: %v", e.Code, e.Op, e.ChatID, e.MessageID, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsPlatformError returns true if err is a platform action failure.
// Uses errors.As to handle wrapped errors.
func IsPlatformError(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == ErrCodePlatformAction
	}
	return false
}

// IsPersistenceFailure returns true if err is a snapshot write failure.
func IsPersistenceFailure(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == ErrCodePersistence
	}
	return false
}
