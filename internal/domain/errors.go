package domain

import "fmt"

// Error is the base of every error the domain store returns.
type Error struct{ Message string }

func (e *Error) Error() string { return e.Message }

// PermissionError signals an access-control violation (wrong owner).
type PermissionError struct{ Message string }

func (e *PermissionError) Error() string { return e.Message }

// GenerationError signals a publish with a generation older than the
// service's current one.
type GenerationError struct{ Message string }

func (e *GenerationError) Error() string { return e.Message }

// SameGenerationButDifferentError signals a republish at the same
// generation whose properties or TTL differ from the stored ones.
type SameGenerationButDifferentError struct{ Message string }

func (e *SameGenerationButDifferentError) Error() string { return e.Message }

// NotFoundError signals a reference to an object id the domain does not
// know about.
type NotFoundError struct {
	ObjType string
	ID      int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s id %d not found", e.ObjType, e.ID)
}

// AlreadyExistsError signals an attempt to create an object under an id
// already in use.
type AlreadyExistsError struct {
	ObjType string
	ID      int64
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s id %d already exists", e.ObjType, e.ID)
}

// UserIDChangedError signals a reconnect under the same client id but a
// different user id.
type UserIDChangedError struct {
	ClientID           int64
	NewUserID, OldUserID string
}

func (e *UserIDChangedError) Error() string {
	return fmt.Sprintf("attempt to change client id %d user id from %q to %q",
		e.ClientID, e.OldUserID, e.NewUserID)
}

// ResourceError signals a per-user or total resource ceiling was hit.
type ResourceError struct{ Message string }

func (e *ResourceError) Error() string { return e.Message }
