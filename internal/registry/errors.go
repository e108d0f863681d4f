package registry

import (
	"errors"
	"fmt"
)

// NotFoundError reports an unknown record id or an unknown operation or
// capability name. It is a client-facing error with a clear message.
type NotFoundError struct {
	Kind string // "service", "bridge", "agent", "operation", "tool"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// ConflictError reports a rejected mutation, such as deleting a service that
// still has dependent bridges.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string {
	return e.Msg
}

// DiscoveryError reports that no OpenAPI spec could be found at a base URL.
// It is expected absence, not a failure: callers report it as an empty
// result.
type DiscoveryError struct {
	BaseURL string
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("no OpenAPI server found at %s", e.BaseURL)
}

// ProcessSpawnError reports a child process that failed to launch or to
// complete its startup handshake.
type ProcessSpawnError struct {
	ID  string
	Err error
}

func (e *ProcessSpawnError) Error() string {
	return fmt.Sprintf("failed to start process for %s: %v", e.ID, e.Err)
}

func (e *ProcessSpawnError) Unwrap() error { return e.Err }

// TransportError reports a network-level failure, distinct from an HTTP
// error status returned by a downstream service.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PersistenceError reports an unreadable or corrupt snapshot file. Loading
// downgrades it to a logged skip; it is never fatal to startup.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("snapshot %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IsDiscoveryError reports whether err is a DiscoveryError.
func IsDiscoveryError(err error) bool {
	var d *DiscoveryError
	return errors.As(err, &d)
}
