package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrTemplateNotFound is returned when a template ID or code does not exist
	ErrTemplateNotFound = errors.New("workflow template not found")

	// ErrTemplateNotResolvable is returned when no single template rule matches a business entity
	ErrTemplateNotResolvable = errors.New("workflow template not resolvable")

	// ErrInvalidTemplate is returned for templates that cannot drive an instance
	ErrInvalidTemplate = errors.New("invalid workflow template")

	// ErrDuplicateActiveInstance is returned when the business entity already has a pending instance
	ErrDuplicateActiveInstance = errors.New("business entity already has an active workflow")

	// ErrIllegalTransition covers every action that is not legal in the current instance state
	ErrIllegalTransition = errors.New("illegal workflow transition")

	// ErrAlreadyProcessed is returned to the loser of a race on the same process.
	// It matches ErrIllegalTransition with errors.Is.
	ErrAlreadyProcessed = fmt.Errorf("%w: process already decided", ErrIllegalTransition)

	// ErrInstanceNotCancellable is returned when cancelling a terminal instance
	ErrInstanceNotCancellable = errors.New("workflow instance is not cancellable")

	// ErrNotFound is returned for unknown instance or process IDs
	ErrNotFound = errors.New("not found")

	// ErrAssigneeNotResolvable is returned when an approval node has nobody to act on it
	ErrAssigneeNotResolvable = errors.New("node assignee not resolvable")

	// ErrInvalidArgument is returned for malformed requests
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStorage marks failures of the storage layer
	ErrStorage = errors.New("storage error")
)

// StorageError wraps a storage failure. It matches ErrStorage and the cause with errors.Is.
type StorageError struct {
	Op  string
	Err error
}

// NewStorageError wraps err as a storage failure of op
func NewStorageError(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorage, e.Op, e.Err)
}

// Unwrap exposes both the storage kind and the underlying cause
func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// Illegal builds an ErrIllegalTransition with a reason
func Illegal(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrIllegalTransition, fmt.Sprintf(format, args...))
}
