package store

import "fmt"

// Op names a storage contract operation.
type Op string

// Storage contract operations.
const (
	OpIncrement    Op = "increment"
	OpGetRemaining Op = "get_remaining"
	OpReset        Op = "reset"
	OpGetTimestamp Op = "get_timestamp"
	OpSetTimestamp Op = "set_timestamp"
	OpOpen         Op = "open"
)

func (op Op) describe() string {
	switch op {
	case OpIncrement:
		return "incrementing counter in"
	case OpGetRemaining:
		return "retrieving counter from"
	case OpReset:
		return "resetting counter in"
	case OpGetTimestamp:
		return "retrieving timestamp from"
	case OpSetTimestamp:
		return "setting timestamp in"
	case OpOpen:
		return "opening"
	default:
		return string(op) + " in"
	}
}

// StorageError reports a failure reaching a backend. Err is the underlying cause.
type StorageError struct {
	Backend string
	Op      Op
	Err     error
}

// NewStorageError wraps err as a failure of op on backend. It returns nil for a nil err.
func NewStorageError(backend string, op Op, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Backend: backend, Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: error %s %s: %v", e.Op.describe(), e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
