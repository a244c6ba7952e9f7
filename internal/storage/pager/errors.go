package pager

import (
	"errors"
	"fmt"
)

// Kind categorizes a pager Error, mirroring the taxonomy the storage
// layer's callers (the transaction manager and above) need to branch on.
type Kind int

const (
	// KindIOError covers filesystem failures: open, read, write, sync.
	KindIOError Kind = iota
	// KindSerializationError covers malformed on-disk bytes: bad page
	// size, a checksum mismatch, an undecodable header.
	KindSerializationError
	// KindStorageError is a catch-all for structural storage failures
	// that are neither I/O nor serialization. Buffer pool exhaustion is
	// reported as the ErrCannotEvict sentinel, not with this Kind.
	KindStorageError
	// KindContainerDoesNotExist is returned for operations against an
	// unregistered container ID.
	KindContainerDoesNotExist
	// KindInvalidMutationError covers malformed write requests. An update
	// or delete naming a dead or out-of-range slot is reported as the
	// ErrSlotNotFound sentinel, not with this Kind.
	KindInvalidMutationError
	// KindInvalidOperation covers a well-formed request that is invalid
	// given the container's state (e.g. registering a container ID that
	// is already registered).
	KindInvalidOperation
	// KindTransactionNotActive is returned when an operation names a
	// transaction token the manager has no record of.
	KindTransactionNotActive
	// KindTransactionRollback signals that the named transaction has been
	// rolled back; TxID identifies which one.
	KindTransactionRollback
	// KindValidationError covers caller-supplied argument validation
	// failures (e.g. an unknown eviction policy name).
	KindValidationError
	// KindExecutionError is a generic failure surfaced by the layer above
	// the storage engine, retained here only so storage callers can wrap
	// and forward it without inventing a separate error type.
	KindExecutionError
)

// String renders the Kind for log lines and test failure messages.
func (k Kind) String() string {
	switch k {
	case KindIOError:
		return "IOError"
	case KindSerializationError:
		return "SerializationError"
	case KindStorageError:
		return "StorageError"
	case KindContainerDoesNotExist:
		return "ContainerDoesNotExist"
	case KindInvalidMutationError:
		return "InvalidMutationError"
	case KindInvalidOperation:
		return "InvalidOperation"
	case KindTransactionNotActive:
		return "TransactionNotActive"
	case KindTransactionRollback:
		return "TransactionRollback"
	case KindValidationError:
		return "ValidationError"
	case KindExecutionError:
		return "ExecutionError"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the structured error value returned by every exported pager
// operation that can fail for a domain reason (as opposed to a plain Go
// programming error such as a nil pointer).
type Error struct {
	Kind Kind
	Msg  string
	TxID uint64 // populated only for KindTransactionRollback
	Err  error  // wrapped cause, nil for leaf errors
}

func (e *Error) Error() string {
	if e.Kind == KindTransactionRollback {
		if e.Err != nil {
			return fmt.Sprintf("%s: tx %d: %s: %v", e.Kind, e.TxID, e.Msg, e.Err)
		}
		return fmt.Sprintf("%s: tx %d: %s", e.Kind, e.TxID, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap exposes the wrapped cause, making Error usable with errors.Is
// and errors.As.
func (e *Error) Unwrap() error { return e.Err }

// newErr builds an Error, optionally wrapping cause.
func newErr(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// NewRollbackError builds a KindTransactionRollback error naming the
// rolled-back transaction.
func NewRollbackError(txID uint64, cause error) *Error {
	return &Error{Kind: KindTransactionRollback, TxID: txID, Msg: "transaction rolled back", Err: cause}
}

// Sentinel errors for conditions that are routine control flow rather
// than exceptional failures, checked with errors.Is the way the teacher's
// pager reports a full page via a plain error value.
var (
	// ErrCannotEvict is returned when every candidate frame is latched at
	// victim-selection time.
	ErrCannotEvict = errors.New("pager: cannot evict: no unlatched frame available")
	// ErrNotFound is returned for a lookup (container, value, frame) that
	// has no matching entry.
	ErrNotFound = errors.New("pager: not found")
)
