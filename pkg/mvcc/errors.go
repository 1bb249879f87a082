// pkg/mvcc/errors.go
package mvcc

import "errors"

var (
	// ErrTxNotActive is returned when an operation is attempted on a
	// transaction that has already committed or aborted.
	ErrTxNotActive = errors.New("transaction is not active")

	// ErrKeyNotFound is returned when no version of a key is visible
	// to the reading transaction.
	ErrKeyNotFound = errors.New("key not found")

	// ErrLockConflict is returned when a lock cannot be granted and the
	// caller asked not to wait.
	ErrLockConflict = errors.New("lock conflict")

	// ErrLockTimeout is returned when a transaction waited for a lock
	// longer than the configured lock wait timeout. The caller must
	// abort the transaction.
	ErrLockTimeout = errors.New("lock wait timeout exceeded")

	// ErrDeadlock is returned when granting a lock request would create
	// a cycle in the wait-for graph. The caller must abort the
	// transaction and may retry it.
	ErrDeadlock = errors.New("deadlock detected")

	// ErrSerializationFailure is returned at commit when validation
	// detects a conflict with a concurrently committed transaction.
	// The transaction has been aborted; the caller may retry it.
	ErrSerializationFailure = errors.New("could not serialize access due to concurrent update")

	// ErrCheckpointBusy is returned when a checkpoint is requested
	// while transactions are still active. Resetting the log would
	// drop their operation records.
	ErrCheckpointBusy = errors.New("checkpoint requires no active transactions")
)
