// pkg/stratadb/tx.go
package stratadb

import (
	"context"
	"errors"
	"sync"

	"strata/pkg/mvcc"
)

var (
	// ErrTxDone is returned when a transaction has already been
	// committed or rolled back.
	ErrTxDone = errors.New("transaction has already been committed or rolled back")
)

// Tx is a transaction handle. A Tx must end with a call to Commit or
// Rollback; after either, all operations fail with ErrTxDone.
type Tx struct {
	mu   sync.Mutex
	db   *DB
	txn  *mvcc.Transaction
	done bool
}

// Begin starts a transaction at the given isolation level.
//
// Example:
//
//	tx, err := db.Begin(mvcc.Serializable)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback() // no-op if already committed
//
//	// ... use tx for operations ...
//
//	return tx.Commit()
func (db *DB) Begin(level mvcc.IsolationLevel) (*Tx, error) {
	return db.BeginContext(context.Background(), level)
}

// BeginContext starts a transaction with context support. If the
// context is already canceled, no transaction is started.
func (db *DB) BeginContext(ctx context.Context, level mvcc.IsolationLevel) (*Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrDatabaseClosed
	}

	txn, err := db.manager.Begin(level)
	if err != nil {
		return nil, err
	}
	return &Tx{db: db, txn: txn}, nil
}

// Get returns the value of key visible to this transaction, or
// mvcc.ErrKeyNotFound.
func (tx *Tx) Get(key []byte) ([]byte, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.done {
		return nil, ErrTxDone
	}
	return tx.db.manager.Read(tx.txn, key)
}

// Set stores value under key. On a lock error (conflict, timeout,
// deadlock) the caller must Rollback and may retry the transaction.
func (tx *Tx) Set(key, value []byte) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.done {
		return ErrTxDone
	}
	return tx.db.manager.Write(tx.txn, key, value)
}

// Delete removes key. The deletion becomes visible to other
// transactions according to the usual commit rules.
func (tx *Tx) Delete(key []byte) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.done {
		return ErrTxDone
	}
	return tx.db.manager.Delete(tx.txn, key)
}

// Scan returns the visible key-value pairs in [lo, hi) in key order.
// An empty hi scans to the end of the keyspace.
func (tx *Tx) Scan(lo, hi []byte) ([]mvcc.KV, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.done {
		return nil, ErrTxDone
	}
	return tx.db.manager.Scan(tx.txn, lo, hi)
}

// Commit commits the transaction. mvcc.ErrSerializationFailure means
// validation failed and the transaction was rolled back; the caller may
// retry it from the top.
func (tx *Tx) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.done {
		return ErrTxDone
	}
	tx.done = true

	if err := tx.db.manager.Commit(tx.txn); err != nil {
		return err
	}
	tx.db.maybeCheckpoint()
	return nil
}

// Rollback aborts the transaction, discarding its writes. Calling
// Rollback after Commit returns ErrTxDone, which makes the deferred
// rollback pattern safe.
func (tx *Tx) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.done {
		return ErrTxDone
	}
	tx.done = true

	return tx.db.manager.Abort(tx.txn)
}

// Level returns the transaction's isolation level.
func (tx *Tx) Level() mvcc.IsolationLevel {
	return tx.txn.Level()
}

// ID returns the transaction's unique identifier.
func (tx *Tx) ID() uint64 {
	return tx.txn.ID()
}
