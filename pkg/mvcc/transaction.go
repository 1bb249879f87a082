// pkg/mvcc/transaction.go
package mvcc

import "sync"

// TxState represents the state of a transaction.
type TxState int

const (
	TxStateActive TxState = iota
	TxStateCommitted
	TxStateAborted
)

// String returns a string representation of the transaction state.
func (s TxState) String() string {
	switch s {
	case TxStateActive:
		return "Active"
	case TxStateCommitted:
		return "Committed"
	case TxStateAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// writeOp records one pending operation in a transaction's write set.
type writeOp struct {
	tombstone bool
}

// Transaction represents a single transaction. The isolation level is
// fixed at Begin; the state only moves Active -> Committed or
// Active -> Aborted and never reverts.
type Transaction struct {
	mu       sync.RWMutex
	id       uint64
	level    IsolationLevel
	startTS  uint64 // Snapshot boundary for levels that read a snapshot
	commitTS uint64 // 0 until committed
	state    TxState

	// readSet maps key -> commit timestamp of the version observed
	// (0 when the transaction read its own pending write). Tracked for
	// RepeatableRead, Serializable and SnapshotIsolation.
	readSet map[string]uint64

	// writeSet maps key -> pending operation. The pending versions
	// themselves live in the version chains.
	writeSet map[string]writeOp
}

// NewTransaction creates an active transaction.
func NewTransaction(id, startTS uint64, level IsolationLevel) *Transaction {
	return &Transaction{
		id:       id,
		level:    level,
		startTS:  startTS,
		state:    TxStateActive,
		readSet:  make(map[string]uint64),
		writeSet: make(map[string]writeOp),
	}
}

// ID returns the transaction ID.
func (tx *Transaction) ID() uint64 { return tx.id }

// Level returns the transaction's isolation level.
func (tx *Transaction) Level() IsolationLevel { return tx.level }

// StartTS returns the start timestamp.
func (tx *Transaction) StartTS() uint64 { return tx.startTS }

// CommitTS returns the commit timestamp (0 if uncommitted).
func (tx *Transaction) CommitTS() uint64 {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.commitTS
}

// State returns the current transaction state.
func (tx *Transaction) State() TxState {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.state
}

// IsActive returns true if the transaction is still active.
func (tx *Transaction) IsActive() bool {
	return tx.State() == TxStateActive
}

// IsCommitted returns true if the transaction has committed.
func (tx *Transaction) IsCommitted() bool {
	return tx.State() == TxStateCommitted
}

// IsAborted returns true if the transaction has aborted.
func (tx *Transaction) IsAborted() bool {
	return tx.State() == TxStateAborted
}

// recordRead notes the version observed for a key. The first observation
// wins: repeated reads validate against what the transaction saw first.
func (tx *Transaction) recordRead(key []byte, observedTS uint64) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	keyStr := string(key)
	if _, seen := tx.readSet[keyStr]; !seen {
		tx.readSet[keyStr] = observedTS
	}
}

// recordWrite notes a pending operation on a key.
func (tx *Transaction) recordWrite(key []byte, tombstone bool) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.writeSet[string(key)] = writeOp{tombstone: tombstone}
}

// readKeys returns a snapshot of the read set.
func (tx *Transaction) readKeys() map[string]uint64 {
	tx.mu.RLock()
	defer tx.mu.RUnlock()

	out := make(map[string]uint64, len(tx.readSet))
	for k, ts := range tx.readSet {
		out[k] = ts
	}
	return out
}

// writeKeys returns the keys in the write set.
func (tx *Transaction) writeKeys() []string {
	tx.mu.RLock()
	defer tx.mu.RUnlock()

	out := make([]string, 0, len(tx.writeSet))
	for k := range tx.writeSet {
		out = append(out, k)
	}
	return out
}

// markCommitted transitions the transaction to Committed.
func (tx *Transaction) markCommitted(commitTS uint64) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != TxStateActive {
		return ErrTxNotActive
	}
	tx.commitTS = commitTS
	tx.state = TxStateCommitted
	return nil
}

// markAborted transitions the transaction to Aborted. Aborting an
// already aborted transaction is a no-op; aborting a committed one is an
// error.
func (tx *Transaction) markAborted() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	switch tx.state {
	case TxStateCommitted:
		return ErrTxNotActive
	case TxStateAborted:
		return nil
	}
	tx.state = TxStateAborted
	return nil
}
