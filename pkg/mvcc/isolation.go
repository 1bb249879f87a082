// pkg/mvcc/isolation.go
//
// One policy per isolation level. A policy decides which version a read
// observes, what locking a write needs, and whether commit requires
// validation. The level is fixed at Begin, so dispatch is a closed set
// of variants rather than anything extensible.
package mvcc

import "fmt"

// IsolationLevel selects the concurrency-control policy for a
// transaction.
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
	Serializable
	SnapshotIsolation
)

// String returns the SQL-style name of the level.
func (l IsolationLevel) String() string {
	switch l {
	case ReadUncommitted:
		return "ReadUncommitted"
	case ReadCommitted:
		return "ReadCommitted"
	case RepeatableRead:
		return "RepeatableRead"
	case Serializable:
		return "Serializable"
	case SnapshotIsolation:
		return "SnapshotIsolation"
	default:
		return "Unknown"
	}
}

// ParseIsolationLevel maps a level name to its value. Accepted spellings
// match String.
func ParseIsolationLevel(s string) (IsolationLevel, error) {
	switch s {
	case "ReadUncommitted":
		return ReadUncommitted, nil
	case "ReadCommitted":
		return ReadCommitted, nil
	case "RepeatableRead":
		return RepeatableRead, nil
	case "Serializable":
		return Serializable, nil
	case "SnapshotIsolation":
		return SnapshotIsolation, nil
	default:
		return 0, fmt.Errorf("unknown isolation level %q", s)
	}
}

// isolationPolicy is the per-level capability set. Policies are
// stateless; all shared state lives in the manager they receive.
type isolationPolicy interface {
	// onRead returns the value visible to tx, recording the read where
	// the level tracks read sets.
	onRead(m *TransactionManager, tx *Transaction, key []byte) ([]byte, error)

	// onWrite performs whatever locking the level requires and appends
	// the pending version.
	onWrite(m *TransactionManager, tx *Transaction, key, value []byte, tombstone bool) error

	// onScan returns the visible key-value pairs in [lo, hi),
	// registering predicates where the level needs phantom protection.
	onScan(m *TransactionManager, tx *Transaction, lo, hi []byte) ([]KV, error)

	// onCommit validates the transaction just before its commit
	// timestamp is allocated. Runs inside the commit critical section.
	onCommit(m *TransactionManager, tx *Transaction) error
}

// policyFor returns the singleton policy for a level.
func policyFor(level IsolationLevel) isolationPolicy {
	switch level {
	case ReadUncommitted:
		return readUncommittedPolicy{}
	case ReadCommitted:
		return readCommittedPolicy{}
	case RepeatableRead:
		return repeatableReadPolicy{}
	case Serializable:
		return serializablePolicy{}
	case SnapshotIsolation:
		return snapshotPolicy{}
	default:
		return readCommittedPolicy{}
	}
}

// readUncommittedPolicy: reads see the newest version regardless of
// commit state; writes take no locks; commit needs no validation.
type readUncommittedPolicy struct{}

func (readUncommittedPolicy) onRead(m *TransactionManager, tx *Transaction, key []byte) ([]byte, error) {
	value, _, err := m.store.ReadLatest(key, tx.ID())
	return value, err
}

func (readUncommittedPolicy) onWrite(m *TransactionManager, tx *Transaction, key, value []byte, tombstone bool) error {
	m.store.Write(key, tx.ID(), value, tombstone)
	return nil
}

func (readUncommittedPolicy) onScan(m *TransactionManager, tx *Transaction, lo, hi []byte) ([]KV, error) {
	// Uncommitted scan still only surfaces committed rows plus the
	// transaction's own writes; exposing other writers' pending rows in
	// a range result would leak versions that may never exist.
	return m.store.ScanAt(lo, hi, m.CurrentTS(), tx.ID()), nil
}

func (readUncommittedPolicy) onCommit(*TransactionManager, *Transaction) error { return nil }

// readCommittedPolicy: each read observes the newest committed version
// at the moment of the read; writes take an exclusive lock released as
// soon as the write completes; no validation.
type readCommittedPolicy struct{}

func (readCommittedPolicy) onRead(m *TransactionManager, tx *Transaction, key []byte) ([]byte, error) {
	value, _, err := m.store.ReadLatestCommitted(key, tx.ID())
	return value, err
}

func (readCommittedPolicy) onWrite(m *TransactionManager, tx *Transaction, key, value []byte, tombstone bool) error {
	if err := m.locks.Acquire(key, tx.ID(), LockExclusive, m.lockTimeout); err != nil {
		return err
	}
	m.store.Write(key, tx.ID(), value, tombstone)
	m.locks.Release(key, tx.ID())
	return nil
}

func (readCommittedPolicy) onScan(m *TransactionManager, tx *Transaction, lo, hi []byte) ([]KV, error) {
	return m.store.ScanAt(lo, hi, m.CurrentTS(), tx.ID()), nil
}

func (readCommittedPolicy) onCommit(*TransactionManager, *Transaction) error { return nil }

// repeatableReadPolicy: reads observe the snapshot at startTS under a
// shared lock held to transaction end; writes hold exclusive locks to
// transaction end; no validation.
type repeatableReadPolicy struct{}

func (repeatableReadPolicy) onRead(m *TransactionManager, tx *Transaction, key []byte) ([]byte, error) {
	if err := m.locks.Acquire(key, tx.ID(), LockShared, m.lockTimeout); err != nil {
		return nil, err
	}
	value, observedTS, err := m.store.ReadAt(key, tx.StartTS(), tx.ID())
	tx.recordRead(key, observedTS)
	return value, err
}

func (repeatableReadPolicy) onWrite(m *TransactionManager, tx *Transaction, key, value []byte, tombstone bool) error {
	if err := m.locks.Acquire(key, tx.ID(), LockExclusive, m.lockTimeout); err != nil {
		return err
	}
	m.store.Write(key, tx.ID(), value, tombstone)
	return nil
}

func (repeatableReadPolicy) onScan(m *TransactionManager, tx *Transaction, lo, hi []byte) ([]KV, error) {
	kvs := m.store.ScanAt(lo, hi, tx.StartTS(), tx.ID())
	for _, kv := range kvs {
		if err := m.locks.Acquire(kv.Key, tx.ID(), LockShared, m.lockTimeout); err != nil {
			return nil, err
		}
		tx.recordRead(kv.Key, m.store.NewestCommitTS(kv.Key))
	}
	return kvs, nil
}

func (repeatableReadPolicy) onCommit(*TransactionManager, *Transaction) error { return nil }

// serializablePolicy: RepeatableRead locking plus phantom protection.
// Range reads register predicates; commit re-validates the read set and
// every predicate against versions committed after startTS.
type serializablePolicy struct{}

func (serializablePolicy) onRead(m *TransactionManager, tx *Transaction, key []byte) ([]byte, error) {
	return repeatableReadPolicy{}.onRead(m, tx, key)
}

func (serializablePolicy) onWrite(m *TransactionManager, tx *Transaction, key, value []byte, tombstone bool) error {
	return repeatableReadPolicy{}.onWrite(m, tx, key, value, tombstone)
}

func (serializablePolicy) onScan(m *TransactionManager, tx *Transaction, lo, hi []byte) ([]KV, error) {
	m.predicates.Register(tx.ID(), lo, hi)
	return repeatableReadPolicy{}.onScan(m, tx, lo, hi)
}

func (serializablePolicy) onCommit(m *TransactionManager, tx *Transaction) error {
	startTS := tx.StartTS()

	// A key this transaction read must not have gained a newer
	// committed version since the snapshot was taken.
	for key := range tx.readKeys() {
		if m.store.NewestCommitTS([]byte(key)) > startTS {
			return ErrSerializationFailure
		}
	}

	// No key inside a scanned range may have been committed after the
	// snapshot: that insert would be a phantom.
	for _, r := range m.predicates.RangesFor(tx.ID()) {
		if m.store.AnyCommittedInRange(r.lo, r.hi, startTS) {
			return ErrSerializationFailure
		}
	}
	return nil
}

// snapshotPolicy: lock-free snapshot reads and buffered writes; commit
// applies first-committer-wins over the write set.
type snapshotPolicy struct{}

func (snapshotPolicy) onRead(m *TransactionManager, tx *Transaction, key []byte) ([]byte, error) {
	value, observedTS, err := m.store.ReadAt(key, tx.StartTS(), tx.ID())
	tx.recordRead(key, observedTS)
	return value, err
}

func (snapshotPolicy) onWrite(m *TransactionManager, tx *Transaction, key, value []byte, tombstone bool) error {
	m.store.Write(key, tx.ID(), value, tombstone)
	return nil
}

func (snapshotPolicy) onScan(m *TransactionManager, tx *Transaction, lo, hi []byte) ([]KV, error) {
	return m.store.ScanAt(lo, hi, tx.StartTS(), tx.ID()), nil
}

func (snapshotPolicy) onCommit(m *TransactionManager, tx *Transaction) error {
	// First committer wins: a concurrently committed write to any key
	// in this transaction's write set invalidates the commit.
	for _, key := range tx.writeKeys() {
		if m.store.NewestCommitTS([]byte(key)) > tx.StartTS() {
			return ErrSerializationFailure
		}
	}
	return nil
}
