// pkg/mvcc/manager.go
package mvcc

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"strata/pkg/wal"
)

// DefaultLockTimeout bounds how long a transaction waits for a row lock
// before the wait surfaces as ErrLockTimeout.
const DefaultLockTimeout = 5 * time.Second

// TransactionManager orchestrates transaction lifecycles: it allocates
// IDs and timestamps, routes operations through the isolation policies
// to the version store and lock table, appends to the WAL, and drives
// commit, abort and recovery.
//
// Commit timestamps come from a single counter advanced inside one
// critical section together with the WAL commit record and version
// stamping, so commit visibility and log order can never disagree.
type TransactionManager struct {
	mu           sync.RWMutex
	transactions map[uint64]*Transaction

	nextTxID uint64 // atomic
	clock    uint64 // atomic commit-timestamp counter

	store      *VersionStore
	locks      *LockTable
	predicates *PredicateTable
	log        *wal.WAL // nil for a purely in-memory engine

	commitMu    sync.Mutex
	lockTimeout time.Duration

	logger *logrus.Entry
}

// NewTransactionManager creates a manager over the given store. The WAL
// may be nil, in which case the engine is in-memory and non-durable.
func NewTransactionManager(store *VersionStore, log *wal.WAL) *TransactionManager {
	return &TransactionManager{
		transactions: make(map[uint64]*Transaction),
		store:        store,
		locks:        NewLockTable(),
		predicates:   NewPredicateTable(),
		log:          log,
		lockTimeout:  DefaultLockTimeout,
		logger:       logrus.WithField("component", "mvcc"),
	}
}

// SetLockTimeout overrides the bounded wait for row locks.
func (m *TransactionManager) SetLockTimeout(d time.Duration) {
	m.lockTimeout = d
}

// Begin starts a new transaction at the given isolation level. The
// start timestamp is the current value of the commit counter, which
// defines the snapshot boundary for levels that read a snapshot.
//
// Begin runs inside the commit critical section: a checkpoint holds it
// across its active-transaction check and the log reset, so a
// transaction can never slip its first records into the log segment the
// reset discards.
func (m *TransactionManager) Begin(level IsolationLevel) (*Transaction, error) {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	txID := atomic.AddUint64(&m.nextTxID, 1)
	startTS := atomic.LoadUint64(&m.clock)

	tx := NewTransaction(txID, startTS, level)

	if m.log != nil {
		if err := m.log.Append(wal.Record{Kind: wal.KindBegin, TxnID: txID}); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.transactions[txID] = tx
	m.mu.Unlock()

	return tx, nil
}

// Read returns the value of key visible to the transaction, or
// ErrKeyNotFound. Fails with ErrTxNotActive on a finished transaction.
func (m *TransactionManager) Read(tx *Transaction, key []byte) ([]byte, error) {
	if !tx.IsActive() {
		return nil, ErrTxNotActive
	}
	return policyFor(tx.Level()).onRead(m, tx, key)
}

// Write stores a new value for key. On a lock error (conflict, timeout,
// deadlock) the transaction is left intact; the caller must abort it.
func (m *TransactionManager) Write(tx *Transaction, key, value []byte) error {
	return m.write(tx, key, value, false)
}

// Delete writes a deletion marker for key. Reads past the marker report
// ErrKeyNotFound once it commits.
func (m *TransactionManager) Delete(tx *Transaction, key []byte) error {
	return m.write(tx, key, nil, true)
}

func (m *TransactionManager) write(tx *Transaction, key, value []byte, tombstone bool) error {
	if !tx.IsActive() {
		return ErrTxNotActive
	}

	if err := policyFor(tx.Level()).onWrite(m, tx, key, value, tombstone); err != nil {
		return err
	}
	tx.recordWrite(key, tombstone)

	if m.log != nil {
		kind := wal.KindPut
		if tombstone {
			kind = wal.KindDelete
		}
		return m.log.Append(wal.Record{Kind: kind, TxnID: tx.ID(), Key: key, Value: value})
	}
	return nil
}

// Scan returns the visible key-value pairs in [lo, hi), in key order.
// An empty hi scans to the end of the keyspace. Under Serializable the
// range is registered for phantom validation at commit.
func (m *TransactionManager) Scan(tx *Transaction, lo, hi []byte) ([]KV, error) {
	if !tx.IsActive() {
		return nil, ErrTxNotActive
	}
	return policyFor(tx.Level()).onScan(m, tx, lo, hi)
}

// Commit validates and commits the transaction. On validation failure
// the transaction is aborted and ErrSerializationFailure returned; the
// caller may retry the whole transaction.
func (m *TransactionManager) Commit(tx *Transaction) error {
	if !tx.IsActive() {
		return ErrTxNotActive
	}

	m.commitMu.Lock()

	if err := policyFor(tx.Level()).onCommit(m, tx); err != nil {
		m.commitMu.Unlock()
		m.logger.WithFields(logrus.Fields{
			"txn":   tx.ID(),
			"level": tx.Level().String(),
		}).Debug("commit validation failed, aborting")
		if abortErr := m.Abort(tx); abortErr != nil {
			return abortErr
		}
		return err
	}

	commitTS := atomic.AddUint64(&m.clock, 1)

	if m.log != nil {
		if err := m.log.AppendSync(wal.Record{Kind: wal.KindCommit, TxnID: tx.ID(), CommitTS: commitTS}); err != nil {
			m.commitMu.Unlock()
			if abortErr := m.Abort(tx); abortErr != nil {
				return abortErr
			}
			return err
		}
	}

	// Mark before stamping: if a racing Abort won the state transition,
	// its pending versions are already dropped and nothing here may be
	// made visible.
	if err := tx.markCommitted(commitTS); err != nil {
		m.commitMu.Unlock()
		return err
	}

	for _, key := range tx.writeKeys() {
		m.store.Commit([]byte(key), tx.ID(), commitTS)
	}

	m.commitMu.Unlock()

	m.finish(tx)
	return nil
}

// Abort rolls the transaction back: its pending versions are discarded,
// never edited in place, and all its locks are released. Aborting an
// already aborted transaction is a no-op; aborting a committed one
// fails with ErrTxNotActive.
func (m *TransactionManager) Abort(tx *Transaction) error {
	if tx.IsAborted() {
		return nil
	}
	if err := tx.markAborted(); err != nil {
		return err
	}

	if m.log != nil {
		if err := m.log.Append(wal.Record{Kind: wal.KindAbort, TxnID: tx.ID()}); err != nil {
			m.logger.WithError(err).WithField("txn", tx.ID()).Warn("abort record append failed")
		}
	}

	for _, key := range tx.writeKeys() {
		m.store.Abort([]byte(key), tx.ID())
	}

	m.finish(tx)
	return nil
}

// finish releases every resource a terminal transaction still holds.
func (m *TransactionManager) finish(tx *Transaction) {
	m.locks.ReleaseAll(tx.ID())
	m.predicates.Drop(tx.ID())
}

// CurrentTS returns the current value of the commit counter.
func (m *TransactionManager) CurrentTS() uint64 {
	return atomic.LoadUint64(&m.clock)
}

// restoreClock raises the commit counter to at least ts. Used when
// loading a checkpoint or replaying the log.
func (m *TransactionManager) restoreClock(ts uint64) {
	for {
		cur := atomic.LoadUint64(&m.clock)
		if ts <= cur || atomic.CompareAndSwapUint64(&m.clock, cur, ts) {
			return
		}
	}
}

// RestoreClock raises the commit counter to at least ts so that new
// commits are stamped after any state loaded from disk.
func (m *TransactionManager) RestoreClock(ts uint64) {
	m.restoreClock(ts)
}

func (m *TransactionManager) restoreTxID(id uint64) {
	for {
		cur := atomic.LoadUint64(&m.nextTxID)
		if id <= cur || atomic.CompareAndSwapUint64(&m.nextTxID, cur, id) {
			return
		}
	}
}

// ActiveTransactions returns all currently active transactions.
func (m *TransactionManager) ActiveTransactions() []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var active []*Transaction
	for _, tx := range m.transactions {
		if tx.IsActive() {
			active = append(active, tx)
		}
	}
	return active
}

// MinActiveStartTS returns the smallest start timestamp among active
// transactions, or the current commit counter if none are active. No
// version at or below this boundary's reach can still be referenced by
// a snapshot.
func (m *TransactionManager) MinActiveStartTS() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	minTS := atomic.LoadUint64(&m.clock)
	for _, tx := range m.transactions {
		if tx.IsActive() && tx.StartTS() < minTS {
			minTS = tx.StartTS()
		}
	}
	return minTS
}

// GarbageCollect prunes versions unreachable by every active snapshot
// and drops finished transactions from the registry. Returns the number
// of versions pruned.
func (m *TransactionManager) GarbageCollect() int {
	minTS := m.MinActiveStartTS()
	pruned := m.store.GarbageCollect(minTS)

	m.mu.Lock()
	for id, tx := range m.transactions {
		if !tx.IsActive() {
			delete(m.transactions, id)
		}
	}
	m.mu.Unlock()

	if pruned > 0 {
		m.logger.WithFields(logrus.Fields{
			"pruned": pruned,
			"min_ts": minTS,
		}).Debug("version garbage collection")
	}
	return pruned
}

// Stats describes the manager's current footprint.
type Stats struct {
	ActiveTransactions int
	Keys               int
	LockedKeys         int
	CommitTS           uint64
}

// Stats returns a snapshot of engine counters.
func (m *TransactionManager) Stats() Stats {
	return Stats{
		ActiveTransactions: len(m.ActiveTransactions()),
		Keys:               m.store.Len(),
		LockedKeys:         m.locks.TotalLocks(),
		CommitTS:           m.CurrentTS(),
	}
}

// LockTable exposes the lock table, mainly for tests that assert lock
// release behavior.
func (m *TransactionManager) LockTable() *LockTable {
	return m.locks
}

// Checkpoint snapshots the newest committed version of every key to
// path and resets the log. It refuses to run while transactions are
// active: their operation records live in the log segment a reset
// discards. Returns the number of keys checkpointed.
func (m *TransactionManager) Checkpoint(path string) (int, error) {
	if m.log == nil {
		return 0, nil
	}

	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	if len(m.ActiveTransactions()) > 0 {
		return 0, ErrCheckpointBusy
	}

	snapshot := m.store.CommittedSnapshot()
	entries := make([]wal.CheckpointEntry, len(snapshot))
	for i, s := range snapshot {
		entries[i] = wal.CheckpointEntry{
			Key:       s.Key,
			Value:     s.Value,
			WriterID:  s.WriterID,
			CommitTS:  s.CommitTS,
			Tombstone: s.Tombstone,
		}
	}

	if err := wal.WriteCheckpoint(path, entries); err != nil {
		return 0, err
	}
	if err := m.log.Reset(); err != nil {
		return 0, err
	}

	m.logger.WithField("keys", len(entries)).Info("checkpoint written")
	return len(entries), nil
}

// WALRecordCount reports the number of records in the log, used to
// decide when a checkpoint is due.
func (m *TransactionManager) WALRecordCount() uint64 {
	if m.log == nil {
		return 0
	}
	return m.log.RecordCount()
}
