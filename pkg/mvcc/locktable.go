// pkg/mvcc/locktable.go
package mvcc

import (
	"sync"
	"time"
)

// LockMode distinguishes shared (read) from exclusive (write) locks.
type LockMode int

const (
	LockShared LockMode = iota
	LockExclusive
)

// String returns a string representation of the lock mode.
func (m LockMode) String() string {
	if m == LockExclusive {
		return "Exclusive"
	}
	return "Shared"
}

// lockEntry is the lock state for a single key. Multiple shared holders
// may coexist; an exclusive holder excludes all others. Each entry has
// its own mutex so unrelated keys never contend.
type lockEntry struct {
	mu      sync.Mutex
	holders map[uint64]LockMode
	waiting int           // blocked acquirers, for entry cleanup
	retry   chan struct{} // closed on release to wake waiters
}

func newLockEntry() *lockEntry {
	return &lockEntry{
		holders: make(map[uint64]LockMode),
		retry:   make(chan struct{}),
	}
}

// tryGrant attempts to grant mode to txID. On conflict it returns the
// IDs of the holders standing in the way. Caller holds e.mu.
func (e *lockEntry) tryGrant(txID uint64, mode LockMode) (bool, []uint64) {
	cur, holds := e.holders[txID]
	if holds && cur >= mode {
		return true, nil // already held at this strength or stronger
	}

	var conflicting []uint64
	for id, m := range e.holders {
		if id == txID {
			continue
		}
		if mode == LockExclusive || m == LockExclusive {
			conflicting = append(conflicting, id)
		}
	}
	if len(conflicting) > 0 {
		return false, conflicting
	}

	// Covers fresh grants and the shared -> exclusive upgrade, which is
	// only reachable here once the transaction is the sole holder.
	e.holders[txID] = mode
	return true, nil
}

// broadcast wakes every waiter so they re-attempt the grant.
// Caller holds e.mu.
func (e *lockEntry) broadcast() {
	close(e.retry)
	e.retry = make(chan struct{})
}

// LockTable tracks row-level locks for the pessimistic isolation levels.
// Acquire blocks until the lock is granted, the wait timeout fires, or
// the wait would close a cycle in the wait-for graph.
type LockTable struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
	held    map[uint64]map[string]struct{} // txID -> keys held
	graph   *WaitForGraph
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{
		entries: make(map[string]*lockEntry),
		held:    make(map[uint64]map[string]struct{}),
		graph:   NewWaitForGraph(),
	}
}

func (lt *LockTable) entry(key string) *lockEntry {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	e, ok := lt.entries[key]
	if !ok {
		e = newLockEntry()
		lt.entries[key] = e
	}
	return e
}

func (lt *LockTable) recordHeld(txID uint64, key string) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	keys := lt.held[txID]
	if keys == nil {
		keys = make(map[string]struct{})
		lt.held[txID] = keys
	}
	keys[key] = struct{}{}
}

// Acquire obtains a lock on key for the transaction. A transaction
// holding a shared lock upgrades to exclusive when it is the sole
// holder; otherwise the request waits like a fresh exclusive one.
//
// With a zero timeout the call never blocks and a conflict surfaces as
// ErrLockConflict. Otherwise the caller is suspended until the lock is
// granted, the timeout fires (ErrLockTimeout), or blocking would create
// a cycle in the wait-for graph (ErrDeadlock). On any error the caller
// must abort the transaction.
func (lt *LockTable) Acquire(key []byte, txID uint64, mode LockMode, timeout time.Duration) error {
	keyStr := string(key)
	deadline := time.Now().Add(timeout)

	for {
		e := lt.entry(keyStr)

		e.mu.Lock()
		granted, conflicting := e.tryGrant(txID, mode)
		if granted {
			e.mu.Unlock()
			lt.graph.RemoveWaiter(txID)
			lt.recordHeld(txID, keyStr)
			return nil
		}
		retry := e.retry
		e.waiting++
		e.mu.Unlock()

		wakeUp := func() {
			e.mu.Lock()
			e.waiting--
			e.mu.Unlock()
		}

		if timeout <= 0 {
			wakeUp()
			return ErrLockConflict
		}

		// Check for a wait-for cycle before suspending, so deadlocks
		// surface immediately instead of waiting out the timeout.
		lt.graph.AddWaits(txID, conflicting)
		if lt.graph.WouldDeadlock(txID) {
			lt.graph.RemoveWaiter(txID)
			wakeUp()
			return ErrDeadlock
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			lt.graph.RemoveWaiter(txID)
			wakeUp()
			return ErrLockTimeout
		}

		timer := time.NewTimer(remaining)
		select {
		case <-retry:
			timer.Stop()
		case <-timer.C:
			lt.graph.RemoveWaiter(txID)
			wakeUp()
			return ErrLockTimeout
		}
		lt.graph.RemoveWaiter(txID)
		wakeUp()
	}
}

// Release drops the transaction's lock on a single key. Used by
// ReadCommitted, which releases write locks as soon as the write
// completes.
func (lt *LockTable) Release(key []byte, txID uint64) {
	keyStr := string(key)

	lt.mu.Lock()
	e := lt.entries[keyStr]
	if keys := lt.held[txID]; keys != nil {
		delete(keys, keyStr)
		if len(keys) == 0 {
			delete(lt.held, txID)
		}
	}
	lt.mu.Unlock()

	if e == nil {
		return
	}
	lt.releaseEntry(keyStr, e, txID)
}

// ReleaseAll drops every lock the transaction holds and removes it from
// the wait-for graph. Called exactly once, at commit or abort.
func (lt *LockTable) ReleaseAll(txID uint64) {
	lt.mu.Lock()
	keys := lt.held[txID]
	delete(lt.held, txID)
	type pair struct {
		key string
		e   *lockEntry
	}
	var targets []pair
	for key := range keys {
		if e, ok := lt.entries[key]; ok {
			targets = append(targets, pair{key, e})
		}
	}
	lt.mu.Unlock()

	for _, t := range targets {
		lt.releaseEntry(t.key, t.e, txID)
	}
	lt.graph.RemoveTransaction(txID)
}

func (lt *LockTable) releaseEntry(key string, e *lockEntry, txID uint64) {
	e.mu.Lock()
	_, held := e.holders[txID]
	if held {
		delete(e.holders, txID)
		e.broadcast()
	}
	empty := len(e.holders) == 0 && e.waiting == 0
	e.mu.Unlock()

	if empty {
		lt.mu.Lock()
		if cur, ok := lt.entries[key]; ok && cur == e {
			e.mu.Lock()
			if len(e.holders) == 0 && e.waiting == 0 {
				delete(lt.entries, key)
			}
			e.mu.Unlock()
		}
		lt.mu.Unlock()
	}
}

// HeldCount returns the number of keys the transaction currently holds
// locks on.
func (lt *LockTable) HeldCount(txID uint64) int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return len(lt.held[txID])
}

// TotalLocks returns the number of keys with at least one holder.
func (lt *LockTable) TotalLocks() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	total := 0
	for _, e := range lt.entries {
		e.mu.Lock()
		if len(e.holders) > 0 {
			total++
		}
		e.mu.Unlock()
	}
	return total
}
