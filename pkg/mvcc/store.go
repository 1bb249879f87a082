// pkg/mvcc/store.go
package mvcc

import (
	"sync"

	"github.com/tidwall/btree"
)

// KV is a key-value pair returned by range scans.
type KV struct {
	Key   []byte
	Value []byte
}

// VersionStore maps keys to version chains. The key index is an ordered
// B-tree so range scans see keys in order; each chain carries its own
// lock, so reads and writes on unrelated keys never contend. The store
// is pure mechanism: which version a caller may see is decided by the
// isolation policy through the boundary arguments below.
type VersionStore struct {
	mu    sync.RWMutex // guards the index structure, not the chains
	index btree.Map[string, *VersionChain]
}

// NewVersionStore creates an empty version store.
func NewVersionStore() *VersionStore {
	return &VersionStore{}
}

func (s *VersionStore) chain(key []byte) *VersionChain {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, _ := s.index.Get(string(key))
	return c
}

func (s *VersionStore) ensureChain(key []byte) *VersionChain {
	s.mu.Lock()
	defer s.mu.Unlock()

	keyStr := string(key)
	if c, ok := s.index.Get(keyStr); ok {
		return c
	}
	c := NewVersionChain(key)
	s.index.Set(keyStr, c)
	return c
}

// resolve turns a version into a read result: tombstones and missing
// versions both surface as ErrKeyNotFound.
func resolve(v *Version) ([]byte, uint64, error) {
	if v == nil || v.Tombstone() {
		return nil, 0, ErrKeyNotFound
	}
	return v.Value(), v.CommitTS(), nil
}

// ReadAt returns the value visible at the given snapshot boundary: the
// reader's own pending version if present, otherwise the newest version
// with commitTS <= boundary. The second return value is the commit
// timestamp of the observed version (0 for the reader's own pending
// write), used for read-set validation.
func (s *VersionStore) ReadAt(key []byte, boundary, readerID uint64) ([]byte, uint64, error) {
	c := s.chain(key)
	if c == nil {
		return nil, 0, ErrKeyNotFound
	}
	if own := c.pendingFor(readerID); own != nil {
		return resolve(own)
	}
	return resolve(c.committedAt(boundary))
}

// ReadLatestCommitted returns the newest committed value regardless of
// the reader's snapshot. Used by ReadCommitted, which re-evaluates
// visibility on every read.
func (s *VersionStore) ReadLatestCommitted(key []byte, readerID uint64) ([]byte, uint64, error) {
	c := s.chain(key)
	if c == nil {
		return nil, 0, ErrKeyNotFound
	}
	if own := c.pendingFor(readerID); own != nil {
		return resolve(own)
	}
	return resolve(c.newestCommitted())
}

// ReadLatest returns the newest version regardless of commit state,
// including other transactions' uncommitted writes. Used by
// ReadUncommitted only.
func (s *VersionStore) ReadLatest(key []byte, readerID uint64) ([]byte, uint64, error) {
	c := s.chain(key)
	if c == nil {
		return nil, 0, ErrKeyNotFound
	}
	if own := c.pendingFor(readerID); own != nil {
		return resolve(own)
	}
	return resolve(c.newest())
}

// Write appends a pending version for the transaction. The chain grows;
// nothing is removed here.
func (s *VersionStore) Write(key []byte, writerID uint64, value []byte, tombstone bool) {
	s.ensureChain(key).addPending(value, writerID, tombstone)
}

// Commit stamps the transaction's pending version on key with commitTS,
// making it visible to any boundary >= commitTS.
func (s *VersionStore) Commit(key []byte, writerID, commitTS uint64) {
	if c := s.chain(key); c != nil {
		c.stamp(writerID, commitTS)
	}
}

// Abort discards the transaction's pending version on key.
func (s *VersionStore) Abort(key []byte, writerID uint64) {
	if c := s.chain(key); c != nil {
		c.drop(writerID)
	}
}

// NewestCommitTS returns the commit timestamp of the newest committed
// version for key, or 0 if the key has never been committed.
func (s *VersionStore) NewestCommitTS(key []byte) uint64 {
	c := s.chain(key)
	if c == nil {
		return 0
	}
	return c.newestCommitTS()
}

// ScanAt returns all keys in [lo, hi) with a visible, non-deleted value
// at the given boundary, in key order. The reader's own pending writes
// are included.
func (s *VersionStore) ScanAt(lo, hi []byte, boundary, readerID uint64) []KV {
	var out []KV
	s.ascendRange(lo, hi, func(keyStr string, c *VersionChain) {
		v := c.pendingFor(readerID)
		if v == nil {
			v = c.committedAt(boundary)
		}
		if v != nil && !v.Tombstone() {
			out = append(out, KV{Key: []byte(keyStr), Value: v.Value()})
		}
	})
	return out
}

// AnyCommittedInRange reports whether any key in [lo, hi) has a version
// committed after the given timestamp. Serializable commit validation
// uses this to detect phantoms within registered predicates.
func (s *VersionStore) AnyCommittedInRange(lo, hi []byte, afterTS uint64) bool {
	found := false
	s.ascendRange(lo, hi, func(_ string, c *VersionChain) {
		if !found && c.newestCommitTS() > afterTS {
			found = true
		}
	})
	return found
}

// ascendRange walks chains for keys in [lo, hi) in ascending key order.
// An empty hi means "to the end of the keyspace".
func (s *VersionStore) ascendRange(lo, hi []byte, fn func(key string, c *VersionChain)) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hiStr := string(hi)
	s.index.Ascend(string(lo), func(keyStr string, c *VersionChain) bool {
		if len(hi) > 0 && keyStr >= hiStr {
			return false
		}
		fn(keyStr, c)
		return true
	})
}

// ApplyCommitted installs an already-committed version, used when
// replaying the log or loading a checkpoint. Versions must arrive in
// ascending commit-timestamp order. Applying the same (writer, commitTS)
// pair twice is a no-op, which keeps replay idempotent.
func (s *VersionStore) ApplyCommitted(key []byte, value []byte, writerID, commitTS uint64, tombstone bool) {
	c := s.ensureChain(key)
	if c.hasCommitted(writerID, commitTS) {
		return
	}
	c.applyCommitted(value, writerID, commitTS, tombstone)
}

// CommittedSnapshot returns the newest committed version of every key,
// in key order, including tombstones. Used to write checkpoints.
func (s *VersionStore) CommittedSnapshot() []SnapshotEntry {
	var out []SnapshotEntry
	s.ascendRange(nil, nil, func(keyStr string, c *VersionChain) {
		if v := c.newestCommitted(); v != nil {
			out = append(out, SnapshotEntry{
				Key:       []byte(keyStr),
				Value:     v.Value(),
				WriterID:  v.WriterID(),
				CommitTS:  v.CommitTS(),
				Tombstone: v.Tombstone(),
			})
		}
	})
	return out
}

// SnapshotEntry is one key's newest committed state.
type SnapshotEntry struct {
	Key       []byte
	Value     []byte
	WriterID  uint64
	CommitTS  uint64
	Tombstone bool
}

// GarbageCollect prunes versions no active snapshot can reference.
// minActiveTS is the smallest start timestamp among active transactions
// (or the current timestamp if none are active). The newest committed
// version of each key is never pruned. Returns the number of versions
// removed.
func (s *VersionStore) GarbageCollect(minActiveTS uint64) int {
	pruned := 0
	s.ascendRange(nil, nil, func(_ string, c *VersionChain) {
		pruned += c.prune(minActiveTS)
	})
	return pruned
}

// Len returns the number of keys with at least one version.
func (s *VersionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len()
}
