// pkg/mvcc/predicate.go
package mvcc

import "sync"

// keyRange is a half-open key interval [lo, hi). An empty hi means the
// range extends to the end of the keyspace.
type keyRange struct {
	lo, hi []byte
}

// PredicateTable registers the key ranges a Serializable transaction has
// scanned. At commit the ranges are re-checked against versions
// committed after the transaction's snapshot; an overlapping insert is a
// phantom and fails validation.
type PredicateTable struct {
	mu     sync.Mutex
	ranges map[uint64][]keyRange
}

// NewPredicateTable creates an empty predicate table.
func NewPredicateTable() *PredicateTable {
	return &PredicateTable{
		ranges: make(map[uint64][]keyRange),
	}
}

// Register records that the transaction scanned [lo, hi).
func (pt *PredicateTable) Register(txID uint64, lo, hi []byte) {
	loCopy := make([]byte, len(lo))
	copy(loCopy, lo)
	var hiCopy []byte
	if hi != nil {
		hiCopy = make([]byte, len(hi))
		copy(hiCopy, hi)
	}

	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.ranges[txID] = append(pt.ranges[txID], keyRange{lo: loCopy, hi: hiCopy})
}

// RangesFor returns the ranges registered by the transaction.
func (pt *PredicateTable) RangesFor(txID uint64) []keyRange {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	out := make([]keyRange, len(pt.ranges[txID]))
	copy(out, pt.ranges[txID])
	return out
}

// Drop removes all predicates for a transaction. Called at commit or
// abort.
func (pt *PredicateTable) Drop(txID uint64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	delete(pt.ranges, txID)
}

// Count returns the number of transactions with registered predicates.
func (pt *PredicateTable) Count() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return len(pt.ranges)
}
