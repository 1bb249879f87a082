// pkg/mvcc/recovery.go
package mvcc

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"strata/pkg/wal"
)

// RecoveryStats summarizes a log replay.
type RecoveryStats struct {
	Records      int    // Log records scanned
	Committed    int    // Transactions redone
	Discarded    int    // Transactions with no terminal record, discarded
	Aborted      int    // Transactions with an abort record
	MaxCommitTS  uint64 // Highest commit timestamp replayed
	HighestTxnID uint64 // Highest transaction ID seen
}

// Recover replays the write-ahead log into the version store. It must
// run once, before any Begin.
//
// Every transaction with a commit record has its operations redone with
// the recorded commit timestamp, in commit order; transactions with no
// terminal record are discarded, which is the whole of undo under
// version-discard semantics: their versions simply never materialize.
// The commit counter and ID sequence resume past everything replayed.
//
// Replay is idempotent: applying the same log twice yields the same
// store contents. A log integrity failure halts recovery with the
// underlying wal.ErrCorrupted; no record is ever skipped silently.
func (m *TransactionManager) Recover() (*RecoveryStats, error) {
	stats := &RecoveryStats{}
	if m.log == nil {
		return stats, nil
	}

	records, err := m.log.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "recovery: reading log")
	}
	stats.Records = len(records)

	// First pass: terminal outcome per transaction.
	commitTS := make(map[uint64]uint64)
	aborted := make(map[uint64]struct{})
	seen := make(map[uint64]struct{})

	for _, rec := range records {
		seen[rec.TxnID] = struct{}{}
		if rec.TxnID > stats.HighestTxnID {
			stats.HighestTxnID = rec.TxnID
		}
		switch rec.Kind {
		case wal.KindCommit:
			commitTS[rec.TxnID] = rec.CommitTS
			if rec.CommitTS > stats.MaxCommitTS {
				stats.MaxCommitTS = rec.CommitTS
			}
		case wal.KindAbort:
			aborted[rec.TxnID] = struct{}{}
		}
	}

	// Second pass: collapse each committed transaction's operations to
	// its final write set, preserving log order within the transaction.
	type redoOp struct {
		value     []byte
		tombstone bool
	}
	redo := make(map[uint64]map[string]redoOp)
	redoKeys := make(map[uint64][]string) // keys in first-write order

	for _, rec := range records {
		if rec.Kind != wal.KindPut && rec.Kind != wal.KindDelete {
			continue
		}
		if _, ok := commitTS[rec.TxnID]; !ok {
			continue
		}
		ops := redo[rec.TxnID]
		if ops == nil {
			ops = make(map[string]redoOp)
			redo[rec.TxnID] = ops
		}
		keyStr := string(rec.Key)
		if _, dup := ops[keyStr]; !dup {
			redoKeys[rec.TxnID] = append(redoKeys[rec.TxnID], keyStr)
		}
		ops[keyStr] = redoOp{value: rec.Value, tombstone: rec.Kind == wal.KindDelete}
	}

	// Redo in commit-timestamp order so every chain receives its
	// versions oldest first.
	committed := make([]uint64, 0, len(commitTS))
	for txID := range commitTS {
		committed = append(committed, txID)
	}
	sort.Slice(committed, func(i, j int) bool {
		return commitTS[committed[i]] < commitTS[committed[j]]
	})

	for _, txID := range committed {
		ts := commitTS[txID]
		for _, keyStr := range redoKeys[txID] {
			op := redo[txID][keyStr]
			m.store.ApplyCommitted([]byte(keyStr), op.value, txID, ts, op.tombstone)
		}
	}

	stats.Committed = len(commitTS)
	stats.Aborted = len(aborted)
	stats.Discarded = len(seen) - len(commitTS) - len(aborted)

	m.restoreClock(stats.MaxCommitTS)
	m.restoreTxID(stats.HighestTxnID)

	m.logger.WithFields(logrus.Fields{
		"records":   stats.Records,
		"committed": stats.Committed,
		"aborted":   stats.Aborted,
		"discarded": stats.Discarded,
		"commit_ts": stats.MaxCommitTS,
	}).Info("recovery complete")

	return stats, nil
}
