// pkg/mvcc/isolation_test.go
package mvcc

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

// newTestManager returns an in-memory manager with no log attached.
func newTestManager(t *testing.T) *TransactionManager {
	t.Helper()
	return NewTransactionManager(NewVersionStore(), nil)
}

// mustCommit writes key=value in its own transaction and commits.
func mustCommit(t *testing.T, m *TransactionManager, key, value string) {
	t.Helper()
	tx, err := m.Begin(ReadCommitted)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Write(tx, []byte(key), []byte(value)); err != nil {
		t.Fatal(err)
	}
	if err := m.Commit(tx); err != nil {
		t.Fatal(err)
	}
}

func TestParseIsolationLevel(t *testing.T) {
	for _, level := range []IsolationLevel{
		ReadUncommitted, ReadCommitted, RepeatableRead, Serializable, SnapshotIsolation,
	} {
		parsed, err := ParseIsolationLevel(level.String())
		if err != nil {
			t.Fatal(err)
		}
		if parsed != level {
			t.Errorf("round trip of %s = %s", level, parsed)
		}
	}
	if _, err := ParseIsolationLevel("Chaos"); err == nil {
		t.Error("expected an error for an unknown level")
	}
}

func TestReadUncommittedSeesDirtyWrite(t *testing.T) {
	m := newTestManager(t)

	writer, _ := m.Begin(ReadUncommitted)
	if err := m.Write(writer, []byte("k"), []byte("dirty")); err != nil {
		t.Fatal(err)
	}

	reader, _ := m.Begin(ReadUncommitted)
	value, err := m.Read(reader, []byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(value, []byte("dirty")) {
		t.Errorf("read = %q, want the uncommitted value", value)
	}
}

func TestReadCommittedNoDirtyRead(t *testing.T) {
	m := newTestManager(t)
	mustCommit(t, m, "k", "clean")

	writer, _ := m.Begin(ReadUncommitted)
	if err := m.Write(writer, []byte("k"), []byte("dirty")); err != nil {
		t.Fatal(err)
	}

	reader, _ := m.Begin(ReadCommitted)
	value, err := m.Read(reader, []byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(value, []byte("clean")) {
		t.Errorf("read = %q, want the committed value", value)
	}
}

func TestReadCommittedSeesNewCommits(t *testing.T) {
	m := newTestManager(t)
	mustCommit(t, m, "k", "v1")

	reader, _ := m.Begin(ReadCommitted)
	value, err := m.Read(reader, []byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(value, []byte("v1")) {
		t.Fatalf("first read = %q, want v1", value)
	}

	mustCommit(t, m, "k", "v2")

	// Non-repeatable reads are allowed at this level.
	value, err = m.Read(reader, []byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(value, []byte("v2")) {
		t.Errorf("second read = %q, want v2", value)
	}
}

func TestReadCommittedReleasesWriteLockEarly(t *testing.T) {
	m := newTestManager(t)
	m.SetLockTimeout(50 * time.Millisecond)

	tx1, _ := m.Begin(ReadCommitted)
	if err := m.Write(tx1, []byte("k"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if held := m.LockTable().HeldCount(tx1.ID()); held != 0 {
		t.Errorf("locks held after write = %d, want 0", held)
	}

	// Another writer gets the lock while tx1 is still active.
	tx2, _ := m.Begin(ReadCommitted)
	if err := m.Write(tx2, []byte("k"), []byte("v2")); err != nil {
		t.Errorf("concurrent write: %v", err)
	}
}

func TestRepeatableReadStableSnapshot(t *testing.T) {
	m := newTestManager(t)
	mustCommit(t, m, "k", "v1")

	reader, _ := m.Begin(RepeatableRead)
	value, err := m.Read(reader, []byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(value, []byte("v1")) {
		t.Fatalf("first read = %q, want v1", value)
	}

	// A lock-free writer commits a newer version underneath the snapshot.
	writer, _ := m.Begin(SnapshotIsolation)
	if err := m.Write(writer, []byte("k"), []byte("v2")); err != nil {
		t.Fatal(err)
	}
	if err := m.Commit(writer); err != nil {
		t.Fatal(err)
	}

	value, err = m.Read(reader, []byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(value, []byte("v1")) {
		t.Errorf("second read = %q, want the snapshot value v1", value)
	}
}

func TestRepeatableReadMissingKeyStaysMissing(t *testing.T) {
	m := newTestManager(t)

	reader, _ := m.Begin(RepeatableRead)
	if _, err := m.Read(reader, []byte("k")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("err = %v, want ErrKeyNotFound", err)
	}

	writer, _ := m.Begin(SnapshotIsolation)
	if err := m.Write(writer, []byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := m.Commit(writer); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Read(reader, []byte("k")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("err = %v, want ErrKeyNotFound from the snapshot", err)
	}
}

func TestRepeatableReadHoldsLocksToEnd(t *testing.T) {
	m := newTestManager(t)
	m.SetLockTimeout(50 * time.Millisecond)
	mustCommit(t, m, "k", "v")

	tx1, _ := m.Begin(RepeatableRead)
	if _, err := m.Read(tx1, []byte("k")); err != nil {
		t.Fatal(err)
	}

	// A shared lock on k blocks concurrent writers until tx1 ends.
	tx2, _ := m.Begin(RepeatableRead)
	if err := m.Write(tx2, []byte("k"), []byte("v2")); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("write against read lock: err = %v, want ErrLockTimeout", err)
	}
	if err := m.Abort(tx2); err != nil {
		t.Fatal(err)
	}

	if err := m.Commit(tx1); err != nil {
		t.Fatal(err)
	}
	if held := m.LockTable().HeldCount(tx1.ID()); held != 0 {
		t.Errorf("locks held after commit = %d, want 0", held)
	}

	tx3, _ := m.Begin(RepeatableRead)
	if err := m.Write(tx3, []byte("k"), []byte("v3")); err != nil {
		t.Errorf("write after reader finished: %v", err)
	}
}

func TestRepeatableReadReadBlockedByWriter(t *testing.T) {
	m := newTestManager(t)
	m.SetLockTimeout(50 * time.Millisecond)
	mustCommit(t, m, "k", "v")

	writer, _ := m.Begin(RepeatableRead)
	if err := m.Write(writer, []byte("k"), []byte("v2")); err != nil {
		t.Fatal(err)
	}

	// The exclusive write lock blocks the shared read lock; the wait
	// surfaces as a lock error with no value.
	reader, _ := m.Begin(RepeatableRead)
	value, err := m.Read(reader, []byte("k"))
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("read err = %v, want ErrLockTimeout", err)
	}
	if value != nil {
		t.Errorf("value = %q, want nil on a lock error", value)
	}

	if err := m.Abort(writer); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Read(reader, []byte("k")); err != nil {
		t.Errorf("read after writer abort: %v", err)
	}
}

func TestSerializableReadSetValidation(t *testing.T) {
	m := newTestManager(t)
	mustCommit(t, m, "k", "v1")

	tx, _ := m.Begin(Serializable)
	if _, err := m.Read(tx, []byte("k")); err != nil {
		t.Fatal(err)
	}

	writer, _ := m.Begin(SnapshotIsolation)
	if err := m.Write(writer, []byte("k"), []byte("v2")); err != nil {
		t.Fatal(err)
	}
	if err := m.Commit(writer); err != nil {
		t.Fatal(err)
	}

	if err := m.Commit(tx); !errors.Is(err, ErrSerializationFailure) {
		t.Fatalf("commit err = %v, want ErrSerializationFailure", err)
	}
	if !tx.IsAborted() {
		t.Error("failed validation must leave the transaction aborted")
	}
}

func TestSerializablePhantomRejected(t *testing.T) {
	m := newTestManager(t)
	mustCommit(t, m, "b", "v")

	tx, _ := m.Begin(Serializable)
	kvs, err := m.Scan(tx, []byte("a"), []byte("z"))
	if err != nil {
		t.Fatal(err)
	}
	if len(kvs) != 1 {
		t.Fatalf("scan = %v, want 1 row", kvs)
	}

	// A key committed into the scanned range after the snapshot is a
	// phantom.
	writer, _ := m.Begin(SnapshotIsolation)
	if err := m.Write(writer, []byte("m"), []byte("new")); err != nil {
		t.Fatal(err)
	}
	if err := m.Commit(writer); err != nil {
		t.Fatal(err)
	}

	if err := m.Commit(tx); !errors.Is(err, ErrSerializationFailure) {
		t.Fatalf("commit err = %v, want ErrSerializationFailure", err)
	}
}

func TestSerializableCleanCommit(t *testing.T) {
	m := newTestManager(t)
	mustCommit(t, m, "a", "v")

	tx, _ := m.Begin(Serializable)
	if _, err := m.Read(tx, []byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Scan(tx, []byte("a"), []byte("z")); err != nil {
		t.Fatal(err)
	}
	if err := m.Write(tx, []byte("b"), []byte("w")); err != nil {
		t.Fatal(err)
	}
	if err := m.Commit(tx); err != nil {
		t.Errorf("commit err = %v, want success without contention", err)
	}
}

func TestSnapshotIsolationFirstCommitterWins(t *testing.T) {
	m := newTestManager(t)
	mustCommit(t, m, "k", "v0")

	tx1, _ := m.Begin(SnapshotIsolation)
	tx2, _ := m.Begin(SnapshotIsolation)

	if err := m.Write(tx1, []byte("k"), []byte("from-tx1")); err != nil {
		t.Fatal(err)
	}
	if err := m.Write(tx2, []byte("k"), []byte("from-tx2")); err != nil {
		t.Fatal(err)
	}

	if err := m.Commit(tx1); err != nil {
		t.Fatalf("first committer err = %v", err)
	}
	if err := m.Commit(tx2); !errors.Is(err, ErrSerializationFailure) {
		t.Fatalf("second committer err = %v, want ErrSerializationFailure", err)
	}
	if !tx2.IsAborted() {
		t.Error("loser must be aborted")
	}

	reader, _ := m.Begin(ReadCommitted)
	value, err := m.Read(reader, []byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(value, []byte("from-tx1")) {
		t.Errorf("final value = %q, want from-tx1", value)
	}
}

func TestSnapshotIsolationDisjointWritesCommit(t *testing.T) {
	m := newTestManager(t)

	tx1, _ := m.Begin(SnapshotIsolation)
	tx2, _ := m.Begin(SnapshotIsolation)
	if err := m.Write(tx1, []byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := m.Write(tx2, []byte("b"), []byte("2")); err != nil {
		t.Fatal(err)
	}

	if err := m.Commit(tx1); err != nil {
		t.Fatal(err)
	}
	if err := m.Commit(tx2); err != nil {
		t.Errorf("disjoint write sets must both commit, got %v", err)
	}
}

func TestSnapshotIsolationReadsAreStable(t *testing.T) {
	m := newTestManager(t)
	mustCommit(t, m, "k", "v1")

	tx, _ := m.Begin(SnapshotIsolation)
	mustCommit(t, m, "k", "v2")

	value, err := m.Read(tx, []byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(value, []byte("v1")) {
		t.Errorf("snapshot read = %q, want v1", value)
	}
}
