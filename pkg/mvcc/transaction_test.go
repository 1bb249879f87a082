// pkg/mvcc/transaction_test.go
package mvcc

import (
	"errors"
	"testing"
)

func TestTransactionStateTransitions(t *testing.T) {
	tx := NewTransaction(1, 10, ReadCommitted)
	if !tx.IsActive() {
		t.Fatal("new transaction must be active")
	}
	if tx.StartTS() != 10 {
		t.Errorf("StartTS = %d, want 10", tx.StartTS())
	}

	if err := tx.markCommitted(11); err != nil {
		t.Fatal(err)
	}
	if !tx.IsCommitted() || tx.CommitTS() != 11 {
		t.Errorf("state = %v commitTS = %d, want Committed at 11", tx.State(), tx.CommitTS())
	}

	// A committed transaction can neither commit again nor abort.
	if err := tx.markCommitted(12); !errors.Is(err, ErrTxNotActive) {
		t.Errorf("second commit err = %v, want ErrTxNotActive", err)
	}
	if err := tx.markAborted(); !errors.Is(err, ErrTxNotActive) {
		t.Errorf("abort after commit err = %v, want ErrTxNotActive", err)
	}
}

func TestTransactionAbortIdempotent(t *testing.T) {
	tx := NewTransaction(1, 0, ReadCommitted)
	if err := tx.markAborted(); err != nil {
		t.Fatal(err)
	}
	if err := tx.markAborted(); err != nil {
		t.Errorf("second abort err = %v, want nil", err)
	}
	if !tx.IsAborted() {
		t.Error("transaction must be aborted")
	}
}

func TestTransactionReadSetFirstObservationWins(t *testing.T) {
	tx := NewTransaction(1, 0, RepeatableRead)
	tx.recordRead([]byte("k"), 5)
	tx.recordRead([]byte("k"), 9)

	if ts := tx.readKeys()["k"]; ts != 5 {
		t.Errorf("recorded ts = %d, want the first observation 5", ts)
	}
}

func TestTransactionWriteSet(t *testing.T) {
	tx := NewTransaction(1, 0, ReadCommitted)
	tx.recordWrite([]byte("a"), false)
	tx.recordWrite([]byte("b"), true)
	tx.recordWrite([]byte("a"), true)

	keys := tx.writeKeys()
	if len(keys) != 2 {
		t.Errorf("writeKeys = %v, want 2 distinct keys", keys)
	}
}

func TestTxStateString(t *testing.T) {
	if TxStateActive.String() != "Active" || TxStateCommitted.String() != "Committed" || TxStateAborted.String() != "Aborted" {
		t.Error("unexpected TxState string values")
	}
}
