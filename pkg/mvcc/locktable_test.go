// pkg/mvcc/locktable_test.go
package mvcc

import (
	"errors"
	"testing"
	"time"
)

func TestLockTableSharedCoexist(t *testing.T) {
	lt := NewLockTable()
	key := []byte("k")

	if err := lt.Acquire(key, 1, LockShared, 0); err != nil {
		t.Fatal(err)
	}
	if err := lt.Acquire(key, 2, LockShared, 0); err != nil {
		t.Fatalf("second shared acquire: %v", err)
	}
	if lt.TotalLocks() != 1 {
		t.Errorf("TotalLocks = %d, want 1", lt.TotalLocks())
	}
}

func TestLockTableExclusiveConflict(t *testing.T) {
	lt := NewLockTable()
	key := []byte("k")

	if err := lt.Acquire(key, 1, LockExclusive, 0); err != nil {
		t.Fatal(err)
	}
	if err := lt.Acquire(key, 2, LockShared, 0); !errors.Is(err, ErrLockConflict) {
		t.Errorf("shared vs exclusive: err = %v, want ErrLockConflict", err)
	}
	if err := lt.Acquire(key, 2, LockExclusive, 0); !errors.Is(err, ErrLockConflict) {
		t.Errorf("exclusive vs exclusive: err = %v, want ErrLockConflict", err)
	}

	// The holder itself reacquires freely.
	if err := lt.Acquire(key, 1, LockExclusive, 0); err != nil {
		t.Errorf("reacquire by holder: %v", err)
	}
}

func TestLockTableTimeout(t *testing.T) {
	lt := NewLockTable()
	key := []byte("k")

	if err := lt.Acquire(key, 1, LockExclusive, 0); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	err := lt.Acquire(key, 2, LockExclusive, 50*time.Millisecond)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("err = %v, want ErrLockTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("returned after %v, want the wait to run out", elapsed)
	}
}

func TestLockTableUpgrade(t *testing.T) {
	lt := NewLockTable()
	key := []byte("k")

	// Sole shared holder upgrades in place.
	if err := lt.Acquire(key, 1, LockShared, 0); err != nil {
		t.Fatal(err)
	}
	if err := lt.Acquire(key, 1, LockExclusive, 0); err != nil {
		t.Fatalf("upgrade as sole holder: %v", err)
	}
	if err := lt.Acquire(key, 2, LockShared, 0); !errors.Is(err, ErrLockConflict) {
		t.Errorf("post-upgrade shared acquire: err = %v, want ErrLockConflict", err)
	}
	lt.ReleaseAll(1)

	// With a second shared holder the upgrade must wait.
	if err := lt.Acquire(key, 1, LockShared, 0); err != nil {
		t.Fatal(err)
	}
	if err := lt.Acquire(key, 2, LockShared, 0); err != nil {
		t.Fatal(err)
	}
	if err := lt.Acquire(key, 1, LockExclusive, 0); !errors.Is(err, ErrLockConflict) {
		t.Errorf("upgrade with co-holder: err = %v, want ErrLockConflict", err)
	}
}

func TestLockTableReleaseWakesWaiter(t *testing.T) {
	lt := NewLockTable()
	key := []byte("k")

	if err := lt.Acquire(key, 1, LockExclusive, 0); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- lt.Acquire(key, 2, LockExclusive, 2*time.Second)
	}()

	time.Sleep(50 * time.Millisecond)
	lt.ReleaseAll(1)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("waiter err = %v, want grant after release", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by release")
	}
	if lt.HeldCount(2) != 1 {
		t.Errorf("HeldCount(2) = %d, want 1", lt.HeldCount(2))
	}
}

func TestLockTableReleaseAll(t *testing.T) {
	lt := NewLockTable()
	for _, key := range []string{"a", "b", "c"} {
		if err := lt.Acquire([]byte(key), 1, LockExclusive, 0); err != nil {
			t.Fatal(err)
		}
	}
	if lt.HeldCount(1) != 3 {
		t.Fatalf("HeldCount = %d, want 3", lt.HeldCount(1))
	}

	lt.ReleaseAll(1)
	if lt.HeldCount(1) != 0 {
		t.Errorf("HeldCount after release = %d, want 0", lt.HeldCount(1))
	}
	if lt.TotalLocks() != 0 {
		t.Errorf("TotalLocks after release = %d, want 0", lt.TotalLocks())
	}
}

func TestLockTableSingleRelease(t *testing.T) {
	lt := NewLockTable()
	if err := lt.Acquire([]byte("a"), 1, LockExclusive, 0); err != nil {
		t.Fatal(err)
	}
	if err := lt.Acquire([]byte("b"), 1, LockExclusive, 0); err != nil {
		t.Fatal(err)
	}

	lt.Release([]byte("a"), 1)
	if err := lt.Acquire([]byte("a"), 2, LockExclusive, 0); err != nil {
		t.Errorf("released key still blocked: %v", err)
	}
	if err := lt.Acquire([]byte("b"), 2, LockExclusive, 0); !errors.Is(err, ErrLockConflict) {
		t.Errorf("unreleased key: err = %v, want ErrLockConflict", err)
	}
}

func TestLockTableDeadlockDetection(t *testing.T) {
	lt := NewLockTable()

	if err := lt.Acquire([]byte("a"), 1, LockExclusive, 0); err != nil {
		t.Fatal(err)
	}
	if err := lt.Acquire([]byte("b"), 2, LockExclusive, 0); err != nil {
		t.Fatal(err)
	}

	// Txn 1 blocks waiting for b, then txn 2 requesting a closes the
	// cycle and is refused immediately.
	done := make(chan error, 1)
	go func() {
		done <- lt.Acquire([]byte("b"), 1, LockExclusive, 5*time.Second)
	}()
	time.Sleep(100 * time.Millisecond)

	if err := lt.Acquire([]byte("a"), 2, LockExclusive, 5*time.Second); !errors.Is(err, ErrDeadlock) {
		t.Fatalf("err = %v, want ErrDeadlock", err)
	}

	// Releasing the victim's locks unblocks the survivor.
	lt.ReleaseAll(2)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("survivor err = %v, want grant", err)
		}
	case <-time.After(time.Second):
		t.Fatal("survivor not granted after victim release")
	}
}
