//go:build !windows

// pkg/stratadb/lock_unix.go
package stratadb

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// lockFileExclusive acquires an exclusive lock on the given file.
// Returns ErrDatabaseLocked if another process holds it.
func lockFileExclusive(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return ErrDatabaseLocked
		}
		return err
	}
	return nil
}

// unlockFileExclusive releases the lock on the given file.
func unlockFileExclusive(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
