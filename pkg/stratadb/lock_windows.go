//go:build windows

// pkg/stratadb/lock_windows.go
package stratadb

import (
	"os"

	"golang.org/x/sys/windows"
)

// lockFileExclusive acquires an exclusive lock on the given file.
// Returns ErrDatabaseLocked if another process holds it.
func lockFileExclusive(f *os.File) error {
	handle := windows.Handle(f.Fd())
	overlapped := &windows.Overlapped{}

	err := windows.LockFileEx(handle,
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0, 1, 0, overlapped)
	if err != nil {
		if err == windows.ERROR_LOCK_VIOLATION {
			return ErrDatabaseLocked
		}
		return err
	}
	return nil
}

// unlockFileExclusive releases the lock on the given file.
func unlockFileExclusive(f *os.File) error {
	handle := windows.Handle(f.Fd())
	overlapped := &windows.Overlapped{}
	return windows.UnlockFileEx(handle, 0, 1, 0, overlapped)
}
