//go:build !linux

// pkg/wal/sync_other.go
package wal

import pkgerrors "github.com/pkg/errors"

// sync flushes appended records to stable storage. Caller holds w.mu.
func (w *WAL) sync() error {
	if err := w.file.Sync(); err != nil {
		return pkgerrors.Wrap(err, "syncing log")
	}
	return nil
}
