// pkg/stratadb/db.go
package stratadb

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"strata/pkg/config"
	"strata/pkg/mvcc"
	"strata/pkg/wal"
)

var (
	// ErrDatabaseClosed is returned when attempting operations on a
	// closed database.
	ErrDatabaseClosed = errors.New("database is closed")

	// ErrDatabaseLocked is returned when the data directory is already
	// locked by another process.
	ErrDatabaseLocked = errors.New("database is locked by another process")
)

const (
	walFileName        = "strata.wal"
	checkpointFileName = "strata.ckpt"
	lockFileName       = "LOCK"
)

// DB is an open database handle and the main entry point for
// transactional operations. Recovery runs inside Open, before any
// transaction can begin.
type DB struct {
	mu sync.RWMutex

	dir      string
	cfg      *config.Config
	lockFile *os.File

	log     *wal.WAL
	store   *mvcc.VersionStore
	manager *mvcc.TransactionManager

	gcStop chan struct{}
	gcDone chan struct{}

	closed bool

	logger *logrus.Entry
}

// Open opens the database in dir with default configuration, creating
// the directory if needed. The caller is responsible for calling Close
// when done.
func Open(dir string) (*DB, error) {
	cfg := config.NewDefaultConfig()
	cfg.Dir = dir
	return OpenWithConfig(cfg)
}

// OpenWithConfig opens the database described by cfg.
func OpenWithConfig(cfg *config.Config) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, err
	}

	// One process at a time: hold an exclusive lock for the lifetime
	// of the handle.
	lockFile, err := os.OpenFile(filepath.Join(cfg.Dir, lockFileName), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	if err := lockFileExclusive(lockFile); err != nil {
		lockFile.Close()
		return nil, err
	}

	db := &DB{
		dir:      cfg.Dir,
		cfg:      cfg,
		lockFile: lockFile,
		store:    mvcc.NewVersionStore(),
		logger:   logrus.WithField("component", "stratadb"),
	}

	cleanup := func() {
		if db.log != nil {
			db.log.Close()
		}
		unlockFileExclusive(lockFile)
		lockFile.Close()
	}

	// Committed state checkpointed before the last log reset comes
	// back first; the log replay layers everything since on top.
	entries, err := wal.ReadCheckpoint(db.checkpointPath())
	if err != nil {
		cleanup()
		return nil, err
	}
	var maxTS uint64
	for _, e := range entries {
		db.store.ApplyCommitted(e.Key, e.Value, e.WriterID, e.CommitTS, e.Tombstone)
		if e.CommitTS > maxTS {
			maxTS = e.CommitTS
		}
	}

	db.log, err = wal.Open(filepath.Join(cfg.Dir, walFileName))
	if err != nil {
		cleanup()
		return nil, err
	}

	db.manager = mvcc.NewTransactionManager(db.store, db.log)
	db.manager.SetLockTimeout(cfg.LockWaitTimeout.Duration)
	db.manager.RestoreClock(maxTS)

	if _, err := db.manager.Recover(); err != nil {
		cleanup()
		return nil, err
	}

	if cfg.GCInterval.Duration > 0 {
		db.gcStop = make(chan struct{})
		db.gcDone = make(chan struct{})
		go db.gcLoop(cfg.GCInterval.Duration)
	}

	return db, nil
}

func (db *DB) checkpointPath() string {
	return filepath.Join(db.dir, checkpointFileName)
}

// gcLoop prunes unreachable versions in the background.
func (db *DB) gcLoop(interval time.Duration) {
	defer close(db.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			db.manager.GarbageCollect()
		case <-db.gcStop:
			return
		}
	}
}

// Checkpoint snapshots committed state and resets the log. Fails with
// mvcc.ErrCheckpointBusy while transactions are active.
func (db *DB) Checkpoint() error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return ErrDatabaseClosed
	}
	_, err := db.manager.Checkpoint(db.checkpointPath())
	return err
}

// maybeCheckpoint runs a checkpoint when the log has grown past the
// configured threshold. A busy engine is fine; the next commit tries
// again.
func (db *DB) maybeCheckpoint() {
	if db.cfg.CheckpointEvery == 0 {
		return
	}
	if db.manager.WALRecordCount() < db.cfg.CheckpointEvery {
		return
	}
	if err := db.Checkpoint(); err != nil && !errors.Is(err, mvcc.ErrCheckpointBusy) {
		db.logger.WithError(err).Warn("automatic checkpoint failed")
	}
}

// GarbageCollect prunes versions no active snapshot can reference and
// returns the number pruned.
func (db *DB) GarbageCollect() int {
	return db.manager.GarbageCollect()
}

// Stats describes the engine's current footprint.
type Stats struct {
	ActiveTransactions int
	Keys               int
	LockedKeys         int
	CommitTS           uint64
	WALRecords         uint64
}

// Stats returns a snapshot of engine counters.
func (db *DB) Stats() Stats {
	s := db.manager.Stats()
	return Stats{
		ActiveTransactions: s.ActiveTransactions,
		Keys:               s.Keys,
		LockedKeys:         s.LockedKeys,
		CommitTS:           s.CommitTS,
		WALRecords:         db.manager.WALRecordCount(),
	}
}

// Close shuts the database down. Active transactions are not waited
// for; their pending versions are simply never committed, and recovery
// discards their log records.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	if db.gcStop != nil {
		close(db.gcStop)
		<-db.gcDone
	}

	err := db.log.Close()

	if unlockErr := unlockFileExclusive(db.lockFile); unlockErr != nil && err == nil {
		err = unlockErr
	}
	if closeErr := db.lockFile.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
