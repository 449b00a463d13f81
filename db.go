package mvkv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
)

// DB ties a Store to its write-ahead log: every committed batch is logged in
// sequence order, with a snapshot entry every Config.WAL.CheckpointEvery
// batches, so that any logged version can be rebuilt.
type DB struct {
	store  *Store
	log    *Log
	cfg    Config
	logger *slog.Logger

	// writeMu makes Apply the single writer of the log so that log
	// sequences match commit order.
	writeMu         sync.Mutex
	sinceCheckpoint int
	// failed latches the first log failure; once set the store may hold
	// commits the log lacks, so no further batch is accepted.
	failed error
}

// Open opens the DB described by cfg, replaying the log file if there is
// one. A torn or corrupt tail is cut off the file before appending resumes.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "db")
	opts := LogOptions{Logger: logger}
	if cfg.Cache.Snapshots > 0 {
		opts.Cache = NewSnapshotCache(cfg.Cache.Snapshots)
	}

	var log *Log
	if cfg.WAL.Path == "" {
		log = NewLog(opts)
	} else {
		var err error
		log, err = openLogFile(cfg.WAL, opts, logger)
		if err != nil {
			return nil, err
		}
	}

	seq := log.LastSequence()
	m, err := log.GetSnapshot(seq)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("recover sequence %d: %w", seq, err)
	}
	logger.Info("opened", "path", cfg.WAL.Path, "sequence", seq, "count", m.Count())
	return &DB{
		store:  NewStoreAt(StoreVersion{Sequence: seq, Map: m}),
		log:    log,
		cfg:    cfg,
		logger: logger,
	}, nil
}

func openLogFile(cfg WALConfig, opts LogOptions, logger *slog.Logger) (*Log, error) {
	mode, err := ParseSyncMode(cfg.Sync)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(cfg.Path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read log: %w", err)
	}
	log, report, err := OpenLog(bytes.NewReader(data), opts)
	if err != nil {
		return nil, err
	}
	if report.Corrupt {
		logger.Warn("truncating corrupt log tail", "path", cfg.Path, "valid_bytes", report.ValidBytes, "records", report.Records)
		if err := saveTail(cfg.Path+CorruptSuffix, data[report.ValidBytes:]); err != nil {
			return nil, err
		}
		if err := os.Truncate(cfg.Path, report.ValidBytes); err != nil {
			return nil, fmt.Errorf("truncate log: %w", err)
		}
	}
	sink, err := OpenFileSink(cfg.Path, BufferedSinkOptions{
		Mode:       mode,
		BufferSize: cfg.BufferSize,
		QueueSize:  cfg.QueueSize,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	log.sink = sink
	return log, nil
}

// CorruptSuffix names the file, next to the log, that keeps the bytes cut
// off a corrupt log tail.
const CorruptSuffix = ".corrupt"

// saveTail appends tail to path.
func saveTail(path string, tail []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("save corrupt tail: %w", err)
	}
	if _, err := f.Write(tail); err != nil {
		f.Close()
		return fmt.Errorf("save corrupt tail: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("save corrupt tail: %w", err)
	}
	return f.Close()
}

// Apply commits ops to the store and logs them, returning the new sequence.
// ctx only bounds the commit: once committed, the batch is logged even if
// ctx is done. If logging fails the commit stays visible in memory, the
// error is returned, and every later Apply fails with it.
func (db *DB) Apply(ctx context.Context, ops []ChangeOperation) (uint64, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if db.failed != nil {
		return 0, db.failed
	}
	seq, err := db.store.Apply(ctx, ops)
	if err != nil {
		return 0, err
	}
	ctx = context.WithoutCancel(ctx)
	if err := db.log.AppendBatch(ctx, ChangeBatch{Sequence: seq, Ops: ops}); err != nil {
		db.failed = fmt.Errorf("log batch %d: %w", seq, err)
		db.logger.Error("log append failed, rejecting further writes", "sequence", seq, "error", err)
		return seq, db.failed
	}
	db.sinceCheckpoint++
	if every := db.cfg.WAL.CheckpointEvery; every > 0 && db.sinceCheckpoint >= every {
		if err := db.checkpoint(ctx); err != nil {
			return seq, err
		}
	}
	return seq, nil
}

// Checkpoint logs a snapshot of the current version.
func (db *DB) Checkpoint(ctx context.Context) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	return db.checkpoint(ctx)
}

func (db *DB) checkpoint(ctx context.Context) error {
	v := db.store.Snapshot()
	if err := db.log.AppendSnapshot(ctx, v.Sequence, v.Map); err != nil {
		return fmt.Errorf("checkpoint %d: %w", v.Sequence, err)
	}
	db.sinceCheckpoint = 0
	return nil
}

// Store returns a read-only view of the underlying store. Writes go
// through Apply so that every commit is logged.
func (db *DB) Store() StoreReader {
	return storeReader{db.store}
}

// Log returns the underlying write-ahead log.
func (db *DB) Log() *Log {
	return db.log
}

// Get reads key from the live version.
func (db *DB) Get(key []byte) ([]byte, error) {
	return db.store.Get(key)
}

// Snapshot returns the live version.
func (db *DB) Snapshot() StoreVersion {
	return db.store.Snapshot()
}

// SnapshotAt rebuilds the version committed at seq.
func (db *DB) SnapshotAt(seq uint64) (StoreVersion, error) {
	m, err := db.log.GetSnapshot(seq)
	if err != nil {
		return StoreVersion{}, err
	}
	return StoreVersion{Sequence: seq, Map: m}, nil
}

// Diff returns the operations that take version from to version to.
func (db *DB) Diff(from, to uint64) ([]ChangeOperation, error) {
	a, err := db.log.GetSnapshot(from)
	if err != nil {
		return nil, fmt.Errorf("version %d: %w", from, err)
	}
	b, err := db.log.GetSnapshot(to)
	if err != nil {
		return nil, fmt.Errorf("version %d: %w", to, err)
	}
	return Diff(a, b), nil
}

// Export writes a dump of the live version through p.
func (db *DB) Export(ctx context.Context, p Persist) (Manifest, error) {
	m, err := Export(ctx, p, db.store.Snapshot(), ExportOptions{Compress: db.cfg.Export.Compress})
	if err != nil {
		return Manifest{}, err
	}
	db.logger.Info("exported", "name", m.Name, "sequence", m.Sequence, "count", m.Count)
	return m, nil
}

// Sync waits until every logged batch is durable.
func (db *DB) Sync(ctx context.Context) error {
	return db.log.Flush(ctx)
}

// Close flushes and closes the log.
func (db *DB) Close() error {
	return db.log.Close()
}
