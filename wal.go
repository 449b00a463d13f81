package mvkv

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
)

// EntryType tags a LogEntry. At equal sequence a change entry orders before
// the snapshot entry that checkpoints it.
type EntryType uint8

const (
	// EntryChange records the operations of one committed batch.
	EntryChange EntryType = 1
	// EntrySnapshot records the full map as of its sequence.
	EntrySnapshot EntryType = 2
)

func (t EntryType) String() string {
	switch t {
	case EntryChange:
		return "change"
	case EntrySnapshot:
		return "snapshot"
	}
	return fmt.Sprintf("EntryType(%d)", uint8(t))
}

// LogEntry is one record of the write-ahead log: either the operations
// committed at Sequence, or a full Snapshot of the map at Sequence.
type LogEntry struct {
	Type     EntryType
	Sequence uint64
	Ops      []ChangeOperation
	Snapshot *Map
}

func (e LogEntry) before(seq uint64, t EntryType) bool {
	if e.Sequence != seq {
		return e.Sequence < seq
	}
	return e.Type < t
}

// LogOptions configures a Log.
type LogOptions struct {
	// Sink receives every appended record. Nil keeps the log in memory only.
	Sink Sink

	// Digest checksums records; defaults to DefaultDigest.
	Digest Digest

	// Cache keeps versions rebuilt by GetSnapshot. Nil disables caching.
	Cache SnapshotCache

	Logger *slog.Logger
}

// Log is an append-only, ordered write-ahead log of change batches and
// snapshots. It indexes every retained entry in memory so that any retained
// version can be rebuilt.
type Log struct {
	// appendMu orders writers, including the sink write; mu guards the
	// index and is only held briefly, so readers never wait on the sink.
	appendMu sync.Mutex
	mu       sync.RWMutex
	entries  []LogEntry

	// complete is set while the log reaches back to the empty map at
	// sequence 0, so versions before the first snapshot can be replayed.
	complete bool

	sink   Sink
	digest Digest
	cache  SnapshotCache
	logger *slog.Logger
}

// ReplayReport describes what OpenLog recovered.
type ReplayReport struct {
	Records    int
	ValidBytes int64
	// Corrupt is set when decoding stopped before the end of the input;
	// everything from ValidBytes on was discarded.
	Corrupt bool
}

// NewLog returns an empty log.
func NewLog(opts LogOptions) *Log {
	l := &Log{
		complete: true,
		sink:     opts.Sink,
		digest:   opts.Digest,
		cache:    opts.Cache,
		logger:   opts.Logger,
	}
	if l.digest == nil {
		l.digest = DefaultDigest
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	l.logger = l.logger.With("component", "wal")
	return l
}

// OpenLog rebuilds a log from the records in r. Decoding stops at the first
// record that is torn, fails its digest or breaks sequence order; that
// record and everything after it is discarded and reported. Records read
// here are not written to opts.Sink again.
func OpenLog(r io.Reader, opts LogOptions) (*Log, ReplayReport, error) {
	var report ReplayReport
	l := NewLog(opts)
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, report, fmt.Errorf("read log: %w", err)
	}
	for len(data) > 0 {
		e, n, ok := DecodeRecord(data, l.digest)
		if !ok {
			report.Corrupt = true
			break
		}
		if err := l.admit(e); err != nil {
			l.logger.Warn("replay stopped at out-of-order record", "offset", report.ValidBytes, "error", err)
			report.Corrupt = true
			break
		}
		l.publish(e)
		data = data[n:]
		report.Records++
		report.ValidBytes += int64(n)
	}
	if report.Corrupt {
		l.logger.Warn("discarding log tail", "offset", report.ValidBytes, "bytes", len(data))
	}
	return l, report, nil
}

// admit checks that e may follow the current entries: change batches are
// consecutive, and a snapshot checkpoints the latest sequence. The first
// entry of a log may start anywhere.
func (l *Log) admit(e LogEntry) error {
	switch e.Type {
	case EntryChange:
		for _, op := range e.Ops {
			if op.Kind != OpSet && op.Kind != OpDelete {
				return fmt.Errorf("%w: batch %d holds %v operation", ErrInvalidArgument, e.Sequence, op.Kind)
			}
		}
	case EntrySnapshot:
		if e.Snapshot == nil {
			return fmt.Errorf("%w: snapshot %d has no map", ErrInvalidArgument, e.Sequence)
		}
	default:
		return fmt.Errorf("%w: entry type %v", ErrInvalidArgument, e.Type)
	}
	if len(l.entries) == 0 {
		return nil
	}
	last := l.entries[len(l.entries)-1]
	switch e.Type {
	case EntryChange:
		if e.Sequence != last.Sequence+1 {
			return fmt.Errorf("%w: batch %d does not follow %d", ErrInvalidArgument, e.Sequence, last.Sequence)
		}
	case EntrySnapshot:
		if !last.before(e.Sequence, e.Type) || e.Sequence != last.Sequence {
			return fmt.Errorf("%w: snapshot %d does not checkpoint %s %d", ErrInvalidArgument, e.Sequence, last.Type, last.Sequence)
		}
	}
	return nil
}

// publish adds an admitted entry to the index. The caller holds mu for
// writing, or owns the log exclusively.
func (l *Log) publish(e LogEntry) {
	if len(l.entries) == 0 {
		l.complete = (e.Type == EntryChange && e.Sequence == 1) ||
			(e.Type == EntrySnapshot && e.Sequence == 0)
	}
	l.entries = append(l.entries, e)
}

func (l *Log) append(ctx context.Context, e LogEntry) error {
	l.appendMu.Lock()
	defer l.appendMu.Unlock()
	l.mu.RLock()
	err := l.admit(e)
	l.mu.RUnlock()
	if err != nil {
		return err
	}
	if l.sink != nil {
		if err := l.sink.Write(ctx, EncodeRecord(e, l.digest)); err != nil {
			return fmt.Errorf("append %s %d: %w", e.Type, e.Sequence, err)
		}
	}
	l.mu.Lock()
	l.publish(e)
	l.mu.Unlock()
	return nil
}

// AppendBatch logs the operations committed at batch.Sequence, which must
// directly follow the last logged sequence.
func (l *Log) AppendBatch(ctx context.Context, batch ChangeBatch) error {
	return l.append(ctx, LogEntry{Type: EntryChange, Sequence: batch.Sequence, Ops: batch.Ops})
}

// AppendSnapshot logs m as the checkpoint of the last logged sequence, or as
// the starting point of an empty log.
func (l *Log) AppendSnapshot(ctx context.Context, seq uint64, m *Map) error {
	if m == nil {
		m = emptyMap
	}
	if err := l.append(ctx, LogEntry{Type: EntrySnapshot, Sequence: seq, Snapshot: m}); err != nil {
		return err
	}
	l.logger.Debug("checkpoint written", "sequence", seq, "count", m.Count())
	return nil
}

// GetSnapshot reconstructs the map as of seq from the nearest preceding
// snapshot (or the empty map, if the log reaches back to it) and the change
// batches after it. It fails with ErrSnapshotUnavailable when that history
// has been truncated away.
func (l *Log) GetSnapshot(seq uint64) (*Map, error) {
	if l.cache != nil {
		if m, ok := l.cache.Get(seq); ok {
			return m.(*Map), nil
		}
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if last := l.lastSequence(); seq > last {
		return nil, fmt.Errorf("%w: sequence %d is beyond the log (last %d)", ErrInvalidArgument, seq, last)
	}
	// i is the last entry at or before (seq, snapshot)
	i := sort.Search(len(l.entries), func(i int) bool {
		return !l.entries[i].before(seq, EntrySnapshot+1)
	}) - 1
	if i >= 0 && l.entries[i].Type == EntrySnapshot && l.entries[i].Sequence == seq {
		return l.entries[i].Snapshot, nil
	}
	j := i
	for j >= 0 && l.entries[j].Type != EntrySnapshot {
		j--
	}
	base := emptyMap
	if j >= 0 {
		base = l.entries[j].Snapshot
	} else if !l.complete {
		return nil, fmt.Errorf("%w: sequence %d predates the oldest retained snapshot", ErrSnapshotUnavailable, seq)
	}
	b := base.ToBuilder()
	for _, e := range l.entries[j+1 : i+1] {
		if err := applyOps(b, e.Ops); err != nil {
			return nil, fmt.Errorf("replay batch %d: %w", e.Sequence, err)
		}
	}
	m := b.ToImmutable()
	if l.cache != nil {
		l.cache.Add(seq, m)
	}
	return m, nil
}

// Truncate drops every entry older than seq, provided a snapshot at or after
// seq remains to rebuild from. Versions between seq and that snapshot can no
// longer be reconstructed. It only changes the in-memory index; use WriteTo
// to produce the compacted stream.
func (l *Log) Truncate(seq uint64) error {
	l.appendMu.Lock()
	defer l.appendMu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	hasCheckpoint := false
	for _, e := range l.entries {
		if e.Type == EntrySnapshot && e.Sequence >= seq {
			hasCheckpoint = true
			break
		}
	}
	if !hasCheckpoint {
		return fmt.Errorf("truncate to %d: %w", seq, ErrNoCheckpoint)
	}
	cut := sort.Search(len(l.entries), func(i int) bool {
		return l.entries[i].Sequence >= seq
	})
	if cut == 0 {
		return nil
	}
	l.entries = append([]LogEntry(nil), l.entries[cut:]...)
	l.complete = false
	if l.cache != nil {
		l.cache.Purge()
	}
	l.logger.Info("log truncated", "before", seq, "dropped", cut, "retained", len(l.entries))
	return nil
}

// WriteTo encodes every retained entry to w.
func (l *Log) WriteTo(w io.Writer) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total int64
	for _, e := range l.entries {
		n, err := w.Write(EncodeRecord(e, l.digest))
		total += int64(n)
		if err != nil {
			return total, fmt.Errorf("write %s %d: %w", e.Type, e.Sequence, err)
		}
	}
	return total, nil
}

// Bytes returns the encoded retained entries.
func (l *Log) Bytes() []byte {
	var buf bytes.Buffer
	_, _ = l.WriteTo(&buf)
	return buf.Bytes()
}

// Entries returns a copy of the retained entry index.
func (l *Log) Entries() []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]LogEntry(nil), l.entries...)
}

// LastSequence returns the sequence of the newest entry, or 0.
func (l *Log) LastSequence() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastSequence()
}

func (l *Log) lastSequence() uint64 {
	if len(l.entries) == 0 {
		return 0
	}
	return l.entries[len(l.entries)-1].Sequence
}

// FirstSequence returns the sequence of the oldest retained entry, or 0.
func (l *Log) FirstSequence() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return 0
	}
	return l.entries[0].Sequence
}

// Flush waits until everything appended so far is durable in the sink.
func (l *Log) Flush(ctx context.Context) error {
	if l.sink == nil {
		return nil
	}
	return l.sink.Flush(ctx)
}

// Close closes the sink.
func (l *Log) Close() error {
	if l.sink == nil {
		return nil
	}
	return l.sink.Close()
}
