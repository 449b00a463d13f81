package mvkv

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// StoreVersion is a Map together with the sequence number of the commit
// that produced it.
type StoreVersion struct {
	Sequence uint64
	Map      *Map
}

// Store holds the current version of a single ordered table. Writers build
// candidate maps optimistically and publish them with a compare-and-swap;
// readers never wait for writers.
type Store struct {
	// mu guards the publish step: swapping current and bumping seq
	// together. Nothing else happens while it is held.
	mu      sync.Mutex
	current atomic.Pointer[Map]
	seq     uint64

	retries atomic.Uint64
}

// NewStore returns an empty store at sequence 0.
func NewStore() *Store {
	return NewStoreAt(StoreVersion{Map: emptyMap})
}

// NewStoreAt returns a store starting from the given version.
func NewStoreAt(v StoreVersion) *Store {
	s := &Store{seq: v.Sequence}
	if v.Map == nil {
		v.Map = emptyMap
	}
	s.current.Store(v.Map)
	return s
}

// Apply commits ops as one batch and returns the new sequence number. Set
// upserts and Delete removes; a batch holding any other kind is rejected
// whole with ErrInvalidArgument. An empty batch still advances the sequence.
//
// Apply retries for as long as other writers keep publishing between its
// read and its swap; ctx bounds that.
func (s *Store) Apply(ctx context.Context, ops []ChangeOperation) (uint64, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		base := s.current.Load()
		b := base.ToBuilder()
		if err := applyOps(b, ops); err != nil {
			return 0, fmt.Errorf("apply: %w", err)
		}
		candidate := b.ToImmutable()

		s.mu.Lock()
		if s.current.CompareAndSwap(base, candidate) {
			s.seq++
			seq := s.seq
			s.mu.Unlock()
			return seq, nil
		}
		s.mu.Unlock()
		s.retries.Add(1)
		runtime.Gosched()
	}
}

// Snapshot returns the current map and its sequence number as one
// consistent pair.
func (s *Store) Snapshot() StoreVersion {
	s.mu.Lock()
	v := StoreVersion{Sequence: s.seq, Map: s.current.Load()}
	s.mu.Unlock()
	return v
}

// Sequence returns the sequence number of the latest commit.
func (s *Store) Sequence() uint64 {
	return s.Snapshot().Sequence
}

// Retries returns how many optimistic commits had to be rebuilt because
// another writer published first.
func (s *Store) Retries() uint64 {
	return s.retries.Load()
}

// TryGet reads key from whatever version is live, without locking.
func (s *Store) TryGet(key []byte) ([]byte, bool) {
	return s.current.Load().TryGetValue(key)
}

// Get reads key, failing with ErrKeyNotFound if it is absent.
func (s *Store) Get(key []byte) ([]byte, error) {
	return s.current.Load().ValueRef(key)
}

// ContainsKey reports whether key is present in the live version.
func (s *Store) ContainsKey(key []byte) bool {
	return s.current.Load().ContainsKey(key)
}

// Count returns the number of entries in the live version.
func (s *Store) Count() int {
	return s.current.Load().Count()
}

// Keys returns the keys of a snapshot in ascending order.
func (s *Store) Keys() [][]byte {
	return s.Snapshot().Map.Keys()
}

// Values returns the values of a snapshot in ascending key order.
func (s *Store) Values() [][]byte {
	return s.Snapshot().Map.Values()
}

// Enumerate enumerates a snapshot in ascending key order.
func (s *Store) Enumerate() Sequence {
	return s.Snapshot().Map.All()
}

// EnumerateRange enumerates the entries of a snapshot with
// start <= key < end.
func (s *Store) EnumerateRange(start, end []byte) (Sequence, error) {
	return s.Snapshot().Map.Range(start, end)
}

// EnumeratePrefix enumerates the entries of a snapshot whose keys begin
// with prefix.
func (s *Store) EnumeratePrefix(prefix []byte) Sequence {
	return s.Snapshot().Map.Prefix(prefix)
}

// StoreReader is the read side of a Store.
type StoreReader interface {
	Snapshot() StoreVersion
	Sequence() uint64
	TryGet(key []byte) ([]byte, bool)
	Get(key []byte) ([]byte, error)
	ContainsKey(key []byte) bool
	Count() int
	Keys() [][]byte
	Values() [][]byte
	Enumerate() Sequence
	EnumerateRange(start, end []byte) (Sequence, error)
	EnumeratePrefix(prefix []byte) Sequence
}

var _ StoreReader = (*Store)(nil)

type storeReader struct{ StoreReader }
