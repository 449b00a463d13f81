package mvkv

import "fmt"

// owning is the editor of every Builder. Ownership needs no per-builder
// identity: owned nodes are reachable only from the builder that created
// them until ToImmutable freezes them.
var owning = editor{state: owned}

// Builder is a mutable view of a Map for batching many edits. It starts out
// aliasing the source map's nodes and copies each shared node the first
// time an edit touches it; nodes it created itself are edited in place.
// A Builder must only be used from one goroutine at a time.
type Builder struct {
	root    *node
	count   int
	version uint64

	// immutable memoizes ToImmutable until the next change.
	immutable *Map
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return emptyMap.ToBuilder()
}

// Count returns the number of entries.
func (b *Builder) Count() int {
	return b.count
}

// Version increases with every mutating call.
func (b *Builder) Version() uint64 {
	return b.version
}

func (b *Builder) commit(root *node, res mutation) {
	b.version++
	if res == unchanged {
		return
	}
	b.root = root
	switch res {
	case added:
		b.count++
	case removed:
		b.count--
	}
	b.immutable = nil
}

// Add inserts key with value; see Map.Add.
func (b *Builder) Add(key, value []byte) error {
	return b.insert(key, value, false)
}

// SetItem inserts or replaces the value for key.
func (b *Builder) SetItem(key, value []byte) error {
	return b.insert(key, value, true)
}

func (b *Builder) insert(key, value []byte, overwrite bool) error {
	if len(key) == 0 {
		b.version++
		return fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}
	root, res, err := owning.insert(b.root, key, value, overwrite)
	if err != nil {
		b.version++
		return err
	}
	b.commit(root, res)
	return nil
}

// Remove deletes key, reporting whether it was present.
func (b *Builder) Remove(key []byte) bool {
	root, res := owning.remove(b.root, key)
	b.commit(root, res)
	return res != unchanged
}

// AddRange inserts all items; see Map.AddRange. On error the builder keeps
// the items inserted before the failing one.
func (b *Builder) AddRange(items []KeyValue, overwrite bool) error {
	if b.count == 0 {
		entries, err := sortedUnique(items, overwrite)
		if err != nil {
			b.version++
			return err
		}
		b.version++
		if len(entries) > 0 {
			b.root = owning.buildSorted(entries)
			b.count = len(entries)
			b.immutable = nil
		}
		return nil
	}
	for _, item := range items {
		if err := b.insert(item.Key, item.Value, overwrite); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes every entry.
func (b *Builder) Clear() {
	b.version++
	if b.root == nil {
		return
	}
	b.root = nil
	b.count = 0
	b.immutable = nil
}

// ToImmutable freezes the builder's current tree and returns it as a Map.
// Later edits copy the frozen nodes rather than changing them.
func (b *Builder) ToImmutable() *Map {
	if b.immutable == nil {
		freeze(b.root)
		if b.root == nil {
			b.immutable = emptyMap
		} else {
			b.immutable = &Map{root: b.root, count: b.count}
		}
	}
	return b.immutable
}

// ContainsKey reports whether key is present, including pending edits.
func (b *Builder) ContainsKey(key []byte) bool {
	return find(b.root, key) != nil
}

// TryGetValue returns the value for key and whether it was present.
func (b *Builder) TryGetValue(key []byte) ([]byte, bool) {
	n := find(b.root, key)
	if n == nil {
		return nil, false
	}
	return n.value, true
}

// ValueRef returns the value for key, or ErrKeyNotFound.
func (b *Builder) ValueRef(key []byte) ([]byte, error) {
	n := find(b.root, key)
	if n == nil {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	return n.value, nil
}

func (b *Builder) enumerationRoot() (*node, func() error) {
	version := b.version
	return b.root, func() error {
		if b.version != version {
			return ErrModifiedDuringIteration
		}
		return nil
	}
}

// All enumerates every entry in ascending key order. Enumerators fail with
// ErrModifiedDuringIteration if the builder changes under them.
func (b *Builder) All() Sequence {
	return Sequence{src: b}
}

// RangeFrom enumerates the entries with keys at or after start.
func (b *Builder) RangeFrom(start []byte) Sequence {
	return Sequence{src: b, bounds: bounds{start: start, hasStart: true}}
}

// Range enumerates the entries with start <= key < end.
func (b *Builder) Range(start, end []byte) (Sequence, error) {
	return boundedSequence(b, bounds{start: start, end: end, hasStart: true, hasEnd: true})
}

// Prefix enumerates the entries whose keys begin with prefix.
func (b *Builder) Prefix(prefix []byte) Sequence {
	return prefixSequence(b, prefix)
}

// Reversed enumerates every entry in descending key order.
func (b *Builder) Reversed() Sequence {
	return Sequence{src: b, bounds: bounds{reverse: true}}
}

// ReversedFrom enumerates, in descending order, the entries at or before start.
func (b *Builder) ReversedFrom(start []byte) Sequence {
	return Sequence{src: b, bounds: bounds{start: start, hasStart: true, reverse: true}}
}

// ReversedRange enumerates, in descending order, the entries with
// end < key <= start.
func (b *Builder) ReversedRange(start, end []byte) (Sequence, error) {
	return boundedSequence(b, bounds{start: start, end: end, hasStart: true, hasEnd: true, reverse: true})
}
