package mvkv

import (
	"fmt"
	"sort"
)

// Map is an immutable ordered map from byte-string keys to byte-string
// values. Every mutation returns a new Map that shares all unchanged
// subtrees with its parent; a mutation that changes nothing returns the
// receiver itself. A Map may be read by any number of goroutines without
// synchronization.
//
// Keys and values are referenced, not copied: callers must not modify a
// buffer after handing it to a Map.
type Map struct {
	root  *node
	count int
}

var emptyMap = &Map{}

// Empty returns the empty map.
func Empty() *Map {
	return emptyMap
}

func (m *Map) rootNode() *node {
	if m == nil {
		return nil
	}
	return m.root
}

func (m *Map) wrap(root *node, count int) *Map {
	if root == m.rootNode() {
		return m
	}
	if root == nil {
		return emptyMap
	}
	return &Map{root: root, count: count}
}

// Count returns the number of entries.
func (m *Map) Count() int {
	if m == nil {
		return 0
	}
	return m.count
}

// Height returns the height of the underlying tree.
func (m *Map) Height() int {
	return int(height(m.rootNode()))
}

// Add inserts key with value. Adding an entry that is already present with
// an equal value returns the receiver; a different value fails with
// ErrDuplicateKey.
func (m *Map) Add(key, value []byte) (*Map, error) {
	return m.insert(key, value, false)
}

// SetItem inserts or replaces the value for key.
func (m *Map) SetItem(key, value []byte) (*Map, error) {
	return m.insert(key, value, true)
}

func (m *Map) insert(key, value []byte, overwrite bool) (*Map, error) {
	if len(key) == 0 {
		return m, fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}
	root, res, err := persistent.insert(m.rootNode(), key, value, overwrite)
	if err != nil {
		return m, err
	}
	count := m.Count()
	if res == added {
		count++
	}
	return m.wrap(root, count), nil
}

// Remove returns a map without key, or the receiver if key is absent.
func (m *Map) Remove(key []byte) *Map {
	root, res := persistent.remove(m.rootNode(), key)
	if res == unchanged {
		return m
	}
	return m.wrap(root, m.Count()-1)
}

// AddRange inserts all items. Items repeating a key with an equal value
// collapse into one entry; with differing values the later item wins when
// overwrite is set, and the call fails with ErrDuplicateKey otherwise.
func (m *Map) AddRange(items []KeyValue, overwrite bool) (*Map, error) {
	if m.Count() == 0 {
		entries, err := sortedUnique(items, overwrite)
		if err != nil {
			return m, err
		}
		return m.wrap(persistent.buildSorted(entries), len(entries)), nil
	}
	b := m.ToBuilder()
	if err := b.AddRange(items, overwrite); err != nil {
		return m, err
	}
	return b.ToImmutable(), nil
}

// sortedUnique returns a key-ordered copy of items with repeated keys
// resolved.
func sortedUnique(items []KeyValue, overwrite bool) ([]KeyValue, error) {
	sorted := make([]KeyValue, 0, len(items))
	for _, item := range items {
		if len(item.Key) == 0 {
			return nil, fmt.Errorf("%w: empty key", ErrInvalidArgument)
		}
		sorted = append(sorted, item)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return compareKeys(sorted[i].Key, sorted[j].Key) < 0
	})
	out := sorted[:0]
	for _, item := range sorted {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if compareKeys(last.Key, item.Key) == 0 {
				if equalValues(last.Value, item.Value) {
					continue
				}
				if !overwrite {
					return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, item.Key)
				}
				last.Value = item.Value
				continue
			}
		}
		out = append(out, item)
	}
	return out, nil
}

// ContainsKey reports whether key is present.
func (m *Map) ContainsKey(key []byte) bool {
	return find(m.rootNode(), key) != nil
}

// TryGetValue returns the value for key and whether it was present.
func (m *Map) TryGetValue(key []byte) ([]byte, bool) {
	n := find(m.rootNode(), key)
	if n == nil {
		return nil, false
	}
	return n.value, true
}

// ValueRef returns the stored value buffer for key, or ErrKeyNotFound. The
// returned slice aliases the map and must not be modified.
func (m *Map) ValueRef(key []byte) ([]byte, error) {
	n := find(m.rootNode(), key)
	if n == nil {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	return n.value, nil
}

// Get is ValueRef.
func (m *Map) Get(key []byte) ([]byte, error) {
	return m.ValueRef(key)
}

func (m *Map) enumerationRoot() (*node, func() error) {
	return m.rootNode(), nil
}

// All enumerates every entry in ascending key order.
func (m *Map) All() Sequence {
	return Sequence{src: m}
}

// RangeFrom enumerates the entries with keys at or after start.
func (m *Map) RangeFrom(start []byte) Sequence {
	return Sequence{src: m, bounds: bounds{start: start, hasStart: true}}
}

// Range enumerates the entries with start <= key < end. Neither bound has
// to be present in the map.
func (m *Map) Range(start, end []byte) (Sequence, error) {
	return boundedSequence(m, bounds{start: start, end: end, hasStart: true, hasEnd: true})
}

// Prefix enumerates the entries whose keys begin with prefix.
func (m *Map) Prefix(prefix []byte) Sequence {
	return prefixSequence(m, prefix)
}

// Reversed enumerates every entry in descending key order.
func (m *Map) Reversed() Sequence {
	return Sequence{src: m, bounds: bounds{reverse: true}}
}

// ReversedFrom enumerates, in descending order, the entries with keys at or
// before start.
func (m *Map) ReversedFrom(start []byte) Sequence {
	return Sequence{src: m, bounds: bounds{start: start, hasStart: true, reverse: true}}
}

// ReversedRange enumerates, in descending order, the entries with
// end < key <= start.
func (m *Map) ReversedRange(start, end []byte) (Sequence, error) {
	return boundedSequence(m, bounds{start: start, end: end, hasStart: true, hasEnd: true, reverse: true})
}

// Keys returns every key in ascending order.
func (m *Map) Keys() [][]byte {
	keys := make([][]byte, 0, m.Count())
	e := m.All().Enumerator()
	for e.Next() {
		keys = append(keys, e.Key())
	}
	return keys
}

// Values returns every value in ascending key order.
func (m *Map) Values() [][]byte {
	values := make([][]byte, 0, m.Count())
	e := m.All().Enumerator()
	for e.Next() {
		values = append(values, e.Value())
	}
	return values
}

// ForEach invokes f for every entry in ascending key order.
func (m *Map) ForEach(f func(key, value []byte) error) error {
	return m.All().ForEach(f)
}

// ToBuilder returns a Builder that starts out sharing every node of m.
func (m *Map) ToBuilder() *Builder {
	if m == nil {
		m = emptyMap
	}
	return &Builder{root: m.root, count: m.count, immutable: m}
}

func (m *Map) String() string {
	return fmt.Sprintf("Map(count=%d)\n%s", m.Count(), m.rootNode().string(""))
}

func boundedSequence(src source, b bounds) (Sequence, error) {
	if err := b.check(); err != nil {
		return Sequence{}, err
	}
	return Sequence{src: src, bounds: b}, nil
}

func prefixSequence(src source, prefix []byte) Sequence {
	b := bounds{start: prefix, hasStart: true}
	if end := prefixEnd(prefix); end != nil {
		b.end, b.hasEnd = end, true
	}
	return Sequence{src: src, bounds: b}
}
