package mvkv

import "fmt"

// bounds delimits an enumeration. For ascending order start is the
// inclusive lower bound and end the exclusive upper bound; for descending
// order start is the inclusive upper bound and end the exclusive lower bound.
type bounds struct {
	start    []byte
	end      []byte
	hasStart bool
	hasEnd   bool
	reverse  bool
}

func (b bounds) check() error {
	if !b.hasStart || !b.hasEnd {
		return nil
	}
	cmp := compareKeys(b.start, b.end)
	if (!b.reverse && cmp > 0) || (b.reverse && cmp < 0) {
		return fmt.Errorf("%w: range start %q is beyond end %q", ErrInvalidArgument, b.start, b.end)
	}
	return nil
}

// source is something a Sequence can enumerate: a frozen Map root, or a
// Builder whose root may change underneath.
type source interface {
	enumerationRoot() (*node, func() error)
}

// Sequence is a lazy, restartable description of an ordered walk over a map
// or builder. Each call to Enumerator starts a fresh walk.
type Sequence struct {
	src    source
	bounds bounds
}

// Enumerator returns a new Enumerator positioned before the first entry.
func (s Sequence) Enumerator() *Enumerator {
	var root *node
	var guard func() error
	if s.src != nil {
		root, guard = s.src.enumerationRoot()
	}
	return newEnumerator(root, s.bounds, guard)
}

// ForEach invokes f for every entry in order, stopping at the first error.
func (s Sequence) ForEach(f func(key, value []byte) error) error {
	e := s.Enumerator()
	for e.Next() {
		if err := f(e.Key(), e.Value()); err != nil {
			return err
		}
	}
	return e.Err()
}

// Collect returns the entries of the sequence.
func (s Sequence) Collect() ([]KeyValue, error) {
	var out []KeyValue
	err := s.ForEach(func(key, value []byte) error {
		out = append(out, KeyValue{key, value})
		return nil
	})
	return out, err
}

// Keys returns the keys of the sequence.
func (s Sequence) Keys() ([][]byte, error) {
	var out [][]byte
	err := s.ForEach(func(key, _ []byte) error {
		out = append(out, key)
		return nil
	})
	return out, err
}

// Values returns the values of the sequence.
func (s Sequence) Values() ([][]byte, error) {
	var out [][]byte
	err := s.ForEach(func(_, value []byte) error {
		out = append(out, value)
		return nil
	})
	return out, err
}

// Enumerator walks a tree in order using an explicit stack no deeper than
// the tree height. It is not safe for concurrent use, but any number of
// enumerators may walk the same frozen tree concurrently.
type Enumerator struct {
	stack []*node
	b     bounds
	guard func() error
	cur   *node
	err   error
	done  bool
}

func newEnumerator(root *node, b bounds, guard func() error) *Enumerator {
	e := &Enumerator{
		stack: make([]*node, 0, height(root)),
		b:     b,
		guard: guard,
	}
	n := root
	for n != nil {
		if b.hasStart {
			cmp := compareKeys(n.key, b.start)
			if !b.reverse && cmp < 0 {
				n = n.right
				continue
			}
			if b.reverse && cmp > 0 {
				n = n.left
				continue
			}
		}
		e.stack = append(e.stack, n)
		n = e.near(n)
	}
	return e
}

// near is the child visited before n in the enumeration direction.
func (e *Enumerator) near(n *node) *node {
	if e.b.reverse {
		return n.right
	}
	return n.left
}

func (e *Enumerator) far(n *node) *node {
	if e.b.reverse {
		return n.left
	}
	return n.right
}

func (e *Enumerator) pushSpine(n *node) {
	for n != nil {
		e.stack = append(e.stack, n)
		n = e.near(n)
	}
}

// Next advances to the next entry, returning false when the walk is over or
// has failed; see Err.
func (e *Enumerator) Next() bool {
	if e.done || e.err != nil {
		return false
	}
	if e.guard != nil {
		if err := e.guard(); err != nil {
			e.err = err
			e.cur = nil
			return false
		}
	}
	if len(e.stack) == 0 {
		e.finish()
		return false
	}
	n := e.stack[len(e.stack)-1]
	e.stack = e.stack[:len(e.stack)-1]
	if e.b.hasEnd {
		cmp := compareKeys(n.key, e.b.end)
		if (!e.b.reverse && cmp >= 0) || (e.b.reverse && cmp <= 0) {
			e.finish()
			return false
		}
	}
	e.cur = n
	e.pushSpine(e.far(n))
	return true
}

func (e *Enumerator) finish() {
	e.done = true
	e.cur = nil
	e.stack = nil
}

// Key returns the key of the current entry.
func (e *Enumerator) Key() []byte {
	if e.cur == nil {
		return nil
	}
	return e.cur.key
}

// Value returns the value of the current entry.
func (e *Enumerator) Value() []byte {
	if e.cur == nil {
		return nil
	}
	return e.cur.value
}

// Err returns the error that ended the walk, if any.
func (e *Enumerator) Err() error {
	return e.err
}
