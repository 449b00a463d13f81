package mvkv

import (
	"fmt"
	"strings"
)

// ownership tags whether a node may be mutated in place. Nodes reachable
// from a Map are always frozen; a Builder owns the nodes it has created
// since its last ToImmutable.
type ownership uint8

const (
	frozen ownership = iota
	owned
)

type node struct {
	key    []byte
	value  []byte
	left   *node
	right  *node
	height int8
	state  ownership
}

// mutation reports what an insert or remove did to a subtree.
type mutation uint8

const (
	unchanged mutation = iota
	replaced
	added
	removed
)

func height(n *node) int8 {
	if n == nil {
		return 0
	}
	return n.height
}

func balanceFactor(n *node) int {
	return int(height(n.right)) - int(height(n.left))
}

// editor creates and rewrites nodes. The zero editor is persistent: it never
// mutates and every node it creates is frozen. An owning editor mutates nodes
// tagged owned and tags its new nodes owned.
type editor struct {
	state ownership
}

var persistent = editor{state: frozen}

func (e editor) owns(n *node) bool {
	return e.state == owned && n.state == owned
}

func (e editor) newNode(key, value []byte, left, right *node) *node {
	n := &node{
		key:   key,
		value: value,
		left:  left,
		right: right,
		state: e.state,
	}
	n.fixHeight()
	return n
}

// with returns a node holding the given contents, reusing n in place if the
// editor owns it and allocating otherwise.
func (e editor) with(n *node, key, value []byte, left, right *node) *node {
	if !e.owns(n) {
		return e.newNode(key, value, left, right)
	}
	n.key, n.value, n.left, n.right = key, value, left, right
	n.fixHeight()
	return n
}

func (n *node) fixHeight() {
	l, r := height(n.left), height(n.right)
	if l > r {
		n.height = l + 1
	} else {
		n.height = r + 1
	}
}

func (e editor) rotateLeft(n *node) *node {
	r := n.right
	left := e.with(n, n.key, n.value, n.left, r.left)
	return e.with(r, r.key, r.value, left, r.right)
}

func (e editor) rotateRight(n *node) *node {
	l := n.left
	right := e.with(n, n.key, n.value, l.right, n.right)
	return e.with(l, l.key, l.value, l.left, right)
}

func (e editor) rebalance(n *node) *node {
	switch b := balanceFactor(n); {
	case b >= 2:
		if balanceFactor(n.right) < 0 {
			n = e.with(n, n.key, n.value, n.left, e.rotateRight(n.right))
		}
		return e.rotateLeft(n)
	case b <= -2:
		if balanceFactor(n.left) > 0 {
			n = e.with(n, n.key, n.value, e.rotateLeft(n.left), n.right)
		}
		return e.rotateRight(n)
	}
	return n
}

// insert places key/value in the subtree. An existing key with an equal value
// is left untouched; with a different value it is replaced when overwrite is
// set and reported as ErrDuplicateKey otherwise.
func (e editor) insert(n *node, key, value []byte, overwrite bool) (*node, mutation, error) {
	if n == nil {
		return e.newNode(key, value, nil, nil), added, nil
	}
	cmp := compareKeys(key, n.key)
	switch {
	case cmp < 0:
		left, res, err := e.insert(n.left, key, value, overwrite)
		if err != nil || res == unchanged {
			return n, res, err
		}
		return e.rebalance(e.with(n, n.key, n.value, left, n.right)), res, nil
	case cmp > 0:
		right, res, err := e.insert(n.right, key, value, overwrite)
		if err != nil || res == unchanged {
			return n, res, err
		}
		return e.rebalance(e.with(n, n.key, n.value, n.left, right)), res, nil
	}
	if equalValues(n.value, value) {
		return n, unchanged, nil
	}
	if !overwrite {
		return n, unchanged, fmt.Errorf("%w: %q", ErrDuplicateKey, key)
	}
	return e.with(n, n.key, value, n.left, n.right), replaced, nil
}

func (e editor) remove(n *node, key []byte) (*node, mutation) {
	if n == nil {
		return nil, unchanged
	}
	cmp := compareKeys(key, n.key)
	switch {
	case cmp < 0:
		left, res := e.remove(n.left, key)
		if res == unchanged {
			return n, res
		}
		return e.rebalance(e.with(n, n.key, n.value, left, n.right)), res
	case cmp > 0:
		right, res := e.remove(n.right, key)
		if res == unchanged {
			return n, res
		}
		return e.rebalance(e.with(n, n.key, n.value, n.left, right)), res
	}
	if n.left == nil {
		return n.right, removed
	}
	if n.right == nil {
		return n.left, removed
	}
	successor := n.right
	for successor.left != nil {
		successor = successor.left
	}
	key, value := successor.key, successor.value
	right, _ := e.remove(n.right, key)
	return e.rebalance(e.with(n, key, value, n.left, right)), removed
}

// buildSorted builds a perfectly balanced tree from entries that are already
// in strictly ascending key order.
func (e editor) buildSorted(entries []KeyValue) *node {
	if len(entries) == 0 {
		return nil
	}
	mid := (len(entries) - 1) / 2
	left := e.buildSorted(entries[:mid])
	right := e.buildSorted(entries[mid+1:])
	return e.newNode(entries[mid].Key, entries[mid].Value, left, right)
}

// freeze tags every owned node of the subtree frozen. Frozen nodes never
// have owned descendants, so the walk stops at the first frozen node.
func freeze(n *node) {
	for n != nil && n.state == owned {
		n.state = frozen
		freeze(n.left)
		n = n.right
	}
}

func find(n *node, key []byte) *node {
	for n != nil {
		cmp := compareKeys(key, n.key)
		switch {
		case cmp < 0:
			n = n.left
		case cmp > 0:
			n = n.right
		default:
			return n
		}
	}
	return nil
}

// validate checks ordering, AVL balance, heights and ownership of the subtree
// and returns its entry count.
func validate(n *node, lo, hi []byte) (int, error) {
	if n == nil {
		return 0, nil
	}
	if lo != nil && compareKeys(n.key, lo) <= 0 {
		return 0, fmt.Errorf("key %q not above %q", n.key, lo)
	}
	if hi != nil && compareKeys(n.key, hi) >= 0 {
		return 0, fmt.Errorf("key %q not below %q", n.key, hi)
	}
	if n.state == frozen {
		for _, child := range []*node{n.left, n.right} {
			if child != nil && child.state == owned {
				return 0, fmt.Errorf("frozen node %q has owned child %q", n.key, child.key)
			}
		}
	}
	if b := balanceFactor(n); b < -1 || b > 1 {
		return 0, fmt.Errorf("node %q out of balance: %d", n.key, b)
	}
	l, err := validate(n.left, lo, n.key)
	if err != nil {
		return 0, err
	}
	r, err := validate(n.right, n.key, hi)
	if err != nil {
		return 0, err
	}
	want := height(n.left)
	if height(n.right) > want {
		want = height(n.right)
	}
	if n.height != want+1 {
		return 0, fmt.Errorf("node %q has height %d, want %d", n.key, n.height, want+1)
	}
	return l + r + 1, nil
}

func (n *node) string(indent string) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(n.right.string(indent + "   "))
	state := "f"
	if n.state == owned {
		state = "o"
	}
	fmt.Fprintf(&sb, "%s%q: %q (h=%d %s)\n", indent, n.key, n.value, n.height, state)
	sb.WriteString(n.left.string(indent + "   "))
	return sb.String()
}
