package mvkv

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(t testing.TB, n uint) *Map {
	t.Helper()
	items := make([]KeyValue, 0, n)
	for i := uint(0); i < n; i++ {
		items = append(items, KeyValue{k(i), v(i)})
	}
	m, err := Empty().AddRange(items, false)
	require.NoError(t, err)
	return m
}

func TestBuilderCopyOnWrite(t *testing.T) {
	m := seeded(t, 100)
	b := m.ToBuilder()
	require.NoError(t, b.SetItem(k(5), []byte("x")))
	assert.True(t, b.Remove(k(6)))
	require.NoError(t, b.Add(k(500), []byte("new")))

	value, _ := m.Get(k(5))
	assert.Equal(t, v(5), value)
	assert.True(t, m.ContainsKey(k(6)))
	assert.Equal(t, 100, m.Count())
	checkTree(t, m)

	m2 := b.ToImmutable()
	checkTree(t, m2)
	assert.Equal(t, 100, m2.Count())
	value, _ = m2.Get(k(5))
	assert.Equal(t, []byte("x"), value)
	assert.False(t, m2.ContainsKey(k(6)))
}

func TestBuilderEditsOwnedNodesInPlace(t *testing.T) {
	b := seeded(t, 100).ToBuilder()
	require.NoError(t, b.SetItem(k(5), []byte("x")))
	root := b.root
	assert.Equal(t, owned, root.state)
	require.NoError(t, b.SetItem(k(5), []byte("y")))
	assert.Same(t, root, b.root)

	m := b.ToImmutable()
	assert.Equal(t, frozen, root.state)
	require.NoError(t, b.SetItem(k(5), []byte("z")))
	assert.NotSame(t, root, b.root)
	value, _ := m.Get(k(5))
	assert.Equal(t, []byte("y"), value)
	checkTree(t, m)
}

func TestToImmutableMemoized(t *testing.T) {
	m := seeded(t, 10)
	b := m.ToBuilder()
	assert.Same(t, m, b.ToImmutable())

	require.NoError(t, b.SetItem(k(1), []byte("x")))
	m1 := b.ToImmutable()
	assert.NotSame(t, m, m1)
	assert.Same(t, m1, b.ToImmutable())

	// no-op edits keep the memo
	require.NoError(t, b.Add(k(1), []byte("x")))
	assert.False(t, b.Remove(k(99)))
	assert.Same(t, m1, b.ToImmutable())

	b.Remove(k(1))
	assert.NotSame(t, m1, b.ToImmutable())
}

func TestBuilderVersion(t *testing.T) {
	b := NewBuilder()
	v0 := b.Version()
	require.NoError(t, b.Add([]byte("a"), []byte("1")))
	require.NoError(t, b.Add([]byte("a"), []byte("1")))
	assert.ErrorIs(t, b.Add([]byte("a"), []byte("2")), ErrDuplicateKey)
	b.Remove([]byte("zz"))
	b.Clear()
	assert.Equal(t, v0+5, b.Version())
	assert.Equal(t, 0, b.Count())
	assert.Same(t, Empty(), b.ToImmutable())
}

func TestBuilderModifiedDuringIteration(t *testing.T) {
	b := seeded(t, 10).ToBuilder()
	e := b.All().Enumerator()
	require.True(t, e.Next())
	require.NoError(t, b.SetItem(k(3), []byte("x")))
	assert.False(t, e.Next())
	assert.ErrorIs(t, e.Err(), ErrModifiedDuringIteration)

	// a fresh enumeration sees the edit
	keys, err := b.All().Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 10)

	seq := b.Reversed()
	err = seq.ForEach(func(key, _ []byte) error {
		b.Remove(key)
		return nil
	})
	assert.ErrorIs(t, err, ErrModifiedDuringIteration)
}

func TestBuilderReadYourWrites(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Add([]byte("b"), []byte("2")))
	require.NoError(t, b.Add([]byte("a"), []byte("1")))
	assert.True(t, b.ContainsKey([]byte("a")))
	value, ok := b.TryGetValue([]byte("b"))
	assert.True(t, ok)
	assert.Equal(t, []byte("2"), value)
	_, err := b.ValueRef([]byte("c"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	s, err := b.Range([]byte("a"), []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, collectKeys(t, s))
	assert.Equal(t, []string{"b", "a"}, collectKeys(t, b.Reversed()))
	assert.Equal(t, []string{"b"}, collectKeys(t, b.Prefix([]byte("b"))))
}

func TestBuilderAddRange(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddRange([]KeyValue{{[]byte("b"), nil}, {[]byte("a"), nil}}, false))
	assert.Equal(t, 2, b.Count())
	require.NoError(t, b.AddRange([]KeyValue{{[]byte("c"), nil}, {[]byte("a"), nil}}, false))
	assert.Equal(t, 3, b.Count())
	err := b.AddRange([]KeyValue{{[]byte("d"), nil}, {[]byte("a"), []byte("x")}}, false)
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.True(t, b.ContainsKey([]byte("d")))
	checkTree(t, b.ToImmutable())
}

func TestBuilderMatchesMap(t *testing.T) {
	t.Parallel()
	properties := gopter.NewProperties(defaultGopterParameters)
	properties.Property("builder edits equal the same persistent edits",
		prop.ForAll(func(seed, ops []testOp) bool {
			base := Empty()
			for _, op := range seed {
				base, _ = base.SetItem(k(op.Key), v(op.Value))
			}
			b := base.ToBuilder()
			m := base
			for i, op := range ops {
				key, value := k(op.Key), v(op.Value)
				switch op.Kind {
				case 0, 2:
					m, _ = m.SetItem(key, value)
					_ = b.SetItem(key, value)
				case 1:
					m = m.Remove(key)
					b.Remove(key)
				}
				if i%7 == 3 {
					b.ToImmutable()
				}
			}
			got := b.ToImmutable()
			if _, err := validate(got.rootNode(), nil, nil); err != nil {
				t.Log(err)
				return false
			}
			if _, err := validate(base.rootNode(), nil, nil); err != nil {
				t.Log(err)
				return false
			}
			return got.Count() == m.Count() && len(Diff(m, got)) == 0
		}, genTestOps(48), genTestOps(48)))
	properties.TestingRun(t)
}
