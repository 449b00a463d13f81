package mvkv

import "fmt"

// OpKind tags a ChangeOperation.
type OpKind uint8

const (
	// OpNone is the zero kind; it is never valid to apply.
	OpNone OpKind = iota
	// OpSet inserts or replaces a value.
	OpSet
	// OpDelete removes a key.
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpNone:
		return "None"
	case OpSet:
		return "Set"
	case OpDelete:
		return "Delete"
	}
	return fmt.Sprintf("OpKind(%d)", uint8(k))
}

// ChangeOperation is a single edit of one key.
type ChangeOperation struct {
	Kind  OpKind
	Key   []byte
	Value []byte
}

// Set returns an operation that upserts key to value.
func Set(key, value []byte) ChangeOperation {
	return ChangeOperation{Kind: OpSet, Key: key, Value: value}
}

// Delete returns an operation that removes key.
func Delete(key []byte) ChangeOperation {
	return ChangeOperation{Kind: OpDelete, Key: key}
}

func (op ChangeOperation) String() string {
	switch op.Kind {
	case OpSet:
		return fmt.Sprintf("Set(%s,%s)", op.Key, op.Value)
	case OpDelete:
		return fmt.Sprintf("Delete(%s)", op.Key)
	}
	return op.Kind.String()
}

// ChangeBatch is the unit of atomic change: the operations that took a store
// from Sequence-1 to Sequence.
type ChangeBatch struct {
	Sequence uint64
	Ops      []ChangeOperation
}

// applyOps applies ops to b in order. Set upserts, Delete removes, and any
// other kind fails with ErrInvalidArgument.
func applyOps(b *Builder, ops []ChangeOperation) error {
	for i, op := range ops {
		switch op.Kind {
		case OpSet:
			if err := b.SetItem(op.Key, op.Value); err != nil {
				return fmt.Errorf("op %d: %w", i, err)
			}
		case OpDelete:
			b.Remove(op.Key)
		default:
			return fmt.Errorf("op %d: %w: cannot apply %v", i, ErrInvalidArgument, op.Kind)
		}
	}
	return nil
}

// ApplyPatch returns m with ops applied in order.
func ApplyPatch(m *Map, ops []ChangeOperation) (*Map, error) {
	b := m.ToBuilder()
	if err := applyOps(b, ops); err != nil {
		return m, err
	}
	return b.ToImmutable(), nil
}
