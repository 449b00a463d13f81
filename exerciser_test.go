package mvkv

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/commands"
	"github.com/leanovate/gopter/gen"
)

type expected struct {
	entries   map[uint]uint
	snapshots []map[uint]uint
}

func (e *expected) clone() *expected {
	entries := make(map[uint]uint, len(e.entries))
	for key, value := range e.entries {
		entries[key] = value
	}
	return &expected{
		entries:   entries,
		snapshots: append([]map[uint]uint(nil), e.snapshots...),
	}
}

func (e *expected) sortedKeys() []uint {
	keys := make([]uint, 0, len(e.entries))
	for key := range e.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

type system struct {
	b         *Builder
	snapshots []*Map
	cmdCount  int
}

type xentry struct {
	Key   uint
	Value uint
}

const (
	uimax      = 300
	nSnapshots = 5
)

var (
	cmdCount  = 0
	maxHeight = 0
	debug     = false
)

func progress(i interface{}) {
	if debug {
		fmt.Printf("%v\n", i)
	}
}

func propResult(ok bool, format string, args ...interface{}) *gopter.PropResult {
	if !ok {
		fmt.Printf(format+"\n", args...)
		return &gopter.PropResult{Status: gopter.PropFalse}
	}
	return &gopter.PropResult{Status: gopter.PropTrue}
}

var CountCommand = &commands.ProtoCommand{
	Name: "Count",
	RunFunc: func(s commands.SystemUnderTest) commands.Result {
		s.(*system).cmdCount++
		return s.(*system).b.Count()
	},
	NextStateFunc:    func(state commands.State) commands.State { return state },
	PreConditionFunc: func(state commands.State) bool { return true },
	PostConditionFunc: func(state commands.State, result commands.Result) *gopter.PropResult {
		want := len(state.(*expected).entries)
		return propResult(want == result.(int), "Count: expected=%d, actual=%d", want, result)
	},
}

var ValidateCommand = &commands.ProtoCommand{
	Name: "Validate",
	RunFunc: func(s commands.SystemUnderTest) commands.Result {
		s.(*system).cmdCount++
		_, err := validate(s.(*system).b.root, nil, nil)
		return err
	},
	NextStateFunc:    func(state commands.State) commands.State { return state },
	PreConditionFunc: func(state commands.State) bool { return true },
	PostConditionFunc: func(state commands.State, result commands.Result) *gopter.PropResult {
		return propResult(result == nil, "Validate: %v", result)
	},
}

var ReversedCommand = &commands.ProtoCommand{
	Name: "Reversed",
	RunFunc: func(s commands.SystemUnderTest) commands.Result {
		s.(*system).cmdCount++
		keys, err := s.(*system).b.Reversed().Keys()
		if err != nil {
			return err
		}
		return keys
	},
	NextStateFunc:    func(state commands.State) commands.State { return state },
	PreConditionFunc: func(state commands.State) bool { return true },
	PostConditionFunc: func(state commands.State, result commands.Result) *gopter.PropResult {
		keys, ok := result.([][]byte)
		if !ok {
			return propResult(false, "Reversed: %v", result)
		}
		want := state.(*expected).sortedKeys()
		if len(keys) != len(want) {
			return propResult(false, "Reversed: expected %d keys, got %d", len(want), len(keys))
		}
		for i, key := range want {
			if !bytes.Equal(keys[len(keys)-1-i], k(key)) {
				return propResult(false, "Reversed: key %d is %s, expected %s", i, keys[len(keys)-1-i], k(key))
			}
		}
		return propResult(true, "")
	},
}

type setCommand xentry

func (c setCommand) Run(s commands.SystemUnderTest) commands.Result {
	s.(*system).cmdCount++
	return s.(*system).b.SetItem(k(c.Key), v(c.Value))
}

func (c setCommand) NextState(state commands.State) commands.State {
	next := state.(*expected).clone()
	next.entries[c.Key] = c.Value
	return next
}

func (c setCommand) PreCondition(state commands.State) bool { return true }

func (c setCommand) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	return propResult(result == nil, "Set: %v", result)
}

func (c setCommand) String() string { return fmt.Sprintf("Set(%d,%d)", c.Key, c.Value) }

// addCommand reads the key back after Add, which must only have stored the
// value if the key was absent.
type addCommand xentry

func (c addCommand) Run(s commands.SystemUnderTest) commands.Result {
	b := s.(*system).b
	s.(*system).cmdCount++
	_ = b.Add(k(c.Key), v(c.Value))
	value, _ := b.TryGetValue(k(c.Key))
	return value
}

func (c addCommand) NextState(state commands.State) commands.State {
	next := state.(*expected).clone()
	if _, ok := next.entries[c.Key]; !ok {
		next.entries[c.Key] = c.Value
	}
	return next
}

func (c addCommand) PreCondition(state commands.State) bool { return true }

func (c addCommand) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	want := v(state.(*expected).entries[c.Key])
	return propResult(bytes.Equal(want, result.([]byte)), "Add: expected %s, read back %s", want, result)
}

func (c addCommand) String() string { return fmt.Sprintf("Add(%d,%d)", c.Key, c.Value) }

type removeCommand uint

func (c removeCommand) Run(s commands.SystemUnderTest) commands.Result {
	b := s.(*system).b
	s.(*system).cmdCount++
	b.Remove(k(uint(c)))
	return b.ContainsKey(k(uint(c)))
}

func (c removeCommand) NextState(state commands.State) commands.State {
	next := state.(*expected).clone()
	delete(next.entries, uint(c))
	return next
}

func (c removeCommand) PreCondition(state commands.State) bool { return true }

func (c removeCommand) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	return propResult(!result.(bool), "Remove(%d): key still present", uint(c))
}

func (c removeCommand) String() string { return fmt.Sprintf("Remove(%d)", uint(c)) }

// removeNthCommand removes an existing key, picked by position.
type removeNthCommand uint

func (c removeNthCommand) Run(s commands.SystemUnderTest) commands.Result {
	b := s.(*system).b
	s.(*system).cmdCount++
	if b.Count() == 0 {
		return nil
	}
	e := b.All().Enumerator()
	for i := 0; i <= int(c)%b.Count(); i++ {
		e.Next()
	}
	key := append([]byte(nil), e.Key()...)
	if !b.Remove(key) {
		return fmt.Errorf("remove %s reported absent", key)
	}
	return nil
}

func (c removeNthCommand) NextState(state commands.State) commands.State {
	next := state.(*expected).clone()
	keys := next.sortedKeys()
	if len(keys) > 0 {
		delete(next.entries, keys[int(c)%len(keys)])
	}
	return next
}

func (c removeNthCommand) PreCondition(state commands.State) bool { return true }

func (c removeNthCommand) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	return propResult(result == nil, "RemoveNth: %v", result)
}

func (c removeNthCommand) String() string { return fmt.Sprintf("RemoveNth(%d)", uint(c)) }

type getCommand uint

func (c getCommand) Run(s commands.SystemUnderTest) commands.Result {
	s.(*system).cmdCount++
	value, ok := s.(*system).b.TryGetValue(k(uint(c)))
	if !ok {
		return nil
	}
	return value
}

func (c getCommand) NextState(state commands.State) commands.State { return state }

func (c getCommand) PreCondition(state commands.State) bool { return true }

func (c getCommand) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	want, ok := state.(*expected).entries[uint(c)]
	if !ok {
		return propResult(result == nil, "Get(%d): expected absent, got %s", uint(c), result)
	}
	got, _ := result.([]byte)
	return propResult(bytes.Equal(v(want), got), "Get(%d): expected %s, got %s", uint(c), v(want), got)
}

func (c getCommand) String() string { return fmt.Sprintf("Get(%d)", uint(c)) }

type snapshotCommand uint

func (c snapshotCommand) Run(s commands.SystemUnderTest) commands.Result {
	sys := s.(*system)
	sys.cmdCount++
	m := sys.b.ToImmutable()
	sys.snapshots[int(c)%nSnapshots] = m
	if m.Height() > maxHeight {
		maxHeight = m.Height()
	}
	_, err := validate(m.rootNode(), nil, nil)
	return err
}

func (c snapshotCommand) NextState(state commands.State) commands.State {
	next := state.(*expected).clone()
	next.snapshots[int(c)%nSnapshots] = next.clone().entries
	return next
}

func (c snapshotCommand) PreCondition(state commands.State) bool { return true }

func (c snapshotCommand) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	return propResult(result == nil, "Snapshot: %v", result)
}

func (c snapshotCommand) String() string { return fmt.Sprintf("Snapshot(%d)", int(c)%nSnapshots) }

type diffResult struct {
	ops     int
	patched bool
	old     error
}

// diffCommand diffs a saved snapshot against the current contents. The
// snapshot must be unchanged by every edit made since it was taken.
type diffCommand uint

func (c diffCommand) Run(s commands.SystemUnderTest) commands.Result {
	sys := s.(*system)
	sys.cmdCount++
	old := sys.snapshots[int(c)%nSnapshots]
	cur := sys.b.ToImmutable()
	ops := Diff(old, cur)
	patched, err := ApplyPatch(old, ops)
	if err != nil {
		return diffResult{old: err}
	}
	_, err = validate(old.rootNode(), nil, nil)
	return diffResult{
		ops:     len(ops),
		patched: len(Diff(patched, cur)) == 0 && len(Diff(old, cur)) == len(Diff(cur, old)),
		old:     err,
	}
}

func (c diffCommand) NextState(state commands.State) commands.State { return state }

func (c diffCommand) PreCondition(state commands.State) bool { return true }

func (c diffCommand) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	e := state.(*expected)
	old := e.snapshots[int(c)%nSnapshots]
	want := 0
	for key, value := range e.entries {
		if prev, ok := old[key]; !ok || prev != value {
			want++
		}
	}
	for key := range old {
		if _, ok := e.entries[key]; !ok {
			want++
		}
	}
	r := result.(diffResult)
	return propResult(r.old == nil && r.patched && r.ops == want,
		"Diff(%d): expected %d ops, got %+v", int(c)%nSnapshots, want, r)
}

func (c diffCommand) String() string { return fmt.Sprintf("Diff(%d)", int(c)%nSnapshots) }

func entryCommandGen(toCommand func(xentry) commands.Command) gopter.Gen {
	return gen.Struct(reflect.TypeOf(xentry{}), map[string]gopter.Gen{
		"Key":   gen.UIntRange(0, uimax),
		"Value": gen.UIntRange(0, 3),
	}).Map(func(entry xentry) commands.Command {
		return toCommand(entry)
	})
}

func uintCommandGen(toCommand func(uint) commands.Command) gopter.Gen {
	return gen.UIntRange(0, uimax).Map(func(value uint) commands.Command {
		return toCommand(value)
	})
}

var (
	genSet       = entryCommandGen(func(e xentry) commands.Command { return setCommand(e) })
	genAdd       = entryCommandGen(func(e xentry) commands.Command { return addCommand(e) })
	genRemove    = uintCommandGen(func(u uint) commands.Command { return removeCommand(u) })
	genRemoveNth = uintCommandGen(func(u uint) commands.Command { return removeNthCommand(u) })
	genGet       = uintCommandGen(func(u uint) commands.Command { return getCommand(u) })
	genSnapshot  = uintCommandGen(func(u uint) commands.Command { return snapshotCommand(u) })
	genDiff      = uintCommandGen(func(u uint) commands.Command { return diffCommand(u) })

	builderCommands = &commands.ProtoCommands{
		NewSystemUnderTestFunc: func(initialState commands.State) commands.SystemUnderTest {
			b := NewBuilder()
			for key, value := range initialState.(*expected).entries {
				if err := b.Add(k(key), v(value)); err != nil {
					panic(err)
				}
			}
			progress("NewSystem")
			return &system{b: b, snapshots: make([]*Map, nSnapshots)}
		},
		DestroySystemUnderTestFunc: func(s commands.SystemUnderTest) {
			cmdCount += s.(*system).cmdCount
		},
		InitialStateGen: gen.MapOf(gen.UIntRange(0, uimax), gen.UIntRange(0, 3)).Map(func(entries map[uint]uint) *expected {
			return &expected{
				entries:   entries,
				snapshots: make([]map[uint]uint, nSnapshots),
			}
		}),
		InitialPreConditionFunc: func(state commands.State) bool {
			_ = state.(*expected)
			return true
		},
		GenCommandFunc: func(state commands.State) gopter.Gen {
			return gen.Weighted(
				[]gen.WeightedGen{
					{Weight: 100, Gen: genSet},
					{Weight: 50, Gen: genAdd},
					{Weight: 100, Gen: genRemove},
					{Weight: 50, Gen: genRemoveNth},
					{Weight: 100, Gen: genGet},
					{Weight: 10, Gen: genSnapshot},
					{Weight: 5, Gen: genDiff},
					{Weight: 20, Gen: gen.Const(CountCommand)},
					{Weight: 5, Gen: gen.Const(ValidateCommand)},
					{Weight: 2, Gen: gen.Const(ReversedCommand)},
				},
			)
		},
	}
)

func TestExerciser(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	if !testing.Short() {
		parameters.MaxSize = 1024
	}
	properties := gopter.NewProperties(parameters)
	properties.Property("builder exerciser", commands.Prop(builderCommands))
	properties.TestingRun(t)
	if !t.Failed() {
		t.Logf("tallest snapshot: %d", maxHeight)
		t.Logf("successful commands: %d", cmdCount)
	}
}
