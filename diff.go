package mvkv

// DiffIter walks old and m in lock step and invokes f for every key whose
// entry differs: added for keys only in m, removed for keys only in old, and
// added == removed == false for keys whose value changed. The walk stops
// when f returns keepGoing == false or an error.
func (m *Map) DiffIter(
	old *Map,
	f func(added, removed bool, key, addedValue, removedValue []byte) (bool, error),
) error {
	if old.rootNode() == m.rootNode() {
		return nil
	}
	o := old.All().Enumerator()
	n := m.All().Enumerator()
	oOK, nOK := o.Next(), n.Next()
	for oOK || nOK {
		var keepGoing bool
		var err error
		switch {
		case !nOK:
			keepGoing, err = f(false, true, o.Key(), nil, o.Value())
			oOK = o.Next()
		case !oOK:
			keepGoing, err = f(true, false, n.Key(), n.Value(), nil)
			nOK = n.Next()
		default:
			cmp := compareKeys(o.Key(), n.Key())
			switch {
			case cmp < 0:
				keepGoing, err = f(false, true, o.Key(), nil, o.Value())
				oOK = o.Next()
			case cmp > 0:
				keepGoing, err = f(true, false, n.Key(), n.Value(), nil)
				nOK = n.Next()
			default:
				keepGoing = true
				if !equalValues(o.Value(), n.Value()) {
					keepGoing, err = f(false, false, n.Key(), n.Value(), o.Value())
				}
				oOK, nOK = o.Next(), n.Next()
			}
		}
		if err != nil {
			return err
		}
		if !keepGoing {
			return nil
		}
	}
	return nil
}

// Diff returns, in ascending key order, the operations that turn from into
// to: Delete for keys missing from to and Set for keys added or changed.
func Diff(from, to *Map) []ChangeOperation {
	var ops []ChangeOperation
	_ = to.DiffIter(from, func(added, removed bool, key, addedValue, _ []byte) (bool, error) {
		if removed {
			ops = append(ops, Delete(key))
		} else {
			ops = append(ops, Set(key, addedValue))
		}
		return true, nil
	})
	return ops
}
