package mvkv

import "bytes"

// compareKeys orders keys lexicographically by byte; a proper prefix sorts
// before any key it prefixes.
func compareKeys(a, b []byte) int {
	return bytes.Compare(a, b)
}

func equalValues(a, b []byte) bool {
	return bytes.Equal(a, b)
}

// prefixEnd returns the smallest key greater than every key having the given
// prefix, or nil if no such key exists (the prefix is all 0xff bytes).
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// KeyValue is a single entry of a map.
type KeyValue struct {
	Key   []byte
	Value []byte
}
