package mvkv

import lru "github.com/hashicorp/golang-lru"

// SnapshotCache caches versions reconstructed by Log.GetSnapshot, keyed by
// sequence number. The maps are immutable, so one cache may be shared by
// readers freely; a Log purges its cache when it is truncated.
type SnapshotCache interface {
	// Add remembers the map reconstructed for a sequence.
	Add(key, value interface{})
	// Get retrieves a previously reconstructed map.
	Get(key interface{}) (value interface{}, ok bool)
	// Purge forgets everything.
	Purge()
}

// NewSnapshotCache creates an ARC-based cache holding up to size versions.
func NewSnapshotCache(size int) SnapshotCache {
	cache, err := lru.NewARC(size)
	if err != nil {
		panic(err)
	}
	return cache
}
