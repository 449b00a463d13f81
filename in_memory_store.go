package mvkv

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type inMemoryStore struct {
	entries map[string][]byte
	l       sync.Mutex
}

// NewInMemoryStore provides a Persist that keeps blobs in a map, usually for
// testing.
func NewInMemoryStore() Persist {
	return &inMemoryStore{entries: map[string][]byte{}}
}

func (ims *inMemoryStore) Store(ctx context.Context, key string, value []byte) error {
	ims.l.Lock()
	ims.entries[key] = append([]byte(nil), value...)
	ims.l.Unlock()
	return nil
}

func (ims *inMemoryStore) Load(ctx context.Context, key string) ([]byte, error) {
	ims.l.Lock()
	value, ok := ims.entries[key]
	ims.l.Unlock()
	if !ok {
		return nil, fmt.Errorf("inMemoryStore entry not found for %s", key)
	}
	return value, nil
}

// names lists the stored blob names in order.
func (ims *inMemoryStore) names() []string {
	ims.l.Lock()
	defer ims.l.Unlock()
	names := make([]string, 0, len(ims.entries))
	for name := range ims.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
