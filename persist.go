package mvkv

import "context"

// Persist stores and loads named blobs, such as exported dumps and their
// manifest. Implementations live in persist/file and persist/s3.
type Persist interface {
	// Store makes the given bytes accessible by the given name, replacing
	// any previous blob of that name.
	Store(context.Context, string, []byte) error
	// Load retrieves the previously-stored bytes by the given name.
	Load(context.Context, string) ([]byte, error)
}
