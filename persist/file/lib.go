// Package file stores mvkv exports as files in a directory.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Persist implements the mvkv.Persist interface with one file per blob.
type Persist struct {
	basepath string
}

// Load loads the bytes persisted in the named file.
func (p Persist) Load(ctx context.Context, name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(p.basepath, name))
}

// Store writes b to a temporary file and renames it over name, so readers
// see either the old blob or the new one.
func (p Persist) Store(ctx context.Context, name string, b []byte) error {
	if err := os.MkdirAll(p.basepath, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(p.basepath, "."+name+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)
	if _, err := f.Write(b); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(p.basepath, name))
}

// NewPersistForPath returns a Persist that loads and stores blobs as
// files in the directory at the given path, creating it on first Store.
//
//	p := NewPersistForPath("/var/db/exports")
//	head, err := p.Load(ctx, "HEAD")
func NewPersistForPath(path string) Persist {
	return Persist{path}
}
