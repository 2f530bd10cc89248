package fuse

import (
	"context"
)

// Extended attributes are pure pass-throughs: they target the base entry
// and never touch the version chain.

// SetXattr sets an extended attribute
func (fs *Filesystem) SetXattr(ctx context.Context, path, name string, value []byte) error {
	return fs.backend.SetXattr(ctx, path, name, value)
}

// GetXattr gets an extended attribute value
func (fs *Filesystem) GetXattr(ctx context.Context, path, name string) ([]byte, error) {
	return fs.backend.GetXattr(ctx, path, name)
}

// ListXattr lists all extended attribute names
func (fs *Filesystem) ListXattr(ctx context.Context, path string) ([]string, error) {
	return fs.backend.ListXattr(ctx, path)
}

// RemoveXattr removes an extended attribute
func (fs *Filesystem) RemoveXattr(ctx context.Context, path, name string) error {
	return fs.backend.RemoveXattr(ctx, path, name)
}
