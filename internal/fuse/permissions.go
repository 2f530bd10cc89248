package fuse

import (
	"context"
	"os"
)

// Chmod changes permission bits on the base entry
func (fs *Filesystem) Chmod(ctx context.Context, path string, mode os.FileMode) error {
	return fs.backend.Chmod(ctx, path, mode)
}

// Chown changes ownership of the base entry
func (fs *Filesystem) Chown(ctx context.Context, path string, uid, gid uint32) error {
	return fs.backend.Chown(ctx, path, uid, gid)
}
