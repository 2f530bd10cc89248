package fuse

import (
	"context"
	"time"
)

// Utimens sets access and modification times on the base entry
func (fs *Filesystem) Utimens(ctx context.Context, path string, atime, mtime time.Time) error {
	return fs.backend.Chtimes(ctx, path, atime, mtime)
}
