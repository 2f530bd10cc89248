package fuse

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/versfs/versfs-go/internal/chain"
	"github.com/versfs/versfs-go/internal/storage/types"
)

// Attr represents file attributes
type Attr struct {
	Mode  os.FileMode
	Size  int64
	Mtime time.Time
	Atime time.Time
	Uid   uint32
	Gid   uint32
	Nlink uint32
}

// DirEntry represents a directory entry
type DirEntry struct {
	Name  string
	IsDir bool
}

// Statfs represents filesystem statistics
type Statfs struct {
	Bsize   uint64
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Namelen uint32
}

// Filesystem implements the versioning semantics over a storage backend.
//
// Content operations (read, write, truncate) act on the version chain of the
// target path; unlink and rename cascade over the whole chain; everything
// else translates and forwards. Write, truncate, unlink and rename hold the
// path's exclusive lock across their probe-then-mutate sequence so two
// concurrent writers commit to distinct entries K+1 and K+2 instead of
// racing for the same slot.
type Filesystem struct {
	backend types.Backend
	chains  *chain.Resolver
	locks   *chain.PathLocker
}

// NewFilesystem creates a new filesystem instance over the given backend
func NewFilesystem(backend types.Backend) *Filesystem {
	return &Filesystem{
		backend: backend,
		chains:  chain.NewResolver(backend),
		locks:   chain.NewPathLocker(),
	}
}

// GetAttr retrieves attributes. Metadata queries target the base entry; its
// size can go stale once versions exist, which callers accept in exchange
// for never rewriting the base.
func (fs *Filesystem) GetAttr(ctx context.Context, path string) (*Attr, error) {
	attr, err := fs.backend.GetAttr(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Attr{
		Mode:  attr.Mode,
		Size:  attr.Size,
		Mtime: attr.Mtime,
		Atime: attr.Atime,
		Uid:   attr.Uid,
		Gid:   attr.Gid,
		Nlink: attr.Nlink,
	}, nil
}

// Access checks file access permissions
func (fs *Filesystem) Access(ctx context.Context, path string, mask uint32) error {
	return fs.backend.Access(ctx, path, mask)
}

// ReadDir lists directory entries, hiding every name that carries the
// version marker so chains never leak through the mount
func (fs *Filesystem) ReadDir(ctx context.Context, path string) ([]DirEntry, error) {
	raw, err := fs.backend.ReadDir(ctx, path)
	if err != nil {
		return nil, err
	}
	entries := make([]DirEntry, 0, len(raw))
	for _, e := range raw {
		if chain.IsEntry(e.Name) {
			continue
		}
		entries = append(entries, DirEntry{Name: e.Name, IsDir: e.IsDir})
	}
	return entries, nil
}

// ReadFile reads from the newest version entry. With no versions yet the
// base entry serves the read: a freshly created file reads as empty, a file
// that never existed propagates the backend's not-found. The offset
// addresses the selected entry.
func (fs *Filesystem) ReadFile(ctx context.Context, path string, offset, size int64) ([]byte, error) {
	fs.locks.RLock(path)
	defer fs.locks.RUnlock(path)

	_, head, err := fs.chains.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	source := path
	if head != "" {
		source = head
	}
	return fs.backend.ReadRange(ctx, source, offset, size)
}

// WriteFile appends a new version entry holding the written data. Every
// call produces exactly one immutable snapshot; the base entry and all
// prior entries stay untouched. A non-zero offset yields that many leading
// zero bytes, matching a positional write into a fresh file.
func (fs *Filesystem) WriteFile(ctx context.Context, path string, data []byte, offset int64) (int, error) {
	fs.locks.Lock(path)
	defer fs.locks.Unlock(path)

	entry, _, err := fs.chains.NextEntry(ctx, path)
	if err != nil {
		return 0, err
	}

	content := data
	if offset > 0 {
		content = make([]byte, offset+int64(len(data)))
		copy(content[offset:], data)
	}
	if err := fs.backend.Write(ctx, entry, content); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Truncate appends a new version entry holding the first size bytes of the
// current content (head entry, or base when no version exists yet). A
// request beyond the source length zero-pads to exactly size. History is
// never mutated in place, so a write-then-truncate sequence leaves two
// entries - accepted, not an error.
func (fs *Filesystem) Truncate(ctx context.Context, path string, size int64) error {
	fs.locks.Lock(path)
	defer fs.locks.Unlock(path)

	k, head, err := fs.chains.Resolve(ctx, path)
	if err != nil {
		return err
	}
	source := path
	if k >= 1 {
		source = head
	}

	data, err := fs.backend.Read(ctx, source)
	if err != nil {
		return err
	}

	content := make([]byte, size)
	copy(content, data)

	entry := chain.EntryPath(path, k+1)
	return fs.backend.Write(ctx, entry, content)
}

// Create creates a new empty file at the base path; the chain starts at K=0
func (fs *Filesystem) Create(ctx context.Context, path string, mode os.FileMode) error {
	return fs.backend.Create(ctx, path, mode)
}

// Mknod creates a special file
func (fs *Filesystem) Mknod(ctx context.Context, path string, mode os.FileMode, rdev uint32) error {
	return fs.backend.Mknod(ctx, path, mode, rdev)
}

// Remove deletes every version entry and then the base path. Removing a
// file removes its history: there is no trash can. The first failing step
// aborts the cascade and surfaces the backend error; already-deleted
// entries are not restored.
func (fs *Filesystem) Remove(ctx context.Context, path string) error {
	fs.locks.Lock(path)
	defer fs.locks.Unlock(path)

	for n := 1; ; n++ {
		entry := chain.EntryPath(path, n)
		exists, err := fs.backend.Exists(ctx, entry)
		if err != nil {
			return err
		}
		if !exists {
			break
		}
		if err := fs.backend.Delete(ctx, entry); err != nil {
			return fmt.Errorf("deleting version %d of %s: %w", n, path, err)
		}
	}
	return fs.backend.Delete(ctx, path)
}

// Rename moves every version entry from the old chain to the identically
// indexed entry of the new chain, then moves the base. Indices are
// preserved, never renumbered, so the destination chain stays a dense run
// from 1. The first failing step aborts the cascade.
func (fs *Filesystem) Rename(ctx context.Context, oldPath, newPath string) error {
	fs.locks.LockPair(oldPath, newPath)
	defer fs.locks.UnlockPair(oldPath, newPath)

	for n := 1; ; n++ {
		from := chain.EntryPath(oldPath, n)
		exists, err := fs.backend.Exists(ctx, from)
		if err != nil {
			return err
		}
		if !exists {
			break
		}
		to := chain.EntryPath(newPath, n)
		if err := fs.backend.Rename(ctx, from, to); err != nil {
			return fmt.Errorf("moving version %d of %s: %w", n, oldPath, err)
		}
	}
	return fs.backend.Rename(ctx, oldPath, newPath)
}

// Mkdir creates a directory
func (fs *Filesystem) Mkdir(ctx context.Context, path string, mode os.FileMode) error {
	return fs.backend.Mkdir(ctx, path, mode)
}

// Rmdir removes an empty directory
func (fs *Filesystem) Rmdir(ctx context.Context, path string) error {
	return fs.backend.Rmdir(ctx, path)
}

// Symlink creates a symbolic link
func (fs *Filesystem) Symlink(ctx context.Context, target, link string) error {
	return fs.backend.Symlink(ctx, target, link)
}

// Readlink reads the target of a symbolic link
func (fs *Filesystem) Readlink(ctx context.Context, path string) (string, error) {
	return fs.backend.Readlink(ctx, path)
}

// Link creates a hard link to the base entry. The link shares the base
// only; versions written through either name grow that name's own chain.
func (fs *Filesystem) Link(ctx context.Context, oldPath, newPath string) error {
	return fs.backend.Link(ctx, oldPath, newPath)
}

// Open validates that the node exists; handles carry no state
func (fs *Filesystem) Open(ctx context.Context, path string) error {
	_, err := fs.backend.GetAttr(ctx, path)
	return err
}

// Statfs returns statistics of the backing filesystem
func (fs *Filesystem) Statfs(ctx context.Context, path string) (*Statfs, error) {
	st, err := fs.backend.Statfs(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Statfs{
		Bsize:   st.Bsize,
		Blocks:  st.Blocks,
		Bfree:   st.Bfree,
		Bavail:  st.Bavail,
		Files:   st.Files,
		Ffree:   st.Ffree,
		Namelen: st.Namelen,
	}, nil
}

// Flush is a no-op: every write is durable once its version entry lands
func (fs *Filesystem) Flush(ctx context.Context, path string) error {
	return nil
}

// Fsync is a no-op for the same reason as Flush
func (fs *Filesystem) Fsync(ctx context.Context, path string, datasync bool) error {
	return nil
}

// Release releases a file handle; nothing is held per handle
func (fs *Filesystem) Release(ctx context.Context, path string) error {
	return nil
}
