package types

import (
	"context"
	"os"
	"time"
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

// DirEntry represents a single directory entry
type DirEntry struct {
	Name  string
	IsDir bool
}

// StatfsInfo represents filesystem statistics
type StatfsInfo struct {
	Bsize   uint64 // Block size
	Blocks  uint64 // Total blocks
	Bfree   uint64 // Free blocks
	Bavail  uint64 // Available blocks
	Files   uint64 // Total inodes
	Ffree   uint64 // Free inodes
	Namelen uint32 // Max filename length
}

// Backend defines the interface for storage backends.
// Paths are mount-relative and always start with "/"; each backend maps them
// onto its own namespace (directory prefix, object key, table row). Backends
// never interpret version suffixes - chain logic lives above them.
type Backend interface {
	// Exists checks if an entry exists (without following symlinks)
	Exists(ctx context.Context, path string) (bool, error)

	// GetAttr gets entry attributes (lstat semantics)
	GetAttr(ctx context.Context, path string) (*Attr, error)

	// Access checks accessibility with the given mask (F_OK/R_OK/W_OK/X_OK)
	Access(ctx context.Context, path string, mask uint32) error

	// Read reads the full content of a file
	Read(ctx context.Context, path string) ([]byte, error)

	// ReadRange reads up to length bytes at offset; short reads near EOF
	// return only the available bytes
	ReadRange(ctx context.Context, path string, offset, length int64) ([]byte, error)

	// Write creates or replaces a file with the given content
	Write(ctx context.Context, path string, data []byte) error

	// Create creates an empty file, failing if the path is occupied
	Create(ctx context.Context, path string, mode os.FileMode) error

	// Mknod creates a special file (FIFO, device node)
	Mknod(ctx context.Context, path string, mode os.FileMode, rdev uint32) error

	// Delete removes a file
	Delete(ctx context.Context, path string) error

	// Rename moves a single entry
	Rename(ctx context.Context, oldPath, newPath string) error

	// ReadDir lists the entries of a directory
	ReadDir(ctx context.Context, path string) ([]DirEntry, error)

	// Mkdir creates a directory
	Mkdir(ctx context.Context, path string, mode os.FileMode) error

	// Rmdir removes an empty directory
	Rmdir(ctx context.Context, path string) error

	// Symlink creates a symbolic link at link pointing to target
	Symlink(ctx context.Context, target, link string) error

	// Readlink reads the target of a symbolic link
	Readlink(ctx context.Context, path string) (string, error)

	// Link creates a hard link
	Link(ctx context.Context, oldPath, newPath string) error

	// Chmod changes permission bits
	Chmod(ctx context.Context, path string, mode os.FileMode) error

	// Chown changes ownership (without following symlinks)
	Chown(ctx context.Context, path string, uid, gid uint32) error

	// Chtimes sets access and modification times
	Chtimes(ctx context.Context, path string, atime, mtime time.Time) error

	// GetXattr gets an extended attribute value
	GetXattr(ctx context.Context, path, name string) ([]byte, error)

	// SetXattr sets an extended attribute
	SetXattr(ctx context.Context, path, name string, value []byte) error

	// ListXattr lists extended attribute names
	ListXattr(ctx context.Context, path string) ([]string, error)

	// RemoveXattr removes an extended attribute
	RemoveXattr(ctx context.Context, path, name string) error

	// Statfs returns statistics for the filesystem holding path
	Statfs(ctx context.Context, path string) (*StatfsInfo, error)
}
