// Package local implements the storage backend over a real backing
// directory. This is the drop-in compatible backend: the mapping is a plain
// string prepend (backing path = root ++ logical path) with no normalization
// or symlink resolution, so existing version chains on disk keep working
// bit-exact.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/versfs/versfs-go/internal/storage/types"
)

// LocalBackend implements types.Backend against a backing directory
type LocalBackend struct {
	root string
}

var _ types.Backend = (*LocalBackend)(nil)

// NewLocalBackend creates a backend rooted at the given absolute directory.
// The root is the only configuration; a relative or empty root is a fatal
// misconfiguration caught here, once, at startup.
func NewLocalBackend(root string) (*LocalBackend, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("storage root must be an absolute path: %q", root)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("storage root not accessible: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage root is not a directory: %q", root)
	}
	return &LocalBackend{root: root}, nil
}

// translate maps a logical path to its backing path
func (l *LocalBackend) translate(path string) string {
	return l.root + path
}

// Exists checks if an entry exists, without following symlinks
func (l *LocalBackend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Lstat(l.translate(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// GetAttr gets entry attributes with lstat semantics
func (l *LocalBackend) GetAttr(ctx context.Context, path string) (*types.Attr, error) {
	info, err := os.Lstat(l.translate(path))
	if err != nil {
		return nil, err
	}
	attr := &types.Attr{
		Mode:  info.Mode(),
		Size:  info.Size(),
		Mtime: info.ModTime(),
		Nlink: 1,
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		attr.Uid = st.Uid
		attr.Gid = st.Gid
		attr.Nlink = uint32(st.Nlink)
		attr.Atime = time.Unix(st.Atim.Sec, st.Atim.Nsec)
	}
	return attr, nil
}

// Access checks accessibility with the given mask
func (l *LocalBackend) Access(ctx context.Context, path string, mask uint32) error {
	return unix.Access(l.translate(path), mask)
}

// Read reads the full content of a file
func (l *LocalBackend) Read(ctx context.Context, path string) ([]byte, error) {
	return os.ReadFile(l.translate(path))
}

// ReadRange reads up to length bytes at offset
func (l *LocalBackend) ReadRange(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	f, err := os.Open(l.translate(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if length <= 0 {
		info, err := f.Stat()
		if err != nil {
			return nil, err
		}
		length = info.Size() - offset
		if length <= 0 {
			return []byte{}, nil
		}
	}

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

// Write creates or replaces a file with the given content
func (l *LocalBackend) Write(ctx context.Context, path string, data []byte) error {
	return os.WriteFile(l.translate(path), data, 0644)
}

// Create creates an empty file, failing if the path is occupied
func (l *LocalBackend) Create(ctx context.Context, path string, mode os.FileMode) error {
	f, err := os.OpenFile(l.translate(path), os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode&os.ModePerm)
	if err != nil {
		return err
	}
	return f.Close()
}

// Mknod creates a special file. Regular files go through exclusive create
// and FIFOs through mkfifo; everything else needs mknod privileges.
func (l *LocalBackend) Mknod(ctx context.Context, path string, mode os.FileMode, rdev uint32) error {
	backing := l.translate(path)
	switch {
	case mode&os.ModeType == 0:
		f, err := os.OpenFile(backing, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode&os.ModePerm)
		if err != nil {
			return err
		}
		return f.Close()
	case mode&os.ModeNamedPipe != 0:
		return unix.Mkfifo(backing, uint32(mode&os.ModePerm))
	default:
		return unix.Mknod(backing, uint32(mode&os.ModePerm), int(rdev))
	}
}

// Delete removes a file
func (l *LocalBackend) Delete(ctx context.Context, path string) error {
	return unix.Unlink(l.translate(path))
}

// Rename moves a single entry
func (l *LocalBackend) Rename(ctx context.Context, oldPath, newPath string) error {
	return os.Rename(l.translate(oldPath), l.translate(newPath))
}

// ReadDir lists the entries of a directory
func (l *LocalBackend) ReadDir(ctx context.Context, path string) ([]types.DirEntry, error) {
	dirents, err := os.ReadDir(l.translate(path))
	if err != nil {
		return nil, err
	}
	entries := make([]types.DirEntry, 0, len(dirents))
	for _, de := range dirents {
		entries = append(entries, types.DirEntry{
			Name:  de.Name(),
			IsDir: de.IsDir(),
		})
	}
	return entries, nil
}

// Mkdir creates a directory
func (l *LocalBackend) Mkdir(ctx context.Context, path string, mode os.FileMode) error {
	return os.Mkdir(l.translate(path), mode&os.ModePerm)
}

// Rmdir removes an empty directory
func (l *LocalBackend) Rmdir(ctx context.Context, path string) error {
	return unix.Rmdir(l.translate(path))
}

// Symlink creates a symbolic link at link pointing to target
func (l *LocalBackend) Symlink(ctx context.Context, target, link string) error {
	return os.Symlink(target, l.translate(link))
}

// Readlink reads the target of a symbolic link
func (l *LocalBackend) Readlink(ctx context.Context, path string) (string, error) {
	return os.Readlink(l.translate(path))
}

// Link creates a hard link
func (l *LocalBackend) Link(ctx context.Context, oldPath, newPath string) error {
	return os.Link(l.translate(oldPath), l.translate(newPath))
}

// Chmod changes permission bits
func (l *LocalBackend) Chmod(ctx context.Context, path string, mode os.FileMode) error {
	return os.Chmod(l.translate(path), mode&os.ModePerm)
}

// Chown changes ownership without following symlinks
func (l *LocalBackend) Chown(ctx context.Context, path string, uid, gid uint32) error {
	return os.Lchown(l.translate(path), int(uid), int(gid))
}

// Chtimes sets access and modification times without following symlinks
func (l *LocalBackend) Chtimes(ctx context.Context, path string, atime, mtime time.Time) error {
	ts := []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	return unix.UtimesNanoAt(unix.AT_FDCWD, l.translate(path), ts, unix.AT_SYMLINK_NOFOLLOW)
}

// GetXattr gets an extended attribute value
func (l *LocalBackend) GetXattr(ctx context.Context, path, name string) ([]byte, error) {
	backing := l.translate(path)
	size, err := unix.Lgetxattr(backing, name, nil)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, size)
	n, err := unix.Lgetxattr(backing, name, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// SetXattr sets an extended attribute
func (l *LocalBackend) SetXattr(ctx context.Context, path, name string, value []byte) error {
	return unix.Lsetxattr(l.translate(path), name, value, 0)
}

// ListXattr lists extended attribute names
func (l *LocalBackend) ListXattr(ctx context.Context, path string) ([]string, error) {
	backing := l.translate(path)
	size, err := unix.Llistxattr(backing, nil)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return []string{}, nil
	}
	buf := make([]byte, size)
	n, err := unix.Llistxattr(backing, buf)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0)
	start := 0
	for i := 0; i < n; i++ {
		if buf[i] == 0 {
			if i > start {
				names = append(names, string(buf[start:i]))
			}
			start = i + 1
		}
	}
	return names, nil
}

// RemoveXattr removes an extended attribute
func (l *LocalBackend) RemoveXattr(ctx context.Context, path, name string) error {
	return unix.Lremovexattr(l.translate(path), name)
}

// Statfs returns statistics of the filesystem holding path
func (l *LocalBackend) Statfs(ctx context.Context, path string) (*types.StatfsInfo, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(l.translate(path), &st); err != nil {
		return nil, err
	}
	return &types.StatfsInfo{
		Bsize:   uint64(st.Bsize),
		Blocks:  st.Blocks,
		Bfree:   st.Bfree,
		Bavail:  st.Bavail,
		Files:   st.Files,
		Ffree:   st.Ffree,
		Namelen: uint32(st.Namelen),
	}, nil
}
