// Package memory implements an in-memory storage backend. It backs unit
// tests and the -backend memory run mode (a throwaway mount whose history
// vanishes on exit).
package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/versfs/versfs-go/internal/storage/types"
)

// node is one stored entry. Hard links share the same node.
type node struct {
	data   []byte
	mode   os.FileMode
	uid    uint32
	gid    uint32
	mtime  time.Time
	atime  time.Time
	nlink  uint32
	target string // symlink target, when mode has ModeSymlink
	xattrs map[string][]byte
}

// MemoryBackend implements types.Backend with a map of paths to nodes
type MemoryBackend struct {
	mu    sync.RWMutex
	nodes map[string]*node
}

var _ types.Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates a new in-memory backend with an empty root
func NewMemoryBackend() *MemoryBackend {
	m := &MemoryBackend{
		nodes: make(map[string]*node),
	}
	m.nodes["/"] = &node{
		mode:  os.ModeDir | 0755,
		uid:   uint32(os.Getuid()),
		gid:   uint32(os.Getgid()),
		mtime: time.Now(),
		atime: time.Now(),
		nlink: 1,
	}
	return m
}

func notExist(path string) error {
	return fmt.Errorf("%s: %w", path, os.ErrNotExist)
}

func (m *MemoryBackend) get(path string) (*node, bool) {
	n, ok := m.nodes[path]
	return n, ok
}

// Exists checks if an entry exists
func (m *MemoryBackend) Exists(ctx context.Context, path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.get(path)
	return ok, nil
}

// GetAttr gets entry attributes
func (m *MemoryBackend) GetAttr(ctx context.Context, path string) (*types.Attr, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.get(path)
	if !ok {
		return nil, notExist(path)
	}
	return &types.Attr{
		Mode:  n.mode,
		Size:  int64(len(n.data)),
		Mtime: n.mtime,
		Atime: n.atime,
		Uid:   n.uid,
		Gid:   n.gid,
		Nlink: n.nlink,
	}, nil
}

// Access checks accessibility; the memory backend only checks existence
func (m *MemoryBackend) Access(ctx context.Context, path string, mask uint32) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.get(path); !ok {
		return notExist(path)
	}
	return nil
}

// Read reads the full content of a file
func (m *MemoryBackend) Read(ctx context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.get(path)
	if !ok {
		return nil, notExist(path)
	}
	out := make([]byte, len(n.data))
	copy(out, n.data)
	return out, nil
}

// ReadRange reads up to length bytes at offset
func (m *MemoryBackend) ReadRange(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.get(path)
	if !ok {
		return nil, notExist(path)
	}
	size := int64(len(n.data))
	if offset >= size {
		return []byte{}, nil
	}
	end := size
	if length > 0 && offset+length < size {
		end = offset + length
	}
	out := make([]byte, end-offset)
	copy(out, n.data[offset:end])
	return out, nil
}

// Write creates or replaces a file with the given content
func (m *MemoryBackend) Write(ctx context.Context, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)

	n, ok := m.get(path)
	if !ok {
		m.nodes[path] = &node{
			data:  stored,
			mode:  0644,
			uid:   uint32(os.Getuid()),
			gid:   uint32(os.Getgid()),
			mtime: time.Now(),
			atime: time.Now(),
			nlink: 1,
		}
		return nil
	}
	n.data = stored
	n.mtime = time.Now()
	return nil
}

// Create creates an empty file, failing if the path is occupied
func (m *MemoryBackend) Create(ctx context.Context, path string, mode os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.get(path); ok {
		return fmt.Errorf("%s: %w", path, os.ErrExist)
	}
	m.nodes[path] = &node{
		data:  []byte{},
		mode:  mode &^ os.ModeType,
		uid:   uint32(os.Getuid()),
		gid:   uint32(os.Getgid()),
		mtime: time.Now(),
		atime: time.Now(),
		nlink: 1,
	}
	return nil
}

// Mknod creates a special file; only regular files and FIFOs are supported
func (m *MemoryBackend) Mknod(ctx context.Context, path string, mode os.FileMode, rdev uint32) error {
	if mode&os.ModeType == 0 {
		return m.Create(ctx, path, mode)
	}
	if mode&os.ModeNamedPipe != 0 {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.get(path); ok {
			return fmt.Errorf("%s: %w", path, os.ErrExist)
		}
		m.nodes[path] = &node{
			mode:  mode,
			uid:   uint32(os.Getuid()),
			gid:   uint32(os.Getgid()),
			mtime: time.Now(),
			atime: time.Now(),
			nlink: 1,
		}
		return nil
	}
	return syscall.ENOTSUP
}

// Delete removes a file
func (m *MemoryBackend) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.get(path)
	if !ok {
		return notExist(path)
	}
	if n.nlink > 1 {
		n.nlink--
	}
	delete(m.nodes, path)
	return nil
}

// Rename moves a single entry
func (m *MemoryBackend) Rename(ctx context.Context, oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.get(oldPath)
	if !ok {
		return notExist(oldPath)
	}
	m.nodes[newPath] = n
	delete(m.nodes, oldPath)
	return nil
}

// ReadDir lists the immediate children of a directory
func (m *MemoryBackend) ReadDir(ctx context.Context, path string) ([]types.DirEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dir, ok := m.get(path)
	if !ok {
		return nil, notExist(path)
	}
	if !dir.mode.IsDir() {
		return nil, syscall.ENOTDIR
	}

	prefix := path
	if prefix != "/" {
		prefix += "/"
	}

	entries := make([]types.DirEntry, 0)
	for p, n := range m.nodes {
		if p == path || !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if strings.Contains(rest, "/") {
			continue
		}
		entries = append(entries, types.DirEntry{
			Name:  rest,
			IsDir: n.mode.IsDir(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Mkdir creates a directory
func (m *MemoryBackend) Mkdir(ctx context.Context, path string, mode os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.get(path); ok {
		return fmt.Errorf("%s: %w", path, os.ErrExist)
	}
	m.nodes[path] = &node{
		mode:  os.ModeDir | (mode &^ os.ModeType),
		uid:   uint32(os.Getuid()),
		gid:   uint32(os.Getgid()),
		mtime: time.Now(),
		atime: time.Now(),
		nlink: 1,
	}
	return nil
}

// Rmdir removes an empty directory
func (m *MemoryBackend) Rmdir(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.get(path)
	if !ok {
		return notExist(path)
	}
	if !n.mode.IsDir() {
		return syscall.ENOTDIR
	}
	prefix := path
	if prefix != "/" {
		prefix += "/"
	}
	for p := range m.nodes {
		if p != path && strings.HasPrefix(p, prefix) {
			return syscall.ENOTEMPTY
		}
	}
	delete(m.nodes, path)
	return nil
}

// Symlink creates a symbolic link at link pointing to target
func (m *MemoryBackend) Symlink(ctx context.Context, target, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.get(link); ok {
		return fmt.Errorf("%s: %w", link, os.ErrExist)
	}
	m.nodes[link] = &node{
		mode:   os.ModeSymlink | 0777,
		uid:    uint32(os.Getuid()),
		gid:    uint32(os.Getgid()),
		mtime:  time.Now(),
		atime:  time.Now(),
		nlink:  1,
		target: target,
	}
	return nil
}

// Readlink reads the target of a symbolic link
func (m *MemoryBackend) Readlink(ctx context.Context, path string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.get(path)
	if !ok {
		return "", notExist(path)
	}
	if n.mode&os.ModeSymlink == 0 {
		return "", syscall.EINVAL
	}
	return n.target, nil
}

// Link creates a hard link; both paths share one node afterwards
func (m *MemoryBackend) Link(ctx context.Context, oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.get(oldPath)
	if !ok {
		return notExist(oldPath)
	}
	if _, ok := m.get(newPath); ok {
		return fmt.Errorf("%s: %w", newPath, os.ErrExist)
	}
	n.nlink++
	m.nodes[newPath] = n
	return nil
}

// Chmod changes permission bits
func (m *MemoryBackend) Chmod(ctx context.Context, path string, mode os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.get(path)
	if !ok {
		return notExist(path)
	}
	n.mode = (n.mode & os.ModeType) | (mode &^ os.ModeType)
	return nil
}

// Chown changes ownership
func (m *MemoryBackend) Chown(ctx context.Context, path string, uid, gid uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.get(path)
	if !ok {
		return notExist(path)
	}
	n.uid = uid
	n.gid = gid
	return nil
}

// Chtimes sets access and modification times
func (m *MemoryBackend) Chtimes(ctx context.Context, path string, atime, mtime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.get(path)
	if !ok {
		return notExist(path)
	}
	n.atime = atime
	n.mtime = mtime
	return nil
}

// GetXattr gets an extended attribute value
func (m *MemoryBackend) GetXattr(ctx context.Context, path, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.get(path)
	if !ok {
		return nil, notExist(path)
	}
	value, ok := n.xattrs[name]
	if !ok {
		return nil, syscall.ENODATA
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// SetXattr sets an extended attribute
func (m *MemoryBackend) SetXattr(ctx context.Context, path, name string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.get(path)
	if !ok {
		return notExist(path)
	}
	if n.xattrs == nil {
		n.xattrs = make(map[string][]byte)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	n.xattrs[name] = stored
	return nil
}

// ListXattr lists extended attribute names
func (m *MemoryBackend) ListXattr(ctx context.Context, path string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.get(path)
	if !ok {
		return nil, notExist(path)
	}
	names := make([]string, 0, len(n.xattrs))
	for name := range n.xattrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// RemoveXattr removes an extended attribute
func (m *MemoryBackend) RemoveXattr(ctx context.Context, path, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.get(path)
	if !ok {
		return notExist(path)
	}
	if _, ok := n.xattrs[name]; !ok {
		return syscall.ENODATA
	}
	delete(n.xattrs, name)
	return nil
}

// Statfs returns synthetic statistics; memory has no real limits
func (m *MemoryBackend) Statfs(ctx context.Context, path string) (*types.StatfsInfo, error) {
	return &types.StatfsInfo{
		Bsize:   4096,
		Blocks:  1000000000,
		Bfree:   1000000000,
		Bavail:  1000000000,
		Files:   1000000000,
		Ffree:   1000000000,
		Namelen: 255,
	}, nil
}
