package fuse

import (
	"context"
	"errors"
	"log"
	"os"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
)

// toErrno maps backend failures onto FUSE errnos without re-kinding them:
// whatever errno the backing store produced is what the caller sees.
func toErrno(err error) error {
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return fuse.Errno(errno)
	}
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fuse.Errno(syscall.ENOENT)
	case errors.Is(err, os.ErrExist):
		return fuse.Errno(syscall.EEXIST)
	case errors.Is(err, os.ErrPermission):
		return fuse.Errno(syscall.EACCES)
	}
	return err
}

// VersFS implements the fuse.FS interface
type VersFS struct {
	filesystem *Filesystem
}

var _ fs.FS = (*VersFS)(nil)
var _ fs.FSStatfser = (*VersFS)(nil)

// Root returns the root directory
func (v *VersFS) Root() (fs.Node, error) {
	return &Dir{
		filesystem: v.filesystem,
		path:       "/",
	}, nil
}

// Statfs returns filesystem statistics
func (v *VersFS) Statfs(ctx context.Context, req *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	statfs, err := v.filesystem.Statfs(ctx, "/")
	if err != nil {
		return toErrno(err)
	}
	resp.Blocks = statfs.Blocks
	resp.Bfree = statfs.Bfree
	resp.Bavail = statfs.Bavail
	resp.Files = statfs.Files
	resp.Ffree = statfs.Ffree
	resp.Bsize = uint32(statfs.Bsize)
	resp.Namelen = statfs.Namelen
	resp.Frsize = uint32(statfs.Bsize)
	return nil
}

// Dir represents a directory node
type Dir struct {
	filesystem *Filesystem
	path       string
}

var _ fs.Node = (*Dir)(nil)
var _ fs.NodeStringLookuper = (*Dir)(nil)
var _ fs.HandleReadDirAller = (*Dir)(nil)
var _ fs.NodeSetattrer = (*Dir)(nil)
var _ fs.NodeGetxattrer = (*Dir)(nil)
var _ fs.NodeSetxattrer = (*Dir)(nil)
var _ fs.NodeRemovexattrer = (*Dir)(nil)
var _ fs.NodeListxattrer = (*Dir)(nil)
var _ fs.NodeMkdirer = (*Dir)(nil)
var _ fs.NodeCreater = (*Dir)(nil)
var _ fs.NodeRemover = (*Dir)(nil)
var _ fs.NodeRenamer = (*Dir)(nil)
var _ fs.NodeSymlinker = (*Dir)(nil)
var _ fs.NodeLinker = (*Dir)(nil)
var _ fs.NodeMknoder = (*Dir)(nil)
var _ fs.NodeAccesser = (*Dir)(nil)

// childPath joins a child name onto this directory's logical path
func (d *Dir) childPath(name string) string {
	if d.path == "/" {
		return "/" + name
	}
	return d.path + "/" + name
}

// Attr returns directory attributes
func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	attr, err := d.filesystem.GetAttr(ctx, d.path)
	if err != nil {
		return toErrno(err)
	}
	a.Mode = attr.Mode
	a.Size = uint64(attr.Size)
	a.Mtime = attr.Mtime
	a.Atime = attr.Atime
	a.Uid = attr.Uid
	a.Gid = attr.Gid
	return nil
}

// Lookup looks up a child node
func (d *Dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	childPath := d.childPath(name)

	attr, err := d.filesystem.GetAttr(ctx, childPath)
	if err != nil {
		return nil, syscall.ENOENT
	}

	if attr.Mode.IsDir() {
		return &Dir{
			filesystem: d.filesystem,
			path:       childPath,
		}, nil
	}

	return &File{
		filesystem: d.filesystem,
		path:       childPath,
	}, nil
}

// ReadDirAll reads all directory entries; version entries are already
// filtered out below this layer
func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	entries, err := d.filesystem.ReadDir(ctx, d.path)
	if err != nil {
		return nil, toErrno(err)
	}

	dirents := make([]fuse.Dirent, 0, len(entries))
	for _, entry := range entries {
		dirent := fuse.Dirent{
			Name: entry.Name,
		}
		if entry.IsDir {
			dirent.Type = fuse.DT_Dir
		} else {
			dirent.Type = fuse.DT_File
		}
		dirents = append(dirents, dirent)
	}

	return dirents, nil
}

// Setattr sets directory attributes
func (d *Dir) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Mode() {
		if err := d.filesystem.Chmod(ctx, d.path, req.Mode); err != nil {
			return toErrno(err)
		}
	}
	if req.Valid.Uid() || req.Valid.Gid() {
		uid, gid, err := resolveOwner(ctx, d.filesystem, d.path, req)
		if err != nil {
			return toErrno(err)
		}
		if err := d.filesystem.Chown(ctx, d.path, uid, gid); err != nil {
			return toErrno(err)
		}
	}
	if req.Valid.Atime() || req.Valid.Mtime() {
		if err := setTimes(ctx, d.filesystem, d.path, req); err != nil {
			return toErrno(err)
		}
	}
	attr, err := d.filesystem.GetAttr(ctx, d.path)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(&resp.Attr, attr)
	return nil
}

// Getxattr gets an extended attribute
func (d *Dir) Getxattr(ctx context.Context, req *fuse.GetxattrRequest, resp *fuse.GetxattrResponse) error {
	value, err := d.filesystem.GetXattr(ctx, d.path, req.Name)
	if err != nil {
		return toErrno(err)
	}
	resp.Xattr = value
	return nil
}

// Setxattr sets an extended attribute
func (d *Dir) Setxattr(ctx context.Context, req *fuse.SetxattrRequest) error {
	return toErrno(d.filesystem.SetXattr(ctx, d.path, req.Name, req.Xattr))
}

// Removexattr removes an extended attribute
func (d *Dir) Removexattr(ctx context.Context, req *fuse.RemovexattrRequest) error {
	return toErrno(d.filesystem.RemoveXattr(ctx, d.path, req.Name))
}

// Listxattr lists extended attributes
func (d *Dir) Listxattr(ctx context.Context, req *fuse.ListxattrRequest, resp *fuse.ListxattrResponse) error {
	names, err := d.filesystem.ListXattr(ctx, d.path)
	if err != nil {
		return toErrno(err)
	}
	var buf []byte
	for _, name := range names {
		buf = append(buf, []byte(name)...)
		buf = append(buf, 0)
	}
	resp.Xattr = buf
	return nil
}

// Mkdir creates a new directory
func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	childPath := d.childPath(req.Name)

	if err := d.filesystem.Mkdir(ctx, childPath, req.Mode); err != nil {
		return nil, toErrno(err)
	}

	return &Dir{
		filesystem: d.filesystem,
		path:       childPath,
	}, nil
}

// Create creates a new file in the directory
func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	childPath := d.childPath(req.Name)

	if err := d.filesystem.Create(ctx, childPath, req.Mode); err != nil {
		return nil, nil, toErrno(err)
	}

	file := &File{
		filesystem: d.filesystem,
		path:       childPath,
	}

	resp.Handle = fuse.HandleID(0) // Not used, but required
	return file, file, nil
}

// Remove removes a file (with its whole version chain) or an empty directory
func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	childPath := d.childPath(req.Name)

	if req.Dir {
		return toErrno(d.filesystem.Rmdir(ctx, childPath))
	}
	return toErrno(d.filesystem.Remove(ctx, childPath))
}

// Rename moves a file and its whole version chain to the new name
func (d *Dir) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fs.Node) error {
	target, ok := newDir.(*Dir)
	if !ok {
		return syscall.EINVAL
	}
	oldPath := d.childPath(req.OldName)
	newPath := target.childPath(req.NewName)
	return toErrno(d.filesystem.Rename(ctx, oldPath, newPath))
}

// Symlink creates a symbolic link
func (d *Dir) Symlink(ctx context.Context, req *fuse.SymlinkRequest) (fs.Node, error) {
	childPath := d.childPath(req.NewName)

	if err := d.filesystem.Symlink(ctx, req.Target, childPath); err != nil {
		return nil, toErrno(err)
	}

	return &File{
		filesystem: d.filesystem,
		path:       childPath,
	}, nil
}

// Link creates a hard link to an existing file's base entry
func (d *Dir) Link(ctx context.Context, req *fuse.LinkRequest, old fs.Node) (fs.Node, error) {
	oldFile, ok := old.(*File)
	if !ok {
		return nil, syscall.EINVAL
	}
	childPath := d.childPath(req.NewName)

	if err := d.filesystem.Link(ctx, oldFile.path, childPath); err != nil {
		return nil, toErrno(err)
	}

	return &File{
		filesystem: d.filesystem,
		path:       childPath,
	}, nil
}

// Mknod creates a special file
func (d *Dir) Mknod(ctx context.Context, req *fuse.MknodRequest) (fs.Node, error) {
	childPath := d.childPath(req.Name)

	if err := d.filesystem.Mknod(ctx, childPath, req.Mode, uint32(req.Rdev)); err != nil {
		return nil, toErrno(err)
	}

	return &File{
		filesystem: d.filesystem,
		path:       childPath,
	}, nil
}

// Access checks directory access permissions
func (d *Dir) Access(ctx context.Context, req *fuse.AccessRequest) error {
	return toErrno(d.filesystem.Access(ctx, d.path, req.Mask))
}

// File represents a file node
type File struct {
	filesystem *Filesystem
	path       string
}

var _ fs.Node = (*File)(nil)
var _ fs.NodeOpener = (*File)(nil)
var _ fs.HandleReader = (*File)(nil)
var _ fs.HandleWriter = (*File)(nil)
var _ fs.NodeSetattrer = (*File)(nil)
var _ fs.NodeGetxattrer = (*File)(nil)
var _ fs.NodeSetxattrer = (*File)(nil)
var _ fs.NodeRemovexattrer = (*File)(nil)
var _ fs.NodeListxattrer = (*File)(nil)
var _ fs.NodeReadlinker = (*File)(nil)
var _ fs.NodeAccesser = (*File)(nil)
var _ fs.NodeFsyncer = (*File)(nil)
var _ fs.HandleFlusher = (*File)(nil)
var _ fs.HandleReleaser = (*File)(nil)

// Attr returns file attributes
func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	attr, err := f.filesystem.GetAttr(ctx, f.path)
	if err != nil {
		return toErrno(err)
	}
	a.Mode = attr.Mode
	a.Size = uint64(attr.Size)
	a.Mtime = attr.Mtime
	a.Atime = attr.Atime
	a.Uid = attr.Uid
	a.Gid = attr.Gid
	a.Nlink = attr.Nlink
	return nil
}

// Open opens a file
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	if err := f.filesystem.Open(ctx, f.path); err != nil {
		return nil, toErrno(err)
	}
	return f, nil
}

// Read reads from the newest version entry
func (f *File) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	data, err := f.filesystem.ReadFile(ctx, f.path, req.Offset, int64(req.Size))
	if err != nil {
		return toErrno(err)
	}
	resp.Data = data
	return nil
}

// Write appends a new version entry
func (f *File) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	n, err := f.filesystem.WriteFile(ctx, f.path, req.Data, req.Offset)
	if err != nil {
		return toErrno(err)
	}
	resp.Size = n
	return nil
}

// Setattr sets file attributes; a size change materializes as a truncated
// version entry
func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Size() {
		if err := f.filesystem.Truncate(ctx, f.path, int64(req.Size)); err != nil {
			return toErrno(err)
		}
	}
	if req.Valid.Mode() {
		if err := f.filesystem.Chmod(ctx, f.path, req.Mode); err != nil {
			return toErrno(err)
		}
	}
	if req.Valid.Uid() || req.Valid.Gid() {
		uid, gid, err := resolveOwner(ctx, f.filesystem, f.path, req)
		if err != nil {
			return toErrno(err)
		}
		if err := f.filesystem.Chown(ctx, f.path, uid, gid); err != nil {
			return toErrno(err)
		}
	}
	if req.Valid.Atime() || req.Valid.Mtime() {
		if err := setTimes(ctx, f.filesystem, f.path, req); err != nil {
			return toErrno(err)
		}
	}
	attr, err := f.filesystem.GetAttr(ctx, f.path)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(&resp.Attr, attr)
	if req.Valid.Size() {
		resp.Attr.Size = req.Size
	}
	return nil
}

// Getxattr gets an extended attribute
func (f *File) Getxattr(ctx context.Context, req *fuse.GetxattrRequest, resp *fuse.GetxattrResponse) error {
	value, err := f.filesystem.GetXattr(ctx, f.path, req.Name)
	if err != nil {
		return toErrno(err)
	}
	resp.Xattr = value
	return nil
}

// Setxattr sets an extended attribute
func (f *File) Setxattr(ctx context.Context, req *fuse.SetxattrRequest) error {
	return toErrno(f.filesystem.SetXattr(ctx, f.path, req.Name, req.Xattr))
}

// Removexattr removes an extended attribute
func (f *File) Removexattr(ctx context.Context, req *fuse.RemovexattrRequest) error {
	return toErrno(f.filesystem.RemoveXattr(ctx, f.path, req.Name))
}

// Listxattr lists extended attributes
func (f *File) Listxattr(ctx context.Context, req *fuse.ListxattrRequest, resp *fuse.ListxattrResponse) error {
	names, err := f.filesystem.ListXattr(ctx, f.path)
	if err != nil {
		return toErrno(err)
	}
	var buf []byte
	for _, name := range names {
		buf = append(buf, []byte(name)...)
		buf = append(buf, 0)
	}
	resp.Xattr = buf
	return nil
}

// Readlink reads the target of a symbolic link
func (f *File) Readlink(ctx context.Context, req *fuse.ReadlinkRequest) (string, error) {
	target, err := f.filesystem.Readlink(ctx, f.path)
	if err != nil {
		return "", toErrno(err)
	}
	return target, nil
}

// Access checks file access permissions
func (f *File) Access(ctx context.Context, req *fuse.AccessRequest) error {
	return toErrno(f.filesystem.Access(ctx, f.path, req.Mask))
}

// Flush flushes file buffers
func (f *File) Flush(ctx context.Context, req *fuse.FlushRequest) error {
	return toErrno(f.filesystem.Flush(ctx, f.path))
}

// Fsync syncs file data to storage
func (f *File) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	datasync := req.Flags&1 != 0
	return toErrno(f.filesystem.Fsync(ctx, f.path, datasync))
}

// Release releases a file handle
func (f *File) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	return toErrno(f.filesystem.Release(ctx, f.path))
}

// resolveOwner fills in whichever of uid/gid the request leaves unset
func resolveOwner(ctx context.Context, filesystem *Filesystem, path string, req *fuse.SetattrRequest) (uint32, uint32, error) {
	uid := req.Uid
	gid := req.Gid
	if !req.Valid.Uid() || !req.Valid.Gid() {
		attr, err := filesystem.GetAttr(ctx, path)
		if err != nil {
			return 0, 0, err
		}
		if !req.Valid.Uid() {
			uid = attr.Uid
		}
		if !req.Valid.Gid() {
			gid = attr.Gid
		}
	}
	return uid, gid, nil
}

// setTimes fills in whichever of atime/mtime the request leaves unset
func setTimes(ctx context.Context, filesystem *Filesystem, path string, req *fuse.SetattrRequest) error {
	atime := req.Atime
	mtime := req.Mtime
	if !req.Valid.Atime() || !req.Valid.Mtime() {
		attr, err := filesystem.GetAttr(ctx, path)
		if err != nil {
			return err
		}
		if !req.Valid.Atime() {
			atime = attr.Atime
		}
		if !req.Valid.Mtime() {
			mtime = attr.Mtime
		}
	}
	return filesystem.Utimens(ctx, path, atime, mtime)
}

// fillAttr copies filesystem attributes into a FUSE attr response
func fillAttr(out *fuse.Attr, attr *Attr) {
	out.Mode = attr.Mode
	out.Size = uint64(attr.Size)
	out.Mtime = attr.Mtime
	out.Atime = attr.Atime
	out.Uid = attr.Uid
	out.Gid = attr.Gid
}

// MountOptions contains options for mounting the filesystem
type MountOptions struct {
	FSName string // Filesystem name shown in mount tables
}

// Mount mounts the filesystem at the given mountpoint and serves requests
// until the connection closes
func Mount(mountpoint string, filesystem *Filesystem, options MountOptions) error {
	fsname := options.FSName
	if fsname == "" {
		fsname = "versfs"
	}

	c, err := fuse.Mount(
		mountpoint,
		fuse.FSName(fsname),
		fuse.Subtype("versfs-go"),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	log.Printf("Mounted filesystem at %s", mountpoint)

	return fs.Serve(c, &VersFS{filesystem: filesystem})
}
