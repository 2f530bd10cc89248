// Package s3 implements the storage backend over an S3 bucket. Logical
// paths map to object keys; directories are marker objects with a trailing
// slash; mode, ownership, times, symlink targets and extended attributes
// live in object metadata.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/versfs/versfs-go/internal/credentials"
	"github.com/versfs/versfs-go/internal/storage/types"
)

const xattrPrefix = "xattr-"

// S3Backend implements types.Backend over an S3 bucket
type S3Backend struct {
	bucket string
	client *s3.Client
}

var _ types.Backend = (*S3Backend)(nil)

// NewS3Backend creates an S3 backend for the given bucket. A non-empty
// endpoint switches to path-style addressing (LocalStack and friends).
func NewS3Backend(bucket, region, endpoint string, creds *credentials.Credentials) (*S3Backend, error) {
	if creds == nil || !creds.IsValid() {
		return nil, fmt.Errorf("valid credentials are required")
	}

	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
		config.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(
			creds.AccessKeyID,
			creds.SecretAccessKey,
			creds.SessionToken,
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Options := []func(*s3.Options){}
	if endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true // Required for LocalStack
		})
	}

	return &S3Backend{
		bucket: bucket,
		client: s3.NewFromConfig(cfg, s3Options...),
	}, nil
}

// key maps a logical path to its object key
func (b *S3Backend) key(path string) string {
	return strings.TrimPrefix(path, "/")
}

// dirKey is the marker-object key for a directory path
func (b *S3Backend) dirKey(path string) string {
	k := b.key(path)
	if k != "" && !strings.HasSuffix(k, "/") {
		k += "/"
	}
	return k
}

func notExist(path string) error {
	return fmt.Errorf("%s: %w", path, os.ErrNotExist)
}

// head fetches object metadata and size; a nil error means the key exists
func (b *S3Backend) head(ctx context.Context, key string) (map[string]string, int64, time.Time, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, time.Time{}, err
	}
	size := int64(0)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	mtime := time.Now()
	if out.LastModified != nil {
		mtime = *out.LastModified
	}
	meta := out.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	return meta, size, mtime, nil
}

// put writes an object with the given metadata
func (b *S3Backend) put(ctx context.Context, key string, data []byte, meta map[string]string) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(key),
		Body:     bytes.NewReader(data),
		Metadata: meta,
	})
	return err
}

// rewriteMetadata replaces an object's metadata in place via CopyObject
func (b *S3Backend) rewriteMetadata(ctx context.Context, key string, meta map[string]string) error {
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(b.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(b.bucket + "/" + key),
		Metadata:          meta,
		MetadataDirective: s3types.MetadataDirectiveReplace,
	})
	return err
}

// metaFor looks up the metadata map for path, which may be a file object or
// a directory marker; the returned key is the one that actually exists
func (b *S3Backend) metaFor(ctx context.Context, path string) (string, map[string]string, error) {
	key := b.key(path)
	if key != "" {
		if meta, _, _, err := b.head(ctx, key); err == nil {
			return key, meta, nil
		}
	}
	dkey := b.dirKey(path)
	if meta, _, _, err := b.head(ctx, dkey); err == nil {
		return dkey, meta, nil
	}
	return "", nil, notExist(path)
}

// attrFromMeta builds attributes out of object metadata, falling back to
// plain-object defaults when a field was never recorded
func attrFromMeta(meta map[string]string, size int64, mtime time.Time, isDir bool) *types.Attr {
	attr := &types.Attr{
		Size:  size,
		Mtime: mtime,
		Atime: mtime,
		Uid:   uint32(os.Getuid()),
		Gid:   uint32(os.Getgid()),
		Nlink: 1,
	}
	mode := os.FileMode(0644)
	if isDir {
		mode = 0755
	}
	if modeStr, ok := meta["mode"]; ok {
		var modeVal uint32
		fmt.Sscanf(modeStr, "%o", &modeVal)
		mode = os.FileMode(modeVal)
	}
	if uidStr, ok := meta["uid"]; ok {
		fmt.Sscanf(uidStr, "%d", &attr.Uid)
	}
	if gidStr, ok := meta["gid"]; ok {
		fmt.Sscanf(gidStr, "%d", &attr.Gid)
	}
	if mtimeStr, ok := meta["mtime"]; ok {
		var unixTime int64
		if _, err := fmt.Sscanf(mtimeStr, "%d", &unixTime); err == nil {
			attr.Mtime = time.Unix(unixTime, 0)
		}
	}
	if _, ok := meta["symlink"]; ok {
		attr.Mode = os.ModeSymlink | (mode & os.ModePerm)
		return attr
	}
	if isDir {
		attr.Mode = os.ModeDir | (mode & os.ModePerm)
		attr.Size = 4096
		return attr
	}
	attr.Mode = mode & os.ModePerm
	return attr
}

// Exists checks if an object or directory marker exists
func (b *S3Backend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.GetAttr(ctx, path)
	if err == nil {
		return true, nil
	}
	return false, nil
}

// GetAttr gets entry attributes
func (b *S3Backend) GetAttr(ctx context.Context, path string) (*types.Attr, error) {
	if path == "/" {
		return &types.Attr{
			Mode:  os.ModeDir | 0755,
			Size:  4096,
			Mtime: time.Now(),
			Uid:   uint32(os.Getuid()),
			Gid:   uint32(os.Getgid()),
			Nlink: 1,
		}, nil
	}

	key := b.key(path)
	if meta, size, mtime, err := b.head(ctx, key); err == nil {
		return attrFromMeta(meta, size, mtime, false), nil
	}
	if meta, _, mtime, err := b.head(ctx, b.dirKey(path)); err == nil {
		return attrFromMeta(meta, 0, mtime, true), nil
	}

	// A directory can exist implicitly through its children
	children, err := b.list(ctx, b.dirKey(path), false)
	if err == nil && len(children) > 0 {
		return attrFromMeta(map[string]string{}, 0, time.Now(), true), nil
	}
	return nil, notExist(path)
}

// Access checks accessibility; S3 only models existence
func (b *S3Backend) Access(ctx context.Context, path string, mask uint32) error {
	exists, err := b.Exists(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		return notExist(path)
	}
	return nil
}

// list enumerates keys under a prefix; delimited lists only one level
func (b *S3Backend) list(ctx context.Context, prefix string, delimited bool) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	}
	if delimited {
		input.Delimiter = aws.String("/")
	}

	keys := []string{}
	for {
		out, err := b.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range out.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
		for _, cp := range out.CommonPrefixes {
			if cp.Prefix != nil {
				keys = append(keys, *cp.Prefix)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			return keys, nil
		}
		input.ContinuationToken = out.NextContinuationToken
	}
}

// Read reads the full content of an object
func (b *S3Backend) Read(ctx context.Context, path string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(path)),
	})
	if err != nil {
		return nil, notExist(path)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// ReadRange reads up to length bytes at offset
func (b *S3Backend) ReadRange(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(path)),
	}
	if offset > 0 || length > 0 {
		if length > 0 {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
		} else {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
		}
	}
	out, err := b.client.GetObject(ctx, input)
	if err != nil {
		// A range past EOF is a valid empty read, not a failure
		if _, _, _, herr := b.head(ctx, b.key(path)); herr == nil {
			return []byte{}, nil
		}
		return nil, notExist(path)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Write creates or replaces an object
func (b *S3Backend) Write(ctx context.Context, path string, data []byte) error {
	meta := map[string]string{
		"mtime": fmt.Sprintf("%d", time.Now().Unix()),
	}
	if existing, _, _, err := b.head(ctx, b.key(path)); err == nil {
		for k, v := range existing {
			if k != "mtime" {
				meta[k] = v
			}
		}
	}
	return b.put(ctx, b.key(path), data, meta)
}

// Create creates an empty object, failing if the key is occupied
func (b *S3Backend) Create(ctx context.Context, path string, mode os.FileMode) error {
	if _, _, _, err := b.head(ctx, b.key(path)); err == nil {
		return fmt.Errorf("%s: %w", path, os.ErrExist)
	}
	now := time.Now()
	meta := map[string]string{
		"mode":  fmt.Sprintf("%04o", mode&os.ModePerm),
		"uid":   fmt.Sprintf("%d", os.Getuid()),
		"gid":   fmt.Sprintf("%d", os.Getgid()),
		"mtime": fmt.Sprintf("%d", now.Unix()),
	}
	return b.put(ctx, b.key(path), []byte{}, meta)
}

// Mknod creates a special file; object storage supports regular files only
func (b *S3Backend) Mknod(ctx context.Context, path string, mode os.FileMode, rdev uint32) error {
	if mode&os.ModeType == 0 {
		return b.Create(ctx, path, mode)
	}
	return syscall.ENOTSUP
}

// Delete removes an object
func (b *S3Backend) Delete(ctx context.Context, path string) error {
	if _, _, _, err := b.head(ctx, b.key(path)); err != nil {
		return notExist(path)
	}
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(path)),
	})
	return err
}

// Rename moves a single object via copy and delete
func (b *S3Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	oldKey := b.key(oldPath)
	meta, _, _, err := b.head(ctx, oldKey)
	if err != nil {
		return notExist(oldPath)
	}
	_, err = b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(b.bucket),
		Key:               aws.String(b.key(newPath)),
		CopySource:        aws.String(b.bucket + "/" + oldKey),
		Metadata:          meta,
		MetadataDirective: s3types.MetadataDirectiveReplace,
	})
	if err != nil {
		return fmt.Errorf("failed to copy object: %w", err)
	}
	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(oldKey),
	})
	return err
}

// ReadDir lists the immediate children of a directory
func (b *S3Backend) ReadDir(ctx context.Context, path string) ([]types.DirEntry, error) {
	prefix := b.dirKey(path)
	keys, err := b.list(ctx, prefix, true)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	entries := make([]types.DirEntry, 0, len(keys))
	for _, k := range keys {
		rel := strings.TrimPrefix(k, prefix)
		if rel == "" {
			continue // the directory marker itself
		}
		isDir := strings.HasSuffix(rel, "/")
		name := strings.TrimSuffix(rel, "/")
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		entries = append(entries, types.DirEntry{Name: name, IsDir: isDir})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Mkdir creates a directory marker object
func (b *S3Backend) Mkdir(ctx context.Context, path string, mode os.FileMode) error {
	dkey := b.dirKey(path)
	if _, _, _, err := b.head(ctx, dkey); err == nil {
		return fmt.Errorf("%s: %w", path, os.ErrExist)
	}
	now := time.Now()
	meta := map[string]string{
		"mode":  fmt.Sprintf("%04o", mode&os.ModePerm),
		"uid":   fmt.Sprintf("%d", os.Getuid()),
		"gid":   fmt.Sprintf("%d", os.Getgid()),
		"mtime": fmt.Sprintf("%d", now.Unix()),
	}
	return b.put(ctx, dkey, []byte{}, meta)
}

// Rmdir removes an empty directory
func (b *S3Backend) Rmdir(ctx context.Context, path string) error {
	prefix := b.dirKey(path)
	keys, err := b.list(ctx, prefix, false)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k != prefix {
			return syscall.ENOTEMPTY
		}
	}
	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(prefix),
	})
	return err
}

// Symlink stores the target as object content flagged by metadata
func (b *S3Backend) Symlink(ctx context.Context, target, link string) error {
	if _, _, _, err := b.head(ctx, b.key(link)); err == nil {
		return fmt.Errorf("%s: %w", link, os.ErrExist)
	}
	meta := map[string]string{
		"symlink": "1",
		"mode":    fmt.Sprintf("%04o", 0777),
		"mtime":   fmt.Sprintf("%d", time.Now().Unix()),
	}
	return b.put(ctx, b.key(link), []byte(target), meta)
}

// Readlink reads the target of a symbolic link
func (b *S3Backend) Readlink(ctx context.Context, path string) (string, error) {
	meta, _, _, err := b.head(ctx, b.key(path))
	if err != nil {
		return "", notExist(path)
	}
	if _, ok := meta["symlink"]; !ok {
		return "", syscall.EINVAL
	}
	data, err := b.Read(ctx, path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Link creates a hard link; not supported in object storage
func (b *S3Backend) Link(ctx context.Context, oldPath, newPath string) error {
	return syscall.ENOTSUP
}

// updateMeta rewrites selected metadata fields of a file or directory marker
func (b *S3Backend) updateMeta(ctx context.Context, path string, set map[string]string) error {
	key, meta, err := b.metaFor(ctx, path)
	if err != nil {
		return err
	}
	for k, v := range set {
		meta[k] = v
	}
	if strings.HasSuffix(key, "/") {
		return b.put(ctx, key, []byte{}, meta)
	}
	return b.rewriteMetadata(ctx, key, meta)
}

// Chmod changes the stored mode bits
func (b *S3Backend) Chmod(ctx context.Context, path string, mode os.FileMode) error {
	return b.updateMeta(ctx, path, map[string]string{
		"mode": fmt.Sprintf("%04o", mode&os.ModePerm),
	})
}

// Chown changes the stored ownership
func (b *S3Backend) Chown(ctx context.Context, path string, uid, gid uint32) error {
	return b.updateMeta(ctx, path, map[string]string{
		"uid": fmt.Sprintf("%d", uid),
		"gid": fmt.Sprintf("%d", gid),
	})
}

// Chtimes sets the stored times
func (b *S3Backend) Chtimes(ctx context.Context, path string, atime, mtime time.Time) error {
	return b.updateMeta(ctx, path, map[string]string{
		"atime": fmt.Sprintf("%d", atime.Unix()),
		"mtime": fmt.Sprintf("%d", mtime.Unix()),
	})
}

// GetXattr gets an extended attribute stored in object metadata
func (b *S3Backend) GetXattr(ctx context.Context, path, name string) ([]byte, error) {
	_, meta, err := b.metaFor(ctx, path)
	if err != nil {
		return nil, err
	}
	value, ok := meta[xattrPrefix+name]
	if !ok {
		return nil, syscall.ENODATA
	}
	return []byte(value), nil
}

// SetXattr sets an extended attribute in object metadata
func (b *S3Backend) SetXattr(ctx context.Context, path, name string, value []byte) error {
	return b.updateMeta(ctx, path, map[string]string{
		xattrPrefix + name: string(value),
	})
}

// ListXattr lists extended attribute names from object metadata
func (b *S3Backend) ListXattr(ctx context.Context, path string) ([]string, error) {
	_, meta, err := b.metaFor(ctx, path)
	if err != nil {
		return nil, err
	}
	names := []string{}
	for k := range meta {
		if strings.HasPrefix(k, xattrPrefix) {
			names = append(names, strings.TrimPrefix(k, xattrPrefix))
		}
	}
	sort.Strings(names)
	return names, nil
}

// RemoveXattr removes an extended attribute from object metadata
func (b *S3Backend) RemoveXattr(ctx context.Context, path, name string) error {
	key, meta, err := b.metaFor(ctx, path)
	if err != nil {
		return err
	}
	if _, ok := meta[xattrPrefix+name]; !ok {
		return syscall.ENODATA
	}
	delete(meta, xattrPrefix+name)
	if strings.HasSuffix(key, "/") {
		return b.put(ctx, key, []byte{}, meta)
	}
	return b.rewriteMetadata(ctx, key, meta)
}

// Statfs returns synthetic statistics; S3 has no real filesystem limits
func (b *S3Backend) Statfs(ctx context.Context, path string) (*types.StatfsInfo, error) {
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
