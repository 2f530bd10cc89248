// Package mongodb implements the storage backend on a MongoDB collection.
// Every entry is one document keyed by path within a bucket namespace;
// file content and symlink targets live in the data field, extended
// attributes in an embedded map.
package mongodb

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/versfs/versfs-go/internal/storage/types"
)

// entryDocument represents a filesystem entry in MongoDB
type entryDocument struct {
	Path      string            `bson:"path"`
	Bucket    string            `bson:"bucket"`
	Data      []byte            `bson:"data"`
	Size      int64             `bson:"size"`
	Mode      uint32            `bson:"mode"`
	Uid       uint32            `bson:"uid"`
	Gid       uint32            `bson:"gid"`
	Mtime     time.Time         `bson:"mtime"`
	Atime     time.Time         `bson:"atime"`
	Xattrs    map[string]string `bson:"xattrs,omitempty"`
	CreatedAt time.Time         `bson:"created_at"`
	UpdatedAt time.Time         `bson:"updated_at"`
}

// MongoBackend implements types.Backend using MongoDB
type MongoBackend struct {
	client     *mongo.Client
	collection *mongo.Collection
	bucket     string
}

var _ types.Backend = (*MongoBackend)(nil)

// NewMongoBackend creates a new MongoDB backend
func NewMongoBackend(uri, database, collection, bucket string) (*MongoBackend, error) {
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(context.Background(), nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	coll := client.Database(database).Collection(collection)

	indexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "bucket", Value: 1},
			{Key: "path", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	coll.Indexes().CreateOne(context.Background(), indexModel)

	backend := &MongoBackend{
		client:     client,
		collection: coll,
		bucket:     bucket,
	}

	// Seed the root directory so lookups on "/" always succeed
	now := time.Now()
	_, err = coll.UpdateOne(context.Background(),
		bson.M{"bucket": bucket, "path": "/"},
		bson.M{"$setOnInsert": entryDocument{
			Path:      "/",
			Bucket:    bucket,
			Mode:      uint32(os.ModeDir | 0755),
			Uid:       uint32(os.Getuid()),
			Gid:       uint32(os.Getgid()),
			Mtime:     now,
			Atime:     now,
			CreatedAt: now,
			UpdatedAt: now,
		}},
		options.Update().SetUpsert(true))
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to seed root directory: %w", err)
	}

	return backend, nil
}

func notExist(path string) error {
	return fmt.Errorf("%s: %w", path, os.ErrNotExist)
}

func (m *MongoBackend) filter(path string) bson.M {
	return bson.M{"bucket": m.bucket, "path": path}
}

// find fetches the document for a path
func (m *MongoBackend) find(ctx context.Context, path string) (*entryDocument, error) {
	var doc entryDocument
	err := m.collection.FindOne(ctx, m.filter(path)).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, notExist(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read entry: %w", err)
	}
	return &doc, nil
}

// Exists checks if an entry exists
func (m *MongoBackend) Exists(ctx context.Context, path string) (bool, error) {
	count, err := m.collection.CountDocuments(ctx, m.filter(path), options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return count > 0, nil
}

// GetAttr gets entry attributes
func (m *MongoBackend) GetAttr(ctx context.Context, path string) (*types.Attr, error) {
	doc, err := m.find(ctx, path)
	if err != nil {
		return nil, err
	}
	return &types.Attr{
		Mode:  os.FileMode(doc.Mode),
		Size:  doc.Size,
		Mtime: doc.Mtime,
		Atime: doc.Atime,
		Uid:   doc.Uid,
		Gid:   doc.Gid,
		Nlink: 1,
	}, nil
}

// Access checks accessibility; the database only models existence
func (m *MongoBackend) Access(ctx context.Context, path string, mask uint32) error {
	exists, err := m.Exists(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		return notExist(path)
	}
	return nil
}

// Read reads full file content
func (m *MongoBackend) Read(ctx context.Context, path string) ([]byte, error) {
	doc, err := m.find(ctx, path)
	if err != nil {
		return nil, err
	}
	if os.FileMode(doc.Mode).IsDir() {
		return nil, syscall.EISDIR
	}
	if doc.Data == nil {
		return []byte{}, nil
	}
	return doc.Data, nil
}

// ReadRange reads up to length bytes at offset; length <= 0 reads to EOF
func (m *MongoBackend) ReadRange(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	data, err := m.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= int64(len(data)) {
		return []byte{}, nil
	}
	end := int64(len(data))
	if length > 0 && offset+length < end {
		end = offset + length
	}
	return data[offset:end], nil
}

// Write creates or replaces file content
func (m *MongoBackend) Write(ctx context.Context, path string, data []byte) error {
	now := time.Now()
	update := bson.M{
		"$set": bson.M{
			"data":       data,
			"size":       int64(len(data)),
			"mtime":      now,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{
			"mode":       uint32(os.FileMode(0644)),
			"uid":        uint32(os.Getuid()),
			"gid":        uint32(os.Getgid()),
			"atime":      now,
			"created_at": now,
		},
	}
	_, err := m.collection.UpdateOne(ctx, m.filter(path), update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	return nil
}

// insertNew inserts a document only if the path is free
func (m *MongoBackend) insertNew(ctx context.Context, path string, data []byte, mode os.FileMode) error {
	exists, err := m.Exists(ctx, path)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%s: %w", path, os.ErrExist)
	}
	now := time.Now()
	_, err = m.collection.InsertOne(ctx, entryDocument{
		Path:      path,
		Bucket:    m.bucket,
		Data:      data,
		Size:      int64(len(data)),
		Mode:      uint32(mode),
		Uid:       uint32(os.Getuid()),
		Gid:       uint32(os.Getgid()),
		Mtime:     now,
		Atime:     now,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w", path, os.ErrExist)
	}
	if err != nil {
		return fmt.Errorf("failed to create entry: %w", err)
	}
	return nil
}

// Create creates an empty file, failing if the path exists
func (m *MongoBackend) Create(ctx context.Context, path string, mode os.FileMode) error {
	return m.insertNew(ctx, path, []byte{}, mode&os.ModePerm)
}

// Mknod creates a special file; only regular files and FIFOs are representable
func (m *MongoBackend) Mknod(ctx context.Context, path string, mode os.FileMode, rdev uint32) error {
	switch mode & os.ModeType {
	case 0:
		return m.Create(ctx, path, mode)
	case os.ModeNamedPipe:
		return m.insertNew(ctx, path, []byte{}, mode)
	default:
		return syscall.ENOTSUP
	}
}

// Delete removes a non-directory entry
func (m *MongoBackend) Delete(ctx context.Context, path string) error {
	result, err := m.collection.DeleteOne(ctx, m.filter(path))
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	if result.DeletedCount == 0 {
		return notExist(path)
	}
	return nil
}

// Rename moves a single entry. The path is part of the unique key, so this
// re-inserts under the new path and removes the old document.
func (m *MongoBackend) Rename(ctx context.Context, oldPath, newPath string) error {
	doc, err := m.find(ctx, oldPath)
	if err != nil {
		return err
	}
	doc.Path = newPath
	doc.UpdatedAt = time.Now()

	_, err = m.collection.ReplaceOne(ctx, m.filter(newPath), doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to rename: %w", err)
	}
	_, err = m.collection.DeleteOne(ctx, m.filter(oldPath))
	return err
}

// ReadDir lists the immediate children of a directory
func (m *MongoBackend) ReadDir(ctx context.Context, path string) ([]types.DirEntry, error) {
	doc, err := m.find(ctx, path)
	if err != nil {
		return nil, err
	}
	if !os.FileMode(doc.Mode).IsDir() {
		return nil, syscall.ENOTDIR
	}

	prefix := path
	if prefix != "/" {
		prefix += "/"
	}
	filter := bson.M{
		"bucket": m.bucket,
		"path":   bson.M{"$regex": "^" + escapeRegex(prefix)},
	}
	cursor, err := m.collection.Find(ctx, filter, options.Find().SetSort(bson.M{"path": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer cursor.Close(ctx)

	entries := []types.DirEntry{}
	for cursor.Next(ctx) {
		var child entryDocument
		if err := cursor.Decode(&child); err != nil {
			return nil, err
		}
		rel := strings.TrimPrefix(child.Path, prefix)
		if rel == "" || strings.Contains(rel, "/") {
			continue
		}
		entries = append(entries, types.DirEntry{
			Name:  rel,
			IsDir: os.FileMode(child.Mode).IsDir(),
		})
	}
	return entries, cursor.Err()
}

// escapeRegex quotes regex metacharacters in a path prefix
func escapeRegex(s string) string {
	special := `\.+*?()|[]{}^$`
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Mkdir creates a directory
func (m *MongoBackend) Mkdir(ctx context.Context, path string, mode os.FileMode) error {
	return m.insertNew(ctx, path, nil, os.ModeDir|(mode&os.ModePerm))
}

// Rmdir removes an empty directory
func (m *MongoBackend) Rmdir(ctx context.Context, path string) error {
	doc, err := m.find(ctx, path)
	if err != nil {
		return err
	}
	if !os.FileMode(doc.Mode).IsDir() {
		return syscall.ENOTDIR
	}

	prefix := path
	if prefix != "/" {
		prefix += "/"
	}
	filter := bson.M{
		"bucket": m.bucket,
		"path":   bson.M{"$regex": "^" + escapeRegex(prefix)},
	}
	count, err := m.collection.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("failed to check directory contents: %w", err)
	}
	if count > 0 {
		return syscall.ENOTEMPTY
	}
	return m.Delete(ctx, path)
}

// Symlink stores the target in the data field flagged by the mode bits
func (m *MongoBackend) Symlink(ctx context.Context, target, link string) error {
	return m.insertNew(ctx, link, []byte(target), os.ModeSymlink|0777)
}

// Readlink reads the target of a symbolic link
func (m *MongoBackend) Readlink(ctx context.Context, path string) (string, error) {
	doc, err := m.find(ctx, path)
	if err != nil {
		return "", err
	}
	if os.FileMode(doc.Mode)&os.ModeSymlink == 0 {
		return "", syscall.EINVAL
	}
	return string(doc.Data), nil
}

// Link creates a hard link; documents cannot share content, so this is refused
func (m *MongoBackend) Link(ctx context.Context, oldPath, newPath string) error {
	return syscall.ENOTSUP
}

// update applies a $set and converts zero matches to not-exist
func (m *MongoBackend) update(ctx context.Context, path string, set bson.M) error {
	set["updated_at"] = time.Now()
	result, err := m.collection.UpdateOne(ctx, m.filter(path), bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}
	if result.MatchedCount == 0 {
		return notExist(path)
	}
	return nil
}

// Chmod changes permission bits, preserving the file type bits
func (m *MongoBackend) Chmod(ctx context.Context, path string, mode os.FileMode) error {
	doc, err := m.find(ctx, path)
	if err != nil {
		return err
	}
	newMode := (os.FileMode(doc.Mode) & os.ModeType) | (mode & os.ModePerm)
	return m.update(ctx, path, bson.M{"mode": uint32(newMode)})
}

// Chown changes ownership
func (m *MongoBackend) Chown(ctx context.Context, path string, uid, gid uint32) error {
	return m.update(ctx, path, bson.M{"uid": uid, "gid": gid})
}

// Chtimes sets access and modification times
func (m *MongoBackend) Chtimes(ctx context.Context, path string, atime, mtime time.Time) error {
	return m.update(ctx, path, bson.M{"atime": atime, "mtime": mtime})
}

// GetXattr gets an extended attribute
func (m *MongoBackend) GetXattr(ctx context.Context, path, name string) ([]byte, error) {
	doc, err := m.find(ctx, path)
	if err != nil {
		return nil, err
	}
	value, ok := doc.Xattrs[name]
	if !ok {
		return nil, syscall.ENODATA
	}
	return []byte(value), nil
}

// SetXattr sets an extended attribute
func (m *MongoBackend) SetXattr(ctx context.Context, path, name string, value []byte) error {
	doc, err := m.find(ctx, path)
	if err != nil {
		return err
	}
	if doc.Xattrs == nil {
		doc.Xattrs = map[string]string{}
	}
	doc.Xattrs[name] = string(value)
	return m.update(ctx, path, bson.M{"xattrs": doc.Xattrs})
}

// ListXattr lists extended attribute names
func (m *MongoBackend) ListXattr(ctx context.Context, path string) ([]string, error) {
	doc, err := m.find(ctx, path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(doc.Xattrs))
	for name := range doc.Xattrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// RemoveXattr removes an extended attribute
func (m *MongoBackend) RemoveXattr(ctx context.Context, path, name string) error {
	doc, err := m.find(ctx, path)
	if err != nil {
		return err
	}
	if _, ok := doc.Xattrs[name]; !ok {
		return syscall.ENODATA
	}
	delete(doc.Xattrs, name)
	return m.update(ctx, path, bson.M{"xattrs": doc.Xattrs})
}

// Statfs returns synthetic statistics; the database has no block device
func (m *MongoBackend) Statfs(ctx context.Context, path string) (*types.StatfsInfo, error) {
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

// Close closes the MongoDB connection
func (m *MongoBackend) Close() error {
	return m.client.Disconnect(context.Background())
}
