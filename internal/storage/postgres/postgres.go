// Package postgres implements the storage backend on a PostgreSQL table.
// Every entry is one row keyed by (bucket, path); file content lives in a
// BYTEA column, symlink targets in the same column, and extended
// attributes in a JSONB map.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/versfs/versfs-go/internal/storage/types"
)

// PostgresBackend implements types.Backend using PostgreSQL
type PostgresBackend struct {
	db     *sql.DB
	table  string // Table name for storing entries
	bucket string // "Bucket" name (namespace)
}

var _ types.Backend = (*PostgresBackend)(nil)

// NewPostgresBackend creates a new PostgreSQL backend
func NewPostgresBackend(connStr, table, bucket string) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	backend := &PostgresBackend{
		db:     db,
		table:  table,
		bucket: bucket,
	}

	if err := backend.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return backend, nil
}

// initSchema creates the table and seeds the root directory
func (p *PostgresBackend) initSchema() error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			bucket VARCHAR(255) NOT NULL,
			path VARCHAR(4096) NOT NULL,
			data BYTEA,
			size BIGINT NOT NULL DEFAULT 0,
			mode BIGINT NOT NULL DEFAULT 420,
			uid INTEGER NOT NULL DEFAULT 0,
			gid INTEGER NOT NULL DEFAULT 0,
			mtime TIMESTAMP NOT NULL DEFAULT NOW(),
			atime TIMESTAMP NOT NULL DEFAULT NOW(),
			xattrs JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			PRIMARY KEY (bucket, path)
		);
		CREATE INDEX IF NOT EXISTS idx_%s_prefix ON %s(path text_pattern_ops);
	`, p.table, p.table, p.table)

	if _, err := p.db.Exec(query); err != nil {
		return err
	}

	rootMode := uint32(os.ModeDir | 0755)
	seed := fmt.Sprintf(`
		INSERT INTO %s (bucket, path, mode, uid, gid)
		VALUES ($1, '/', $2, $3, $4)
		ON CONFLICT (bucket, path) DO NOTHING
	`, p.table)
	_, err := p.db.Exec(seed, p.bucket, rootMode, os.Getuid(), os.Getgid())
	return err
}

func notExist(path string) error {
	return fmt.Errorf("%s: %w", path, os.ErrNotExist)
}

// row fetches the full row for a path
func (p *PostgresBackend) row(ctx context.Context, path string) (data []byte, size int64, mode os.FileMode, uid, gid uint32, mtime, atime time.Time, xattrs []byte, err error) {
	query := fmt.Sprintf("SELECT data, size, mode, uid, gid, mtime, atime, xattrs FROM %s WHERE bucket = $1 AND path = $2", p.table)
	var modeVal int64
	var xattrsVal sql.NullString
	err = p.db.QueryRowContext(ctx, query, p.bucket, path).Scan(&data, &size, &modeVal, &uid, &gid, &mtime, &atime, &xattrsVal)
	if err == sql.ErrNoRows {
		err = notExist(path)
		return
	}
	if err != nil {
		err = fmt.Errorf("failed to read entry: %w", err)
		return
	}
	mode = os.FileMode(uint32(modeVal))
	if xattrsVal.Valid {
		xattrs = []byte(xattrsVal.String)
	}
	return
}

// Exists checks if an entry exists
func (p *PostgresBackend) Exists(ctx context.Context, path string) (bool, error) {
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE bucket = $1 AND path = $2 LIMIT 1", p.table)
	var one int
	err := p.db.QueryRowContext(ctx, query, p.bucket, path).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetAttr gets entry attributes
func (p *PostgresBackend) GetAttr(ctx context.Context, path string) (*types.Attr, error) {
	_, size, mode, uid, gid, mtime, atime, _, err := p.row(ctx, path)
	if err != nil {
		return nil, err
	}
	return &types.Attr{
		Mode:  mode,
		Size:  size,
		Mtime: mtime,
		Atime: atime,
		Uid:   uid,
		Gid:   gid,
		Nlink: 1,
	}, nil
}

// Access checks accessibility; the database only models existence
func (p *PostgresBackend) Access(ctx context.Context, path string, mask uint32) error {
	exists, err := p.Exists(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		return notExist(path)
	}
	return nil
}

// Read reads full file content
func (p *PostgresBackend) Read(ctx context.Context, path string) ([]byte, error) {
	data, _, mode, _, _, _, _, _, err := p.row(ctx, path)
	if err != nil {
		return nil, err
	}
	if mode.IsDir() {
		return nil, syscall.EISDIR
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// ReadRange reads up to length bytes at offset; length <= 0 reads to EOF
func (p *PostgresBackend) ReadRange(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	data, err := p.Read(ctx, path)
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
func (p *PostgresBackend) Write(ctx context.Context, path string, data []byte) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (bucket, path, data, size, mode, uid, gid, mtime, atime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (bucket, path)
		DO UPDATE SET
			data = EXCLUDED.data,
			size = EXCLUDED.size,
			mtime = NOW(),
			updated_at = NOW()
	`, p.table)
	mode := uint32(os.FileMode(0644))
	_, err := p.db.ExecContext(ctx, query, p.bucket, path, data, len(data), mode, os.Getuid(), os.Getgid())
	if err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	return nil
}

// insertNew inserts a row only if the path is free
func (p *PostgresBackend) insertNew(ctx context.Context, path string, data []byte, mode os.FileMode) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (bucket, path, data, size, mode, uid, gid)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (bucket, path) DO NOTHING
	`, p.table)
	result, err := p.db.ExecContext(ctx, query, p.bucket, path, data, len(data), uint32(mode), os.Getuid(), os.Getgid())
	if err != nil {
		return fmt.Errorf("failed to create entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", path, os.ErrExist)
	}
	return nil
}

// Create creates an empty file, failing if the path exists
func (p *PostgresBackend) Create(ctx context.Context, path string, mode os.FileMode) error {
	return p.insertNew(ctx, path, []byte{}, mode&os.ModePerm)
}

// Mknod creates a special file; only regular files and FIFOs are representable
func (p *PostgresBackend) Mknod(ctx context.Context, path string, mode os.FileMode, rdev uint32) error {
	switch mode & os.ModeType {
	case 0:
		return p.Create(ctx, path, mode)
	case os.ModeNamedPipe:
		return p.insertNew(ctx, path, []byte{}, mode)
	default:
		return syscall.ENOTSUP
	}
}

// Delete removes a non-directory entry
func (p *PostgresBackend) Delete(ctx context.Context, path string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE bucket = $1 AND path = $2", p.table)
	result, err := p.db.ExecContext(ctx, query, p.bucket, path)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notExist(path)
	}
	return nil
}

// Rename moves a single entry
func (p *PostgresBackend) Rename(ctx context.Context, oldPath, newPath string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (bucket, path, data, size, mode, uid, gid, mtime, atime, xattrs)
		SELECT bucket, $1, data, size, mode, uid, gid, mtime, atime, xattrs
		FROM %s WHERE bucket = $2 AND path = $3
		ON CONFLICT (bucket, path)
		DO UPDATE SET
			data = EXCLUDED.data,
			size = EXCLUDED.size,
			mode = EXCLUDED.mode,
			uid = EXCLUDED.uid,
			gid = EXCLUDED.gid,
			mtime = EXCLUDED.mtime,
			atime = EXCLUDED.atime,
			xattrs = EXCLUDED.xattrs,
			updated_at = NOW()
	`, p.table, p.table)
	result, err := p.db.ExecContext(ctx, query, newPath, p.bucket, oldPath)
	if err != nil {
		return fmt.Errorf("failed to rename: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notExist(oldPath)
	}
	del := fmt.Sprintf("DELETE FROM %s WHERE bucket = $1 AND path = $2", p.table)
	_, err = p.db.ExecContext(ctx, del, p.bucket, oldPath)
	return err
}

// ReadDir lists the immediate children of a directory
func (p *PostgresBackend) ReadDir(ctx context.Context, path string) ([]types.DirEntry, error) {
	_, _, mode, _, _, _, _, _, err := p.row(ctx, path)
	if err != nil {
		return nil, err
	}
	if !mode.IsDir() {
		return nil, syscall.ENOTDIR
	}

	prefix := path
	if prefix != "/" {
		prefix += "/"
	}
	query := fmt.Sprintf("SELECT path, mode FROM %s WHERE bucket = $1 AND path LIKE $2 AND path != $3 ORDER BY path", p.table)
	rows, err := p.db.QueryContext(ctx, query, p.bucket, prefix+"%", path)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	entries := []types.DirEntry{}
	for rows.Next() {
		var child string
		var modeVal int64
		if err := rows.Scan(&child, &modeVal); err != nil {
			return nil, err
		}
		rel := strings.TrimPrefix(child, prefix)
		if rel == "" || strings.Contains(rel, "/") {
			continue
		}
		entries = append(entries, types.DirEntry{
			Name:  rel,
			IsDir: os.FileMode(uint32(modeVal)).IsDir(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Mkdir creates a directory
func (p *PostgresBackend) Mkdir(ctx context.Context, path string, mode os.FileMode) error {
	return p.insertNew(ctx, path, nil, os.ModeDir|(mode&os.ModePerm))
}

// Rmdir removes an empty directory
func (p *PostgresBackend) Rmdir(ctx context.Context, path string) error {
	_, _, mode, _, _, _, _, _, err := p.row(ctx, path)
	if err != nil {
		return err
	}
	if !mode.IsDir() {
		return syscall.ENOTDIR
	}

	prefix := path
	if prefix != "/" {
		prefix += "/"
	}
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE bucket = $1 AND path LIKE $2 AND path != $3 LIMIT 1", p.table)
	var one int
	err = p.db.QueryRowContext(ctx, query, p.bucket, prefix+"%", path).Scan(&one)
	if err == nil {
		return syscall.ENOTEMPTY
	}
	if err != sql.ErrNoRows {
		return err
	}
	return p.Delete(ctx, path)
}

// Symlink stores the target in the data column flagged by the mode bits
func (p *PostgresBackend) Symlink(ctx context.Context, target, link string) error {
	return p.insertNew(ctx, link, []byte(target), os.ModeSymlink|0777)
}

// Readlink reads the target of a symbolic link
func (p *PostgresBackend) Readlink(ctx context.Context, path string) (string, error) {
	data, _, mode, _, _, _, _, _, err := p.row(ctx, path)
	if err != nil {
		return "", err
	}
	if mode&os.ModeSymlink == 0 {
		return "", syscall.EINVAL
	}
	return string(data), nil
}

// Link creates a hard link; rows cannot share content, so this is refused
func (p *PostgresBackend) Link(ctx context.Context, oldPath, newPath string) error {
	return syscall.ENOTSUP
}

// update runs an UPDATE and converts zero affected rows to not-exist
func (p *PostgresBackend) update(ctx context.Context, path, set string, args ...interface{}) error {
	query := fmt.Sprintf("UPDATE %s SET %s, updated_at = NOW() WHERE bucket = $1 AND path = $2", p.table, set)
	result, err := p.db.ExecContext(ctx, query, append([]interface{}{p.bucket, path}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notExist(path)
	}
	return nil
}

// Chmod changes permission bits, preserving the file type bits
func (p *PostgresBackend) Chmod(ctx context.Context, path string, mode os.FileMode) error {
	_, _, oldMode, _, _, _, _, _, err := p.row(ctx, path)
	if err != nil {
		return err
	}
	newMode := (oldMode & os.ModeType) | (mode & os.ModePerm)
	return p.update(ctx, path, "mode = $3", uint32(newMode))
}

// Chown changes ownership
func (p *PostgresBackend) Chown(ctx context.Context, path string, uid, gid uint32) error {
	return p.update(ctx, path, "uid = $3, gid = $4", uid, gid)
}

// Chtimes sets access and modification times
func (p *PostgresBackend) Chtimes(ctx context.Context, path string, atime, mtime time.Time) error {
	return p.update(ctx, path, "atime = $3, mtime = $4", atime, mtime)
}

// xattrMap loads the extended-attribute map for a path
func (p *PostgresBackend) xattrMap(ctx context.Context, path string) (map[string]string, error) {
	_, _, _, _, _, _, _, raw, err := p.row(ctx, path)
	if err != nil {
		return nil, err
	}
	attrs := map[string]string{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &attrs); err != nil {
			return nil, fmt.Errorf("failed to decode xattrs: %w", err)
		}
	}
	return attrs, nil
}

// saveXattrs stores the extended-attribute map back
func (p *PostgresBackend) saveXattrs(ctx context.Context, path string, attrs map[string]string) error {
	raw, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("failed to encode xattrs: %w", err)
	}
	return p.update(ctx, path, "xattrs = $3", raw)
}

// GetXattr gets an extended attribute
func (p *PostgresBackend) GetXattr(ctx context.Context, path, name string) ([]byte, error) {
	attrs, err := p.xattrMap(ctx, path)
	if err != nil {
		return nil, err
	}
	value, ok := attrs[name]
	if !ok {
		return nil, syscall.ENODATA
	}
	return []byte(value), nil
}

// SetXattr sets an extended attribute
func (p *PostgresBackend) SetXattr(ctx context.Context, path, name string, value []byte) error {
	attrs, err := p.xattrMap(ctx, path)
	if err != nil {
		return err
	}
	attrs[name] = string(value)
	return p.saveXattrs(ctx, path, attrs)
}

// ListXattr lists extended attribute names
func (p *PostgresBackend) ListXattr(ctx context.Context, path string) ([]string, error) {
	attrs, err := p.xattrMap(ctx, path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// RemoveXattr removes an extended attribute
func (p *PostgresBackend) RemoveXattr(ctx context.Context, path, name string) error {
	attrs, err := p.xattrMap(ctx, path)
	if err != nil {
		return err
	}
	if _, ok := attrs[name]; !ok {
		return syscall.ENODATA
	}
	delete(attrs, name)
	return p.saveXattrs(ctx, path, attrs)
}

// Statfs returns synthetic statistics; the database has no block device
func (p *PostgresBackend) Statfs(ctx context.Context, path string) (*types.StatfsInfo, error) {
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

// Close closes the database connection
func (p *PostgresBackend) Close() error {
	return p.db.Close()
}
