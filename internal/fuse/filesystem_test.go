package fuse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/versfs/versfs-go/internal/storage/memory"
)

func newTestFS() (*Filesystem, *memory.MemoryBackend) {
	backend := memory.NewMemoryBackend()
	return NewFilesystem(backend), backend
}

func mustExist(t *testing.T, backend *memory.MemoryBackend, path string) {
	t.Helper()
	exists, err := backend.Exists(context.Background(), path)
	if err != nil {
		t.Fatalf("Exists(%s) failed: %v", path, err)
	}
	if !exists {
		t.Fatalf("Expected %s to exist", path)
	}
}

func mustNotExist(t *testing.T, backend *memory.MemoryBackend, path string) {
	t.Helper()
	exists, err := backend.Exists(context.Background(), path)
	if err != nil {
		t.Fatalf("Exists(%s) failed: %v", path, err)
	}
	if exists {
		t.Fatalf("Expected %s to not exist", path)
	}
}

func TestWriteAppendsVersionEntry(t *testing.T) {
	ctx := context.Background()
	fs, backend := newTestFS()

	if err := fs.Create(ctx, "/file.txt", 0644); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	n, err := fs.WriteFile(ctx, "/file.txt", []byte("hello"), 0)
	if err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if n != 5 {
		t.Errorf("Expected 5 bytes written, got %d", n)
	}

	mustExist(t, backend, "/file.txt.ver1")
	data, err := backend.Read(ctx, "/file.txt.ver1")
	if err != nil {
		t.Fatalf("Failed to read entry: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("Expected entry content 'hello', got %q", data)
	}

	// The base entry stays untouched
	base, err := backend.Read(ctx, "/file.txt")
	if err != nil {
		t.Fatalf("Failed to read base: %v", err)
	}
	if len(base) != 0 {
		t.Errorf("Expected empty base, got %q", base)
	}
}

func TestEveryWriteGrowsTheChain(t *testing.T) {
	ctx := context.Background()
	fs, backend := newTestFS()

	if err := fs.Create(ctx, "/file.txt", 0644); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	for i := 1; i <= 3; i++ {
		if _, err := fs.WriteFile(ctx, "/file.txt", []byte(fmt.Sprintf("v%d", i)), 0); err != nil {
			t.Fatalf("WriteFile %d failed: %v", i, err)
		}
	}

	for i := 1; i <= 3; i++ {
		entry := fmt.Sprintf("/file.txt.ver%d", i)
		data, err := backend.Read(ctx, entry)
		if err != nil {
			t.Fatalf("Failed to read %s: %v", entry, err)
		}
		want := fmt.Sprintf("v%d", i)
		if string(data) != want {
			t.Errorf("Expected %s content %q, got %q", entry, want, data)
		}
	}
	mustNotExist(t, backend, "/file.txt.ver4")
}

func TestReadServesNewestEntry(t *testing.T) {
	ctx := context.Background()
	fs, _ := newTestFS()

	if err := fs.Create(ctx, "/file.txt", 0644); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	fs.WriteFile(ctx, "/file.txt", []byte("first"), 0)
	fs.WriteFile(ctx, "/file.txt", []byte("second"), 0)

	data, err := fs.ReadFile(ctx, "/file.txt", 0, 0)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("Expected 'second', got %q", data)
	}
}

func TestReadFreshFileIsEmpty(t *testing.T) {
	ctx := context.Background()
	fs, _ := newTestFS()

	if err := fs.Create(ctx, "/file.txt", 0644); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	data, err := fs.ReadFile(ctx, "/file.txt", 0, 0)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("Expected empty read, got %q", data)
	}
}

func TestReadMissingFileFails(t *testing.T) {
	ctx := context.Background()
	fs, _ := newTestFS()

	if _, err := fs.ReadFile(ctx, "/nope.txt", 0, 0); err == nil {
		t.Error("Expected error reading nonexistent file, got nil")
	}
}

func TestReadAtOffset(t *testing.T) {
	ctx := context.Background()
	fs, _ := newTestFS()

	fs.WriteFile(ctx, "/file.txt", []byte("abcdefgh"), 0)

	data, err := fs.ReadFile(ctx, "/file.txt", 2, 3)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "cde" {
		t.Errorf("Expected 'cde', got %q", data)
	}

	data, err = fs.ReadFile(ctx, "/file.txt", 100, 10)
	if err != nil {
		t.Fatalf("ReadFile past EOF failed: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("Expected empty read past EOF, got %q", data)
	}
}

func TestWriteAtOffsetPadsWithZeros(t *testing.T) {
	ctx := context.Background()
	fs, backend := newTestFS()

	if _, err := fs.WriteFile(ctx, "/file.txt", []byte("xy"), 3); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := backend.Read(ctx, "/file.txt.ver1")
	if err != nil {
		t.Fatalf("Failed to read entry: %v", err)
	}
	want := []byte{0, 0, 0, 'x', 'y'}
	if !bytes.Equal(data, want) {
		t.Errorf("Expected %v, got %v", want, data)
	}
}

func TestTruncateShrinks(t *testing.T) {
	ctx := context.Background()
	fs, backend := newTestFS()

	fs.WriteFile(ctx, "/file.txt", []byte("abcdefgh"), 0)
	if err := fs.Truncate(ctx, "/file.txt", 3); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}

	// Truncate appends a new entry rather than rewriting history
	mustExist(t, backend, "/file.txt.ver2")
	data, err := fs.ReadFile(ctx, "/file.txt", 0, 0)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "abc" {
		t.Errorf("Expected 'abc', got %q", data)
	}

	old, _ := backend.Read(ctx, "/file.txt.ver1")
	if string(old) != "abcdefgh" {
		t.Errorf("Expected prior entry untouched, got %q", old)
	}
}

func TestTruncateExtendsWithZeros(t *testing.T) {
	ctx := context.Background()
	fs, _ := newTestFS()

	fs.WriteFile(ctx, "/file.txt", []byte("ab"), 0)
	if err := fs.Truncate(ctx, "/file.txt", 5); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}

	data, err := fs.ReadFile(ctx, "/file.txt", 0, 0)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	want := []byte{'a', 'b', 0, 0, 0}
	if !bytes.Equal(data, want) {
		t.Errorf("Expected %v, got %v", want, data)
	}
}

func TestTruncateFreshFile(t *testing.T) {
	ctx := context.Background()
	fs, backend := newTestFS()

	if err := fs.Create(ctx, "/file.txt", 0644); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := fs.Truncate(ctx, "/file.txt", 4); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}

	data, err := backend.Read(ctx, "/file.txt.ver1")
	if err != nil {
		t.Fatalf("Failed to read entry: %v", err)
	}
	if !bytes.Equal(data, make([]byte, 4)) {
		t.Errorf("Expected 4 zero bytes, got %v", data)
	}
}

func TestRemoveCascades(t *testing.T) {
	ctx := context.Background()
	fs, backend := newTestFS()

	fs.Create(ctx, "/file.txt", 0644)
	fs.WriteFile(ctx, "/file.txt", []byte("v1"), 0)
	fs.WriteFile(ctx, "/file.txt", []byte("v2"), 0)

	if err := fs.Remove(ctx, "/file.txt"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	mustNotExist(t, backend, "/file.txt")
	mustNotExist(t, backend, "/file.txt.ver1")
	mustNotExist(t, backend, "/file.txt.ver2")
}

func TestRemoveMissingFileFails(t *testing.T) {
	ctx := context.Background()
	fs, _ := newTestFS()

	if err := fs.Remove(ctx, "/nope.txt"); err == nil {
		t.Error("Expected error removing nonexistent file, got nil")
	}
}

func TestRenameCascadesPreservingIndices(t *testing.T) {
	ctx := context.Background()
	fs, backend := newTestFS()

	fs.Create(ctx, "/old.txt", 0644)
	fs.WriteFile(ctx, "/old.txt", []byte("v1"), 0)
	fs.WriteFile(ctx, "/old.txt", []byte("v2"), 0)

	if err := fs.Rename(ctx, "/old.txt", "/new.txt"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}

	mustNotExist(t, backend, "/old.txt")
	mustNotExist(t, backend, "/old.txt.ver1")
	mustNotExist(t, backend, "/old.txt.ver2")
	mustExist(t, backend, "/new.txt")

	for i, want := range []string{"v1", "v2"} {
		entry := fmt.Sprintf("/new.txt.ver%d", i+1)
		data, err := backend.Read(ctx, entry)
		if err != nil {
			t.Fatalf("Failed to read %s: %v", entry, err)
		}
		if string(data) != want {
			t.Errorf("Expected %s content %q, got %q", entry, want, data)
		}
	}

	// Writes after the move continue the relocated chain
	fs.WriteFile(ctx, "/new.txt", []byte("v3"), 0)
	mustExist(t, backend, "/new.txt.ver3")
}

func TestReadDirHidesVersionEntries(t *testing.T) {
	ctx := context.Background()
	fs, _ := newTestFS()

	fs.Create(ctx, "/file.txt", 0644)
	fs.WriteFile(ctx, "/file.txt", []byte("v1"), 0)
	fs.Mkdir(ctx, "/sub", 0755)

	entries, err := fs.ReadDir(ctx, "/")
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	if !names["file.txt"] || !names["sub"] {
		t.Errorf("Expected file.txt and sub in listing, got %v", names)
	}
	if names["file.txt.ver1"] {
		t.Error("Version entry leaked into directory listing")
	}
}

func TestWriteInSubdirectory(t *testing.T) {
	ctx := context.Background()
	fs, backend := newTestFS()

	fs.Mkdir(ctx, "/sub", 0755)
	fs.Create(ctx, "/sub/file.txt", 0644)
	fs.WriteFile(ctx, "/sub/file.txt", []byte("nested"), 0)

	mustExist(t, backend, "/sub/file.txt.ver1")

	data, err := fs.ReadFile(ctx, "/sub/file.txt", 0, 0)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "nested" {
		t.Errorf("Expected 'nested', got %q", data)
	}
}

func TestConcurrentWritersClaimDistinctEntries(t *testing.T) {
	ctx := context.Background()
	fs, backend := newTestFS()

	fs.Create(ctx, "/file.txt", 0644)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := fs.WriteFile(ctx, "/file.txt", []byte(fmt.Sprintf("writer%d", i)), 0); err != nil {
				t.Errorf("WriteFile failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	mustExist(t, backend, "/file.txt.ver1")
	mustExist(t, backend, "/file.txt.ver2")
	mustNotExist(t, backend, "/file.txt.ver3")
}

func TestManyConcurrentWritersKeepChainDense(t *testing.T) {
	ctx := context.Background()
	fs, backend := newTestFS()

	fs.Create(ctx, "/file.txt", 0644)

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fs.WriteFile(ctx, "/file.txt", []byte{byte(i)}, 0)
		}(i)
	}
	wg.Wait()

	for n := 1; n <= writers; n++ {
		mustExist(t, backend, fmt.Sprintf("/file.txt.ver%d", n))
	}
	mustNotExist(t, backend, fmt.Sprintf("/file.txt.ver%d", writers+1))
}

func TestCreateExistingFails(t *testing.T) {
	ctx := context.Background()
	fs, _ := newTestFS()

	if err := fs.Create(ctx, "/file.txt", 0644); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := fs.Create(ctx, "/file.txt", 0644); !errors.Is(err, os.ErrExist) {
		t.Errorf("Expected ErrExist creating existing file, got %v", err)
	}
}

func TestSymlinkPassThrough(t *testing.T) {
	ctx := context.Background()
	fs, _ := newTestFS()

	if err := fs.Symlink(ctx, "/file.txt", "/link"); err != nil {
		t.Fatalf("Symlink failed: %v", err)
	}
	target, err := fs.Readlink(ctx, "/link")
	if err != nil {
		t.Fatalf("Readlink failed: %v", err)
	}
	if target != "/file.txt" {
		t.Errorf("Expected target /file.txt, got %q", target)
	}
}

func TestStatfsPassThrough(t *testing.T) {
	ctx := context.Background()
	fs, _ := newTestFS()

	st, err := fs.Statfs(ctx, "/")
	if err != nil {
		t.Fatalf("Statfs failed: %v", err)
	}
	if st.Bsize == 0 {
		t.Error("Expected nonzero block size")
	}
}

func TestOpenMissingFileFails(t *testing.T) {
	ctx := context.Background()
	fs, _ := newTestFS()

	if err := fs.Open(ctx, "/nope.txt"); err == nil {
		t.Error("Expected error opening nonexistent file, got nil")
	}
	if err := fs.Open(ctx, "/"); err != nil {
		t.Errorf("Open on root failed: %v", err)
	}
}
