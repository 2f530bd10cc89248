package chain

import (
	"context"
	"testing"

	"github.com/versfs/versfs-go/internal/storage/memory"
)

func TestEntryPath(t *testing.T) {
	cases := []struct {
		base string
		n    int
		want string
	}{
		{"/file.txt", 1, "/file.txt.ver1"},
		{"/file.txt", 12, "/file.txt.ver12"},
		{"/dir/notes", 3, "/dir/notes.ver3"},
	}
	for _, c := range cases {
		if got := EntryPath(c.base, c.n); got != c.want {
			t.Errorf("EntryPath(%q, %d) = %q, want %q", c.base, c.n, got, c.want)
		}
	}
}

func TestIsEntry(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"file.txt.ver1", true},
		{"file.txt.ver12", true},
		{"archive.version", true}, // contains the marker
		{"file.txt", false},
		{"verbose.log", false},
	}
	for _, c := range cases {
		if got := IsEntry(c.name); got != c.want {
			t.Errorf("IsEntry(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestResolveEmptyChain(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewMemoryBackend()
	r := NewResolver(backend)

	if err := backend.Create(ctx, "/file.txt", 0644); err != nil {
		t.Fatalf("Failed to create base: %v", err)
	}

	k, head, err := r.Resolve(ctx, "/file.txt")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if k != 0 {
		t.Errorf("Expected depth 0, got %d", k)
	}
	if head != "" {
		t.Errorf("Expected empty head, got %q", head)
	}
}

func TestResolveDenseChain(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewMemoryBackend()
	r := NewResolver(backend)

	for n := 1; n <= 3; n++ {
		if err := backend.Write(ctx, EntryPath("/file.txt", n), []byte{byte(n)}); err != nil {
			t.Fatalf("Failed to write entry %d: %v", n, err)
		}
	}

	k, head, err := r.Resolve(ctx, "/file.txt")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if k != 3 {
		t.Errorf("Expected depth 3, got %d", k)
	}
	if head != "/file.txt.ver3" {
		t.Errorf("Expected head /file.txt.ver3, got %q", head)
	}
}

func TestResolveStopsAtGap(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewMemoryBackend()
	r := NewResolver(backend)

	// Entry 2 with no entry 1 is outside the discoverable run
	if err := backend.Write(ctx, "/file.txt.ver2", []byte("orphan")); err != nil {
		t.Fatalf("Failed to write entry: %v", err)
	}

	k, head, err := r.Resolve(ctx, "/file.txt")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if k != 0 || head != "" {
		t.Errorf("Expected (0, \"\"), got (%d, %q)", k, head)
	}
}

func TestNextEntry(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewMemoryBackend()
	r := NewResolver(backend)

	entry, n, err := r.NextEntry(ctx, "/file.txt")
	if err != nil {
		t.Fatalf("NextEntry failed: %v", err)
	}
	if entry != "/file.txt.ver1" || n != 1 {
		t.Errorf("Expected (/file.txt.ver1, 1), got (%q, %d)", entry, n)
	}

	if err := backend.Write(ctx, entry, []byte("v1")); err != nil {
		t.Fatalf("Failed to write entry: %v", err)
	}

	entry, n, err = r.NextEntry(ctx, "/file.txt")
	if err != nil {
		t.Fatalf("NextEntry failed: %v", err)
	}
	if entry != "/file.txt.ver2" || n != 2 {
		t.Errorf("Expected (/file.txt.ver2, 2), got (%q, %d)", entry, n)
	}
}
