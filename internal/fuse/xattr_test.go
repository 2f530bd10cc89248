package fuse

import (
	"context"
	"errors"
	"syscall"
	"testing"
)

func TestXattrRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs, _ := newTestFS()

	if err := fs.Create(ctx, "/file.txt", 0644); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := fs.SetXattr(ctx, "/file.txt", "user.comment", []byte("hello")); err != nil {
		t.Fatalf("SetXattr failed: %v", err)
	}

	value, err := fs.GetXattr(ctx, "/file.txt", "user.comment")
	if err != nil {
		t.Fatalf("GetXattr failed: %v", err)
	}
	if string(value) != "hello" {
		t.Errorf("Expected 'hello', got %q", value)
	}

	names, err := fs.ListXattr(ctx, "/file.txt")
	if err != nil {
		t.Fatalf("ListXattr failed: %v", err)
	}
	if len(names) != 1 || names[0] != "user.comment" {
		t.Errorf("Expected [user.comment], got %v", names)
	}

	if err := fs.RemoveXattr(ctx, "/file.txt", "user.comment"); err != nil {
		t.Fatalf("RemoveXattr failed: %v", err)
	}
	if _, err := fs.GetXattr(ctx, "/file.txt", "user.comment"); !errors.Is(err, syscall.ENODATA) {
		t.Errorf("Expected ENODATA after removal, got %v", err)
	}
}

// Attributes stay bound to the base entry; versions carry content only.
func TestXattrSurvivesWrites(t *testing.T) {
	ctx := context.Background()
	fs, _ := newTestFS()

	fs.Create(ctx, "/file.txt", 0644)
	fs.SetXattr(ctx, "/file.txt", "user.tag", []byte("keep"))
	fs.WriteFile(ctx, "/file.txt", []byte("v1"), 0)

	value, err := fs.GetXattr(ctx, "/file.txt", "user.tag")
	if err != nil {
		t.Fatalf("GetXattr failed: %v", err)
	}
	if string(value) != "keep" {
		t.Errorf("Expected 'keep', got %q", value)
	}
}
