package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileKVRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := NewFileKV(t.TempDir())

	if err := kv.Save(ctx, "anon_1/therapy_sessions", []byte(`{}`)); err != nil {
		t.Fatalf("Save err: %v", err)
	}
	got, err := kv.Load(ctx, "anon_1/therapy_sessions")
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if string(got) != `{}` {
		t.Fatalf("unexpected value %q", got)
	}
}

func TestFileKVMissingKey(t *testing.T) {
	t.Parallel()
	kv := NewFileKV(t.TempDir())

	if _, err := kv.Load(context.Background(), "nobody/therapy_settings"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if err := kv.Delete(context.Background(), "nobody/therapy_settings"); err != nil {
		t.Fatalf("deleting a missing key should succeed: %v", err)
	}
}

func TestFileKVRejectsTraversal(t *testing.T) {
	t.Parallel()
	kv := NewFileKV(t.TempDir())

	for _, key := range []string{"", "../escape", "/etc/passwd", "a/../../b", "a//b", ".hidden"} {
		if err := kv.Save(context.Background(), key, []byte("x")); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func TestFileKVDeletePrunesOwnerDir(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	kv := NewFileKV(root)
	ctx := context.Background()

	if err := kv.Save(ctx, "owner/therapy_settings", []byte("{}")); err != nil {
		t.Fatalf("Save err: %v", err)
	}
	if err := kv.Delete(ctx, "owner/therapy_settings"); err != nil {
		t.Fatalf("Delete err: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "owner")); !os.IsNotExist(err) {
		t.Fatalf("expected owner dir to be removed, stat err: %v", err)
	}
	if _, err := os.Stat(root); err != nil {
		t.Fatalf("root should survive: %v", err)
	}
}
