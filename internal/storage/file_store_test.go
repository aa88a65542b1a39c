package storage

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestFileStore(t *testing.T) {
	t.Run("new store is empty", func(t *testing.T) {
		store, err := NewFileStore(t.TempDir())
		if err != nil {
			t.Fatalf("NewFileStore: %v", err)
		}

		if keys := store.List(); len(keys) != 0 {
			t.Errorf("expected empty store, got %d keys", len(keys))
		}

		if _, err := store.Get("missing"); err != ErrKeyNotFound {
			t.Errorf("expected ErrKeyNotFound, got %v", err)
		}
	})

	t.Run("put and get values", func(t *testing.T) {
		store, err := NewFileStore(t.TempDir())
		if err != nil {
			t.Fatalf("NewFileStore: %v", err)
		}

		if err := store.Put("job1/final.mp4", []byte("bytes")); err != nil {
			t.Fatalf("Put: %v", err)
		}

		value, err := store.Get("job1/final.mp4")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !bytes.Equal(value, []byte("bytes")) {
			t.Errorf("expected 'bytes', got %q", value)
		}
	})

	t.Run("nested keys create directories", func(t *testing.T) {
		dir := t.TempDir()
		store, err := NewFileStore(dir)
		if err != nil {
			t.Fatalf("NewFileStore: %v", err)
		}

		if err := store.Put("job1/0/processed.mp4", []byte("shard")); err != nil {
			t.Fatalf("Put: %v", err)
		}

		want := filepath.Join(dir, "job1", "0", "processed.mp4")
		if store.Path("job1/0/processed.mp4") != want {
			t.Errorf("Path = %q, want %q", store.Path("job1/0/processed.mp4"), want)
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		store, err := NewFileStore(t.TempDir())
		if err != nil {
			t.Fatalf("NewFileStore: %v", err)
		}

		if err := store.Delete("never-existed"); err != nil {
			t.Errorf("Delete on missing key: %v", err)
		}

		if err := store.Put("k", []byte("v")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := store.Delete("k"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := store.Delete("k"); err != nil {
			t.Errorf("second Delete: %v", err)
		}
	})

	t.Run("stats reflect stored bytes", func(t *testing.T) {
		store, err := NewFileStore(t.TempDir())
		if err != nil {
			t.Fatalf("NewFileStore: %v", err)
		}

		_ = store.Put("a", []byte("12345"))
		_ = store.Put("b", []byte("123"))

		stats := store.Stats()
		if stats.Keys != 2 {
			t.Errorf("expected 2 keys, got %d", stats.Keys)
		}
		if stats.Bytes != 8 {
			t.Errorf("expected 8 bytes, got %d", stats.Bytes)
		}
	})
}
