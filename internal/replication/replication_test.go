package replication

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dreamware/transcast/internal/cluster"
	"github.com/dreamware/transcast/internal/storage"
)

func newTestStore(t *testing.T) *storage.FileStore {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

func newBackupTestServer(t *testing.T) (*httptest.Server, *storage.FileStore) {
	t.Helper()
	store := newTestStore(t)
	srv := NewBackupServer(store)
	mux := http.NewServeMux()
	mux.HandleFunc("/replication/backup", srv.HandleBackup)
	mux.HandleFunc("/replication/restore", srv.HandleRestore)
	return httptest.NewServer(mux), store
}

func addrOf(ts *httptest.Server) string {
	return ts.Listener.Addr().String()
}

func TestReplicateNoBackupsIsNoop(t *testing.T) {
	store := newTestStore(t)
	r := New(store, func() []cluster.NodeInfo { return nil })
	if err := r.Replicate(context.Background(), "job1", "final/job1.mp4"); err != nil {
		t.Fatalf("expected no-op success, got %v", err)
	}
}

func TestReplicateAndRestoreRoundTrip(t *testing.T) {
	srcStore := newTestStore(t)
	if err := srcStore.Put("final/job1.mp4", []byte("hello world")); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}

	backupTS, _ := newBackupTestServer(t)
	defer backupTS.Close()

	r := New(srcStore, func() []cluster.NodeInfo {
		return []cluster.NodeInfo{{ID: "backup1", Addr: addrOf(backupTS)}}
	})

	if err := r.Replicate(context.Background(), "job1", "final/job1.mp4"); err != nil {
		t.Fatalf("Replicate: %v", err)
	}

	destStore := newTestStore(t)
	restorer := New(destStore, func() []cluster.NodeInfo {
		return []cluster.NodeInfo{{ID: "backup1", Addr: addrOf(backupTS)}}
	})

	if err := restorer.Restore(context.Background(), "job1", "final/job1.mp4"); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	got, err := destStore.Get("final/job1.mp4")
	if err != nil {
		t.Fatalf("Get after restore: %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("expected restored content %q, got %q", "hello world", got)
	}
}

func TestReplicateFailsWhenAllBackupsUnreachable(t *testing.T) {
	store := newTestStore(t)
	if err := store.Put("final/job1.mp4", []byte("data")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	r := New(store, func() []cluster.NodeInfo {
		return []cluster.NodeInfo{{ID: "ghost", Addr: "127.0.0.1:1"}}
	})

	if err := r.Replicate(context.Background(), "job1", "final/job1.mp4"); err == nil {
		t.Fatal("expected error when all backups are unreachable")
	}
}

func TestRestoreFailsWhenNoBackupHasArtifact(t *testing.T) {
	backupTS, _ := newBackupTestServer(t)
	defer backupTS.Close()

	destStore := newTestStore(t)
	r := New(destStore, func() []cluster.NodeInfo {
		return []cluster.NodeInfo{{ID: "backup1", Addr: addrOf(backupTS)}}
	})

	if err := r.Restore(context.Background(), "missing-job", "final/missing.mp4"); err == nil {
		t.Fatal("expected error restoring a job no backup has")
	}
}
