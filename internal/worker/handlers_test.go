package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/dreamware/transcast/internal/cluster"
	"github.com/dreamware/transcast/internal/config"
	"github.com/dreamware/transcast/internal/storage"
)

func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not available")
	}
}

func newTestWorker(t *testing.T, masterAddr string) *Server {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	cfg := config.FromEnv()
	cfg.DataDir = t.TempDir()
	cfg.ShardTimeout = 30 * time.Second
	s := New("worker-1", "127.0.0.1:0", masterAddr, cfg, store, func() []cluster.NodeInfo { return nil })
	return s
}

func TestRetrieveShardNotFoundBeforeProcessing(t *testing.T) {
	s := newTestWorker(t, "http://127.0.0.1:0")
	ts := httptest.NewServer(s.Routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/shard/retrieve?job_id=job1&shard_id=0")
	if err != nil {
		t.Fatalf("GET /shard/retrieve: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before any shard is processed, got %d", resp.StatusCode)
	}
}

// TestProcessShardReportsReadyAndServesResult exercises the full
// dispatch-transcode-collect loop a real master would drive, using a
// stand-in master that just captures the ReportShardStatus call.
func TestProcessShardReportsReadyAndServesResult(t *testing.T) {
	skipIfNoFFmpeg(t)

	reports := make(chan cluster.ShardStatusReport, 1)
	fakeMaster := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var report cluster.ShardStatusReport
		if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
			t.Errorf("decode report: %v", err)
		}
		reports <- report
		w.WriteHeader(http.StatusOK)
	}))
	defer fakeMaster.Close()

	s := newTestWorker(t, fakeMaster.URL)
	ts := httptest.NewServer(s.Routes())
	defer ts.Close()

	input := createTestClip(t)
	defer input.Close()
	meta := cluster.ShardMeta{JobID: "job1", ShardID: 0, Attempt: 0, Width: 160, Height: 90, Format: "mp4"}

	resp, err := cluster.PostStream(context.Background(), ts.URL+"/shard/process", meta, input)
	if err != nil {
		t.Fatalf("PostStream: %v", err)
	}
	resp.Body.Close()

	select {
	case report := <-reports:
		if report.Status != "ready" {
			t.Fatalf("expected status ready, got %q (%s)", report.Status, report.Message)
		}
	case <-time.After(20 * time.Second):
		t.Fatal("timed out waiting for shard status report")
	}

	getResp, err := http.Get(ts.URL + "/shard/retrieve?job_id=job1&shard_id=0")
	if err != nil {
		t.Fatalf("GET /shard/retrieve: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after processing, got %d", getResp.StatusCode)
	}
}

// createTestClip generates a one-second synthetic video via ffmpeg's lavfi
// source, the same fixture-free approach used throughout the media
// package's tests, and returns it opened for reading.
func createTestClip(t *testing.T) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	cmd := exec.Command("ffmpeg", "-y",
		"-f", "lavfi", "-i", "color=c=blue:s=320x240:d=1",
		"-c:v", "libx264", "-t", "1", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("generate test clip: %v\n%s", err, out)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open test clip: %v", err)
	}
	return f
}
