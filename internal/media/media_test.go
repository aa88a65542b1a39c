package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH, skipping test")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH, skipping test")
	}
}

func createTestVideo(t *testing.T, path string, seconds float64) {
	t.Helper()
	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", "color=c=red:s=64x64:r=10",
		"-t", "1",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		path,
	)
	_ = seconds
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test video: %v\n%s", err, out)
	}
}

func TestNewExecutorDefaultsToPathBinaries(t *testing.T) {
	e := NewExecutor()
	if e.ffmpeg() != "ffmpeg" {
		t.Errorf("expected default ffmpeg path, got %q", e.ffmpeg())
	}
	if e.ffprobe() != "ffprobe" {
		t.Errorf("expected default ffprobe path, got %q", e.ffprobe())
	}
}

func TestExecutorCustomPaths(t *testing.T) {
	e := &Executor{FFmpegPath: "/opt/ffmpeg", FFprobePath: "/opt/ffprobe"}
	if e.ffmpeg() != "/opt/ffmpeg" {
		t.Errorf("expected custom ffmpeg path, got %q", e.ffmpeg())
	}
	if e.ffprobe() != "/opt/ffprobe" {
		t.Errorf("expected custom ffprobe path, got %q", e.ffprobe())
	}
}

func TestConcatenateRejectsEmptyInput(t *testing.T) {
	e := NewExecutor()
	err := e.Concatenate(context.Background(), "test", nil, filepath.Join(t.TempDir(), "out.mp4"))
	if err == nil {
		t.Fatal("expected error for empty input list")
	}
}

func TestSegmentTranscodeConcatenateEndToEnd(t *testing.T) {
	skipIfNoFFmpeg(t)

	tmp := t.TempDir()
	src := filepath.Join(tmp, "source.mp4")
	createTestVideo(t, src, 1)

	e := NewExecutor()
	ctx := context.Background()

	dur, err := e.Duration(ctx, src)
	if err != nil {
		t.Fatalf("Duration: %v", err)
	}
	if dur <= 0 {
		t.Errorf("expected positive duration, got %v", dur)
	}

	segDir := filepath.Join(tmp, "segments")
	shards, err := e.Segment(ctx, "job1", src, segDir, 1)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if len(shards) == 0 {
		t.Fatal("expected at least one shard")
	}

	var transcoded []string
	for i, s := range shards {
		out := filepath.Join(tmp, "transcoded", fmt.Sprintf("out-%d.mp4", i))
		if err := e.Transcode(ctx, "shard", s, out, 32, 32, "mp4"); err != nil {
			t.Fatalf("Transcode shard %d: %v", i, err)
		}
		transcoded = append(transcoded, out)
	}

	final := filepath.Join(tmp, "final.mp4")
	if err := e.Concatenate(ctx, "job1", transcoded, final); err != nil {
		t.Fatalf("Concatenate: %v", err)
	}
	if info, err := os.Stat(final); err != nil || info.Size() == 0 {
		t.Fatalf("expected non-empty final output, stat err=%v", err)
	}
}
