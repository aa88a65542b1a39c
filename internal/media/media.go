// Package media wraps the external ffmpeg/ffprobe binaries that do the
// actual segmenting, transcoding, and concatenation work (§4.6). No
// library in the dependency pack binds ffmpeg directly; every reference
// implementation that touches media shells out to the binary the same way,
// so this package follows suit — grounded on the exec.CommandContext plus
// line-buffered log-writer pattern of the BitRiver-Live transcoder's
// startFFmpeg, generalized from one long-running streaming process per job
// to one short-lived process per operation.
package media

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Executor runs ffmpeg/ffprobe against files on local disk. The binary
// names are configurable so tests can point at a stub script.
type Executor struct {
	FFmpegPath  string
	FFprobePath string
}

// NewExecutor returns an Executor using "ffmpeg" and "ffprobe" from PATH.
func NewExecutor() *Executor {
	return &Executor{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe"}
}

func (e *Executor) ffmpeg() string {
	if e.FFmpegPath != "" {
		return e.FFmpegPath
	}
	return "ffmpeg"
}

func (e *Executor) ffprobe() string {
	if e.FFprobePath != "" {
		return e.FFprobePath
	}
	return "ffprobe"
}

// Duration returns the input's duration in seconds via ffprobe. Segment
// boundaries do not depend on it; Segment cuts by segmentSeconds alone.
func (e *Executor) Duration(ctx context.Context, input string) (float64, error) {
	cmd := exec.CommandContext(ctx, e.ffprobe(),
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		input,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: %w", err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", out, err)
	}
	return d, nil
}

// Segment splits input into fixed-length chunks written to outputDir,
// named shard-0000.ts, shard-0001.ts, and so on, using stream copy so
// segmenting itself never re-encodes (§4.6 keeps segmentation and encoding
// as separate concerns). Keyframes are not forced: with stream copy each
// cut falls on the source's next keyframe at or after a segmentSeconds
// boundary, so segment lengths follow the source's keyframe spacing.
// Returns the ordered list of produced paths.
func (e *Executor) Segment(ctx context.Context, label, input, outputDir string, segmentSeconds int) ([]string, error) {
	if segmentSeconds <= 0 {
		segmentSeconds = 10
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare segment dir: %w", err)
	}
	pattern := filepath.Join(outputDir, "shard-%04d.ts")

	args := []string{
		"-y",
		"-i", input,
		"-c", "copy",
		"-map", "0",
		"-f", "segment",
		"-segment_time", strconv.Itoa(segmentSeconds),
		"-reset_timestamps", "1",
		pattern,
	}
	if err := e.run(ctx, label, args); err != nil {
		return nil, fmt.Errorf("segment: %w", err)
	}

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	var paths []string
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasPrefix(ent.Name(), "shard-") {
			continue
		}
		paths = append(paths, filepath.Join(outputDir, ent.Name()))
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("segment produced no output files")
	}
	return sortedPaths(paths), nil
}

// Transcode re-encodes one shard to the requested width, height, and
// container format, writing to output. This is the operation workers run
// per assigned shard (§4.2 ProcessShard).
func (e *Executor) Transcode(ctx context.Context, label, input, output string, width, height int, format string) error {
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return fmt.Errorf("prepare output dir: %w", err)
	}
	args := []string{
		"-y",
		"-i", input,
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-c:v", codecForFormat(format),
		"-c:a", "copy",
	}
	args = append(args, output)
	if err := e.run(ctx, label, args); err != nil {
		return fmt.Errorf("transcode: %w", err)
	}
	return nil
}

// Concatenate stitches transcoded shards back into a single output file in
// order, via ffmpeg's concat demuxer, the step that runs once every shard
// for a job reaches ready (§4.1 step 4). ffmpeg writes to a temporary file
// beside output, which is renamed onto output only after ffmpeg succeeds.
func (e *Executor) Concatenate(ctx context.Context, label string, inputs []string, output string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no inputs to concatenate")
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return fmt.Errorf("prepare output dir: %w", err)
	}

	listFile, err := os.CreateTemp("", "concat-*.txt")
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	defer os.Remove(listFile.Name())

	w := bufio.NewWriter(listFile)
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			listFile.Close()
			return fmt.Errorf("resolve %s: %w", in, err)
		}
		fmt.Fprintf(w, "file '%s'\n", escapeConcatPath(abs))
	}
	if err := w.Flush(); err != nil {
		listFile.Close()
		return fmt.Errorf("write concat list: %w", err)
	}
	if err := listFile.Close(); err != nil {
		return fmt.Errorf("close concat list: %w", err)
	}

	tmpOutput := filepath.Join(filepath.Dir(output), ".tmp-"+filepath.Base(output))
	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile.Name(),
		"-map", "0",
		"-c", "copy",
		tmpOutput,
	}
	if err := e.run(ctx, label, args); err != nil {
		os.Remove(tmpOutput)
		return fmt.Errorf("concatenate: %w", err)
	}
	if err := os.Rename(tmpOutput, output); err != nil {
		os.Remove(tmpOutput)
		return fmt.Errorf("publish concatenated output: %w", err)
	}
	return nil
}

func (e *Executor) run(ctx context.Context, label string, args []string) error {
	cmd := exec.CommandContext(ctx, e.ffmpeg(), args...)
	cmd.Stdout = newLineWriter(label, "stdout")
	cmd.Stderr = newLineWriter(label, "stderr")
	return cmd.Run()
}

func codecForFormat(format string) string {
	switch strings.ToLower(format) {
	case "webm":
		return "libvpx-vp9"
	default:
		return "libx264"
	}
}

func escapeConcatPath(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}

func sortedPaths(paths []string) []string {
	out := make([]string, len(paths))
	copy(out, paths)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
