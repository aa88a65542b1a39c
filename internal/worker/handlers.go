package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-kit/log/level"

	"github.com/dreamware/transcast/internal/cluster"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(r *http.Request, out any) error {
	return json.NewDecoder(r.Body).Decode(out)
}

func shardKey(jobID string, shardID int) string {
	return fmt.Sprintf("%s/%d", jobID, shardID)
}

// handleProcessShard implements ProcessShard: accepts a streamed shard,
// acknowledges receipt immediately, and transcodes it in the background,
// reporting the outcome back to the master asynchronously via
// ReportShardStatus (§4.2). The master does not block its HTTP call on the
// transcode itself finishing; it waits for the follow-up report instead,
// the same split torua's forwardWrite avoided needing since its operations
// were always fast key/value writes. transcodeAndReport acquires this
// job's lock before invoking the Media Executor, so shards of one job never
// transcode concurrently even though each arrives on its own goroutine.
func (s *Server) handleProcessShard(w http.ResponseWriter, r *http.Request) {
	var meta cluster.ShardMeta
	data, closer, err := cluster.ReadStreamRequest(r, &meta)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	inputPath := filepath.Join(s.workDir, fmt.Sprintf("%s-%d-in-%d", meta.JobID, meta.ShardID, meta.Attempt))
	f, err := os.Create(inputPath)
	if err != nil {
		closer.Close()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if _, err := io.Copy(f, data); err != nil {
		f.Close()
		closer.Close()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	f.Close()
	closer.Close()

	writeJSON(w, http.StatusAccepted, cluster.ShardAck{JobID: meta.JobID, ShardID: meta.ShardID, Attempt: meta.Attempt, Status: "accepted"})

	go s.transcodeAndReport(meta, inputPath)
}

func (s *Server) transcodeAndReport(meta cluster.ShardMeta, inputPath string) {
	lock := s.jobLock(meta.JobID)
	lock.Lock()
	defer lock.Unlock()

	outputPath := filepath.Join(s.workDir, fmt.Sprintf("%s-%d-out-%d.%s", meta.JobID, meta.ShardID, meta.Attempt, meta.Format))

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShardTimeout)
	defer cancel()

	label := fmt.Sprintf("%s/%d", meta.JobID, meta.ShardID)
	err := s.media.Transcode(ctx, label, inputPath, outputPath, meta.Width, meta.Height, meta.Format)

	report := cluster.ShardStatusReport{
		WorkerID: s.ID,
		JobID:    meta.JobID,
		ShardID:  meta.ShardID,
		Attempt:  meta.Attempt,
	}

	if err != nil {
		report.Status = "failed"
		report.Message = err.Error()
	} else {
		s.mu.Lock()
		s.shards[shardKey(meta.JobID, meta.ShardID)] = outputPath
		s.mu.Unlock()
		report.Status = "ready"
	}

	reportCtx, reportCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer reportCancel()
	if perr := cluster.PostJSON(reportCtx, s.MasterAddr+"/worker/shard-status", report, nil); perr != nil {
		level.Warn(s.logger).Log("msg", "report shard status failed", "shard", label, "err", perr)
	}
}

// handleRetrieveShard implements the master's collection pull: it streams
// back a shard this worker has already transcoded.
func (s *Server) handleRetrieveShard(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	shardIDStr := r.URL.Query().Get("shard_id")
	if jobID == "" || shardIDStr == "" {
		http.Error(w, "job_id and shard_id are required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	path, ok := s.shards[jobID+"/"+shardIDStr]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	_ = cluster.WriteStreamResponse(w, nil, "application/octet-stream", f)
}

