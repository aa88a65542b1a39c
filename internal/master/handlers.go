package master

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dreamware/transcast/internal/cluster"
	"github.com/dreamware/transcast/internal/job"
	"github.com/dreamware/transcast/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func idFromPath(prefix, path string) string {
	return strings.TrimPrefix(strings.TrimPrefix(path, prefix), "/")
}

// handleUpload implements Upload: a streamed multipart request carrying
// the target parameters and the source video, per §4.1 step 1. The job id
// is derived from the filename alone, so a second upload of the same name
// reuses the same JobId; jobs.Put rejects it outright while the prior job
// is still active, and replaces it once that job has reached a terminal
// status, per §3's invariant.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var meta cluster.UploadMeta
	data, closer, err := cluster.ReadStreamRequest(r, &meta)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, cluster.UploadAck{Accepted: false, Reason: err.Error()})
		return
	}
	defer closer.Close()

	params := job.Params{Width: meta.Width, Height: meta.Height, Format: meta.Format}
	if err := job.ValidateParams(params); err != nil {
		writeJSON(w, http.StatusBadRequest, cluster.UploadAck{Accepted: false, Reason: err.Error()})
		return
	}

	jobID := deriveJobID(meta.Filename)
	sourcePath := filepath.Join(s.uploadsDir, jobID+"-"+filepath.Base(meta.Filename))

	f, err := os.Create(sourcePath)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, cluster.UploadAck{JobID: jobID, Accepted: false, Reason: err.Error()})
		return
	}

	rc := http.NewResponseController(w)
	idleData := &idleTimeoutReader{rc: rc, r: data, timeout: s.cfg.UploadIdleTimeout}
	if _, err := io.Copy(f, idleData); err != nil {
		f.Close()
		writeJSON(w, http.StatusInternalServerError, cluster.UploadAck{JobID: jobID, Accepted: false, Reason: err.Error()})
		return
	}
	f.Close()

	j := job.New(jobID, meta.Filename, sourcePath, params)
	if err := s.jobs.Put(j); err != nil {
		writeJSON(w, http.StatusConflict, cluster.UploadAck{JobID: jobID, Accepted: false, Reason: err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.storeCancel(jobID, cancel)
	go func() {
		defer s.clearCancel(jobID, cancel)
		s.runJob(ctx, j)
	}()

	writeJSON(w, http.StatusAccepted, cluster.UploadAck{JobID: jobID, Accepted: true})
}

// deriveJobID derives a stable JobId from the filename alone, per §3's "one
// job per name at a time": repeated uploads of the same source name always
// map to the same id, so job.Store.Put's terminal-status guard is what
// decides whether a second upload replaces the first.
func deriveJobID(filename string) string {
	h := sha1.Sum([]byte(filename))
	return hex.EncodeToString(h[:])[:16]
}

// handleStatus implements GetStatus: the compact client-facing view of a
// job, never leaking internal shard detail.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := idFromPath("/status", r.URL.Path)
	j := s.jobs.Get(id)
	if j == nil {
		writeJSON(w, http.StatusNotFound, cluster.StatusResponse{JobID: id, Status: string(job.StatusNotFound)})
		return
	}
	status, msg := j.Status()
	writeJSON(w, http.StatusOK, cluster.StatusResponse{JobID: id, Status: string(status), Message: msg})
}

// handleRetrieve implements Retrieve: streams back the finished artifact,
// restoring it from a backup first if this master has a completed record
// of the job but not the artifact in its local store. A job this node has
// no record of, such as one completed on a prior master, gets 404.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	id := idFromPath("/retrieve", r.URL.Path)
	j := s.jobs.Get(id)
	if j == nil {
		http.NotFound(w, r)
		return
	}
	status, _ := j.Status()
	if status != job.StatusCompleted {
		http.Error(w, fmt.Sprintf("job %s is not completed (status %s)", id, status), http.StatusConflict)
		return
	}

	key := finalKey(id, j.Params.Format)
	data, err := s.store.Get(key)
	if err == storage.ErrKeyNotFound {
		if rerr := s.replica.Restore(r.Context(), id, key); rerr != nil {
			http.Error(w, rerr.Error(), http.StatusInternalServerError)
			return
		}
		data, err = s.store.Get(key)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)
	idleW := &idleTimeoutResponseWriter{ResponseWriter: w, rc: rc, timeout: s.cfg.UploadIdleTimeout}
	_ = cluster.WriteStreamResponse(idleW, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%s.%s", id, j.Params.Format),
	}, "application/octet-stream", bytes.NewReader(data))
}

func finalKey(jobID, format string) string {
	return fmt.Sprintf("final/%s.%s", jobID, format)
}

// handleListJobs implements the introspection listing used by operators
// and the CLI's broader status views.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.List()
	snapshots := make([]job.Snapshot, 0, len(jobs))
	for _, j := range jobs {
		snapshots = append(snapshots, j.Snapshot())
	}
	writeJSON(w, http.StatusOK, snapshots)
}

// handleRegisterWorker implements RegisterWorker: a worker or backup node
// joining the cluster, refreshed on every duplicate call per §4.1.
func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	info := s.reg.Register(req.Node)
	master, _ := s.elect.CurrentMaster()
	writeJSON(w, http.StatusOK, cluster.RegisterResponse{Node: info, KnownMaster: master})
}

// handleReportScore implements ReportScore, folded into the registry with
// last-writer-wins semantics.
func (s *Server) handleReportScore(w http.ResponseWriter, r *http.Request) {
	var req cluster.ScoreReport
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.reg.ReportScore(req); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleReportShardStatus implements ReportShardStatus: a worker notifying
// the master of a shard's outcome. The report is bridged to the dispatch
// goroutine blocked on that shard via a per-shard channel rather than
// mutating shard state directly here, keeping the job pipeline's state
// transitions single-threaded per shard.
func (s *Server) handleReportShardStatus(w http.ResponseWriter, r *http.Request) {
	var req cluster.ShardStatusReport
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	ch, ok := s.pending[pendingKey(req.JobID, req.ShardID)]
	s.mu.Unlock()

	if ok {
		select {
		case ch <- req:
		default:
			// Dispatcher already moved on (timeout or superseded attempt);
			// a late report is simply dropped.
		}
	}
	w.WriteHeader(http.StatusOK)
}

func pendingKey(jobID string, shardID int) string {
	return fmt.Sprintf("%s/%d", jobID, shardID)
}

// handleVote and handleAnnounce implement the election RPCs, delegating to
// the election.Node state machine.
func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req cluster.VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.elect.HandleVoteRequest(req))
}

func (s *Server) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	var req cluster.AnnounceMasterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.elect.HandleAnnounceMaster(req))
}

// handleCurrentMaster implements GetCurrentMaster for peers and clients
// that need to locate the active master.
func (s *Server) handleCurrentMaster(w http.ResponseWriter, r *http.Request) {
	addr, term := s.elect.CurrentMaster()
	writeJSON(w, http.StatusOK, cluster.CurrentMasterResponse{MasterAddr: addr, Term: term})
}

// handleNodeStats implements GetNodeStats: the registry's full snapshot,
// used by operators and by a candidate computing its peer set.
func (s *Server) handleNodeStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.Snapshot())
}
