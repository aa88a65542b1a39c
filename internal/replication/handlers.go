package replication

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/dreamware/transcast/internal/cluster"
	"github.com/dreamware/transcast/internal/storage"
)

// BackupServer is the receiving side of replication, mounted by any node
// currently holding the backup role: it stores artifacts the master pushes
// and serves them back during restoration.
type BackupServer struct {
	store *storage.FileStore
}

// NewBackupServer wraps store as a replication target.
func NewBackupServer(store *storage.FileStore) *BackupServer {
	return &BackupServer{store: store}
}

func backupKey(jobID string) string {
	return "backups/" + jobID
}

// HandleBackup implements the server side of ReceiveBackup: reads the
// streamed artifact and writes it under the job's backup key.
func (s *BackupServer) HandleBackup(w http.ResponseWriter, r *http.Request) {
	var meta cluster.BackupMeta
	data, closer, err := cluster.ReadStreamRequest(r, &meta)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer closer.Close()

	body, err := io.ReadAll(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := s.store.Put(backupKey(meta.JobID), body); err != nil {
		writeJSON(w, http.StatusInternalServerError, cluster.BackupAck{JobID: meta.JobID, Accepted: false, Reason: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, cluster.BackupAck{JobID: meta.JobID, Accepted: true})
}

// HandleRestore implements the server side of SendBackup's pull path:
// streams back a previously stored artifact for the job named by the
// job_id query parameter.
func (s *BackupServer) HandleRestore(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		http.Error(w, "job_id is required", http.StatusBadRequest)
		return
	}

	data, err := s.store.Get(backupKey(jobID))
	if err == storage.ErrKeyNotFound {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	_ = cluster.WriteStreamResponse(w, nil, "application/octet-stream", bytes.NewReader(data))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
