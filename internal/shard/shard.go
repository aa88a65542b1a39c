// Package shard implements the Shard: one contiguous segment of a job's
// source video, tracked from segmentation through a worker's transcode
// attempt to collection on the master. See doc.go for the full lifecycle.
package shard

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Status is a shard's position in its processing lifecycle. Status
// progresses monotonically within one attempt; a retry resets it to
// StatusPending and increments Attempt rather than skipping backward in
// place.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// order ranks statuses for the monotonic-progression check. Failed has no
// fixed rank; it is reachable from any non-terminal status.
var order = map[Status]int{
	StatusPending:    0,
	StatusAssigned:   1,
	StatusProcessing: 2,
	StatusReady:      3,
}

// Shard is one segment of a job's source video: a fixed-size (by time, not
// necessarily by byte count) contiguous piece that a single worker
// transcodes independently of its siblings. A job's shards are
// concatenated back together strictly in ID order once all are ready.
//
// Concurrency model:
//   - ID, JobID, and SourcePath are immutable after construction
//   - Status, WorkerID, Attempt, and the processed paths are guarded by mu
//   - OperationStats counters are atomic, mirroring the read path that
//     wants them without taking the same lock as state transitions
type Shard struct {
	Stats *OperationStats

	mu sync.RWMutex

	ID         int
	JobID      string
	SourcePath string

	status  Status
	workerID string
	attempt int

	processedPathWorker string
	processedPathMaster string
}

// OperationStats tracks per-shard attempt outcomes, generalizing the
// key-value shard's Gets/Puts/Deletes counters to the attempt/success/
// failure counts relevant to a transcode pipeline.
type OperationStats struct {
	Attempts  uint64
	Successes uint64
	Failures  uint64
}

// Info is a point-in-time snapshot of a shard for introspection endpoints
// and scheduler decisions, safe to serialize and safe to retain after the
// shard itself has moved on.
type Info struct {
	ID                  int    `json:"id"`
	JobID               string `json:"job_id"`
	SourcePath          string `json:"source_path"`
	WorkerID            string `json:"worker_id,omitempty"`
	Status              Status `json:"status"`
	Attempt             int    `json:"attempt"`
	ProcessedPathWorker string `json:"processed_path_worker,omitempty"`
	ProcessedPathMaster string `json:"processed_path_master,omitempty"`
	Attempts            uint64 `json:"attempts"`
	Successes           uint64 `json:"successes"`
	Failures            uint64 `json:"failures"`
}

// New creates a pending shard for the given job at sourcePath. Attempt
// starts at 0 and is incremented by Retry, not by assignment.
func New(jobID string, id int, sourcePath string) *Shard {
	return &Shard{
		ID:         id,
		JobID:      jobID,
		SourcePath: sourcePath,
		status:     StatusPending,
		Stats:      &OperationStats{},
	}
}

// Status returns the shard's current status.
func (s *Shard) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// WorkerID returns the worker currently (or most recently) assigned to
// this shard, empty if never assigned.
func (s *Shard) WorkerID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workerID
}

// Attempt returns the current attempt count, starting at 0.
func (s *Shard) Attempt() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempt
}

// Assign records the worker chosen by the scheduler and advances the shard
// to StatusAssigned. It is an error to assign a shard that is not pending.
func (s *Shard) Assign(workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusPending {
		return fmt.Errorf("shard %d: cannot assign from status %q", s.ID, s.status)
	}
	atomic.AddUint64(&s.Stats.Attempts, 1)
	s.workerID = workerID
	s.status = StatusAssigned
	return nil
}

// Advance moves the shard forward to newStatus, enforcing the monotonic
// progression pending → assigned → processing → ready. StatusFailed is
// always a legal destination, matching the invariant that a shard's status
// progresses monotonically within one attempt except for failure.
func (s *Shard) Advance(newStatus Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if newStatus == StatusFailed {
		s.status = StatusFailed
		atomic.AddUint64(&s.Stats.Failures, 1)
		return nil
	}

	curRank, curOK := order[s.status]
	newRank, newOK := order[newStatus]
	if !curOK || !newOK || newRank < curRank {
		return fmt.Errorf("shard %d: illegal transition %q -> %q", s.ID, s.status, newStatus)
	}
	s.status = newStatus
	if newStatus == StatusReady {
		atomic.AddUint64(&s.Stats.Successes, 1)
	}
	return nil
}

// SetProcessedPathWorker records where the worker stored the transcoded
// shard. The master pipeline does not call it.
func (s *Shard) SetProcessedPathWorker(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processedPathWorker = path
}

// ProcessedPathWorker returns the transcoded shard's path on the worker
// that produced it, as recorded by SetProcessedPathWorker; empty if none
// has been recorded.
func (s *Shard) ProcessedPathWorker() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processedPathWorker
}

// SetProcessedPathMaster records where the collector wrote the shard after
// pulling it from the worker.
func (s *Shard) SetProcessedPathMaster(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processedPathMaster = path
}

// ProcessedPathMaster returns the collected shard's path on the master,
// empty until collection completes.
func (s *Shard) ProcessedPathMaster() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processedPathMaster
}

// Retry resets the shard to pending and increments its attempt count,
// clearing the worker assignment so the scheduler picks a fresh one. It is
// the only legal way to move a shard's status backward.
func (s *Shard) Retry() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = StatusPending
	s.workerID = ""
	s.attempt++
}

// Info returns a serializable snapshot of the shard's current state.
func (s *Shard) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Info{
		ID:                  s.ID,
		JobID:               s.JobID,
		SourcePath:          s.SourcePath,
		WorkerID:            s.workerID,
		Status:              s.status,
		Attempt:             s.attempt,
		ProcessedPathWorker: s.processedPathWorker,
		ProcessedPathMaster: s.processedPathMaster,
		Attempts:            atomic.LoadUint64(&s.Stats.Attempts),
		Successes:           atomic.LoadUint64(&s.Stats.Successes),
		Failures:            atomic.LoadUint64(&s.Stats.Failures),
	}
}
