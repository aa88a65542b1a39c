// Package job implements the Job state machine: one client-submitted
// transcoding request, tracked from upload through segmentation, dispatch,
// collection, concatenation, and replication. See doc.go for the pipeline
// this package's Job records but does not itself run (that is
// internal/master's job task).
package job

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dreamware/transcast/internal/shard"
)

// Status is a job's position in its pipeline, matching §3's enumeration.
// Failure carries a reason suffix ("failed:shard-exhausted") rather than
// being a distinct type per status, since the wire protocol favors strings
// for forward compatibility even though an implementer should otherwise
// prefer sum types (see design notes).
type Status string

const (
	StatusUploading     Status = "uploading"
	StatusSegmenting    Status = "segmenting"
	StatusDispatching   Status = "dispatching"
	StatusProcessing    Status = "processing"
	StatusCollecting    Status = "collecting"
	StatusConcatenating Status = "concatenating"
	StatusCompleted     Status = "completed"
	StatusNotFound      Status = "not_found"

	failedPrefix = "failed:"
)

// Failed builds a failed:<reason> status string for the reasons named in
// the error-handling design: shard-exhausted, media-error, storage-error,
// master-failover.
func Failed(reason string) Status {
	return Status(failedPrefix + reason)
}

// IsFailed reports whether s is any failed:<reason> status.
func (s Status) IsFailed() bool {
	return strings.HasPrefix(string(s), failedPrefix)
}

// IsTerminal reports whether a job in this status no longer progresses:
// completed or any failure.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s.IsFailed()
}

// Params are the client-requested transcode parameters from the Upload
// call's first message.
type Params struct {
	Width  int
	Height int
	Format string
}

// Job is one client-submitted transcoding request. JobID is stable for a
// given source filename; Job fields other than the Shards slice's own
// per-shard state are guarded by mu, mutated only by the Master Engine as
// the invariant in §3 requires.
type Job struct {
	ID         string
	Filename   string
	SourcePath string
	Params     Params
	CreatedAt  time.Time

	mu          sync.RWMutex
	status      Status
	message     string
	shards      []*shard.Shard
	finalPath   string
	durable     bool
	completedAt time.Time
}

// New creates a job in StatusUploading for the given id and parameters.
// Shards are added once segmentation determines their count.
func New(id, filename, sourcePath string, params Params) *Job {
	return &Job{
		ID:         id,
		Filename:   filename,
		SourcePath: sourcePath,
		Params:     params,
		CreatedAt:  time.Now(),
		status:     StatusUploading,
	}
}

// SetStatus transitions the job to a new status with an optional message,
// recording CompletedAt when the new status is terminal. The Master Engine
// is this job's only writer, so no monotonicity check is made here beyond
// what the job pipeline's own control flow already enforces — unlike
// Shard.Advance, which is called from multiple goroutines racing to report
// shard outcomes and must defend itself.
func (j *Job) SetStatus(status Status, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.status = status
	j.message = message
	if status.IsTerminal() {
		j.completedAt = time.Now()
	}
}

// Status returns the job's current status and message.
func (j *Job) Status() (Status, string) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status, j.message
}

// IsTerminal reports whether the job has reached completed or any failed
// status.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status.IsTerminal()
}

// SetShards installs the ordered shard list produced by segmentation. It
// must be called exactly once, after StatusSegmenting and before dispatch.
func (j *Job) SetShards(shards []*shard.Shard) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.shards = shards
}

// Shards returns the job's ordered shard list. The slice itself is not
// copied — callers read each shard's own synchronized state — but
// appending to or replacing the returned slice does not affect the job.
func (j *Job) Shards() []*shard.Shard {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]*shard.Shard, len(j.shards))
	copy(out, j.shards)
	return out
}

// Shard returns the shard with the given ID, or nil if out of range.
func (j *Job) Shard(id int) *shard.Shard {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if id < 0 || id >= len(j.shards) {
		return nil
	}
	return j.shards[id]
}

// AllShardsReady reports whether every shard has reached StatusReady.
func (j *Job) AllShardsReady() bool {
	j.mu.RLock()
	shards := j.shards
	j.mu.RUnlock()

	if len(shards) == 0 {
		return false
	}
	for _, s := range shards {
		if s.Status() != shard.StatusReady {
			return false
		}
	}
	return true
}

// SetFinalPath records the published final artifact's path once
// concatenation completes.
func (j *Job) SetFinalPath(path string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.finalPath = path
}

// FinalPath returns the final artifact's path, empty until concatenation
// completes.
func (j *Job) FinalPath() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.finalPath
}

// SetDurable marks the job's artifact as replicated to at least one
// reachable backup or persisted locally, per the durability invariant in
// §3. Retrieve may serve the local copy before this is set; it governs
// only what a newly elected master can assume it can restore.
func (j *Job) SetDurable(durable bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.durable = durable
}

// Durable reports whether the job's artifact is considered durable.
func (j *Job) Durable() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.durable
}

// Snapshot is a point-in-time view of a job for status responses and
// introspection, decoupled from the live Job so a caller can hold it
// without pinning the job's lock.
type Snapshot struct {
	ID          string
	Status      Status
	Message     string
	Filename    string
	Params      Params
	CreatedAt   time.Time
	CompletedAt time.Time
	FinalPath   string
	Durable     bool
	Shards      []shard.Info
}

// Snapshot returns a serializable view of the job's current state.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	shardInfos := make([]shard.Info, len(j.shards))
	for i, s := range j.shards {
		shardInfos[i] = s.Info()
	}

	return Snapshot{
		ID:          j.ID,
		Status:      j.status,
		Message:     j.message,
		Filename:    j.Filename,
		Params:      j.Params,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.completedAt,
		FinalPath:   j.finalPath,
		Durable:     j.durable,
		Shards:      shardInfos,
	}
}

// ValidateParams enforces the Upload contract's parameter bounds: width
// and height in (0, 7680]×(0, 4320], format one of the supported
// containers.
func ValidateParams(p Params) error {
	if p.Width <= 0 || p.Width > 7680 {
		return fmt.Errorf("width %d out of range (0, 7680]", p.Width)
	}
	if p.Height <= 0 || p.Height > 4320 {
		return fmt.Errorf("height %d out of range (0, 4320]", p.Height)
	}
	switch p.Format {
	case "mp4", "mkv", "webm", "mov":
	default:
		return fmt.Errorf("unsupported format %q", p.Format)
	}
	return nil
}
