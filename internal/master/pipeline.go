package master

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/dreamware/transcast/internal/cluster"
	"github.com/dreamware/transcast/internal/job"
	"github.com/dreamware/transcast/internal/shard"
)

// runJob drives one job from segmentation through publication, the
// generalization of torua's coordinator request lifecycle to §4.1's
// multi-stage pipeline. It runs in its own goroutine for the job's entire
// life and is the job's only writer, matching job.Job's documented
// single-writer invariant. Each run is tagged with its own correlation id
// so every log line for this job's attempt can be grepped out of an
// otherwise interleaved multi-job log stream.
func (s *Server) runJob(ctx context.Context, j *job.Job) {
	s.dispatchSem <- struct{}{}
	defer func() { <-s.dispatchSem }()

	runID := uuid.NewString()
	level.Info(s.logger).Log("msg", "job started", "job_id", j.ID, "run_id", runID)

	if err := s.segmentJob(ctx, j); err != nil {
		level.Warn(s.logger).Log("msg", "job failed", "job_id", j.ID, "run_id", runID, "stage", "segment", "err", err)
		j.SetStatus(job.Failed("media-error"), err.Error())
		return
	}

	if err := s.dispatchAndCollect(ctx, j); err != nil {
		level.Warn(s.logger).Log("msg", "job failed", "job_id", j.ID, "run_id", runID, "stage", "dispatch", "err", err)
		j.SetStatus(job.Failed("shard-exhausted"), err.Error())
		return
	}

	finalPath, err := s.concatenateJob(ctx, j)
	if err != nil {
		level.Warn(s.logger).Log("msg", "job failed", "job_id", j.ID, "run_id", runID, "stage", "concatenate", "err", err)
		j.SetStatus(job.Failed("media-error"), err.Error())
		return
	}

	key := finalKey(j.ID, j.Params.Format)
	data, err := os.ReadFile(finalPath)
	if err != nil {
		j.SetStatus(job.Failed("storage-error"), err.Error())
		return
	}
	if err := s.store.Put(key, data); err != nil {
		j.SetStatus(job.Failed("storage-error"), err.Error())
		return
	}
	j.SetFinalPath(key)

	if err := s.replica.Replicate(ctx, j.ID, key); err != nil {
		level.Warn(s.logger).Log("msg", "published without replication", "job_id", j.ID, "run_id", runID, "err", err)
	} else {
		j.SetDurable(true)
	}

	level.Info(s.logger).Log("msg", "job completed", "job_id", j.ID, "run_id", runID)
	j.SetStatus(job.StatusCompleted, "")
}

// segmentJob splits the uploaded source into fixed-duration shards and
// installs them on the job.
func (s *Server) segmentJob(ctx context.Context, j *job.Job) error {
	j.SetStatus(job.StatusSegmenting, "")

	jobWorkDir := filepath.Join(s.workDir, j.ID)
	if err := os.MkdirAll(jobWorkDir, 0o755); err != nil {
		return fmt.Errorf("prepare work dir: %w", err)
	}

	paths, err := s.media.Segment(ctx, j.ID, j.SourcePath, jobWorkDir, s.cfg.SegmentSeconds)
	if err != nil {
		return fmt.Errorf("segment source: %w", err)
	}
	if len(paths) == 0 {
		return fmt.Errorf("segmentation produced no shards")
	}

	shards := make([]*shard.Shard, len(paths))
	for i, p := range paths {
		shards[i] = shard.New(j.ID, i, p)
	}
	j.SetShards(shards)
	return nil
}

// dispatchAndCollect assigns every shard to a worker, waits for its
// outcome, retries failed shards on a different worker for at most
// cfg.MaxAttempts attempts in all, and collects each successful shard's transcoded bytes
// back onto the master. Shards run with bounded concurrency so one job
// cannot monopolize every worker; a shard unassignable past
// StarvationThreshold is retried with the exclusion set cleared so it is
// eligible for any worker again, rather than stalling forever because
// every known worker has already failed it once.
func (s *Server) dispatchAndCollect(ctx context.Context, j *job.Job) error {
	j.SetStatus(job.StatusDispatching, "")

	shards := j.Shards()
	sem := make(chan struct{}, maxInt(s.cfg.JobConcurrency, 1))
	results := make(chan error, len(shards))

	for _, sh := range shards {
		sh := sh
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			results <- s.runShard(ctx, j, sh)
		}()
	}

	var firstErr error
	for range shards {
		if err := <-results; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}

	j.SetStatus(job.StatusCollecting, "")
	if !j.AllShardsReady() {
		return fmt.Errorf("shards did not reach ready after dispatch")
	}
	return nil
}

// runShard assigns and transcodes a single shard, making at most
// cfg.MaxAttempts attempts, each on a worker not yet tried where one exists.
func (s *Server) runShard(ctx context.Context, j *job.Job, sh *shard.Shard) error {
	excluded := make(map[string]bool)

	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		deadline := time.Now().Add(s.cfg.StarvationThreshold)
		var worker cluster.NodeInfo
		var found bool
		for {
			worker, found = s.reg.SelectWorker(time.Now(), excluded)
			if found || time.Now().After(deadline) {
				break
			}
			time.Sleep(50 * time.Millisecond)
		}
		if !found {
			// No worker left untried; clear the exclusion set and take
			// whatever is currently eligible rather than fail the shard
			// outright for having exhausted a small cluster.
			excluded = make(map[string]bool)
			worker, found = s.reg.SelectWorker(time.Now(), excluded)
			if !found {
				return fmt.Errorf("shard %d: no eligible workers", sh.ID)
			}
		}

		if err := sh.Assign(worker.ID); err != nil {
			return fmt.Errorf("shard %d: %w", sh.ID, err)
		}
		s.reg.IncInFlight(worker.ID)

		err := s.processOnWorker(ctx, j, sh, worker)
		s.reg.DecInFlight(worker.ID)

		if err == nil {
			return nil
		}

		level.Warn(s.logger).Log("msg", "shard attempt failed", "job_id", j.ID, "shard_id", sh.ID, "worker_id", worker.ID, "attempt", sh.Attempt(), "err", err)
		excluded[worker.ID] = true
		sh.Retry()
	}

	_ = sh.Advance(shard.StatusFailed)
	return fmt.Errorf("shard %d: exhausted %d attempts", sh.ID, s.cfg.MaxAttempts)
}

// processOnWorker pushes a shard to worker, waits for its async status
// report, and pulls the transcoded bytes back onto the master.
func (s *Server) processOnWorker(ctx context.Context, j *job.Job, sh *shard.Shard, worker cluster.NodeInfo) error {
	key := pendingKey(j.ID, sh.ID)
	ch := make(chan cluster.ShardStatusReport, 1)
	s.mu.Lock()
	s.pending[key] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
	}()

	f, err := os.Open(sh.SourcePath)
	if err != nil {
		return fmt.Errorf("open shard source: %w", err)
	}
	defer f.Close()

	meta := cluster.ShardMeta{
		JobID:   j.ID,
		ShardID: sh.ID,
		Attempt: sh.Attempt(),
		Width:   j.Params.Width,
		Height:  j.Params.Height,
		Format:  j.Params.Format,
	}

	shardCtx, cancel := context.WithTimeout(ctx, s.cfg.ShardTimeout)
	defer cancel()

	resp, err := cluster.PostStream(shardCtx, fmt.Sprintf("http://%s/shard/process", worker.Addr), meta, f)
	if err != nil {
		return fmt.Errorf("dispatch to %s: %w", worker.Addr, err)
	}
	resp.Body.Close()

	for waiting := true; waiting; {
		select {
		case report := <-ch:
			if report.Attempt != sh.Attempt() {
				continue // report from a superseded attempt: dropped
			}
			if report.Status != string(shard.StatusReady) {
				return fmt.Errorf("worker reported %s: %s", report.Status, report.Message)
			}
			waiting = false
		case <-shardCtx.Done():
			return fmt.Errorf("timed out waiting for shard status: %w", shardCtx.Err())
		}
	}

	if err := sh.Advance(shard.StatusProcessing); err != nil {
		return err
	}

	collected, err := s.collectShard(shardCtx, j, sh, worker)
	if err != nil {
		return err
	}
	sh.SetProcessedPathMaster(collected)
	return sh.Advance(shard.StatusReady)
}

// collectShard pulls the transcoded shard back from the worker and writes
// it into the job's work directory, per §4.1 step 4.
func (s *Server) collectShard(ctx context.Context, j *job.Job, sh *shard.Shard, worker cluster.NodeInfo) (string, error) {
	url := fmt.Sprintf("http://%s/shard/retrieve?job_id=%s&shard_id=%d", worker.Addr, j.ID, sh.ID)
	resp, err := cluster.GetStream(ctx, url)
	if err != nil {
		return "", fmt.Errorf("collect shard %d: %w", sh.ID, err)
	}
	defer resp.Body.Close()

	dest := filepath.Join(s.workDir, j.ID, fmt.Sprintf("shard-%04d.out", sh.ID))
	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", err
	}
	return dest, nil
}

// concatenateJob joins every shard's collected output back into the final
// artifact, in shard ID order, per §4.1 step 5.
func (s *Server) concatenateJob(ctx context.Context, j *job.Job) (string, error) {
	j.SetStatus(job.StatusConcatenating, "")

	shards := j.Shards()
	inputs := make([]string, len(shards))
	for i, sh := range shards {
		inputs[i] = sh.ProcessedPathMaster()
	}

	finalDir := filepath.Join(s.workDir, j.ID)
	output := filepath.Join(finalDir, fmt.Sprintf("final.%s", j.Params.Format))
	if err := s.media.Concatenate(ctx, j.ID, inputs, output); err != nil {
		return "", fmt.Errorf("concatenate: %w", err)
	}
	return output, nil
}
