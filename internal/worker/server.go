// Package worker implements the Worker Engine: the node that registers
// with the master, accepts streamed shards, transcodes them with
// internal/media, and serves the results back for collection. It
// generalizes torua's node — the same register-with-retry-then-serve
// shape — from on-demand key/value shards to assigned transcode shards,
// and additionally reports its internal/scorer reading on a fixed cadence
// and can hold the backup role via internal/replication.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/dreamware/transcast/internal/cluster"
	"github.com/dreamware/transcast/internal/config"
	"github.com/dreamware/transcast/internal/election"
	"github.com/dreamware/transcast/internal/media"
	"github.com/dreamware/transcast/internal/replication"
	"github.com/dreamware/transcast/internal/scorer"
	"github.com/dreamware/transcast/internal/storage"
)

// Server is one worker node: it transcodes shards the master assigns it
// and, if carrying the backup role, stores replicated final artifacts.
type Server struct {
	ID         string
	Addr       string
	MasterAddr string
	cfg        config.Config

	store  *storage.FileStore
	media  *media.Executor
	score  *scorer.Scorer
	elect  *election.Node
	backup *replication.BackupServer

	workDir string

	mu     sync.Mutex
	shards map[string]string // "jobID/shardID" -> local output path

	jobMu    sync.Mutex
	jobLocks map[string]*sync.Mutex // jobID -> lock serializing that job's shard transcodes

	logger  log.Logger
	httpSrv *http.Server
}

// New wires a worker Server. masterAddr is the master this node registers
// with on startup; peerProvider lists the peers this node asks for votes
// whenever its election timer expires and it campaigns (§4.5), so the same
// election.Node machinery serves both roles.
func New(id, addr, masterAddr string, cfg config.Config, store *storage.FileStore, peerProvider func() []cluster.NodeInfo) *Server {
	s := &Server{
		ID:         id,
		Addr:       addr,
		MasterAddr: masterAddr,
		cfg:        cfg,
		store:      store,
		media:      media.NewExecutor(),
		workDir:    filepath.Join(cfg.DataDir, "shards"),
		shards:     make(map[string]string),
		jobLocks:   make(map[string]*sync.Mutex),
		logger:     log.With(log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr)), "ts", log.DefaultTimestampUTC, "node", id, "role", "worker"),
	}
	s.score = scorer.New(scorer.NewProcSampler(0), cfg.ScoreWeights, cfg.ScoreCadence, s.reportScore)
	s.backup = replication.NewBackupServer(store)
	s.elect = election.New(id, addr, cfg.MasterSilence, cfg.ElectionTimeoutMin, cfg.ElectionTimeoutMax, peerProvider)
	return s
}

// Routes builds the HTTP handler tree for the worker role.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/shard/process", s.handleProcessShard)
	mux.HandleFunc("/shard/retrieve", s.handleRetrieveShard)

	mux.HandleFunc("/replication/backup", s.backup.HandleBackup)
	mux.HandleFunc("/replication/restore", s.backup.HandleRestore)

	mux.HandleFunc("/election/vote", s.handleVote)
	mux.HandleFunc("/election/announce", s.handleAnnounce)

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

// Run starts the HTTP server, registers with the master, and begins
// reporting scores and participating in the election timer, blocking
// until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.workDir, 0o755); err != nil {
		return fmt.Errorf("prepare shard work dir: %w", err)
	}

	s.httpSrv = &http.Server{
		Addr:              s.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		level.Info(s.logger).Log("msg", "listening", "addr", s.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if err := s.registerWithRetry(ctx); err != nil {
		return fmt.Errorf("register with master: %w", err)
	}

	go s.score.Start(ctx)
	go s.elect.Start(ctx)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	s.elect.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// registerWithRetry joins the cluster, retrying with exponential backoff
// instead of torua's fixed 10-attempt/400ms-sleep loop, so a worker started
// before the master finishes its own startup still joins once the master
// becomes reachable rather than giving up after a fixed four-second window.
func (s *Server) registerWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 60 * time.Second

	req := cluster.RegisterRequest{Node: cluster.NodeInfo{ID: s.ID, Addr: s.Addr, Role: cluster.RoleWorker}}
	var resp cluster.RegisterResponse

	op := func() error {
		return cluster.PostJSON(ctx, s.MasterAddr+"/worker/register", req, &resp)
	}

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return err
	}
	level.Info(s.logger).Log("msg", "registered", "master_addr", s.MasterAddr)
	return nil
}

// reportScore is the scorer's report callback: it pushes the latest
// sampled score to the master, logging rather than failing the loop on a
// transient network error since the next tick will simply retry.
func (s *Server) reportScore(score float64, at time.Time) {
	req := cluster.ScoreReport{NodeID: s.ID, Score: score, Timestamp: at}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cluster.PostJSON(ctx, s.MasterAddr+"/worker/score", req, nil); err != nil {
		level.Warn(s.logger).Log("msg", "report score failed", "err", err)
	}
}

// jobLock returns the mutex serializing transcodes for jobID, creating it on
// first use. Two shards of the same job always share this lock, so the
// worker transcodes them one at a time; shards of different jobs get
// different locks and run concurrently up to the worker's own capacity, per
// §5's ordering guarantee.
func (s *Server) jobLock(jobID string) *sync.Mutex {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	m, ok := s.jobLocks[jobID]
	if !ok {
		m = &sync.Mutex{}
		s.jobLocks[jobID] = m
	}
	return m
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req cluster.VoteRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.elect.HandleVoteRequest(req))
}

func (s *Server) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	var req cluster.AnnounceMasterRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.elect.HandleAnnounceMaster(req))
}
