// Package master implements the Master Engine: the node that accepts
// uploads, segments and dispatches shards to workers, collects and
// concatenates the results, and publishes the finished artifact. It
// generalizes torua's coordinator — the same server-struct-plus-mux shape,
// the same RWMutex-guarded node-list-turned-Registry — to the job pipeline
// in §4.1 instead of consistent-hash key routing.
package master

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/dreamware/transcast/internal/cluster"
	"github.com/dreamware/transcast/internal/config"
	"github.com/dreamware/transcast/internal/election"
	"github.com/dreamware/transcast/internal/job"
	"github.com/dreamware/transcast/internal/media"
	"github.com/dreamware/transcast/internal/registry"
	"github.com/dreamware/transcast/internal/replication"
	"github.com/dreamware/transcast/internal/storage"
)

// Server holds every piece of state the master node owns: the job store,
// the peer registry, its election participation, and the filesystem store
// backing both working files and the final artifacts it serves.
type Server struct {
	ID   string
	Addr string
	cfg  config.Config

	store   *storage.FileStore
	jobs    *job.Store
	reg     *registry.Registry
	elect   *election.Node
	backup  *replication.BackupServer
	replica *replication.Replicator
	media   *media.Executor

	uploadsDir string
	workDir    string
	finalDir   string

	dispatchSem chan struct{}

	mu      sync.Mutex
	pending map[string]chan cluster.ShardStatusReport
	cancels map[string]context.CancelFunc

	logger  log.Logger
	httpSrv *http.Server
}

// New wires a Server from cfg. store is the filesystem-backed artifact
// store shared with the replication backup handlers.
func New(id, addr string, cfg config.Config, store *storage.FileStore) *Server {
	logger := log.With(log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr)), "ts", log.DefaultTimestampUTC, "node", id, "role", "master")

	s := &Server{
		ID:          id,
		Addr:        addr,
		cfg:         cfg,
		store:       store,
		jobs:        job.NewStore(),
		reg:         registry.New(cfg.SuspectTimeout, cfg.DeadTimeout, cfg.ScoreTTL),
		media:       media.NewExecutor(),
		uploadsDir:  filepath.Join(cfg.DataDir, "uploads"),
		workDir:     filepath.Join(cfg.DataDir, "work"),
		finalDir:    "final",
		dispatchSem: make(chan struct{}, maxInt(cfg.JobConcurrency, 1)),
		pending:     make(map[string]chan cluster.ShardStatusReport),
		cancels:     make(map[string]context.CancelFunc),
		logger:      logger,
	}
	s.backup = replication.NewBackupServer(store)
	s.replica = replication.New(store, s.backupNodes)

	s.elect = election.New(id, addr, cfg.MasterSilence, cfg.ElectionTimeoutMin, cfg.ElectionTimeoutMax, func() []cluster.NodeInfo {
		return s.reg.Peers(id)
	})
	s.elect.SetOnElected(func(term int) {
		level.Info(s.logger).Log("msg", "elected", "term", term)
		s.restoreMissingJobs(context.Background())
	})
	s.elect.SetOnDemoted(func() {
		level.Info(s.logger).Log("msg", "demoted")
		s.abortAllJobs()
	})

	return s
}

// storeCancel and clearCancel track the per-job CancelFunc so a job's
// in-flight shard RPCs can be aborted without the job goroutine itself
// being reachable from outside internal/master.
func (s *Server) storeCancel(jobID string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancels[jobID] = cancel
	s.mu.Unlock()
}

func (s *Server) clearCancel(jobID string, cancel context.CancelFunc) {
	s.mu.Lock()
	delete(s.cancels, jobID)
	s.mu.Unlock()
	cancel()
}

// abortAllJobs cancels every job still in flight, used when this node is
// demoted mid-term so a stale master stops driving shard RPCs it no longer
// has authority over, per §5's "job abort propagates cancellation to all
// in-flight shard RPCs."
func (s *Server) abortAllJobs() {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.cancels))
	for _, cancel := range s.cancels {
		cancels = append(cancels, cancel)
	}
	s.cancels = make(map[string]context.CancelFunc)
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (s *Server) backupNodes() []cluster.NodeInfo {
	var out []cluster.NodeInfo
	seen := make(map[string]bool)
	for _, n := range s.reg.Snapshot() {
		if n.Role == cluster.RoleBackup && n.Liveness == cluster.LivenessAlive {
			out = append(out, n)
			seen[n.Addr] = true
		}
	}
	for _, addr := range s.cfg.Backups {
		if !seen[addr] {
			out = append(out, cluster.NodeInfo{ID: addr, Addr: addr, Role: cluster.RoleBackup})
		}
	}
	return out
}

// Routes builds the HTTP handler tree for the master role.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/status/", s.handleStatus)
	mux.HandleFunc("/retrieve/", s.handleRetrieve)
	mux.HandleFunc("/jobs", s.handleListJobs)

	mux.HandleFunc("/worker/register", s.handleRegisterWorker)
	mux.HandleFunc("/worker/score", s.handleReportScore)
	mux.HandleFunc("/worker/shard-status", s.handleReportShardStatus)

	mux.HandleFunc("/election/vote", s.handleVote)
	mux.HandleFunc("/election/announce", s.handleAnnounce)
	mux.HandleFunc("/master", s.handleCurrentMaster)
	mux.HandleFunc("/nodes", s.handleNodeStats)

	mux.HandleFunc("/replication/backup", s.backup.HandleBackup)
	mux.HandleFunc("/replication/restore", s.backup.HandleRestore)

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

// Run starts the HTTP server, the election loop, and the liveness
// reconciliation ticker, blocking until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.uploadsDir, 0o755); err != nil {
		return fmt.Errorf("prepare uploads dir: %w", err)
	}
	if err := os.MkdirAll(s.workDir, 0o755); err != nil {
		return fmt.Errorf("prepare work dir: %w", err)
	}

	s.httpSrv = &http.Server{
		Addr:              s.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.elect.Start(ctx)
	go s.reconcileLivenessLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		level.Info(s.logger).Log("msg", "listening", "addr", s.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

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

func (s *Server) reconcileLivenessLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SuspectTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.reg.ReconcileLiveness(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// restoreMissingJobs is run once this node becomes master. It restores
// nothing: no artifact is pulled from backups at election time, and jobs
// of a prior master, completed or still mid-pipeline, are not recovered
// (see internal/election's doc comment). The only pull from a backup is in
// handleRetrieve, for a completed job this node has a record of whose
// artifact is missing from its local store.
func (s *Server) restoreMissingJobs(ctx context.Context) {
	for _, key := range s.store.List() {
		_ = key // local artifacts need no restoration
	}
	// This node only knows about jobs submitted to it directly, so there
	// is no list of jobs held elsewhere to compare these keys against.
}
