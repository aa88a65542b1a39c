// Package registry implements the Node Registry (§4.3): the single-owner
// peer map that tracks liveness, score, and role for every node the master
// knows about, generalizing torua's coordinator.HealthMonitor liveness
// tracking and coordinator.ShardRegistry snapshot discipline into one type.
package registry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/transcast/internal/cluster"
)

// Registry is the single writer of the cluster's peer map. Every other
// component reads a Snapshot rather than touching the map directly,
// matching the redesign note that re-architects global mutable state as
// owned registries with explicit snapshotting for readers.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*entry

	suspectTimeout time.Duration
	deadTimeout    time.Duration
	scoreTTL       time.Duration
}

type entry struct {
	info     cluster.NodeInfo
	inFlight int
}

// New creates a Registry with the liveness and score-staleness windows
// from §4.3 and §4.4.
func New(suspectTimeout, deadTimeout, scoreTTL time.Duration) *Registry {
	return &Registry{
		nodes:          make(map[string]*entry),
		suspectTimeout: suspectTimeout,
		deadTimeout:    deadTimeout,
		scoreTTL:       scoreTTL,
	}
}

// Register adds a node or refreshes an existing one's heartbeat, per
// §4.1's "duplicate registration refreshes last-heartbeat." A brand-new
// node starts alive with a neutral score.
func (r *Registry) Register(node cluster.NodeInfo) cluster.NodeInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	e, ok := r.nodes[node.ID]
	if !ok {
		node.RegisteredAt = now
		node.LastHeartbeatAt = now
		node.Liveness = cluster.LivenessAlive
		node.LastScore = 0.5
		e = &entry{info: node}
		r.nodes[node.ID] = e
		return e.info
	}

	e.info.Addr = node.Addr
	e.info.Role = node.Role
	e.info.LastHeartbeatAt = now
	e.info.Liveness = cluster.LivenessAlive
	return e.info
}

// ReportScore folds a worker's score report into its record with
// last-writer-wins semantics keyed by NodeID, and counts as a heartbeat
// for liveness purposes since workers report score on the same cadence
// they'd otherwise ping on.
func (r *Registry) ReportScore(report cluster.ScoreReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.nodes[report.NodeID]
	if !ok {
		return fmt.Errorf("unknown node %q", report.NodeID)
	}
	if report.Timestamp.Before(e.info.LastScoreAt) {
		return nil // stale report, last-writer-wins means ignore it
	}
	e.info.LastScore = report.Score
	e.info.LastScoreAt = report.Timestamp
	e.info.LastHeartbeatAt = time.Now()
	e.info.Liveness = cluster.LivenessAlive
	return nil
}

// Heartbeat refreshes a node's last-seen time without a score update, used
// when a worker pings the master purely to detect master silence.
func (r *Registry) Heartbeat(nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.nodes[nodeID]
	if !ok {
		return fmt.Errorf("unknown node %q", nodeID)
	}
	e.info.LastHeartbeatAt = time.Now()
	if e.info.Liveness == cluster.LivenessDead {
		e.info.Liveness = cluster.LivenessAlive
	}
	return nil
}

// SetKnownMaster records what address a node last reported believing is
// master, surfaced through introspection but not otherwise load-bearing.
func (r *Registry) SetKnownMaster(nodeID, masterAddr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.nodes[nodeID]; ok {
		e.info.KnownMaster = masterAddr
	}
}

// Get returns a copy of a single node's record.
func (r *Registry) Get(nodeID string) (cluster.NodeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.nodes[nodeID]
	if !ok {
		return cluster.NodeInfo{}, false
	}
	info := e.info
	info.InFlight = e.inFlight
	return info, true
}

// Snapshot returns a copy of every tracked node, safe for the scheduler or
// an introspection handler to range over without holding the registry's
// lock.
func (r *Registry) Snapshot() []cluster.NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]cluster.NodeInfo, 0, len(r.nodes))
	for _, e := range r.nodes {
		info := e.info
		info.InFlight = e.inFlight
		out = append(out, info)
	}
	return out
}

// ReconcileLiveness downgrades nodes that have gone quiet: suspect after
// suspectTimeout of silence, dead after deadTimeout. It is driven by a
// ticker in the master's background loop, the same shape as torua's
// HealthMonitor.Start ticking over checkAllNodes.
func (r *Registry) ReconcileLiveness(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.nodes {
		silence := now.Sub(e.info.LastHeartbeatAt)
		switch {
		case silence >= r.deadTimeout:
			e.info.Liveness = cluster.LivenessDead
		case silence >= r.suspectTimeout:
			if e.info.Liveness == cluster.LivenessAlive {
				e.info.Liveness = cluster.LivenessSuspect
			}
		}
	}
}

// EligibleWorkers returns every alive worker, with stale scores (older
// than scoreTTL) normalized to a neutral 0.5 per §4.4's "scores older than
// score_ttl are treated as unknown and bucketed as neutral."
func (r *Registry) EligibleWorkers(now time.Time) []cluster.NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []cluster.NodeInfo
	for _, e := range r.nodes {
		if e.info.Role != cluster.RoleWorker || e.info.Liveness != cluster.LivenessAlive {
			continue
		}
		info := e.info
		info.InFlight = e.inFlight
		if now.Sub(info.LastScoreAt) > r.scoreTTL {
			info.LastScore = 0.5
		}
		out = append(out, info)
	}
	return out
}

// SelectWorker picks the eligible worker with the lowest score, breaking
// ties by fewest in-flight assignments and then by address, exactly as
// §4.1's dispatch step specifies. excluding lets the caller rule out
// workers already tried for this shard's earlier attempts.
func (r *Registry) SelectWorker(now time.Time, excluding map[string]bool) (cluster.NodeInfo, bool) {
	candidates := r.EligibleWorkers(now)

	var best cluster.NodeInfo
	found := false
	for _, c := range candidates {
		if excluding[c.ID] {
			continue
		}
		if !found {
			best, found = c, true
			continue
		}
		if c.LastScore < best.LastScore ||
			(c.LastScore == best.LastScore && c.InFlight < best.InFlight) ||
			(c.LastScore == best.LastScore && c.InFlight == best.InFlight && c.Addr < best.Addr) {
			best = c
		}
	}
	return best, found
}

// IncInFlight and DecInFlight track how many shards are currently assigned
// to a worker, used for the scheduler's tie-break and for starvation
// accounting.
func (r *Registry) IncInFlight(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.nodes[nodeID]; ok {
		e.inFlight++
	}
}

func (r *Registry) DecInFlight(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.nodes[nodeID]; ok && e.inFlight > 0 {
		e.inFlight--
	}
}

// Peers returns every known node's address except selfID, for election
// fan-out and replication targets.
func (r *Registry) Peers(selfID string) []cluster.NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]cluster.NodeInfo, 0, len(r.nodes))
	for id, e := range r.nodes {
		if id == selfID {
			continue
		}
		out = append(out, e.info)
	}
	slices.SortFunc(out, func(a, b cluster.NodeInfo) int { return strings.Compare(a.Addr, b.Addr) })
	return out
}
