// Package cluster provides the wire types and transport helpers shared by
// every node in the cluster: node identity, RPC envelopes, and the HTTP
// client used for both unary JSON calls and streamed chunk transfer.
// See doc.go for an overview of the transport model.
package cluster

import (
	"encoding/json"
	"time"
)

// Role identifies what a node is currently doing in the cluster. A node's
// Role can change over its lifetime (a worker that wins an election becomes
// the master; a demoted master reverts to worker), but at any instant it is
// exactly one of these.
type Role string

const (
	RoleMaster Role = "master"
	RoleWorker Role = "worker"
	RoleBackup Role = "backup"
)

// Liveness is the Node Registry's view of whether a peer is reachable.
// Liveness degrades alive → suspect → dead purely from the passage of time
// since the last heartbeat or score report; it is never set directly by a
// peer about itself.
type Liveness string

const (
	LivenessAlive   Liveness = "alive"
	LivenessSuspect Liveness = "suspect"
	LivenessDead    Liveness = "dead"
)

// NodeInfo is the Node Registry's record for one peer: identity, role,
// freshness timestamps, and the last score it reported. It is the unit
// exchanged on registration, in announcements, and in registry snapshots
// handed to the scheduler.
type NodeInfo struct {
	ID              string    `json:"id"`
	Addr            string    `json:"addr"`
	Role            Role      `json:"role"`
	RegisteredAt    time.Time `json:"registered_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	LastScore       float64   `json:"last_score"`
	LastScoreAt     time.Time `json:"last_score_at"`
	Liveness        Liveness  `json:"liveness"`
	KnownMaster     string    `json:"known_master,omitempty"`
	InFlight        int       `json:"in_flight"`
}

// RegisterRequest is sent by a worker to join the cluster. Capabilities is
// carried on the wire but not read or stored by the master; only Node is
// registered. It is kept as an extension point the way torua's
// RegisterRequest left room for the coordinator to mutate the node record
// in its response.
type RegisterRequest struct {
	Node         NodeInfo `json:"node"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// RegisterResponse echoes back the node's assigned view: the registry's
// canonical copy of the record (RegisteredAt set by the master) and the
// address of the current master, if any.
type RegisterResponse struct {
	Node         NodeInfo `json:"node"`
	KnownMaster  string   `json:"known_master,omitempty"`
	KnownPeers   []string `json:"known_peers,omitempty"`
}

// ScoreReport is pushed by a worker on a fixed cadence and folded into the
// registry with last-writer-wins semantics keyed by NodeID.
type ScoreReport struct {
	NodeID    string    `json:"node_id"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// ShardStatusReport notifies the master of a shard's outcome. It is
// idempotent: a report for an attempt older than the one the master has on
// record is ignored.
type ShardStatusReport struct {
	WorkerID string `json:"worker_id"`
	JobID    string `json:"job_id"`
	ShardID  int    `json:"shard_id"`
	Attempt  int    `json:"attempt"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
}

// StatusResponse is the compact client-facing view of a job: never more
// than a status tag and a human-readable message, per the error-handling
// design's rule that client RPCs never leak internal detail.
type StatusResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// UploadMeta is the first part of a streamed Upload: the target transcode
// parameters plus the client-supplied filename that derives the JobId.
type UploadMeta struct {
	Filename string `json:"filename"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Format   string `json:"format"`
}

// UploadAck is the response to a completed Upload.
type UploadAck struct {
	JobID    string `json:"job_id"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// ShardMeta is the metadata part of a streamed ProcessShard or
// ReceiveBackup call: everything the receiver needs to know about the bytes
// that follow.
type ShardMeta struct {
	JobID   string `json:"job_id"`
	ShardID int    `json:"shard_id"`
	Attempt int    `json:"attempt"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Format  string `json:"format"`
}

// ShardAck is returned by ProcessShard as soon as the worker has received
// the shard, before transcoding starts; the outcome arrives later as a
// ShardStatusReport.
type ShardAck struct {
	JobID           string  `json:"job_id"`
	ShardID         int     `json:"shard_id"`
	Attempt         int     `json:"attempt"`
	Status          string  `json:"status"`
	Message         string  `json:"message,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// VoteRequest is RequestVote(term, candidate) from §4.5: a candidate asking
// a peer for its vote in a term.
type VoteRequest struct {
	Term          int    `json:"term"`
	CandidateID   string `json:"candidate_id"`
	CandidateAddr string `json:"candidate_addr"`
}

// VoteResponse is the peer's answer: whether the vote was granted, and the
// responder's own term so a stale candidate can step down.
type VoteResponse struct {
	Term    int  `json:"term"`
	Granted bool `json:"granted"`
}

// AnnounceMasterRequest is sent by a node that has just won an election.
// Recipients adopt Term and MasterAddr unconditionally when Term is greater
// than or equal to their own.
type AnnounceMasterRequest struct {
	Term       int    `json:"term"`
	MasterID   string `json:"master_id"`
	MasterAddr string `json:"master_addr"`
}

// AnnounceMasterResponse acknowledges an announcement and reports the
// recipient's resulting term, so the new master can detect a higher term it
// had not yet observed.
type AnnounceMasterResponse struct {
	Term     int  `json:"term"`
	Accepted bool `json:"accepted"`
}

// BackupMeta is the metadata part of a streamed SendBackup/ReceiveBackup
// call: a completed job's final artifact, pushed from the master to a
// backup node (or pulled back during restoration) as in §4.5 Restoration.
type BackupMeta struct {
	JobID    string `json:"job_id"`
	Filename string `json:"filename"`
}

// BackupAck acknowledges a completed backup transfer.
type BackupAck struct {
	JobID    string `json:"job_id"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// CurrentMasterResponse answers GetCurrentMaster: the address this node
// currently believes is master, which may be empty during an election.
type CurrentMasterResponse struct {
	MasterAddr string `json:"master_addr"`
	Term       int    `json:"term"`
}

// NodeStatsResponse is a lightweight per-node self-report shape, distinct
// from the heavier registry snapshot. No handler returns it: GetNodeStats
// (the master's /nodes) answers with the registry snapshot itself.
type NodeStatsResponse struct {
	NodeInfo
	ActiveJobs  int `json:"active_jobs,omitempty"`
	ActiveShard int `json:"active_shards,omitempty"`
}

// BroadcastRequest carries an opaque JSON payload addressed to a path on
// the receiving node. Payload is kept as raw JSON so it round-trips byte
// for byte.
type BroadcastRequest struct {
	Path    string          `json:"path"`
	Payload json.RawMessage `json:"payload"`
}
