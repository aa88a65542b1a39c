// Package election implements master election and failover: follower,
// candidate, and master roles over monotonic terms, majority-vote
// winning, and split-brain resolution by highest term always prevailing.
//
// This is a deliberate simplification of Raft: there is no replicated log,
// so a node becoming master does not inherit any job state from its
// predecessor. Jobs of a prior master, in flight or completed, do not
// appear in the new master's job store, and no job is marked
// failed:master-failover; a demoted master cancels its own in-flight jobs
// through its OnDemoted callback (internal/master).
package election
