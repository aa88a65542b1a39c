// Package registry is the Node Registry described in §4.3: the master's
// (and, after failover, the new master's) view of every peer's address,
// role, liveness, and last reported score.
//
// Liveness degrades purely from the passage of time since a node's last
// heartbeat or score report — alive, then suspect after suspect_timeout,
// then dead after dead_timeout — and is reconciled by a ticker-driven
// sweep rather than computed on every read, the same shape torua's
// HealthMonitor used for its own ticker loop over node health.
package registry
