// Package worker implements the node that registers with a master,
// accepts assigned shards, transcodes them, and serves the results back
// for collection. See server.go for the wired dependencies and
// handlers.go for the shard lifecycle.
package worker
