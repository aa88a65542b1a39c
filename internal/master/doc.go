// Package master implements the node that accepts client uploads and owns
// a job end to end: segmentation, scheduling shards onto workers,
// collecting and concatenating results, publishing the artifact, and
// replicating it to backups. See server.go for the wired dependencies and
// pipeline.go for the per-job state machine.
package master
