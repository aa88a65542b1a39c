// Package job models the client-submitted transcoding request and its
// progress through uploading → segmenting → dispatching → collecting →
// concatenating → completed, or off to a failed:<reason>
// status at any point before completed.
//
// A Job owns an ordered slice of shard.Shard; the job's own status is
// mutated only by the Master Engine's job task (internal/master), never by
// the shards themselves, which report through ShardStatusReport instead.
// Store is the single owner of the JobId → Job map, replacing the source's
// global mutable dictionary with one guarded owner and copy-on-read
// snapshots for every other reader.
package job
