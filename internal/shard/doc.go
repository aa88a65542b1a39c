// Package shard tracks one video segment through its lifecycle:
// pending (segmented, unassigned) → assigned (a worker chosen) →
// processing (transcode running) → ready (transcoded output collected).
// A shard may also fail, and a failed shard is retried by resetting to
// pending with an incremented attempt count rather than reusing the same
// attempt number, so a late ack from an old attempt can never be mistaken
// for the current one.
package shard
