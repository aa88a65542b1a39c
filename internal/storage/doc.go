// Package storage defines the key-value Store interface used for finished
// outputs on the master and replicated copies on backup nodes, plus the
// concrete backends that satisfy it. Uploaded sources and transcoded
// shards are plain files in the nodes' working directories, not Store keys.
//
// FileStore is the one wired into the master and worker binaries: one file
// per key under a root directory, written via a temp-file-then-rename so a
// reader never observes a partial write. MemoryStore satisfies the same
// interface without touching disk, useful wherever a test wants a Store
// without a filesystem.
//
// Keys are path-like strings (job and shard identifiers joined with "/"),
// not hashed or sharded the way a generic key-value store might; the
// caller's key already encodes where the value belongs.
package storage
