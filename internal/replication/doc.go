// Package replication handles pushing completed artifacts to backup nodes
// and pulling them back during master failover. See Replicator for the
// master-side client and BackupServer for the backup-side handlers.
package replication
