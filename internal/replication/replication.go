// Package replication pushes completed job artifacts out to backup nodes
// and restores them back onto a newly elected master, the two halves of
// §4.1 step 5 and §4.5's Restoration. Fan-out to multiple backups runs
// concurrently via golang.org/x/sync/errgroup, the same "push to every
// secondary, fail if too many are unreachable" shape torua's
// coordinator.forwardWrite used for its replica set, generalized from a
// fixed replication factor to "every registered or configured backup".
package replication

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/transcast/internal/cluster"
	"github.com/dreamware/transcast/internal/storage"
)

// Replicator pushes finished artifacts to backups and restores them on
// failover.
type Replicator struct {
	store   *storage.FileStore
	backups func() []cluster.NodeInfo
}

// New creates a Replicator. backups is called fresh on every Replicate/
// Restore so it always reflects the registry's current backup set rather
// than one captured at startup.
func New(store *storage.FileStore, backups func() []cluster.NodeInfo) *Replicator {
	return &Replicator{store: store, backups: backups}
}

// Replicate pushes the artifact stored at key to every currently known
// backup node. It returns an error, listing every node's failure, only if
// every backup push failed; a partial failure (some backups unreachable)
// returns nil and is not reported, since the master itself still holds the
// artifact.
func (r *Replicator) Replicate(ctx context.Context, jobID, key string) error {
	backups := r.backups()
	if len(backups) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	failures := make([]error, len(backups))

	for i, b := range backups {
		i, b := i, b
		g.Go(func() error {
			f, err := os.Open(r.store.Path(key))
			if err != nil {
				failures[i] = fmt.Errorf("%s: open artifact: %w", b.ID, err)
				return nil
			}
			defer f.Close()

			meta := cluster.BackupMeta{JobID: jobID, Filename: key}
			resp, err := cluster.PostStream(ctx, fmt.Sprintf("http://%s/replication/backup", b.Addr), meta, f)
			if err != nil {
				failures[i] = fmt.Errorf("%s: %w", b.ID, err)
				return nil
			}
			defer resp.Body.Close()
			return nil
		})
	}
	_ = g.Wait()

	succeeded := 0
	for _, err := range failures {
		if err == nil {
			succeeded++
		}
	}
	if succeeded == 0 {
		return fmt.Errorf("replication failed on all %d backups: %v", len(backups), failures)
	}
	return nil
}

// Restore pulls the artifact for jobID from the first reachable backup and
// writes it into the local store under key. The master calls it from
// Retrieve when a completed job's artifact is missing from its local store.
func (r *Replicator) Restore(ctx context.Context, jobID, key string) error {
	backups := r.backups()
	var lastErr error
	for _, b := range backups {
		resp, err := cluster.GetStream(ctx, fmt.Sprintf("http://%s/replication/restore?job_id=%s", b.Addr, jobID))
		if err != nil {
			lastErr = err
			continue
		}

		err = func() error {
			defer resp.Body.Close()
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			return r.store.Put(key, data)
		}()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no backups available to restore job %s", jobID)
	}
	return fmt.Errorf("restore job %s: %w", jobID, lastErr)
}
