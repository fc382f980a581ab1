package requestcache

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/query-cache/pkg/persist"
)

// Suspend saves the entries and statistics through the configured persister.
// Loading states and the revalidation registry are not saved. Without a
// persister Suspend does nothing.
func (c *Cache) Suspend(ctx context.Context) error {
	if c.persister == nil {
		return nil
	}

	snap := c.store.Snapshot()
	if err := c.persister.Save(ctx, snap); err != nil {
		return fmt.Errorf("suspend cache %q: %w", c.name, err)
	}

	c.logger.Info().
		Int("entries", len(snap.Entries)).
		Msg("Cache snapshot saved")
	return nil
}

// Resume restores the last saved snapshot and purges whatever expired while
// the process was down. It reports whether a snapshot was restored. When the
// snapshot is missing, corrupt or unreadable the store keeps its current
// contents, so a cache resumed at startup stays cold. It is not an error.
func (c *Cache) Resume(ctx context.Context) bool {
	if c.persister == nil {
		return false
	}

	snap, err := c.persister.Load(ctx)
	if err != nil {
		if errors.Is(err, persist.ErrNoSnapshot) {
			c.logger.Info().Msg("No cache snapshot found, starting cold")
		} else {
			c.logger.Warn().Err(err).Msg("Cache snapshot could not be loaded, starting cold")
		}
		return false
	}

	live := c.store.Restore(snap)
	c.logger.Info().
		Int("entries", len(snap.Entries)).
		Int("live", live).
		Time("taken_at", snap.TakenAt).
		Msg("Cache snapshot restored")
	return true
}
