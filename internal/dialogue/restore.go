package dialogue

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Restore rebuilds the session store from the open records after a
// restart. Records that never got their voice file attached are deleted.
// When a slot holds several records only the newest is resumed; the
// others are returned and stay in the store.
func (c *Controller) Restore(ctx context.Context) (resumed int, orphans []string, err error) {
	recs, err := c.store.ListOpen(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("dialogue: restore: %w", err)
	}

	kept := recs[:0]
	for _, rec := range recs {
		if rec.FilePath != "" {
			kept = append(kept, rec)
			continue
		}
		if _, err := c.store.Delete(ctx, rec.Identifier); err != nil {
			c.log.Warn("dialogue: restore: drop incomplete record",
				zap.String("identifier", rec.Identifier), zap.Error(err))
			continue
		}
		c.log.Info("dialogue: restore: dropped incomplete record", zap.String("identifier", rec.Identifier))
	}

	for _, o := range c.sessions.Rebuild(kept) {
		orphans = append(orphans, o.Identifier)
		c.log.Warn("dialogue: restore: record shadowed by a newer one in its slot",
			zap.String("identifier", o.Identifier), zap.String("channel", o.ChannelID), zap.String("thread", o.ThreadID))
	}
	return c.sessions.Len(), orphans, nil
}
