package jobs

import (
	"context"
	"fmt"
	"time"

	"pocketsync/internal/logging"
	"pocketsync/internal/model"
	"pocketsync/internal/store/journal"
)

const backfillCursorKey = "backfill:newest_created"

// Pager fetches message pages, newest first.
type Pager interface {
	RetrieveMessages(ctx context.Context, page, perPage int) (model.Page[model.Message], error)
}

// Backfill pages through message history into the journal snapshot,
// stopping at the newest message saved by a previous run or after
// maxPages. It returns how many messages were saved.
//
// The cursor only moves forward: pages beyond maxPages on the first run
// are not fetched by later runs.
func Backfill(ctx context.Context, db *journal.DB, p Pager, perPage, maxPages int) (int, error) {
	var since time.Time
	v, err := db.LoadCursor(ctx, backfillCursorKey)
	if err != nil {
		return 0, fmt.Errorf("load backfill cursor: %w", err)
	}
	if v != "" {
		if since, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return 0, fmt.Errorf("parse backfill cursor %q: %w", v, err)
		}
	}
	newest := since
	saved := 0
	for page := 1; page <= maxPages; page++ {
		pg, err := p.RetrieveMessages(ctx, page, perPage)
		if err != nil {
			return saved, err
		}
		caughtUp := false
		for _, m := range pg.Items {
			if !since.IsZero() && !m.Timestamps.Created.After(since) {
				caughtUp = true
				break
			}
			if err := db.SaveMessage(ctx, m); err != nil {
				return saved, err
			}
			saved++
			if m.Timestamps.Created.After(newest) {
				newest = m.Timestamps.Created
			}
		}
		if caughtUp || len(pg.Items) == 0 || page >= pg.TotalPages {
			break
		}
	}
	if newest.After(since) {
		if err := db.SaveCursor(ctx, backfillCursorKey, newest.Format(time.RFC3339Nano)); err != nil {
			return saved, err
		}
	}
	logging.Info("backfill_done", map[string]any{"saved": saved, "since": since, "newest": newest})
	return saved, nil
}
