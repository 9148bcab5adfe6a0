// Package engage enforces hourly and daily budgets on outgoing actions.
package engage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pocketsync/internal/config"
	"pocketsync/internal/store/journal"
)

var ErrBudgetExceeded = errors.New("engagement budget exceeded")

// Allow reports whether another action of typ fits the configured budget.
func Allow(ctx context.Context, db *journal.DB, cfg config.EngagementConfig, typ string, now time.Time) (bool, error) {
	b, ok := cfg.PerType[typ]
	if !ok {
		return true, nil
	}
	now = now.UTC()
	startHour := now.Truncate(time.Hour)
	startDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if b.MaxPerHour > 0 {
		n, err := db.CountActionsWithin(ctx, startHour, startHour.Add(time.Hour), typ)
		if err != nil {
			return false, err
		}
		if n >= b.MaxPerHour {
			return false, nil
		}
	}
	if b.MaxPerDay > 0 {
		n, err := db.CountActionsWithin(ctx, startDay, startDay.Add(24*time.Hour), typ)
		if err != nil {
			return false, err
		}
		if n >= b.MaxPerDay {
			return false, nil
		}
	}
	return true, nil
}

// Guard runs f only when typ is within budget and records it on success.
func Guard(ctx context.Context, db *journal.DB, cfg config.EngagementConfig, typ string, now time.Time, f func() error) error {
	ok, err := Allow(ctx, db, cfg, typ, now)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w for %s", ErrBudgetExceeded, typ)
	}
	if err := f(); err != nil {
		return err
	}
	return db.PutAction(ctx, now, typ)
}
