// Package poll keeps the mirror in sync by re-fetching the latest page of
// messages on a fixed interval.
package poll

import (
	"context"
	"time"

	"pocketsync/internal/logging"
	"pocketsync/internal/metrics"
	"pocketsync/internal/model"
)

// Pager fetches one page of messages, newest first.
type Pager interface {
	RetrieveMessages(ctx context.Context, page, perPage int) (model.Page[model.Message], error)
}

// Sink receives observed message states; reconcile.Engine implements it.
type Sink interface {
	Sync(msg model.Message, cause model.Cause)
	Ready()
}

type Config struct {
	Interval time.Duration
	Length   int
}

func DefaultConfig() Config { return Config{Interval: 10 * time.Second, Length: 10} }

// Transport polls page 1 of Length messages every Interval.
type Transport struct {
	pager     Pager
	cfg       Config
	newTicker func(time.Duration) (<-chan time.Time, func())
}

func New(p Pager, cfg Config) *Transport {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Length == 0 {
		cfg.Length = def.Length
	}
	return &Transport{pager: p, cfg: cfg, newTicker: stdTicker}
}

func stdTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// RunOnce fetches the page and feeds every message to sink with cause.
func (t *Transport) RunOnce(ctx context.Context, sink Sink, cause model.Cause) error {
	start := time.Now()
	metrics.PollRuns.Inc()
	page, err := t.pager.RetrieveMessages(ctx, 1, t.cfg.Length)
	if err != nil {
		metrics.PollErrors.Inc()
		return err
	}
	for _, m := range page.Items {
		sink.Sync(m, cause)
	}
	metrics.ObservePollDuration(start)
	logging.Debug("poll_once", map[string]any{"cause": string(cause), "items": len(page.Items)})
	return nil
}

// Run seeds the mirror with cause update, signals Ready, then feeds every
// later fetch with cause create whether or not the ids are already known.
// A failed seed is returned; failed ticks are logged and polling goes on.
func (t *Transport) Run(ctx context.Context, sink Sink) error {
	if err := t.RunOnce(ctx, sink, model.CauseUpdate); err != nil {
		logging.Error("poll_seed_error", map[string]any{"error": err.Error()})
		return err
	}
	sink.Ready()
	tick, stop := t.newTicker(t.cfg.Interval)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			logging.Info("poll_loop_stop", nil)
			return ctx.Err()
		case <-tick:
			if err := t.RunOnce(ctx, sink, model.CauseCreate); err != nil {
				logging.Error("poll_once_error", map[string]any{"error": err.Error()})
			}
		}
	}
}
