package journal

import (
	"context"
	"time"

	"pocketsync/internal/events"
	"pocketsync/internal/logging"
	"pocketsync/internal/model"
)

// Recorder journals every event published on a bus and keeps the message
// snapshot current. Write failures are logged and do not stop the stream.
type Recorder struct {
	db  *DB
	now func() time.Time
}

func NewRecorder(db *DB) *Recorder {
	return &Recorder{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Attach subscribes the recorder to bus until the returned func is called.
func (r *Recorder) Attach(ctx context.Context, bus *events.Bus) (detach func()) {
	return bus.Subscribe(func(ev events.Event) { r.record(ctx, ev) })
}

func (r *Recorder) record(ctx context.Context, ev events.Event) {
	if _, err := r.db.PutEvent(ctx, r.now(), ev); err != nil {
		logging.Error("journal_event_failed", map[string]any{"kind": string(ev.Kind()), "error": err.Error()})
		return
	}
	var msg model.Message
	switch v := ev.(type) {
	case events.Discovered:
		msg = v.Message
	case events.Reacted:
		msg = v.Message
	default:
		return
	}
	if err := r.db.SaveMessage(ctx, msg); err != nil {
		logging.Error("journal_snapshot_failed", map[string]any{"message_id": msg.ID, "error": err.Error()})
	}
}
