// Package realtime keeps the mirror in sync from the backend event stream.
package realtime

import (
	"context"
	"fmt"
	"io"

	"pocketsync/internal/eventstream"
	"pocketsync/internal/logging"
	"pocketsync/internal/metrics"
	"pocketsync/internal/model"
	"pocketsync/internal/pocket"
)

// Dialer opens the stream and registers sessions.
type Dialer interface {
	Subscriber
	OpenRealtime(ctx context.Context) (io.ReadCloser, error)
}

// Sink receives observed message states; reconcile.Engine implements it.
type Sink interface {
	Sync(msg model.Message, cause model.Cause)
	Ready()
}

type Option func(*Transport)

// WithSessionHook is called once the subscription is confirmed, before Ready.
func WithSessionHook(fn func(Session)) Option { return func(t *Transport) { t.onSession = fn } }

// Transport runs one realtime connection. Reconnecting is left to the caller.
type Transport struct {
	dialer    Dialer
	onSession func(Session)
}

func New(d Dialer, opts ...Option) *Transport {
	t := &Transport{dialer: d}
	for _, o := range opts {
		o(t)
	}
	return t
}

type dataFrame struct {
	Action string            `json:"action"`
	Record pocket.RawMessage `json:"record"`
}

// Run connects, completes the handshake, signals Ready and feeds every data
// frame to sink until the server closes the stream (nil) or ctx ends.
func (t *Transport) Run(ctx context.Context, sink Sink) error {
	body, err := t.dialer.OpenRealtime(ctx)
	if err != nil {
		return err
	}
	defer body.Close()

	frames := eventstream.NewReader(body)
	sess, err := Handshake(ctx, frames, t.dialer)
	if err != nil {
		logging.Error("realtime_handshake_failed", map[string]any{"error": err.Error()})
		return err
	}
	logging.Info("realtime_connected", map[string]any{"client_id": sess.ClientID})
	if t.onSession != nil {
		t.onSession(sess)
	}
	sink.Ready()

	for f, err := range frames.All() {
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("realtime stream: %w", err)
		}
		dispatch(f, sink)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	logging.Info("realtime_closed", map[string]any{"client_id": sess.ClientID})
	return nil
}

func dispatch(f eventstream.Frame, sink Sink) {
	var payload dataFrame
	if err := f.Decode(&payload); err != nil {
		drop(f, "payload", err)
		return
	}
	cause, err := model.ParseCause(payload.Action)
	if err != nil {
		drop(f, "action", err)
		return
	}
	msg, err := pocket.NormalizeMessage(payload.Record)
	if err != nil {
		drop(f, "record", err)
		return
	}
	sink.Sync(msg, cause)
}

func drop(f eventstream.Frame, reason string, err error) {
	metrics.IncFrameDropped(reason)
	logging.Warn("frame_dropped", map[string]any{"reason": reason, "error": err.Error(), "type": f.Type, "id": f.ID})
}
