package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"

	"pocketsync/internal/eventstream"
)

const (
	// ConnectType is the type of the frame that opens every realtime session.
	ConnectType = "PB_CONNECT"
	// Channel is the subscription every session registers.
	Channel = "messages"
)

var (
	ErrProtocol             = errors.New("realtime protocol error")
	ErrSubscriptionRejected = errors.New("invalid subscription confirmation")
)

// Subscriber registers a realtime session for a set of channels.
type Subscriber interface {
	Subscribe(ctx context.Context, clientID string, subscriptions []string) error
}

// Session identifies an established realtime connection.
type Session struct {
	ClientID string
}

// Handshake reads the connect frame and registers the session for Channel.
// Frames read afterwards are data frames.
func Handshake(ctx context.Context, frames *eventstream.Reader, sub Subscriber) (Session, error) {
	f, err := frames.Next()
	if errors.Is(err, io.EOF) {
		return Session{}, fmt.Errorf("%w: stream closed before %s", ErrProtocol, ConnectType)
	}
	if err != nil {
		return Session{}, err
	}
	if f.Type != ConnectType {
		return Session{}, fmt.Errorf("%w: first frame is %q, want %q", ErrProtocol, f.Type, ConnectType)
	}
	if err := sub.Subscribe(ctx, f.ID, []string{Channel}); err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrSubscriptionRejected, err)
	}
	return Session{ClientID: f.ID}, nil
}
