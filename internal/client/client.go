// Package client is the SDK entry point: it holds the signed-in user, the
// reconciliation engine and the backend API, and turns user intents into
// backend calls.
package client

import (
	"context"

	"pocketsync/internal/events"
	"pocketsync/internal/model"
	"pocketsync/internal/poll"
	"pocketsync/internal/pocket"
	"pocketsync/internal/realtime"
	"pocketsync/internal/reconcile"
)

type Option func(*Client)

// WithEngine uses e instead of a fresh engine, e.g. one seeded from the journal.
func WithEngine(e *reconcile.Engine) Option { return func(c *Client) { c.engine = e } }

// Client does not mutate the mirror itself: sent messages and reactions
// show up once a transport reports them.
type Client struct {
	Authorization model.Authorization

	api    pocket.API
	engine *reconcile.Engine
}

func New(auth model.Authorization, api pocket.API, opts ...Option) *Client {
	c := &Client{Authorization: auth, api: api}
	for _, o := range opts {
		o(c)
	}
	if c.engine == nil {
		c.engine = reconcile.New()
	}
	return c
}

func (c *Client) Engine() *reconcile.Engine { return c.engine }

// On subscribes h to every domain event.
func (c *Client) On(h events.Handler) (unsubscribe func()) { return c.engine.Bus().Subscribe(h) }

// Messages returns the mirrored messages, oldest first.
func (c *Client) Messages() []model.Message { return c.engine.Messages() }

// Message returns the mirrored state of id.
func (c *Client) Message(id string) (model.Message, bool) { return c.engine.Message(id) }

// Send posts text as the current user.
func (c *Client) Send(ctx context.Context, text string) error {
	return c.api.SendMessage(ctx, c.Authorization, text)
}

// Heart adds the current user to the message's hearts.
func (c *Client) Heart(ctx context.Context, msg model.Message) error {
	return c.react(ctx, msg, model.Hearts)
}

// Poop adds the current user to the message's poops.
func (c *Client) Poop(ctx context.Context, msg model.Message) error {
	return c.react(ctx, msg, model.Poops)
}

// react sends the whole resulting list, never a delta.
func (c *Client) react(ctx context.Context, msg model.Message, kind model.ReactionKind) error {
	list := msg.Reactions.With(kind, model.Ref(c.Authorization.ID))
	return c.api.UpdateReactions(ctx, c.Authorization, msg.ID, kind, list)
}

// ConnectRealtime runs the streaming transport until the stream ends.
func (c *Client) ConnectRealtime(ctx context.Context, opts ...realtime.Option) error {
	return realtime.New(c.api, opts...).Run(ctx, c.engine)
}

// ConnectPolling runs the polling transport until ctx ends.
func (c *Client) ConnectPolling(ctx context.Context, cfg poll.Config) error {
	return poll.New(c.api, cfg).Run(ctx, c.engine)
}
