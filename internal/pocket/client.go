package pocket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"pocketsync/internal/config"
	"pocketsync/internal/metrics"
	"pocketsync/internal/model"
)

// MutationTimeout bounds send and reaction requests.
const MutationTimeout = 60 * time.Second

// API defines the backend calls the SDK uses.
type API interface {
	Authenticate(ctx context.Context, identity, password string) (model.User, model.Authorization, error)
	Register(ctx context.Context, username, password string) (model.User, error)
	RetrieveMessage(ctx context.Context, id string) (model.Message, error)
	RetrieveMessages(ctx context.Context, page, perPage int) (model.Page[model.Message], error)
	RetrieveUser(ctx context.Context, id string) (model.User, error)
	RetrieveUsers(ctx context.Context, page, perPage int) (model.Page[model.User], error)
	SendMessage(ctx context.Context, auth model.Authorization, text string) error
	UpdateReactions(ctx context.Context, auth model.Authorization, messageID string, kind model.ReactionKind, refs []model.UserRef) error
	OpenRealtime(ctx context.Context) (io.ReadCloser, error)
	Subscribe(ctx context.Context, clientID string, subscriptions []string) error
}

// HTTPClient talks to a PocketBase-style REST API.
type HTTPClient struct {
	baseURL        string
	site           string
	userAgent      string
	httpClient     *http.Client
	limiter        *rate.Limiter
	requestTimeout time.Duration
}

type Option func(*HTTPClient)

// WithHTTPClient replaces the transport. The client must not set a global
// Timeout or the realtime stream would be cut.
func WithHTTPClient(hc *http.Client) Option { return func(c *HTTPClient) { c.httpClient = hc } }
func WithSite(site string) Option          { return func(c *HTTPClient) { c.site = site } }
func WithUserAgent(ua string) Option       { return func(c *HTTPClient) { c.userAgent = ua } }
func WithRequestTimeout(d time.Duration) Option {
	return func(c *HTTPClient) { c.requestTimeout = d }
}
func WithRateLimit(rps float64, burst int) Option {
	return func(c *HTTPClient) { c.limiter = newLimiter(rps, burst) }
}

func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		userAgent:      "pocketsync/0.1 (Go)",
		httpClient:     &http.Client{},
		limiter:        newLimiter(2, 10),
		requestTimeout: 15 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewFromConfig builds a client from the endpoint, transport and rate limit sections.
func NewFromConfig(cfg config.Config) *HTTPClient {
	return NewHTTPClient(cfg.Endpoint.BaseURL,
		WithSite(cfg.Endpoint.Site),
		WithUserAgent(cfg.Endpoint.UserAgent),
		WithRequestTimeout(cfg.Transport.RequestTimeout),
		WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	)
}

func (c *HTTPClient) headers(req *http.Request, cl call) {
	req.Header.Set("Content-Type", "application/json")
	if cl.accept != "" {
		req.Header.Set("Accept", cl.accept)
	} else {
		req.Header.Set("Accept", "application/json")
	}
	if c.site != "" {
		req.Header.Set("Origin", c.site)
		req.Header.Set("Referer", c.site)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if cl.auth != nil && cl.auth.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cl.auth.Token)
	}
}

type call struct {
	op     string
	method string
	path   string
	body   any
	auth   *model.Authorization
	want   int
	accept string
}

// send issues the request and returns the response only when its status
// matches cl.want (any 2xx when zero). The caller closes the body.
func (c *HTTPClient) send(ctx context.Context, cl call) (*http.Response, error) {
	var body io.Reader
	if cl.body != nil {
		b, err := json.Marshal(cl.body)
		if err != nil {
			return nil, fmt.Errorf("unable to %s: encode body: %w", opName(cl.op), err)
		}
		body = bytes.NewReader(b)
	}
	u := c.baseURL + cl.path
	req, err := http.NewRequestWithContext(ctx, cl.method, u, body)
	if err != nil {
		return nil, err
	}
	c.headers(req, cl)
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	metrics.IncAPIRequest(cl.op)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.IncAPIError(cl.op)
		return nil, fmt.Errorf("unable to %s: %w", opName(cl.op), err)
	}
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if cl.want != 0 {
		ok = resp.StatusCode == cl.want
	}
	if !ok {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		metrics.IncAPIError(cl.op)
		return nil, &RequestError{
			Op:         cl.op,
			Method:     cl.method,
			URL:        u,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	return resp, nil
}

// do runs a bounded request and decodes the JSON response into out when non-nil.
func (c *HTTPClient) do(ctx context.Context, timeout time.Duration, cl call, out any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	resp, err := c.send(ctx, cl)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("unable to %s: decode response: %w", opName(cl.op), err)
	}
	return nil
}

func opName(op string) string { return strings.ReplaceAll(op, "_", " ") }

// Authenticate signs in with a username or email and returns the user and its token.
func (c *HTTPClient) Authenticate(ctx context.Context, identity, password string) (model.User, model.Authorization, error) {
	var raw struct {
		Record rawUser `json:"record"`
		Token  string  `json:"token"`
	}
	err := c.do(ctx, c.requestTimeout, call{
		op: "authenticate", method: http.MethodPost, path: "/collections/users/auth-with-password",
		body: map[string]string{"identity": identity, "password": password},
	}, &raw)
	if err != nil {
		return model.User{}, model.Authorization{}, err
	}
	u, err := normalizeUser(raw.Record)
	if err != nil {
		return model.User{}, model.Authorization{}, err
	}
	return u, model.Authorization{ID: u.ID, Token: raw.Token}, nil
}

// Register creates a new user account.
func (c *HTTPClient) Register(ctx context.Context, username, password string) (model.User, error) {
	var raw rawUser
	err := c.do(ctx, c.requestTimeout, call{
		op: "register", method: http.MethodPost, path: "/collections/users/records",
		body: map[string]string{"username": username, "password": password, "passwordConfirm": password, "name": username},
	}, &raw)
	if err != nil {
		return model.User{}, err
	}
	return normalizeUser(raw)
}

func (c *HTTPClient) RetrieveMessage(ctx context.Context, id string) (model.Message, error) {
	var raw RawMessage
	err := c.do(ctx, c.requestTimeout, call{
		op: "retrieve_message", method: http.MethodGet,
		path: "/collections/messages/records/" + url.PathEscape(id) + "?expand=user",
	}, &raw)
	if err != nil {
		return model.Message{}, err
	}
	return NormalizeMessage(raw)
}

// RetrieveMessages returns a page of messages, newest first, with authors expanded.
func (c *HTTPClient) RetrieveMessages(ctx context.Context, page, perPage int) (model.Page[model.Message], error) {
	if err := checkPage(page, perPage); err != nil {
		return model.Page[model.Message]{}, err
	}
	var raw rawPage[RawMessage]
	err := c.do(ctx, c.requestTimeout, call{
		op: "retrieve_messages", method: http.MethodGet,
		path: fmt.Sprintf("/collections/messages/records?page=%d&perPage=%d&sort=-created&expand=user", page, perPage),
	}, &raw)
	if err != nil {
		return model.Page[model.Message]{}, err
	}
	return normalizePage(raw, NormalizeMessage)
}

func (c *HTTPClient) RetrieveUser(ctx context.Context, id string) (model.User, error) {
	var raw rawUser
	err := c.do(ctx, c.requestTimeout, call{
		op: "retrieve_user", method: http.MethodGet,
		path: "/collections/users/records/" + url.PathEscape(id),
	}, &raw)
	if err != nil {
		return model.User{}, err
	}
	return normalizeUser(raw)
}

func (c *HTTPClient) RetrieveUsers(ctx context.Context, page, perPage int) (model.Page[model.User], error) {
	if err := checkPage(page, perPage); err != nil {
		return model.Page[model.User]{}, err
	}
	var raw rawPage[rawUser]
	err := c.do(ctx, c.requestTimeout, call{
		op: "retrieve_users", method: http.MethodGet,
		path: fmt.Sprintf("/collections/users/records?page=%d&perPage=%d", page, perPage),
	}, &raw)
	if err != nil {
		return model.Page[model.User]{}, err
	}
	return normalizePage(raw, normalizeUser)
}

// SendMessage posts text as auth's user. The new message is not returned;
// it reaches the mirror through a transport.
func (c *HTTPClient) SendMessage(ctx context.Context, auth model.Authorization, text string) error {
	return c.do(ctx, MutationTimeout, call{
		op: "send_message", method: http.MethodPost, path: "/collections/messages/records",
		body: map[string]string{"user": auth.ID, "text": text}, auth: &auth,
	}, nil)
}

// UpdateReactions replaces the kind list of a message with refs.
func (c *HTTPClient) UpdateReactions(ctx context.Context, auth model.Authorization, messageID string, kind model.ReactionKind, refs []model.UserRef) error {
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ID)
	}
	return c.do(ctx, MutationTimeout, call{
		op: "update_reactions", method: http.MethodPatch,
		path: "/collections/messages/records/" + url.PathEscape(messageID),
		body: map[string][]string{string(kind): ids}, auth: &auth,
	}, nil)
}

// OpenRealtime opens the event stream. It has no timeout; it ends when the
// server closes it or ctx is cancelled.
func (c *HTTPClient) OpenRealtime(ctx context.Context) (io.ReadCloser, error) {
	resp, err := c.send(ctx, call{
		op: "open_realtime", method: http.MethodGet, path: "/realtime",
		want: http.StatusOK, accept: "text/event-stream",
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Subscribe registers interest for a realtime session. Only 204 counts as success.
func (c *HTTPClient) Subscribe(ctx context.Context, clientID string, subscriptions []string) error {
	return c.do(ctx, c.requestTimeout, call{
		op: "subscribe", method: http.MethodPost, path: "/realtime",
		body: map[string]any{"clientId": clientID, "subscriptions": subscriptions},
		want: http.StatusNoContent,
	}, nil)
}
