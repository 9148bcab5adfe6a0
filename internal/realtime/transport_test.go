package realtime

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"strings"
	"testing"

	"pocketsync/internal/events"
	"pocketsync/internal/logging"
	"pocketsync/internal/model"
	"pocketsync/internal/pocket"
	"pocketsync/internal/reconcile"
)

const connect = "id:sess1\nevent:PB_CONNECT\ndata:{\"clientId\":\"sess1\"}\n\n"

func data(action, record string) string {
	return "id:sess1\nevent:messages\ndata:{\"action\":\"" + action + "\",\"record\":" + record + "}\n\n"
}

const recM1 = `{"id":"m1","created":"2022-12-01 10:00:00.000Z","updated":"2022-12-01 10:00:00.000Z","text":"hi","user":"u1","hearts":[],"poops":[]}`
const recM1Hearted = `{"id":"m1","created":"2022-12-01 10:00:00.000Z","updated":"2022-12-01 10:01:00.000Z","text":"hi","user":"u1","hearts":["u2"],"poops":[]}`

type fakeDialer struct {
	stream     string
	subErr     error
	subscribed []string
	clientID   string
}

func (f *fakeDialer) OpenRealtime(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.stream)), nil
}

func (f *fakeDialer) Subscribe(ctx context.Context, clientID string, subs []string) error {
	f.clientID = clientID
	f.subscribed = subs
	return f.subErr
}

func kinds(e *reconcile.Engine) *[]events.Kind {
	var got []events.Kind
	e.Bus().Subscribe(func(ev events.Event) { got = append(got, ev.Kind()) })
	return &got
}

func quiet(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	t.Cleanup(func() { logging.SetOutput(os.Stdout) })
	return &buf
}

func TestRunHandshakeThenData(t *testing.T) {
	quiet(t)
	d := &fakeDialer{stream: connect + data("create", recM1) + data("update", recM1Hearted)}
	e := reconcile.New()
	got := kinds(e)
	var sess Session

	err := New(d, WithSessionHook(func(s Session) { sess = s })).Run(context.Background(), e)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if d.clientID != "sess1" || !reflect.DeepEqual(d.subscribed, []string{"messages"}) {
		t.Fatalf("unexpected subscription %q %v", d.clientID, d.subscribed)
	}
	if sess.ClientID != "sess1" {
		t.Fatalf("session hook not called: %+v", sess)
	}
	want := []events.Kind{events.KindReady, events.KindDiscovered, events.KindCreated, events.KindReacted}
	if !reflect.DeepEqual(*got, want) {
		t.Fatalf("kinds = %v, want %v", *got, want)
	}
	m, ok := e.Message("m1")
	if !ok || len(m.Reactions.Hearts) != 1 || m.Reactions.Hearts[0].ID != "u2" {
		t.Fatalf("mirror not updated: %+v", m)
	}
}

func TestSubscriptionRejectedIsFatal(t *testing.T) {
	quiet(t)
	d := &fakeDialer{
		stream: connect + data("create", recM1),
		subErr: &pocket.RequestError{Op: "subscribe", StatusCode: http.StatusOK, Status: "200 OK"},
	}
	e := reconcile.New()
	got := kinds(e)

	err := New(d).Run(context.Background(), e)
	if !errors.Is(err, ErrSubscriptionRejected) {
		t.Fatalf("expected ErrSubscriptionRejected, got %v", err)
	}
	if pocket.StatusCode(err) != http.StatusOK {
		t.Fatalf("expected wrapped request error, got %v", err)
	}
	if len(*got) != 0 {
		t.Fatalf("expected no events, got %v", *got)
	}
}

func TestFirstFrameMustBeConnect(t *testing.T) {
	quiet(t)
	d := &fakeDialer{stream: data("create", recM1)}
	err := New(d).Run(context.Background(), reconcile.New())
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
	if d.clientID != "" {
		t.Fatalf("must not subscribe without a connect frame")
	}

	d = &fakeDialer{stream: ""}
	if err := New(d).Run(context.Background(), reconcile.New()); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol on empty stream, got %v", err)
	}
}

func TestUndecodableDataFramesAreSkipped(t *testing.T) {
	logs := quiet(t)
	d := &fakeDialer{stream: connect +
		"id:sess1\nevent:messages\ndata:[1,2]\n\n" +
		data("delete", recM1) +
		data("create", `{"id":"bad","created":"tomorrow"}`) +
		"not a frame\n\n" +
		data("create", recM1)}
	e := reconcile.New()
	got := kinds(e)

	if err := New(d).Run(context.Background(), e); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []events.Kind{events.KindReady, events.KindDiscovered, events.KindCreated}
	if !reflect.DeepEqual(*got, want) {
		t.Fatalf("kinds = %v, want %v", *got, want)
	}
	if n := strings.Count(logs.String(), "frame_dropped"); n != 4 {
		t.Fatalf("expected 4 dropped frames logged, got %d", n)
	}
}

func TestRunAgainstHTTPBackend(t *testing.T) {
	quiet(t)
	subscribed := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			fl := w.(http.Flusher)
			_, _ = io.WriteString(w, connect)
			fl.Flush()
			select {
			case <-subscribed:
			case <-r.Context().Done():
				return
			}
			_, _ = io.WriteString(w, data("update", recM1Hearted))
			fl.Flush()
		case http.MethodPost:
			w.WriteHeader(http.StatusNoContent)
			close(subscribed)
		}
	}))
	defer ts.Close()

	api := pocket.NewHTTPClient(ts.URL, pocket.WithHTTPClient(ts.Client()), pocket.WithRateLimit(0, 0))
	e := reconcile.New()
	var reacted []model.Message
	e.Bus().OnReacted(func(m model.Message, added, removed model.Reactions) { reacted = append(reacted, m) })
	ready := 0
	e.Bus().OnReady(func() { ready++ })

	if err := New(api).Run(context.Background(), e); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ready != 1 || len(reacted) != 1 || reacted[0].ID != "m1" {
		t.Fatalf("ready=%d reacted=%+v", ready, reacted)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	quiet(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = io.WriteString(w, connect)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer ts.Close()

	api := pocket.NewHTTPClient(ts.URL, pocket.WithHTTPClient(ts.Client()), pocket.WithRateLimit(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	e := reconcile.New()
	e.Bus().OnReady(cancel)

	if err := New(api).Run(ctx, e); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
