package poll

import (
	"bytes"
	"context"
	"errors"
	"os"
	"reflect"
	"testing"
	"time"

	"pocketsync/internal/events"
	"pocketsync/internal/logging"
	"pocketsync/internal/model"
	"pocketsync/internal/reconcile"
)

type fakePager struct {
	items   []model.Message
	errs    []error
	perPage []int
}

func (f *fakePager) RetrieveMessages(ctx context.Context, page, perPage int) (model.Page[model.Message], error) {
	f.perPage = append(f.perPage, perPage)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return model.Page[model.Message]{}, err
		}
	}
	return model.Page[model.Message]{Page: page, PerPage: perPage, Items: f.items}, nil
}

type call struct {
	id    string
	cause model.Cause
}

// recordingSink records sync calls and hands control back to the test after
// every batch of n calls.
type recordingSink struct {
	calls []call
	ready int
	n     int
	batch chan struct{}
}

func (s *recordingSink) Sync(m model.Message, c model.Cause) {
	s.calls = append(s.calls, call{m.ID, c})
	if len(s.calls)%s.n == 0 {
		s.batch <- struct{}{}
	}
}

func (s *recordingSink) Ready() { s.ready++ }

func stable() []model.Message {
	return []model.Message{
		{Entity: model.Entity{ID: "m3"}},
		{Entity: model.Entity{ID: "m2"}},
		{Entity: model.Entity{ID: "m1"}},
	}
}

func manualTicker(tr *Transport) chan time.Time {
	ch := make(chan time.Time)
	tr.newTicker = func(time.Duration) (<-chan time.Time, func()) { return ch, func() {} }
	return ch
}

func TestSeedThenTicksUseCreate(t *testing.T) {
	pager := &fakePager{items: stable()}
	tr := New(pager, Config{Interval: time.Hour, Length: 3})
	tick := manualTicker(tr)
	sink := &recordingSink{n: 3, batch: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx, sink) }()

	<-sink.batch // seed
	tick <- time.Now()
	<-sink.batch // first tick
	tick <- time.Now()
	<-sink.batch // second tick
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if sink.ready != 1 {
		t.Fatalf("expected one ready, got %d", sink.ready)
	}
	want := []call{
		{"m3", model.CauseUpdate}, {"m2", model.CauseUpdate}, {"m1", model.CauseUpdate},
		{"m3", model.CauseCreate}, {"m2", model.CauseCreate}, {"m1", model.CauseCreate},
		{"m3", model.CauseCreate}, {"m2", model.CauseCreate}, {"m1", model.CauseCreate},
	}
	if !reflect.DeepEqual(sink.calls, want) {
		t.Fatalf("calls = %v, want %v", sink.calls, want)
	}
	for _, n := range pager.perPage {
		if n != 3 {
			t.Fatalf("expected page length 3, got %v", pager.perPage)
		}
	}
}

func TestSeedFailureIsReturned(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	defer logging.SetOutput(os.Stdout)

	boom := errors.New("backend down")
	tr := New(&fakePager{errs: []error{boom}}, DefaultConfig())
	sink := &recordingSink{n: 1, batch: make(chan struct{}, 1)}
	if err := tr.Run(context.Background(), sink); !errors.Is(err, boom) {
		t.Fatalf("expected seed error, got %v", err)
	}
	if sink.ready != 0 {
		t.Fatalf("ready must not fire after a failed seed")
	}
}

func TestTickFailureKeepsPolling(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	defer logging.SetOutput(os.Stdout)

	pager := &fakePager{items: stable(), errs: []error{nil, errors.New("flaky")}}
	tr := New(pager, DefaultConfig())
	tick := manualTicker(tr)
	sink := &recordingSink{n: 3, batch: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx, sink) }()

	<-sink.batch
	tick <- time.Now() // fails
	tick <- time.Now()
	<-sink.batch
	cancel()
	<-done

	if len(sink.calls) != 6 || sink.calls[3].cause != model.CauseCreate {
		t.Fatalf("unexpected calls %v", sink.calls)
	}
	if !bytes.Contains(buf.Bytes(), []byte("poll_once_error")) {
		t.Fatalf("expected tick error to be logged")
	}
}

// With the engine attached, a stable page never yields Reacted after the
// seed; created events depend on the mirror policy.
func TestPollingQuirkThroughEngine(t *testing.T) {
	for _, tc := range []struct {
		name        string
		policy      reconcile.MirrorPolicy
		wantCreated int
	}{
		{"record observed", reconcile.RecordObserved, 0},
		{"read only", reconcile.ReadOnly, 6},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := reconcile.New(reconcile.WithPolicy(tc.policy))
			counts := map[events.Kind]int{}
			e.Bus().Subscribe(func(ev events.Event) { counts[ev.Kind()]++ })
			tr := New(&fakePager{items: stable()}, DefaultConfig())

			ctx := context.Background()
			if err := tr.RunOnce(ctx, e, model.CauseUpdate); err != nil {
				t.Fatal(err)
			}
			reactedAfterSeed := counts[events.KindReacted]
			for i := 0; i < 2; i++ {
				if err := tr.RunOnce(ctx, e, model.CauseCreate); err != nil {
					t.Fatal(err)
				}
			}
			if reactedAfterSeed != 3 || counts[events.KindReacted] != 3 {
				t.Fatalf("reacted: seed=%d total=%d", reactedAfterSeed, counts[events.KindReacted])
			}
			if counts[events.KindCreated] != tc.wantCreated {
				t.Fatalf("created = %d, want %d", counts[events.KindCreated], tc.wantCreated)
			}
		})
	}
}
