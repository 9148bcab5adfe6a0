package cmdlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"pocketsync/internal/logging"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	t.Cleanup(func() { logging.SetOutput(os.Stdout) })
	return &buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var m map[string]any
	if err := json.Unmarshal(lines[len(lines)-1], &m); err != nil {
		t.Fatalf("bad log line %q: %v", lines[len(lines)-1], err)
	}
	return m
}

func TestRunLogsFailure(t *testing.T) {
	buf := capture(t)
	boom := errors.New("boom")
	if err := Run("send", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	line := lastLine(t, buf)
	fields, _ := line["fields"].(map[string]any)
	if line["msg"] != "command_failed" || fields["command"] != "send" || fields["error"] != "boom" {
		t.Fatalf("unexpected log line %v", line)
	}
}

func TestRunContextTreatsCancelAsStop(t *testing.T) {
	buf := capture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RunContext(ctx, "watch", func(ctx context.Context) error { return ctx.Err() })
	if err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
	if line := lastLine(t, buf); line["msg"] != "command_done" {
		t.Fatalf("unexpected log line %v", line)
	}

	err = RunContext(context.Background(), "watch", func(context.Context) error { return context.Canceled })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cancellation from elsewhere must surface, got %v", err)
	}
}
