package eventstream

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"testing/iotest"

	"pocketsync/internal/logging"
)

const connectFrame = "id:abc123\nevent:PB_CONNECT\ndata:{\"clientId\":\"abc123\"}"
const dataFrame = "id:abc123\nevent:messages\ndata:{\"action\":\"create\",\"record\":{\"id\":\"m1\"}}"

func collect(t *testing.T, r *Reader) []Frame {
	t.Helper()
	var out []Frame
	for {
		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		out = append(out, f)
	}
}

func quiet(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	t.Cleanup(func() { logging.SetOutput(os.Stdout) })
	return &buf
}

func TestControlAndDataFrames(t *testing.T) {
	in := connectFrame + "\n\n" + dataFrame + "\n\n"
	frames := collect(t, NewReader(strings.NewReader(in)))
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].ID != "abc123" || frames[0].Type != "PB_CONNECT" || string(frames[0].Data) != `{"clientId":"abc123"}` {
		t.Fatalf("bad control frame: %+v", frames[0])
	}
	var payload struct {
		Action string `json:"action"`
		Record struct {
			ID string `json:"id"`
		} `json:"record"`
	}
	if err := frames[1].Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frames[1].Type != "messages" || payload.Action != "create" || payload.Record.ID != "m1" {
		t.Fatalf("bad data frame: %+v %+v", frames[1], payload)
	}
}

func TestMalformedSegmentIsDropped(t *testing.T) {
	logs := quiet(t)
	in := "garbage-without-line-breaks\n\n" + dataFrame + "\n\n"
	frames := collect(t, NewReader(strings.NewReader(in)))
	if len(frames) != 1 || frames[0].Type != "messages" {
		t.Fatalf("expected only the data frame, got %+v", frames)
	}
	if !strings.Contains(logs.String(), "frame_dropped") {
		t.Fatalf("expected drop to be logged, got %q", logs.String())
	}
}

func TestMalformedOnlyYieldsNothing(t *testing.T) {
	quiet(t)
	frames := collect(t, NewReader(strings.NewReader("garbage-without-line-breaks")))
	if len(frames) != 0 {
		t.Fatalf("expected zero frames, got %+v", frames)
	}
}

func TestOversizedFrameIsDroppedAndStreamResyncs(t *testing.T) {
	logs := quiet(t)
	huge := "id:x\nevent:messages\ndata:\"" + strings.Repeat("a", maxFrameSize+1<<20) + "\"\n\n"
	in := huge + "id:y\nevent:messages\ndata:{}\n\n"
	frames := collect(t, NewReader(strings.NewReader(in)))
	if len(frames) != 1 || frames[0].ID != "y" {
		t.Fatalf("expected only frame y, got %d frames", len(frames))
	}
	if !strings.Contains(logs.String(), `"reason":"too_large"`) {
		t.Fatalf("expected too_large drop to be logged, got %q", logs.String())
	}
}

func TestInvalidJSONAndBadPrefixAreDropped(t *testing.T) {
	quiet(t)
	in := "id:1\nevent:messages\ndata:{not json\n\n" +
		"ident:1\nevent:messages\ndata:{}\n\n" +
		"id:1\nevent:messages\ndata:{}\nextra:line\n\n" +
		dataFrame
	frames := collect(t, NewReader(strings.NewReader(in)))
	if len(frames) != 1 || frames[0].Type != "messages" || frames[0].ID != "abc123" {
		t.Fatalf("expected only the trailing data frame, got %+v", frames)
	}
}

func TestHeartbeatsAreIgnored(t *testing.T) {
	in := "\n\n\n\n" + connectFrame + "\n\n\n\n\n" + dataFrame + "\n\n\n\n"
	frames := collect(t, NewReader(strings.NewReader(in)))
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d: %+v", len(frames), frames)
	}
}

func TestFramesSpanningReads(t *testing.T) {
	in := connectFrame + "\n\n" + dataFrame + "\n\n"
	frames := collect(t, NewReader(iotest.OneByteReader(strings.NewReader(in))))
	if len(frames) != 2 || frames[1].Type != "messages" {
		t.Fatalf("expected 2 frames across one-byte reads, got %+v", frames)
	}
}

func TestCRLFAndSpacedFields(t *testing.T) {
	in := "id: abc\r\nevent: PB_CONNECT\r\ndata: {}\r\n\r\n"
	frames := collect(t, NewReader(strings.NewReader(in)))
	if len(frames) != 1 || frames[0].ID != "abc" || frames[0].Type != "PB_CONNECT" {
		t.Fatalf("unexpected frames: %+v", frames)
	}
}

func TestAllStopsAtEOFAndSurfacesReadErrors(t *testing.T) {
	n := 0
	for _, err := range NewReader(strings.NewReader(connectFrame + "\n\n" + dataFrame)).All() {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		n++
	}
	if n != 2 {
		t.Fatalf("expected 2 frames, got %d", n)
	}

	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader(connectFrame+"\n\n"), iotest.ErrReader(boom))
	var errs []error
	for _, err := range NewReader(r).All() {
		errs = append(errs, err)
	}
	if len(errs) != 2 || errs[0] != nil || !errors.Is(errs[1], boom) {
		t.Fatalf("expected frame then read error, got %v", errs)
	}
}
