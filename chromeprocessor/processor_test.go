package chromeprocessor

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func newProvider(p sdktrace.SpanProcessor) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSpanProcessor(p),
	)
}

func decode(t *testing.T, b []byte) []record {
	t.Helper()
	var records []record
	require.NoError(t, json.Unmarshal(b, &records), "trace output:\n%s", b)
	return records
}

func TestProcessorWritesSpansAndEvents(t *testing.T) {
	var buf bytes.Buffer
	p, guard := New().Writer(&buf).Build()
	tp := newProvider(p)
	tracer := tp.Tracer("test")

	ctx, parent := tracer.Start(context.Background(), "parent")
	_, child := tracer.Start(ctx, "child")
	child.AddEvent("tick")
	child.End()
	parent.End()

	require.NoError(t, tp.Shutdown(context.Background()))
	require.NoError(t, guard.Close())

	records := decode(t, buf.Bytes())
	require.Len(t, records, 3)

	assert.Equal(t, "child", records[0].Name)
	assert.Equal(t, "X", records[0].Ph)
	assert.Equal(t, "test", records[0].Cat)
	require.NotNil(t, records[0].Dur)

	assert.Equal(t, "tick", records[1].Name)
	assert.Equal(t, "i", records[1].Ph)
	assert.Equal(t, "t", records[1].S)
	assert.Nil(t, records[1].Dur)

	assert.Equal(t, "parent", records[2].Name)
	assert.Equal(t, records[0].Tid, records[1].Tid, "events share the span's track")
	assert.Equal(t, records[0].Tid, records[2].Tid, "spans of one trace share a track")
	assert.GreaterOrEqual(t, *records[2].Dur, *records[0].Dur)
}

func TestProcessorSeparateTracksPerTrace(t *testing.T) {
	var buf bytes.Buffer
	p, guard := New().Writer(&buf).Build()
	tp := newProvider(p)
	tracer := tp.Tracer("test")

	_, a := tracer.Start(context.Background(), "a")
	_, b := tracer.Start(context.Background(), "b")
	a.End()
	b.End()
	require.NoError(t, guard.Close())

	records := decode(t, buf.Bytes())
	require.Len(t, records, 2)
	assert.NotEqual(t, records[0].Tid, records[1].Tid)
}

func TestProcessorNameFunc(t *testing.T) {
	var buf bytes.Buffer
	name := func(e EventOrSpan) string {
		switch v := e.(type) {
		case Span:
			return "span:" + v.Name()
		case Event:
			return "event:" + v.Name
		}
		return ""
	}
	p, guard := New().Writer(&buf).NameFunc(name).Build()
	tracer := newProvider(p).Tracer("test")

	_, span := tracer.Start(context.Background(), "work")
	span.AddEvent("step")
	span.End()
	require.NoError(t, guard.Close())

	records := decode(t, buf.Bytes())
	require.Len(t, records, 2)
	assert.Equal(t, "span:work", records[0].Name)
	assert.Equal(t, "event:step", records[1].Name)
}

func TestProcessorIncludeArgs(t *testing.T) {
	for _, include := range []bool{false, true} {
		var buf bytes.Buffer
		p, guard := New().Writer(&buf).IncludeArgs(include).Build()
		tracer := newProvider(p).Tracer("test")

		_, span := tracer.Start(context.Background(), "work",
			trace.WithAttributes(attribute.Int("len", 42)))
		span.End()
		require.NoError(t, guard.Close())

		records := decode(t, buf.Bytes())
		require.Len(t, records, 1)
		if include {
			assert.Equal(t, map[string]interface{}{"len": float64(42)}, records[0].Args)
		} else {
			assert.Nil(t, records[0].Args)
		}
	}
}

func TestFlushGuard(t *testing.T) {
	var buf bytes.Buffer
	p, guard := New().Writer(&buf).Build()
	tracer := newProvider(p).Tracer("test")

	_, span := tracer.Start(context.Background(), "before")
	span.End()
	guard.Flush()
	assert.Contains(t, buf.String(), `"name":"before"`, "flush writes queued entries")
	assert.NotContains(t, buf.String(), "]", "array stays open until close")

	require.NoError(t, guard.Close())
	require.NoError(t, guard.Close(), "close is idempotent")
	guard.Flush()

	_, late := tracer.Start(context.Background(), "after")
	late.End()

	records := decode(t, buf.Bytes())
	require.Len(t, records, 1, "entries after close are dropped")
	assert.Equal(t, "before", records[0].Name)
}

// slowWriter stalls every write so the record queue backs up.
type slowWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *slowWriter) Write(b []byte) (int, error) {
	time.Sleep(time.Millisecond)
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(b)
}

func TestFlushGuardCloseDuringFlush(t *testing.T) {
	out := &slowWriter{}
	p, guard := New().Writer(out).Build()
	tracer := newProvider(p).Tracer("test")

	const spans = 1500
	for i := 0; i < spans; i++ {
		_, span := tracer.Start(context.Background(), "work")
		span.End()
	}

	flushed := make(chan struct{})
	go func() {
		defer close(flushed)
		guard.Flush()
	}()
	time.Sleep(5 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- guard.Close() }()

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Close did not return while a flush was in progress")
	}
	<-flushed

	out.mu.Lock()
	defer out.mu.Unlock()
	records := decode(t, out.buf.Bytes())
	assert.Len(t, records, spans)
	for _, r := range records {
		require.Equal(t, "work", r.Name)
	}
}

func TestProcessorTrackOutlivesRoot(t *testing.T) {
	var buf bytes.Buffer
	p, guard := New().Writer(&buf).Build()
	tracer := newProvider(p).Tracer("test")

	ctx, root := tracer.Start(context.Background(), "root")
	_, async := tracer.Start(ctx, "async")
	root.End()
	async.End()

	_, next := tracer.Start(context.Background(), "next")
	next.End()
	require.NoError(t, guard.Close())

	records := decode(t, buf.Bytes())
	require.Len(t, records, 3)
	assert.Equal(t, "async", records[1].Name)
	assert.Equal(t, records[0].Tid, records[1].Tid, "a span ending after its root keeps the trace's track")
	assert.NotEqual(t, records[0].Tid, records[2].Tid)
	assert.Empty(t, p.tracks, "idle traces release their track")
}

func TestDefaultFilePath(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	_, guard := New().Build()
	require.NoError(t, guard.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "trace-*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	b, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Empty(t, decode(t, b))
}

func TestEmptyTraceIsValidJSON(t *testing.T) {
	var buf bytes.Buffer
	_, guard := New().Writer(&buf).Build()
	require.NoError(t, guard.Close())
	assert.Empty(t, decode(t, buf.Bytes()))
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	p, guard := New().File(path).Build()
	tracer := newProvider(p).Tracer("test")

	_, span := tracer.Start(context.Background(), "work")
	span.End()
	require.NoError(t, guard.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	records := decode(t, b)
	require.Len(t, records, 1)
	assert.Equal(t, "work", records[0].Name)
}

func TestGzipFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json.gz")
	p, guard := New().File(path).Build()
	tracer := newProvider(p).Tracer("test")

	_, span := tracer.Start(context.Background(), "work")
	span.End()
	require.NoError(t, guard.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	var records []record
	require.NoError(t, json.NewDecoder(zr).Decode(&records))
	require.Len(t, records, 1)
	assert.Equal(t, "work", records[0].Name)
}

func TestUncreatableFileDiscardsOutput(t *testing.T) {
	// A directory cannot be opened as a file.
	dir := t.TempDir()
	p, guard := New().File(dir).Build()
	tracer := newProvider(p).Tracer("test")

	assert.NotPanics(t, func() {
		_, span := tracer.Start(context.Background(), "work")
		span.End()
	})
	assert.NoError(t, guard.Close())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
