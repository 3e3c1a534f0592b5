package chromeprocessor

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var _ sdktrace.SpanProcessor = &Processor{}

// Processor converts ended spans into chrome trace entries. It is safe for
// concurrent use.
type Processor struct {
	guard       *FlushGuard
	name        NameFunc
	includeArgs bool

	// Timestamps are relative to start, like the viewer expects.
	start time.Time

	mu      sync.Mutex
	tracks  map[trace.TraceID]*track
	nextTid int
}

// track is the timeline row of one trace. live counts its spans that have
// started but not ended.
type track struct {
	tid  int
	live int
}

// record is a single entry of the trace event array.
type record struct {
	Name string                 `json:"name"`
	Cat  string                 `json:"cat,omitempty"`
	Ph   string                 `json:"ph"`
	Ts   float64                `json:"ts"`
	Dur  *float64               `json:"dur,omitempty"`
	Pid  int                    `json:"pid"`
	Tid  int                    `json:"tid"`
	S    string                 `json:"s,omitempty"`
	Args map[string]interface{} `json:"args,omitempty"`
}

func (p *Processor) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.track(s.SpanContext().TraceID()).live++
}

func (p *Processor) OnEnd(s sdktrace.ReadOnlySpan) {
	tid := p.tid(s)
	cat := s.InstrumentationLibrary().Name

	dur := micros(s.EndTime().Sub(s.StartTime()))
	span := record{
		Name: p.name(Span{s}),
		Cat:  cat,
		Ph:   "X",
		Ts:   micros(s.StartTime().Sub(p.start)),
		Dur:  &dur,
		Pid:  1,
		Tid:  tid,
	}
	if p.includeArgs {
		span.Args = args(s.Attributes())
	}
	p.guard.send(span)

	for _, e := range s.Events() {
		event := record{
			Name: p.name(Event{e}),
			Cat:  cat,
			Ph:   "i",
			Ts:   micros(e.Time.Sub(p.start)),
			Pid:  1,
			Tid:  tid,
			S:    "t",
		}
		if p.includeArgs {
			event.Args = args(e.Attributes)
		}
		p.guard.send(event)
	}
}

func (p *Processor) ForceFlush(ctx context.Context) error {
	p.guard.Flush()
	return nil
}

// Shutdown flushes buffered entries. The file stays open until the guard is
// closed.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.guard.Flush()
	return nil
}

// tid returns the track of the span's trace and releases the track when the
// trace has no live span left. Tracks are numbered in the order traces are
// first seen, so spans that outlive their root stay on the trace's row.
func (p *Processor) tid(s sdktrace.ReadOnlySpan) int {
	id := s.SpanContext().TraceID()

	p.mu.Lock()
	defer p.mu.Unlock()

	t := p.track(id)
	t.live--
	if t.live <= 0 {
		delete(p.tracks, id)
	}
	return t.tid
}

// track must be called with mu held.
func (p *Processor) track(id trace.TraceID) *track {
	t, ok := p.tracks[id]
	if !ok {
		p.nextTid++
		t = &track{tid: p.nextTid}
		p.tracks[id] = t
	}
	return t
}

func micros(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e3
}

func args(kv []attribute.KeyValue) map[string]interface{} {
	if len(kv) == 0 {
		return nil
	}
	m := make(map[string]interface{}, len(kv))
	for _, pair := range kv {
		m[string(pair.Key)] = pair.Value.AsInterface()
	}
	return m
}
