package debugprocessor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var _ sdktrace.SpanProcessor = &Processor{}

// Processor is an implementation of sdktrace.SpanProcessor that prints spans
// as an indented tree. Span starts are printed as they happen; span events are
// printed when their span ends, since that is when the SDK exposes them.
type Processor struct {
	// Output Writer used to print new spans to.
	out io.Writer

	// The sequence of characters to use for intendation. Defaults to 2 spaces.
	indent string

	lib, name, event *color.Color

	// Guards out and spans; spans start and end on many goroutines.
	mu sync.Mutex

	// Depth of each live span, used to indent its children.
	spans map[trace.SpanID]int
}

func (p *Processor) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	p.mu.Lock()
	defer p.mu.Unlock()

	depth := 0
	if d, ok := p.spans[s.Parent().SpanID()]; ok && s.Parent().IsValid() {
		depth = d + 1
	}
	p.spans[s.SpanContext().SpanID()] = depth

	fmt.Fprintf(p.out, "%s%s::%s{%s}\n",
		strings.Repeat(p.indent, depth),
		p.lib.Sprint(s.InstrumentationLibrary().Name),
		p.name.Sprint(s.Name()),
		kvToString(s.Attributes()),
	)
}

func (p *Processor) OnEnd(s sdktrace.ReadOnlySpan) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := s.SpanContext().SpanID()
	depth := p.spans[id]
	delete(p.spans, id)

	indent := strings.Repeat(p.indent, depth+1)
	for _, e := range s.Events() {
		fmt.Fprintf(p.out, "%s- %s{%s}\n",
			indent,
			p.event.Sprint(e.Name),
			kvToString(e.Attributes),
		)
	}
}

func (p *Processor) ForceFlush(ctx context.Context) error { return nil }
func (p *Processor) Shutdown(ctx context.Context) error   { return nil }

func kvToString(kv []attribute.KeyValue) string {
	asStrings := make([]string, 0, len(kv))
	for _, pair := range kv {
		asStrings = append(asStrings, fmt.Sprintf("%s=%s", pair.Key, pair.Value.Emit()))
	}
	return strings.Join(asStrings, ", ")
}
