package debugprocessor

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestProcessorPrintsTree(t *testing.T) {
	var buf bytes.Buffer
	p := New().WithWriter(&buf).WithColor(false).Build()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(p))
	tracer := tp.Tracer("app")

	ctx, root := tracer.Start(context.Background(), "root",
		trace.WithAttributes(attribute.String("user", "bob")))
	_, child := tracer.Start(ctx, "child")
	child.AddEvent("tick", trace.WithAttributes(attribute.Int("n", 1)))
	child.End()
	root.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	expected := "app::root{user=bob}\n" +
		"  app::child{}\n" +
		"    - tick{n=1}\n"
	assert.Equal(t, expected, buf.String())
}

func TestProcessorIndent(t *testing.T) {
	var buf bytes.Buffer
	p := New().WithWriter(&buf).WithIndent("\t").WithColor(false).Build()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(p)).Tracer("app")

	ctx, a := tracer.Start(context.Background(), "a")
	ctx, b := tracer.Start(ctx, "b")
	_, c := tracer.Start(ctx, "c")
	c.End()
	b.End()
	a.End()

	assert.Equal(t, "app::a{}\n\tapp::b{}\n\t\tapp::c{}\n", buf.String())
	assert.Empty(t, p.spans, "ended spans are forgotten")
}

func TestProcessorColor(t *testing.T) {
	var buf bytes.Buffer
	p := New().WithWriter(&buf).WithColor(true).Build()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(p)).Tracer("app")

	_, span := tracer.Start(context.Background(), "root")
	span.End()

	assert.Contains(t, buf.String(), "\x1b[")
	assert.Contains(t, buf.String(), "root")
}

func TestProcessorWritesToConfiguredWriter(t *testing.T) {
	var buf bytes.Buffer
	p := New().WithWriter(&buf).Build()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(p)).Tracer("app")

	_, span := tracer.Start(context.Background(), "root")
	span.End()

	assert.Equal(t, "app::root{}\n", buf.String(), "a buffer is not a terminal, so no color")
}

func TestProcessorConcurrentSpans(t *testing.T) {
	var buf bytes.Buffer
	p := New().WithWriter(&buf).WithColor(false).Build()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(p)).Tracer("app")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, parent := tracer.Start(context.Background(), "parent")
			_, child := tracer.Start(ctx, "child")
			child.End()
			parent.End()
		}()
	}
	wg.Wait()

	assert.Equal(t, 16, bytes.Count(buf.Bytes(), []byte("app::parent{}\n")))
	assert.Equal(t, 16, bytes.Count(buf.Bytes(), []byte("  app::child{}\n")))
}
