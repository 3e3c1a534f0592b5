// Copyright 2021 William Perron. All rights reserved. MIT License.
package profiler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/wperron/profiler/chromeprocessor"
	"github.com/wperron/profiler/debugprocessor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Layer names, in the order they are attached to the provider.
const (
	layerConsole  = "console"
	layerChrome   = "chrome"
	layerRealtime = "realtime"
)

// Profiler is a running profiling session. Keep it until profiling should
// stop, then Close it.
type Profiler struct {
	provider *sdktrace.TracerProvider

	// guard is nil unless the chrome trace file is written.
	guard *chromeprocessor.FlushGuard

	chrome   bool
	realtime bool
	layers   []string
	logger   log.Logger

	closeOnce sync.Once
	closeErr  error
}

// Options selects the sinks of a Profiler built with New.
type Options struct {
	Chrome   bool
	Realtime bool

	Config Config

	// Console receives the span tree. Defaults to os.Stdout.
	Console io.Writer

	// Logger receives the profiler's own diagnostics. Defaults to logfmt on
	// os.Stderr at Config.LogLevel.
	Logger log.Logger
}

// Init builds a Profiler with the sinks enabled by build tags and the
// environment, and installs it as the global tracer provider. Init must be
// called at most once per process; a second call panics.
func Init() *Profiler {
	cfg, err := LoadConfig()
	logger := newLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		_ = level.Warn(logger).Log("msg", "ignoring profiler environment", "err", err)
	}

	p, err := New(Options{
		Chrome:   chromeEnabled,
		Realtime: realtimeEnabled,
		Config:   cfg,
		Logger:   logger,
	})
	if err != nil {
		panic(err)
	}
	return p
}

// New is Init with explicit sinks. It returns an error wrapping
// ErrGlobalDefaultSet if a profiler is already installed.
func New(opts Options) (*Profiler, error) {
	if err := reserveGlobalDefault(); err != nil {
		return nil, errors.Wrap(err, "Tracer could not set the global default subscriber.")
	}

	if opts.Logger == nil {
		opts.Logger = newLogger(os.Stderr, opts.Config.LogLevel)
	}
	// Sinks report failures while they are built, so the handler goes first.
	otel.SetErrorHandler(errorHandler{logger: opts.Logger})

	p, err := build(opts)
	if err != nil {
		releaseGlobalDefault()
		return nil, err
	}

	setGlobalDefault(p.provider)
	return p, nil
}

func build(opts Options) (*Profiler, error) {
	if opts.Console == nil {
		opts.Console = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = newLogger(os.Stderr, opts.Config.LogLevel)
	}

	ctx := context.Background()
	res, err := resource.New(ctx,
		resource.WithAttributes(
			// the service name used to display traces in backends
			semconv.ServiceNameKey.String(serviceName()),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating trace resource")
	}

	p := &Profiler{
		chrome:   opts.Chrome,
		realtime: opts.Realtime,
		logger:   opts.Logger,
	}

	// The realtime exporter is created first: it is the only step that can
	// fail, and failing after the trace file exists would leave an empty one
	// behind.
	var realtime sdktrace.SpanProcessor
	if opts.Realtime {
		realtime, err = newRealtimeProcessor(ctx)
		if err != nil {
			return nil, err
		}
	}

	processors := []sdktrace.SpanProcessor{
		debugprocessor.New().WithWriter(opts.Console).Build(),
	}
	p.layers = append(p.layers, layerConsole)

	if opts.Chrome {
		path := OutputPath(opts.Config)
		_ = level.Debug(p.logger).Log("msg", "writing chrome trace", "path", path)

		chrome, guard := chromeprocessor.New().File(path).NameFunc(Label).Build()
		processors = append(processors, chrome)
		p.layers = append(p.layers, layerChrome)
		p.guard = guard
	}

	if realtime != nil {
		processors = append(processors, realtime)
		p.layers = append(p.layers, layerRealtime)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
	}
	for _, sp := range processors {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(sp))
	}
	p.provider = sdktrace.NewTracerProvider(tpOpts...)

	return p, nil
}

// Close ends the session: pending spans are exported and the trace file, if
// any, is completed and closed. Errors are logged and returned but there is
// nothing to retry. Later calls return the first result.
//
// The global tracer provider stays installed; spans started after Close are
// dropped.
func (p *Profiler) Close() error {
	p.closeOnce.Do(func() {
		if err := p.provider.Shutdown(context.Background()); err != nil {
			_ = level.Error(p.logger).Log("msg", "shutting down tracer provider", "err", err)
			p.closeErr = errors.Wrap(err, "shutting down tracer provider")
		}
		if p.guard != nil {
			if err := p.guard.Close(); err != nil {
				_ = level.Error(p.logger).Log("msg", "closing chrome trace", "err", err)
				if p.closeErr == nil {
					p.closeErr = errors.Wrap(err, "closing chrome trace")
				}
			}
		}
	})
	return p.closeErr
}

func (p *Profiler) String() string {
	return fmt.Sprintf("Profiler ---- Chrome? %t, Realtime? %t", p.chrome, p.realtime)
}

func serviceName() string {
	exe, err := os.Executable()
	if err != nil {
		return "profiler"
	}
	return filepath.Base(exe)
}
