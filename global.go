// Copyright 2021 William Perron. All rights reserved. MIT License.
package profiler

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// ErrGlobalDefaultSet is returned when a profiler was already installed in
// this process.
var ErrGlobalDefaultSet = errors.New("a global default tracer provider has already been set")

// installed gates the global tracer provider. otel.SetTracerProvider happily
// replaces an earlier provider, so exactly-once is enforced here.
var installed atomic.Bool

// reserveGlobalDefault claims the global slot. Of several concurrent callers
// exactly one succeeds.
func reserveGlobalDefault() error {
	if !installed.CompareAndSwap(false, true) {
		return ErrGlobalDefaultSet
	}
	return nil
}

// releaseGlobalDefault gives the slot back when the provider claimed for it
// could not be built.
func releaseGlobalDefault() {
	installed.Store(false)
}

func setGlobalDefault(tp trace.TracerProvider) {
	// set global propagator to tracecontext (the default is no-op).
	otel.SetTextMapPropagator(propagation.TraceContext{})
	otel.SetTracerProvider(tp)
}
