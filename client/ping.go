// Copyright 2021 William Perron. All rights reserved. MIT License.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/wperron/profiler/config"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.7.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	defaultDelay  = 10000 * time.Millisecond
	defaultJitter = 0.2

	inFlightGauge  *prometheus.GaugeVec
	requestCounter *prometheus.CounterVec
	dnsLatencyVec  *prometheus.HistogramVec
	tlsLatencyVec  *prometheus.HistogramVec
	reqLatencyVec  *prometheus.HistogramVec
)

type Pinger interface {
	Ping(ctx context.Context, t config.Target, out chan<- Result, errs chan<- error)
}

type pinger struct {
	name   string
	client *http.Client
	tracer trace.Tracer
}

type Result struct {
	Name       string
	Method     string
	Status     int
	StatusText string
	URL        string
	Latency    int
	TraceID    string
}

func init() {
	inFlightGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "client_in_flight_requests",
			Help: "A gauge of in-flight requests for the wrapped client.",
		},
		[]string{"target"},
	)

	requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "client_api_requests_total",
			Help: "A counter for requests from the wrapped client.",
		},
		[]string{"target", "code", "method"},
	)

	// dnsLatencyVec uses custom buckets based on expected dns durations.
	// Its "event" label is set by the httptrace hooks in Ping.
	dnsLatencyVec = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dns_duration_seconds",
			Help:    "Trace dns latency histogram.",
			Buckets: []float64{.005, .01, .025, .05},
		},
		[]string{"target", "event"},
	)

	// tlsLatencyVec uses custom buckets based on expected tls durations.
	tlsLatencyVec = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tls_duration_seconds",
			Help:    "Trace tls latency histogram.",
			Buckets: []float64{.05, .1, .25, .5},
		},
		[]string{"target", "event"},
	)

	reqLatencyVec = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "A histogram of request latencies.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"target"},
	)

	// Register all of the metrics in the standard registry.
	prometheus.MustRegister(requestCounter, tlsLatencyVec, dnsLatencyVec, reqLatencyVec, inFlightGauge)
}

// NewInstrumentedPinger returns a Pinger whose requests are traced with
// tracer and counted in the package metrics under the given target name.
func NewInstrumentedPinger(target string, tracer trace.Tracer) *pinger {
	// Wrap the otel transport with metrics middleware.
	roundTripper := InstrumentRoundTripperInFlight(inFlightGauge, target,
		InstrumentRoundTripperCounter(requestCounter, target,
			InstrumentRoundTripperDuration(reqLatencyVec, target,
				otelhttp.NewTransport(http.DefaultTransport),
			),
		),
	)

	return &pinger{
		name: target,
		client: &http.Client{
			Transport: roundTripper,
			Timeout:   10 * time.Second,
		},
		tracer: tracer,
	}
}

// Ping requests t.Url until ctx is done, waiting a jittered delay before each
// request. Every request is a span; its response, DNS and TLS timings are
// recorded as span events.
func (p *pinger) Ping(ctx context.Context, t config.Target, out chan<- Result, errs chan<- error) {
	u, err := url.Parse(t.Url)
	if err != nil {
		errs <- errors.Wrapf(err, "unable to parse URL %s", t.Url)
		return
	}

	delay := float64(t.Duration())
	if delay == 0.0 {
		delay = float64(defaultDelay)
	}

	jitter := t.Jitter
	if jitter == 0.0 {
		jitter = defaultJitter
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(Jitter(delay, jitter)):
		}

		res, err := p.ping(ctx, u, t.Headers)
		if err != nil {
			select {
			case errs <- err:
			case <-ctx.Done():
			}
			continue
		}

		select {
		case out <- res:
		case <-ctx.Done():
			return
		}
	}
}

func (p *pinger) ping(ctx context.Context, u *url.URL, headers *http.Header) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "zombie.ping",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("target", u.Host),
		))
	// This runs once per loop iteration, so the span is ended here rather
	// than deferred in Ping.
	defer span.End()

	ctx = httptrace.WithClientTrace(ctx, p.clientTrace(span))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{}, errors.Wrap(err, "building request")
	}
	if headers != nil && len(*headers) > 0 {
		req.Header = headers.Clone()
	}

	span.SetAttributes(semconv.HTTPClientAttributesFromHTTPRequest(req)...)

	start := time.Now()
	res, err := p.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, fmt.Sprintf("client error: %s", err))
		return Result{}, errors.Wrapf(err, "requesting %s", u)
	}

	// Reading and closing the body is important to ensure that the file
	// descriptor is not leaked.
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
	latency := time.Since(start)

	span.SetAttributes(semconv.HTTPAttributesFromHTTPStatusCode(res.StatusCode)...)
	span.AddEvent("response", trace.WithAttributes(
		attribute.Int("status", res.StatusCode),
		attribute.Int64("latency_ms", latency.Milliseconds()),
	))

	return Result{
		Name:       p.name,
		Method:     req.Method,
		Status:     res.StatusCode,
		StatusText: http.StatusText(res.StatusCode),
		URL:        u.String(),
		Latency:    int(latency.Milliseconds()),
		TraceID:    span.SpanContext().TraceID().String(),
	}, nil
}

// clientTrace observes connection setup of a single request.
func (p *pinger) clientTrace(span trace.Span) *httptrace.ClientTrace {
	var dnsStart, tlsStart time.Time
	return &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) {
			dnsStart = time.Now()
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			dnsLatencyVec.WithLabelValues(p.name, "dns_done").Observe(time.Since(dnsStart).Seconds())
			span.AddEvent("dns_done")
		},
		TLSHandshakeStart: func() {
			tlsStart = time.Now()
		},
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			tlsLatencyVec.WithLabelValues(p.name, "tls_done").Observe(time.Since(tlsStart).Seconds())
			span.AddEvent("tls_done")
		},
	}
}

type RoundTripperFunc func(req *http.Request) (*http.Response, error)

// RoundTrip implements the RoundTripper interface.
func (rt RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return rt(r)
}

func InstrumentRoundTripperInFlight(gauge *prometheus.GaugeVec, target string, next http.RoundTripper) RoundTripperFunc {
	return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		gauge.WithLabelValues(target).Inc()
		defer gauge.WithLabelValues(target).Dec()
		return next.RoundTrip(r)
	})
}

func InstrumentRoundTripperCounter(counter *prometheus.CounterVec, target string, next http.RoundTripper) RoundTripperFunc {
	return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		resp, err := next.RoundTrip(r)
		if err == nil {
			counter.With(prometheus.Labels{
				"code":   fmt.Sprint(resp.StatusCode),
				"method": r.Method,
				"target": target,
			}).Inc()
		}
		return resp, err
	})
}

func InstrumentRoundTripperDuration(obs prometheus.ObserverVec, target string, next http.RoundTripper) RoundTripperFunc {
	return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		start := time.Now()
		resp, err := next.RoundTrip(r)
		if err == nil {
			obs.With(prometheus.Labels{
				"target": target,
			}).Observe(time.Since(start).Seconds())
		}
		return resp, err
	})
}

// Jitter returns val varied uniformly by up to ±jitter of itself.
func Jitter(val, jitter float64) (jittered time.Duration) {
	jittered = time.Duration(val * (1 + (jitter * (rand.Float64()*2 - 1))))
	return
}
