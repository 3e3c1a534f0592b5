// Command trace-server is a toy API that produces nested spans of random
// duration on every request. Build it with -tags chrome to record them in a
// trace file, or -tags realtime to stream them to a local collector.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wperron/profiler"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	addr   = flag.String("addr", ":8080", "Address the api will listen on.")
	tracer = otel.Tracer("trace-server")
)

type metrics struct {
	counter  *prometheus.CounterVec
	latency  prometheus.Histogram
	inFlight prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		counter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_requests_total",
				Help: "A counter for requests to the api.",
			},
			[]string{"code", "method"},
		),
		latency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name: "api_requests_latency",
				Help: "A histogram for api response latencies.",
			},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "api_requests_in_flight",
				Help: "A gauge for the number of in-flight requests.",
			},
		),
	}
	reg.MustRegister(m.counter, m.latency, m.inFlight)
	return m
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	prof := profiler.Init()
	defer prof.Close()

	m := newMetrics(prometheus.DefaultRegisterer)

	mux := http.NewServeMux()
	mux.Handle("/", promhttp.InstrumentHandlerCounter(
		m.counter, promhttp.InstrumentHandlerInFlight(m.inFlight, InstrumentedHandler(m.latency, newHandler())),
	))
	mux.Handle("/metrics", InstrumentedHandler(m.latency, promhttp.HandlerFor(
		prometheus.DefaultGatherer,
		promhttp.HandlerOpts{
			// Opt into OpenMetrics to support exemplars
			EnableOpenMetrics: true,
		},
	)))

	srv := &http.Server{Addr: *addr, Handler: mux}
	errc := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", *addr)
		errc <- srv.ListenAndServe()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		return err
	case s := <-sigs:
		log.Printf("got signal %s, shutting down", s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

type handler struct {
	maxDepth       int
	minDur, maxDur time.Duration
}

func newHandler() *handler {
	return &handler{maxDepth: 10, minDur: 200 * time.Millisecond, maxDur: 1000 * time.Millisecond}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handler")
	defer span.End()
	h.randomRecurse(ctx, 0)
	fmt.Fprint(w, "Hello, World!")
}

func (h *handler) randomRecurse(ctx context.Context, curr int) {
	dur := h.minDur
	if h.maxDur > h.minDur {
		dur += time.Duration(rand.Int63n(int64(h.maxDur - h.minDur)))
	}
	ctx, span := tracer.Start(ctx, "recurse", trace.WithAttributes(
		attribute.Int("duration", int(dur.Milliseconds())),
		attribute.Int("depth", curr),
	))
	defer span.End()

	time.Sleep(dur)
	span.AddEvent("slept")
	if curr == h.maxDepth {
		return
	}

	if rand.Intn(2)&1 == 1 {
		h.randomRecurse(ctx, curr+1)
	}
}

func InstrumentedHandler(latency prometheus.Histogram, next http.Handler) http.Handler {
	handlerFunc := func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		d := newDelegator(w)
		ctx := r.Context()
		traceID := trace.SpanContextFromContext(ctx).TraceID().String()
		next.ServeHTTP(d, r)
		latency.(prometheus.ExemplarObserver).ObserveWithExemplar(
			time.Since(start).Seconds(), prometheus.Labels{"traceID": traceID},
		)
		fmt.Printf("traceID=%s path=%s method=%s status=%d bytes=%d\n", traceID, r.URL.Path, r.Method, d.statusCode, d.written)
	}

	return otelhttp.NewHandler(http.HandlerFunc(handlerFunc), "http")
}

type responseWriterDelegator struct {
	http.ResponseWriter
	statusCode  int
	written     int64
	wroteHeader bool
}

func (d *responseWriterDelegator) WriteHeader(statusCode int) {
	if d.wroteHeader {
		return
	}
	d.statusCode = statusCode
	d.wroteHeader = true
	d.ResponseWriter.WriteHeader(statusCode)
}

func (d *responseWriterDelegator) Write(b []byte) (int, error) {
	if !d.wroteHeader {
		d.WriteHeader(http.StatusOK)
	}
	n, err := d.ResponseWriter.Write(b)
	d.written += int64(n)
	return n, err
}

func (d *responseWriterDelegator) Flush() {
	if !d.wroteHeader {
		d.WriteHeader(http.StatusOK)
	}
	if f, ok := d.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func newDelegator(w http.ResponseWriter) *responseWriterDelegator {
	return &responseWriterDelegator{
		ResponseWriter: w,
	}
}
