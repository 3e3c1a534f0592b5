// Copyright 2021 William Perron. All rights reserved. MIT License.

// Command zombie is a natural load generator to simulate real-life traffic
// on a system. It profiles itself: build with -tags chrome to get a trace
// file of every request next to the binary.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wperron/profiler"
	"github.com/wperron/profiler/client"
	"github.com/wperron/profiler/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Version is set via build flag -ldflags -X main.Version
var (
	Version  string
	Branch   string
	Revision string
)

var (
	configPath = flag.String("config", "", "The location of the config file.")
	noColor    = flag.Bool("no-color", false, "Suppress colors from the output")
	format     = flag.String("format", "logfmt", "Log output format. Defaults to 'logfmt'")
)

func main() {
	if err := run(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// run holds the program so that deferred calls, the profiler's in
// particular, execute before the process exits.
func run() error {
	// Set up channel on which to send termination signal notifications.
	// We must use a buffered channel or risk missing the signal
	// if we're not ready to receive when the signal is sent.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	// Parse command line args
	flag.Parse()
	if *noColor {
		color.NoColor = true
	}

	// Load the configuration file
	conf, err := config.LoadFile(*configPath)
	if err != nil {
		return err
	}

	printSummary(*conf)

	logger, err := makeLogger(*format, os.Stdout)
	if err != nil {
		return err
	}

	prof := profiler.Init()
	defer prof.Close()
	_ = logger.Log("msg", "profiler started", "profiler", prof.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if conf.Metrics != nil && conf.Metrics.Enabled {
		go func() {
			if err := serveMetrics(conf.Metrics.Addr); err != nil {
				_ = logger.Log("msg", "serving metrics", "err", err)
			}
		}()
	}

	http.DefaultTransport.(*http.Transport).TLSClientConfig = &tls.Config{
		InsecureSkipVerify: true, // nolint
	}

	tracer := otel.Tracer("zombie")

	// Start root span
	ctx, span := tracer.Start(ctx, "zombie.main")
	defer span.End()

	out := make(chan client.Result)
	errs := make(chan error)

	for _, t := range conf.Targets {
		ns := t.Name
		if ns == "" {
			ns = t.Url
		}

		workers := t.Workers
		if workers <= 0 {
			workers = 1
		}

		for i := 0; i < workers; i++ {
			ctx, span := tracer.Start(ctx, "zombie.pingerTask",
				trace.WithAttributes(
					attribute.Int("worker", i),
					attribute.String("target", ns),
					attribute.Int64("delay", t.Delay),
					attribute.Float64("jitter", t.Jitter),
				))
			defer span.End()

			pinger := client.NewInstrumentedPinger(ns, tracer)
			go pinger.Ping(ctx, t, out, errs)
		}
	}

	go func() {
		for m := range out {
			vals := []interface{}{"target", m.Name, "method", m.Method, "status", m.Status, "url", m.URL, "latency", m.Latency}
			if m.TraceID != "" {
				vals = append(vals, "trace_id", m.TraceID)
			}
			_ = logger.Log(vals...)
		}
	}()

	// Block until a signal or the first request error.
	select {
	case s := <-sigs:
		_ = logger.Log("msg", fmt.Sprintf("Got signal: %s", s))
		return nil
	case err := <-errs:
		_ = logger.Log("error", err)
		span.RecordError(err)
		return err
	}
}

func serveMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		prometheus.DefaultGatherer,
		promhttp.HandlerOpts{
			// Opt into OpenMetrics to support exemplars.
			EnableOpenMetrics: true,
		},
	))
	return http.ListenAndServe(addr, mux)
}

func makeLogger(f string, out io.Writer) (log.Logger, error) {
	switch f {
	case "logfmt":
		return log.NewLogfmtLogger(log.NewSyncWriter(out)), nil
	case "json":
		return log.NewJSONLogger(log.NewSyncWriter(out)), nil
	default:
		return nil, errors.New("unknown log format")
	}
}

func printSummary(c config.Config) {
	fmt.Println("Zombie started")
	fmt.Printf("version=%s branch=%s revision=%s\n", color.GreenString(Version), color.GreenString(Branch), color.GreenString(Revision))

	if c.Metrics != nil && c.Metrics.Enabled {
		fmt.Printf("metrics enabled on %s\n", c.Metrics.Addr)
	}

	for _, t := range c.Targets {
		if t.Name != "" {
			fmt.Printf("target name: %s at %s, base delay: %d ms, jitter: %f\n", t.Name, t.Url, t.Duration().Milliseconds(), t.Jitter)
		} else {
			fmt.Printf("target name: %s, base delay: %d ms, jitter: %f\n", t.Url, t.Duration().Milliseconds(), t.Jitter)
		}
	}
	fmt.Println("")
}
