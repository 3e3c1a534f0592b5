// Copyright 2021 William Perron. All rights reserved. MIT License.

// Package profiler installs a process-wide OpenTelemetry tracer provider that
// forwards spans to a console printer and, depending on build tags, to a
// Chrome trace file and to a real-time OTLP collector.
//
// Build tags select the sinks:
//
//	chrome    write a trace-event JSON file (see CHROME_TRACE_FILE)
//	realtime  stream spans over OTLP/gRPC to a live collector
//
// Typical use is a single call at startup whose result is closed on the way
// out:
//
//	func main() {
//		defer profiler.Init().Close()
//		...
//	}
//
// Deferred calls do not run on os.Exit or log.Fatal, so a program that exits
// that way loses the end of its trace file.
package profiler
