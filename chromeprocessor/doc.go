// Package chromeprocessor contains an implementation of OpenTelemetry Go's
// SpanProcessor interface that records spans in the Chrome trace event format.
//
// The resulting JSON file can be opened in chrome://tracing or
// https://ui.perfetto.dev. Ended spans are written as complete ("X") events and
// span events as thread-scoped instant ("i") events. Every trace is drawn on
// its own track, which is kept while any span of the trace is running.
//
// Writing happens on a single goroutine owned by the FlushGuard returned from
// Builder.Build. The guard must be kept until profiling is over; closing it
// terminates the JSON array and flushes the file. Dropping it early leaves a
// truncated trace.
package chromeprocessor
