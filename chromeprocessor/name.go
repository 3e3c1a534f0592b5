package chromeprocessor

import (
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// EventOrSpan is the unit being named: either an Event or a Span.
type EventOrSpan interface {
	eventOrSpan()
}

// Event is a span event, written as an instant entry.
type Event struct {
	sdktrace.Event
}

// Span is an ended span, written as a complete entry.
type Span struct {
	sdktrace.ReadOnlySpan
}

func (Event) eventOrSpan() {}
func (Span) eventOrSpan()  {}

// NameFunc returns the label shown for an entry in the trace viewer.
type NameFunc func(EventOrSpan) string

// DefaultName labels every entry with its bare name.
func DefaultName(e EventOrSpan) string {
	switch v := e.(type) {
	case Event:
		return v.Name
	case Span:
		return v.Name()
	default:
		return ""
	}
}
