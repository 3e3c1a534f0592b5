// Copyright 2021 William Perron. All rights reserved. MIT License.
package profiler

import (
	"strconv"
	"strings"

	"github.com/wperron/profiler/chromeprocessor"
	"go.opentelemetry.io/otel/attribute"
)

// Label names entries in the Chrome trace. Events keep their bare name. Spans
// are named "<name>: <fields>" when they carry attributes and "<name>"
// otherwise, so parameterised spans are told apart in the timeline.
func Label(e chromeprocessor.EventOrSpan) string {
	switch v := e.(type) {
	case chromeprocessor.Event:
		return v.Name
	case chromeprocessor.Span:
		if fields := FormatFields(v.Attributes()); fields != "" {
			return v.Name() + ": " + fields
		}
		return v.Name()
	default:
		return ""
	}
}

// FormatFields renders attributes as space separated key=value pairs. String
// values are quoted, except for the "message" key which is written bare.
func FormatFields(kv []attribute.KeyValue) string {
	var sb strings.Builder
	for _, pair := range kv {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		if pair.Key == "message" {
			sb.WriteString(pair.Value.Emit())
			continue
		}
		sb.WriteString(string(pair.Key))
		sb.WriteByte('=')
		if pair.Value.Type() == attribute.STRING {
			sb.WriteString(strconv.Quote(pair.Value.AsString()))
		} else {
			sb.WriteString(pair.Value.Emit())
		}
	}
	return sb.String()
}
