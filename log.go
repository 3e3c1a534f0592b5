// Copyright 2021 William Perron. All rights reserved. MIT License.
package profiler

import (
	"io"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

func newLogger(out io.Writer, lvl string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(out))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "component", "profiler")
	return level.NewFilter(logger, levelOption(lvl))
}

func levelOption(lvl string) level.Option {
	switch strings.ToLower(lvl) {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

// errorHandler routes errors from the OpenTelemetry SDK and from the sinks,
// which have no caller to return them to, into the profiler's log.
type errorHandler struct {
	logger log.Logger
}

func (h errorHandler) Handle(err error) {
	_ = level.Error(h.logger).Log("msg", "trace sink error", "err", err)
}
