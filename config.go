// Copyright 2021 William Perron. All rights reserved. MIT License.
package profiler

import (
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Config is read from the environment once, by Init.
type Config struct {
	// ChromeTraceFile, when set, is used verbatim as the trace file path,
	// e.g. CHROME_TRACE_FILE=/path/to/trace.json for chrome://tracing or
	// ui.perfetto.dev.
	ChromeTraceFile string `envconfig:"CHROME_TRACE_FILE"`

	// LogLevel filters the profiler's own log lines: debug, info, warn or
	// error.
	LogLevel string `envconfig:"PROFILER_LOG_LEVEL" default:"info"`
}

func LoadConfig() (Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, errors.Wrap(err, "reading profiler environment")
	}
	return c, nil
}
