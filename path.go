// Copyright 2021 William Perron. All rights reserved. MIT License.
package profiler

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// BuildDir is the directory used when the running executable cannot be
// located. It defaults to this package's source directory and can be set at
// link time:
//
//	go build -ldflags "-X github.com/wperron/profiler.BuildDir=/var/tmp"
var BuildDir string

// system is the part of the OS path derivation depends on.
type system struct {
	executable func() (string, error)
	now        func() time.Time
	mkdirAll   func(path string, perm os.FileMode) error
}

var osSystem = system{
	executable: os.Executable,
	now:        time.Now,
	mkdirAll:   os.MkdirAll,
}

// OutputPath returns the file the Chrome trace is written to. An explicit
// cfg.ChromeTraceFile wins. Otherwise it is
// <exe-dir>/traces/<exe-name>_trace_<unix-ms>.json, creating the traces
// directory as needed. If that directory cannot be created the build
// directory itself is returned; writing to it later fails and the trace is
// lost, but startup is never aborted over it.
func OutputPath(cfg Config) string {
	return outputPath(cfg, osSystem)
}

func outputPath(cfg Config, sys system) string {
	if cfg.ChromeTraceFile != "" {
		return cfg.ChromeTraceFile
	}

	fallback := buildDir()
	name := "trace"
	dir := fallback
	if exe, err := sys.executable(); err == nil && exe != "" {
		dir = filepath.Dir(exe)
		if base := filepath.Base(exe); base != "." && base != string(filepath.Separator) {
			name = base
		}
	}

	dir = filepath.Join(dir, "traces")
	if err := sys.mkdirAll(dir, 0o755); err != nil {
		return fallback
	}

	ms := sys.now().UnixMilli()
	if ms < 0 {
		ms = 0
	}
	return filepath.Join(dir, fmt.Sprintf("%s_trace_%d.json", name, ms))
}

func buildDir() string {
	if BuildDir != "" {
		return BuildDir
	}
	if _, file, _, ok := runtime.Caller(0); ok {
		return filepath.Dir(file)
	}
	return "."
}
