//go:build !chrome

package profiler

const chromeEnabled = false
