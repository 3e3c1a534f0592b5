//go:build chrome

package profiler

const chromeEnabled = true
