//go:build !realtime

package profiler

const realtimeEnabled = false
