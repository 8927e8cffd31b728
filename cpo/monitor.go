package cpo

import "runtime"

// MonitorCollector produces the body of a manage.monitor reply (the
// "monitor.os.*"/"monitor.jvm.*" fields). Collecting real host and process
// telemetry is an external collaborator's job; this interface is the seam
// that collaborator plugs into. defaultMonitorCollector is the minimal
// in-process implementation the core ships so manage.monitor has something
// to reply with out of the box.
type MonitorCollector interface {
	CollectOS() map[string]interface{}
	CollectRuntime() map[string]interface{}
}

// defaultMonitorCollector reports what's cheaply available from the Go
// runtime itself. There is no JVM in this system; "jvm" in the wire schema
// names the slot a managed-runtime's stats occupy, filled here with Go's
// own goroutine/heap counters, which play the same role.
type defaultMonitorCollector struct{}

func (defaultMonitorCollector) CollectOS() map[string]interface{} {
	return map[string]interface{}{
		"valid":        true,
		"os":           runtime.GOOS,
		"architecture": runtime.GOARCH,
	}
}

func (defaultMonitorCollector) CollectRuntime() map[string]interface{} {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return map[string]interface{}{
		"usedBytes":      ms.HeapAlloc,
		"freeBytes":      ms.HeapIdle,
		"allocatedBytes": ms.HeapSys,
		"availableBytes": ms.Sys,
		"maxBytes":       ms.Sys,
		"cpus":           runtime.NumCPU(),
		"totalThreads":   runtime.NumGoroutine(),
	}
}
