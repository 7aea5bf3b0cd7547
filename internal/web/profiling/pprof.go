// Package profiling serves pprof and runtime statistics. The handler is
// meant for an internal-only listener, never the public API port.
package profiling

import (
	"net/http"
	"net/http/pprof"
	"runtime"

	"github.com/go-chi/chi/v5"

	"github.com/hireflow/hireflow/internal/web/response"
)

// Path prefixes every profiling route
const Path = "/debug/pprof"

// Handler returns the pprof index and profiles under Path, plus runtime
// statistics at /debug/runtime
func Handler() http.Handler {
	r := chi.NewRouter()
	r.Route(Path, func(r chi.Router) {
		r.HandleFunc("/", pprof.Index)
		r.HandleFunc("/cmdline", pprof.Cmdline)
		r.HandleFunc("/profile", pprof.Profile)
		r.HandleFunc("/symbol", pprof.Symbol)
		r.HandleFunc("/trace", pprof.Trace)
		for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
			r.Handle("/"+name, pprof.Handler(name))
		}
	})
	r.Get("/debug/runtime", StatsHandler)
	return r
}

// RuntimeStats is a snapshot of scheduler and memory counters
type RuntimeStats struct {
	Goroutines int    `json:"goroutines"`
	NumCPU     int    `json:"num_cpu"`
	Alloc      uint64 `json:"alloc_bytes"`
	TotalAlloc uint64 `json:"total_alloc_bytes"`
	Sys        uint64 `json:"sys_bytes"`
	NumGC      uint32 `json:"num_gc"`
}

// ReadRuntimeStats captures the current counters
func ReadRuntimeStats() RuntimeStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return RuntimeStats{
		Goroutines: runtime.NumGoroutine(),
		NumCPU:     runtime.NumCPU(),
		Alloc:      m.Alloc,
		TotalAlloc: m.TotalAlloc,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
	}
}

// StatsHandler serves ReadRuntimeStats as JSON
func StatsHandler(w http.ResponseWriter, r *http.Request) {
	response.OK(w, ReadRuntimeStats())
}
