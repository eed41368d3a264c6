package contacthttp

import (
	"net/http"
	"runtime"
	"time"

	"github.com/keithlinneman/linnemanlabs-contact/internal/httpmw"
)

// HealthBody is the GET /api/health response.
type HealthBody struct {
	Status    string       `json:"status"`
	Timestamp string       `json:"timestamp"`
	Service   string       `json:"service"`
	Uptime    float64      `json:"uptime"`
	Memory    MemoryReport `json:"memory"`
}

// MemoryReport summarizes runtime memory in bytes.
type MemoryReport struct {
	Sys        uint64 `json:"sys"`
	HeapAlloc  uint64 `json:"heapAlloc"`
	HeapSys    uint64 `json:"heapSys"`
	Goroutines int    `json:"goroutines"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	now := time.Now()
	httpmw.WriteJSON(w, http.StatusOK, HealthBody{
		Status:    "OK",
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Service:   a.service,
		Uptime:    now.Sub(a.startedAt).Seconds(),
		Memory: MemoryReport{
			Sys:        ms.Sys,
			HeapAlloc:  ms.HeapAlloc,
			HeapSys:    ms.HeapSys,
			Goroutines: runtime.NumGoroutine(),
		},
	})
}
