package http

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/sawpanic/pairsrun/internal/persistence"
)

// BreakerStater reports the state of a price feed circuit breaker
type BreakerStater interface {
	BreakerState() string
}

// HealthHandler provides system health status endpoint
type HealthHandler struct {
	database  persistence.RepositoryHealth
	breaker   BreakerStater
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler. Either dependency may be nil.
func NewHealthHandler(database persistence.RepositoryHealth, breaker BreakerStater, version string) *HealthHandler {
	return &HealthHandler{
		database:  database,
		breaker:   breaker,
		startTime: time.Now(),
		version:   version,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                   `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp time.Time                `json:"timestamp"`
	Uptime    string                   `json:"uptime"`
	Version   string                   `json:"version"`
	System    SystemInfo               `json:"system"`
	Database  *persistence.HealthCheck `json:"database,omitempty"`
	Checks    map[string]CheckResult   `json:"checks"`
}

// SystemInfo provides system-level information
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	MemAlloc      uint64 `json:"mem_alloc_bytes"`
	NumGC         uint32 `json:"num_gc"`
}

// CheckResult represents individual health check results
type CheckResult struct {
	Status  string `json:"status"` // "pass", "warn", "fail"
	Message string `json:"message"`
}

// ServeHTTP implements the health check endpoint
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.gatherHealthInfo(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	if response.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (h *HealthHandler) gatherHealthInfo(ctx context.Context) HealthResponse {
	response := HealthResponse{
		Timestamp: time.Now(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Version:   h.version,
		System:    systemInfo(),
		Checks:    make(map[string]CheckResult),
	}

	if h.database != nil {
		check := h.database.Health(ctx)
		response.Database = &check
		if check.Healthy {
			response.Checks["database"] = CheckResult{Status: "pass", Message: "database reachable"}
		} else {
			response.Checks["database"] = CheckResult{Status: "fail", Message: "database unreachable"}
		}
	}

	if h.breaker != nil {
		switch state := h.breaker.BreakerState(); state {
		case "closed":
			response.Checks["price_feed"] = CheckResult{Status: "pass", Message: "breaker closed"}
		case "half-open":
			response.Checks["price_feed"] = CheckResult{Status: "warn", Message: "breaker half-open"}
		default:
			response.Checks["price_feed"] = CheckResult{Status: "fail", Message: "breaker " + state}
		}
	}

	response.Status = overallStatus(response.Checks)
	return response
}

func systemInfo() SystemInfo {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return SystemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		MemAlloc:      memStats.Alloc,
		NumGC:         memStats.NumGC,
	}
}

// overallStatus is unhealthy when the database fails, degraded for any other
// failing or warning check
func overallStatus(checks map[string]CheckResult) string {
	status := "healthy"
	for name, check := range checks {
		switch check.Status {
		case "fail":
			if name == "database" {
				return "unhealthy"
			}
			status = "degraded"
		case "warn":
			status = "degraded"
		}
	}
	return status
}
