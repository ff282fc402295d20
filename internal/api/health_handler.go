package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/messaging/internal/pkg/httputil"
)

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Uptime string                    `json:"uptime"`
	Checks map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "degraded"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// Probe checks one dependency.
type Probe struct {
	Name     string
	Check    func(ctx context.Context) error
	Critical bool
	// Slow marks the check degraded when exceeded.
	Slow time.Duration
}

// HealthChecker runs the registered probes concurrently.
type HealthChecker struct {
	probes    []Probe
	startTime time.Time
}

func NewHealthChecker(probes ...Probe) *HealthChecker {
	return &HealthChecker{probes: probes, startTime: time.Now()}
}

// HandleHealth always answers 200; the body carries the status.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	httputil.OK(w, HealthStatus{
		Status: hc.overall(checks),
		Uptime: time.Since(hc.startTime).Round(time.Second).String(),
		Checks: checks,
	})
}

// HandleLiveness answers 200 while the process runs.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "alive"})
}

// HandleReadiness answers 503 when a critical dependency is down.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	overall := hc.overall(checks)
	status := http.StatusOK
	if overall == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	httputil.JSON(w, status, map[string]any{
		"ready":  overall != "unhealthy",
		"status": overall,
		"checks": checks,
	})
}

func (hc *HealthChecker) runAllChecks(ctx context.Context) map[string]ComponentCheck {
	type result struct {
		name  string
		check ComponentCheck
	}
	ch := make(chan result, len(hc.probes))
	for _, p := range hc.probes {
		go func() { ch <- result{p.Name, runProbe(ctx, p)} }()
	}

	checks := make(map[string]ComponentCheck, len(hc.probes))
	for range hc.probes {
		r := <-ch
		checks[r.name] = r.check
	}
	return checks
}

func runProbe(ctx context.Context, p Probe) ComponentCheck {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	err := p.Check(ctx)
	latency := time.Since(start)
	if err != nil {
		return ComponentCheck{Status: "down", Latency: latency.String(), Message: fmt.Sprintf("check failed: %v", err)}
	}
	if p.Slow > 0 && latency > p.Slow {
		return ComponentCheck{Status: "degraded", Latency: latency.String(), Message: fmt.Sprintf("slow response (%s)", latency)}
	}
	return ComponentCheck{Status: "up", Latency: latency.String()}
}

func (hc *HealthChecker) overall(checks map[string]ComponentCheck) string {
	status := "healthy"
	for _, p := range hc.probes {
		switch checks[p.Name].Status {
		case "down":
			if p.Critical {
				return "unhealthy"
			}
			status = "degraded"
		case "degraded":
			status = "degraded"
		}
	}
	return status
}
