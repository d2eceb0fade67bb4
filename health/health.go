// Package health provides health checks for a knowledge-graph store and
// its query cache, and an HTTP handler reporting their combined status.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/zero-day-ai/cag/cache"
	"github.com/zero-day-ai/cag/graph"
	"github.com/zero-day-ai/cag/persist"
)

// Health status constants represent the operational state of a component.
const (
	// StatusHealthy indicates the component is fully operational.
	StatusHealthy = "healthy"

	// StatusDegraded indicates the component is operational but experiencing issues.
	StatusDegraded = "degraded"

	// StatusUnhealthy indicates the component is not operational.
	StatusUnhealthy = "unhealthy"
)

// Status is the health state of a component.
type Status struct {
	// Status is one of StatusHealthy, StatusDegraded or StatusUnhealthy.
	Status string `json:"status"`

	// Message is a human-readable description.
	Message string `json:"message,omitempty"`

	// Details carries diagnostic context.
	Details map[string]any `json:"details,omitempty"`
}

func (s Status) IsHealthy() bool   { return s.Status == StatusHealthy }
func (s Status) IsDegraded() bool  { return s.Status == StatusDegraded }
func (s Status) IsUnhealthy() bool { return s.Status == StatusUnhealthy }

// Healthy returns a healthy status.
func Healthy(message string) Status {
	return Status{Status: StatusHealthy, Message: message}
}

// Degraded returns a degraded status.
func Degraded(message string, details map[string]any) Status {
	return Status{Status: StatusDegraded, Message: message, Details: details}
}

// Unhealthy returns an unhealthy status.
func Unhealthy(message string, details map[string]any) Status {
	return Status{Status: StatusUnhealthy, Message: message, Details: details}
}

// StatsSource reports store counts. *graph.Store and *persist.Store satisfy it.
type StatsSource interface {
	Stats(ctx context.Context) graph.Stats
}

// StoreCheck reports whether the store is connected.
//
// Example:
//
//	status := health.StoreCheck(ctx, store)
//	if status.IsUnhealthy() {
//	    log.Println("store is not connected")
//	}
func StoreCheck(ctx context.Context, src StatsSource) Status {
	st := src.Stats(ctx)
	if !st.Connected {
		return Unhealthy("store is not connected", nil)
	}
	return Status{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("store connected with %d nodes and %d relationships", st.Nodes, st.Relationships),
		Details: map[string]any{
			"nodes":         st.Nodes,
			"relationships": st.Relationships,
		},
	}
}

// LoadCheck reports a degraded status when the last load had to quarantine
// or skip artifacts, or found stale indices.
func LoadCheck(report persist.LoadReport) Status {
	details := map[string]any{}
	if len(report.Quarantined) > 0 {
		details["quarantined"] = artifactNames(report.Quarantined)
	}
	if len(report.Unreadable) > 0 {
		details["unreadable"] = artifactNames(report.Unreadable)
	}
	if report.IndexMismatch {
		details["index_mismatch"] = true
	}
	if dropped := report.Restore.DroppedNodes + report.Restore.DroppedRelationships; dropped > 0 {
		details["dropped_records"] = dropped
	}
	if len(details) > 0 {
		return Degraded("store recovered from a damaged load", details)
	}
	return Healthy("store loaded cleanly")
}

// SaveCheck reports a degraded status when mutations are pending and the
// last save is older than maxAge. A non-positive maxAge disables the check.
func SaveCheck(lastSave time.Time, pending int64, maxAge time.Duration, now time.Time) Status {
	if maxAge <= 0 || pending == 0 {
		return Healthy("no unsaved changes")
	}
	if lastSave.IsZero() {
		return Degraded("store has never been saved", map[string]any{"pending_operations": pending})
	}
	age := now.Sub(lastSave)
	if age > maxAge {
		return Degraded(
			fmt.Sprintf("last save was %s ago", age.Round(time.Second)),
			map[string]any{
				"pending_operations": pending,
				"last_save":          lastSave.UTC().Format(time.RFC3339),
				"max_age":            maxAge.String(),
			},
		)
	}
	return Healthy("store saved recently")
}

// DirCheck verifies that the storage directory exists.
func DirCheck(path string) Status {
	if path == "" {
		return Unhealthy("path cannot be empty", nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Unhealthy(fmt.Sprintf("path '%s' does not exist", path), map[string]any{"path": path})
		}
		return Unhealthy(
			fmt.Sprintf("failed to stat path '%s'", path),
			map[string]any{"path": path, "error": err.Error()},
		)
	}
	if !info.IsDir() {
		return Unhealthy(fmt.Sprintf("path '%s' is not a directory", path), map[string]any{"path": path})
	}
	return Healthy(fmt.Sprintf("directory '%s' exists", path))
}

// CacheCheck verifies that the query cache answers. A nil cache is healthy.
func CacheCheck(ctx context.Context, c cache.Cache) Status {
	if c == nil {
		return Healthy("query cache disabled")
	}
	n, err := c.Len(ctx)
	if err != nil {
		return Degraded("query cache unavailable", map[string]any{"error": err.Error()})
	}
	return Status{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("query cache holds %d entries", n),
		Details: map[string]any{"entries": n},
	}
}

// Combine aggregates multiple checks into a single status:
//   - If any check is unhealthy, the result is unhealthy
//   - If any check is degraded (and none unhealthy), the result is degraded
//   - Otherwise the result is healthy
func Combine(checks ...Status) Status {
	if len(checks) == 0 {
		return Healthy("no checks provided")
	}

	var unhealthy, degraded []string
	var healthy int
	for _, check := range checks {
		msg := check.Message
		if msg == "" {
			msg = "unnamed check"
		}
		switch check.Status {
		case StatusUnhealthy:
			unhealthy = append(unhealthy, msg)
		case StatusDegraded:
			degraded = append(degraded, msg)
		case StatusHealthy:
			healthy++
		}
	}

	if len(unhealthy) > 0 {
		return Unhealthy(
			fmt.Sprintf("%d check(s) failed", len(unhealthy)),
			map[string]any{
				"total":         len(checks),
				"unhealthy":     len(unhealthy),
				"degraded":      len(degraded),
				"healthy":       healthy,
				"failed_checks": unhealthy,
			},
		)
	}
	if len(degraded) > 0 {
		return Degraded(
			fmt.Sprintf("%d check(s) degraded", len(degraded)),
			map[string]any{
				"total":           len(checks),
				"degraded":        len(degraded),
				"healthy":         healthy,
				"degraded_checks": degraded,
			},
		)
	}
	return Healthy(fmt.Sprintf("all %d check(s) passed", len(checks)))
}

// Handler serves the status returned by check as JSON. Unhealthy statuses
// are answered with 503; healthy and degraded ones with 200.
func Handler(check func(ctx context.Context) Status) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := check(r.Context())
		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}

func artifactNames(as []persist.Artifact) []string {
	names := make([]string, len(as))
	for i, a := range as {
		names[i] = string(a)
	}
	return names
}
