// Package health tracks component health of the daemon for the API health endpoints
package health

import (
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/anchorwatch/anchorwatch/pkg/logx"
)

// Component status values
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Tracker records the health of the daemon components
type Tracker struct {
	logger    *logx.Logger
	version   string
	startTime time.Time
	now       func() time.Time

	mu         sync.RWMutex
	components map[string]*Component
	lastError  *ErrorInfo
	errorCount map[string]int
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status     string               `json:"status"`
	Timestamp  time.Time            `json:"timestamp"`
	Uptime     string               `json:"uptime"`
	Version    string               `json:"version"`
	Components map[string]Component `json:"components"`
	Memory     *MemoryInfo          `json:"memory,omitempty"`
	LastError  *ErrorInfo           `json:"last_error,omitempty"`
	Errors     map[string]int       `json:"errors,omitempty"`
}

// Component represents the health of a component
type Component struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	LastCheck time.Time `json:"last_check"`
	Since     time.Time `json:"since"`
}

// MemoryInfo represents memory usage information
type MemoryInfo struct {
	Alloc     uint64 `json:"alloc_bytes"`
	Sys       uint64 `json:"sys_bytes"`
	HeapAlloc uint64 `json:"heap_alloc_bytes"`
	HeapInuse uint64 `json:"heap_inuse_bytes"`
	NumGC     uint32 `json:"num_gc"`
	Routines  int    `json:"goroutines"`
}

// ErrorInfo represents error information
type ErrorInfo struct {
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component"`
}

// NewTracker creates a tracker with no registered components
func NewTracker(version string, logger *logx.Logger) *Tracker {
	return &Tracker{
		logger:     logger,
		version:    version,
		startTime:  time.Now(),
		now:        time.Now,
		components: make(map[string]*Component),
		errorCount: make(map[string]int),
	}
}

// UpdateComponentHealth sets the status of a component. Status changes are logged.
func (t *Tracker) UpdateComponentHealth(name, status, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	c, ok := t.components[name]
	if !ok {
		c = &Component{Since: now}
		t.components[name] = c
	}
	if c.Status != status {
		if ok {
			t.logger.LogStateChange("health", c.Status, status, message, map[string]interface{}{"component": name})
		}
		c.Since = now
	}
	c.Status = status
	c.Message = message
	c.LastCheck = now
}

// RecordError records an error for a component
func (t *Tracker) RecordError(errorType, component, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastError = &ErrorInfo{
		Message:   message,
		Type:      errorType,
		Timestamp: t.now(),
		Component: component,
	}
	t.errorCount[component]++
	t.logger.Debug("Health error recorded", "type", errorType, "component", component, "message", message)
}

// Status returns the overall status. Any unhealthy component makes the
// daemon unhealthy; any degraded one makes it degraded.
func (t *Tracker) Status() HealthStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	status := HealthStatus{
		Status:     StatusHealthy,
		Timestamp:  t.now(),
		Uptime:     t.now().Sub(t.startTime).Round(time.Second).String(),
		Version:    t.version,
		Components: make(map[string]Component, len(t.components)),
	}
	for name, c := range t.components {
		status.Components[name] = *c
		switch {
		case c.Status == StatusUnhealthy:
			status.Status = StatusUnhealthy
		case c.Status == StatusDegraded && status.Status == StatusHealthy:
			status.Status = StatusDegraded
		}
	}
	return status
}

// DetailedStatus adds memory usage and error history to Status
func (t *Tracker) DetailedStatus() HealthStatus {
	status := t.Status()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	status.Memory = &MemoryInfo{
		Alloc:     m.Alloc,
		Sys:       m.Sys,
		HeapAlloc: m.HeapAlloc,
		HeapInuse: m.HeapInuse,
		NumGC:     m.NumGC,
		Routines:  runtime.NumGoroutine(),
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastError != nil {
		e := *t.lastError
		status.LastError = &e
	}
	if len(t.errorCount) > 0 {
		status.Errors = make(map[string]int, len(t.errorCount))
		for k, v := range t.errorCount {
			status.Errors[k] = v
		}
	}
	return status
}

// ComponentNames returns the registered component names in sorted order
func (t *Tracker) ComponentNames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.components))
	for name := range t.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
