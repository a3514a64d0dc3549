// Package health provides health check functionality for liveness and readiness probes.
package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ReadinessChecker is implemented by dependencies that can refuse work
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// ReadyFunc adapts a function to ReadinessChecker
type ReadyFunc func(ctx context.Context) error

func (f ReadyFunc) Ready(ctx context.Context) error {
	return f(ctx)
}

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

type dependency struct {
	name     string
	checker  ReadinessChecker
	critical bool
}

// Checker performs health checks on dependencies.
type Checker struct {
	deps    []dependency
	timeout time.Duration

	mu           sync.RWMutex
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// NewChecker creates a new health checker.
func NewChecker() *Checker {
	return &Checker{timeout: 5 * time.Second}
}

// Require adds a dependency whose failure makes the service unhealthy
func (c *Checker) Require(name string, checker ReadinessChecker) *Checker {
	c.deps = append(c.deps, dependency{name: name, checker: checker, critical: true})
	return c
}

// Watch adds a dependency whose failure only degrades the service
func (c *Checker) Watch(name string, checker ReadinessChecker) *Checker {
	c.deps = append(c.deps, dependency{name: name, checker: checker})
	return c
}

// Liveness returns true if the service is alive. It never touches
// dependencies.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{
		Status: StatusHealthy,
	}
}

// Readiness checks every registered dependency.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}

	// Use cached result if recent
	if c.cachedReady != nil && time.Since(c.lastCheck) < time.Second {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	c.mu.RUnlock()

	checks := make(map[string]CheckResult, len(c.deps))
	overallStatus := StatusHealthy

	for _, dep := range c.deps {
		result := c.check(ctx, dep)
		checks[dep.name] = result
		switch {
		case result.Status == StatusHealthy:
		case dep.critical:
			overallStatus = StatusUnhealthy
		case overallStatus == StatusHealthy:
			overallStatus = StatusDegraded
		}
	}

	response := &Response{
		Status: overallStatus,
		Checks: checks,
	}

	c.mu.Lock()
	c.cachedReady = response
	c.lastCheck = time.Now()
	c.mu.Unlock()

	return response
}

func (c *Checker) check(ctx context.Context, dep dependency) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := dep.checker.Ready(ctx); err != nil {
		status := StatusDegraded
		if dep.critical {
			status = StatusUnhealthy
		}
		return CheckResult{Status: status, Message: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// Names returns the registered dependency names in sorted order
func (c *Checker) Names() []string {
	names := make([]string, 0, len(c.deps))
	for _, dep := range c.deps {
		names = append(names, dep.name)
	}
	sort.Strings(names)
	return names
}

// IsHealthy returns true if the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// SetShuttingDown marks the service as shutting down so readiness fails
// before the listener closes.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cachedReady = nil
}
