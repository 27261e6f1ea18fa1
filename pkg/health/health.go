package health

import (
	"context"
	"time"
)

// Result is the outcome of one reachability probe.
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes one external dependency (the relational store, the blob
// store, the identity service).
type Checker interface {
	// Check performs the probe and returns the result.
	Check(ctx context.Context) Result

	// Name identifies the dependency in readiness output.
	Name() string
}

// Config contains common configuration for all probes.
type Config struct {
	// Interval is the time between probes.
	Interval time.Duration

	// Timeout is the maximum time to wait for a probe to complete.
	Timeout time.Duration

	// Retries is the number of consecutive failures before a dependency
	// is reported unreachable.
	Retries int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
		Retries:  3,
	}
}

// Status tracks the rolling health of one dependency across probes.
type Status struct {
	// ConsecutiveFailures tracks the number of consecutive failed probes.
	ConsecutiveFailures int

	// ConsecutiveSuccesses tracks the number of consecutive successful probes.
	ConsecutiveSuccesses int

	// LastCheck is the timestamp of the last probe.
	LastCheck time.Time

	// LastResult is the result of the last probe.
	LastResult Result

	// Healthy indicates if the dependency is currently considered reachable.
	Healthy bool
}

// NewStatus creates a new Status with default values.
func NewStatus() *Status {
	return &Status{
		Healthy: true, // Assume reachable until proven otherwise
	}
}

// Update updates the status based on a new probe result. A dependency flips
// back to healthy on the first success but only flips to unhealthy after
// Retries consecutive failures, so one dropped packet does not flap the
// readiness endpoint.
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0

		if s.ConsecutiveFailures >= config.Retries {
			s.Healthy = false
		}
	}
}

// Pinger is anything with a Ping method, such as the database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker probes a dependency through its own Ping method.
type PingChecker struct {
	// DependencyName identifies the dependency in readiness output.
	DependencyName string

	// Target is the dependency to ping.
	Target Pinger
}

// NewPingChecker creates a probe over an existing client's Ping method.
func NewPingChecker(name string, target Pinger) *PingChecker {
	return &PingChecker{DependencyName: name, Target: target}
}

// Check performs the ping.
func (p *PingChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if err := p.Target.Ping(ctx); err != nil {
		return Result{
			Healthy:   false,
			Message:   "ping failed: " + err.Error(),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   "ping successful",
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Name returns the dependency name.
func (p *PingChecker) Name() string {
	return p.DependencyName
}
