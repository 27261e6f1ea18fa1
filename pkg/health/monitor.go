package health

import (
	"context"
	"time"
)

// ReportFunc receives each dependency's aggregated status after a probe
// round. The control plane wires this to the readiness endpoint's
// component registry.
type ReportFunc func(name string, healthy bool, message string)

// Monitor runs a set of probes on a fixed interval and reports their
// hysteresis-filtered status.
type Monitor struct {
	checkers []Checker
	statuses map[string]*Status
	config   Config
	report   ReportFunc
	stopCh   chan struct{}
}

// NewMonitor builds a Monitor over the given probes.
func NewMonitor(config Config, report ReportFunc, checkers ...Checker) *Monitor {
	statuses := make(map[string]*Status, len(checkers))
	for _, c := range checkers {
		statuses[c.Name()] = NewStatus()
	}
	return &Monitor{
		checkers: checkers,
		statuses: statuses,
		config:   config,
		report:   report,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the probe loop in a new goroutine. The first round runs
// immediately so readiness does not wait a full interval after startup.
func (m *Monitor) Start() {
	go m.run()
}

// Stop terminates the probe loop.
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) run() {
	m.probeAll()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.probeAll()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) probeAll() {
	for _, c := range m.checkers {
		ctx, cancel := context.WithTimeout(context.Background(), m.config.Timeout)
		result := c.Check(ctx)
		cancel()

		status := m.statuses[c.Name()]
		status.Update(result, m.config)
		m.report(c.Name(), status.Healthy, result.Message)
	}
}
