package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker probes a dependency that speaks a non-HTTP protocol, such as
// the blob store's S3 endpoint, by opening and closing a TCP connection.
type TCPChecker struct {
	// DependencyName identifies the dependency in readiness output.
	DependencyName string

	// Address is the TCP address to connect to (e.g. "minio:9000").
	Address string

	// Timeout is the connection timeout (default: 5 seconds)
	Timeout time.Duration
}

// NewTCPChecker creates a new TCP reachability probe.
func NewTCPChecker(name, address string) *TCPChecker {
	return &TCPChecker{
		DependencyName: name,
		Address:        address,
		Timeout:        5 * time.Second,
	}
}

// Check performs the TCP probe.
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{
		Timeout: t.Timeout,
	}

	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("connection failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer conn.Close()

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("TCP connection to %s successful", t.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Name returns the dependency name.
func (t *TCPChecker) Name() string {
	return t.DependencyName
}

// WithTimeout sets the connection timeout.
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}
