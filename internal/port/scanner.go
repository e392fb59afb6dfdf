package port

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// DefaultDialTimeout bounds a single readiness probe. It is well below the
// one-second polling interval so a probe never delays the next attempt.
const DefaultDialTimeout = 500 * time.Millisecond

// Scanner checks ports on the local machine.
//
// It asks the OS network stack directly (dial / listen) rather than parsing
// /proc/net/* or shelling out to `ss`, which keeps it unprivileged and
// portable.
type Scanner struct {
	// DialTimeout bounds each Probe. Zero means DefaultDialTimeout.
	DialTimeout time.Duration
}

// NewScanner creates a Scanner with the default dial timeout.
func NewScanner() *Scanner {
	return &Scanner{DialTimeout: DefaultDialTimeout}
}

// Probe attempts a TCP connection to host:port and closes it immediately.
// A nil error means a listener accepted the connection.
func (s *Scanner) Probe(ctx context.Context, host string, port int) error {
	timeout := s.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	_ = conn.Close()
	return nil
}

// IsListening is the boolean form of Probe.
func (s *Scanner) IsListening(ctx context.Context, host string, port int) bool {
	return s.Probe(ctx, host, port) == nil
}

// IsPortAvailable checks whether a single port is free on the host machine.
//
// For TCP, it attempts net.Listen("tcp", ":port"). For UDP, it attempts
// net.ListenPacket("udp", ":port"). If the bind succeeds the port is free
// and the listener is closed again. Binding all interfaces matches how the
// backends listen (0.0.0.0).
//
// Returns true if the port is free, false if it is in use or the protocol
// is unknown.
func (s *Scanner) IsPortAvailable(port int, protocol string) bool {
	addr := fmt.Sprintf(":%d", port)

	switch protocol {
	case "tcp":
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return false
		}
		defer func() { _ = listener.Close() }()
		return true

	case "udp":
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return false
		}
		defer func() { _ = conn.Close() }()
		return true

	default:
		// Unknown protocol: report unavailable.
		return false
	}
}
