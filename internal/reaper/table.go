package reaper

import (
	"context"
	"fmt"
	"sort"
	"syscall"

	gnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessTable is the view of the OS the reaper needs: who holds a port,
// and a way to kill them.
type ProcessTable interface {
	// PIDsOnPort returns the distinct PIDs with a TCP socket bound to the
	// given local port, sorted ascending. An empty result is not an error.
	PIDsOnPort(ctx context.Context, port int) ([]int32, error)

	// Kill sends a non-graceful kill signal to pid.
	Kill(ctx context.Context, pid int32) error
}

// SystemTable reads the host's socket table through gopsutil, which walks
// /proc/net/{tcp,udp}* and /proc/<pid>/fd on Linux and uses the native APIs
// elsewhere.
type SystemTable struct {
	// Kind selects the socket families to inspect. Defaults to "tcp"
	// (TCP over IPv4 and IPv6). The services are TCP listeners, so a UDP
	// socket on the same number belongs to someone else.
	Kind string
}

// NewSystemTable creates a SystemTable inspecting TCP sockets.
func NewSystemTable() *SystemTable {
	return &SystemTable{Kind: "tcp"}
}

// PIDsOnPort matches on the local address only. Remote-port matches (a
// client that happens to talk to some other host's :5000) are not owners of
// the local port and are left alone.
func (t *SystemTable) PIDsOnPort(ctx context.Context, port int) ([]int32, error) {
	kind := t.Kind
	if kind == "" {
		kind = "tcp"
	}

	conns, err := gnet.ConnectionsWithContext(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("read socket table: %w", err)
	}
	return pidsFromConnections(conns, port), nil
}

// pidsFromConnections filters a socket table snapshot down to the distinct
// owners of a local TCP port. PID 0 means the owner could not be resolved
// (usually a permission issue) and is skipped.
func pidsFromConnections(conns []gnet.ConnectionStat, port int) []int32 {
	seen := make(map[int32]bool)
	for _, c := range conns {
		if c.Type != syscall.SOCK_STREAM || int(c.Laddr.Port) != port || c.Pid <= 0 {
			continue
		}
		seen[c.Pid] = true
	}

	pids := make([]int32, 0, len(seen))
	for pid := range seen {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}

// Kill sends SIGKILL (TerminateProcess on Windows).
func (t *SystemTable) Kill(ctx context.Context, pid int32) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := p.KillWithContext(ctx); err != nil {
		return fmt.Errorf("kill process %d: %w", pid, err)
	}
	return nil
}

// ProcessName returns the executable name of pid, or "" when it cannot be
// read. It is used only to make log lines and the status table readable.
func ProcessName(ctx context.Context, pid int32) string {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return ""
	}
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return ""
	}
	return name
}
