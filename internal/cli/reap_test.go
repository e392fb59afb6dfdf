package cli

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/webdeploy/internal/config"
	"github.com/shinji-kodama/webdeploy/internal/model"
	"github.com/shinji-kodama/webdeploy/internal/reaper"
)

// stubTable is an in-memory process table. Kill removes a PID from its port
// unless the PID is listed in stubborn.
type stubTable struct {
	mu       sync.Mutex
	bound    map[int][]int32
	stubborn map[int32]bool
	killed   []int32
}

func (s *stubTable) PIDsOnPort(_ context.Context, port int) ([]int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int32(nil), s.bound[port]...), nil
}

func (s *stubTable) Kill(_ context.Context, pid int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killed = append(s.killed, pid)
	if s.stubborn[pid] {
		return nil
	}
	for port, pids := range s.bound {
		kept := pids[:0]
		for _, p := range pids {
			if p != pid {
				kept = append(kept, p)
			}
		}
		s.bound[port] = kept
	}
	return nil
}

// useTable makes the reap and status commands run against table.
func useTable(t *testing.T, table reaper.ProcessTable) {
	t.Helper()
	orig := newReaper
	newReaper = func(_ *config.Config, logger *slog.Logger) *reaper.Reaper {
		return reaper.New(table,
			reaper.WithLogger(logger),
			reaper.WithSettle(time.Millisecond),
			reaper.WithRechecks(2),
		)
	}
	t.Cleanup(func() { newReaper = orig })
}

func TestReapCommand_FreesPorts(t *testing.T) {
	table := &stubTable{bound: map[int][]int32{7200: {4101, 4102}}}
	useTable(t, table)

	out, err := execute(t, "--config", writeConfig(t, 7200), "reap")
	require.NoError(t, err)

	assert.ElementsMatch(t, []int32{4101, 4102}, table.killed)
	assert.Contains(t, out, "7200")
	assert.Contains(t, out, "free")
}

func TestReapCommand_StillBoundExitsOne(t *testing.T) {
	table := &stubTable{
		bound:    map[int][]int32{7201: {4201}},
		stubborn: map[int32]bool{4201: true},
	}
	useTable(t, table)

	out, err := execute(t, "--config", writeConfig(t, 7201), "reap")
	require.Error(t, err)

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitGeneralError, cliErr.Code)
	assert.Contains(t, cliErr.Message, "7201")
	assert.Contains(t, out, "still bound by 4201")
}

func TestReapCommand_PortFlagOverridesConfig(t *testing.T) {
	table := &stubTable{bound: map[int][]int32{7202: {4301}, 7203: {4302}}}
	useTable(t, table)

	_, err := execute(t, "--config", writeConfig(t, 7202), "reap", "--port", "7203")
	require.NoError(t, err)

	assert.Equal(t, []int32{4302}, table.killed)
}

func TestReapCommand_NothingBound(t *testing.T) {
	table := &stubTable{bound: map[int][]int32{}}
	useTable(t, table)

	out, err := execute(t, "--json", "--config", writeConfig(t, 7204), "reap")
	require.NoError(t, err)
	assert.Empty(t, table.killed)

	var decoded struct {
		Reaped []model.ReapResult `json:"reaped"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded.Reaped, 1)
	assert.Equal(t, 7204, decoded.Reaped[0].Port)
	assert.Empty(t, decoded.Reaped[0].Killed)
}

func TestStatusCommand_JSON(t *testing.T) {
	table := &stubTable{bound: map[int][]int32{7205: {4401}}}
	useTable(t, table)

	out, err := execute(t, "--json", "--config", writeConfig(t, 7205), "status")
	require.NoError(t, err)
	assert.Empty(t, table.killed, "status must not kill anything")

	var decoded struct {
		Services []serviceStatus `json:"services"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded.Services, 1)

	row := decoded.Services[0]
	assert.Equal(t, "probe", row.Service)
	assert.Equal(t, 7205, row.Port)
	assert.True(t, row.Bound)
	assert.Equal(t, []int32{4401}, row.PIDs)
	assert.False(t, row.Listening)
}

func TestStatusCommand_Table(t *testing.T) {
	useTable(t, &stubTable{bound: map[int][]int32{}})

	out, err := execute(t, "--config", writeConfig(t, 7206), "status")
	require.NoError(t, err)
	assert.Contains(t, out, "probe")
	assert.Contains(t, out, "7206")
	assert.Contains(t, out, "no")
}
