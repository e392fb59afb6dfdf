// Package cli: output_test.go contains unit tests for the pure formatting
// functions used by the CLI commands.
//
// These tests verify rendering without touching the process table, the
// network, or the proxy.
package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/webdeploy/internal/model"
)

// withJSON toggles the global --json flag for the duration of a test.
func withJSON(t *testing.T, on bool) {
	t.Helper()
	prev := jsonOutput
	jsonOutput = on
	t.Cleanup(func() { jsonOutput = prev })
}

func TestFormatPIDs(t *testing.T) {
	tests := []struct {
		name string
		pids []int32
		want string
	}{
		{name: "nil returns dash", pids: nil, want: "-"},
		{name: "empty returns dash", pids: []int32{}, want: "-"},
		{name: "single pid", pids: []int32{812}, want: "812"},
		{name: "order is preserved", pids: []int32{812, 90, 4001}, want: "812,90,4001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatPIDs(tt.pids))
		})
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", FormatDuration(0))
	assert.Equal(t, "250ms", FormatDuration(250400*time.Microsecond))
	assert.Equal(t, "1m0s", FormatDuration(60*time.Second))
	assert.Equal(t, "2.3s", FormatDuration(2340*time.Millisecond))
}

func TestStatusIcon(t *testing.T) {
	assert.Equal(t, "✅", StatusIcon(model.StatusOK))
	assert.Equal(t, "⚠️", StatusIcon(model.StatusWarning))
	assert.Equal(t, "❌", StatusIcon(model.StatusFailed))
	assert.Equal(t, "ℹ️", StatusIcon(model.StatusSkipped))
}

func sampleReport() *model.Report {
	return &model.Report{
		RunID: "3f0c",
		Stages: []model.StageResult{
			{Stage: model.StageSource, Status: model.StatusOK, Detail: "a1b2c3d -> e4f5a6b"},
			{Stage: model.StageReadiness, Status: model.StatusWarning, Detail: "2 open, timed out: inference:8000"},
			{Stage: model.StageProxy, Status: model.StatusOK, Detail: "validated and reloaded"},
		},
		Readiness: []model.ReadinessResult{
			{Service: "test", Port: 5000, Open: true, State: model.StateOpen},
			{Service: "primary", Port: 6000, Open: true, State: model.StateOpen, Elapsed: 2 * time.Second},
			{Service: "inference", Port: 8000, State: model.StateTimedOut, Elapsed: 60 * time.Second},
		},
		ProxyReloaded: true,
	}
}

func TestPrintReport_Text(t *testing.T) {
	withJSON(t, false)
	var buf bytes.Buffer

	printReport(&buf, sampleReport())
	out := buf.String()

	assert.Contains(t, out, "Run 3f0c")
	assert.Contains(t, out, "inference:8000")
	assert.Contains(t, out, "timed-out")
	assert.Contains(t, out, "proxy reloaded, 1 service(s) not listening")
}

func TestPrintReport_JSON(t *testing.T) {
	withJSON(t, true)
	var buf bytes.Buffer

	printReport(&buf, sampleReport())

	var decoded model.Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "3f0c", decoded.RunID)
	assert.Len(t, decoded.Readiness, 3)
	assert.True(t, decoded.ProxyReloaded)
}

func TestPrintReapResults_JSONCarriesError(t *testing.T) {
	withJSON(t, true)
	var buf bytes.Buffer

	printReapResults(&buf, []model.ReapResult{
		{Port: 5000},
		{Port: 6000, Killed: []int32{41}, Survivors: []int32{41}, Err: errors.New("port 6000 still bound by pid(s) [41] after kill")},
	})

	var decoded struct {
		Reaped []model.ReapResult `json:"reaped"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded.Reaped, 2)
	assert.Empty(t, decoded.Reaped[0].Error)
	assert.Contains(t, decoded.Reaped[1].Error, "still bound")
}

func TestPrintStatus_HiddenOwner(t *testing.T) {
	withJSON(t, false)
	var buf bytes.Buffer

	printStatus(&buf, []serviceStatus{
		{Service: "primary", Port: 6000, Listening: true, Bound: true},
	})

	assert.Contains(t, buf.String(), "(hidden)")
}

func TestPrintError(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		withJSON(t, false)
		var buf bytes.Buffer
		printError(&buf, "proxy configuration test failed", errors.New("exit status 1"))
		assert.Equal(t, "Error: proxy configuration test failed: exit status 1\n", buf.String())
	})

	t.Run("json", func(t *testing.T) {
		withJSON(t, true)
		var buf bytes.Buffer
		printError(&buf, "proxy configuration test failed", errors.New("exit status 1"))

		var decoded map[string]map[string]string
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "proxy configuration test failed", decoded["error"]["message"])
		assert.Equal(t, "exit status 1", decoded["error"]["detail"])
	})
}

func TestSetupLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("shown", "port", 8000)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"port":8000`)
}
