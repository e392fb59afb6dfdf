package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/shinji-kodama/webdeploy/internal/model"
)

// printReport writes the run report as tables or, with --json, as a
// single JSON document.
func printReport(w io.Writer, report *model.Report) {
	if report == nil {
		return
	}
	if IsJSONOutput() {
		printJSON(w, report)
		return
	}

	fmt.Fprintf(w, "Run %s\n\n", report.RunID)

	table := tablewriter.NewWriter(w)
	table.Header("Stage", "Status", "Duration", "Detail")
	for _, st := range report.Stages {
		table.Append(
			string(st.Stage),
			StatusIcon(st.Status)+" "+string(st.Status),
			FormatDuration(st.Duration),
			st.Detail,
		)
	}
	table.Render()

	if len(report.Readiness) > 0 {
		fmt.Fprintln(w)
		renderReadiness(w, report.Readiness)
	}

	fmt.Fprintln(w)
	switch {
	case report.ProxyReloaded && len(report.TimedOut()) == 0:
		fmt.Fprintln(w, "✅ deployment complete")
	case report.ProxyReloaded:
		fmt.Fprintf(w, "⚠️ proxy reloaded, %d service(s) not listening\n", len(report.TimedOut()))
	default:
		fmt.Fprintln(w, "❌ proxy not reloaded")
	}
}

// printReadiness writes poll results for the wait command.
func printReadiness(w io.Writer, results []model.ReadinessResult) {
	if IsJSONOutput() {
		printJSON(w, map[string]interface{}{"readiness": nonNil(results)})
		return
	}
	renderReadiness(w, results)
}

func renderReadiness(w io.Writer, results []model.ReadinessResult) {
	table := tablewriter.NewWriter(w)
	table.Header("Service", "Port", "State", "Elapsed")
	for _, r := range results {
		table.Append(
			r.Service,
			strconv.Itoa(r.Port),
			ReadinessIcon(r)+" "+r.State.String(),
			FormatDuration(r.Elapsed),
		)
	}
	table.Render()
}

// printReapResults writes the reap command's results.
func printReapResults(w io.Writer, results []model.ReapResult) {
	if IsJSONOutput() {
		for i := range results {
			if results[i].Err != nil {
				results[i].Error = results[i].Err.Error()
			}
		}
		printJSON(w, map[string]interface{}{"reaped": nonNil(results)})
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("Port", "Killed", "Result")
	for _, r := range results {
		result := "✅ free"
		switch {
		case r.Err != nil:
			result = "❌ " + r.Err.Error()
		case !r.Freed():
			result = "❌ still bound by " + FormatPIDs(r.Survivors)
		}
		table.Append(strconv.Itoa(r.Port), FormatPIDs(r.Killed), result)
	}
	table.Render()
}

// printStatus writes the status command's rows.
func printStatus(w io.Writer, rows []serviceStatus) {
	if IsJSONOutput() {
		printJSON(w, map[string]interface{}{"services": nonNil(rows)})
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("Service", "Port", "Listening", "PIDs", "Processes")
	for _, r := range rows {
		listening := "❌ no"
		if r.Listening {
			listening = "✅ yes"
		}
		pids := FormatPIDs(r.PIDs)
		if r.Bound && len(r.PIDs) == 0 {
			pids = "(hidden)"
		}
		procs := "-"
		if len(r.Processes) > 0 {
			procs = strings.Join(r.Processes, ",")
		}
		table.Append(r.Service, strconv.Itoa(r.Port), listening, pids, procs)
	}
	table.Render()
}

func printJSON(w io.Writer, v interface{}) {
	// MarshalIndent produces human-readable JSON with 2-space indentation.
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(data))
}

// nonNil turns a nil slice into an empty one so JSON shows [] not null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// StatusIcon returns the emoji tag used for a stage status.
func StatusIcon(s model.StageStatus) string {
	switch s {
	case model.StatusOK:
		return "✅"
	case model.StatusSkipped:
		return "ℹ️"
	case model.StatusWarning:
		return "⚠️"
	case model.StatusFailed:
		return "❌"
	default:
		return "?"
	}
}

// ReadinessIcon returns the emoji tag for a readiness result.
func ReadinessIcon(r model.ReadinessResult) string {
	switch r.State {
	case model.StateOpen:
		return "✅"
	case model.StateTimedOut:
		return "❌"
	default:
		return "⏳"
	}
}

// FormatPIDs renders PIDs as a comma-separated list, or "-" when empty.
//
// Example:
//
//	[]int32{812, 90} → "812,90"
//	nil              → "-"
func FormatPIDs(pids []int32) string {
	if len(pids) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(pids))
	for _, p := range pids {
		parts = append(parts, strconv.FormatInt(int64(p), 10))
	}
	return strings.Join(parts, ",")
}

// FormatDuration rounds d for display: milliseconds below one second,
// tenths of a second above.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
