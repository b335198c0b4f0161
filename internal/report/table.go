package report

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// RenderSummary prints one row per mode plus a total. color picks the
// coloured styles meant for terminals.
func RenderSummary(w io.Writer, s *Summary, color bool) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("Lab8 Results (%s)", formatDuration(s.Finished.Sub(s.Started))))
	t.AppendHeader(table.Row{"Mode", "Port", "Duration", "Total", "Success", "Error", "Timeout", "Status"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Port", Align: text.AlignRight},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Total", Align: text.AlignRight},
		{Name: "Success", Align: text.AlignRight},
		{Name: "Error", Align: text.AlignRight},
		{Name: "Timeout", Align: text.AlignRight},
	})

	var total, success, errs, timeouts int
	for _, v := range s.Verdicts {
		status := statusString(v)
		if !v.SuiteRan() {
			t.AppendRow(table.Row{v.Title, v.Port, formatDuration(v.Duration), "-", "-", "-", "-", status})
			continue
		}
		t.AppendRow(table.Row{
			v.Title, v.Port, formatDuration(v.Duration),
			v.Result.TotalCnt, v.Result.SuccessCnt, v.Result.ErrorCnt, v.Result.TimeoutCnt, status,
		})
		total += v.Result.TotalCnt
		success += v.Result.SuccessCnt
		errs += v.Result.ErrorCnt
		timeouts += v.Result.TimeoutCnt
	}

	overall := "PASS"
	if !s.Passed() {
		overall = "FAIL"
	}
	t.AppendFooter(table.Row{"TOTAL", "", "", total, success, errs, timeouts, overall})

	switch {
	case !color:
		t.SetStyle(table.StyleLight)
	case s.Passed():
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}
	t.Render()
}

func statusString(v Verdict) string {
	switch {
	case !v.SuiteRan():
		return "START FAILED"
	case v.Passed:
		return "PASS"
	default:
		return "FAIL"
	}
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// Ago renders t relative to now, e.g. "3 minutes ago".
func Ago(t time.Time) string {
	return humanize.Time(t)
}
