package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"lab-harness/internal/report"
	"lab-harness/internal/store"
)

const (
	limitFlag = "limit"
	runFlag   = "run"
)

func newHistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List runs recorded with --db",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  limitFlag,
				Value: 20,
				Usage: "Number of runs to list; 0 lists all",
			},
			&cli.StringFlag{
				Name:  runFlag,
				Usage: "Show per-mode results for this run id",
			},
		},
		Action: historyAction,
	}
}

func historyAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.DB == "" {
		return fmt.Errorf("history needs --db")
	}
	st, err := store.Open(cfg.DB)
	if err != nil {
		return err
	}
	defer st.Close()

	if id := c.String(runFlag); id != "" {
		results, err := st.ModeResults(id)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			return fmt.Errorf("no results recorded for run %s", id)
		}
		renderModeResults(c.App.Writer, results)
		return nil
	}

	runs, err := st.ListRuns(c.Int(limitFlag))
	if err != nil {
		return err
	}
	renderRuns(c.App.Writer, runs)
	return nil
}

func renderRuns(w io.Writer, runs []store.RunRow) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Run", "Started", "Took", "Mode", "Host", "Exit"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			r.ID, report.Ago(r.StartedAt),
			humanize.RelTime(r.StartedAt, r.FinishedAt, "", ""),
			r.ModeSelector, r.Host, r.ExitCode,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "RUNS", len(runs)})
	t.Render()
}

func renderModeResults(w io.Writer, results []store.ModeResultRow) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Mode", "Port", "Passed", "Success", "Error", "Timeout", "Total", "Duration", "Error Detail"})
	for _, m := range results {
		detail := m.Error
		if len(detail) > 60 {
			detail = detail[:57] + "..."
		}
		t.AppendRow(table.Row{
			m.Title, m.Port, m.Passed, m.SuccessCnt, m.ErrorCnt, m.TimeoutCnt, m.TotalCnt,
			m.Duration, detail,
		})
	}
	t.Render()
}
