package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lab-harness/internal/report"
	"lab-harness/internal/suite"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testSummary(id string, started time.Time) *report.Summary {
	return &report.Summary{
		RunID:    id,
		Selector: "all",
		Host:     "127.0.0.1",
		Started:  started,
		Finished: started.Add(3 * time.Second),
		Verdicts: []report.Verdict{
			{Mode: "parse", Title: "Lab8 Structure Parse", Port: 4000, Passed: true,
				Result: suite.Result{SuccessCnt: 5, TotalCnt: 5}, Duration: 1200 * time.Millisecond},
			{Mode: "map", Title: "Lab8 URI Mapping", Port: 4001,
				Result: suite.Result{SuccessCnt: 4, ErrorCnt: 1, TotalCnt: 5}, Duration: 800 * time.Millisecond},
			{Mode: "full", Title: "Lab8 Resource Retrieve", Port: 4002,
				Err: errors.New("failed to start server"), Duration: 3 * time.Second},
		},
	}
}

func TestRecordAndList(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordRun(testSummary("older", base), 1))
	require.NoError(t, s.RecordRun(testSummary("newer", base.Add(time.Hour)), 1))

	runs, err := s.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "newer", runs[0].ID)
	require.Equal(t, "older", runs[1].ID)
	require.Equal(t, "all", runs[0].ModeSelector)
	require.Equal(t, 1, runs[0].ExitCode)
	require.True(t, runs[1].StartedAt.Equal(base))
	require.True(t, runs[1].FinishedAt.Equal(base.Add(3*time.Second)))

	runs, err = s.ListRuns(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func TestModeResults(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	require.NoError(t, s.RecordRun(testSummary("run-1", time.Now()), 1))

	results, err := s.ModeResults("run-1")
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.Equal(t, "parse", results[0].Mode)
	require.True(t, results[0].Passed)
	require.Equal(t, 1200*time.Millisecond, results[0].Duration)

	require.False(t, results[1].Passed)
	require.Equal(t, 1, results[1].ErrorCnt)
	require.Equal(t, 5, results[1].TotalCnt)

	require.Equal(t, "failed to start server", results[2].Error)

	none, err := s.ModeResults("missing")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestRecordRunRejectsDuplicate(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	sum := testSummary("dup", time.Now())
	require.NoError(t, s.RecordRun(sum, 0))
	require.Error(t, s.RecordRun(sum, 0))

	// The failed transaction left no extra rows behind.
	results, err := s.ModeResults("dup")
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.Error(t, s.RecordRun(&report.Summary{}, 0))
}
