// Package report folds per-mode suite results into one verdict and renders
// them for humans.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"lab-harness/internal/exitcodes"
	"lab-harness/internal/suite"
)

// Verdict is the outcome of one mode iteration.
type Verdict struct {
	Mode     string
	Title    string
	Port     int
	Result   suite.Result
	Passed   bool
	Duration time.Duration
	// Err is set when the mode never reached its suite (startup failure).
	Err error
}

// SuiteRan reports whether the mode got as far as running its suite.
func (v Verdict) SuiteRan() bool { return v.Err == nil }

// Summary is every verdict of one harness run.
type Summary struct {
	RunID    string
	Selector string
	Host     string
	Started  time.Time
	Finished time.Time
	Verdicts []Verdict
}

// Passed is the logical AND of all verdicts.
func (s *Summary) Passed() bool {
	for _, v := range s.Verdicts {
		if !v.Passed {
			return false
		}
	}
	return true
}

// SuitesRan counts the modes whose suite actually executed.
func (s *Summary) SuitesRan() int {
	n := 0
	for _, v := range s.Verdicts {
		if v.SuiteRan() {
			n++
		}
	}
	return n
}

// Failed returns the verdicts that did not pass.
func (s *Summary) Failed() []Verdict {
	var out []Verdict
	for _, v := range s.Verdicts {
		if !v.Passed {
			out = append(out, v)
		}
	}
	return out
}

// Aggregator prints one line per mode as results arrive and keeps the
// running verdict.
type Aggregator struct {
	out     io.Writer
	log     log.Logger
	summary *Summary
}

func NewAggregator(out io.Writer, logger log.Logger, summary *Summary) *Aggregator {
	if summary.Started.IsZero() {
		summary.Started = time.Now()
	}
	return &Aggregator{out: out, log: logger, summary: summary}
}

// Record folds a finished suite into the run. A result whose counters do not
// add up counts as a failure.
func (a *Aggregator) Record(title, mode string, port int, r suite.Result, d time.Duration) Verdict {
	v := Verdict{Mode: mode, Title: title, Port: port, Result: r, Duration: d, Passed: r.Passed()}
	if err := r.Validate(); err != nil {
		a.log.Error("Suite returned malformed counters", "mode", mode, "err", err)
		v.Passed = false
	}
	if v.Passed {
		fmt.Fprintf(a.out, "%s Test Passed\n", title)
	} else {
		fmt.Fprintf(a.out, "%s Test Failed\n", title)
		fmt.Fprintf(a.out, "Success: %d Threads\n", r.SuccessCnt)
		fmt.Fprintf(a.out, "Runtime Error: %d Threads\n", r.ErrorCnt)
		fmt.Fprintf(a.out, "Time Limit Exceed: %d Threads\n", r.TimeoutCnt)
	}
	a.summary.Verdicts = append(a.summary.Verdicts, v)
	return v
}

// RecordStartupFailure folds a mode whose server never became ready.
func (a *Aggregator) RecordStartupFailure(title, mode string, port int, err error, d time.Duration) Verdict {
	v := Verdict{Mode: mode, Title: title, Port: port, Duration: d, Err: err}
	fmt.Fprintf(a.out, "%s Test Failed\n%v\n", title, err)
	a.summary.Verdicts = append(a.summary.Verdicts, v)
	return v
}

// Overall is the AND of every verdict recorded so far.
func (a *Aggregator) Overall() bool { return a.summary.Passed() }

// Summary stamps the finish time and returns the run summary.
func (a *Aggregator) Summary() *Summary {
	a.summary.Finished = time.Now()
	return a.summary
}

// ExitCode maps a finished run to the process exit status. A non-nil err is
// a fatal harness error (environment, unreapable child, interruption).
func ExitCode(s *Summary, err error) int {
	if err != nil || s == nil {
		return exitcodes.SetupErr
	}
	if len(s.Verdicts) > 0 && s.SuitesRan() == 0 {
		return exitcodes.SetupErr
	}
	if !s.Passed() {
		return exitcodes.TestFailure
	}
	return exitcodes.Success
}
