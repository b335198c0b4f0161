// Package suite defines the contract between the harness and a mode's
// black-box test suite, and ships the suites for the four lab8 modes.
//
// A suite runs its cases against a server that is already accepting
// connections and reports four counters. The harness never looks inside.
package suite

import (
	"context"
	"fmt"
	"io"
)

// Suite exercises one server mode over the network.
type Suite interface {
	// RunAllCases executes every scenario against the server.
	RunAllCases(ctx context.Context)
	// PrintResults writes a human-readable dump of the last run.
	PrintResults(w io.Writer)
	// Result returns the counters of the last run.
	Result() Result
}

// Factory builds a suite bound to a live endpoint.
type Factory func(host string, port int) Suite

// Result holds a suite's counters. A well-formed result satisfies
// TotalCnt == SuccessCnt + ErrorCnt + TimeoutCnt.
type Result struct {
	SuccessCnt int `json:"success_cnt" yaml:"success_cnt"`
	ErrorCnt   int `json:"error_cnt" yaml:"error_cnt"`
	TimeoutCnt int `json:"timeout_cnt" yaml:"timeout_cnt"`
	TotalCnt   int `json:"total_cnt" yaml:"total_cnt"`
}

// Passed is the verdict for one mode.
func (r Result) Passed() bool { return r.SuccessCnt == r.TotalCnt }

// Validate checks the counters are non-negative and add up.
func (r Result) Validate() error {
	if r.SuccessCnt < 0 || r.ErrorCnt < 0 || r.TimeoutCnt < 0 || r.TotalCnt < 0 {
		return fmt.Errorf("negative counter in %+v", r)
	}
	if sum := r.SuccessCnt + r.ErrorCnt + r.TimeoutCnt; sum != r.TotalCnt {
		return fmt.Errorf("counters do not add up: %d+%d+%d != %d", r.SuccessCnt, r.ErrorCnt, r.TimeoutCnt, r.TotalCnt)
	}
	return nil
}

func (r Result) String() string {
	return fmt.Sprintf("%d/%d passed (errors=%d, timeouts=%d)", r.SuccessCnt, r.TotalCnt, r.ErrorCnt, r.TimeoutCnt)
}
