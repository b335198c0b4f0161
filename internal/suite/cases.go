package suite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultCaseTimeout = 2 * time.Second
	DefaultConcurrency = 4
)

// Options tune how a suite drives its cases.
type Options struct {
	CaseTimeout time.Duration
	Concurrency int
}

func (o Options) withDefaults() Options {
	if o.CaseTimeout <= 0 {
		o.CaseTimeout = DefaultCaseTimeout
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	return o
}

// Outcome classifies a finished case.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeError
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeError:
		return "error"
	case OutcomeTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type testCase struct {
	name string
	run  func(ctx context.Context, c *client) error
}

// CaseResult is the outcome of one scenario.
type CaseResult struct {
	Name     string
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

// caseSuite runs a fixed list of cases concurrently, each under its own
// deadline, and tallies them.
type caseSuite struct {
	name    string
	client  *client
	cases   []testCase
	opts    Options
	results []CaseResult
}

func newCaseSuite(name, host string, port int, opts Options, cases []testCase) *caseSuite {
	return &caseSuite{
		name:   name,
		client: &client{addr: net.JoinHostPort(host, fmt.Sprint(port))},
		cases:  cases,
		opts:   opts.withDefaults(),
	}
}

func (s *caseSuite) RunAllCases(ctx context.Context) {
	results := make([]CaseResult, len(s.cases))
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, tc := range s.cases {
		i, tc := i, tc
		g.Go(func() error {
			results[i] = s.runCase(ctx, tc)
			return nil
		})
	}
	g.Wait()
	s.results = results
}

func (s *caseSuite) runCase(ctx context.Context, tc testCase) CaseResult {
	ctx, cancel := context.WithTimeout(ctx, s.opts.CaseTimeout)
	defer cancel()

	start := time.Now()
	err := tc.run(ctx, s.client)
	return CaseResult{
		Name:     tc.name,
		Outcome:  classify(err),
		Err:      err,
		Duration: time.Since(start),
	}
}

func classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTimeout
	}
	return OutcomeError
}

func (s *caseSuite) Result() Result {
	r := Result{TotalCnt: len(s.results)}
	for _, cr := range s.results {
		switch cr.Outcome {
		case OutcomeSuccess:
			r.SuccessCnt++
		case OutcomeTimeout:
			r.TimeoutCnt++
		default:
			r.ErrorCnt++
		}
	}
	return r
}

func (s *caseSuite) PrintResults(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(s.name)
	t.AppendHeader(table.Row{"Case", "Outcome", "Duration", "Detail"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Detail", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
	})
	for _, cr := range s.results {
		detail := ""
		if cr.Err != nil {
			detail = cr.Err.Error()
		}
		t.AppendRow(table.Row{cr.Name, cr.Outcome, fmt.Sprintf("%.3fs", cr.Duration.Seconds()), detail})
	}
	r := s.Result()
	t.AppendFooter(table.Row{"TOTAL", r.String(), "", ""})
	t.Render()
}
