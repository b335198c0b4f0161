// Package harness drives the lab server through its modes: one child per
// mode, started, tested and stopped before the next one begins.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"lab-harness/internal/endpoint"
	"lab-harness/internal/readiness"
	"lab-harness/internal/report"
	"lab-harness/internal/supervisor"
)

// Config is what the runner needs to spawn each child.
type Config struct {
	Exe        string
	AssetsRoot string
	Dir        string
	Host       string
	// Port is reused for every mode when non-zero.
	Port int
	Env  []string

	Readiness    readiness.Options
	GracePeriod  time.Duration
	KillWait     time.Duration
	DrainTimeout time.Duration
	CaptureBytes int64
}

// childServer is the part of *supervisor.Server the runner drives.
type childServer interface {
	Stop() error
	Alive() bool
	Pid() int
	ExitErr() error
}

type Runner struct {
	cfg   Config
	table ModeTable
	log   log.Logger
	out   io.Writer

	// start is swapped in tests that need to observe spawns.
	start func(context.Context, supervisor.Options) (childServer, error)
}

// NewRunner returns a runner printing verdicts and suite output to out.
func NewRunner(cfg Config, table ModeTable, logger log.Logger, out io.Writer) *Runner {
	return &Runner{cfg: cfg, table: table, log: logger, out: out, start: startServer}
}

func startServer(ctx context.Context, opts supervisor.Options) (childServer, error) {
	srv, err := supervisor.Start(ctx, opts)
	if err != nil {
		return nil, err
	}
	return srv, nil
}

// CheckEnvironment verifies the executable and, when one of modes needs it,
// the assets directory. Nothing is spawned.
func (r *Runner) CheckEnvironment(modes []Mode) error {
	info, err := os.Stat(r.cfg.Exe)
	if err != nil {
		return &EnvironmentError{Err: fmt.Errorf("server executable: %w", err)}
	}
	if info.IsDir() {
		return NewEnvironmentError("server executable %s is a directory", r.cfg.Exe)
	}
	if info.Mode()&0o111 == 0 {
		return NewEnvironmentError("server executable %s is not executable", r.cfg.Exe)
	}
	if !r.table.RequiresAssets(modes) {
		return nil
	}
	info, err = os.Stat(r.cfg.AssetsRoot)
	if err != nil {
		return &EnvironmentError{Err: fmt.Errorf("assets directory: %w", err)}
	}
	if !info.IsDir() {
		return NewEnvironmentError("assets path %s is not a directory", r.cfg.AssetsRoot)
	}
	return nil
}

// Run checks the environment and then runs every mode in order. Suite
// failures and startup failures end up in the summary; the returned error is
// reserved for problems that stop the whole run.
func (r *Runner) Run(ctx context.Context, modes []Mode) (*report.Summary, error) {
	if len(modes) == 0 {
		return nil, NewEnvironmentError("no modes selected")
	}
	for _, m := range modes {
		if _, ok := r.table.Lookup(m); !ok {
			return nil, NewEnvironmentError("no suite registered for mode %q", m)
		}
	}
	if err := r.CheckEnvironment(modes); err != nil {
		return nil, err
	}

	summary := &report.Summary{RunID: uuid.NewString(), Host: r.cfg.Host, Started: time.Now()}
	agg := report.NewAggregator(r.out, r.log, summary)
	log := r.log.With("run_id", summary.RunID)

	for _, m := range modes {
		if err := ctx.Err(); err != nil {
			return agg.Summary(), NewRuntimeError(fmt.Errorf("run interrupted before mode %s: %w", m, err))
		}
		if err := r.runMode(ctx, log, agg, m); err != nil {
			return agg.Summary(), err
		}
	}
	sum := agg.Summary()
	log.Info("Run finished", "passed", sum.Passed(), "modes", len(sum.Verdicts))
	return sum, nil
}

func (r *Runner) runMode(ctx context.Context, log log.Logger, agg *report.Aggregator, m Mode) (err error) {
	spec, _ := r.table.Lookup(m)
	began := time.Now()

	ep, err := endpoint.Resolve(r.cfg.Host, r.cfg.Port)
	if err != nil {
		return NewEnvironmentError("mode %s: %v", m, err)
	}
	log = log.With("mode", m, "host", ep.Host, "port", ep.Port)
	log.Info("Starting server")

	opts := supervisor.Options{
		Exe:          r.cfg.Exe,
		Endpoint:     ep,
		Mode:         string(m),
		Dir:          r.cfg.Dir,
		Env:          r.cfg.Env,
		Readiness:    r.cfg.Readiness,
		GracePeriod:  r.cfg.GracePeriod,
		KillWait:     r.cfg.KillWait,
		DrainTimeout: r.cfg.DrainTimeout,
		CaptureBytes: r.cfg.CaptureBytes,
		Logger:       log,
	}
	if spec.RequiresAssets {
		opts.AssetsRoot = r.cfg.AssetsRoot
	}

	srv, err := r.start(ctx, opts)
	if err != nil {
		if errors.Is(err, supervisor.ErrUnreapable) {
			return NewRuntimeError(err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return NewRuntimeError(fmt.Errorf("mode %s: %w", m, ctxErr))
		}
		log.Error("Server failed to start", "err", err)
		agg.RecordStartupFailure(spec.Title, string(m), ep.Port, err, time.Since(began))
		return nil
	}
	defer func() {
		if stopErr := srv.Stop(); stopErr != nil {
			log.Error("Failed to stop server", "pid", srv.Pid(), "err", stopErr)
			err = errors.Join(err, NewRuntimeError(stopErr))
		}
	}()

	s := spec.NewSuite(ep.Host, ep.Port)
	s.RunAllCases(ctx)
	s.PrintResults(r.out)
	res := s.Result()

	if !srv.Alive() {
		log.Warn("Server exited while the suite was running", "err", srv.ExitErr())
	}
	v := agg.Record(spec.Title, string(m), ep.Port, res, time.Since(began))
	log.Info("Mode finished", "passed", v.Passed, "result", res.String())

	if ctxErr := ctx.Err(); ctxErr != nil {
		return NewRuntimeError(fmt.Errorf("mode %s: %w", m, ctxErr))
	}
	return nil
}
