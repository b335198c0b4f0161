// Package supervisor owns the lifecycle of one lab server child process.
//
// Start spawns the executable with the mode's arguments, captures its output
// into bounded buffers and blocks until the endpoint accepts connections.
// Stop terminates it: SIGTERM to the process group, a bounded grace period,
// then SIGKILL and a second bounded wait. After Stop returns nil the child is
// reaped.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/log"

	"lab-harness/internal/endpoint"
	"lab-harness/internal/readiness"
)

const (
	DefaultGracePeriod  = 2 * time.Second
	DefaultKillWait     = 2 * time.Second
	DefaultDrainTimeout = 1 * time.Second
)

// ErrUnreapable means SIGKILL did not bring the child down within KillWait.
// The harness cannot vouch for the host any more and must abort the run.
var ErrUnreapable = errors.New("server process could not be reaped")

// StartupFailure is returned by Start when the server never became reachable.
// The child is dead by the time the caller sees it.
type StartupFailure struct {
	Mode   string
	Addr   string
	Cause  error
	Stdout []byte
	Stderr []byte
	// Truncated is set when either stream outgrew the capture buffer.
	Truncated bool
}

func (e *StartupFailure) Error() string {
	return fmt.Sprintf("failed to start server (mode=%s, addr=%s): %v\nstdout:\n%s\nstderr:\n%s",
		e.Mode, e.Addr, e.Cause, e.Stdout, e.Stderr)
}

func (e *StartupFailure) Unwrap() error { return e.Cause }

type Options struct {
	Exe      string
	Endpoint endpoint.Endpoint
	Mode     string
	// AssetsRoot is passed as -root when non-empty.
	AssetsRoot string
	Dir        string
	// Env is appended to the harness environment.
	Env []string

	Readiness    readiness.Options
	GracePeriod  time.Duration
	KillWait     time.Duration
	DrainTimeout time.Duration
	CaptureBytes int64

	Logger log.Logger
}

func (o Options) withDefaults() Options {
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.KillWait <= 0 {
		o.KillWait = DefaultKillWait
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	if o.CaptureBytes <= 0 {
		o.CaptureBytes = DefaultCaptureBytes
	}
	if o.Logger == nil {
		o.Logger = log.Root()
	}
	return o
}

// Argv builds the command line the lab server contract expects.
func Argv(exe string, ep endpoint.Endpoint, mode, assetsRoot string) []string {
	argv := []string{exe, "-host", ep.Host, "-port", strconv.Itoa(ep.Port), "-mode", mode}
	if assetsRoot != "" {
		argv = append(argv, "-root", assetsRoot)
	}
	return argv
}

// Server is a running (or finished) child. It is not safe to share between
// mode iterations.
type Server struct {
	Argv     []string
	Dir      string
	Endpoint endpoint.Endpoint

	opts   Options
	log    log.Logger
	cmd    *exec.Cmd
	stdout *tailBuffer
	stderr *tailBuffer

	done    chan struct{}
	waitErr error

	mu sync.Mutex
}

// Start spawns the server and returns once it accepts TCP connections.
func Start(ctx context.Context, opts Options) (*Server, error) {
	opts = opts.withDefaults()
	argv := Argv(opts.Exe, opts.Endpoint, opts.Mode, opts.AssetsRoot)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), opts.Env...)
	s := &Server{
		Argv:     argv,
		Dir:      opts.Dir,
		Endpoint: opts.Endpoint,
		opts:     opts,
		log:      opts.Logger.With("mode", opts.Mode, "addr", opts.Endpoint.String()),
		cmd:      cmd,
		stdout:   newTailBuffer(opts.CaptureBytes),
		stderr:   newTailBuffer(opts.CaptureBytes),
		done:     make(chan struct{}),
	}
	cmd.Stdout = s.stdout
	cmd.Stderr = s.stderr
	// Bounds how long Wait keeps copying output after the child is gone, in
	// case something it forked still holds the pipes.
	cmd.WaitDelay = opts.DrainTimeout
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, &StartupFailure{Mode: opts.Mode, Addr: opts.Endpoint.String(), Cause: err}
	}
	s.log.Debug("Spawned server", "pid", cmd.Process.Pid, "argv", argv)

	go func() {
		s.waitErr = cmd.Wait()
		close(s.done)
	}()

	if err := readiness.WaitUntilReachable(ctx, opts.Endpoint.String(), opts.Readiness, s); err != nil {
		stopErr := s.forceStop()
		failure := s.startupFailure(err)
		s.log.Warn("Server did not become ready", "err", err, "stderr_bytes", len(failure.Stderr))
		if stopErr != nil {
			return nil, errors.Join(failure, stopErr)
		}
		return nil, failure
	}
	s.log.Info("Server ready", "pid", cmd.Process.Pid)
	return s, nil
}

func (s *Server) startupFailure(cause error) *StartupFailure {
	stdout, outTrunc := s.stdout.Snapshot()
	stderr, errTrunc := s.stderr.Snapshot()
	if outTrunc || errTrunc {
		s.log.Debug("Captured output truncated", "limit", humanize.IBytes(uint64(s.opts.CaptureBytes)))
	}
	return &StartupFailure{
		Mode:      s.opts.Mode,
		Addr:      s.Endpoint.String(),
		Cause:     cause,
		Stdout:    stdout,
		Stderr:    stderr,
		Truncated: outTrunc || errTrunc,
	}
}

// Done is closed once the child has exited and been reaped.
func (s *Server) Done() <-chan struct{} { return s.done }

func (s *Server) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Server) Pid() int { return s.cmd.Process.Pid }

// ExitErr blocks until the child is reaped and returns its wait error.
func (s *Server) ExitErr() error {
	<-s.done
	return s.waitErr
}

// Stdout returns the retained tail of the child's stdout.
func (s *Server) Stdout() []byte {
	b, _ := s.stdout.Snapshot()
	return b
}

// Stderr returns the retained tail of the child's stderr.
func (s *Server) Stderr() []byte {
	b, _ := s.stderr.Snapshot()
	return b
}

// Stop terminates the child, escalating to SIGKILL after the grace period.
// Once the child has exited only a SIGKILL to its group is sent, which sweeps
// up anything it left behind, so Stop is safe to call repeatedly.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Alive() {
		s.killOrphans()
		return nil
	}
	if err := terminate(s.cmd.Process); err != nil {
		s.log.Debug("SIGTERM failed", "err", err)
	}
	if s.waitDone(s.opts.GracePeriod) {
		s.log.Debug("Server stopped")
		return nil
	}
	s.log.Warn("Server ignored SIGTERM, killing", "grace", s.opts.GracePeriod)
	return s.killLocked()
}

// forceStop skips the grace period. Used when startup already failed.
func (s *Server) forceStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Alive() {
		s.killOrphans()
		return nil
	}
	return s.killLocked()
}

// killOrphans signals the group of an exited leader. Children it forked keep
// the group alive and may still hold the port.
func (s *Server) killOrphans() {
	if err := kill(s.cmd.Process); err != nil {
		s.log.Debug("SIGKILL to exited group failed", "err", err)
	}
}

func (s *Server) killLocked() error {
	if err := kill(s.cmd.Process); err != nil {
		s.log.Debug("SIGKILL failed", "err", err)
	}
	if s.waitDone(s.opts.KillWait) {
		return nil
	}
	s.log.Error("Server survived SIGKILL", "pid", s.cmd.Process.Pid, "wait", s.opts.KillWait)
	return fmt.Errorf("%w: pid %d still running %s after SIGKILL", ErrUnreapable, s.cmd.Process.Pid, s.opts.KillWait)
}

func (s *Server) waitDone(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.done:
		return true
	case <-t.C:
		return false
	}
}
