// Package readiness waits for a TCP listener to come up.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

const (
	DefaultTimeout      = 3 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

var (
	ErrReadinessTimeout   = errors.New("timed out waiting for listener")
	ErrProcessExitedEarly = errors.New("server process exited early")
)

// Watched is a process whose exit aborts the wait. Done is closed once the
// process has exited.
type Watched interface {
	Done() <-chan struct{}
}

type Options struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}

// WaitUntilReachable polls addr until a TCP connect succeeds, the timeout
// expires, or watched exits. watched may be nil.
func WaitUntilReachable(ctx context.Context, addr string, opts Options, watched Watched) error {
	opts = opts.withDefaults()
	var done <-chan struct{}
	if watched != nil {
		done = watched.Done()
	}
	dialer := net.Dialer{Timeout: opts.PollInterval}
	deadline := time.Now().Add(opts.Timeout)

	for !time.Now().After(deadline) {
		select {
		case <-done:
			return ErrProcessExitedEarly
		default:
		}

		tick := time.NewTimer(opts.PollInterval)
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			tick.Stop()
			conn.Close()
			return nil
		}
		if ctx.Err() != nil {
			tick.Stop()
			return ctx.Err()
		}

		select {
		case <-tick.C:
		case <-done:
			tick.Stop()
			return ErrProcessExitedEarly
		case <-ctx.Done():
			tick.Stop()
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %s after %s", ErrReadinessTimeout, addr, opts.Timeout)
}
