//go:build unix

package supervisor

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"lab-harness/internal/endpoint"
	"lab-harness/internal/readiness"
)

const childEnv = "SUPERVISOR_TEST_CHILD"

// TestMain lets the test binary double as the supervised server. When
// SUPERVISOR_TEST_CHILD is set the process behaves as the named fake server
// instead of running tests.
func TestMain(m *testing.M) {
	if behaviour := os.Getenv(childEnv); behaviour != "" {
		runChild(behaviour)
		return
	}
	os.Exit(m.Run())
}

func runChild(behaviour string) {
	fs := flag.NewFlagSet("child", flag.ExitOnError)
	host := fs.String("host", "127.0.0.1", "")
	port := fs.Int("port", 0, "")
	mode := fs.String("mode", "", "")
	root := fs.String("root", "", "")
	fs.Parse(os.Args[1:])

	fmt.Printf("child mode=%s root=%s\n", *mode, *root)

	switch behaviour {
	case "exit":
		fmt.Fprintln(os.Stderr, "boom: cannot bind")
		os.Exit(3)
	case "silent":
		time.Sleep(time.Minute)
		os.Exit(0)
	case "flood":
		chunk := strings.Repeat("x", 4096)
		for i := 0; i < 256; i++ {
			fmt.Print(chunk)
		}
		fmt.Print("TAIL")
		os.Exit(1)
	case "ignore-term":
		signal.Ignore(syscall.SIGTERM)
	case "orphan":
		// Leaves a child behind in the same process group.
		cmd := exec.Command(os.Args[0])
		cmd.Env = append(os.Environ(), childEnv+"=silent")
		if err := cmd.Start(); err != nil {
			fmt.Fprintln(os.Stderr, "spawn:", err)
			os.Exit(1)
		}
		fmt.Printf("grandchild pid=%d\n", cmd.Process.Pid)
	}

	l, err := net.Listen("tcp", net.JoinHostPort(*host, fmt.Sprint(*port)))
	if err != nil {
		fmt.Fprintln(os.Stderr, "listen:", err)
		os.Exit(1)
	}
	for {
		conn, err := l.Accept()
		if err != nil {
			os.Exit(1)
		}
		conn.Close()
	}
}

func processExists(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// processGone also accepts a zombie waiting on whoever inherited it.
func processGone(pid int) bool {
	if !processExists(pid) {
		return true
	}
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return !processExists(pid)
	}
	// The state follows the parenthesised command name.
	fields := strings.Fields(string(stat[bytes.LastIndexByte(stat, ')')+1:]))
	return len(fields) > 0 && fields[0] == "Z"
}

func testOptions(t *testing.T, behaviour, mode string) Options {
	t.Helper()
	port, err := endpoint.Allocate("127.0.0.1")
	require.NoError(t, err)
	return Options{
		Exe:          os.Args[0],
		Endpoint:     endpoint.Endpoint{Host: "127.0.0.1", Port: port},
		Mode:         mode,
		Env:          []string{childEnv + "=" + behaviour},
		Readiness:    readiness.Options{Timeout: 5 * time.Second, PollInterval: 50 * time.Millisecond},
		GracePeriod:  time.Second,
		KillWait:     time.Second,
		DrainTimeout: 500 * time.Millisecond,
		Logger:       log.NewLogger(log.DiscardHandler()),
	}
}

func TestArgv(t *testing.T) {
	t.Parallel()
	ep := endpoint.Endpoint{Host: "127.0.0.1", Port: 8080}

	require.Equal(t,
		[]string{"/bin/lab8", "-host", "127.0.0.1", "-port", "8080", "-mode", "echo"},
		Argv("/bin/lab8", ep, "echo", ""))
	require.Equal(t,
		[]string{"/bin/lab8", "-host", "127.0.0.1", "-port", "8080", "-mode", "full", "-root", "/srv/assets"},
		Argv("/bin/lab8", ep, "full", "/srv/assets"))
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	opts := testOptions(t, "listen", "full")
	opts.AssetsRoot = "/tmp/assets"

	srv, err := Start(context.Background(), opts)
	require.NoError(t, err)
	require.True(t, srv.Alive())
	pid := srv.Pid()
	require.True(t, processExists(pid))
	require.Equal(t, "-root", srv.Argv[len(srv.Argv)-2])

	conn, err := net.Dial("tcp", opts.Endpoint.String())
	require.NoError(t, err)
	conn.Close()

	require.NoError(t, srv.Stop())
	require.False(t, srv.Alive())
	require.False(t, processExists(pid))
	require.Contains(t, string(srv.Stdout()), "child mode=full root=/tmp/assets")
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	srv, err := Start(context.Background(), testOptions(t, "listen", "parse"))
	require.NoError(t, err)

	require.NoError(t, srv.Stop())
	require.False(t, srv.Alive())
	stdout := srv.Stdout()

	require.NoError(t, srv.Stop())
	require.False(t, srv.Alive())
	require.Equal(t, stdout, srv.Stdout())
}

func TestStopAlreadyExited(t *testing.T) {
	t.Parallel()
	srv, err := Start(context.Background(), testOptions(t, "listen", "echo"))
	require.NoError(t, err)
	pid := srv.Pid()

	// Kill it behind the supervisor's back.
	require.NoError(t, unix.Kill(pid, unix.SIGKILL))
	select {
	case <-srv.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("child did not exit after SIGKILL")
	}

	start := time.Now()
	require.NoError(t, srv.Stop())
	require.Less(t, time.Since(start), 100*time.Millisecond)
	require.False(t, srv.Alive())
	require.Error(t, srv.ExitErr())
}

func TestStopKillsOrphansOfExitedLeader(t *testing.T) {
	t.Parallel()
	srv, err := Start(context.Background(), testOptions(t, "orphan", "echo"))
	require.NoError(t, err)

	var orphan int
	require.Eventually(t, func() bool {
		lines := strings.Split(string(srv.Stdout()), "\n")
		// The last element has no newline yet.
		for _, line := range lines[:len(lines)-1] {
			if v, ok := strings.CutPrefix(line, "grandchild pid="); ok {
				orphan, err = strconv.Atoi(v)
				return err == nil
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
	t.Cleanup(func() { unix.Kill(orphan, unix.SIGKILL) })

	// Only the leader dies; its child keeps the group alive.
	require.NoError(t, unix.Kill(srv.Pid(), unix.SIGKILL))
	select {
	case <-srv.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("leader did not exit after SIGKILL")
	}
	require.True(t, processExists(orphan))

	require.NoError(t, srv.Stop())
	require.Eventually(t, func() bool { return processGone(orphan) }, 2*time.Second, 20*time.Millisecond)
}

func TestStopEscalatesToKill(t *testing.T) {
	t.Parallel()
	opts := testOptions(t, "ignore-term", "map")
	opts.GracePeriod = 300 * time.Millisecond
	srv, err := Start(context.Background(), opts)
	require.NoError(t, err)
	pid := srv.Pid()

	start := time.Now()
	require.NoError(t, srv.Stop())
	elapsed := time.Since(start)

	require.GreaterOrEqual(t, elapsed, opts.GracePeriod)
	require.Less(t, elapsed, opts.GracePeriod+opts.KillWait)
	require.False(t, srv.Alive())
	require.False(t, processExists(pid))

	var exitErr interface{ ExitCode() int }
	require.ErrorAs(t, srv.ExitErr(), &exitErr)
}

func TestStartProcessExitedEarly(t *testing.T) {
	t.Parallel()
	opts := testOptions(t, "exit", "parse")

	start := time.Now()
	_, err := Start(context.Background(), opts)
	require.Less(t, time.Since(start), opts.Readiness.Timeout)

	var failure *StartupFailure
	require.ErrorAs(t, err, &failure)
	require.ErrorIs(t, err, readiness.ErrProcessExitedEarly)
	require.Equal(t, "parse", failure.Mode)
	require.Contains(t, string(failure.Stderr), "boom: cannot bind")
	require.Contains(t, string(failure.Stdout), "child mode=parse")
	require.Contains(t, err.Error(), "stderr:\nboom")
}

func TestStartReadinessTimeoutKillsChild(t *testing.T) {
	t.Parallel()
	opts := testOptions(t, "silent", "echo")
	opts.Readiness = readiness.Options{Timeout: 300 * time.Millisecond, PollInterval: 50 * time.Millisecond}

	_, err := Start(context.Background(), opts)
	var failure *StartupFailure
	require.ErrorAs(t, err, &failure)
	require.ErrorIs(t, err, readiness.ErrReadinessTimeout)
	require.NotErrorIs(t, err, ErrUnreapable)

	// Nothing may be left listening or running on the endpoint.
	conn, dialErr := net.DialTimeout("tcp", opts.Endpoint.String(), 100*time.Millisecond)
	if dialErr == nil {
		conn.Close()
		t.Fatal("endpoint still accepting connections after failed start")
	}
}

func TestStartMissingExecutable(t *testing.T) {
	t.Parallel()
	opts := testOptions(t, "listen", "parse")
	opts.Exe = "/nonexistent/lab8"

	_, err := Start(context.Background(), opts)
	var failure *StartupFailure
	require.ErrorAs(t, err, &failure)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestStartCaptureIsBounded(t *testing.T) {
	t.Parallel()
	opts := testOptions(t, "flood", "map")
	opts.CaptureBytes = 1024

	_, err := Start(context.Background(), opts)
	var failure *StartupFailure
	require.ErrorAs(t, err, &failure)
	require.True(t, failure.Truncated)
	require.Len(t, failure.Stdout, 1024)
	require.True(t, strings.HasSuffix(string(failure.Stdout), "TAIL"))
}

func TestTailBuffer(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		max       int64
		writes    []string
		want      string
		truncated bool
	}{
		{"fits", 16, []string{"abc", "def"}, "abcdef", false},
		{"drops head", 4, []string{"abc", "def"}, "cdef", true},
		{"single oversized write", 3, []string{"abcdef"}, "def", true},
		{"zero capacity", 0, []string{"abc"}, "", true},
		{"empty", 8, nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := newTailBuffer(tt.max)
			for _, w := range tt.writes {
				n, err := tb.Write([]byte(w))
				require.NoError(t, err)
				require.Equal(t, len(w), n)
			}
			got, truncated := tb.Snapshot()
			require.Equal(t, tt.want, string(got))
			require.Equal(t, tt.truncated, truncated)
		})
	}
}
