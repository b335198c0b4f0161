package suite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lab-harness/internal/labserver"
)

func startLabServer(t *testing.T, cfg labserver.Config) (string, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go labserver.Serve(l, cfg)
	host, port, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, p
}

func TestResultValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		r       Result
		wantErr bool
	}{
		{"all passed", Result{SuccessCnt: 5, TotalCnt: 5}, false},
		{"mixed", Result{SuccessCnt: 4, ErrorCnt: 1, TimeoutCnt: 2, TotalCnt: 7}, false},
		{"empty", Result{}, false},
		{"does not add up", Result{SuccessCnt: 4, ErrorCnt: 1, TotalCnt: 6}, true},
		{"negative", Result{SuccessCnt: -1, ErrorCnt: 1, TotalCnt: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.r.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestResultPassed(t *testing.T) {
	t.Parallel()
	require.True(t, Result{SuccessCnt: 3, TotalCnt: 3}.Passed())
	require.False(t, Result{SuccessCnt: 4, ErrorCnt: 1, TotalCnt: 5}.Passed())
	require.Equal(t, "4/5 passed (errors=1, timeouts=0)", Result{SuccessCnt: 4, ErrorCnt: 1, TotalCnt: 5}.String())
}

func TestClassify(t *testing.T) {
	t.Parallel()
	require.Equal(t, OutcomeSuccess, classify(nil))
	require.Equal(t, OutcomeTimeout, classify(fmt.Errorf("read: %w", context.DeadlineExceeded)))
	require.Equal(t, OutcomeTimeout, classify(fmt.Errorf("read: %w", os.ErrDeadlineExceeded)))
	require.Equal(t, OutcomeError, classify(errors.New("status 404, want 200")))
}

func TestRequestBytes(t *testing.T) {
	t.Parallel()
	req := request{Method: "POST", URI: "/x", Headers: []Header{{"Host", "h"}}, Body: []byte("abc")}
	require.Equal(t, "POST /x HTTP/1.1\r\nHost: h\r\nContent-Length: 3\r\n\r\nabc", string(req.Bytes()))

	req = request{Method: "GET", URI: "/", Version: "HTTP/1.0"}
	require.Equal(t, "GET / HTTP/1.0\r\n\r\n", string(req.Bytes()))

	// An explicit Content-Length is not duplicated.
	req = request{Method: "PUT", URI: "/", Headers: []Header{{"content-length", "2"}}, Body: []byte("ok")}
	require.Equal(t, 1, bytes.Count(bytes.ToLower(req.Bytes()), []byte("content-length")))
}

func TestSuitesAgainstReferenceServer(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, labserver.WriteAssets(root))

	tests := []struct {
		mode  string
		build func(host string, port int) Suite
		total int
	}{
		{"parse", func(h string, p int) Suite { return NewStructureParse(h, p, Options{}) }, 5},
		{"echo", func(h string, p int) Suite { return NewWebEcho(h, p, Options{}) }, 4},
		{"map", func(h string, p int) Suite { return NewURIMapping(h, p, Options{}) }, 8},
		{"full", func(h string, p int) Suite { return NewResourceRetrieve(h, p, root, Options{}) }, 9},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.mode, func(t *testing.T) {
			t.Parallel()
			host, port := startLabServer(t, labserver.Config{Mode: tt.mode, Root: root, User: LoginUser, Pass: LoginPass})
			s := tt.build(host, port)
			s.RunAllCases(context.Background())

			var out bytes.Buffer
			s.PrintResults(&out)
			r := s.Result()
			require.NoError(t, r.Validate())
			require.Equal(t, Result{SuccessCnt: tt.total, TotalCnt: tt.total}, r, out.String())
		})
	}
}

func TestURIMappingDetectsBrokenRoute(t *testing.T) {
	t.Parallel()
	host, port := startLabServer(t, labserver.Config{Mode: "map", BreakRoute: true})
	s := NewURIMapping(host, port, Options{})
	s.RunAllCases(context.Background())

	// Both the plain and the query-string lookups of /info/server fail.
	require.Equal(t, Result{SuccessCnt: 6, ErrorCnt: 2, TotalCnt: 8}, s.Result())

	var out bytes.Buffer
	s.PrintResults(&out)
	require.Contains(t, out.String(), "GET /info/server")
	require.Contains(t, out.String(), "body mismatch")
}

func TestWrongModeIsAllErrors(t *testing.T) {
	t.Parallel()
	host, port := startLabServer(t, labserver.Config{Mode: "map"})
	s := NewWebEcho(host, port, Options{})
	s.RunAllCases(context.Background())

	r := s.Result()
	require.NoError(t, r.Validate())
	require.False(t, r.Passed())
	require.Equal(t, 0, r.TimeoutCnt)
}

func TestCasesTimeOutAgainstSilentServer(t *testing.T) {
	t.Parallel()
	// Accepts connections but never answers.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		var conns []net.Conn
		defer func() {
			for _, c := range conns {
				c.Close()
			}
		}()
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			conns = append(conns, c)
		}
	}()
	addr := l.Addr().(*net.TCPAddr)

	s := NewStructureParse("127.0.0.1", addr.Port, Options{CaseTimeout: 200 * time.Millisecond, Concurrency: 5})
	start := time.Now()
	s.RunAllCases(context.Background())
	require.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, Result{TimeoutCnt: 5, TotalCnt: 5}, s.Result())
}

func TestCasesAgainstClosedPortAreErrors(t *testing.T) {
	t.Parallel()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	s := NewResourceRetrieve("127.0.0.1", port, "", Options{})
	s.RunAllCases(context.Background())
	require.Equal(t, Result{ErrorCnt: 9, TotalCnt: 9}, s.Result())
}
