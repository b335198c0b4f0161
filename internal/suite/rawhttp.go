package suite

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// Header is one request header line. Order matters to the parse mode, so
// requests carry a slice instead of an http.Header map.
type Header struct {
	Name  string
	Value string
}

type request struct {
	Method  string
	URI     string
	Version string
	Headers []Header
	Body    []byte
}

// Bytes renders the request exactly as it goes on the wire. A Content-Length
// header is added when there is a body and none was given.
func (r request) Bytes() []byte {
	version := r.Version
	if version == "" {
		version = "HTTP/1.1"
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s %s\r\n", r.Method, r.URI, version)
	for _, h := range r.headers() {
		fmt.Fprintf(&buf, "%s: %s\r\n", h.Name, h.Value)
	}
	buf.WriteString("\r\n")
	buf.Write(r.Body)
	return buf.Bytes()
}

func (r request) headers() []Header {
	if len(r.Body) == 0 {
		return r.Headers
	}
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, "Content-Length") {
			return r.Headers
		}
	}
	out := append([]Header(nil), r.Headers...)
	return append(out, Header{Name: "Content-Length", Value: strconv.Itoa(len(r.Body))})
}

type response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// client speaks one request per connection, the way the lab server expects.
type client struct {
	addr string
}

func (c *client) do(ctx context.Context, req request) (*response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(req.Bytes()); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: req.Method})
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func expectStatus(resp *response, want int) error {
	if resp.StatusCode != want {
		return fmt.Errorf("status %d, want %d", resp.StatusCode, want)
	}
	return nil
}

func expectHeader(resp *response, name, want string) error {
	if got := resp.Header.Get(name); got != want {
		return fmt.Errorf("header %s = %q, want %q", name, got, want)
	}
	return nil
}

func expectBody(resp *response, want []byte) error {
	if !bytes.Equal(resp.Body, want) {
		return fmt.Errorf("body mismatch: got %q, want %q", truncate(resp.Body, 120), truncate(want, 120))
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
