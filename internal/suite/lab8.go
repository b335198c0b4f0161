package suite

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const userAgent = "lab-harness"

// Resources maps the external URIs the lab server must route to the internal
// paths under the assets root.
var Resources = []struct {
	URI         string
	Internal    string
	ContentType string
}{
	{"/index.html", "/html/test.html", "text/html"},
	{"/index_noimg.html", "/html/noimg.html", "text/html"},
	{"/info/server", "/txt/test.txt", "text/plain"},
	{"/assets/logo.jpg", "/img/logo.jpg", "image/jpeg"},
}

// Default credentials the lab server accepts on POST /dopost.
const (
	LoginUser = "test"
	LoginPass = "test"
)

// NewStructureParse checks that the server reports back each request's
// header lines in order followed by its request line.
func NewStructureParse(host string, port int, opts Options) Suite {
	parse := func(name string, req request) testCase {
		return testCase{name: name, run: func(ctx context.Context, c *client) error {
			resp, err := c.do(ctx, req)
			if err != nil {
				return err
			}
			if err := expectStatus(resp, http.StatusOK); err != nil {
				return err
			}
			return expectBody(resp, []byte(structureOf(req)))
		}}
	}

	many := make([]Header, 0, 8)
	for i := 0; i < 8; i++ {
		many = append(many, Header{Name: fmt.Sprintf("X-Test-%d", i), Value: strings.Repeat("v", i+1)})
	}
	cases := []testCase{
		parse("simple get", request{Method: "GET", URI: "/", Headers: []Header{
			{"Host", host}, {"User-Agent", userAgent},
		}}),
		parse("many headers", request{Method: "GET", URI: "/headers", Headers: many}),
		parse("query string kept", request{Method: "GET", URI: "/search?q=go&page=2", Headers: []Header{
			{"Host", host},
		}}),
		parse("post body excluded", request{Method: "POST", URI: "/submit", Headers: []Header{
			{"Host", host}, {"Content-Type", "text/plain"},
		}, Body: []byte("payload that must not appear")}),
		parse("http/1.0 request line", request{Method: "DELETE", URI: "/legacy", Version: "HTTP/1.0", Headers: []Header{
			{"Accept", "*/*"},
		}}),
	}
	return newCaseSuite("Structure Parse", host, port, opts, cases)
}

// structureOf renders what parse mode answers for req.
func structureOf(req request) string {
	var b strings.Builder
	for _, h := range req.headers() {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	version := req.Version
	if version == "" {
		version = "HTTP/1.1"
	}
	fmt.Fprintf(&b, "%s %s %s", req.Method, req.URI, version)
	return b.String()
}

// NewWebEcho checks that the server answers with the request's own headers
// and body.
func NewWebEcho(host string, port int, opts Options) Suite {
	echo := func(name string, req request) testCase {
		return testCase{name: name, run: func(ctx context.Context, c *client) error {
			resp, err := c.do(ctx, req)
			if err != nil {
				return err
			}
			if err := expectStatus(resp, http.StatusOK); err != nil {
				return err
			}
			for _, h := range req.headers() {
				if err := expectHeader(resp, h.Name, h.Value); err != nil {
					return err
				}
			}
			return expectBody(resp, req.Body)
		}}
	}

	binary := make([]byte, 256)
	for i := range binary {
		binary[i] = byte(i)
	}
	cases := []testCase{
		echo("get without body", request{Method: "GET", URI: "/", Headers: []Header{
			{"Host", host}, {"User-Agent", userAgent}, {"Content-Length", "0"},
		}}),
		echo("post text body", request{Method: "POST", URI: "/echo", Headers: []Header{
			{"Host", host}, {"Content-Type", "text/plain"},
		}, Body: []byte("hello, lab8")}),
		echo("custom headers", request{Method: "PUT", URI: "/custom", Headers: []Header{
			{"X-Request-Id", "42"}, {"X-Trace", "a;b;c"},
		}, Body: []byte("{}")}),
		echo("binary body", request{Method: "POST", URI: "/bin", Headers: []Header{
			{"Content-Type", "application/octet-stream"},
		}, Body: binary}),
	}
	return newCaseSuite("Web Echo", host, port, opts, cases)
}

// NewURIMapping checks the external-to-internal URI routing table.
func NewURIMapping(host string, port int, opts Options) Suite {
	var cases []testCase
	for _, res := range Resources {
		res := res
		cases = append(cases, testCase{name: "GET " + res.URI, run: func(ctx context.Context, c *client) error {
			resp, err := c.do(ctx, request{Method: "GET", URI: res.URI, Headers: []Header{{"Host", host}}})
			if err != nil {
				return err
			}
			if err := expectStatus(resp, http.StatusOK); err != nil {
				return err
			}
			return expectBody(resp, []byte(res.Internal))
		}})
	}
	cases = append(cases,
		testCase{name: "query and fragment ignored", run: func(ctx context.Context, c *client) error {
			resp, err := c.do(ctx, request{Method: "GET", URI: "/info/server?verbose=1#top"})
			if err != nil {
				return err
			}
			if err := expectStatus(resp, http.StatusOK); err != nil {
				return err
			}
			return expectBody(resp, []byte("/txt/test.txt"))
		}},
		statusCase("GET unknown", request{Method: "GET", URI: "/missing.html"}, http.StatusNotFound),
		statusCase("POST /dopost", request{Method: "POST", URI: "/dopost", Body: []byte("a=b")}, http.StatusOK),
		statusCase("POST unknown", request{Method: "POST", URI: "/elsewhere", Body: []byte("a=b")}, http.StatusNotFound),
	)
	return newCaseSuite("URI Mapping", host, port, opts, cases)
}

// NewResourceRetrieve checks that mapped resources are served from
// assetsRoot with the right content type, and that the login form works.
// With an empty assetsRoot bodies are only checked to be non-empty.
func NewResourceRetrieve(host string, port int, assetsRoot string, opts Options) Suite {
	var cases []testCase
	for _, res := range Resources {
		res := res
		cases = append(cases, testCase{name: "GET " + res.URI, run: func(ctx context.Context, c *client) error {
			resp, err := c.do(ctx, request{Method: "GET", URI: res.URI, Headers: []Header{{"Host", host}}})
			if err != nil {
				return err
			}
			if err := expectStatus(resp, http.StatusOK); err != nil {
				return err
			}
			if err := expectHeader(resp, "Content-Type", res.ContentType); err != nil {
				return err
			}
			if assetsRoot == "" {
				if len(resp.Body) == 0 {
					return fmt.Errorf("empty body")
				}
				return nil
			}
			want, err := os.ReadFile(filepath.Join(assetsRoot, filepath.FromSlash(strings.TrimPrefix(res.Internal, "/"))))
			if err != nil {
				return fmt.Errorf("reading expected asset: %w", err)
			}
			return expectBody(resp, want)
		}})
	}
	cases = append(cases,
		statusCase("GET unknown", request{Method: "GET", URI: "/nope.html"}, http.StatusNotFound),
		statusCase("POST unknown", request{Method: "POST", URI: "/upload", Body: []byte("x=1")}, http.StatusNotFound),
		loginCase("login success", url.Values{"login": {LoginUser}, "pass": {LoginPass}}, "Login Success"),
		loginCase("login wrong password", url.Values{"login": {LoginUser}, "pass": {"nope"}}, "Login Failed"),
		loginCase("login missing fields", url.Values{"user": {LoginUser}}, "Login Failed"),
	)
	return newCaseSuite("Resource Retrieve", host, port, opts, cases)
}

func statusCase(name string, req request, want int) testCase {
	return testCase{name: name, run: func(ctx context.Context, c *client) error {
		resp, err := c.do(ctx, req)
		if err != nil {
			return err
		}
		return expectStatus(resp, want)
	}}
}

func loginCase(name string, form url.Values, message string) testCase {
	req := request{Method: "POST", URI: "/dopost", Headers: []Header{
		{"Content-Type", "application/x-www-form-urlencoded"},
	}, Body: []byte(form.Encode())}
	return testCase{name: name, run: func(ctx context.Context, c *client) error {
		resp, err := c.do(ctx, req)
		if err != nil {
			return err
		}
		if err := expectStatus(resp, http.StatusOK); err != nil {
			return err
		}
		if err := expectHeader(resp, "Content-Type", "text/html"); err != nil {
			return err
		}
		return expectBody(resp, []byte(fmt.Sprintf("<html><body>%s</body></html>", message)))
	}}
}
