// Package labserver is a reference lab8 server: raw HTTP/1.0 over TCP with
// the parse, echo, map and full modes. The harness tests run against it.
package labserver

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const maxHeaderBytes = 1 << 20

type Config struct {
	Mode string
	Root string
	User string
	Pass string
	// BreakRoute makes /info/server map to the wrong file, so exactly one
	// mapping case fails.
	BreakRoute bool
}

type header struct {
	name  string
	value string
}

type request struct {
	method  string
	uri     string
	version string
	headers []header
	byName  map[string]string
	body    []byte
}

// Serve accepts connections until l is closed.
func Serve(l net.Listener, cfg Config) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go handleConn(conn, cfg)
	}
}

func handleConn(conn net.Conn, cfg Config) {
	defer conn.Close()

	req, err := readRequest(bufio.NewReader(conn))
	if err != nil {
		writeResponse(conn, "400 Bad Request", []header{{"Content-Length", "0"}}, nil)
		return
	}

	switch cfg.Mode {
	case "parse":
		body := []byte(structure(req))
		writeResponse(conn, "200 OK", []header{
			{"Content-Type", "text/plain"},
			{"Content-Length", strconv.Itoa(len(body))},
		}, body)
	case "echo":
		writeResponse(conn, "200 OK", req.headers, req.body)
	case "map":
		handleMap(conn, req, cfg)
	case "full":
		handleFull(conn, req, cfg)
	default:
		writeResponse(conn, "400 Bad Request", []header{{"Content-Length", "0"}}, nil)
	}
}

func readRequest(r *bufio.Reader) (*request, error) {
	var raw []byte
	for !bytes.Contains(raw, []byte("\r\n\r\n")) {
		if len(raw) > maxHeaderBytes {
			return nil, fmt.Errorf("header too large")
		}
		chunk := make([]byte, 1024)
		n, err := r.Read(chunk)
		raw = append(raw, chunk[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	end := bytes.Index(raw, []byte("\r\n\r\n"))
	if end < 0 {
		return nil, fmt.Errorf("header not complete")
	}

	lines := strings.Split(string(raw[:end]), "\r\n")
	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid request line %q", lines[0])
	}
	req := &request{method: parts[0], uri: parts[1], version: parts[2], byName: make(map[string]string)}
	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		h := header{strings.TrimSpace(name), strings.TrimSpace(value)}
		req.headers = append(req.headers, h)
		req.byName[strings.ToLower(h.name)] = h.value
	}

	body := raw[end+4:]
	length, _ := strconv.Atoi(req.byName["content-length"])
	if length > len(body) {
		more := make([]byte, length-len(body))
		if _, err := io.ReadFull(r, more); err != nil {
			return nil, err
		}
		body = append(body, more...)
	}
	if length >= 0 && len(body) > length {
		body = body[:length]
	}
	req.body = body
	return req, nil
}

func structure(req *request) string {
	var b strings.Builder
	for _, h := range req.headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.name, h.value)
	}
	fmt.Fprintf(&b, "%s %s %s", req.method, req.uri, req.version)
	return b.String()
}

func handleMap(conn net.Conn, req *request, cfg Config) {
	path := cleanPath(req.uri)
	switch strings.ToUpper(req.method) {
	case "GET":
		if internal, ok := route(path, cfg); ok {
			writeText(conn, "200 OK", "text/plain", []byte(internal))
			return
		}
	case "POST":
		if path == "/dopost" {
			writeResponse(conn, "200 OK", []header{{"Content-Length", "0"}}, nil)
			return
		}
	}
	notFound(conn)
}

func handleFull(conn net.Conn, req *request, cfg Config) {
	path := cleanPath(req.uri)
	switch strings.ToUpper(req.method) {
	case "GET":
		internal, ok := route(path, cfg)
		if !ok {
			notFound(conn)
			return
		}
		file := filepath.Join(cfg.Root, filepath.FromSlash(strings.TrimPrefix(internal, "/")))
		data, err := os.ReadFile(file)
		if err != nil {
			notFound(conn)
			return
		}
		writeText(conn, "200 OK", contentType(filepath.Ext(file)), data)
	case "POST":
		if path != "/dopost" {
			notFound(conn)
			return
		}
		msg := "Login Failed"
		if form, err := url.ParseQuery(string(req.body)); err == nil &&
			form.Get("login") == cfg.User && form.Get("pass") == cfg.Pass {
			msg = "Login Success"
		}
		writeText(conn, "200 OK", "text/html", []byte("<html><body>"+msg+"</body></html>"))
	default:
		notFound(conn)
	}
}

func cleanPath(uri string) string {
	uri = strings.TrimSpace(uri)
	if !strings.HasPrefix(uri, "/") {
		uri = "/" + uri
	}
	uri, _, _ = strings.Cut(uri, "?")
	uri, _, _ = strings.Cut(uri, "#")
	return uri
}

func route(path string, cfg Config) (string, bool) {
	switch path {
	case "/index.html":
		return "/html/test.html", true
	case "/index_noimg.html":
		return "/html/noimg.html", true
	case "/info/server":
		if cfg.BreakRoute {
			return "/txt/other.txt", true
		}
		return "/txt/test.txt", true
	case "/assets/logo.jpg":
		return "/img/logo.jpg", true
	}
	return "", false
}

func contentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".html":
		return "text/html"
	case ".txt":
		return "text/plain"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	}
	return "application/octet-stream"
}

func notFound(conn net.Conn) {
	writeResponse(conn, "404 Not Found", []header{{"Content-Length", "0"}}, nil)
}

func writeText(conn net.Conn, status, ctype string, body []byte) {
	writeResponse(conn, status, []header{
		{"Content-Type", ctype},
		{"Content-Length", strconv.Itoa(len(body))},
	}, body)
}

func writeResponse(w io.Writer, status string, headers []header, body []byte) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.0 %s\r\n", status)
	for _, h := range headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h.name, h.value)
	}
	buf.WriteString("\r\n")
	buf.Write(body)
	w.Write(buf.Bytes())
}
