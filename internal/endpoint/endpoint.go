// Package endpoint hands out TCP ports for the server under test.
//
// Allocate binds host:0, reads back the port the kernel picked and releases it
// straight away. The port is only known to be free at the moment of release:
// another process may claim it before the child binds. That race is accepted
// for a test harness.
package endpoint

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint is a host/port pair a child server is told to listen on.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Allocate returns a port on host that was free when its listener closed.
func Allocate(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("allocate port on %s: %w", host, err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port, nil
}

// Resolve returns an endpoint for one mode iteration. A non-zero fixed port is
// used as is; zero means a fresh port from Allocate.
func Resolve(host string, fixed int) (Endpoint, error) {
	if fixed < 0 {
		return Endpoint{}, fmt.Errorf("invalid port %d", fixed)
	}
	if fixed != 0 {
		return Endpoint{Host: host, Port: fixed}, nil
	}
	port, err := Allocate(host)
	if err != nil {
		return Endpoint{}, err
	}
	return Endpoint{Host: host, Port: port}, nil
}
