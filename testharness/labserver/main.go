// Stand-in lab8 server for the end-to-end tests.
//
// Speaks the same command line as the real lab8 binary and serves the four
// modes through internal/labserver. LABSERVER_FAULT makes it misbehave so the
// harness's failure paths can be exercised:
//
//	exit-early   print to stderr and exit 1 before listening
//	never-listen stay alive without ever opening the port
//	slow-boot    wait LABSERVER_BOOT_DELAY (default 1s) before listening
//	ignore-term  ignore SIGTERM so the harness has to SIGKILL
//	break-route  map /info/server to the wrong file
//
// Build:
//
//	go build -o testharness/labserver/labserver ./testharness/labserver/
//
// Usage:
//
//	./labserver -host 127.0.0.1 -port 8080 -mode full -root ./assets
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"lab-harness/internal/labserver"
)

func main() {
	host := flag.String("host", "127.0.0.1", "Listen host")
	port := flag.Int("port", 0, "Listen port")
	mode := flag.String("mode", "", "parse, echo, map or full")
	root := flag.String("root", "", "Document root for full mode")
	user := flag.String("user", "test", "Login user for full mode")
	pass := flag.String("pass", "test", "Login password for full mode")
	flag.Parse()

	if *port == 0 {
		fmt.Fprintln(os.Stderr, "error: -port required")
		os.Exit(1)
	}
	switch *mode {
	case "parse", "echo", "map":
	case "full":
		if *root == "" {
			fmt.Fprintln(os.Stderr, "error: -root required in full mode")
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "error: unknown mode %q\n", *mode)
		os.Exit(1)
	}

	fault := os.Getenv("LABSERVER_FAULT")
	fmt.Printf("labserver: mode=%s addr=%s fault=%q\n", *mode, net.JoinHostPort(*host, strconv.Itoa(*port)), fault)

	cfg := labserver.Config{Mode: *mode, Root: *root, User: *user, Pass: *pass}
	switch fault {
	case "exit-early":
		fmt.Fprintln(os.Stderr, "labserver: simulated crash before listen")
		os.Exit(1)
	case "never-listen":
		for {
			time.Sleep(time.Hour)
		}
	case "slow-boot":
		delay := time.Second
		if v := os.Getenv("LABSERVER_BOOT_DELAY"); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				delay = d
			}
		}
		time.Sleep(delay)
	case "ignore-term":
		signal.Ignore(syscall.SIGTERM)
	case "break-route":
		cfg.BreakRoute = true
	}

	l, err := net.Listen("tcp", net.JoinHostPort(*host, strconv.Itoa(*port)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "labserver: listen: %v\n", err)
		os.Exit(1)
	}
	if err := labserver.Serve(l, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "labserver: %v\n", err)
		os.Exit(1)
	}
}
