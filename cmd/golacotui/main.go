package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/matheus3301/golaco/internal/api"
	"github.com/matheus3301/golaco/internal/session"
	"github.com/matheus3301/golaco/internal/tui"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	noStart := flag.Bool("no-start", false, "do not start golacod when it is not running")
	flag.Parse()

	sessionName, err := session.ResolveValid(*sessionFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	socketPath := session.SocketPath(sessionName)

	if !probeDaemon(socketPath) {
		if *noStart {
			fmt.Fprintf(os.Stderr, "daemon not running for session %q\n", sessionName)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "daemon not running for session %q, starting...\n", sessionName)
		if err := startDaemon(sessionName); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start daemon: %v\n", err)
			os.Exit(1)
		}
		if !waitForDaemon(socketPath, 10*time.Second) {
			fmt.Fprintf(os.Stderr, "daemon did not become ready\n")
			os.Exit(1)
		}
	}

	c, err := api.Dial(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to daemon: %v\n", err)
		os.Exit(1)
	}

	app := tui.NewApp(c, sessionName)
	err = app.Run()
	_ = c.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// probeDaemon makes a real GetStatus call; a socket that accepts but does
// not answer does not count.
func probeDaemon(socketPath string) bool {
	c, err := api.Dial(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = c.Call(ctx, api.SessionServiceName, "GetStatus", nil)
	return err == nil
}

// startDaemon prefers a golacod next to this binary, then $PATH.
func startDaemon(sessionName string) error {
	bin := "golacod"
	if executable, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(executable), "golacod")
		if _, err := os.Stat(sibling); err == nil {
			bin = sibling
		}
	}

	cmd := exec.Command(bin, "--session", sessionName)
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

func waitForDaemon(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probeDaemon(socketPath) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}
