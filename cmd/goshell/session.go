package main

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	f "fmt"

	"golang.org/x/term"

	ssh "github.com/cyberpanther232/goshell"
)

// runShell opens a "session" channel, requests a pty and an interactive
// shell, and copies stdio until the channel closes. This generalizes the
// teacher's startSession (main.go's post-auth call) into the shape a real
// SSH client needs: raw terminal mode and window-change forwarding. Channel
// requests from the server, exit-status included, are discarded.
func runShell(conn *ssh.ClientConn) error {
	ch, reqs, err := conn.OpenChannel(ssh.ChannelTypeSession, nil)
	if err != nil {
		return err
	}
	defer ch.Close()

	go ssh.DiscardRequests(reqs)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return err
		}
		defer term.Restore(fd, oldState)
	}

	cols, rows := 80, 24
	if w, h, err := term.GetSize(fd); err == nil {
		cols, rows = w, h
	}

	if ok, err := ch.SendRequest("pty-req", true, ssh.MarshalPtyRequest(os.Getenv("TERM"), cols, rows)); err != nil {
		return err
	} else if !ok {
		f.Println("Server refused pty-req; continuing without a pty.")
	}

	winCh := make(chan os.Signal, 1)
	signal.Notify(winCh, syscall.SIGWINCH)
	go func() {
		for range winCh {
			if w, h, err := term.GetSize(fd); err == nil {
				_, _ = ch.SendRequest("window-change", false, ssh.MarshalWindowChange(w, h))
			}
		}
	}()

	if ok, err := ch.SendRequest("shell", true, nil); err != nil {
		return err
	} else if !ok {
		return f.Errorf("server refused shell request")
	}

	go io.Copy(ch, os.Stdin)
	go io.Copy(os.Stderr, ch.Stderr())
	_, err = io.Copy(os.Stdout, ch)
	return err
}

// runExec opens a "session" channel and requests exec of a single command,
// forwarding stdio, then waits for the channel to close.
func runExec(conn *ssh.ClientConn, command string) error {
	ch, reqs, err := conn.OpenChannel(ssh.ChannelTypeSession, nil)
	if err != nil {
		return err
	}
	defer ch.Close()

	go ssh.DiscardRequests(reqs)

	if ok, err := ch.SendRequest("exec", true, ssh.MarshalExecRequest(command)); err != nil {
		return err
	} else if !ok {
		return f.Errorf("server refused exec request")
	}

	go io.Copy(ch, os.Stdin)
	go io.Copy(os.Stderr, ch.Stderr())
	_, err = io.Copy(os.Stdout, ch)
	return err
}
