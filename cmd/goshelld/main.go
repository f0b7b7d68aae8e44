package main

import (
	f "fmt"
	"net"
	"os"
	"os/exec"

	ssh "github.com/cyberpanther232/goshell"
)

// main is a minimal goshelld launcher: load one host key, accept a fixed
// username/password pair from the environment, and run each accepted
// "session" channel's exec/shell requests through os/exec. It exists to
// exercise NewServerConn end to end, not as a hardened sshd replacement.
func main() {
	addr := os.Getenv("GOSHELLD_ADDR")
	if addr == "" {
		addr = ":2222"
	}

	signer, err := ssh.LoadHostKey(os.Getenv("GOSHELLD_HOST_KEY"))
	if err != nil {
		f.Fprintln(os.Stderr, "failed to load host key:", err)
		os.Exit(1)
	}

	config := &ssh.ServerConfig{
		HostKeys:      []ssh.KeyProvider{signer},
		Authenticator: &envAuthenticator{user: os.Getenv("GOSHELLD_USER"), password: os.Getenv("GOSHELLD_PASSWORD")},
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		f.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	f.Println("goshelld listening on", addr)

	for {
		conn, err := listener.Accept()
		if err != nil {
			f.Fprintln(os.Stderr, "accept:", err)
			continue
		}
		go handleConn(conn, config)
	}
}

func handleConn(conn net.Conn, config *ssh.ServerConfig) {
	serverConn, channels, err := ssh.NewServerConn(conn, config)
	if err != nil {
		f.Fprintln(os.Stderr, "handshake failed:", err)
		conn.Close()
		return
	}
	f.Printf("authenticated %s from %s\n", serverConn.User, serverConn.RemoteAddr)

	for nc := range channels {
		if nc.ChannelType() != ssh.ChannelTypeSession {
			nc.Reject(ssh.OpenUnknownChannelType, "unsupported channel type")
			continue
		}
		ch, reqs, err := nc.Accept()
		if err != nil {
			continue
		}
		go serveSession(ch, reqs)
	}
}

// serveSession runs exactly one command per channel: the first "exec" it
// sees, or "/bin/sh" for a bare "shell" request. "pty-req", "window-change"
// and "env" are acknowledged without effect; anything else is refused.
func serveSession(ch *ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()

	for req := range reqs {
		switch req.Type {
		case "exec":
			msg, err := ssh.ParseExecRequestPayload(req.Payload)
			if err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			runCommand(ch, "/bin/sh", "-c", msg)
			return
		case "shell":
			req.Reply(true, nil)
			runCommand(ch, "/bin/sh")
			return
		case "pty-req", "window-change", "env":
			req.Reply(true, nil)
		default:
			req.Reply(false, nil)
		}
	}
}

func runCommand(ch *ssh.Channel, name string, args ...string) {
	cmd := exec.Command(name, args...)
	cmd.Stdin = ch
	cmd.Stdout = ch
	cmd.Stderr = ch.StderrWriter()
	_ = cmd.Run()
}

type envAuthenticator struct {
	user, password string
}

func (a *envAuthenticator) Password(ctx ssh.AuthContext, password string) (bool, error) {
	return ctx.User == a.user && ssh.ConstantTimeCompareStrings(password, a.password), nil
}

func (a *envAuthenticator) PublicKey(ctx ssh.AuthContext, keyAlgo string, keyBlob []byte) (bool, error) {
	return false, nil
}

func (a *envAuthenticator) KeyboardInteractive(ctx ssh.AuthContext, ask ssh.KeyboardInteractiveAnswerer) (bool, error) {
	return false, nil
}

func (a *envAuthenticator) Banner() string { return "" }
