package main

import (
	f "fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/term"

	ssh "github.com/cyberpanther232/goshell"
)

func main() {
	args := os.Args[1:]

	parsedArgs, err := parseArgs(args)
	if err != nil {
		f.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	configPath := parsedArgs["configurationPath"]
	if configPath == "" {
		configPath = "goshell.conf"
	}

	configuration, err := ssh.LoadHostConfig(configPath)
	if err != nil {
		f.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(configuration) == 0 {
		f.Println("No configuration found. Please create a goshell.conf file (--generate-config).")
		return
	}

	var selected ssh.HostConfig
	var ok bool

	if parsedArgs["host"] == "" {
		f.Println("Available Hosts:")
		for host := range configuration {
			f.Println(" -", host)
		}
		choice := strings.TrimSpace(getUserInput("Select a host: "))
		selected, ok = configuration[choice]
	} else {
		selected, ok = configuration[strings.TrimSpace(parsedArgs["host"])]
	}

	if !ok {
		f.Println("Host not found in configuration.")
		return
	}

	port := selected.Port
	if port == 0 {
		port = 22
	}
	addr := selected.Hostname + ":" + strconv.Itoa(port)

	verifier, err := hostKeyVerifier()
	if err != nil {
		f.Fprintln(os.Stderr, "warning: known_hosts unavailable, accepting any host key:", err)
		verifier = ssh.InsecureAcceptAllVerifier{}
	}

	clientConfig := &ssh.ClientConfig{
		User:            selected.User,
		HostKeyCallback: verifier,
		Auth:            authMethods(selected),
	}

	conn, err := ssh.Dial("tcp", addr, clientConfig)
	if err != nil {
		f.Fprintln(os.Stderr, "connection failed:", err)
		os.Exit(1)
	}
	defer conn.Close()

	f.Printf("Connected to %s@%s\n", selected.User, addr)

	if cmd := parsedArgs["cmd"]; cmd != "" {
		if err := runExec(conn, cmd); err != nil {
			f.Fprintln(os.Stderr, "exec failed:", err)
			os.Exit(1)
		}
		return
	}

	if err := runShell(conn); err != nil {
		f.Fprintln(os.Stderr, "session failed:", err)
		os.Exit(1)
	}
}

// authMethods builds the client's fallback chain: identity file first, if
// the host stanza asks for it, then interactive password, matching the
// teacher's key-then-password fallback in main.go.
func authMethods(host ssh.HostConfig) []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if host.KeybasedAuthentication && host.IdentityFile != "" {
		if signer, err := loadIdentity(host.IdentityFile); err == nil {
			methods = append(methods, ssh.PublicKey(signer))
		} else {
			f.Fprintln(os.Stderr, "identity file unusable:", err)
		}
	}

	methods = append(methods, ssh.Password(promptPassword(host)))
	return methods
}

func loadIdentity(path string) (ssh.Signer, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return ssh.LoadHostKey(path)
}

func promptPassword(host ssh.HostConfig) string {
	f.Printf("Password authentication for %s@%s\n", host.User, host.Hostname)
	f.Print("Enter password: ")
	pwdBytes, _ := term.ReadPassword(int(os.Stdin.Fd()))
	f.Println()
	return string(pwdBytes)
}

func hostKeyVerifier() (ssh.ServerKeyVerifier, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return ssh.NewKnownHostsVerifier(filepath.Join(home, ".ssh", "known_hosts"))
}
