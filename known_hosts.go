package ssh

import (
	"net"

	xssh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyDecision is the client's verdict on a server host key, spec.md
// section 6's ServerKeyVerifier contract.
type HostKeyDecision int

const (
	HostKeyAccept HostKeyDecision = iota
	HostKeyReject
	HostKeyTrustOnFirstUse
)

// ServerKeyVerifier is the client-side policy object injected at
// construction: given the remote address and the presented public key, it
// decides whether to proceed.
type ServerKeyVerifier interface {
	VerifyHostKey(remoteAddr string, keyAlgo string, keyBlob []byte) (HostKeyDecision, error)
}

// KnownHostsVerifier adapts an OpenSSH known_hosts file (parsed with
// golang.org/x/crypto/ssh/knownhosts, the same ecosystem package the
// teacher already depends on for key parsing) to ServerKeyVerifier.
type KnownHostsVerifier struct {
	callback xssh.HostKeyCallback
}

// NewKnownHostsVerifier loads one or more known_hosts files.
func NewKnownHostsVerifier(paths ...string) (*KnownHostsVerifier, error) {
	cb, err := knownhosts.New(paths...)
	if err != nil {
		return nil, err
	}
	return &KnownHostsVerifier{callback: cb}, nil
}

func (v *KnownHostsVerifier) VerifyHostKey(remoteAddr string, keyAlgo string, keyBlob []byte) (HostKeyDecision, error) {
	pub, err := xssh.ParsePublicKey(keyBlob)
	if err != nil {
		return HostKeyReject, err
	}
	addr := &net.TCPAddr{}
	if host, _, splitErr := net.SplitHostPort(remoteAddr); splitErr == nil {
		addr = &net.TCPAddr{IP: net.ParseIP(host)}
	}
	if err := v.callback(remoteAddr, addr, pub); err != nil {
		if knownhosts.IsHostKeyChanged(err) {
			return HostKeyReject, err
		}
		if knownhosts.IsHostUnknown(err) {
			return HostKeyTrustOnFirstUse, nil
		}
		return HostKeyReject, err
	}
	return HostKeyAccept, nil
}

// InsecureAcceptAllVerifier accepts any host key without checking it. The
// goshell CLI falls back to it when the known_hosts file cannot be loaded.
type InsecureAcceptAllVerifier struct{}

func (InsecureAcceptAllVerifier) VerifyHostKey(string, string, []byte) (HostKeyDecision, error) {
	return HostKeyAccept, nil
}
