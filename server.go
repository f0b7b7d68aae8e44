package ssh

import (
	"errors"
	"net"
)

// ServerConn is one accepted, authenticated SSH server connection: the
// transport has completed KEX and userauth, and the connection phase is
// running. Grounded in golang-crypto__server.go's handshake-then-serve
// split: NewServerConn blocks until the connection is ready to multiplex
// channels, then hands the caller a NewChannel feed just like the upstream
// package does.
type ServerConn struct {
	conn net.Conn
	t    *transport
	mux  *Mux

	User       string
	RemoteAddr string

	sup *sessionSupervisor
}

// NewServerConn runs the full server-side protocol over an accepted
// net.Conn: version exchange, KEX (picking a host key from config.HostKeys
// that matches a negotiated algorithm), userauth, then starts the
// connection-phase session supervisor and returns the channel it will
// deliver incoming CHANNEL_OPEN requests on.
func NewServerConn(conn net.Conn, config *ServerConfig) (*ServerConn, <-chan *NewChannel, error) {
	if len(config.HostKeys) == 0 {
		return nil, nil, errors.New("ssh: server config has no host keys")
	}

	cfg := config.Config
	cfg.SetDefaults()
	cfg.HostKeyAlgorithms = restrictToAvailable(cfg.HostKeyAlgorithms, config.HostKeys)
	signer := selectHostKeySigner(cfg.HostKeyAlgorithms, config.HostKeys)

	t := newTransport(conn, &cfg, false)

	serverVersion := config.ServerVersion
	if serverVersion == "" {
		serverVersion = ourVersionPrefix
	}
	if err := t.exchangeVersions(serverVersion); err != nil {
		return nil, nil, err
	}

	remoteAddr := conn.RemoteAddr().String()
	if err := t.runKex(signer, nil, remoteAddr); err != nil {
		return nil, nil, err
	}

	t.state = stateAuth
	if _, err := awaitServiceRequest(t, "ssh-userauth"); err != nil {
		return nil, nil, err
	}
	auth := newServerAuthSession(t, config.Authenticator, cfg.MaxAuthRequests)
	user, err := auth.run()
	if err != nil {
		return nil, nil, err
	}

	if _, err := awaitServiceRequest(t, "ssh-connection"); err != nil {
		return nil, nil, err
	}

	t.state = stateRunning
	mux := newMux(t, false, &cfg, config.ChannelHandlers)
	sup := newSessionSupervisor(t, mux, signer, nil)
	sup.start(nil, nil)

	sc := &ServerConn{conn: conn, t: t, mux: mux, User: user, RemoteAddr: remoteAddr, sup: sup}
	return sc, mux.incoming, nil
}

// Accept returns the next incoming channel open, or (nil, false) once the
// connection has closed.
func (s *ServerConn) Accept() (*NewChannel, bool) {
	return s.mux.Accept()
}

// Close gracefully tears down the connection.
func (s *ServerConn) Close() error {
	return s.sup.closeGracefully(DisconnectByApplication, "server closing")
}

// restrictToAvailable narrows the configured host key algorithm preference
// order down to algorithms this server actually has a key for, preserving
// relative order. A server that advertises an algorithm it can't sign for
// would fail the handshake the moment a client picked it.
func restrictToAvailable(preferred []string, keys []KeyProvider) []string {
	have := map[string]bool{}
	for _, k := range keys {
		have[k.AlgorithmID()] = true
	}
	out := make([]string, 0, len(preferred))
	for _, algo := range preferred {
		if have[algo] {
			out = append(out, algo)
		}
	}
	if len(out) == 0 {
		for _, k := range keys {
			out = append(out, k.AlgorithmID())
		}
	}
	return out
}

// selectHostKeySigner picks the key whose algorithm sorts earliest in algos,
// the server's own preference order, rather than waiting to see which
// algorithm the client would have picked: RFC 4253 section 7.1 has the
// server commit to one host key before K_S is hashed into the exchange
// hash, so this core advertises only algorithms it can actually sign for
// and then always uses its top preference among those.
func selectHostKeySigner(algos []string, keys []KeyProvider) Signer {
	for _, algo := range algos {
		for _, k := range keys {
			if k.AlgorithmID() == algo {
				return k
			}
		}
	}
	return keys[0]
}
