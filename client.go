package ssh

import (
	"crypto/rand"
	"net"
)

// ClientConn is an established, authenticated SSH client connection: the
// transport has completed KEX and userauth, and the connection phase
// (channel multiplexing) is running. Grounded in davecheney-ssh__client.go's
// Dial/Client split: Dial does the network connect, NewClientConn does the
// protocol handshake over an already-open net.Conn.
type ClientConn struct {
	conn net.Conn
	t    *transport
	mux  *Mux
	sup  *sessionSupervisor
}

// Dial connects to addr over network and runs the client handshake.
func Dial(network, addr string, config *ClientConfig) (*ClientConn, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	c, err := NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// NewClientConn runs the full client-side protocol over an already-
// connected net.Conn: version exchange, KEX, userauth, then starts the
// connection-phase session supervisor.
func NewClientConn(conn net.Conn, remoteAddr string, config *ClientConfig) (*ClientConn, error) {
	cfg := config.Config
	cfg.SetDefaults()

	t := newTransport(conn, &cfg, true)

	clientVersion := config.ClientVersion
	if clientVersion == "" {
		clientVersion = ourVersionPrefix
	}
	if err := t.exchangeVersions(clientVersion); err != nil {
		return nil, err
	}

	if err := t.runKex(nil, config.HostKeyCallback, remoteAddr); err != nil {
		return nil, err
	}

	t.state = stateAuth
	if err := requestService(t, "ssh-userauth"); err != nil {
		return nil, err
	}
	auth := &clientAuthSession{t: t, user: config.User, rnd: rand.Reader}
	if err := auth.run(config.Auth); err != nil {
		return nil, err
	}

	if err := requestService(t, "ssh-connection"); err != nil {
		return nil, err
	}

	t.state = stateRunning
	mux := newMux(t, true, &cfg, nil)
	sup := newSessionSupervisor(t, mux, nil, config.HostKeyCallback)
	sup.start(nil, nil)

	return &ClientConn{conn: conn, t: t, mux: mux, sup: sup}, nil
}

// OpenChannel opens a new logical channel of chanType, RFC 4254 section 5.1.
func (c *ClientConn) OpenChannel(chanType string, extra []byte) (*Channel, <-chan *Request, error) {
	return c.mux.OpenChannel(chanType, extra)
}

// Accept returns the next server-initiated channel (e.g. forwarded-tcpip),
// or (nil, false) once the connection has closed.
func (c *ClientConn) Accept() (*NewChannel, bool) {
	return c.mux.Accept()
}

// Close gracefully tears down the connection.
func (c *ClientConn) Close() error {
	return c.sup.closeGracefully(DisconnectByApplication, "client closing")
}
