package ssh

import (
	"sync"
	"time"
)

// sessionSupervisor owns the post-handshake lifetime of one connection,
// spec.md section 4.H: a read loop that filters transport-level control
// messages (IGNORE, DEBUG, UNIMPLEMENTED, DISCONNECT) and checks the rekey
// triggers before handing everything else to the Mux, plus a bounded
// outbound queue so a slow peer can't make Close block forever.
type sessionSupervisor struct {
	t        *transport
	mux      *Mux
	signer   Signer            // nil on the client; used to re-run KEX on rekey
	verifier ServerKeyVerifier // nil on the server

	outbound chan []byte

	onError  func(error)
	onClosed func()

	idleTimeout time.Duration
	idleTimer   *time.Timer

	wg        sync.WaitGroup
	closeOnce sync.Once
	stopped   chan struct{}
}

func newSessionSupervisor(t *transport, mux *Mux, signer Signer, verifier ServerKeyVerifier) *sessionSupervisor {
	s := &sessionSupervisor{
		t:        t,
		mux:      mux,
		signer:   signer,
		verifier: verifier,
		outbound: make(chan []byte, 64),
		stopped:  make(chan struct{}),
	}
	if t.config.IdleTimeoutSeconds > 0 {
		s.idleTimeout = time.Duration(t.config.IdleTimeoutSeconds) * time.Second
	}
	return s
}

// start launches the read loop, the write loop, and (if configured) the
// idle timer. onError and onClosed are invoked at most once each.
func (s *sessionSupervisor) start(onError func(error), onClosed func()) {
	s.onError = onError
	s.onClosed = onClosed

	if s.idleTimeout > 0 {
		s.idleTimer = time.AfterFunc(s.idleTimeout, func() {
			_ = s.closeGracefully(DisconnectByApplication, "idle timeout")
		})
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
}

// send enqueues payload for the write loop. It never blocks the caller's
// channel-dispatch goroutine past the queue's capacity; a full queue means
// the peer or the network is not keeping up.
func (s *sessionSupervisor) send(payload []byte) error {
	select {
	case s.outbound <- payload:
		return nil
	case <-s.stopped:
		return &ErrTransportClosed{}
	}
}

func (s *sessionSupervisor) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case payload := <-s.outbound:
			if err := s.t.sendPacket(payload); err != nil {
				s.fail(err)
				return
			}
			s.bumpIdle()
		case <-s.stopped:
			return
		}
	}
}

func (s *sessionSupervisor) readLoop() {
	defer s.wg.Done()
	for {
		payload, err := s.t.readPacket()
		if err != nil {
			s.fail(err)
			return
		}
		s.bumpIdle()

		if len(payload) == 0 {
			continue
		}

		switch payload[0] {
		case msgDisconnect:
			msg, _ := parseDisconnectMsg(payload)
			reason := uint32(0)
			if msg != nil {
				reason = msg.Reason
			}
			s.fail(&ErrTransportClosed{Reason: reason})
			return
		case msgIgnore, msgDebug:
			continue
		case msgUnimplemented:
			continue
		case msgKexInit:
			if err := s.handleRekey(payload); err != nil {
				s.fail(err)
				return
			}
		default:
			if err := s.mux.dispatch(payload); err != nil {
				if cerr, ok := err.(*ChannelError); ok {
					s.mux.closeChannel(cerr.LocalID)
				} else {
					s.fail(err)
					return
				}
			}
		}

		if s.t.rekey != nil && s.t.rekey.due(s.t.clock()) {
			if err := s.triggerRekey(); err != nil {
				s.fail(err)
				return
			}
		}
	}
}

// handleRekey responds to a peer-initiated KEXINIT received mid-session:
// the transport's runKex expects to send its own KEXINIT first via
// sendKexInit, so this replays the already-read KEXINIT through the same
// negotiation path runKex uses, by temporarily buffering it.
func (s *sessionSupervisor) handleRekey(peerKexInit []byte) error {
	s.t.kexInitReceived = peerKexInit
	return s.t.runKexRekey(s.signer, s.verifier, s.t.conn.RemoteAddr().String(), true)
}

func (s *sessionSupervisor) triggerRekey() error {
	return s.t.runKexRekey(s.signer, s.verifier, s.t.conn.RemoteAddr().String(), false)
}

func (s *sessionSupervisor) bumpIdle() {
	if s.idleTimer != nil {
		s.idleTimer.Reset(s.idleTimeout)
	}
}

func (s *sessionSupervisor) fail(err error) {
	s.closeOnce.Do(func() {
		close(s.stopped)
		if s.onError != nil {
			s.onError(err)
		}
		if s.onClosed != nil {
			s.onClosed()
		}
	})
}

// closeGracefully sends DISCONNECT, then waits up to 5 seconds for the
// read/write loops to notice and exit before forcing an immediate close,
// spec.md section 4.H.
func (s *sessionSupervisor) closeGracefully(reason uint32, message string) error {
	_ = s.t.disconnect(reason, message)
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		return s.closeImmediately()
	}
	return nil
}

// closeImmediately tears down the transport and every open channel without
// waiting for an orderly exchange.
func (s *sessionSupervisor) closeImmediately() error {
	err := s.t.conn.Close()
	s.fail(&ErrTransportClosed{})
	return err
}
