package ssh

import (
	"io"
	"net"
	"testing"
	"time"
)

func TestWindowReserveBlocksUntilCredit(t *testing.T) {
	w := newWindow(0)

	done := make(chan uint32, 1)
	go func() { done <- w.reserve(10) }()

	select {
	case <-done:
		t.Fatal("reserve returned before credit was added")
	case <-time.After(20 * time.Millisecond):
	}

	w.add(5)
	select {
	case n := <-done:
		if n != 5 {
			t.Errorf("reserve() = %d, want 5", n)
		}
	case <-time.After(time.Second):
		t.Fatal("reserve never woke up after add")
	}
}

func TestWindowCloseUnblocksReserve(t *testing.T) {
	w := newWindow(0)
	done := make(chan uint32, 1)
	go func() { done <- w.reserve(10) }()

	time.Sleep(10 * time.Millisecond)
	w.close()

	select {
	case n := <-done:
		if n != 0 {
			t.Errorf("reserve() after close = %d, want 0", n)
		}
	case <-time.After(time.Second):
		t.Fatal("reserve never woke up after close")
	}
}

func TestWindowAddOverflowIgnored(t *testing.T) {
	w := newWindow(0)
	w.win = ^uint32(0)
	if w.add(10) {
		t.Error("add() should reject a delta that would overflow win")
	}
	if w.win != ^uint32(0) {
		t.Errorf("win mutated after rejected add: %d", w.win)
	}
}

// pairedTransports returns two transports sharing a net.Pipe, both already
// in the running state with the none cipher active, so mux/channel tests
// don't need to drive a full key exchange.
func pairedTransports(t *testing.T) (*transport, *transport) {
	t.Helper()
	c1, c2 := net.Pipe()
	cfg := &Config{}
	cfg.SetDefaults()
	ct := newTransport(c1, cfg, true)
	st := newTransport(c2, cfg, false)
	ct.state = stateRunning
	st.state = stateRunning
	return ct, st
}

func TestMuxOpenChannelAndData(t *testing.T) {
	ct, st := pairedTransports(t)

	clientMux := newMux(ct, true, ct.config, nil)
	serverMux := newMux(st, false, st.config, nil)
	go serverMux.serve()
	go clientMux.serve()
	defer clientMux.shutdown()
	defer serverMux.shutdown()

	var serverChan *Channel
	accepted := make(chan struct{})
	go func() {
		nc, ok := serverMux.Accept()
		if !ok {
			return
		}
		ch, _, err := nc.Accept()
		if err != nil {
			t.Errorf("server Accept: %v", err)
			return
		}
		serverChan = ch
		close(accepted)
	}()

	clientChan, _, err := clientMux.OpenChannel("session", nil)
	if err != nil {
		t.Fatalf("OpenChannel: %v", err)
	}

	select {
	case <-accepted:
	case <-time.After(time.Second):
		t.Fatal("server never accepted the channel")
	}

	if _, err := clientChan.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 5)
	if _, err := io.ReadFull(serverChan, buf); err != nil {
		t.Fatalf("server Read: %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("server read %q, want %q", buf, "hello")
	}

	if err := clientChan.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// drain continuously reads and discards packets off tr in the background,
// so a peer transport's writes (e.g. a CHANNEL_CLOSE sent by closeChannel)
// never block on an unread net.Pipe.
func drain(t *testing.T, tr *transport) {
	t.Helper()
	go func() {
		for {
			if _, err := tr.readPacket(); err != nil {
				return
			}
		}
	}()
}

// TestHandleDataEnforcesCumulativeWindow reproduces the scenario where an
// 8-byte window is granted, the peer sends an 8-byte CHANNEL_DATA packet,
// and then - before any Read drains it and returns credit - a second packet
// arrives. The second packet must be rejected even though it alone is only
// 1 byte, since the peer has now sent 9 bytes against an 8-byte grant.
func TestHandleDataEnforcesCumulativeWindow(t *testing.T) {
	ct, st := pairedTransports(t)
	drain(t, ct)

	serverMux := newMux(st, false, st.config, nil)
	c := newChannel(serverMux, "session", 0, 8, st.config.MaxPacketSize)
	localID := serverMux.allocLocalID(c)
	c.localID = localID
	c.remoteID = 99
	c.state = chanOpen

	first := (&channelDataMsg{PeerID: localID, Data: make([]byte, 8)}).marshal()
	if err := serverMux.dispatch(first); err != nil {
		t.Fatalf("first packet within window: %v", err)
	}

	second := (&channelDataMsg{PeerID: localID, Data: []byte{0x42}}).marshal()
	err := serverMux.dispatch(second)
	cerr, ok := err.(*ChannelError)
	if !ok {
		t.Fatalf("dispatch() = %v, want *ChannelError for cumulative overrun", err)
	}
	if cerr.LocalID != localID {
		t.Errorf("ChannelError.LocalID = %d, want %d", cerr.LocalID, localID)
	}
}

func TestHandleExtendedDataEnforcesWindow(t *testing.T) {
	ct, st := pairedTransports(t)
	drain(t, ct)

	serverMux := newMux(st, false, st.config, nil)
	c := newChannel(serverMux, "session", 0, 4, st.config.MaxPacketSize)
	localID := serverMux.allocLocalID(c)
	c.localID = localID
	c.remoteID = 1
	c.state = chanOpen

	overrun := (&channelExtendedDataMsg{PeerID: localID, DataType: ExtendedDataStderr, Data: make([]byte, 5)}).marshal()
	err := serverMux.dispatch(overrun)
	if _, ok := err.(*ChannelError); !ok {
		t.Fatalf("dispatch() = %v, want *ChannelError for stderr window overrun", err)
	}
}

func TestHandleDataAfterEOFIsProtocolError(t *testing.T) {
	_, st := pairedTransports(t)

	serverMux := newMux(st, false, st.config, nil)
	c := newChannel(serverMux, "session", 0, 1<<20, st.config.MaxPacketSize)
	localID := serverMux.allocLocalID(c)
	c.localID = localID
	c.remoteID = 1
	c.state = chanOpen
	c.signalEOF()

	msg := (&channelDataMsg{PeerID: localID, Data: []byte("late")}).marshal()
	if _, ok := serverMux.dispatch(msg).(*ChannelError); !ok {
		t.Fatal("dispatch() of CHANNEL_DATA after EOF did not return a *ChannelError")
	}

	extMsg := (&channelExtendedDataMsg{PeerID: localID, DataType: ExtendedDataStderr, Data: []byte("late")}).marshal()
	if _, ok := serverMux.dispatch(extMsg).(*ChannelError); !ok {
		t.Fatal("dispatch() of CHANNEL_EXTENDED_DATA after EOF did not return a *ChannelError")
	}
}

// TestChannelErrorClosesOnlyOffendingChannel checks that reacting to a
// ChannelError (as session_supervisor.go's readLoop and Mux.serve both do)
// tears down only the channel it names, leaving the rest of the mux alone.
func TestChannelErrorClosesOnlyOffendingChannel(t *testing.T) {
	ct, st := pairedTransports(t)
	drain(t, ct)

	serverMux := newMux(st, false, st.config, nil)

	good := newChannel(serverMux, "session", 0, 1<<20, st.config.MaxPacketSize)
	goodID := serverMux.allocLocalID(good)
	good.localID = goodID
	good.remoteID = 10
	good.state = chanOpen

	bad := newChannel(serverMux, "session", 0, 8, st.config.MaxPacketSize)
	badID := serverMux.allocLocalID(bad)
	bad.localID = badID
	bad.remoteID = 11
	bad.state = chanOpen

	overrun := (&channelDataMsg{PeerID: badID, Data: make([]byte, 9)}).marshal()
	err := serverMux.dispatch(overrun)
	cerr, ok := err.(*ChannelError)
	if !ok {
		t.Fatalf("dispatch() = %v, want *ChannelError", err)
	}
	serverMux.closeChannel(cerr.LocalID)

	if bad.state != chanClosed {
		t.Error("offending channel was not torn down")
	}
	if good.state != chanOpen {
		t.Error("unrelated channel was closed by another channel's error")
	}
	if !good.localWindow.sub(4) {
		t.Error("unrelated channel's window was disturbed by the other channel's teardown")
	}
}

func TestRequestReply(t *testing.T) {
	ct, st := pairedTransports(t)

	clientMux := newMux(ct, true, ct.config, nil)
	serverMux := newMux(st, false, st.config, nil)
	go serverMux.serve()
	go clientMux.serve()
	defer clientMux.shutdown()
	defer serverMux.shutdown()

	go func() {
		nc, ok := serverMux.Accept()
		if !ok {
			return
		}
		ch, reqs, err := nc.Accept()
		if err != nil {
			return
		}
		req := <-reqs
		req.Reply(true, nil)
		_ = ch
	}()

	clientChan, _, err := clientMux.OpenChannel("session", nil)
	if err != nil {
		t.Fatalf("OpenChannel: %v", err)
	}

	ok, err := clientChan.SendRequest("shell", true, nil)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if !ok {
		t.Error("SendRequest() = false, want true")
	}
}
