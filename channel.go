package ssh

import (
	"errors"
	"io"
	"sync"
)

// window represents the flow-control credit available to one direction of
// one channel, RFC 4254 section 5.2. Grounded directly in golang-crypto's
// client.go window type: add()/reserve() on a condition variable rather
// than a buffered channel, so a writer blocks until credit exists instead
// of polling.
type window struct {
	*sync.Cond
	win    uint32
	closed bool
}

func newWindow(initial uint32) *window {
	return &window{Cond: sync.NewCond(new(sync.Mutex)), win: initial}
}

func (w *window) add(n uint32) bool {
	if n == 0 {
		return false
	}
	w.L.Lock()
	defer w.L.Unlock()
	if w.win+n < w.win {
		return false
	}
	w.win += n
	w.Broadcast()
	return true
}

// reserve blocks until at least 1 byte of credit is available or close
// has been called, then consumes up to n bytes and returns how much was
// actually reserved (0 once closed).
func (w *window) reserve(n uint32) uint32 {
	w.L.Lock()
	defer w.L.Unlock()
	for w.win == 0 && !w.closed {
		w.Wait()
	}
	if w.closed {
		return 0
	}
	if w.win < n {
		n = w.win
	}
	w.win -= n
	return n
}

// close unblocks every waiter in reserve with a permanent 0 result.
func (w *window) close() {
	w.L.Lock()
	w.closed = true
	w.Broadcast()
	w.L.Unlock()
}

// sub consumes n bytes of credit immediately, without blocking. It reports
// false if n exceeds the credit on hand, which for a localWindow means the
// peer has sent more CHANNEL_DATA/CHANNEL_EXTENDED_DATA than it was granted.
func (w *window) sub(n uint32) bool {
	w.L.Lock()
	defer w.L.Unlock()
	if n > w.win {
		return false
	}
	w.win -= n
	return true
}

// channelState is the per-channel state machine, spec.md section 4.G:
// OPENING -> OPEN -> {EOF_SENT|EOF_RECEIVED}* -> CLOSING -> CLOSED. EOF in
// both directions is tracked with two booleans rather than a fourth state
// name, since "both" is just the conjunction.
type channelState int

const (
	chanOpening channelState = iota
	chanOpen
	chanClosing
	chanClosed
)

// extendedData pairs an SSH_EXTENDED_DATA_* type with its payload, read
// from Channel.Stderr() for type 1 (stderr).
type extendedData struct {
	dataType uint32
	data     []byte
}

// Request is one CHANNEL_REQUEST delivered to the channel's consumer, in
// the shape of golang.org/x/crypto/ssh's ssh.Request: Type names the
// request (pty-req, shell, exec, ...), Payload is the request-specific
// body, and Reply must be called exactly once if WantReply is set.
type Request struct {
	Type      string
	WantReply bool
	Payload   []byte

	ch  *Channel
	seq uint32
}

// Reply answers a want-reply CHANNEL_REQUEST with CHANNEL_SUCCESS or
// CHANNEL_FAILURE. Calling it when WantReply is false is a no-op.
func (r *Request) Reply(ok bool, payload []byte) error {
	if !r.WantReply {
		return nil
	}
	if ok {
		return r.ch.mux.t.sendPacket(putUint32([]byte{msgChannelSuccess}, r.ch.remoteID))
	}
	return r.ch.mux.t.sendPacket(putUint32([]byte{msgChannelFailure}, r.ch.remoteID))
}

// Channel is one multiplexed logical connection over a single transport,
// RFC 4254 section 5. It implements io.ReadWriteCloser for the "data"
// stream and exposes Stderr() for extended data type 1, matching
// golang.org/x/crypto/ssh's ssh.Channel shape.
type Channel struct {
	mux *Mux

	chanType string
	localID  uint32
	remoteID uint32

	localWindow  *window
	remoteWindow *window

	maxIncomingPacket uint32
	maxOutgoingPacket uint32

	mu           sync.Mutex
	state        channelState
	eofSent      bool
	eofReceived  bool
	closedFlag   bool

	incoming chan []byte
	stderr   chan []byte
	requests chan *Request
	eofCh    chan struct{}
	eofOnce  sync.Once

	readBuf []byte

	pendingReplies chan bool // FIFO of our own SendRequest(wantReply=true) outcomes
}

func newChannel(mux *Mux, chanType string, localID uint32, localWindow, maxIncomingPacket uint32) *Channel {
	return &Channel{
		mux:               mux,
		chanType:          chanType,
		localID:           localID,
		localWindow:       newWindow(localWindow),
		maxIncomingPacket: maxIncomingPacket,
		incoming:          make(chan []byte, 16),
		stderr:            make(chan []byte, 16),
		requests:          make(chan *Request, 16),
		eofCh:             make(chan struct{}),
		pendingReplies:    make(chan bool, 1),
		state:             chanOpening,
	}
}

// signalEOF marks the peer's CHANNEL_EOF, unblocking any pending Read once
// the buffered incoming data (if any) has been drained.
func (c *Channel) signalEOF() {
	c.mu.Lock()
	c.eofReceived = true
	c.mu.Unlock()
	c.eofOnce.Do(func() { close(c.eofCh) })
}

// eofAlreadyReceived reports whether CHANNEL_EOF has already arrived from
// the peer, so the Mux can reject further CHANNEL_DATA/CHANNEL_EXTENDED_DATA
// as a protocol error instead of silently delivering it, RFC 4254 section 5.3.
func (c *Channel) eofAlreadyReceived() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eofReceived
}

// Read implements io.Reader over channel data, returning io.EOF once the
// peer has sent CHANNEL_EOF and all buffered data is drained.
func (c *Channel) Read(p []byte) (int, error) {
	for len(c.readBuf) == 0 {
		select {
		case data, ok := <-c.incoming:
			if !ok {
				return 0, io.EOF
			}
			c.readBuf = data
		case <-c.eofCh:
			select {
			case data := <-c.incoming:
				c.readBuf = data
			default:
				return 0, io.EOF
			}
		}
	}
	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	c.localWindow.add(uint32(n))
	if err := c.sendWindowAdjustIfNeeded(uint32(n)); err != nil {
		return n, err
	}
	return n, nil
}

func (c *Channel) sendWindowAdjustIfNeeded(consumed uint32) error {
	// A real deployment batches window adjustments; this core sends one
	// per Read call, trading a few extra packets for simplicity.
	msg := &channelWindowAdjustMsg{PeerID: c.remoteID, AdditionalBytes: consumed}
	return c.mux.t.sendPacket(msg.marshal())
}

// ExtendedDataStderr is SSH_EXTENDED_DATA_STDERR, RFC 4254 section 5.2.
const ExtendedDataStderr = 1

// Stderr returns a reader for extended data of type SSH_EXTENDED_DATA_STDERR.
func (c *Channel) Stderr() io.Reader {
	return &stderrReader{ch: c}
}

// StderrWriter returns a writer that sends SSH_EXTENDED_DATA_STDERR, the
// counterpart to Stderr() for a server streaming a command's stderr back to
// the client.
func (c *Channel) StderrWriter() io.Writer {
	return &stderrWriter{ch: c}
}

type stderrWriter struct{ ch *Channel }

func (w *stderrWriter) Write(p []byte) (int, error) {
	return w.ch.WriteExtended(ExtendedDataStderr, p)
}

type stderrReader struct {
	ch  *Channel
	buf []byte
}

func (r *stderrReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		data, ok := <-r.ch.stderr
		if !ok {
			return 0, io.EOF
		}
		r.buf = data
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	r.ch.localWindow.add(uint32(n))
	return n, r.ch.sendWindowAdjustIfNeeded(uint32(n))
}

// Write implements io.Writer, fragmenting payload across the peer's
// advertised max packet size and blocking on remoteWindow credit.
func (c *Channel) Write(p []byte) (int, error) {
	return c.write(msgChannelData, 0, p)
}

// WriteExtended writes to an extended data stream (stderr is type 1).
func (c *Channel) WriteExtended(dataType uint32, p []byte) (int, error) {
	return c.write(msgChannelExtendedData, dataType, p)
}

func (c *Channel) write(msgType byte, dataType uint32, p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		want := uint32(len(p))
		if want > c.maxOutgoingPacket {
			want = c.maxOutgoingPacket
		}
		n := c.remoteWindow.reserve(want)
		if n == 0 {
			return total, errors.New("ssh: channel closed")
		}
		chunk := p[:n]

		var buf []byte
		if msgType == msgChannelExtendedData {
			buf = putUint32([]byte{msgChannelExtendedData}, c.remoteID)
			buf = putUint32(buf, dataType)
			buf = putString(buf, chunk)
		} else {
			buf = putUint32([]byte{msgChannelData}, c.remoteID)
			buf = putString(buf, chunk)
		}
		if err := c.mux.t.sendPacket(buf); err != nil {
			return total, err
		}
		total += len(chunk)
		p = p[n:]
	}
	return total, nil
}

// SendRequest sends a CHANNEL_REQUEST and, if wantReply, blocks for the
// matching CHANNEL_SUCCESS/CHANNEL_FAILURE. Requests on one channel are a
// strict FIFO, RFC 4254 section 5.4; this core never pipelines more than
// one outstanding want-reply request per channel to keep that ordering
// trivially correct.
func (c *Channel) SendRequest(name string, wantReply bool, payload []byte) (bool, error) {
	msg := &channelRequestMsg{PeerID: c.remoteID, Request: name, WantReply: wantReply, Payload: payload}
	if err := c.mux.t.sendPacket(msg.marshal()); err != nil {
		return false, err
	}
	if !wantReply {
		return true, nil
	}
	ok, open := <-c.pendingReplies
	if !open {
		return false, errors.New("ssh: channel closed before request reply")
	}
	return ok, nil
}

// Requests returns the channel on which incoming CHANNEL_REQUESTs arrive.
func (c *Channel) Requests() <-chan *Request { return c.requests }

// CloseWrite sends CHANNEL_EOF without closing the channel for reading.
func (c *Channel) CloseWrite() error {
	c.mu.Lock()
	if c.eofSent {
		c.mu.Unlock()
		return nil
	}
	c.eofSent = true
	c.mu.Unlock()
	return c.mux.t.sendPacket((&channelEOFMsg{PeerID: c.remoteID}).marshal())
}

// Close half-closes for writing (if not already) and sends CHANNEL_CLOSE,
// spec.md section 4.G's CLOSING transition.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == chanClosed || c.state == chanClosing {
		c.mu.Unlock()
		return nil
	}
	c.state = chanClosing
	c.mu.Unlock()
	_ = c.CloseWrite()
	return c.mux.t.sendPacket((&channelCloseMsg{PeerID: c.remoteID}).marshal())
}

// teardown is called by the Mux once CHANNEL_CLOSE has been both sent and
// received (or the transport died): it unblocks every blocked reader and
// writer. The Mux frees the local id after calling it.
func (c *Channel) teardown() {
	c.mu.Lock()
	c.state = chanClosed
	c.closedFlag = true
	c.mu.Unlock()

	if c.remoteWindow != nil {
		c.remoteWindow.close()
	}
	c.eofOnce.Do(func() { close(c.eofCh) })

	close(c.incoming)
	close(c.stderr)
	close(c.requests)
	close(c.pendingReplies)
}

// NewChannel is an incoming CHANNEL_OPEN offered to the consumer before it
// decides to Accept or Reject, matching golang.org/x/crypto/ssh's
// ssh.NewChannel.
type NewChannel struct {
	mux          *Mux
	chanType     string
	extraData    []byte
	remoteID     uint32
	remoteWindow uint32
	remoteMaxPkt uint32
}

func (n *NewChannel) ChannelType() string { return n.chanType }
func (n *NewChannel) ExtraData() []byte   { return n.extraData }

// Accept confirms the channel open and returns the usable Channel plus its
// request stream.
func (n *NewChannel) Accept() (*Channel, <-chan *Request, error) {
	return n.mux.acceptChannel(n)
}

// Reject sends CHANNEL_OPEN_FAILURE with reason and message.
func (n *NewChannel) Reject(reason uint32, message string) error {
	return n.mux.rejectChannel(n, reason, message)
}

// DiscardRequests drains a channel's request stream, replying false to
// every want-reply request, for callers that don't care about server-driven
// requests like "exit-status" beyond keeping the channel unblocked.
func DiscardRequests(reqs <-chan *Request) {
	for req := range reqs {
		if req.WantReply {
			_ = req.Reply(false, nil)
		}
	}
}

// Open-failure reason codes, RFC 4254 section 5.1.
const (
	OpenAdministrativelyProhibited = 1
	OpenConnectFailed              = 2
	OpenUnknownChannelType         = 3
	OpenResourceShortage           = 4
)
