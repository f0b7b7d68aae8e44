package ssh

import (
	"io"
	"sync"
)

// ChannelHandler attaches application behavior to an accepted channel -
// the split ContainerSSH's SessionChannelHandler models between the core
// multiplexer and whatever actually serves a shell, exec, or subsystem.
// This core only defines the attachment contract; concrete handlers
// (PTY/shell/exec/SFTP) are out of scope per spec.md's Non-goals.
type ChannelHandler interface {
	// Serve is run in its own goroutine once a channel of the handler's
	// type has been accepted. It owns the channel until Serve returns.
	Serve(ch *Channel, reqs <-chan *Request)
}

// ChannelHandlerFactory builds a ChannelHandler for one accepted channel,
// given the type-specific CHANNEL_OPEN data.
type ChannelHandlerFactory func(extraData []byte) (ChannelHandler, error)

// Mux owns every open channel on one transport and dispatches every
// channel-scoped message type, spec.md section 4.G. The open-channel table
// is a slot-reuse allocator (a slice plus a free list) rather than
// Chara-X-ssh's sync.Map keyed by a never-recycled counter, since spec.md
// requires closed local ids to become available again.
type Mux struct {
	t        *transport
	isClient bool
	config   *Config

	mu       sync.Mutex
	chans    []*Channel // index is local id; nil means free
	freeList []uint32

	pendingByID map[uint32]*pendingOpen // our own OpenChannel calls awaiting CONFIRMATION/FAILURE
	incoming    chan *NewChannel         // peer-initiated opens awaiting Accept/Reject

	handlers map[string]ChannelHandlerFactory // server side only

	closeOnce sync.Once
	done      chan struct{}
}

type pendingOpen struct {
	result chan openResult
}

type openResult struct {
	confirm *channelOpenConfirmMsg
	fail    *channelOpenFailureMsg
}

func newMux(t *transport, isClient bool, cfg *Config, handlers map[string]ChannelHandlerFactory) *Mux {
	return &Mux{
		t:           t,
		isClient:    isClient,
		config:      cfg,
		pendingByID: map[uint32]*pendingOpen{},
		incoming:    make(chan *NewChannel, 16),
		handlers:    handlers,
		done:        make(chan struct{}),
	}
}

// Accept returns the next peer-initiated channel open, or (nil, false) once
// the multiplexer has shut down.
func (m *Mux) Accept() (*NewChannel, bool) {
	nc, ok := <-m.incoming
	return nc, ok
}

func (m *Mux) allocLocalID(c *Channel) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.freeList); n > 0 {
		id := m.freeList[n-1]
		m.freeList = m.freeList[:n-1]
		m.chans[id] = c
		return id
	}
	id := uint32(len(m.chans))
	m.chans = append(m.chans, c)
	return id
}

func (m *Mux) freeLocalID(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(id) < len(m.chans) {
		m.chans[id] = nil
		m.freeList = append(m.freeList, id)
	}
}

func (m *Mux) lookup(id uint32) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(id) >= len(m.chans) {
		return nil
	}
	return m.chans[id]
}

// OpenChannel initiates CHANNEL_OPEN and blocks for the peer's
// CONFIRMATION or FAILURE, spec.md section 4.G.
func (m *Mux) OpenChannel(chanType string, extra []byte) (*Channel, <-chan *Request, error) {
	c := newChannel(m, chanType, 0, m.config.InitialWindowSize, m.config.MaxPacketSize)
	localID := m.allocLocalID(c)
	c.localID = localID

	p := &pendingOpen{result: make(chan openResult, 1)}
	m.mu.Lock()
	m.pendingByID[localID] = p
	m.mu.Unlock()

	msg := &channelOpenMsg{
		ChanType: chanType, PeerID: localID,
		PeerWindow: m.config.InitialWindowSize, PeerMaxPacketSize: m.config.MaxPacketSize,
		TypeSpecificData: extra,
	}
	if err := m.t.sendPacket(msg.marshal()); err != nil {
		m.freeLocalID(localID)
		return nil, nil, err
	}

	res := <-p.result
	if res.fail != nil {
		m.freeLocalID(localID)
		return nil, nil, &ChannelError{LocalID: localID, Message: res.fail.Message}
	}
	c.remoteID = res.confirm.MyID
	c.remoteWindow = newWindow(res.confirm.MyWindow)
	c.maxOutgoingPacket = res.confirm.MyMaxPacketSize
	c.state = chanOpen
	return c, c.requests, nil
}

func (m *Mux) acceptChannel(nc *NewChannel) (*Channel, <-chan *Request, error) {
	c := newChannel(m, nc.chanType, 0, m.config.InitialWindowSize, m.config.MaxPacketSize)
	localID := m.allocLocalID(c)
	c.localID = localID
	c.remoteID = nc.remoteID
	c.remoteWindow = newWindow(nc.remoteWindow)
	c.maxOutgoingPacket = nc.remoteMaxPkt
	c.state = chanOpen

	confirm := &channelOpenConfirmMsg{
		PeerID: nc.remoteID, MyID: localID,
		MyWindow: m.config.InitialWindowSize, MyMaxPacketSize: m.config.MaxPacketSize,
	}
	if err := m.t.sendPacket(confirm.marshal()); err != nil {
		m.freeLocalID(localID)
		return nil, nil, err
	}
	return c, c.requests, nil
}

func (m *Mux) rejectChannel(nc *NewChannel, reason uint32, message string) error {
	msg := &channelOpenFailureMsg{PeerID: nc.remoteID, Reason: reason, Message: message, Lang: "en"}
	return m.t.sendPacket(msg.marshal())
}

// serve reads packets off the transport until it errors or the transport
// closes, dispatching every channel-scoped message type. It is for a Mux
// whose transport has no Session Supervisor (the package tests run it in
// its own goroutine); a supervised connection dispatches from the
// supervisor's read loop instead.
func (m *Mux) serve() {
	defer m.shutdown()
	for {
		payload, err := m.t.readPacket()
		if err != nil {
			return
		}
		if len(payload) == 0 {
			continue
		}
		if err := m.dispatch(payload); err != nil {
			if cerr, ok := err.(*ChannelError); ok {
				m.closeChannel(cerr.LocalID)
				continue
			}
			return
		}
	}
}

// closeChannel force-closes the one channel named by a ChannelError: it is
// torn down and its local id freed, but the transport and every other
// channel on it keep running, spec.md section 7.
func (m *Mux) closeChannel(localID uint32) {
	c := m.lookup(localID)
	if c == nil {
		return
	}
	_ = m.t.sendPacket((&channelCloseMsg{PeerID: c.remoteID}).marshal())
	c.teardown()
	m.freeLocalID(localID)
}

func (m *Mux) dispatch(payload []byte) error {
	switch payload[0] {
	case msgChannelOpen:
		return m.handleOpen(payload)
	case msgChannelOpenConfirmation:
		return m.handleOpenConfirm(payload)
	case msgChannelOpenFailure:
		return m.handleOpenFailure(payload)
	case msgChannelWindowAdjust:
		return m.handleWindowAdjust(payload)
	case msgChannelData:
		return m.handleData(payload)
	case msgChannelExtendedData:
		return m.handleExtendedData(payload)
	case msgChannelEOF:
		return m.handleEOF(payload)
	case msgChannelClose:
		return m.handleClose(payload)
	case msgChannelRequest:
		return m.handleRequest(payload)
	case msgChannelSuccess, msgChannelFailure:
		return m.handleRequestReply(payload, payload[0] == msgChannelSuccess)
	case msgGlobalRequest, msgRequestSuccess, msgRequestFailure:
		return nil // global requests (tcpip-forward etc.) are out of scope
	case msgDisconnect:
		return io.EOF
	case msgDebug, msgIgnore:
		return nil
	case msgUnimplemented:
		return nil
	default:
		return m.t.sendUnimplemented(m.t.reader.seq - 1)
	}
}

func (m *Mux) handleOpen(payload []byte) error {
	msg, err := parseChannelOpenMsg(payload)
	if err != nil {
		return err
	}
	nc := &NewChannel{
		mux: m, chanType: msg.ChanType, extraData: msg.TypeSpecificData,
		remoteID: msg.PeerID, remoteWindow: msg.PeerWindow, remoteMaxPkt: msg.PeerMaxPacketSize,
	}
	if factory, ok := m.handlers[msg.ChanType]; ok {
		h, err := factory(msg.TypeSpecificData)
		if err != nil {
			return m.rejectChannel(nc, OpenConnectFailed, err.Error())
		}
		ch, reqs, err := m.acceptChannel(nc)
		if err != nil {
			return err
		}
		go h.Serve(ch, reqs)
		return nil
	}
	select {
	case m.incoming <- nc:
	default:
		// No one is accepting fast enough; refuse rather than block the
		// read loop indefinitely.
		return m.rejectChannel(nc, OpenResourceShortage, "server too busy")
	}
	return nil
}

func (m *Mux) handleOpenConfirm(payload []byte) error {
	msg, err := parseChannelOpenConfirmMsg(payload)
	if err != nil {
		return err
	}
	p := m.takePending(msg.PeerID)
	if p == nil {
		return newProtocolError(KindChannel, DisconnectProtocolError, "open confirmation for unknown channel")
	}
	p.result <- openResult{confirm: msg}
	return nil
}

func (m *Mux) handleOpenFailure(payload []byte) error {
	msg, err := parseChannelOpenFailureMsg(payload)
	if err != nil {
		return err
	}
	p := m.takePending(msg.PeerID)
	if p == nil {
		return newProtocolError(KindChannel, DisconnectProtocolError, "open failure for unknown channel")
	}
	p.result <- openResult{fail: msg}
	return nil
}

func (m *Mux) takePending(localID uint32) *pendingOpen {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pendingByID[localID]
	delete(m.pendingByID, localID)
	return p
}

func (m *Mux) handleWindowAdjust(payload []byte) error {
	msg, err := parseChannelWindowAdjustMsg(payload)
	if err != nil {
		return err
	}
	c := m.lookup(msg.PeerID)
	if c == nil {
		return nil // channel already torn down locally, not an error
	}
	c.remoteWindow.add(msg.AdditionalBytes)
	return nil
}

func (m *Mux) handleData(payload []byte) error {
	msg, err := parseChannelDataMsg(payload)
	if err != nil {
		return err
	}
	c := m.lookup(msg.PeerID)
	if c == nil {
		return nil
	}
	if c.eofAlreadyReceived() {
		return &ChannelError{LocalID: msg.PeerID, Message: "data received after channel EOF"}
	}
	if !c.localWindow.sub(uint32(len(msg.Data))) {
		return &ChannelError{LocalID: msg.PeerID, Message: "peer exceeded advertised window"}
	}
	select {
	case c.incoming <- msg.Data:
	case <-m.done:
	}
	return nil
}

func (m *Mux) handleExtendedData(payload []byte) error {
	msg, err := parseChannelExtendedDataMsg(payload)
	if err != nil {
		return err
	}
	c := m.lookup(msg.PeerID)
	if c == nil {
		return nil
	}
	if c.eofAlreadyReceived() {
		return &ChannelError{LocalID: msg.PeerID, Message: "extended data received after channel EOF"}
	}
	if !c.localWindow.sub(uint32(len(msg.Data))) {
		return &ChannelError{LocalID: msg.PeerID, Message: "peer exceeded advertised window"}
	}
	select {
	case c.stderr <- msg.Data:
	case <-m.done:
	}
	return nil
}

func (m *Mux) handleEOF(payload []byte) error {
	id, err := parsePeerIDOnly(payload)
	if err != nil {
		return err
	}
	c := m.lookup(id)
	if c == nil {
		return nil
	}
	c.signalEOF()
	return nil
}

func (m *Mux) handleClose(payload []byte) error {
	id, err := parsePeerIDOnly(payload)
	if err != nil {
		return err
	}
	c := m.lookup(id)
	if c == nil {
		return nil
	}
	_ = c.mux.t.sendPacket((&channelCloseMsg{PeerID: c.remoteID}).marshal())
	c.teardown()
	m.freeLocalID(id)
	return nil
}

func (m *Mux) handleRequest(payload []byte) error {
	msg, err := parseChannelRequestMsg(payload)
	if err != nil {
		return err
	}
	c := m.lookup(msg.PeerID)
	if c == nil {
		return nil
	}
	req := &Request{Type: msg.Request, WantReply: msg.WantReply, Payload: msg.Payload, ch: c}
	select {
	case c.requests <- req:
	case <-m.done:
	}
	return nil
}

func (m *Mux) handleRequestReply(payload []byte, ok bool) error {
	id, err := parsePeerIDOnly(payload)
	if err != nil {
		return err
	}
	c := m.lookup(id)
	if c == nil {
		return nil
	}
	select {
	case c.pendingReplies <- ok:
	default:
	}
	return nil
}

func (m *Mux) shutdown() {
	m.closeOnce.Do(func() {
		close(m.done)
		close(m.incoming)
		m.mu.Lock()
		chans := append([]*Channel{}, m.chans...)
		m.mu.Unlock()
		for _, c := range chans {
			if c != nil {
				c.teardown()
			}
		}
	})
}

// Global request message types this core acknowledges the existence of
// but does not act on (tcpip-forward and friends, RFC 4254 section 7.1).
const (
	msgGlobalRequest  = 80
	msgRequestSuccess = 81
	msgRequestFailure = 82
)
