package ssh

import (
	"encoding/binary"
	"math/big"
)

// Message type bytes, RFC 4250 section 4.1.2.
const (
	msgDisconnect    = 1
	msgIgnore        = 2
	msgUnimplemented = 3
	msgDebug         = 4
	msgServiceRequest = 5
	msgServiceAccept  = 6

	msgKexInit = 20
	msgNewKeys = 21

	// Shared by every KEX method's first/second message; the concrete
	// kexAlgorithm implementation knows which of its two phases a given
	// 30/31 pair means (DH_INIT/DH_REPLY, ECDH_INIT/ECDH_REPLY, ...).
	msgKexDHInit  = 30
	msgKexDHReply = 31

	msgUserAuthRequest = 50
	msgUserAuthFailure = 51
	msgUserAuthSuccess = 52
	msgUserAuthBanner  = 53
	msgUserAuthPubKeyOK      = 60
	msgUserAuthInfoRequest   = 60
	msgUserAuthInfoResponse  = 61

	msgChannelOpen             = 90
	msgChannelOpenConfirmation = 91
	msgChannelOpenFailure      = 92
	msgChannelWindowAdjust     = 93
	msgChannelData             = 94
	msgChannelExtendedData     = 95
	msgChannelEOF              = 96
	msgChannelClose            = 97
	msgChannelRequest          = 98
	msgChannelSuccess          = 99
	msgChannelFailure          = 100
)

// --- primitive encode/decode, RFC 4251 section 5 ---

func putUint32(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func putString(buf []byte, s []byte) []byte {
	buf = putUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func putStr(buf []byte, s string) []byte {
	return putString(buf, []byte(s))
}

func putBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}

// putMPInt encodes x as a two's-complement big-endian mpint, RFC 4251
// section 5: a leading 0x00 is prepended whenever the high bit of the
// first byte would otherwise be set, so the value reads unambiguously as
// non-negative.
func putMPInt(buf []byte, x *big.Int) []byte {
	if x == nil || x.Sign() == 0 {
		return putUint32(buf, 0)
	}
	b := x.Bytes()
	if b[0]&0x80 != 0 {
		b = append([]byte{0}, b...)
	}
	return putString(buf, b)
}

type wireReader struct {
	b []byte
}

func (r *wireReader) byte() (byte, bool) {
	if len(r.b) < 1 {
		return 0, false
	}
	v := r.b[0]
	r.b = r.b[1:]
	return v, true
}

func (r *wireReader) uint32() (uint32, bool) {
	if len(r.b) < 4 {
		return 0, false
	}
	v := binary.BigEndian.Uint32(r.b[:4])
	r.b = r.b[4:]
	return v, true
}

func (r *wireReader) bool() (bool, bool) {
	v, ok := r.byte()
	return v != 0, ok
}

func (r *wireReader) string() ([]byte, bool) {
	n, ok := r.uint32()
	if !ok || uint64(n) > uint64(len(r.b)) {
		return nil, false
	}
	v := r.b[:n]
	r.b = r.b[n:]
	return v, true
}

func (r *wireReader) str() (string, bool) {
	v, ok := r.string()
	return string(v), ok
}

func (r *wireReader) mpint() (*big.Int, bool) {
	v, ok := r.string()
	if !ok {
		return nil, false
	}
	return new(big.Int).SetBytes(v), true
}

func (r *wireReader) rest() []byte {
	v := r.b
	r.b = nil
	return v
}

func (r *wireReader) empty() bool {
	return len(r.b) == 0
}

// --- KEXINIT, RFC 4253 section 7.1 ---

type kexInitMsg struct {
	Cookie                  [16]byte
	KexAlgos                []string
	ServerHostKeyAlgos      []string
	CiphersClientServer     []string
	CiphersServerClient     []string
	MACsClientServer        []string
	MACsServerClient        []string
	CompressionClientServer []string
	CompressionServerClient []string
	LanguagesClientServer   []string
	LanguagesServerClient   []string
	FirstKexFollows         bool
	Reserved                uint32
}

func (m *kexInitMsg) marshal() []byte {
	buf := []byte{msgKexInit}
	buf = append(buf, m.Cookie[:]...)
	buf = putStr(buf, nameList(m.KexAlgos...))
	buf = putStr(buf, nameList(m.ServerHostKeyAlgos...))
	buf = putStr(buf, nameList(m.CiphersClientServer...))
	buf = putStr(buf, nameList(m.CiphersServerClient...))
	buf = putStr(buf, nameList(m.MACsClientServer...))
	buf = putStr(buf, nameList(m.MACsServerClient...))
	buf = putStr(buf, nameList(m.CompressionClientServer...))
	buf = putStr(buf, nameList(m.CompressionServerClient...))
	buf = putStr(buf, nameList(m.LanguagesClientServer...))
	buf = putStr(buf, nameList(m.LanguagesServerClient...))
	buf = putBool(buf, m.FirstKexFollows)
	buf = putUint32(buf, 0)
	return buf
}

func parseKexInitMsg(payload []byte) (*kexInitMsg, error) {
	r := &wireReader{b: payload[1:]}
	m := &kexInitMsg{}
	// Cookie is 16 raw bytes, not a length-prefixed string field.
	if len(r.b) < 16 {
		return nil, &ParseError{MsgType: msgKexInit}
	}
	copy(m.Cookie[:], r.b[:16])
	r.b = r.b[16:]

	fields := []*[]string{
		&m.KexAlgos, &m.ServerHostKeyAlgos,
		&m.CiphersClientServer, &m.CiphersServerClient,
		&m.MACsClientServer, &m.MACsServerClient,
		&m.CompressionClientServer, &m.CompressionServerClient,
		&m.LanguagesClientServer, &m.LanguagesServerClient,
	}
	for _, f := range fields {
		s, ok := r.str()
		if !ok {
			return nil, &ParseError{MsgType: msgKexInit}
		}
		*f = splitNameList(s)
	}
	ffk, ok := r.bool()
	if !ok {
		return nil, &ParseError{MsgType: msgKexInit}
	}
	m.FirstKexFollows = ffk
	_, _ = r.uint32()
	return m, nil
}

// --- DISCONNECT, RFC 4253 section 11.1 ---

type disconnectMsg struct {
	Reason  uint32
	Message string
	Lang    string
}

func (m *disconnectMsg) marshal() []byte {
	buf := []byte{msgDisconnect}
	buf = putUint32(buf, m.Reason)
	buf = putStr(buf, m.Message)
	buf = putStr(buf, m.Lang)
	return buf
}

func parseDisconnectMsg(payload []byte) (*disconnectMsg, error) {
	r := &wireReader{b: payload[1:]}
	reason, ok := r.uint32()
	if !ok {
		return nil, &ParseError{MsgType: msgDisconnect}
	}
	msg, _ := r.str()
	lang, _ := r.str()
	return &disconnectMsg{Reason: reason, Message: msg, Lang: lang}, nil
}

// --- SERVICE_REQUEST / SERVICE_ACCEPT, RFC 4253 section 10 ---

func marshalServiceRequest(name string) []byte {
	return putStr([]byte{msgServiceRequest}, name)
}

func marshalServiceAccept(name string) []byte {
	return putStr([]byte{msgServiceAccept}, name)
}

func parseServiceName(payload []byte) (string, error) {
	r := &wireReader{b: payload[1:]}
	name, ok := r.str()
	if !ok {
		return "", &ParseError{MsgType: payload[0]}
	}
	return name, nil
}

// --- USERAUTH, RFC 4252 ---

type userAuthRequestMsg struct {
	User    string
	Service string
	Method  string
	Payload []byte // remainder, method-specific
}

func (m *userAuthRequestMsg) marshal() []byte {
	buf := []byte{msgUserAuthRequest}
	buf = putStr(buf, m.User)
	buf = putStr(buf, m.Service)
	buf = putStr(buf, m.Method)
	buf = append(buf, m.Payload...)
	return buf
}

func parseUserAuthRequestMsg(payload []byte) (*userAuthRequestMsg, error) {
	r := &wireReader{b: payload[1:]}
	user, ok1 := r.str()
	service, ok2 := r.str()
	method, ok3 := r.str()
	if !ok1 || !ok2 || !ok3 {
		return nil, &ParseError{MsgType: msgUserAuthRequest}
	}
	return &userAuthRequestMsg{User: user, Service: service, Method: method, Payload: r.rest()}, nil
}

type userAuthFailureMsg struct {
	Methods        []string
	PartialSuccess bool
}

func (m *userAuthFailureMsg) marshal() []byte {
	buf := putStr([]byte{msgUserAuthFailure}, nameList(m.Methods...))
	return putBool(buf, m.PartialSuccess)
}

// --- CHANNEL, RFC 4254 ---

type channelOpenMsg struct {
	ChanType         string
	PeerID           uint32
	PeerWindow       uint32
	PeerMaxPacketSize uint32
	TypeSpecificData []byte
}

func (m *channelOpenMsg) marshal() []byte {
	buf := putStr([]byte{msgChannelOpen}, m.ChanType)
	buf = putUint32(buf, m.PeerID)
	buf = putUint32(buf, m.PeerWindow)
	buf = putUint32(buf, m.PeerMaxPacketSize)
	buf = append(buf, m.TypeSpecificData...)
	return buf
}

func parseChannelOpenMsg(payload []byte) (*channelOpenMsg, error) {
	r := &wireReader{b: payload[1:]}
	typ, ok1 := r.str()
	peerID, ok2 := r.uint32()
	win, ok3 := r.uint32()
	maxPkt, ok4 := r.uint32()
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, &ParseError{MsgType: msgChannelOpen}
	}
	return &channelOpenMsg{ChanType: typ, PeerID: peerID, PeerWindow: win, PeerMaxPacketSize: maxPkt, TypeSpecificData: r.rest()}, nil
}

type channelOpenConfirmMsg struct {
	PeerID            uint32
	MyID              uint32
	MyWindow          uint32
	MyMaxPacketSize   uint32
}

func (m *channelOpenConfirmMsg) marshal() []byte {
	buf := []byte{msgChannelOpenConfirmation}
	buf = putUint32(buf, m.PeerID)
	buf = putUint32(buf, m.MyID)
	buf = putUint32(buf, m.MyWindow)
	buf = putUint32(buf, m.MyMaxPacketSize)
	return buf
}

func parseChannelOpenConfirmMsg(payload []byte) (*channelOpenConfirmMsg, error) {
	r := &wireReader{b: payload[1:]}
	peerID, ok1 := r.uint32()
	myID, ok2 := r.uint32()
	win, ok3 := r.uint32()
	maxPkt, ok4 := r.uint32()
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, &ParseError{MsgType: msgChannelOpenConfirmation}
	}
	return &channelOpenConfirmMsg{PeerID: peerID, MyID: myID, MyWindow: win, MyMaxPacketSize: maxPkt}, nil
}

type channelOpenFailureMsg struct {
	PeerID  uint32
	Reason  uint32
	Message string
	Lang    string
}

func (m *channelOpenFailureMsg) marshal() []byte {
	buf := []byte{msgChannelOpenFailure}
	buf = putUint32(buf, m.PeerID)
	buf = putUint32(buf, m.Reason)
	buf = putStr(buf, m.Message)
	buf = putStr(buf, m.Lang)
	return buf
}

func parseChannelOpenFailureMsg(payload []byte) (*channelOpenFailureMsg, error) {
	r := &wireReader{b: payload[1:]}
	peerID, ok := r.uint32()
	if !ok {
		return nil, &ParseError{MsgType: msgChannelOpenFailure}
	}
	reason, _ := r.uint32()
	msg, _ := r.str()
	lang, _ := r.str()
	return &channelOpenFailureMsg{PeerID: peerID, Reason: reason, Message: msg, Lang: lang}, nil
}

type channelWindowAdjustMsg struct {
	PeerID       uint32
	AdditionalBytes uint32
}

func (m *channelWindowAdjustMsg) marshal() []byte {
	buf := []byte{msgChannelWindowAdjust}
	buf = putUint32(buf, m.PeerID)
	buf = putUint32(buf, m.AdditionalBytes)
	return buf
}

func parseChannelWindowAdjustMsg(payload []byte) (*channelWindowAdjustMsg, error) {
	r := &wireReader{b: payload[1:]}
	peerID, ok1 := r.uint32()
	n, ok2 := r.uint32()
	if !ok1 || !ok2 {
		return nil, &ParseError{MsgType: msgChannelWindowAdjust}
	}
	return &channelWindowAdjustMsg{PeerID: peerID, AdditionalBytes: n}, nil
}

type channelDataMsg struct {
	PeerID uint32
	Data   []byte
}

func (m *channelDataMsg) marshal() []byte {
	buf := []byte{msgChannelData}
	buf = putUint32(buf, m.PeerID)
	buf = putString(buf, m.Data)
	return buf
}

func parseChannelDataMsg(payload []byte) (*channelDataMsg, error) {
	r := &wireReader{b: payload[1:]}
	peerID, ok1 := r.uint32()
	data, ok2 := r.string()
	if !ok1 || !ok2 {
		return nil, &ParseError{MsgType: msgChannelData}
	}
	return &channelDataMsg{PeerID: peerID, Data: data}, nil
}

type channelExtendedDataMsg struct {
	PeerID     uint32
	DataType   uint32
	Data       []byte
}

func (m *channelExtendedDataMsg) marshal() []byte {
	buf := []byte{msgChannelExtendedData}
	buf = putUint32(buf, m.PeerID)
	buf = putUint32(buf, m.DataType)
	buf = putString(buf, m.Data)
	return buf
}

func parseChannelExtendedDataMsg(payload []byte) (*channelExtendedDataMsg, error) {
	r := &wireReader{b: payload[1:]}
	peerID, ok1 := r.uint32()
	dt, ok2 := r.uint32()
	data, ok3 := r.string()
	if !ok1 || !ok2 || !ok3 {
		return nil, &ParseError{MsgType: msgChannelExtendedData}
	}
	return &channelExtendedDataMsg{PeerID: peerID, DataType: dt, Data: data}, nil
}

type channelEOFMsg struct{ PeerID uint32 }

func (m *channelEOFMsg) marshal() []byte { return putUint32([]byte{msgChannelEOF}, m.PeerID) }

type channelCloseMsg struct{ PeerID uint32 }

func (m *channelCloseMsg) marshal() []byte { return putUint32([]byte{msgChannelClose}, m.PeerID) }

func parsePeerIDOnly(payload []byte) (uint32, error) {
	r := &wireReader{b: payload[1:]}
	id, ok := r.uint32()
	if !ok {
		return 0, &ParseError{MsgType: payload[0]}
	}
	return id, nil
}

type channelRequestMsg struct {
	PeerID    uint32
	Request   string
	WantReply bool
	Payload   []byte
}

func (m *channelRequestMsg) marshal() []byte {
	buf := []byte{msgChannelRequest}
	buf = putUint32(buf, m.PeerID)
	buf = putStr(buf, m.Request)
	buf = putBool(buf, m.WantReply)
	buf = append(buf, m.Payload...)
	return buf
}

func parseChannelRequestMsg(payload []byte) (*channelRequestMsg, error) {
	r := &wireReader{b: payload[1:]}
	peerID, ok1 := r.uint32()
	req, ok2 := r.str()
	want, ok3 := r.bool()
	if !ok1 || !ok2 || !ok3 {
		return nil, &ParseError{MsgType: msgChannelRequest}
	}
	return &channelRequestMsg{PeerID: peerID, Request: req, WantReply: want, Payload: r.rest()}, nil
}
