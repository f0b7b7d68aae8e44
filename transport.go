package ssh

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	xssh "golang.org/x/crypto/ssh"
)

// transportState is the Transport State Machine of spec.md section 4.D.
type transportState int

const (
	stateVersionExchange transportState = iota
	stateKexInitSent
	stateKexInProgress
	stateNewKeysPending
	stateAuth
	stateRunning
	stateRekey // nested substate, reentrant from stateRunning
	stateClosed
)

// directionState is one direction's security context: the active
// packetCipher, its sequence number, and its rekey bookkeeping. spec.md
// section 3 calls this the Directional Security Context.
type directionState struct {
	cipher  packetCipher
	seq     uint32
	bytes   uint64
	packets uint64
}

func (d *directionState) reset() {
	d.seq = 0
	d.bytes = 0
	d.packets = 0
}

// transport drives components A (Packet Codec) and D (Transport State
// Machine). It owns the one mutex that guards a security-context swap and
// the writer's sequence number, per spec.md section 5.
type transport struct {
	conn   net.Conn
	r      *bufio.Reader
	config *Config
	logger *Logger
	rand   io.Reader

	isClient bool

	mu    sync.Mutex
	state transportState

	reader directionState
	writer directionState

	sessionID []byte // frozen at first NEWKEYS, spec.md section 3

	clientVersion, serverVersion []byte

	rekey            *rekeyTracker
	strictKex        bool
	kexInitSentSelf  []byte
	kexInitReceived  []byte

	negotiated *negotiatedAlgorithms

	// clock is overridable for tests; defaults to time.Now().Unix().
	clock func() int64
}

func newTransport(conn net.Conn, cfg *Config, isClient bool) *transport {
	return &transport{
		conn:     conn,
		r:        bufio.NewReader(conn),
		config:   cfg,
		logger:   cfg.Logger,
		rand:     rand.Reader,
		isClient: isClient,
		reader:   directionState{cipher: newNoneCipher()},
		writer:   directionState{cipher: newNoneCipher()},
		clock:    func() int64 { return time.Now().Unix() },
	}
}

// --- version exchange, spec.md section 4.D ---

const ourVersionPrefix = "SSH-2.0-goshell_1.0"

// exchangeVersions sends our line and reads the peer's, enforcing the
// 255-byte-per-line limit and the server-may-precede-with-other-lines /
// client-must-not-precede rule. This generalizes the teacher's
// connection.go byte-at-a-time read loop so either side can run it.
func (t *transport) exchangeVersions(ourLine string) error {
	full := []byte(ourLine + "\r\n")
	if _, err := t.conn.Write(full); err != nil {
		return err
	}
	if t.isClient {
		t.clientVersion = []byte(ourLine)
	} else {
		t.serverVersion = []byte(ourLine)
	}

	for {
		line, err := t.readVersionLine()
		if err != nil {
			return err
		}
		if bytes.HasPrefix(line, []byte("SSH-2.0-")) || bytes.HasPrefix(line, []byte("SSH-1.99-")) {
			if t.isClient {
				t.serverVersion = line
			} else {
				t.clientVersion = line
			}
			return nil
		}
		if t.isClient {
			// Only the server may emit preamble lines, RFC 4253 section 4.2;
			// the client skips them until the version line arrives.
			continue
		}
		// The client may not send anything before its version line, so
		// any non-version first line from a client is fatal.
		return newProtocolError(KindProtocol, DisconnectProtocolVersionNotSupported, "unexpected preamble line from client")
	}
}

func (t *transport) readVersionLine() ([]byte, error) {
	var buf []byte
	for {
		b, err := t.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == '\n' {
			break
		}
		buf = append(buf, b)
		if len(buf) > 255 {
			return nil, newProtocolError(KindProtocol, DisconnectProtocolVersionNotSupported, "version line too long")
		}
	}
	return bytes.TrimRight(buf, "\r"), nil
}

// --- raw packet I/O (packetIO contract used by the KEX algorithms) ---

func (t *transport) sendPacket(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == stateClosed {
		return &ErrTransportClosed{}
	}
	if err := t.writer.cipher.writePacket(t.writer.seq, t.conn, t.rand, payload); err != nil {
		return err
	}
	t.writer.seq++
	t.writer.bytes += uint64(len(payload))
	t.writer.packets++
	if t.rekey != nil {
		t.rekey.recordBytes(len(payload))
	}
	return nil
}

func (t *transport) readPacket() ([]byte, error) {
	payload, err := t.reader.cipher.readPacket(t.reader.seq, t.r)
	if err != nil {
		return nil, err
	}
	t.reader.seq++
	t.reader.bytes += uint64(len(payload))
	t.reader.packets++
	if t.rekey != nil {
		t.rekey.recordBytes(len(payload))
	}
	return payload, nil
}

// --- algorithm negotiation and key setup, spec.md section 4.C ---

// sendKexInit builds and transmits our KEXINIT, advancing the transport
// state machine to kexInitSent. Called both for the initial handshake and
// for every rekey.
func (t *transport) sendKexInit() (*kexInitMsg, error) {
	m := &kexInitMsg{
		KexAlgos:                append([]string{}, t.config.KexAlgorithms...),
		ServerHostKeyAlgos:      append([]string{}, t.config.HostKeyAlgorithms...),
		CiphersClientServer:     append([]string{}, t.config.Ciphers...),
		CiphersServerClient:     append([]string{}, t.config.Ciphers...),
		MACsClientServer:        append([]string{}, t.config.MACs...),
		MACsServerClient:        append([]string{}, t.config.MACs...),
		CompressionClientServer: append([]string{}, t.config.Compressions...),
		CompressionServerClient: append([]string{}, t.config.Compressions...),
	}
	if t.config.StrictKex {
		if t.isClient {
			m.KexAlgos = append(m.KexAlgos, strictKexMarkerC2S)
		} else {
			m.KexAlgos = append(m.KexAlgos, strictKexMarkerS2C)
		}
	}
	if _, err := io.ReadFull(t.rand, m.Cookie[:]); err != nil {
		return nil, err
	}

	payload := m.marshal()
	if err := t.sendPacket(payload); err != nil {
		return nil, err
	}
	t.kexInitSentSelf = payload
	t.state = stateKexInitSent
	return m, nil
}

func (t *transport) recvKexInit() (*kexInitMsg, error) {
	payload, err := t.readPacket()
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 || payload[0] != msgKexInit {
		return nil, &UnexpectedMessageError{Expected: msgKexInit, Got: safeFirstByte(payload)}
	}
	m, err := parseKexInitMsg(payload)
	if err != nil {
		return nil, err
	}
	t.kexInitReceived = payload
	return m, nil
}

// runKex performs the initial key-exchange round: KEXINIT exchange, the
// chosen kexAlgorithm, NEWKEYS both ways, and the six-key derivation and
// cipher swap. signer is nil on the client.
func (t *transport) runKex(signer Signer, verifier ServerKeyVerifier, remoteAddr string) error {
	t.state = stateKexInProgress

	var clientInit, serverInit *kexInitMsg
	var cPayload, sPayload []byte
	var err error

	if t.isClient {
		clientInit, err = t.sendKexInit()
		if err != nil {
			return err
		}
		serverInit, err = t.recvKexInit()
		if err != nil {
			return err
		}
		cPayload, sPayload = t.kexInitSentSelf, t.kexInitReceived
	} else {
		serverInit, err = t.sendKexInit()
		if err != nil {
			return err
		}
		clientInit, err = t.recvKexInit()
		if err != nil {
			return err
		}
		cPayload, sPayload = t.kexInitReceived, t.kexInitSentSelf
	}

	return t.completeKex(clientInit, serverInit, cPayload, sPayload, signer, verifier, remoteAddr)
}

// runKexRekey re-runs key exchange mid-session, spec.md section 4.C's
// rekey trigger. If peerInitiated, the peer's KEXINIT has already been
// read by the caller and stashed in t.kexInitReceived; otherwise this side
// sends its KEXINIT first and waits for the peer's.
func (t *transport) runKexRekey(signer Signer, verifier ServerKeyVerifier, remoteAddr string, peerInitiated bool) error {
	t.mu.Lock()
	t.state = stateRekey
	t.mu.Unlock()

	var clientInit, serverInit *kexInitMsg
	var cPayload, sPayload []byte
	var err error

	if peerInitiated {
		var peerInit *kexInitMsg
		peerInit, err = parseKexInitMsg(t.kexInitReceived)
		if err != nil {
			return err
		}
		var ownInit *kexInitMsg
		ownInit, err = t.sendKexInit()
		if err != nil {
			return err
		}
		if t.isClient {
			clientInit, serverInit = ownInit, peerInit
			cPayload, sPayload = t.kexInitSentSelf, t.kexInitReceived
		} else {
			clientInit, serverInit = peerInit, ownInit
			cPayload, sPayload = t.kexInitReceived, t.kexInitSentSelf
		}
	} else {
		if t.isClient {
			clientInit, err = t.sendKexInit()
			if err != nil {
				return err
			}
			serverInit, err = t.recvKexInit()
			if err != nil {
				return err
			}
			cPayload, sPayload = t.kexInitSentSelf, t.kexInitReceived
		} else {
			serverInit, err = t.sendKexInit()
			if err != nil {
				return err
			}
			clientInit, err = t.recvKexInit()
			if err != nil {
				return err
			}
			cPayload, sPayload = t.kexInitReceived, t.kexInitSentSelf
		}
	}

	if err := t.completeKex(clientInit, serverInit, cPayload, sPayload, signer, verifier, remoteAddr); err != nil {
		return err
	}
	t.mu.Lock()
	t.state = stateRunning
	t.mu.Unlock()
	return nil
}

// completeKex runs the negotiated kexAlgorithm, verifies the host key
// signature (client side), and activates the derived keys via NEWKEYS.
// Shared by the initial handshake and every rekey.
func (t *transport) completeKex(clientInit, serverInit *kexInitMsg, cPayload, sPayload []byte, signer Signer, verifier ServerKeyVerifier, remoteAddr string) error {
	neg, err := negotiateAlgorithms(clientInit, serverInit)
	if err != nil {
		return err
	}
	t.negotiated = neg
	t.strictKex = neg.strictKex && t.config.StrictKex

	algo, ok := kexAlgorithms[neg.kex]
	if !ok {
		return &NegotiationError{Field: "kex_algorithms"}
	}

	magics := &handshakeMagics{
		clientVersion: t.clientVersion, serverVersion: t.serverVersion,
		clientKexInit: cPayload, serverKexInit: sPayload,
	}

	var result *kexResult
	if t.isClient {
		result, err = algo.Client(t, t.rand, magics)
		if err != nil {
			return err
		}
		if verifier != nil {
			decision, verr := verifier.VerifyHostKey(remoteAddr, neg.hostKey, result.HostKeyBlob)
			if verr != nil || decision == HostKeyReject {
				return newProtocolError(KindCrypto, DisconnectHostKeyNotVerifiable, "host key rejected")
			}
		}
		pub, perr := ParsePublicKeyBlob(result.HostKeyBlob)
		if perr != nil {
			return newProtocolError(KindCrypto, DisconnectKeyExchangeFailed, "unparseable host key")
		}
		if err := verifyHostKeySignature(pub, result.H, result.Signature); err != nil {
			return newProtocolError(KindCrypto, DisconnectKeyExchangeFailed, "host key signature verification failed")
		}
	} else {
		result, err = algo.Server(t, t.rand, magics, signer)
		if err != nil {
			return err
		}
	}

	if t.sessionID == nil {
		t.sessionID = result.H
	}

	if err := t.sendNewKeys(); err != nil {
		return err
	}
	if err := t.recvNewKeys(neg, result); err != nil {
		return err
	}

	t.rekey = newRekeyTracker(t.config, t.clock())
	return nil
}

func (t *transport) sendNewKeys() error {
	if err := t.sendPacket([]byte{msgNewKeys}); err != nil {
		return err
	}
	// Sending NEWKEYS swaps the outbound context immediately, spec.md
	// section 4.C step 5.
	return nil
}

func (t *transport) recvNewKeys(neg *negotiatedAlgorithms, result *kexResult) error {
	payload, err := t.readPacket()
	if err != nil {
		return err
	}
	if len(payload) == 0 || payload[0] != msgNewKeys {
		return &UnexpectedMessageError{Expected: msgNewKeys, Got: safeFirstByte(payload)}
	}
	return t.activateKeys(neg, result)
}

// activateKeys derives the six keys and swaps both packetCipher contexts.
// This is the "ownership-transfer at NEWKEYS" spec.md section 3 requires:
// the swap happens here, atomically, under t.mu.
func (t *transport) activateKeys(neg *negotiatedAlgorithms, result *kexResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	c2sMode, ok := cipherModes[neg.cipherC2S]
	if !ok {
		return &NegotiationError{Field: "ciphers (client to server)"}
	}
	s2cMode, ok := cipherModes[neg.cipherS2C]
	if !ok {
		return &NegotiationError{Field: "ciphers (server to client)"}
	}

	macKeyLen := 0
	if mm, ok := macModes[neg.macC2S]; ok {
		macKeyLen = mm.size
	}
	macKeyLenS2C := 0
	if mm, ok := macModes[neg.macS2C]; ok {
		macKeyLenS2C = mm.size
	}

	dk := deriveDirectionKeys(result.Hash, result.K, result.H, t.sessionID, maxInt(c2sMode.ivSize, s2cMode.ivSize), maxInt(c2sMode.keySize, s2cMode.keySize), maxInt(macKeyLen, macKeyLenS2C))

	c2s, err := c2sMode.create(dk.clientKey[:c2sMode.keySize], dk.clientIV[:c2sMode.ivSize], dk.clientMACKey[:macKeyLen], neg.macC2S)
	if err != nil {
		return err
	}
	s2c, err := s2cMode.create(dk.serverKey[:s2cMode.keySize], dk.serverIV[:s2cMode.ivSize], dk.serverMACKey[:macKeyLenS2C], neg.macS2C)
	if err != nil {
		return err
	}

	if t.isClient {
		t.writer.cipher, t.reader.cipher = c2s, s2c
	} else {
		t.writer.cipher, t.reader.cipher = s2c, c2s
	}

	if t.strictKex {
		t.writer.reset()
		t.reader.reset()
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// verifyHostKeySignature checks an RFC 4253 section 6.6 signature blob
// (algorithm name + algorithm-specific signature) against H.
func verifyHostKeySignature(pub xssh.PublicKey, h, sigBlob []byte) error {
	var sig xssh.Signature
	if err := xssh.Unmarshal(sigBlob, &sig); err != nil {
		return err
	}
	return pub.Verify(h, &sig)
}

// --- transport-level control packets, spec.md section 4.D ---

// disconnect sends DISCONNECT (best effort) and transitions to CLOSED.
func (t *transport) disconnect(reason uint32, message string) error {
	t.mu.Lock()
	if t.state == stateClosed {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	msg := &disconnectMsg{Reason: reason, Message: message}
	_ = t.sendPacket(msg.marshal())

	t.mu.Lock()
	t.state = stateClosed
	t.mu.Unlock()
	return t.conn.Close()
}

func (t *transport) sendIgnore(data []byte) error {
	return t.sendPacket(putString([]byte{msgIgnore}, data))
}

func (t *transport) sendUnimplemented(seq uint32) error {
	return t.sendPacket(putUint32([]byte{msgUnimplemented}, seq))
}

var errIgnorePacket = errors.New("ssh: transport-internal packet handled, caller should read again")
