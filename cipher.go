package ssh

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"hash"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// packetCipher frames and seals (or opens) one Binary Packet Protocol
// record for one direction. This is the "registry of factories" spec.md
// section 9 asks for in place of the source's cipher class hierarchy: a
// narrow capability interface, not a base class.
type packetCipher interface {
	// readPacket reads and authenticates one packet, returning its
	// payload. seq is the caller-maintained sequence number for this
	// direction; it is never transmitted (spec.md section 4.A).
	readPacket(seq uint32, r io.Reader) ([]byte, error)
	// writePacket frames, pads, and seals payload, writing the wire
	// bytes to w.
	writePacket(seq uint32, w io.Writer, rnd io.Reader, payload []byte) error
}

const (
	minPaddingLen = 4
	maxPacketLen  = 35000 // spec.md section 3 invariant
)

// --- none, valid only pre-NEWKEYS ---

type noneCipher struct{}

func newNoneCipher() packetCipher { return noneCipher{} }

func (noneCipher) readPacket(seq uint32, r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	packetLen := binary.BigEndian.Uint32(lenBuf[:])
	if packetLen > maxPacketLen || packetLen < 1 {
		return nil, newProtocolError(KindWireFormat, DisconnectProtocolError, "invalid packet length")
	}
	rest := make([]byte, packetLen)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}
	paddingLen := int(rest[0])
	if paddingLen < minPaddingLen || paddingLen+1 > len(rest) {
		return nil, newProtocolError(KindWireFormat, DisconnectProtocolError, "invalid padding length")
	}
	return rest[1 : len(rest)-paddingLen], nil
}

func (noneCipher) writePacket(seq uint32, w io.Writer, rnd io.Reader, payload []byte) error {
	packetLen, paddingLen := framingLengths(len(payload), 8)
	buf := make([]byte, 0, 4+packetLen)
	buf = putUint32(buf, packetLen)
	buf = append(buf, byte(paddingLen))
	buf = append(buf, payload...)
	padStart := len(buf)
	buf = append(buf, make([]byte, paddingLen)...)
	if _, err := io.ReadFull(rnd, buf[padStart:]); err != nil {
		return err
	}
	_, err := w.Write(buf)
	return err
}

// framingLengths computes packet_length and padding_length so that
// (4 + packet_length) is a multiple of max(8, blockSize) and padding is at
// least minPaddingLen bytes, per spec.md section 3.
func framingLengths(payloadLen, blockSize int) (packetLen uint32, paddingLen int) {
	if blockSize < 8 {
		blockSize = 8
	}
	total := 4 + 1 + payloadLen // packet_length field + padding_length field + payload
	paddingLen = blockSize - (total % blockSize)
	if paddingLen < minPaddingLen {
		paddingLen += blockSize
	}
	return uint32(total - 4 + paddingLen), paddingLen
}

// --- stream cipher (CTR) + MAC-then-encrypt or encrypt-then-MAC ---

// streamPacketCipher generalizes the teacher's write.go/read.go: a
// cipher.Stream paired with a hash.Hash, in the shape of
// Chara-X-ssh__StreamPacketCipher.go, but driven by the registries below
// instead of a single hardcoded AES-128-CTR/HMAC-SHA2-256 pair.
type streamPacketCipher struct {
	stream cipher.Stream
	mac    hash.Hash
	etm    bool // encrypt-then-MAC: length field travels in the clear
	macSize int
}

func (c *streamPacketCipher) readPacket(seq uint32, r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	var packetLenBytes [4]byte
	if c.etm {
		packetLenBytes = lenBuf
	} else {
		c.stream.XORKeyStream(packetLenBytes[:], lenBuf[:])
	}
	packetLen := binary.BigEndian.Uint32(packetLenBytes[:])
	if packetLen > maxPacketLen || packetLen < 1 {
		return nil, newProtocolError(KindWireFormat, DisconnectProtocolError, "invalid packet length")
	}

	encBody := make([]byte, packetLen)
	if _, err := io.ReadFull(r, encBody); err != nil {
		return nil, err
	}

	mac := make([]byte, c.macSize)
	if c.macSize > 0 {
		if _, err := io.ReadFull(r, mac); err != nil {
			return nil, err
		}
	}

	var body []byte
	if c.etm {
		if c.macSize > 0 {
			c.mac.Reset()
			var seqBuf [4]byte
			binary.BigEndian.PutUint32(seqBuf[:], seq)
			c.mac.Write(seqBuf[:])
			c.mac.Write(lenBuf[:])
			c.mac.Write(encBody)
			if subtle.ConstantTimeCompare(c.mac.Sum(nil), mac) == 0 {
				return nil, newProtocolError(KindCrypto, DisconnectMACError, "MAC mismatch")
			}
		}
		body = make([]byte, packetLen)
		c.stream.XORKeyStream(body, encBody)
	} else {
		body = make([]byte, packetLen)
		c.stream.XORKeyStream(body, encBody)
		if c.macSize > 0 {
			c.mac.Reset()
			var seqBuf [4]byte
			binary.BigEndian.PutUint32(seqBuf[:], seq)
			c.mac.Write(seqBuf[:])
			c.mac.Write(packetLenBytes[:])
			c.mac.Write(body)
			if subtle.ConstantTimeCompare(c.mac.Sum(nil), mac) == 0 {
				return nil, newProtocolError(KindCrypto, DisconnectMACError, "MAC mismatch")
			}
		}
	}

	paddingLen := int(body[0])
	if paddingLen < minPaddingLen || paddingLen+1 > len(body) {
		return nil, newProtocolError(KindWireFormat, DisconnectProtocolError, "invalid padding length")
	}
	return body[1 : len(body)-paddingLen], nil
}

func (c *streamPacketCipher) writePacket(seq uint32, w io.Writer, rnd io.Reader, payload []byte) error {
	blockSize := 16
	packetLen, paddingLen := framingLengths(len(payload), blockSize)

	plaintext := make([]byte, 0, 4+packetLen)
	plaintext = putUint32(plaintext, packetLen)
	plaintext = append(plaintext, byte(paddingLen))
	plaintext = append(plaintext, payload...)
	padStart := len(plaintext)
	plaintext = append(plaintext, make([]byte, paddingLen)...)
	if _, err := io.ReadFull(rnd, plaintext[padStart:]); err != nil {
		return err
	}

	var seqBuf [4]byte
	binary.BigEndian.PutUint32(seqBuf[:], seq)

	var mac []byte
	if c.etm {
		ciphertext := make([]byte, len(plaintext))
		copy(ciphertext, plaintext[:4])
		c.stream.XORKeyStream(ciphertext[4:], plaintext[4:])
		if c.macSize > 0 {
			c.mac.Reset()
			c.mac.Write(seqBuf[:])
			c.mac.Write(ciphertext)
			mac = c.mac.Sum(nil)
		}
		if _, err := w.Write(ciphertext); err != nil {
			return err
		}
	} else {
		if c.macSize > 0 {
			c.mac.Reset()
			c.mac.Write(seqBuf[:])
			c.mac.Write(plaintext)
			mac = c.mac.Sum(nil)
		}
		ciphertext := make([]byte, len(plaintext))
		c.stream.XORKeyStream(ciphertext, plaintext)
		if _, err := w.Write(ciphertext); err != nil {
			return err
		}
	}
	if mac != nil {
		if _, err := w.Write(mac); err != nil {
			return err
		}
	}
	return nil
}

// --- CBC (legacy, MAC-then-encrypt only per RFC 4253) ---

type cbcPacketCipher struct {
	enc    cipher.BlockMode
	dec    cipher.BlockMode
	mac    hash.Hash
	macSize int
	blockSize int
}

func (c *cbcPacketCipher) readPacket(seq uint32, r io.Reader) ([]byte, error) {
	first := make([]byte, c.blockSize)
	if _, err := io.ReadFull(r, first); err != nil {
		return nil, err
	}
	decryptedFirst := make([]byte, c.blockSize)
	c.dec.CryptBlocks(decryptedFirst, first)
	packetLen := binary.BigEndian.Uint32(decryptedFirst[:4])
	if packetLen > maxPacketLen || packetLen < 1 {
		return nil, newProtocolError(KindWireFormat, DisconnectProtocolError, "invalid packet length")
	}

	remaining := int(packetLen) - (c.blockSize - 4)
	if remaining < 0 || remaining%c.blockSize != 0 {
		return nil, newProtocolError(KindWireFormat, DisconnectProtocolError, "packet length not block aligned")
	}
	encRest := make([]byte, remaining)
	if remaining > 0 {
		if _, err := io.ReadFull(r, encRest); err != nil {
			return nil, err
		}
	}
	decRest := make([]byte, remaining)
	if remaining > 0 {
		c.dec.CryptBlocks(decRest, encRest)
	}

	body := append(decryptedFirst[4:], decRest...)

	if c.macSize > 0 {
		mac := make([]byte, c.macSize)
		if _, err := io.ReadFull(r, mac); err != nil {
			return nil, err
		}
		c.mac.Reset()
		var seqBuf [4]byte
		binary.BigEndian.PutUint32(seqBuf[:], seq)
		c.mac.Write(seqBuf[:])
		c.mac.Write(decryptedFirst[:4])
		c.mac.Write(body)
		if subtle.ConstantTimeCompare(c.mac.Sum(nil), mac) == 0 {
			return nil, newProtocolError(KindCrypto, DisconnectMACError, "MAC mismatch")
		}
	}

	paddingLen := int(body[0])
	if paddingLen < minPaddingLen || paddingLen+1 > len(body) {
		return nil, newProtocolError(KindWireFormat, DisconnectProtocolError, "invalid padding length")
	}
	return body[1 : len(body)-paddingLen], nil
}

func (c *cbcPacketCipher) writePacket(seq uint32, w io.Writer, rnd io.Reader, payload []byte) error {
	packetLen, paddingLen := framingLengths(len(payload), c.blockSize)
	plaintext := make([]byte, 0, 4+packetLen)
	plaintext = putUint32(plaintext, packetLen)
	plaintext = append(plaintext, byte(paddingLen))
	plaintext = append(plaintext, payload...)
	padStart := len(plaintext)
	plaintext = append(plaintext, make([]byte, paddingLen)...)
	if _, err := io.ReadFull(rnd, plaintext[padStart:]); err != nil {
		return err
	}

	if c.macSize > 0 {
		var seqBuf [4]byte
		binary.BigEndian.PutUint32(seqBuf[:], seq)
		c.mac.Reset()
		c.mac.Write(seqBuf[:])
		c.mac.Write(plaintext)
		mac := c.mac.Sum(nil)
		ciphertext := make([]byte, len(plaintext))
		c.enc.CryptBlocks(ciphertext, plaintext)
		if _, err := w.Write(ciphertext); err != nil {
			return err
		}
		_, err := w.Write(mac)
		return err
	}
	ciphertext := make([]byte, len(plaintext))
	c.enc.CryptBlocks(ciphertext, plaintext)
	_, err := w.Write(ciphertext)
	return err
}

// --- AEAD (GCM, chacha20-poly1305) ---

type aeadPacketCipher struct {
	aead cipher.AEAD
}

func (c *aeadPacketCipher) nonce(seq uint32) []byte {
	n := make([]byte, c.aead.NonceSize())
	binary.BigEndian.PutUint32(n[len(n)-4:], seq)
	return n
}

func (c *aeadPacketCipher) readPacket(seq uint32, r io.Reader) ([]byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	packetLen := binary.BigEndian.Uint32(lenBuf)
	if packetLen > maxPacketLen || packetLen < 1 {
		return nil, newProtocolError(KindWireFormat, DisconnectProtocolError, "invalid packet length")
	}

	body := make([]byte, int(packetLen)+c.aead.Overhead())
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	plain, err := c.aead.Open(body[:0], c.nonce(seq), body, lenBuf)
	if err != nil {
		return nil, newProtocolError(KindCrypto, DisconnectMACError, "AEAD authentication failed")
	}

	paddingLen := int(plain[0])
	if paddingLen < minPaddingLen || paddingLen+1 > len(plain) {
		return nil, newProtocolError(KindWireFormat, DisconnectProtocolError, "invalid padding length")
	}
	return plain[1 : len(plain)-paddingLen], nil
}

func (c *aeadPacketCipher) writePacket(seq uint32, w io.Writer, rnd io.Reader, payload []byte) error {
	packetLen, paddingLen := framingLengths(len(payload), 16)
	lenBuf := putUint32(nil, packetLen)

	plain := make([]byte, 0, packetLen)
	plain = append(plain, byte(paddingLen))
	plain = append(plain, payload...)
	padStart := len(plain)
	plain = append(plain, make([]byte, paddingLen)...)
	if _, err := io.ReadFull(rnd, plain[padStart:]); err != nil {
		return err
	}

	sealed := c.aead.Seal(nil, c.nonce(seq), plain, lenBuf)
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	_, err := w.Write(sealed)
	return err
}

// --- MAC registry ---

type macMode struct {
	size int
	etm  bool
	new  func(key []byte) hash.Hash
}

var macModes = map[string]*macMode{
	"hmac-sha2-256":             {size: 32, new: func(k []byte) hash.Hash { return hmac.New(sha256.New, k) }},
	"hmac-sha2-256-etm@openssh.com": {size: 32, etm: true, new: func(k []byte) hash.Hash { return hmac.New(sha256.New, k) }},
	"hmac-sha1":                 {size: 20, new: func(k []byte) hash.Hash { return hmac.New(sha1.New, k) }},
	"hmac-sha1-etm@openssh.com": {size: 20, etm: true, new: func(k []byte) hash.Hash { return hmac.New(sha1.New, k) }},
}

// --- cipher registry ---

type cipherMode struct {
	keySize int
	ivSize  int
	aead    bool
	// create builds a packetCipher. AEAD ciphers carry their own tag and
	// ignore macKey and macAlgo, which is "" only when no MAC was negotiated.
	create func(key, iv, macKey []byte, macAlgo string) (packetCipher, error)
}

var cipherModes = map[string]*cipherMode{
	"aes128-ctr": {keySize: 16, ivSize: 16, create: newStreamCipherMode(newAESCTR)},
	"aes256-ctr": {keySize: 32, ivSize: 16, create: newStreamCipherMode(newAESCTR)},
	"aes128-cbc": {keySize: 16, ivSize: 16, create: newCBCCipherMode(aes.NewCipher)},
	"3des-cbc":   {keySize: 24, ivSize: 8, create: newCBCCipherMode(des.NewTripleDESCipher)},
	"aes128-gcm@openssh.com": {keySize: 16, ivSize: 12, aead: true, create: newGCMCipherMode(aes.NewCipher)},
	"aes256-gcm@openssh.com": {keySize: 32, ivSize: 12, aead: true, create: newGCMCipherMode(aes.NewCipher)},
	"chacha20-poly1305@openssh.com": {keySize: chacha20poly1305.KeySize, ivSize: 0, aead: true, create: newChaCha20Poly1305Mode()},
}

func newAESCTR(key, iv []byte) (cipher.Stream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewCTR(block, iv), nil
}

func newStreamCipherMode(newStream func(key, iv []byte) (cipher.Stream, error)) func([]byte, []byte, []byte, string) (packetCipher, error) {
	return func(key, iv, macKey []byte, macAlgo string) (packetCipher, error) {
		stream, err := newStream(key, iv)
		if err != nil {
			return nil, err
		}
		mm := macModes[macAlgo]
		if mm == nil {
			return nil, errors.New("ssh: unknown MAC algorithm " + macAlgo)
		}
		return &streamPacketCipher{stream: stream, mac: mm.new(macKey), macSize: mm.size, etm: mm.etm}, nil
	}
}

func newCBCCipherMode(newBlock func(key []byte) (cipher.Block, error)) func([]byte, []byte, []byte, string) (packetCipher, error) {
	return func(key, iv, macKey []byte, macAlgo string) (packetCipher, error) {
		encBlock, err := newBlock(key)
		if err != nil {
			return nil, err
		}
		decBlock, err := newBlock(key)
		if err != nil {
			return nil, err
		}
		mm := macModes[macAlgo]
		if mm == nil {
			return nil, errors.New("ssh: unknown MAC algorithm " + macAlgo)
		}
		return &cbcPacketCipher{
			enc:       cipher.NewCBCEncrypter(encBlock, iv),
			dec:       cipher.NewCBCDecrypter(decBlock, iv),
			mac:       mm.new(macKey),
			macSize:   mm.size,
			blockSize: encBlock.BlockSize(),
		}, nil
	}
}

func newGCMCipherMode(newBlock func(key []byte) (cipher.Block, error)) func([]byte, []byte, []byte, string) (packetCipher, error) {
	return func(key, iv, macKey []byte, macAlgo string) (packetCipher, error) {
		block, err := newBlock(key)
		if err != nil {
			return nil, err
		}
		aead, err := cipher.NewGCMWithNonceSize(block, len(iv))
		if err != nil {
			return nil, err
		}
		return &aeadPacketCipher{aead: &fixedNonceAEAD{aead: aead, fixed: append([]byte{}, iv...)}}, nil
	}
}

func newChaCha20Poly1305Mode() func([]byte, []byte, []byte, string) (packetCipher, error) {
	return func(key, iv, macKey []byte, macAlgo string) (packetCipher, error) {
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, err
		}
		return &aeadPacketCipher{aead: aead}, nil
	}
}

// fixedNonceAEAD XORs the packet sequence number into a fixed IV the way
// RFC 5647 (AES-GCM) requires, rather than chacha20-poly1305's "sequence
// number is the whole nonce" scheme.
type fixedNonceAEAD struct {
	aead  cipher.AEAD
	fixed []byte
}

func (f *fixedNonceAEAD) NonceSize() int { return f.aead.NonceSize() }
func (f *fixedNonceAEAD) Overhead() int  { return f.aead.Overhead() }
func (f *fixedNonceAEAD) Seal(dst, nonce, plaintext, additionalData []byte) []byte {
	return f.aead.Seal(dst, f.mix(nonce), plaintext, additionalData)
}
func (f *fixedNonceAEAD) Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	return f.aead.Open(dst, f.mix(nonce), ciphertext, additionalData)
}

func (f *fixedNonceAEAD) mix(seqNonce []byte) []byte {
	out := make([]byte, len(f.fixed))
	copy(out, f.fixed)
	off := len(out) - 4
	for i := 0; i < 4; i++ {
		out[off+i] ^= seqNonce[len(seqNonce)-4+i]
	}
	return out
}
