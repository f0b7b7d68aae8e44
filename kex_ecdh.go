package ssh

import (
	"crypto"
	"crypto/ecdh"
	"crypto/sha256"
	"io"
	"math/big"
)

// ecdhSHA256 implements ecdh-sha2-nistp256. This is the teacher's
// generateECDHKeyPair / sendClientECDHPublicKey / parseKeyExchangeReply
// flow from kex.go, generalized so the same code drives either side of the
// exchange instead of only ever being the client half of one hardcoded
// negotiation.
type ecdhSHA256 struct{}

func (ecdhSHA256) curve() ecdh.Curve { return ecdh.P256() }

func (e ecdhSHA256) Client(t packetIO, rnd io.Reader, magics *handshakeMagics) (*kexResult, error) {
	priv, err := e.curve().GenerateKey(rnd)
	if err != nil {
		return nil, err
	}
	clientPub := priv.PublicKey().Bytes()

	if err := t.sendPacket(putString([]byte{msgKexDHInit}, clientPub)); err != nil {
		return nil, err
	}

	reply, err := t.readPacket()
	if err != nil {
		return nil, err
	}
	if len(reply) == 0 || reply[0] != msgKexDHReply {
		return nil, &UnexpectedMessageError{Expected: msgKexDHReply, Got: safeFirstByte(reply)}
	}

	r := &wireReader{b: reply[1:]}
	hostKeyBlob, ok1 := r.string()
	serverPub, ok2 := r.string()
	sig, ok3 := r.string()
	if !ok1 || !ok2 || !ok3 {
		return nil, &ParseError{MsgType: msgKexDHReply}
	}

	serverKey, err := e.curve().NewPublicKey(serverPub)
	if err != nil {
		return nil, newProtocolError(KindCrypto, DisconnectKeyExchangeFailed, "invalid server ephemeral key")
	}
	secret, err := priv.ECDH(serverKey)
	if err != nil {
		return nil, newProtocolError(KindCrypto, DisconnectKeyExchangeFailed, "ECDH failed")
	}
	k := mpintBytes(secret)

	h := ecdhExchangeHash(magics, hostKeyBlob, clientPub, serverPub, k)
	return &kexResult{H: h, K: k, HostKeyBlob: hostKeyBlob, Signature: sig, Hash: crypto.SHA256}, nil
}

func (e ecdhSHA256) Server(t packetIO, rnd io.Reader, magics *handshakeMagics, signer Signer) (*kexResult, error) {
	initPkt, err := t.readPacket()
	if err != nil {
		return nil, err
	}
	if len(initPkt) == 0 || initPkt[0] != msgKexDHInit {
		return nil, &UnexpectedMessageError{Expected: msgKexDHInit, Got: safeFirstByte(initPkt)}
	}
	r := &wireReader{b: initPkt[1:]}
	clientPub, ok := r.string()
	if !ok {
		return nil, &ParseError{MsgType: msgKexDHInit}
	}

	priv, err := e.curve().GenerateKey(rnd)
	if err != nil {
		return nil, err
	}
	serverPub := priv.PublicKey().Bytes()

	clientKey, err := e.curve().NewPublicKey(clientPub)
	if err != nil {
		return nil, newProtocolError(KindCrypto, DisconnectKeyExchangeFailed, "invalid client ephemeral key")
	}
	secret, err := priv.ECDH(clientKey)
	if err != nil {
		return nil, newProtocolError(KindCrypto, DisconnectKeyExchangeFailed, "ECDH failed")
	}
	k := mpintBytes(secret)

	hostKeyBlob := signer.PublicKeyBlob()
	h := ecdhExchangeHash(magics, hostKeyBlob, clientPub, serverPub, k)

	sig, err := signer.Sign(rnd, h)
	if err != nil {
		return nil, err
	}

	reply := []byte{msgKexDHReply}
	reply = putString(reply, hostKeyBlob)
	reply = putString(reply, serverPub)
	reply = putString(reply, sig)
	if err := t.sendPacket(reply); err != nil {
		return nil, err
	}

	return &kexResult{H: h, K: k, HostKeyBlob: hostKeyBlob, Signature: sig, Hash: crypto.SHA256}, nil
}

func ecdhExchangeHash(magics *handshakeMagics, hostKeyBlob, qc, qs, k []byte) []byte {
	h := sha256.New()
	buf := magics.writeTo(nil)
	buf = putString(buf, hostKeyBlob)
	buf = putString(buf, qc)
	buf = putString(buf, qs)
	buf = putString(buf, k)
	h.Write(buf)
	return h.Sum(nil)
}

// mpintBytes encodes a raw big-endian secret as an RFC 4251 mpint: a
// leading 0x00 whenever the high bit would otherwise read as negative.
func mpintBytes(secret []byte) []byte {
	kInt := new(big.Int).SetBytes(secret)
	b := kInt.Bytes()
	if len(b) > 0 && b[0]&0x80 != 0 {
		b = append([]byte{0}, b...)
	}
	return b
}

func safeFirstByte(b []byte) uint8 {
	if len(b) == 0 {
		return 0
	}
	return b[0]
}
