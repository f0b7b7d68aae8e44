package ssh

import (
	"crypto"
	"io"

	"golang.org/x/crypto/curve25519"
)

// curve25519SHA256 implements curve25519-sha256, the modern default KEX
// this pack's other SSH implementations (pizzahutdigital-crypto/ssh/kex.go)
// also carry alongside NIST ECDH.
type curve25519SHA256 struct{}

func (curve25519SHA256) Client(t packetIO, rnd io.Reader, magics *handshakeMagics) (*kexResult, error) {
	var priv [32]byte
	if _, err := io.ReadFull(rnd, priv[:]); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	if err := t.sendPacket(putString([]byte{msgKexDHInit}, pub)); err != nil {
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
	if !ok1 || !ok2 || !ok3 || len(serverPub) != 32 {
		return nil, &ParseError{MsgType: msgKexDHReply}
	}
	secret, err := curve25519.X25519(priv[:], serverPub)
	if err != nil {
		return nil, newProtocolError(KindCrypto, DisconnectKeyExchangeFailed, "curve25519 failed")
	}
	k := mpintBytes(secret)
	h := ecdhExchangeHash(magics, hostKeyBlob, pub, serverPub, k)
	return &kexResult{H: h, K: k, HostKeyBlob: hostKeyBlob, Signature: sig, Hash: crypto.SHA256}, nil
}

func (curve25519SHA256) Server(t packetIO, rnd io.Reader, magics *handshakeMagics, signer Signer) (*kexResult, error) {
	initPkt, err := t.readPacket()
	if err != nil {
		return nil, err
	}
	if len(initPkt) == 0 || initPkt[0] != msgKexDHInit {
		return nil, &UnexpectedMessageError{Expected: msgKexDHInit, Got: safeFirstByte(initPkt)}
	}
	r := &wireReader{b: initPkt[1:]}
	clientPub, ok := r.string()
	if !ok || len(clientPub) != 32 {
		return nil, &ParseError{MsgType: msgKexDHInit}
	}

	var priv [32]byte
	if _, err := io.ReadFull(rnd, priv[:]); err != nil {
		return nil, err
	}
	serverPub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	secret, err := curve25519.X25519(priv[:], clientPub)
	if err != nil {
		return nil, newProtocolError(KindCrypto, DisconnectKeyExchangeFailed, "curve25519 failed")
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
