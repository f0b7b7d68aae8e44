package ssh

import (
	"crypto"
	"crypto/sha256"
	"io"
	"math/big"
)

// dhGroup is a multiplicative group suitable for Diffie-Hellman key
// agreement, in the shape of golang-crypto__common.go's dhGroup.
type dhGroup struct {
	g, p *big.Int
}

func (group *dhGroup) diffieHellman(theirPublic, myPrivate *big.Int) (*big.Int, error) {
	if theirPublic.Sign() <= 0 || theirPublic.Cmp(group.p) >= 0 {
		return nil, newProtocolError(KindCrypto, DisconnectKeyExchangeFailed, "DH parameter out of bounds")
	}
	return new(big.Int).Exp(theirPublic, myPrivate, group.p), nil
}

// dhGroup14 is Oakley Group 14 (RFC 3526), the group named
// "diffie-hellman-group14-sha256" in RFC 8268.
var dhGroup14 = &dhGroup{
	g: big.NewInt(2),
	p: mustHex("FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB9ED529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E36CE3BE39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF6955817183995497CEA956AE515D2261898FA051015728E5A8AACAA68FFFFFFFFFFFFFFFF"),
}

func mustHex(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("ssh: bad hex constant")
	}
	return v
}

// dhGroup14SHA256 implements diffie-hellman-group14-sha256, RFC 8268: the
// finite-field fallback kept for peers that don't offer an elliptic-curve
// method, generalizing albertjin-ssh__dh.go's dhWith to this core's
// kexAlgorithm contract.
type dhGroup14SHA256 struct{}

func dhGenKey(rnd io.Reader, group *dhGroup) (x, e *big.Int, err error) {
	// 256 bits of exponent is ample margin for a 2048-bit group, matching
	// standard practice (e.g. OpenSSH) for group14.
	for {
		xb := make([]byte, 32)
		if _, err := io.ReadFull(rnd, xb); err != nil {
			return nil, nil, err
		}
		x = new(big.Int).SetBytes(xb)
		if x.Sign() > 0 {
			break
		}
	}
	e = new(big.Int).Exp(group.g, x, group.p)
	return x, e, nil
}

func (dhGroup14SHA256) Client(t packetIO, rnd io.Reader, magics *handshakeMagics) (*kexResult, error) {
	x, e, err := dhGenKey(rnd, dhGroup14)
	if err != nil {
		return nil, err
	}
	if err := t.sendPacket(putMPInt([]byte{msgKexDHInit}, e)); err != nil {
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
	f, ok2 := r.mpint()
	sig, ok3 := r.string()
	if !ok1 || !ok2 || !ok3 {
		return nil, &ParseError{MsgType: msgKexDHReply}
	}

	k, err := dhGroup14.diffieHellman(f, x)
	if err != nil {
		return nil, err
	}
	kBytes := putMPInt(nil, k)[4:]

	h := dhExchangeHash(magics, hostKeyBlob, e, f, kBytes)
	return &kexResult{H: h, K: kBytes, HostKeyBlob: hostKeyBlob, Signature: sig, Hash: crypto.SHA256}, nil
}

func (dhGroup14SHA256) Server(t packetIO, rnd io.Reader, magics *handshakeMagics, signer Signer) (*kexResult, error) {
	initPkt, err := t.readPacket()
	if err != nil {
		return nil, err
	}
	if len(initPkt) == 0 || initPkt[0] != msgKexDHInit {
		return nil, &UnexpectedMessageError{Expected: msgKexDHInit, Got: safeFirstByte(initPkt)}
	}
	r := &wireReader{b: initPkt[1:]}
	e, ok := r.mpint()
	if !ok {
		return nil, &ParseError{MsgType: msgKexDHInit}
	}

	y, f, err := dhGenKey(rnd, dhGroup14)
	if err != nil {
		return nil, err
	}
	k, err := dhGroup14.diffieHellman(e, y)
	if err != nil {
		return nil, err
	}
	kBytes := putMPInt(nil, k)[4:]

	hostKeyBlob := signer.PublicKeyBlob()
	h := dhExchangeHash(magics, hostKeyBlob, e, f, kBytes)
	sig, err := signer.Sign(rnd, h)
	if err != nil {
		return nil, err
	}

	reply := []byte{msgKexDHReply}
	reply = putString(reply, hostKeyBlob)
	reply = putMPInt(reply, f)
	reply = putString(reply, sig)
	if err := t.sendPacket(reply); err != nil {
		return nil, err
	}
	return &kexResult{H: h, K: kBytes, HostKeyBlob: hostKeyBlob, Signature: sig, Hash: crypto.SHA256}, nil
}

func dhExchangeHash(magics *handshakeMagics, hostKeyBlob []byte, e, f *big.Int, k []byte) []byte {
	h := sha256.New()
	buf := magics.writeTo(nil)
	buf = putString(buf, hostKeyBlob)
	buf = putMPInt(buf, e)
	buf = putMPInt(buf, f)
	buf = append(buf, putMPInt(nil, new(big.Int).SetBytes(k))...)
	h.Write(buf)
	return h.Sum(nil)
}
