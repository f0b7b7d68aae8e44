package ssh

import (
	"crypto"
	"io"
)

// kexResult is the outcome of one run of a kexAlgorithm: the shared secret,
// the exchange hash, the host key and its signature. The algorithms leave
// SessionID unset; the transport freezes the session id itself.
type kexResult struct {
	H         []byte
	K         []byte // mpint-encoded shared secret
	HostKeyBlob []byte
	Signature []byte
	Hash      crypto.Hash
	SessionID []byte
}

// handshakeMagics is the material that always feeds the exchange hash,
// RFC 4253 section 8: both version strings and both KEXINIT payloads.
type handshakeMagics struct {
	clientVersion, serverVersion []byte
	clientKexInit, serverKexInit []byte
}

func (m *handshakeMagics) writeTo(buf []byte) []byte {
	buf = putString(buf, m.clientVersion)
	buf = putString(buf, m.serverVersion)
	buf = putString(buf, m.clientKexInit)
	buf = putString(buf, m.serverKexInit)
	return buf
}

// kexAlgorithm abstracts one Diffie-Hellman-style method: the registry of
// constructors spec.md section 9 calls for in place of the source's KEX
// class hierarchy. Each side drives the half of the protocol it plays;
// packetIO is the raw (pre-NEWKEYS) packet transport.
type kexAlgorithm interface {
	Client(t packetIO, rnd io.Reader, magics *handshakeMagics) (*kexResult, error)
	Server(t packetIO, rnd io.Reader, magics *handshakeMagics, signer Signer) (*kexResult, error)
}

// packetIO is the narrow read/write contract the KEX algorithms need from
// the transport - just enough to exchange the two or three packets a KEX
// method requires before NEWKEYS.
type packetIO interface {
	sendPacket(payload []byte) error
	readPacket() ([]byte, error)
}

var kexAlgorithms = map[string]kexAlgorithm{
	"curve25519-sha256":             &curve25519SHA256{},
	"ecdh-sha2-nistp256":            &ecdhSHA256{},
	"diffie-hellman-group14-sha256": &dhGroup14SHA256{},
}

// negotiatedAlgorithms is the result of applying spec.md section 4.C step 2
// to a pair of KEXINIT payloads.
type negotiatedAlgorithms struct {
	kex, hostKey                     string
	cipherC2S, cipherS2C             string
	macC2S, macS2C                   string
	compC2S, compS2C                 string
	strictKex                        bool
}

// negotiateAlgorithms picks one entry per field, preferring the client's
// order (spec.md section 4.C step 2). A missing kex, host-key, cipher or
// compression match is reported as NegotiationError; a missing MAC match
// is tolerated when that direction's cipher is an AEAD mode.
func negotiateAlgorithms(client, server *kexInitMsg) (*negotiatedAlgorithms, error) {
	n := &negotiatedAlgorithms{}
	var ok bool

	if n.kex, ok = findCommonAlgorithm(client.KexAlgos, server.KexAlgos); !ok {
		return nil, &NegotiationError{Field: "kex_algorithms"}
	}
	if n.hostKey, ok = findCommonAlgorithm(client.ServerHostKeyAlgos, server.ServerHostKeyAlgos); !ok {
		return nil, &NegotiationError{Field: "host_key_algorithms"}
	}
	if n.cipherC2S, ok = findCommonAlgorithm(client.CiphersClientServer, server.CiphersClientServer); !ok {
		return nil, &NegotiationError{Field: "ciphers (client to server)"}
	}
	if n.cipherS2C, ok = findCommonAlgorithm(client.CiphersServerClient, server.CiphersServerClient); !ok {
		return nil, &NegotiationError{Field: "ciphers (server to client)"}
	}
	if n.macC2S, ok = findCommonAlgorithm(client.MACsClientServer, server.MACsClientServer); !ok {
		if !cipherModes[n.cipherC2S].aead {
			return nil, &NegotiationError{Field: "macs (client to server)"}
		}
	}
	if n.macS2C, ok = findCommonAlgorithm(client.MACsServerClient, server.MACsServerClient); !ok {
		if !cipherModes[n.cipherS2C].aead {
			return nil, &NegotiationError{Field: "macs (server to client)"}
		}
	}
	if n.compC2S, ok = findCommonAlgorithm(client.CompressionClientServer, server.CompressionClientServer); !ok {
		return nil, &NegotiationError{Field: "compression (client to server)"}
	}
	if n.compS2C, ok = findCommonAlgorithm(client.CompressionServerClient, server.CompressionServerClient); !ok {
		return nil, &NegotiationError{Field: "compression (server to client)"}
	}

	n.strictKex = containsName(client.KexAlgos, strictKexMarkerC2S) && containsName(server.KexAlgos, strictKexMarkerS2C)
	return n, nil
}

// rekeyTracker owns the byte/time triggers from spec.md section 4.C.
type rekeyTracker struct {
	bytesSinceRekey uint64
	packetsSinceRekey uint64
	lastRekey       int64 // unix seconds, supplied by the caller's clock
	rekeyBytes      uint64
	rekeyTimeSeconds int
}

func newRekeyTracker(cfg *Config, now int64) *rekeyTracker {
	return &rekeyTracker{rekeyBytes: cfg.RekeyBytes, rekeyTimeSeconds: cfg.RekeyTimeSeconds, lastRekey: now}
}

func (r *rekeyTracker) recordBytes(n int) {
	r.bytesSinceRekey += uint64(n)
}

// due reports whether a rekey trigger has fired.
func (r *rekeyTracker) due(now int64) bool {
	if r.bytesSinceRekey >= r.rekeyBytes {
		return true
	}
	if r.rekeyTimeSeconds > 0 && now-r.lastRekey >= int64(r.rekeyTimeSeconds) {
		return true
	}
	return false
}

func (r *rekeyTracker) reset(now int64) {
	r.bytesSinceRekey = 0
	r.packetsSinceRekey = 0
	r.lastRekey = now
}
