package ssh

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io"
	"os"

	xssh "golang.org/x/crypto/ssh"
)

// Signer is the capability the KEX engine and the auth state machine need
// from a private key: produce a signature over arbitrary data, and publish
// the public key blob that identifies it on the wire. This is spec.md
// section 6's injected KeyProvider interface.
type Signer interface {
	AlgorithmID() string
	PublicKeyBlob() []byte
	Sign(rnd io.Reader, data []byte) ([]byte, error)
}

// KeyProvider is an alias kept for the name spec.md section 6 uses; in this
// core a Signer already is one.
type KeyProvider = Signer

type hostKeySigner struct {
	algo string
	pub  []byte
	key  interface{} // *rsa.PrivateKey, ed25519.PrivateKey, or *ecdsa.PrivateKey
}

func (s *hostKeySigner) AlgorithmID() string  { return s.algo }
func (s *hostKeySigner) PublicKeyBlob() []byte { return s.pub }

func (s *hostKeySigner) Sign(rnd io.Reader, data []byte) ([]byte, error) {
	switch k := s.key.(type) {
	case ed25519.PrivateKey:
		return ed25519.Sign(k, data), nil
	case *rsa.PrivateKey:
		h := sha256.Sum256(data)
		return rsa.SignPKCS1v15(rnd, k, crypto.SHA256, h[:])
	case *ecdsa.PrivateKey:
		h := sha256.Sum256(data)
		return ecdsa.SignASN1(rnd, k, h[:])
	default:
		return nil, errors.New("ssh: unsupported host key type")
	}
}

// LoadHostKey reads an OpenSSH or PKCS#8/PKCS#1-encoded private key file
// and returns a Signer for it. This generalizes the teacher's
// loadPrivateKey (user_auth.go) from a client identity file loader that
// only ever signs one authentication request into a host-key-capable
// Signer either side can use.
func LoadHostKey(path string) (Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseHostKey(data)
}

// ParseHostKey parses the PEM or OpenSSH-formatted private key bytes in
// data, trying the formats the teacher's loadPrivateKey tries in order:
// OpenSSH container, then PKCS#8, then PKCS#1.
func ParseHostKey(data []byte) (Signer, error) {
	if raw, err := xssh.ParseRawPrivateKey(data); err == nil {
		return signerFromRawKey(raw)
	}

	der := data
	if block, _ := pem.Decode(data); block != nil {
		der = block.Bytes
	}

	if k, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return signerFromRawKey(k)
	}
	if k, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return signerFromRawKey(k)
	}

	return nil, errors.New("ssh: unsupported or unreadable private key (supported: ssh-rsa, ssh-ed25519, ecdsa)")
}

func signerFromRawKey(raw interface{}) (Signer, error) {
	switch k := raw.(type) {
	case *rsa.PrivateKey:
		pub, err := xssh.NewPublicKey(&k.PublicKey)
		if err != nil {
			return nil, err
		}
		return &hostKeySigner{algo: "rsa-sha2-256", pub: pub.Marshal(), key: k}, nil
	case ed25519.PrivateKey:
		pub, err := xssh.NewPublicKey(k.Public())
		if err != nil {
			return nil, err
		}
		return &hostKeySigner{algo: "ssh-ed25519", pub: pub.Marshal(), key: k}, nil
	case *ecdsa.PrivateKey:
		pub, err := xssh.NewPublicKey(&k.PublicKey)
		if err != nil {
			return nil, err
		}
		return &hostKeySigner{algo: ecdsaAlgoName(k), pub: pub.Marshal(), key: k}, nil
	default:
		return nil, errors.New("ssh: unsupported private key type")
	}
}

func ecdsaAlgoName(k *ecdsa.PrivateKey) string {
	if k == nil || k.PublicKey.Curve == nil {
		return "ecdsa-sha2-nistp256"
	}
	switch k.PublicKey.Curve.Params().Name {
	case "P-384":
		return "ecdsa-sha2-nistp384"
	case "P-521":
		return "ecdsa-sha2-nistp521"
	default:
		return "ecdsa-sha2-nistp256"
	}
}

// ParsePublicKeyBlob parses an RFC 4253 section 6.6 public key blob
// (algorithm name + algorithm-specific fields) as sent in a publickey
// userauth request or a PK_OK query.
func ParsePublicKeyBlob(blob []byte) (xssh.PublicKey, error) {
	return xssh.ParsePublicKey(blob)
}
