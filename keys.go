package ssh

import "crypto"

// deriveKey implements RFC 4253 section 7.2's key derivation:
// HASH(K || H || X || session_id), extended by re-hashing the running
// concatenation until enough bytes are produced. This is the teacher's
// session.go deriveKey, generalized from a hardcoded SHA-256/16-byte-AES
// pair to any digest and any output length the negotiated cipher needs.
func deriveKey(hashFn crypto.Hash, k, h, sessionID []byte, tag byte, length int) []byte {
	digest := hashFn.New()

	writeMPIntRaw(digest, k)
	digest.Write(h)
	digest.Write([]byte{tag})
	digest.Write(sessionID)

	key := digest.Sum(nil)
	for len(key) < length {
		digest.Reset()
		writeMPIntRaw(digest, k)
		digest.Write(h)
		digest.Write(key)
		key = append(key, digest.Sum(nil)...)
	}
	return key[:length]
}

// writeMPIntRaw feeds k (already mpint-encoded by the kex algorithm, i.e.
// the raw big-endian bytes with any required leading zero already applied)
// into w with its RFC 4251 length prefix, matching the teacher's
// writeBytesHash helper.
func writeMPIntRaw(w interface{ Write([]byte) (int, error) }, k []byte) {
	w.Write(putUint32(nil, uint32(len(k))))
	w.Write(k)
}

// directionKeys holds the six derived secrets for both directions of one
// key-exchange outcome, RFC 4253 section 7.2 letters 'A'..'F'.
type directionKeys struct {
	clientIV, serverIV     []byte
	clientKey, serverKey   []byte
	clientMACKey, serverMACKey []byte
}

func deriveDirectionKeys(hashFn crypto.Hash, k, h, sessionID []byte, ivLen, keyLen, macKeyLen int) directionKeys {
	return directionKeys{
		clientIV:     deriveKey(hashFn, k, h, sessionID, 'A', ivLen),
		serverIV:     deriveKey(hashFn, k, h, sessionID, 'B', ivLen),
		clientKey:    deriveKey(hashFn, k, h, sessionID, 'C', keyLen),
		serverKey:    deriveKey(hashFn, k, h, sessionID, 'D', keyLen),
		clientMACKey: deriveKey(hashFn, k, h, sessionID, 'E', macKeyLen),
		serverMACKey: deriveKey(hashFn, k, h, sessionID, 'F', macKeyLen),
	}
}
