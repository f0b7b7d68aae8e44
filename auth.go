package ssh

import (
	"crypto/subtle"

	xssh "golang.org/x/crypto/ssh"
)

// AuthMethod names the four methods spec.md section 4.F enumerates.
const (
	AuthMethodNone                = "none"
	AuthMethodPassword            = "password"
	AuthMethodPublicKey           = "publickey"
	AuthMethodKeyboardInteractive = "keyboard-interactive"
)

// AuthContext is what an Authenticator sees about one request: the
// identity claimed and, for publickey, the key presented.
type AuthContext struct {
	User       string
	RemoteAddr string
}

// KeyboardInteractiveChallenge is one prompt in a keyboard-interactive
// exchange, RFC 4256.
type KeyboardInteractiveChallenge struct {
	Name        string
	Instruction string
	Questions   []string
	Echo        []bool
}

// KeyboardInteractiveAnswerer lets an Authenticator drive a multi-round
// keyboard-interactive exchange with the client.
type KeyboardInteractiveAnswerer func(challenge KeyboardInteractiveChallenge) (answers []string, err error)

// Authenticator is the server's injected identity policy, spec.md section
// 6's authentication callback contract: one method per spec.md section
// 4.F, none of which the transport or service layer know the internals of.
type Authenticator interface {
	// Password is called for the "password" method. A nil error with
	// ok=false is a plain authentication failure; a non-nil error aborts
	// the connection.
	Password(ctx AuthContext, password string) (ok bool, err error)

	// PublicKey is called for every "publickey" request, the unsigned
	// PK_OK probe and the signed request alike, before any signature is
	// checked; a signed request is accepted only if PublicKey accepts the
	// key and the signature then verifies.
	PublicKey(ctx AuthContext, keyAlgo string, keyBlob []byte) (ok bool, err error)

	// KeyboardInteractive drives an RFC 4256 challenge/response exchange
	// via ask. Returning ok=true completes authentication.
	KeyboardInteractive(ctx AuthContext, ask KeyboardInteractiveAnswerer) (ok bool, err error)

	// Banner returns text to send in USERAUTH_BANNER before the first
	// method is attempted, or "" to skip it.
	Banner() string
}

// serverAuthSession runs the Authentication State Machine server side,
// spec.md section 4.F: method dispatch, failure-count budget, partial
// success bookkeeping.
type serverAuthSession struct {
	t        *transport
	auth     Authenticator
	maxTries int
	tries    int
}

func newServerAuthSession(t *transport, auth Authenticator, maxTries int) *serverAuthSession {
	return &serverAuthSession{t: t, auth: auth, maxTries: maxTries}
}

// run drives USERAUTH_REQUEST messages to completion (USERAUTH_SUCCESS) or
// failure (DISCONNECT with NoMoreAuthMethodsAvailable once the try budget
// is spent).
// It returns the authenticated username on success.
func (s *serverAuthSession) run() (string, error) {
	if banner := s.auth.Banner(); banner != "" {
		if err := s.t.sendPacket(putStr([]byte{msgUserAuthBanner}, banner)); err != nil {
			return "", err
		}
	}

	for {
		payload, err := s.t.readPacket()
		if err != nil {
			return "", err
		}
		if len(payload) == 0 || payload[0] != msgUserAuthRequest {
			return "", &UnexpectedMessageError{Expected: msgUserAuthRequest, Got: safeFirstByte(payload)}
		}
		req, err := parseUserAuthRequestMsg(payload)
		if err != nil {
			return "", err
		}
		if req.Service != "ssh-connection" {
			return "", newProtocolError(KindAuth, DisconnectProtocolError, "userauth request for unknown service "+req.Service)
		}

		ctx := AuthContext{User: req.User, RemoteAddr: s.t.conn.RemoteAddr().String()}

		ok, partial, err := s.dispatch(ctx, req)
		if err != nil {
			return "", err
		}
		if ok {
			if err := s.t.sendPacket([]byte{msgUserAuthSuccess}); err != nil {
				return "", err
			}
			return req.User, nil
		}

		s.tries++
		if s.tries >= s.maxTries {
			_ = s.t.disconnect(DisconnectNoMoreAuthMethodsAvailable, "too many authentication attempts")
			return "", &AuthFailureError{}
		}
		fail := &userAuthFailureMsg{Methods: []string{AuthMethodPassword, AuthMethodPublicKey, AuthMethodKeyboardInteractive}, PartialSuccess: partial}
		if err := s.t.sendPacket(fail.marshal()); err != nil {
			return "", err
		}
	}
}

func (s *serverAuthSession) dispatch(ctx AuthContext, req *userAuthRequestMsg) (ok, partial bool, err error) {
	switch req.Method {
	case AuthMethodNone:
		return false, false, nil

	case AuthMethodPassword:
		r := &wireReader{b: req.Payload}
		_, ok1 := r.bool() // password-change-in-band flag, not offered here
		password, ok2 := r.str()
		if !ok1 || !ok2 {
			return false, false, &ParseError{MsgType: msgUserAuthRequest}
		}
		ok, err := s.auth.Password(ctx, password)
		return ok, false, err

	case AuthMethodPublicKey:
		return s.dispatchPublicKey(ctx, req)

	case AuthMethodKeyboardInteractive:
		return s.dispatchKeyboardInteractive(ctx, req)

	default:
		return false, false, nil
	}
}

func (s *serverAuthSession) dispatchPublicKey(ctx AuthContext, req *userAuthRequestMsg) (ok, partial bool, err error) {
	r := &wireReader{b: req.Payload}
	hasSig, ok1 := r.bool()
	algo, ok2 := r.str()
	blob, ok3 := r.string()
	if !ok1 || !ok2 || !ok3 {
		return false, false, &ParseError{MsgType: msgUserAuthRequest}
	}

	accepted, err := s.auth.PublicKey(ctx, algo, blob)
	if err != nil || !accepted {
		return false, false, err
	}

	if !hasSig {
		// PK_OK probe: tell the client this key is acceptable, no decision yet.
		reply := putStr([]byte{msgUserAuthPubKeyOK}, algo)
		reply = putString(reply, blob)
		return false, false, s.t.sendPacket(reply)
	}

	sigField, ok4 := r.string()
	if !ok4 {
		return false, false, &ParseError{MsgType: msgUserAuthRequest}
	}
	var sig xssh.Signature
	if err := xssh.Unmarshal(sigField, &sig); err != nil {
		return false, false, nil
	}

	signedData := buildPublicKeySignedData(s.t.sessionID, req.User, req.Service, algo, blob)

	pub, err := xssh.ParsePublicKey(blob)
	if err != nil {
		return false, false, nil
	}
	if err := pub.Verify(signedData, &sig); err != nil {
		return false, false, nil
	}
	return true, false, nil
}

// buildPublicKeySignedData reconstructs the RFC 4252 section 7 "data that
// is signed": session_id followed by the USERAUTH_REQUEST body up to (but
// not including) the signature field, with the signature-present boolean
// forced true.
func buildPublicKeySignedData(sessionID []byte, user, service, algo string, blob []byte) []byte {
	buf := putString(nil, sessionID)
	buf = append(buf, msgUserAuthRequest)
	buf = putStr(buf, user)
	buf = putStr(buf, service)
	buf = putStr(buf, AuthMethodPublicKey)
	buf = putBool(buf, true)
	buf = putStr(buf, algo)
	buf = putString(buf, blob)
	return buf
}

func (s *serverAuthSession) dispatchKeyboardInteractive(ctx AuthContext, req *userAuthRequestMsg) (ok, partial bool, err error) {
	// req.Payload carries language tag and submethods, both ignored here;
	// the Authenticator decides the challenge set.
	ask := func(ch KeyboardInteractiveChallenge) ([]string, error) {
		buf := putStr([]byte{msgUserAuthInfoRequest}, ch.Name)
		buf = putStr(buf, ch.Instruction)
		buf = putStr(buf, "") // language tag
		buf = putUint32(buf, uint32(len(ch.Questions)))
		for i, q := range ch.Questions {
			buf = putStr(buf, q)
			echo := i < len(ch.Echo) && ch.Echo[i]
			buf = putBool(buf, echo)
		}
		if err := s.t.sendPacket(buf); err != nil {
			return nil, err
		}
		payload, err := s.t.readPacket()
		if err != nil {
			return nil, err
		}
		if len(payload) == 0 || payload[0] != msgUserAuthInfoResponse {
			return nil, &UnexpectedMessageError{Expected: msgUserAuthInfoResponse, Got: safeFirstByte(payload)}
		}
		r := &wireReader{b: payload[1:]}
		n, ok := r.uint32()
		if !ok {
			return nil, &ParseError{MsgType: msgUserAuthInfoResponse}
		}
		answers := make([]string, 0, n)
		for i := uint32(0); i < n; i++ {
			a, ok := r.str()
			if !ok {
				return nil, &ParseError{MsgType: msgUserAuthInfoResponse}
			}
			answers = append(answers, a)
		}
		return answers, nil
	}

	accepted, err := s.auth.KeyboardInteractive(ctx, ask)
	return accepted, false, err
}

// ConstantTimeCompareStrings compares two passwords in time that does not
// depend on their contents, for Authenticator implementations backed by a
// fixed credential rather than a password hash. Strings of unequal length
// return false at once, so the length itself is not hidden.
func ConstantTimeCompareStrings(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
