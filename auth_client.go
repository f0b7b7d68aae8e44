package ssh

import (
	"errors"
	"io"

	xssh "golang.org/x/crypto/ssh"
)

// AuthMethod is one way the client can offer to prove a user's
// identity, generalizing the teacher's two hardcoded call sites
// (performPasswordAuth, performKeybasedAuth) into a pluggable list tried
// in order, the way spec.md section 4.F expects the client to fall
// through USERAUTH_FAILURE's method list.
type AuthMethod interface {
	method() string
	auth(t *transport, user string, sessionID []byte, rnd io.Reader) (ok bool, partial bool, err error)
}

// Password offers the "password" method with a fixed credential.
func Password(password string) AuthMethod { return passwordMethod{password: password} }

type passwordMethod struct{ password string }

func (passwordMethod) method() string { return AuthMethodPassword }

func (p passwordMethod) auth(t *transport, user string, sessionID []byte, rnd io.Reader) (bool, bool, error) {
	req := &userAuthRequestMsg{User: user, Service: "ssh-connection", Method: AuthMethodPassword}
	req.Payload = putBool([]byte{}, false)
	req.Payload = putStr(req.Payload, p.password)
	return sendAuthRequestAndAwait(t, req)
}

// PublicKey offers the "publickey" method: the teacher's two-phase
// probe-then-sign flow (performKeybasedAuth), generalized off the
// hardcoded RSA/ed25519 branch to any Signer.
func PublicKey(signer Signer) AuthMethod { return publicKeyMethod{signer: signer} }

type publicKeyMethod struct{ signer Signer }

func (publicKeyMethod) method() string { return AuthMethodPublicKey }

func (p publicKeyMethod) auth(t *transport, user string, sessionID []byte, rnd io.Reader) (bool, bool, error) {
	algo := p.signer.AlgorithmID()
	blob := p.signer.PublicKeyBlob()

	probe := &userAuthRequestMsg{User: user, Service: "ssh-connection", Method: AuthMethodPublicKey}
	probe.Payload = putBool([]byte{}, false)
	probe.Payload = putStr(probe.Payload, algo)
	probe.Payload = putString(probe.Payload, blob)
	if err := t.sendPacket(probe.marshal()); err != nil {
		return false, false, err
	}

	resp, err := t.readPacket()
	if err != nil {
		return false, false, err
	}
	switch {
	case len(resp) > 0 && resp[0] == msgUserAuthPubKeyOK:
		// fall through to the signed request
	case len(resp) > 0 && resp[0] == msgUserAuthFailure:
		fail, ferr := parseUserAuthFailure(resp)
		if ferr != nil {
			return false, false, ferr
		}
		return false, fail.PartialSuccess, nil
	default:
		return false, false, &UnexpectedMessageError{Expected: msgUserAuthPubKeyOK, Got: safeFirstByte(resp)}
	}

	signedData := buildPublicKeySignedData(sessionID, user, "ssh-connection", algo, blob)
	sig, err := p.signer.Sign(rnd, signedData)
	if err != nil {
		return false, false, err
	}
	sigBlob := xssh.Marshal(&xssh.Signature{Format: algo, Blob: sig})

	signed := &userAuthRequestMsg{User: user, Service: "ssh-connection", Method: AuthMethodPublicKey}
	signed.Payload = putBool([]byte{}, true)
	signed.Payload = putStr(signed.Payload, algo)
	signed.Payload = putString(signed.Payload, blob)
	signed.Payload = putString(signed.Payload, sigBlob)

	return sendAuthRequestAndAwait(t, signed)
}

// KeyboardInteractive offers the "keyboard-interactive" method, answering
// each RFC 4256 challenge with answer.
func KeyboardInteractive(answer KeyboardInteractiveAnswerer) AuthMethod {
	return keyboardInteractiveMethod{answer: answer}
}

type keyboardInteractiveMethod struct{ answer KeyboardInteractiveAnswerer }

func (keyboardInteractiveMethod) method() string { return AuthMethodKeyboardInteractive }

func (k keyboardInteractiveMethod) auth(t *transport, user string, sessionID []byte, rnd io.Reader) (bool, bool, error) {
	req := &userAuthRequestMsg{User: user, Service: "ssh-connection", Method: AuthMethodKeyboardInteractive}
	req.Payload = putStr([]byte{}, "")  // language tag
	req.Payload = putStr(req.Payload, "") // submethods
	if err := t.sendPacket(req.marshal()); err != nil {
		return false, false, err
	}

	for {
		payload, err := t.readPacket()
		if err != nil {
			return false, false, err
		}
		if len(payload) == 0 {
			return false, false, &ParseError{}
		}
		switch payload[0] {
		case msgUserAuthSuccess:
			return true, false, nil
		case msgUserAuthFailure:
			fail, ferr := parseUserAuthFailure(payload)
			if ferr != nil {
				return false, false, ferr
			}
			return false, fail.PartialSuccess, nil
		case msgUserAuthInfoRequest:
			ch, perr := parseInfoRequest(payload)
			if perr != nil {
				return false, false, perr
			}
			answers, aerr := k.answer(ch)
			if aerr != nil {
				return false, false, aerr
			}
			resp := putUint32([]byte{msgUserAuthInfoResponse}, uint32(len(answers)))
			for _, a := range answers {
				resp = putStr(resp, a)
			}
			if err := t.sendPacket(resp); err != nil {
				return false, false, err
			}
		default:
			return false, false, &UnexpectedMessageError{Expected: msgUserAuthInfoRequest, Got: payload[0]}
		}
	}
}

func parseInfoRequest(payload []byte) (KeyboardInteractiveChallenge, error) {
	r := &wireReader{b: payload[1:]}
	name, ok1 := r.str()
	instr, ok2 := r.str()
	_, ok3 := r.str() // language tag
	n, ok4 := r.uint32()
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return KeyboardInteractiveChallenge{}, &ParseError{MsgType: msgUserAuthInfoRequest}
	}
	ch := KeyboardInteractiveChallenge{Name: name, Instruction: instr}
	for i := uint32(0); i < n; i++ {
		q, ok := r.str()
		if !ok {
			return KeyboardInteractiveChallenge{}, &ParseError{MsgType: msgUserAuthInfoRequest}
		}
		echo, _ := r.bool()
		ch.Questions = append(ch.Questions, q)
		ch.Echo = append(ch.Echo, echo)
	}
	return ch, nil
}

func parseUserAuthFailure(payload []byte) (*userAuthFailureMsg, error) {
	r := &wireReader{b: payload[1:]}
	methods, ok1 := r.str()
	partial, ok2 := r.bool()
	if !ok1 || !ok2 {
		return nil, &ParseError{MsgType: msgUserAuthFailure}
	}
	return &userAuthFailureMsg{Methods: splitNameList(methods), PartialSuccess: partial}, nil
}

func sendAuthRequestAndAwait(t *transport, req *userAuthRequestMsg) (ok, partial bool, err error) {
	if err := t.sendPacket(req.marshal()); err != nil {
		return false, false, err
	}
	for {
		payload, err := t.readPacket()
		if err != nil {
			return false, false, err
		}
		if len(payload) == 0 {
			return false, false, &ParseError{}
		}
		switch payload[0] {
		case msgUserAuthSuccess:
			return true, false, nil
		case msgUserAuthFailure:
			fail, ferr := parseUserAuthFailure(payload)
			if ferr != nil {
				return false, false, ferr
			}
			return false, fail.PartialSuccess, nil
		case msgUserAuthBanner:
			continue
		default:
			return false, false, &UnexpectedMessageError{Expected: msgUserAuthFailure, Got: payload[0]}
		}
	}
}

// clientAuthSession drives the client side of the Authentication State
// Machine: try each AuthMethod in order, stop at the first success.
type clientAuthSession struct {
	t    *transport
	user string
	rnd  io.Reader
}

func (c *clientAuthSession) run(methods []AuthMethod) error {
	if len(methods) == 0 {
		return errors.New("ssh: no authentication methods configured")
	}
	for _, m := range methods {
		ok, _, err := m.auth(c.t, c.user, c.t.sessionID, c.rnd)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return &AuthFailureError{}
}
