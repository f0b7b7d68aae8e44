package ssh

import (
	"bytes"
	"reflect"
	"testing"
)

func TestKexInitMsgRoundTrip(t *testing.T) {
	m := &kexInitMsg{
		KexAlgos:                []string{"curve25519-sha256"},
		ServerHostKeyAlgos:      []string{"ssh-ed25519"},
		CiphersClientServer:     []string{"aes128-ctr"},
		CiphersServerClient:     []string{"aes128-ctr"},
		MACsClientServer:        []string{"hmac-sha2-256"},
		MACsServerClient:        []string{"hmac-sha2-256"},
		CompressionClientServer: []string{"none"},
		CompressionServerClient: []string{"none"},
		FirstKexFollows:         true,
	}
	for i := range m.Cookie {
		m.Cookie[i] = byte(i)
	}

	got, err := parseKexInitMsg(m.marshal())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Cookie != m.Cookie {
		t.Errorf("cookie mismatch: got %x want %x", got.Cookie, m.Cookie)
	}
	if !reflect.DeepEqual(got.KexAlgos, m.KexAlgos) {
		t.Errorf("KexAlgos mismatch: got %v want %v", got.KexAlgos, m.KexAlgos)
	}
	if got.FirstKexFollows != m.FirstKexFollows {
		t.Errorf("FirstKexFollows = %v, want %v", got.FirstKexFollows, m.FirstKexFollows)
	}
}

func TestChannelOpenMsgRoundTrip(t *testing.T) {
	m := &channelOpenMsg{ChanType: "session", PeerID: 3, PeerWindow: 1 << 20, PeerMaxPacketSize: 32768}
	got, err := parseChannelOpenMsg(m.marshal())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.ChanType != m.ChanType || got.PeerID != m.PeerID || got.PeerWindow != m.PeerWindow ||
		got.PeerMaxPacketSize != m.PeerMaxPacketSize || !bytes.Equal(got.TypeSpecificData, m.TypeSpecificData) {
		t.Errorf("got %+v, want %+v", got, m)
	}
}

func TestChannelRequestMsgRoundTrip(t *testing.T) {
	m := &channelRequestMsg{PeerID: 7, Request: "exec", WantReply: true, Payload: MarshalExecRequest("ls -la")}
	got, err := parseChannelRequestMsg(m.marshal())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.PeerID != m.PeerID || got.Request != m.Request || got.WantReply != m.WantReply {
		t.Fatalf("got %+v, want %+v", got, m)
	}
	cmd, err := ParseExecRequestPayload(got.Payload)
	if err != nil {
		t.Fatalf("ParseExecRequestPayload: %v", err)
	}
	if cmd != "ls -la" {
		t.Errorf("command = %q, want %q", cmd, "ls -la")
	}
}

func TestDisconnectMsgRoundTrip(t *testing.T) {
	m := &disconnectMsg{Reason: DisconnectByApplication, Message: "bye", Lang: "en"}
	got, err := parseDisconnectMsg(m.marshal())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if *got != *m {
		t.Errorf("got %+v, want %+v", got, m)
	}
}

func TestUserAuthFailureRoundTrip(t *testing.T) {
	m := &userAuthFailureMsg{Methods: []string{"password", "publickey"}, PartialSuccess: true}
	got, err := parseUserAuthFailure(m.marshal())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(got.Methods, m.Methods) {
		t.Errorf("Methods = %v, want %v", got.Methods, m.Methods)
	}
	if got.PartialSuccess != m.PartialSuccess {
		t.Errorf("PartialSuccess = %v, want %v", got.PartialSuccess, m.PartialSuccess)
	}
}

func TestPtyAndWindowChangeRoundTrip(t *testing.T) {
	req, err := parsePtyRequest(MarshalPtyRequest("xterm-256color", 120, 40))
	if err != nil {
		t.Fatalf("parsePtyRequest: %v", err)
	}
	if req.Term != "xterm-256color" || req.Columns != 120 || req.Rows != 40 {
		t.Errorf("unexpected pty request: %+v", req)
	}

	wc, err := parseWindowChange(MarshalWindowChange(200, 60))
	if err != nil {
		t.Fatalf("parseWindowChange: %v", err)
	}
	if wc.Columns != 200 || wc.Rows != 60 {
		t.Errorf("unexpected window-change: %+v", wc)
	}
}

func TestNameListRoundTrip(t *testing.T) {
	in := []string{"a", "b", "c"}
	if got := splitNameList(nameList(in...)); !reflect.DeepEqual(got, in) {
		t.Errorf("splitNameList(nameList(%v)) = %v", in, got)
	}
	if got := splitNameList(""); len(got) != 0 {
		t.Errorf("splitNameList(\"\") = %v, want empty", got)
	}
}
