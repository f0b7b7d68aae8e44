package ssh

import "testing"

func TestBuildPublicKeySignedDataIsDeterministic(t *testing.T) {
	sessionID := []byte{1, 2, 3, 4}
	a := buildPublicKeySignedData(sessionID, "alice", "ssh-connection", "ssh-ed25519", []byte("blob"))
	b := buildPublicKeySignedData(sessionID, "alice", "ssh-connection", "ssh-ed25519", []byte("blob"))
	if string(a) != string(b) {
		t.Fatal("buildPublicKeySignedData is not deterministic for identical inputs")
	}

	c := buildPublicKeySignedData(sessionID, "bob", "ssh-connection", "ssh-ed25519", []byte("blob"))
	if string(a) == string(c) {
		t.Fatal("buildPublicKeySignedData did not vary with user")
	}
}

func TestBuildPublicKeySignedDataLayout(t *testing.T) {
	sessionID := []byte("sid")
	got := buildPublicKeySignedData(sessionID, "alice", "ssh-connection", "ssh-ed25519", []byte("blob"))

	r := &wireReader{b: got}
	sid, ok := r.string()
	if !ok || string(sid) != "sid" {
		t.Fatalf("session id field = %q, ok=%v", sid, ok)
	}
	msgType, ok := r.byte()
	if !ok || msgType != msgUserAuthRequest {
		t.Fatalf("message type = %d, want %d", msgType, msgUserAuthRequest)
	}
	user, _ := r.str()
	service, _ := r.str()
	method, _ := r.str()
	hasSig, _ := r.bool()
	if user != "alice" || service != "ssh-connection" || method != AuthMethodPublicKey || !hasSig {
		t.Fatalf("unexpected fields: user=%q service=%q method=%q hasSig=%v", user, service, method, hasSig)
	}
}

func TestConstantTimeCompareStrings(t *testing.T) {
	if !ConstantTimeCompareStrings("secret", "secret") {
		t.Error("equal strings compared unequal")
	}
	if ConstantTimeCompareStrings("secret", "other") {
		t.Error("different strings compared equal")
	}
	if ConstantTimeCompareStrings("secret", "secretlonger") {
		t.Error("different-length strings compared equal")
	}
}
