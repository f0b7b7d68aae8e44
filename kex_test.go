package ssh

import "testing"

func TestRekeyTrackerBytesTrigger(t *testing.T) {
	cfg := &Config{RekeyBytes: 100}
	r := newRekeyTracker(cfg, 1000)

	if r.due(1000) {
		t.Fatal("due() before any bytes recorded")
	}
	r.recordBytes(50)
	if r.due(1000) {
		t.Fatal("due() after half the byte budget")
	}
	r.recordBytes(60)
	if !r.due(1000) {
		t.Fatal("due() should fire once bytesSinceRekey exceeds RekeyBytes")
	}

	r.reset(2000)
	if r.due(2000) {
		t.Fatal("due() should be false right after reset")
	}
}

func TestRekeyTrackerTimeTrigger(t *testing.T) {
	cfg := &Config{RekeyBytes: 1 << 40, RekeyTimeSeconds: 60}
	r := newRekeyTracker(cfg, 1000)

	if r.due(1030) {
		t.Fatal("due() before the time budget elapsed")
	}
	if !r.due(1061) {
		t.Fatal("due() should fire once rekeyTimeSeconds has elapsed")
	}
}

func TestNegotiateAlgorithmsPrefersClientOrder(t *testing.T) {
	client := &kexInitMsg{
		KexAlgos:                []string{"curve25519-sha256", "diffie-hellman-group14-sha256"},
		ServerHostKeyAlgos:      []string{"ssh-ed25519"},
		CiphersClientServer:     []string{"aes128-ctr", "chacha20-poly1305@openssh.com"},
		CiphersServerClient:     []string{"aes128-ctr"},
		MACsClientServer:        []string{"hmac-sha2-256"},
		MACsServerClient:        []string{"hmac-sha2-256"},
		CompressionClientServer: []string{"none"},
		CompressionServerClient: []string{"none"},
	}
	server := &kexInitMsg{
		KexAlgos:                []string{"diffie-hellman-group14-sha256", "curve25519-sha256"},
		ServerHostKeyAlgos:      []string{"ssh-ed25519"},
		CiphersClientServer:     []string{"chacha20-poly1305@openssh.com", "aes128-ctr"},
		CiphersServerClient:     []string{"aes128-ctr"},
		MACsClientServer:        []string{"hmac-sha2-256"},
		MACsServerClient:        []string{"hmac-sha2-256"},
		CompressionClientServer: []string{"none"},
		CompressionServerClient: []string{"none"},
	}

	n, err := negotiateAlgorithms(client, server)
	if err != nil {
		t.Fatalf("negotiateAlgorithms: %v", err)
	}
	if n.kex != "curve25519-sha256" {
		t.Errorf("kex = %q, want curve25519-sha256 (client's first preference)", n.kex)
	}
	if n.cipherC2S != "aes128-ctr" {
		t.Errorf("cipherC2S = %q, want aes128-ctr (client's first preference)", n.cipherC2S)
	}
}

func TestNegotiateAlgorithmsNoCommonKex(t *testing.T) {
	client := &kexInitMsg{KexAlgos: []string{"curve25519-sha256"}, ServerHostKeyAlgos: []string{"ssh-ed25519"}}
	server := &kexInitMsg{KexAlgos: []string{"diffie-hellman-group14-sha256"}, ServerHostKeyAlgos: []string{"ssh-ed25519"}}

	_, err := negotiateAlgorithms(client, server)
	if err == nil {
		t.Fatal("expected a NegotiationError for disjoint kex algorithm lists")
	}
	if _, ok := err.(*NegotiationError); !ok {
		t.Errorf("got %T, want *NegotiationError", err)
	}
}
