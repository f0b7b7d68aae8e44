package ssh

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigSetDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()

	if c.MaxPacketSize != 32768 {
		t.Errorf("MaxPacketSize = %d, want 32768", c.MaxPacketSize)
	}
	if c.InitialWindowSize != 2*1024*1024 {
		t.Errorf("InitialWindowSize = %d, want 2MiB", c.InitialWindowSize)
	}
	if c.RekeyBytes != 1<<30 {
		t.Errorf("RekeyBytes = %d, want 1GiB", c.RekeyBytes)
	}
	if c.MaxAuthRequests != 20 {
		t.Errorf("MaxAuthRequests = %d, want 20", c.MaxAuthRequests)
	}
	if c.Logger == nil {
		t.Error("Logger left nil after SetDefaults")
	}
}

func TestConfigSetDefaultsPreservesOverrides(t *testing.T) {
	c := Config{MaxPacketSize: 1024, Ciphers: []string{"aes256-ctr"}}
	c.SetDefaults()
	if c.MaxPacketSize != 1024 {
		t.Errorf("MaxPacketSize overridden: got %d, want 1024", c.MaxPacketSize)
	}
	if len(c.Ciphers) != 1 || c.Ciphers[0] != "aes256-ctr" {
		t.Errorf("Ciphers overridden: got %v", c.Ciphers)
	}
}

func TestLoadHostConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "goshell.conf")
	contents := `host-a
  hostname example.com
  port 2222
  user alice
  keybasedauthentication yes
  identityfile ~/.ssh/id_ed25519

host-b
  hostname other.example.com
  user bob
`
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfgs, err := LoadHostConfig(path)
	if err != nil {
		t.Fatalf("LoadHostConfig: %v", err)
	}
	if len(cfgs) != 2 {
		t.Fatalf("got %d hosts, want 2", len(cfgs))
	}

	a := cfgs["host-a"]
	if a.Hostname != "example.com" || a.Port != 2222 || a.User != "alice" || !a.KeybasedAuthentication {
		t.Errorf("host-a parsed incorrectly: %+v", a)
	}

	b := cfgs["host-b"]
	if b.Hostname != "other.example.com" || b.Port != 0 || b.KeybasedAuthentication {
		t.Errorf("host-b parsed incorrectly: %+v", b)
	}
}

func TestLoadHostConfigMissingFile(t *testing.T) {
	cfgs, err := LoadHostConfig(filepath.Join(t.TempDir(), "does-not-exist.conf"))
	if err != nil {
		t.Fatalf("LoadHostConfig on missing file returned error: %v", err)
	}
	if len(cfgs) != 0 {
		t.Errorf("got %d hosts for missing file, want 0", len(cfgs))
	}
}
