package ssh

import (
	"os"
	"strconv"
	"strings"
)

// Default algorithm preference order, most preferred first. These mirror
// spec.md section 6's enumerated configuration keys.
var (
	DefaultKexAlgorithms = []string{
		"curve25519-sha256", "ecdh-sha2-nistp256", "diffie-hellman-group14-sha256",
	}
	DefaultHostKeyAlgorithms = []string{"ssh-ed25519", "rsa-sha2-512", "rsa-sha2-256", "ssh-rsa"}
	DefaultCiphers           = []string{"chacha20-poly1305@openssh.com", "aes128-gcm@openssh.com", "aes128-ctr", "aes256-ctr"}
	DefaultMACs              = []string{"hmac-sha2-256-etm@openssh.com", "hmac-sha2-256", "hmac-sha1"}
	DefaultCompressions      = []string{"none"}
)

// Config holds the tunables spec.md section 6 enumerates. Both ClientConfig
// and ServerConfig embed it.
type Config struct {
	MaxPacketSize     uint32 // default 32768
	InitialWindowSize uint32 // default 2 MiB
	RekeyBytes        uint64 // default 1 GiB
	RekeyTimeSeconds  int    // default 3600
	AuthTimeoutSeconds int   // default 120
	IdleTimeoutSeconds int   // default 0 (disabled)
	MaxAuthRequests   int    // default 20

	Ciphers           []string
	MACs              []string
	KexAlgorithms     []string
	HostKeyAlgorithms []string
	Compressions      []string

	StrictKex bool // feature flag, spec.md section 9 "open questions"

	Logger *Logger
}

// SetDefaults fills every zero-valued field with spec.md section 6's
// documented default, the way the teacher's HostConfig left unset fields
// at Go's zero value and relied on call sites to special-case them -
// generalized here into one pass so call sites never have to.
func (c *Config) SetDefaults() {
	if c.MaxPacketSize == 0 {
		c.MaxPacketSize = 32768
	}
	if c.InitialWindowSize == 0 {
		c.InitialWindowSize = 2 * 1024 * 1024
	}
	if c.RekeyBytes == 0 {
		c.RekeyBytes = 1 << 30
	}
	if c.RekeyTimeSeconds == 0 {
		c.RekeyTimeSeconds = 3600
	}
	if c.AuthTimeoutSeconds == 0 {
		c.AuthTimeoutSeconds = 120
	}
	if c.MaxAuthRequests == 0 {
		c.MaxAuthRequests = 20
	}
	if c.Ciphers == nil {
		c.Ciphers = DefaultCiphers
	}
	if c.MACs == nil {
		c.MACs = DefaultMACs
	}
	if c.KexAlgorithms == nil {
		c.KexAlgorithms = DefaultKexAlgorithms
	}
	if c.HostKeyAlgorithms == nil {
		c.HostKeyAlgorithms = DefaultHostKeyAlgorithms
	}
	if c.Compressions == nil {
		c.Compressions = DefaultCompressions
	}
	if c.Logger == nil {
		c.Logger = discardLogger
	}
}

// ClientConfig configures the client side of a session.
type ClientConfig struct {
	Config
	User           string
	Auth           []AuthMethod
	HostKeyCallback ServerKeyVerifier
	ClientVersion  string // default "SSH-2.0-goshell_1.0"
}

// ServerConfig configures the server side of a session.
type ServerConfig struct {
	Config
	Authenticator  Authenticator
	HostKeys       []KeyProvider
	ServerVersion  string // default "SSH-2.0-goshell_1.0"
	ChannelHandlers map[string]ChannelHandlerFactory
	Banner         string
}

// HostConfig is one named stanza of the client-side host configuration
// file, the teacher's load_config.go format kept unchanged: an unindented
// line naming the stanza, followed by indented "key value" pairs (keys
// matched case-insensitively), blank-line terminated. Lines starting with
// '#' are skipped.
type HostConfig struct {
	Host                   string
	Hostname               string
	Port                   int
	User                   string
	KeybasedAuthentication bool
	IdentityFile           string
}

// LoadHostConfig parses a goshell.conf-style file into a map keyed by Host
// stanza name. A missing file yields an empty map, not an error, matching
// the teacher's loadConfig.
func LoadHostConfig(path string) (map[string]HostConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return map[string]HostConfig{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfgs := map[string]HostConfig{}
	var current HostConfig

	commit := func() {
		if strings.TrimSpace(current.Host) != "" {
			cfgs[current.Host] = current
		}
		current = HostConfig{}
	}

	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			commit()
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if raw[0] != ' ' && raw[0] != '\t' {
			// An unindented line names a new stanza.
			commit()
			current.Host = line
			continue
		}

		sp := strings.IndexFunc(line, func(r rune) bool { return r == ' ' || r == '\t' })
		var key, val string
		if sp == -1 {
			key, val = line, ""
		} else {
			key, val = strings.TrimSpace(line[:sp]), strings.TrimSpace(line[sp+1:])
		}

		switch strings.ToLower(key) {
		case "host":
			if strings.TrimSpace(current.Host) != "" {
				commit()
			}
			current.Host = val
		case "hostname":
			current.Hostname = val
		case "port":
			p, _ := strconv.Atoi(val)
			current.Port = p
		case "user":
			current.User = val
		case "keybasedauthentication":
			current.KeybasedAuthentication = parseYesNo(val)
		case "identityfile":
			current.IdentityFile = val
		}
	}
	commit()
	return cfgs, nil
}

func parseYesNo(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "1", "y":
		return true
	default:
		return false
	}
}
