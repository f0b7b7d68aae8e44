package ssh

// Channel request catalog, RFC 4254 section 6. Each type here is the
// method-specific payload of a channelRequestMsg; callers read
// req.Type/req.Payload off the Request and parse with the matching
// function below.

type ptyRequestMsg struct {
	Term                             string
	Columns, Rows, Width, Height     uint32
	Modes                            []byte
}

func parsePtyRequest(payload []byte) (*ptyRequestMsg, error) {
	r := &wireReader{b: payload}
	term, ok1 := r.str()
	cols, ok2 := r.uint32()
	rows, ok3 := r.uint32()
	w, ok4 := r.uint32()
	h, ok5 := r.uint32()
	modes, ok6 := r.string()
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 {
		return nil, &ParseError{MsgType: msgChannelRequest}
	}
	return &ptyRequestMsg{Term: term, Columns: cols, Rows: rows, Width: w, Height: h, Modes: modes}, nil
}

func (m *ptyRequestMsg) marshal() []byte {
	buf := putStr(nil, m.Term)
	buf = putUint32(buf, m.Columns)
	buf = putUint32(buf, m.Rows)
	buf = putUint32(buf, m.Width)
	buf = putUint32(buf, m.Height)
	buf = putString(buf, m.Modes)
	return buf
}

type windowChangeMsg struct {
	Columns, Rows, Width, Height uint32
}

func parseWindowChange(payload []byte) (*windowChangeMsg, error) {
	r := &wireReader{b: payload}
	cols, ok1 := r.uint32()
	rows, ok2 := r.uint32()
	w, ok3 := r.uint32()
	h, ok4 := r.uint32()
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, &ParseError{MsgType: msgChannelRequest}
	}
	return &windowChangeMsg{Columns: cols, Rows: rows, Width: w, Height: h}, nil
}

func (m *windowChangeMsg) marshal() []byte {
	buf := putUint32(nil, m.Columns)
	buf = putUint32(buf, m.Rows)
	buf = putUint32(buf, m.Width)
	buf = putUint32(buf, m.Height)
	return buf
}

// execRequestMsg is "exec"'s payload; "shell" carries no payload at all.
type execRequestMsg struct{ Command string }

func parseExecRequest(payload []byte) (*execRequestMsg, error) {
	r := &wireReader{b: payload}
	cmd, ok := r.str()
	if !ok {
		return nil, &ParseError{MsgType: msgChannelRequest}
	}
	return &execRequestMsg{Command: cmd}, nil
}

func (m *execRequestMsg) marshal() []byte { return putStr(nil, m.Command) }

type subsystemRequestMsg struct{ Name string }

func parseSubsystemRequest(payload []byte) (*subsystemRequestMsg, error) {
	r := &wireReader{b: payload}
	name, ok := r.str()
	if !ok {
		return nil, &ParseError{MsgType: msgChannelRequest}
	}
	return &subsystemRequestMsg{Name: name}, nil
}

func (m *subsystemRequestMsg) marshal() []byte { return putStr(nil, m.Name) }

type envRequestMsg struct{ Name, Value string }

func parseEnvRequest(payload []byte) (*envRequestMsg, error) {
	r := &wireReader{b: payload}
	name, ok1 := r.str()
	val, ok2 := r.str()
	if !ok1 || !ok2 {
		return nil, &ParseError{MsgType: msgChannelRequest}
	}
	return &envRequestMsg{Name: name, Value: val}, nil
}

func (m *envRequestMsg) marshal() []byte {
	buf := putStr(nil, m.Name)
	return putStr(buf, m.Value)
}

// signalRequestMsg delivers "signal", RFC 4254 section 6.9, using the
// POSIX signal name without the SIG prefix (e.g. "INT", "TERM").
type signalRequestMsg struct{ Name string }

func parseSignalRequest(payload []byte) (*signalRequestMsg, error) {
	r := &wireReader{b: payload}
	name, ok := r.str()
	if !ok {
		return nil, &ParseError{MsgType: msgChannelRequest}
	}
	return &signalRequestMsg{Name: name}, nil
}

func (m *signalRequestMsg) marshal() []byte { return putStr(nil, m.Name) }

// exitStatusMsg is sent by the server, never wants a reply.
type exitStatusMsg struct{ Code uint32 }

func (m *exitStatusMsg) marshal() []byte { return putUint32(nil, m.Code) }

func parseExitStatus(payload []byte) (*exitStatusMsg, error) {
	r := &wireReader{b: payload}
	code, ok := r.uint32()
	if !ok {
		return nil, &ParseError{MsgType: msgChannelRequest}
	}
	return &exitStatusMsg{Code: code}, nil
}

type exitSignalMsg struct {
	Name       string
	CoreDumped bool
	Message    string
	Lang       string
}

func (m *exitSignalMsg) marshal() []byte {
	buf := putStr(nil, m.Name)
	buf = putBool(buf, m.CoreDumped)
	buf = putStr(buf, m.Message)
	buf = putStr(buf, m.Lang)
	return buf
}

func parseExitSignal(payload []byte) (*exitSignalMsg, error) {
	r := &wireReader{b: payload}
	name, ok1 := r.str()
	dumped, ok2 := r.bool()
	msg, ok3 := r.str()
	lang, ok4 := r.str()
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, &ParseError{MsgType: msgChannelRequest}
	}
	return &exitSignalMsg{Name: name, CoreDumped: dumped, Message: msg, Lang: lang}, nil
}

// --- standard channel open type-specific data, RFC 4254 sections 7 and 6.3.2 ---

// directTCPIPOpen is direct-tcpip's type-specific CHANNEL_OPEN data: the
// client asks the server to connect onward to HostToConnect:PortToConnect
// on its behalf.
type directTCPIPOpen struct {
	HostToConnect  string
	PortToConnect  uint32
	OriginAddress  string
	OriginPort     uint32
}

func parseDirectTCPIPOpen(data []byte) (*directTCPIPOpen, error) {
	r := &wireReader{b: data}
	host, ok1 := r.str()
	port, ok2 := r.uint32()
	origin, ok3 := r.str()
	originPort, ok4 := r.uint32()
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, &ParseError{MsgType: msgChannelOpen}
	}
	return &directTCPIPOpen{HostToConnect: host, PortToConnect: port, OriginAddress: origin, OriginPort: originPort}, nil
}

func (m *directTCPIPOpen) marshal() []byte {
	buf := putStr(nil, m.HostToConnect)
	buf = putUint32(buf, m.PortToConnect)
	buf = putStr(buf, m.OriginAddress)
	buf = putUint32(buf, m.OriginPort)
	return buf
}

// forwardedTCPIPOpen is forwarded-tcpip's type-specific data: the server
// is notifying the client of an inbound connection on a port the client
// earlier asked to have forwarded (tcpip-forward global request, out of
// scope here beyond this wire shape).
type forwardedTCPIPOpen struct {
	ConnectedAddress string
	ConnectedPort    uint32
	OriginAddress    string
	OriginPort       uint32
}

func parseForwardedTCPIPOpen(data []byte) (*forwardedTCPIPOpen, error) {
	r := &wireReader{b: data}
	addr, ok1 := r.str()
	port, ok2 := r.uint32()
	origin, ok3 := r.str()
	originPort, ok4 := r.uint32()
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, &ParseError{MsgType: msgChannelOpen}
	}
	return &forwardedTCPIPOpen{ConnectedAddress: addr, ConnectedPort: port, OriginAddress: origin, OriginPort: originPort}, nil
}

// x11Open is x11's type-specific data, RFC 4254 section 6.3.2.
type x11Open struct {
	OriginAddress string
	OriginPort    uint32
}

func parseX11Open(data []byte) (*x11Open, error) {
	r := &wireReader{b: data}
	addr, ok1 := r.str()
	port, ok2 := r.uint32()
	if !ok1 || !ok2 {
		return nil, &ParseError{MsgType: msgChannelOpen}
	}
	return &x11Open{OriginAddress: addr, OriginPort: port}, nil
}

// Standard channel type names, RFC 4254.
const (
	ChannelTypeSession        = "session"
	ChannelTypeDirectTCPIP    = "direct-tcpip"
	ChannelTypeForwardedTCPIP = "forwarded-tcpip"
	ChannelTypeX11            = "x11"
)

// MarshalPtyRequest builds a "pty-req" payload for an interactive terminal
// of the given type and size, RFC 4254 section 6.2. Modes is left empty:
// this core does not negotiate POSIX terminal modes.
func MarshalPtyRequest(term string, cols, rows int) []byte {
	if term == "" {
		term = "xterm"
	}
	m := &ptyRequestMsg{Term: term, Columns: uint32(cols), Rows: uint32(rows)}
	return m.marshal()
}

// MarshalWindowChange builds a "window-change" payload, RFC 4254 section 6.7.
func MarshalWindowChange(cols, rows int) []byte {
	m := &windowChangeMsg{Columns: uint32(cols), Rows: uint32(rows)}
	return m.marshal()
}

// MarshalExecRequest builds an "exec" payload, RFC 4254 section 6.5.
func MarshalExecRequest(command string) []byte {
	return (&execRequestMsg{Command: command}).marshal()
}

// ParseExecRequestPayload extracts the command string from an "exec"
// CHANNEL_REQUEST payload.
func ParseExecRequestPayload(payload []byte) (string, error) {
	m, err := parseExecRequest(payload)
	if err != nil {
		return "", err
	}
	return m.Command, nil
}
