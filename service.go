package ssh

// requestService drives the client side of RFC 4253 section 10: send
// SERVICE_REQUEST, block for SERVICE_ACCEPT. A mismatched or absent accept
// is fatal to the connection, since this core offers exactly the two
// services userauth and connection need, never a third-party extension.
func requestService(t *transport, name string) error {
	if err := t.sendPacket(marshalServiceRequest(name)); err != nil {
		return err
	}
	payload, err := t.readPacket()
	if err != nil {
		return err
	}
	if len(payload) == 0 || payload[0] != msgServiceAccept {
		return &UnexpectedMessageError{Expected: msgServiceAccept, Got: safeFirstByte(payload)}
	}
	got, err := parseServiceName(payload)
	if err != nil {
		return err
	}
	if got != name {
		return newProtocolError(KindProtocol, DisconnectProtocolError, "service accept for unrequested service "+got)
	}
	return nil
}

// awaitServiceRequest drives the server side: block for SERVICE_REQUEST,
// accept it if it names one of allowed, otherwise DISCONNECT with
// SERVICE_NOT_AVAILABLE per spec.md section 4.E.
func awaitServiceRequest(t *transport, allowed ...string) (string, error) {
	payload, err := t.readPacket()
	if err != nil {
		return "", err
	}
	if len(payload) == 0 || payload[0] != msgServiceRequest {
		return "", &UnexpectedMessageError{Expected: msgServiceRequest, Got: safeFirstByte(payload)}
	}
	name, err := parseServiceName(payload)
	if err != nil {
		return "", err
	}
	for _, a := range allowed {
		if a == name {
			if err := t.sendPacket(marshalServiceAccept(name)); err != nil {
				return "", err
			}
			return name, nil
		}
	}
	_ = t.disconnect(DisconnectServiceNotAvailable, "service not available: "+name)
	return "", newProtocolError(KindProtocol, DisconnectServiceNotAvailable, "service not available: "+name)
}
