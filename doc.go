// Package ssh implements the transport, key-exchange, authentication, and
// channel-multiplexing core of the SSH protocol, version 2, as defined by
// RFC 4250 through RFC 4254, RFC 4256, RFC 4419, RFC 5656, and RFC 8308.
//
// RFC 4253 Binary Packet Protocol
//
//	uint32    packet_length
//	byte      padding_length
//	byte[n1]  payload; n1 = packet_length - padding_length - 1
//	byte[n2]  random padding; n2 = padding_length
//	byte[m]   mac; m = mac_length
//
// packet_length is the length of the packet not including 'mac' or the
// length field itself. padding_length is the length of the random padding,
// which must be at least four bytes so that the total length of
// (packet_length field + padding_length field + payload + padding) is a
// multiple of the cipher block size (or 8, whichever is larger).
//
// This package does not implement SFTP, shell/exec/PAM command execution,
// GSS-API or smart-card authentication, or a TLS/HTTP fallback transport.
// Those are attached through the ChannelHandler, Authenticator, KeyProvider
// and ServerKeyVerifier interfaces defined here.
package ssh
