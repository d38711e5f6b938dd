package eiscp

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Wire format constants.
//
// Every frame is a fixed 16-byte header followed by an ASCII payload:
//
//	Offset  Size  Field
//	0       4     magic "ISCP"
//	4       4     header length, big-endian, always 16
//	8       4     payload length, big-endian
//	12      1     version, always 0x01
//	13      3     reserved, zero
//	16      N     payload: "!" + unit type + message + CR LF
const (
	frameMagic      = "ISCP"
	headerSize      = 16
	protocolVersion = 0x01

	// DefaultPort is the TCP/UDP port receivers listen on.
	DefaultPort = 60128

	// maxPayloadSize bounds inbound payloads. Real messages are tens of
	// bytes; anything larger indicates stream desync.
	maxPayloadSize = 64 * 1024
)

// Unit type markers. The character after "!" identifies the device
// family a message is addressed to.
const (
	// UnitReceiver is the marker for Onkyo and Integra receivers, and
	// the default prepended to unmarked outbound messages.
	UnitReceiver = '1'

	// UnitPioneer is the marker used by post-merger Pioneer receivers.
	UnitPioneer = 'p'
)

// CommandLen is the length of an ISCP command code.
const CommandLen = 3

// discoveryCode is the command code carried by discovery queries and
// responses.
const discoveryCode = "ECN"

// EncodeMessage frames an ASCII message for transmission.
//
// If msg does not already begin with the "!" message-start marker, the
// default receiver marker "!1" is prepended. A CR LF terminator is
// appended and the fixed 16-byte header emitted in front.
//
// Encoding is deterministic and has no failure path for ASCII input.
func EncodeMessage(msg string) []byte {
	if !strings.HasPrefix(msg, "!") {
		msg = "!" + string(UnitReceiver) + msg
	}

	payloadLen := len(msg) + 2 // CR LF
	buf := make([]byte, headerSize+payloadLen)

	copy(buf[0:4], frameMagic)
	binary.BigEndian.PutUint32(buf[4:8], headerSize)
	binary.BigEndian.PutUint32(buf[8:12], uint32(payloadLen))
	buf[12] = protocolVersion
	// Bytes 13-15 stay zero (reserved).

	copy(buf[headerSize:], msg)
	buf[headerSize+len(msg)] = '\r'
	buf[headerSize+len(msg)+1] = '\n'

	return buf
}

// DecodeMessage recovers the ASCII message from a complete frame.
//
// The header-length and payload-length fields are read and the payload
// sliced from them, rather than assuming fixed offsets. The leading
// "!" + unit type marker and any trailing EOF/CR/LF/NUL terminator
// bytes are stripped, so the result starts with the 3-character
// command code.
//
// The caller must supply a complete frame (header plus full payload);
// incremental reassembly is the transport's responsibility.
func DecodeMessage(frame []byte) (string, error) {
	if len(frame) < headerSize {
		return "", fmt.Errorf("%w: %d bytes, need at least %d", ErrInvalidFrame, len(frame), headerSize)
	}
	if string(frame[0:4]) != frameMagic {
		return "", fmt.Errorf("%w: bad magic %q", ErrInvalidFrame, frame[0:4])
	}

	headerLen := binary.BigEndian.Uint32(frame[4:8])
	payloadLen := binary.BigEndian.Uint32(frame[8:12])
	if headerLen < headerSize {
		return "", fmt.Errorf("%w: header length %d", ErrInvalidFrame, headerLen)
	}
	if payloadLen > maxPayloadSize {
		return "", fmt.Errorf("%w: payload length %d exceeds maximum %d", ErrInvalidFrame, payloadLen, maxPayloadSize)
	}
	if uint64(headerLen)+uint64(payloadLen) > uint64(len(frame)) {
		return "", fmt.Errorf("%w: truncated payload (%d of %d bytes)",
			ErrInvalidFrame, len(frame)-int(headerLen), payloadLen)
	}

	payload := string(frame[headerLen : headerLen+payloadLen])

	// Receivers terminate with EOF and/or CR LF; discovery responses pad
	// with NULs. Strip all of it.
	msg := strings.TrimRight(payload, "\x1a\r\n\x00")
	if strings.HasPrefix(msg, "!") && len(msg) >= 2 {
		msg = msg[2:] // "!" + unit type
	}

	return msg, nil
}

// SplitCommand splits a decoded message into its 3-character command
// code and argument. Messages shorter than a command code are returned
// whole as the code with an empty argument.
func SplitCommand(msg string) (code, argument string) {
	if len(msg) < CommandLen {
		return msg, ""
	}
	return msg[:CommandLen], msg[CommandLen:]
}

// Device describes a receiver found during discovery. Instances are
// created per response and never persisted by this package.
type Device struct {
	// Host is the receiver's IP address, filled in from the response's
	// source address.
	Host string

	// Port is the eISCP port the receiver listens on.
	Port int

	// Model is the receiver's model identifier (e.g. "TX-NR609").
	Model string

	// Area is the two-character destination area code (e.g. "DX").
	Area string

	// MAC is the receiver's MAC-like identifier, trimmed of padding.
	MAC string

	// Raw is the decoded response message the fields were parsed from.
	Raw string
}

// ParseDiscoveryResponse parses a decoded discovery response into a
// Device. Only messages with the "ECN" code qualify; the argument must
// split on "/" into exactly model, port, area code and MAC. The MAC
// field is trimmed of trailing NUL padding and truncated to its first
// 12 characters.
//
// The returned Device has no Host; the caller fills it in from the UDP
// source address.
func ParseDiscoveryResponse(msg string) (Device, error) {
	code, argument := SplitCommand(msg)
	if code != discoveryCode {
		return Device{}, fmt.Errorf("%w: code %q, want %q", ErrInvalidResponse, code, discoveryCode)
	}

	fields := strings.Split(argument, "/")
	if len(fields) != 4 {
		return Device{}, fmt.Errorf("%w: %d fields, want 4", ErrInvalidResponse, len(fields))
	}

	port, err := strconv.Atoi(fields[1])
	if err != nil {
		return Device{}, fmt.Errorf("%w: port %q: %w", ErrInvalidResponse, fields[1], err)
	}

	mac := strings.TrimRight(fields[3], "\x00")
	if len(mac) > 12 {
		mac = mac[:12]
	}

	return Device{
		Port:  port,
		Model: fields[0],
		Area:  fields[2],
		MAC:   mac,
		Raw:   msg,
	}, nil
}
