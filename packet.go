package tftp

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// maxPayload is the fixed DATA block size. RFC 2348 blksize negotiation
// is parsed (as an ignored option) but never honored; see spec §1.
const maxPayload = 512

// Packet is implemented by Request, Data, Ack and Error. Encode never
// returns a partial result: on error the returned slice is nil.
type Packet interface {
	Encode() ([]byte, error)
}

// Request is a RRQ or WRQ packet.
type Request struct {
	Op       Opcode // RRQ or WRQ
	Filename string
	Mode     Mode
	Options  map[string]string
}

// Data is a DATA packet. A Payload shorter than 512 bytes denotes the
// last block of a transfer, including the empty final block.
type Data struct {
	Block   uint16
	Payload []byte
}

// Ack is an ACK packet.
type Ack struct {
	Block uint16
}

// Error is an ERROR packet.
type Error struct {
	Code    ErrorCode
	Message string
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return false
		}
	}
	return true
}

// Encode serializes r. Mode Mail must never be sent on the wire (spec
// §4.1); the listener rejects Mail requests before a Response is ever
// created, so reaching this check means a caller built one by hand.
func (r *Request) Encode() ([]byte, error) {
	if r.Mode == Mail {
		return nil, errors.Wrap(ErrBadMode, "mail mode is not sent")
	}
	if !isASCII(r.Filename) {
		return nil, errors.Wrap(ErrInvalidPacket, "filename is not ASCII")
	}
	var buf bytes.Buffer
	var opHdr [2]byte
	putOpcode(opHdr[:], r.Op)
	buf.Write(opHdr[:])
	buf.WriteString(r.Filename)
	buf.WriteByte(0)
	buf.WriteString(r.Mode.String())
	buf.WriteByte(0)
	for name, value := range r.Options {
		buf.WriteString(name)
		buf.WriteByte(0)
		buf.WriteString(value)
		buf.WriteByte(0)
	}
	return buf.Bytes(), nil
}

func (d *Data) Encode() ([]byte, error) {
	if len(d.Payload) > maxPayload {
		return nil, errors.Wrapf(ErrInvalidPacket, "payload of %d bytes exceeds %d", len(d.Payload), maxPayload)
	}
	buf := make([]byte, 4+len(d.Payload))
	putOpcode(buf, DATA)
	binary.BigEndian.PutUint16(buf[2:4], d.Block)
	copy(buf[4:], d.Payload)
	return buf, nil
}

func (a *Ack) Encode() ([]byte, error) {
	buf := make([]byte, 4)
	putOpcode(buf, ACK)
	binary.BigEndian.PutUint16(buf[2:4], a.Block)
	return buf, nil
}

func (e *Error) Encode() ([]byte, error) {
	if !isASCII(e.Message) {
		return nil, errors.Wrap(ErrInvalidPacket, "message is not ASCII")
	}
	buf := make([]byte, 0, 4+len(e.Message)+1)
	var hdr [4]byte
	putOpcode(hdr[:2], ERROR)
	binary.BigEndian.PutUint16(hdr[2:4], uint16(e.Code))
	buf = append(buf, hdr[:]...)
	buf = append(buf, e.Message...)
	buf = append(buf, 0)
	return buf, nil
}

// Parse decodes the first well-formed packet from b. The returned
// Packet is one of *Request, *Data, *Ack or *Error.
func Parse(b []byte) (Packet, error) {
	op, ok := readOpcode(b)
	if !ok {
		return nil, errors.Wrap(ErrInvalidPacket, "short packet")
	}

	switch op {
	case RRQ, WRQ:
		return parseRequest(op, b[2:])
	case DATA:
		return parseData(b[2:])
	case ACK:
		return parseAck(b[2:])
	case ERROR:
		return parseError(b[2:])
	default:
		return nil, errors.Wrapf(ErrInvalidPacket, "unknown opcode %d", uint16(op))
	}
}

func parseRequest(op Opcode, rest []byte) (*Request, error) {
	parts := bytes.Split(rest, []byte{0})
	if n := len(parts); n > 0 && len(parts[n-1]) == 0 {
		parts = parts[:n-1]
	}
	if len(parts) < 2 {
		return nil, errors.Wrap(ErrInvalidPacket, "request missing filename or mode")
	}

	filename := string(parts[0])
	if !isASCII(filename) {
		return nil, errors.Wrap(ErrInvalidPacket, "filename is not ASCII")
	}

	mode, ok := parseMode(string(parts[1]))
	if !ok {
		return nil, errors.Wrapf(ErrInvalidPacket, "unknown mode %q", parts[1])
	}

	var options map[string]string
	extra := parts[2:]
	for i := 0; i+1 < len(extra); i += 2 {
		if options == nil {
			options = make(map[string]string)
		}
		name, value := string(extra[i]), string(extra[i+1])
		if !isASCII(name) || !isASCII(value) {
			return nil, errors.Wrap(ErrInvalidPacket, "option is not ASCII")
		}
		options[name] = value
	}

	return &Request{Op: op, Filename: filename, Mode: mode, Options: options}, nil
}

func parseData(rest []byte) (*Data, error) {
	if len(rest) < 2 {
		return nil, errors.Wrap(ErrInvalidPacket, "data missing block number")
	}
	payload := rest[2:]
	if len(payload) > maxPayload {
		return nil, errors.Wrapf(ErrInvalidPacket, "payload of %d bytes exceeds %d", len(payload), maxPayload)
	}
	return &Data{Block: binary.BigEndian.Uint16(rest[:2]), Payload: payload}, nil
}

func parseAck(rest []byte) (*Ack, error) {
	if len(rest) < 2 {
		return nil, errors.Wrap(ErrInvalidPacket, "ack missing block number")
	}
	return &Ack{Block: binary.BigEndian.Uint16(rest[:2])}, nil
}

func parseError(rest []byte) (*Error, error) {
	if len(rest) < 2 {
		return nil, errors.Wrap(ErrInvalidPacket, "error missing code")
	}
	code := ErrorCode(binary.BigEndian.Uint16(rest[:2]))
	if !validErrorCode(code) {
		return nil, errors.Wrapf(ErrInvalidPacket, "unknown error code %d", uint16(code))
	}
	msg := rest[2:]
	if i := bytes.IndexByte(msg, 0); i != -1 {
		msg = msg[:i]
	}
	if !isASCII(string(msg)) {
		return nil, errors.Wrap(ErrInvalidPacket, "message is not ASCII")
	}
	return &Error{Code: code, Message: string(msg)}, nil
}
