package tftp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	req := &Request{Op: RRQ, Filename: "boot.bin", Mode: Octet}
	b, err := req.Encode()
	require.NoError(t, err)

	pkt, err := Parse(b)
	require.NoError(t, err)

	got, ok := pkt.(*Request)
	require.True(t, ok)
	assert.Equal(t, RRQ, got.Op)
	assert.Equal(t, "boot.bin", got.Filename)
	assert.Equal(t, Octet, got.Mode)
}

func TestRequestWithOptionsRoundTrip(t *testing.T) {
	req := &Request{
		Op:       WRQ,
		Filename: "image.bin",
		Mode:     Octet,
		Options:  map[string]string{"blksize": "1468"},
	}
	b, err := req.Encode()
	require.NoError(t, err)

	pkt, err := Parse(b)
	require.NoError(t, err)
	got := pkt.(*Request)
	assert.Equal(t, "1468", got.Options["blksize"])
}

func TestRequestRejectsMailMode(t *testing.T) {
	req := &Request{Op: RRQ, Filename: "x", Mode: Mail}
	_, err := req.Encode()
	assert.ErrorIs(t, err, ErrBadMode)
}

func TestRequestRejectsNonASCIIFilename(t *testing.T) {
	req := &Request{Op: RRQ, Filename: "bootü.bin", Mode: Octet}
	_, err := req.Encode()
	assert.ErrorIs(t, err, ErrInvalidPacket)
}

func TestDataRoundTrip(t *testing.T) {
	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}
	d := &Data{Block: 42, Payload: payload}
	b, err := d.Encode()
	require.NoError(t, err)

	pkt, err := Parse(b)
	require.NoError(t, err)
	got := pkt.(*Data)
	assert.Equal(t, uint16(42), got.Block)
	assert.Equal(t, payload, got.Payload)
}

func TestDataRejectsOversizePayload(t *testing.T) {
	d := &Data{Block: 1, Payload: make([]byte, 513)}
	_, err := d.Encode()
	assert.ErrorIs(t, err, ErrInvalidPacket)
}

func TestDataBlockWraparound(t *testing.T) {
	d := &Data{Block: 65535, Payload: nil}
	b, err := d.Encode()
	require.NoError(t, err)
	pkt, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, uint16(65535), pkt.(*Data).Block)

	// The natural wraparound of a Go uint16: 65535 + 1 == 0.
	next := d.Block + 1
	assert.Equal(t, uint16(0), next)
}

func TestAckRoundTrip(t *testing.T) {
	a := &Ack{Block: 7}
	b, err := a.Encode()
	require.NoError(t, err)
	pkt, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), pkt.(*Ack).Block)
}

func TestErrorRoundTrip(t *testing.T) {
	e := &Error{Code: FileNotFound, Message: "no such file"}
	b, err := e.Encode()
	require.NoError(t, err)
	pkt, err := Parse(b)
	require.NoError(t, err)
	got := pkt.(*Error)
	assert.Equal(t, FileNotFound, got.Code)
	assert.Equal(t, "no such file", got.Message)
}

func TestErrorRejectsUnknownCode(t *testing.T) {
	b := []byte{0, 5, 0, 99, 'x', 0}
	_, err := Parse(b)
	assert.ErrorIs(t, err, ErrInvalidPacket)
}

func TestParseRejectsShortPacket(t *testing.T) {
	_, err := Parse([]byte{0})
	assert.ErrorIs(t, err, ErrInvalidPacket)
}

func TestParseRejectsUnknownOpcode(t *testing.T) {
	_, err := Parse([]byte{0, 99})
	assert.ErrorIs(t, err, ErrInvalidPacket)
}

func TestParseRejectsUnknownMode(t *testing.T) {
	b := append([]byte{0, 1}, []byte("a.bin\x00bogus\x00")...)
	_, err := Parse(b)
	assert.ErrorIs(t, err, ErrInvalidPacket)
}

func TestOpcodeString(t *testing.T) {
	assert.Equal(t, "RRQ", RRQ.String())
	assert.True(t, strings.HasPrefix(Opcode(99).String(), "Opcode("))
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "octet", Octet.String())
}

func TestErrorCodeString(t *testing.T) {
	assert.Equal(t, "FileNotFound", FileNotFound.String())
}
