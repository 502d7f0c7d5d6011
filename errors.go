package tftp

import "github.com/pkg/errors"

// Sentinel errors for the taxonomy in spec §7. Callers compare with
// errors.Is / errors.Cause rather than type-asserting concrete types.
var (
	// ErrInvalidPacket is returned by Parse for malformed wire bytes.
	ErrInvalidPacket = errors.New("tftp: invalid packet")

	// ErrBadMode is returned by Request.Encode for Mail mode, which is
	// never sent on the wire.
	ErrBadMode = errors.New("tftp: unsupported mode")

	// ErrFileNotFound is raised by a handler or response adapter and
	// translated by the listener into a wire Error(FileNotFound, ...).
	ErrFileNotFound = errors.New("tftp: file not found")

	// ErrAccessViolation marks a refused request. The listener does not
	// return it: a method with no registered handler is answered with a
	// wire Error(AccessViolation) directly.
	ErrAccessViolation = errors.New("tftp: access violation")

	// ErrBusyWriter is returned by Outbound.Write when a previous Write
	// on the same engine has not yet resolved. Never sent on the wire.
	ErrBusyWriter = errors.New("tftp: write already in progress")

	// ErrIllegalState flags local programming errors, such as writing
	// to a StreamResponse after WriteEOF. Never sent on the wire.
	ErrIllegalState = errors.New("tftp: illegal state")

	// ErrTransportClosed means the underlying UDP socket was closed
	// out from under an engine.
	ErrTransportClosed = errors.New("tftp: transport closed")
)

// RemotePeerError wraps a TFTP ERROR packet received from the peer
// mid-transfer. It surfaces as the byte stream's terminal error on the
// receive side and as Outbound.Write's returned error on the send side.
type RemotePeerError struct {
	Code    ErrorCode
	Message string
}

func (e *RemotePeerError) Error() string {
	return "tftp: peer error " + e.Code.String() + ": " + e.Message
}
