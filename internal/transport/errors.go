package transport

import "errors"

// Sentinel errors for transport-layer failures (spec.md §4.A.6, §7).
// The transport layer never retries silently; retries are a policy of
// higher layers (the measurement dispatcher).
var (
	// ErrFrameSyncLost is returned when no sync word is found within the
	// detector's scan window before the deadline.
	ErrFrameSyncLost = errors.New("transport: frame sync lost")

	// ErrFrameCrcError is returned when a decoded frame's checksum does not
	// match the checksum computed over its CRC'd span (FrameSpec.CRCFrom
	// through the end of the body).
	ErrFrameCrcError = errors.New("transport: frame CRC mismatch")

	// ErrFrameTruncated is returned when the stream closes or a read
	// returns fewer bytes than the frame's declared length.
	ErrFrameTruncated = errors.New("transport: frame truncated")

	// ErrTransportTimeout is returned when a read does not complete before
	// the caller-provided deadline.
	ErrTransportTimeout = errors.New("transport: operation timed out")

	// ErrTransportClosed is returned when an operation is attempted on a
	// transport that has been closed.
	ErrTransportClosed = errors.New("transport: connection closed")

	// ErrConnectFailed is returned when a transport-specific handshake
	// (e.g. the VCU UDP "connect" exchange) does not complete.
	ErrConnectFailed = errors.New("transport: connect handshake failed")

	// ErrNotOpen is returned when Send/Recv is called before Open.
	ErrNotOpen = errors.New("transport: not open")
)

// RetrySafe reports whether err is one of the transient transport failures
// the dispatcher is permitted to retry once (spec.md §4.D step 5, §7).
func RetrySafe(err error) bool {
	switch {
	case errors.Is(err, ErrFrameCrcError):
		return true
	case errors.Is(err, ErrTransportTimeout):
		return true
	case errors.Is(err, ErrConnectFailed):
		return true
	default:
		return false
	}
}
