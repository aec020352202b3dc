package peerprotocol

import "fmt"

// NeedMoreBytes is returned by the decoders when the buffer holds an incomplete
// handshake or frame. It is not a failure; the caller must read more and retry.
type NeedMoreBytes struct {
	// Missing is the minimum number of additional bytes required.
	Missing int
}

func (e *NeedMoreBytes) Error() string {
	return fmt.Sprintf("need %d more bytes", e.Missing)
}

// ProtocolError is returned for malformed handshakes and frames.
// The connection that produced it must be closed.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Message
}

func protocolErrorf(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Message: fmt.Sprintf(format, args...)}
}
