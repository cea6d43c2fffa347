package link

import "errors"

// ErrWriteRejected is what drivers return when the peer did not take a frame.
var ErrWriteRejected = errors.New("link: write rejected")

// Transport is the half-duplex radio the handler talks through.
type Transport interface {
	// Send transmits one frame and reports whether the peer accepted it.
	Send(frame []byte) error
	// Receive returns the next inbound frame.
	Receive() ([]byte, error)
	// Available reports whether a frame is waiting.
	Available() bool
	StartListening()
	StopListening()
}
