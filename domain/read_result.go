package domain

import (
	"errors"
	"io"
)

// ReadResult is the outcome of a single read on a connection.
// It is one of DataReceived, PeerClosed or IOError.
type ReadResult interface {
	isReadResult()
}

// DataReceived holds a copy of the bytes read, so the buffer can be reused.
type DataReceived struct {
	Payload []byte
}

// PeerClosed means the remote side closed the connection in an orderly way.
type PeerClosed struct{}

// IOError wraps any other read failure (reset, deadline, local close).
type IOError struct {
	Err error
}

func (DataReceived) isReadResult() {}
func (PeerClosed) isReadResult()   {}
func (IOError) isReadResult()      {}

// ReadChunk performs one read of at most len(buf) bytes.
// Data returned together with an error is reported first; the error
// will show up again on the next read.
func ReadChunk(r io.Reader, buf []byte) ReadResult {
	n, err := r.Read(buf)
	if n > 0 {
		payload := make([]byte, n)
		copy(payload, buf[:n])
		return DataReceived{Payload: payload}
	}
	switch {
	case err == nil:
		// io.Reader allows (0, nil); treat it as nothing to do rather than a close.
		return DataReceived{Payload: nil}
	case errors.Is(err, io.EOF):
		return PeerClosed{}
	default:
		return IOError{Err: err}
	}
}
