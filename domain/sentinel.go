package domain

import "bytes"

const (
	// DisconnectWord sent by a client asks the server to drop it.
	DisconnectWord = "bye"
	// ExitWord typed by a user stops the client after it has been sent.
	ExitWord = "exit"
)

// IsDisconnect reports whether a received chunk is exactly the disconnect word, ignoring case.
func IsDisconnect(payload []byte) bool {
	return bytes.EqualFold(payload, []byte(DisconnectWord))
}

// IsExit reports whether a typed line is exactly the exit word, ignoring case.
func IsExit(line string) bool {
	return bytes.EqualFold([]byte(line), []byte(ExitWord))
}
