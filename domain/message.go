package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is one chunk read from a peer. It is never reassembled
// across reads nor split on newlines.
type Message struct {
	ID      uuid.UUID
	Sender  string
	Content []byte
	At      time.Time
}

func NewMessage(sender string, content []byte, at time.Time) Message {
	return Message{
		ID:      uuid.New(),
		Sender:  sender,
		Content: content,
		At:      at,
	}
}

// Broadcast renders the payload delivered to the other peers: "[<addr>] <chunk>".
func (m Message) Broadcast() []byte {
	return []byte(fmt.Sprintf("[%s] %s", m.Sender, m.Content))
}
