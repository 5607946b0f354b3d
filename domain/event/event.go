package event

import (
	"time"

	"github.com/google/uuid"
)

type DomainEvent interface {
	OccurredAt() time.Time
}

// PeerJoined is emitted once a connection has been registered.
type PeerJoined struct {
	PeerID uuid.UUID
	Addr   string
	At     time.Time
}

func (p PeerJoined) OccurredAt() time.Time { return p.At }

// PeerLeft is emitted after a connection has been removed and closed.
type PeerLeft struct {
	PeerID uuid.UUID
	Addr   string
	Reason string
	At     time.Time
}

func (p PeerLeft) OccurredAt() time.Time { return p.At }

// MessageBroadcast is emitted after a chunk has been fanned out to the other peers.
type MessageBroadcast struct {
	ID        uuid.UUID
	Sender    string
	Content   []byte
	Delivered int
	Failed    int
	At        time.Time
}

func (m MessageBroadcast) OccurredAt() time.Time { return m.At }
