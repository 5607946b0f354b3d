// Package domain contains core concepts of the chat system.
// This file defines Peer entities kept by the server registry.
// No runtime, network loop, or UI logic should be added here.
package domain

import (
	"net"
	"time"

	"github.com/google/uuid"
)

// Peer is a connected client as seen by the server.
// Its identity in the registry is the connection itself.
type Peer struct {
	ID       uuid.UUID
	Conn     net.Conn
	Addr     string
	JoinedAt time.Time
}

func NewPeer(conn net.Conn) Peer {
	return Peer{
		ID:       uuid.New(),
		Conn:     conn,
		Addr:     conn.RemoteAddr().String(),
		JoinedAt: time.Now().UTC(),
	}
}
