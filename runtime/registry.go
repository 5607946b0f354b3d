package runtime

import (
	"log/slog"
	"net"
	"sync"
	"tcp-chat/contract"
	"tcp-chat/domain"
	"time"

	"github.com/samber/lo"
)

// Registry is the set of currently connected peers, keyed by connection.
// It is shared by every connection handler.
type Registry struct {
	mu           sync.RWMutex
	peers        map[net.Conn]domain.Peer
	writeTimeout time.Duration
	log          *slog.Logger
}

func NewRegistry(log *slog.Logger, writeTimeout time.Duration) *Registry {
	return &Registry{
		peers:        make(map[net.Conn]domain.Peer),
		writeTimeout: writeTimeout,
		log:          log,
	}
}

// Add registers a peer. It returns false if the connection is already known.
func (r *Registry) Add(peer domain.Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[peer.Conn]; ok {
		return false
	}
	r.peers[peer.Conn] = peer
	return true
}

// Remove unregisters a connection. Only the first call for a given
// connection returns true, so callers can run their cleanup exactly once.
func (r *Registry) Remove(conn net.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[conn]; !ok {
		return false
	}
	delete(r.peers, conn)
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Snapshot returns a copy of the registered peers.
func (r *Registry) Snapshot() []domain.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.peers)
}

// BroadcastExcept sends payload to every registered peer but the sender.
// Recipients are taken from a snapshot, so writes happen without holding the lock
// and a slow or broken peer never blocks registration of others.
// A failing recipient is logged and skipped; it is cleaned up by its own handler.
func (r *Registry) BroadcastExcept(sender net.Conn, payload []byte) contract.Delivery {
	recipients := lo.Filter(r.Snapshot(), func(p domain.Peer, _ int) bool {
		return p.Conn != sender
	})

	var delivery contract.Delivery
	for _, p := range recipients {
		if err := r.send(p.Conn, payload); err != nil {
			delivery.Failed++
			r.log.Debug("Unable to deliver message", "recipient", p.Addr, "error", err)
			continue
		}
		delivery.Delivered++
	}
	return delivery
}

func (r *Registry) send(conn net.Conn, payload []byte) error {
	if r.writeTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(r.writeTimeout)); err != nil {
			return err
		}
		defer func() { _ = conn.SetWriteDeadline(time.Time{}) }()
	}
	_, err := conn.Write(payload)
	return err
}
