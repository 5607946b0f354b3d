// Package server accepts chat peers and rebroadcasts every chunk they send
// to all the other connected peers.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"tcp-chat/contract"
	"tcp-chat/domain"
	"tcp-chat/domain/event"
	chaterr "tcp-chat/errors"
	"tcp-chat/observability"
	"tcp-chat/runtime"
)

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

type Server struct {
	log          *slog.Logger
	registry     contract.IRegistry
	stats        *observability.Stats
	filter       contract.ContentFilter
	events       chan<- event.DomainEvent
	bufferSize   int
	idleTimeout  time.Duration
	writeTimeout time.Duration
	onServing    func()

	wg       sync.WaitGroup
	closing  atomic.Bool
	mu       sync.Mutex
	listener net.Listener
}

func NewServer(log *slog.Logger, bufferSize int, opts ...Option) *Server {
	s := &Server{
		log:        log,
		bufferSize: bufferSize,
		stats:      observability.NewStats(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = runtime.NewRegistry(log, s.writeTimeout)
	}
	return s
}

func (s *Server) Registry() contract.IRegistry { return s.registry }

func (s *Server) Stats() *observability.Stats { return s.stats }

// Serve accepts connections on lis until ctx is done or Shutdown is called,
// in which case it returns nil. Temporary accept failures (timeouts, file
// descriptor exhaustion, aborted handshakes) are retried with a growing
// delay, any other one is returned. The listener is always closed on return.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = lis.Close()
		case <-done:
		}
	}()
	defer lis.Close()

	s.log.Info("Chat server listening", "address", lis.Addr().String())
	if s.onServing != nil {
		s.onServing()
	}

	var delay time.Duration
	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil || s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if isTemporary(err) {
				delay = nextDelay(delay)
				s.log.Warn("Accept failed, retrying", "error", err, "delay", delay)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(delay):
				}
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		delay = 0

		peer, ok := s.register(conn)
		if !ok {
			_ = conn.Close()
			continue
		}
		s.stats.PeerJoined()
		s.log.Info("Peer connected", "peer", peer.Addr)
		s.publish(event.PeerJoined{PeerID: peer.ID, Addr: peer.Addr, At: peer.JoinedAt})

		go s.handle(peer)
	}
}

// register adds the peer and accounts for its handler under the same lock
// Shutdown takes, so a peer is either closed by Shutdown or never registered.
func (s *Server) register(conn net.Conn) (domain.Peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	peer := domain.NewPeer(conn)
	if s.closing.Load() {
		return peer, false
	}
	if !s.registry.Add(peer) {
		s.log.Error("Refusing connection", "peer", peer.Addr, "error", chaterr.ErrAlreadyRegistered)
		return peer, false
	}
	s.wg.Add(1)
	return peer, true
}

// handle reads chunks from one peer until it leaves.
// Every exit path goes through the same cleanup.
func (s *Server) handle(peer domain.Peer) {
	defer s.wg.Done()

	reason := s.readLoop(peer)

	if s.registry.Remove(peer.Conn) {
		_ = peer.Conn.Close()
		s.stats.PeerLeft()
		s.log.Info("Peer disconnected", "peer", peer.Addr, "reason", reason)
		s.publish(event.PeerLeft{PeerID: peer.ID, Addr: peer.Addr, Reason: reason, At: time.Now().UTC()})
	}
}

func (s *Server) readLoop(peer domain.Peer) string {
	buf := make([]byte, s.bufferSize)
	for {
		if s.idleTimeout > 0 {
			if err := peer.Conn.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
				s.log.Warn("Unable to set read deadline", "peer", peer.Addr, "error", err)
				return "deadline"
			}
		}

		switch res := domain.ReadChunk(peer.Conn, buf).(type) {
		case domain.PeerClosed:
			return "closed by peer"
		case domain.IOError:
			if s.closing.Load() {
				return "server shutdown"
			}
			s.log.Warn("Connection error", "peer", peer.Addr, "error", res.Err)
			return "io error"
		case domain.DataReceived:
			if len(res.Payload) == 0 {
				continue
			}
			if domain.IsDisconnect(res.Payload) {
				return domain.DisconnectWord
			}
			s.broadcast(peer, res.Payload)
		}
	}
}

func (s *Server) broadcast(peer domain.Peer, payload []byte) {
	content := payload
	if s.filter != nil {
		content = s.filter.Filter(payload)
	}
	msg := domain.NewMessage(peer.Addr, content, time.Now().UTC())

	delivery := s.registry.BroadcastExcept(peer.Conn, msg.Broadcast())
	s.stats.MessageBroadcast(len(payload), delivery.Delivered, delivery.Failed)
	s.log.Debug("Message broadcast", "peer", peer.Addr, "size", len(payload),
		"delivered", delivery.Delivered, "failed", delivery.Failed)

	s.publish(event.MessageBroadcast{
		ID:        msg.ID,
		Sender:    msg.Sender,
		Content:   msg.Content,
		Delivered: delivery.Delivered,
		Failed:    delivery.Failed,
		At:        msg.At,
	})
}

func (s *Server) publish(evt event.DomainEvent) {
	if s.events == nil {
		return
	}
	select {
	case s.events <- evt:
	default:
		s.stats.EventDropped()
		s.log.Debug("Event channel full, event dropped", "event", fmt.Sprintf("%T", evt))
	}
}

// Shutdown stops accepting, closes every peer connection and waits for
// the handlers to finish, at most timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	if !s.closing.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return nil
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	peers := s.registry.Snapshot()
	s.mu.Unlock()

	for _, p := range peers {
		_ = p.Conn.Close()
	}
	s.log.Info("Closing peers", "count", len(peers))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown: %w", context.DeadlineExceeded)
	}
}

func isTemporary(err error) bool {
	if errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE) || errors.Is(err, syscall.ECONNABORTED) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var te interface{ Temporary() bool }
	return errors.As(err, &te) && te.Temporary()
}

func nextDelay(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptDelay
	}
	return min(d*2, maxAcceptDelay)
}
