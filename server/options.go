package server

import (
	"tcp-chat/contract"
	"tcp-chat/domain/event"
	"tcp-chat/observability"
	"time"
)

type Option func(*Server)

// WithEvents publishes PeerJoined, PeerLeft and MessageBroadcast to events.
// Publishing never blocks: an event is dropped when the channel is full.
func WithEvents(events chan<- event.DomainEvent) Option {
	return func(s *Server) { s.events = events }
}

// WithContentFilter rewrites every chunk before it is broadcast.
func WithContentFilter(filter contract.ContentFilter) Option {
	return func(s *Server) { s.filter = filter }
}

func WithStats(stats *observability.Stats) Option {
	return func(s *Server) { s.stats = stats }
}

// WithIdleTimeout drops a peer that sends nothing for d. Zero disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) { s.idleTimeout = d }
}

// WithRegistry replaces the in-memory registry built by NewServer.
func WithRegistry(registry contract.IRegistry) Option {
	return func(s *Server) { s.registry = registry }
}

// WithOnServing is called once the accept loop is about to start.
func WithOnServing(fn func()) Option {
	return func(s *Server) { s.onServing = fn }
}

// WithWriteTimeout bounds every write made to a recipient. Zero disables it.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.writeTimeout = d }
}
