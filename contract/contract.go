//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"net"
	"reflect"
	"tcp-chat/domain"
	"tcp-chat/domain/event"
)

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// Delivery counts the outcome of one broadcast.
type Delivery struct {
	Delivered int
	Failed    int
}

type IRegistry interface {
	Add(peer domain.Peer) bool
	Remove(conn net.Conn) bool
	Len() int
	Snapshot() []domain.Peer
	BroadcastExcept(sender net.Conn, payload []byte) Delivery
}

// ContentFilter may rewrite a chunk before it is broadcast.
type ContentFilter interface {
	Filter(payload []byte) []byte
}
