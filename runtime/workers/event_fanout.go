package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"tcp-chat/contract"
	"tcp-chat/domain/event"
	"time"
)

// EventFanout hands every server event to the registered sinks.
//
// Delivery is best effort: no ordering between sinks, no retries, no durability.
// It is meant for side effects (transcript, index, logs) and never sits on the
// broadcast path. Each sink gets sinkTimeout to consume one event.
type EventFanout struct {
	log         *slog.Logger
	events      <-chan event.DomainEvent
	sinks       []contract.EventSink
	sinkTimeout time.Duration
}

func NewEventFanout(log *slog.Logger, events <-chan event.DomainEvent, sinkTimeout time.Duration, sinks ...contract.EventSink) *EventFanout {
	return &EventFanout{log: log, events: events, sinks: sinks, sinkTimeout: sinkTimeout}
}

func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case evt, ok := <-w.events:
			if !ok {
				w.log.Debug("Event channel closed, stopping fanout")
				return nil
			}
			w.Fanout(ctx, evt)
		case <-ctx.Done():
			w.log.Debug("Context done, stopping fanout")
			return nil
		}
	}
}

// Fanout One goroutine for each sink, waits for all of them
func (w *EventFanout) Fanout(ctx context.Context, evt event.DomainEvent) {
	var wg sync.WaitGroup
	for _, sink := range w.sinks {
		wg.Add(1)
		go func(s contract.EventSink) {
			defer wg.Done()
			sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
			defer cancel()
			if err := s.Consume(sinkCtx, evt); err != nil {
				w.log.Warn("Sink failed to consume event", "sink", fmt.Sprintf("%T", s), "error", err)
			}
		}(sink)
	}
	wg.Wait()
}
