package sink

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
	"github.com/gabriel-vasile/mimetype"
	"tcp-chat/domain/event"
	"tcp-chat/repositories"
)

// Indexer makes a stored record searchable.
type Indexer interface {
	Index(record repositories.TranscriptRecord) error
}

// TranscriptSink writes every broadcast chunk to the transcript, tagged with
// its detected MIME type and language, and indexes it when an Indexer is set.
type TranscriptSink struct {
	repository repositories.ITranscriptRepository
	index      Indexer
	log        *slog.Logger
}

func NewTranscriptSink(repository repositories.ITranscriptRepository, index Indexer, log *slog.Logger) TranscriptSink {
	return TranscriptSink{repository: repository, index: index, log: log}
}

func (t TranscriptSink) Consume(ctx context.Context, e event.DomainEvent) error {
	evt, ok := e.(event.MessageBroadcast)
	if !ok {
		t.log.Debug(fmt.Sprintf("Not stored event : %T", e))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	record := toTranscriptRecord(evt)
	if err := t.repository.StoreMessage(record); err != nil {
		return fmt.Errorf("store message %s: %w", record.ID, err)
	}
	if t.index != nil {
		if err := t.index.Index(record); err != nil {
			return fmt.Errorf("index message %s: %w", record.ID, err)
		}
	}
	return nil
}

func toTranscriptRecord(evt event.MessageBroadcast) repositories.TranscriptRecord {
	return repositories.TranscriptRecord{
		ID:        evt.ID,
		Sender:    evt.Sender,
		Content:   evt.Content,
		At:        evt.At,
		Delivered: evt.Delivered,
		Failed:    evt.Failed,
		Mime:      mimetype.Detect(evt.Content).String(),
		Language:  detectLanguage(evt.Content),
	}
}

// detectLanguage returns the ISO 639-1 code of content, or "" when unsure.
func detectLanguage(content []byte) string {
	if !utf8.Valid(content) {
		return ""
	}
	info := whatlanggo.Detect(string(content))
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}
