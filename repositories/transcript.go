//go:generate go run go.uber.org/mock/mockgen -source=transcript.go -destination=../mocks/mock_transcript_repository.go -package=mocks
package repositories

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const transcriptPrefix = "msg:"

type ITranscriptRepository interface {
	StoreMessage(record TranscriptRecord) error
	GetMessages(cursor *string) ([]TranscriptRecord, *string, error)
}

// TranscriptRecord is one broadcast chunk as written to disk.
type TranscriptRecord struct {
	ID        uuid.UUID
	Sender    string
	Content   []byte
	At        time.Time
	Delivered int
	Failed    int
	Mime      string
	Language  string
}

type TranscriptRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
}

func NewTranscriptRepository(db *badger.DB, log *slog.Logger, limitMessages *int) TranscriptRepository {
	return TranscriptRepository{db: db, log: log, limitMessages: limitMessages}
}

// StoreMessage persists a record under "msg:{timestamp_padded}:{uuid}".
// The 19-digit padding keeps keys in chronological order and the uuid
// separates two chunks received within the same nanosecond.
func (t TranscriptRepository) StoreMessage(record TranscriptRecord) error {
	key := fmt.Sprintf("%s%019d:%s", transcriptPrefix, record.At.UnixNano(), record.ID)
	value := MarshalRecord(record)
	return t.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// GetMessages returns records newest first, starting after cursor when it is set.
// The returned cursor points to the last record of the page.
func (t TranscriptRepository) GetMessages(cursor *string) ([]TranscriptRecord, *string, error) {
	var values [][]byte
	var lastKey string
	prefix := []byte(transcriptPrefix)

	err := t.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// msg:9999999999999999999 is after every stored key
			seekKey = append([]byte(transcriptPrefix), []byte("9999999999999999999")...)
		default:
			seekKey = append([]byte(transcriptPrefix), []byte(*cursor)...)
		}

		it.Seek(seekKey)
		if cursor != nil && it.ValidForPrefix(prefix) && string(it.Item().Key()) == string(seekKey) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if t.limitMessages != nil && len(values) == *t.limitMessages {
				t.log.Debug(fmt.Sprintf("Maximum of %d message reached", *t.limitMessages))
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[len(prefix):])
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			values = append(values, value)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	records := make([]TranscriptRecord, 0, len(values))
	for _, v := range values {
		record, err := UnmarshalRecord(v)
		if err != nil {
			return nil, nil, err
		}
		records = append(records, record)
	}
	return records, &lastKey, nil
}
