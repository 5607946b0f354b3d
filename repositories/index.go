package repositories

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/blugelabs/bluge"
)

const (
	indexFieldSender   = "sender"
	indexFieldContent  = "content"
	indexFieldAt       = "at"
	indexFieldLanguage = "language"
)

// SearchHit is a transcript record matched by a full text query.
type SearchHit struct {
	ID       string
	Sender   string
	Content  string
	Language string
	At       time.Time
	Score    float64
}

// TranscriptIndex makes transcript records searchable by content and sender.
type TranscriptIndex struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewTranscriptIndex(writer *bluge.Writer, log *slog.Logger) *TranscriptIndex {
	return &TranscriptIndex{writer: writer, log: log}
}

// Index adds or replaces the document of a record.
// Bytes that are not valid UTF-8 are dropped from the indexed content.
func (i *TranscriptIndex) Index(record TranscriptRecord) error {
	doc := bluge.NewDocument(record.ID.String()).
		AddField(bluge.NewKeywordField(indexFieldSender, record.Sender).StoreValue()).
		AddField(bluge.NewTextField(indexFieldContent, strings.ToValidUTF8(string(record.Content), "")).StoreValue()).
		AddField(bluge.NewDateTimeField(indexFieldAt, record.At).StoreValue().Sortable())
	if record.Language != "" {
		doc.AddField(bluge.NewKeywordField(indexFieldLanguage, record.Language).StoreValue())
	}
	return i.writer.Update(doc.ID(), doc)
}

// Search looks up the records indexed so far.
func (i *TranscriptIndex) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	reader, err := i.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return SearchReader(ctx, reader, query, limit, i.log)
}

// SearchReader runs a match query on the content, or a sender lookup when the query
// has the form "sender:<addr>". An empty query returns the latest records.
func SearchReader(ctx context.Context, reader *bluge.Reader, query string, limit int, log *slog.Logger) ([]SearchHit, error) {
	request := bluge.NewTopNSearch(limit, buildQuery(query))
	if strings.TrimSpace(query) == "" {
		request = request.SortBy([]string{"-" + indexFieldAt})
	}

	matches, err := reader.Search(ctx, request)
	if err != nil {
		return nil, err
	}

	var hits []SearchHit
	match, err := matches.Next()
	for err == nil && match != nil {
		hit := SearchHit{Score: match.Score}
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "_id":
				hit.ID = string(value)
			case indexFieldSender:
				hit.Sender = string(value)
			case indexFieldContent:
				hit.Content = string(value)
			case indexFieldLanguage:
				hit.Language = string(value)
			case indexFieldAt:
				at, decodeErr := bluge.DecodeDateTime(value)
				if decodeErr != nil {
					log.Debug("Unable to decode indexed date", "error", decodeErr)
					return true
				}
				hit.At = at.UTC()
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		hits = append(hits, hit)
		match, err = matches.Next()
	}
	if err != nil {
		return nil, err
	}
	return hits, nil
}

func buildQuery(query string) bluge.Query {
	query = strings.TrimSpace(query)
	switch {
	case query == "":
		return bluge.NewMatchAllQuery()
	case strings.HasPrefix(query, indexFieldSender+":"):
		return bluge.NewTermQuery(strings.TrimPrefix(query, indexFieldSender+":")).SetField(indexFieldSender)
	default:
		return bluge.NewMatchQuery(query).SetField(indexFieldContent)
	}
}
