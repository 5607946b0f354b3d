package repositories

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
	"tcp-chat/errors"
)

// Wire field numbers of an encoded TranscriptRecord.
const (
	fieldID        protowire.Number = 1
	fieldSender    protowire.Number = 2
	fieldContent   protowire.Number = 3
	fieldAt        protowire.Number = 4
	fieldDelivered protowire.Number = 5
	fieldFailed    protowire.Number = 6
	fieldMime      protowire.Number = 7
	fieldLanguage  protowire.Number = 8
)

// MarshalRecord encodes a record in the protobuf wire format.
func MarshalRecord(r TranscriptRecord) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldID, protowire.BytesType)
	b = protowire.AppendString(b, r.ID.String())
	b = protowire.AppendTag(b, fieldSender, protowire.BytesType)
	b = protowire.AppendString(b, r.Sender)
	b = protowire.AppendTag(b, fieldContent, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Content)
	b = protowire.AppendTag(b, fieldAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.At.UnixNano()))
	b = protowire.AppendTag(b, fieldDelivered, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Delivered))
	b = protowire.AppendTag(b, fieldFailed, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Failed))
	if r.Mime != "" {
		b = protowire.AppendTag(b, fieldMime, protowire.BytesType)
		b = protowire.AppendString(b, r.Mime)
	}
	if r.Language != "" {
		b = protowire.AppendTag(b, fieldLanguage, protowire.BytesType)
		b = protowire.AppendString(b, r.Language)
	}
	return b
}

// UnmarshalRecord decodes a record. Unknown fields are skipped.
func UnmarshalRecord(b []byte) (TranscriptRecord, error) {
	var r TranscriptRecord
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return TranscriptRecord{}, invalid(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldID && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return TranscriptRecord{}, invalid(protowire.ParseError(m))
			}
			id, err := uuid.Parse(v)
			if err != nil {
				return TranscriptRecord{}, invalid(err)
			}
			r.ID, n = id, m
		case (num == fieldSender || num == fieldMime || num == fieldLanguage) && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return TranscriptRecord{}, invalid(protowire.ParseError(m))
			}
			switch num {
			case fieldSender:
				r.Sender = v
			case fieldMime:
				r.Mime = v
			default:
				r.Language = v
			}
			n = m
		case num == fieldContent && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return TranscriptRecord{}, invalid(protowire.ParseError(m))
			}
			r.Content, n = append([]byte(nil), v...), m
		case (num == fieldAt || num == fieldDelivered || num == fieldFailed) && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return TranscriptRecord{}, invalid(protowire.ParseError(m))
			}
			switch num {
			case fieldAt:
				r.At = time.Unix(0, int64(v)).UTC()
			case fieldDelivered:
				r.Delivered = int(v)
			default:
				r.Failed = int(v)
			}
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return TranscriptRecord{}, invalid(protowire.ParseError(n))
			}
		}
		b = b[n:]
	}
	if r.ID == uuid.Nil {
		return TranscriptRecord{}, invalid(fmt.Errorf("missing id"))
	}
	return r, nil
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", errors.ErrInvalidRecord, err)
}
