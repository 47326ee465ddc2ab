package thread

import (
	"fmt"
	"time"

	"github.com/roach88/threads/internal/id"
)

// Record is the flat form of an event used by the storage backends.
type Record struct {
	Kind      string `json:"kind"`
	ID        string `json:"id"`
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
	Version   uint32 `json:"version"`
	AtMs      int64  `json:"at_ms"`
}

// RecordOf flattens e.
func RecordOf(e Event) Record {
	p := e.EventPayload()
	return Record{
		Kind:      e.Kind(),
		ID:        p.ID.String(),
		ThreadID:  p.ThreadID.String(),
		MessageID: p.MessageID.String(),
		Content:   p.Content.String(),
		Version:   p.Version.Uint32(),
		AtMs:      p.At.UnixMilli(),
	}
}

// Event decodes r, validating every field on the way back in.
func (r Record) Event() (Event, error) {
	eventID, err := id.ParseEventID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	threadID, err := id.ParseThreadID(r.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("decode event %s: %w", r.ID, err)
	}
	messageID, err := id.ParseMessageID(r.MessageID)
	if err != nil {
		return nil, fmt.Errorf("decode event %s: %w", r.ID, err)
	}
	content, err := NewMessageContent(r.Content)
	if err != nil {
		return nil, fmt.Errorf("decode event %s: %w", r.ID, err)
	}
	version, err := NewVersion(r.Version)
	if err != nil {
		return nil, fmt.Errorf("decode event %s: %w", r.ID, err)
	}

	p := Payload{
		At:        time.UnixMilli(r.AtMs).UTC(),
		Content:   content,
		ID:        eventID,
		MessageID: messageID,
		ThreadID:  threadID,
		Version:   version,
	}
	switch r.Kind {
	case KindCreated:
		return Created{p}, nil
	case KindReplied:
		return Replied{p}, nil
	default:
		return nil, fmt.Errorf("decode event %s: %w: %q", r.ID, ErrUnknownEventKind, r.Kind)
	}
}

// DecodeRecords decodes a stream, stopping at the first bad record.
func DecodeRecords(records []Record) ([]Event, error) {
	events := make([]Event, 0, len(records))
	for _, r := range records {
		e, err := r.Event()
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}
