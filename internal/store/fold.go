package store

import (
	"github.com/roach88/threads/internal/readmodel"
	"github.com/roach88/threads/internal/thread"
)

// Fold is the projection half of an append for backends that persist the
// summary and the message list separately. With a nil base it starts a new
// projection from events; otherwise it applies events to base. It returns
// the updated summary and the messages the events added, in order.
//
// Fold panics on the same malformed input as readmodel.Replay and
// readmodel.Thread.Apply.
func Fold(base *readmodel.Summary, events []thread.Event) (readmodel.Summary, []readmodel.Message) {
	added := make([]readmodel.Message, 0, len(events))

	var rt readmodel.Thread
	rest := events
	if base == nil {
		rt = readmodel.Replay(events[:1])
		rt.Messages = nil
		added = append(added, rt.LastMessage)
		rest = events[1:]
	} else {
		rt = readmodel.FromSummary(*base)
	}

	for _, e := range rest {
		rt.Apply(e)
		added = append(added, rt.LastMessage)
	}
	return rt.Summary(), added
}
