package httpapi

import (
	"time"

	"github.com/samber/lo"

	"github.com/roach88/threads/internal/readmodel"
)

// TimeFormat is RFC 3339 with millisecond precision.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

type createThreadRequest struct {
	Content string `json:"content"`
}

type replyRequest struct {
	Content string `json:"content"`
	Version uint32 `json:"version" validate:"required,gte=1"`
}

type createdResponse struct {
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
	Version   uint32 `json:"version"`
}

type messageResponse struct {
	ID        string `json:"id"`
	Number    int    `json:"number"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

type summaryResponse struct {
	ID           string          `json:"id"`
	CreatedAt    string          `json:"created_at"`
	Version      uint32          `json:"version"`
	RepliesCount int             `json:"replies_count"`
	LastMessage  messageResponse `json:"last_message"`
}

type threadResponse struct {
	summaryResponse
	Messages []messageResponse `json:"messages"`
}

type threadMessageResponse struct {
	ThreadID string          `json:"thread_id"`
	Message  messageResponse `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func formatTime(t time.Time) string { return t.UTC().Format(TimeFormat) }

func toMessage(m readmodel.Message) messageResponse {
	return messageResponse{
		ID:        m.ID.String(),
		Number:    m.Number,
		Content:   m.Content,
		CreatedAt: formatTime(m.CreatedAt),
	}
}

func toSummary(s readmodel.Summary) summaryResponse {
	return summaryResponse{
		ID:           s.ID.String(),
		CreatedAt:    formatTime(s.CreatedAt),
		Version:      s.Version.Uint32(),
		RepliesCount: s.RepliesCount,
		LastMessage:  toMessage(s.LastMessage),
	}
}

func toThread(t readmodel.Thread) threadResponse {
	return threadResponse{
		summaryResponse: toSummary(t.Summary()),
		Messages:        lo.Map(t.Messages, func(m readmodel.Message, _ int) messageResponse { return toMessage(m) }),
	}
}
