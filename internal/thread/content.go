package thread

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxContentLength is the maximum number of characters of trimmed content.
const MaxContentLength = 255

// ContentErrorCode classifies a content validation failure.
type ContentErrorCode string

const (
	ContentEmpty   ContentErrorCode = "content_empty"
	ContentTooLong ContentErrorCode = "content_too_long"
)

// ContentError is returned by NewMessageContent for unacceptable text.
// Count holds the trimmed character count for ContentTooLong.
type ContentError struct {
	Code  ContentErrorCode
	Count int
}

func (e *ContentError) Error() string {
	switch e.Code {
	case ContentEmpty:
		return "message content is empty"
	case ContentTooLong:
		return fmt.Sprintf("message content is too long: %d characters (max %d)", e.Count, MaxContentLength)
	default:
		return fmt.Sprintf("message content error: %s", e.Code)
	}
}

// IsContentError reports whether err is a content validation failure.
func IsContentError(err error) bool {
	var ce *ContentError
	return errors.As(err, &ce)
}

// MessageContent is validated message text.
//
// The raw text is kept as given. Surrounding whitespace only counts against
// validation and is never stripped from the stored value.
type MessageContent struct {
	raw string
}

// NewMessageContent validates raw. Characters are counted as Unicode code
// points after trimming surrounding whitespace.
func NewMessageContent(raw string) (MessageContent, error) {
	n := utf8.RuneCountInString(strings.TrimSpace(raw))
	switch {
	case n == 0:
		return MessageContent{}, &ContentError{Code: ContentEmpty}
	case n > MaxContentLength:
		return MessageContent{}, &ContentError{Code: ContentTooLong, Count: n}
	}
	return MessageContent{raw: raw}, nil
}

// String returns the raw text.
func (c MessageContent) String() string { return c.raw }

// IsZero reports whether c was never constructed.
func (c MessageContent) IsZero() bool { return c.raw == "" }
