package httpapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/roach88/threads/internal/id"
	"github.com/roach88/threads/internal/store"
	"github.com/roach88/threads/internal/thread"
)

// Error codes of the JSON error body.
const (
	CodeInvalidRequest   = "invalid_request"
	CodeInvalidThreadID  = "invalid_thread_id"
	CodeInvalidMessageID = "invalid_message_id"
	CodeInvalidVersion   = "invalid_version"
	CodeMessageLimit     = "message_limit_reached"
	CodeNotFound         = "not_found"
	CodeVersionMismatch  = "version_mismatch"
	CodeInternal         = "internal"
)

type apiError struct {
	status int
	body   errorDetail
}

func (e *apiError) Error() string { return e.body.Message }

func notFound(msg string) error {
	return &apiError{status: http.StatusNotFound, body: errorDetail{Code: CodeNotFound, Message: msg}}
}

// classify maps an error chain to a status and body.
func classify(err error) (int, errorDetail) {
	var (
		apiErr     *apiError
		contentErr *thread.ContentError
		threadErr  *id.ThreadIDError
		messageErr *id.MessageIDError
		validErr   validator.ValidationErrors
		httpErr    *echo.HTTPError
	)

	switch {
	case errors.As(err, &apiErr):
		return apiErr.status, apiErr.body
	case errors.As(err, &contentErr):
		return http.StatusBadRequest, errorDetail{Code: string(contentErr.Code), Message: contentErr.Error()}
	case errors.As(err, &threadErr):
		return http.StatusBadRequest, errorDetail{Code: CodeInvalidThreadID, Message: threadErr.Error()}
	case errors.As(err, &messageErr):
		return http.StatusBadRequest, errorDetail{Code: CodeInvalidMessageID, Message: messageErr.Error()}
	case errors.Is(err, thread.ErrInvalidVersion):
		return http.StatusBadRequest, errorDetail{Code: CodeInvalidVersion, Message: err.Error()}
	case thread.IsMessageLimit(err):
		return http.StatusBadRequest, errorDetail{Code: CodeMessageLimit, Message: err.Error()}
	case errors.As(err, &validErr):
		return http.StatusBadRequest, errorDetail{Code: CodeInvalidRequest, Message: validationMessage(validErr)}
	case store.IsNotFound(err):
		return http.StatusNotFound, errorDetail{Code: CodeNotFound, Message: err.Error()}
	case store.IsVersionMismatch(err):
		vm, _ := store.AsVersionMismatch(err)
		return http.StatusConflict, errorDetail{
			Code:    CodeVersionMismatch,
			Message: vm.Error(),
			Details: map[string]any{"actual": vm.Actual.Uint32(), "expected": vm.Expected.String()},
		}
	case errors.As(err, &httpErr):
		code := CodeInvalidRequest
		switch httpErr.Code {
		case http.StatusNotFound:
			code = CodeNotFound
		case http.StatusInternalServerError:
			code = CodeInternal
		}
		return httpErr.Code, errorDetail{Code: code, Message: fmt.Sprint(httpErr.Message)}
	default:
		return http.StatusInternalServerError, errorDetail{Code: CodeInternal, Message: "internal server error"}
	}
}

func validationMessage(errs validator.ValidationErrors) string {
	if len(errs) == 0 {
		return "invalid request"
	}
	fe := errs[0]
	return fmt.Sprintf("field %s failed %s validation", fe.Field(), fe.Tag())
}

// handleError is the echo HTTPErrorHandler.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			slog.String("method", c.Request().Method),
			slog.String("path", c.Path()),
			slog.String("error", err.Error()),
		)
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(status)
	} else {
		werr = c.JSON(status, errorBody{Error: body})
	}
	if werr != nil {
		s.log.Error("write error response", slog.String("error", werr.Error()))
	}
}
