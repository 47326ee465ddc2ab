package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/samber/lo"

	"github.com/roach88/threads/internal/id"
	"github.com/roach88/threads/internal/readmodel"
	"github.com/roach88/threads/internal/thread"
)

func (s *Server) listThreads(c echo.Context) error {
	list, err := s.svc.ListThreads(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"threads": lo.Map(list, func(sum readmodel.Summary, _ int) summaryResponse { return toSummary(sum) }),
	})
}

func (s *Server) createThread(c echo.Context) error {
	var req createThreadRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	th, events, err := s.svc.CreateThread(c.Request().Context(), req.Content)
	if err != nil {
		return err
	}

	c.Response().Header().Set(echo.HeaderLocation, "/threads/"+th.ID().String())
	return c.JSON(http.StatusCreated, created(th, events))
}

func (s *Server) getThread(c echo.Context) error {
	threadID, err := id.ParseThreadID(c.Param("id"))
	if err != nil {
		return err
	}

	rt, ok, err := s.svc.GetThread(c.Request().Context(), threadID)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("thread " + threadID.String() + " not found")
	}
	return c.JSON(http.StatusOK, toThread(rt))
}

func (s *Server) replyThread(c echo.Context) error {
	threadID, err := id.ParseThreadID(c.Param("id"))
	if err != nil {
		return err
	}

	var req replyRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	expected, err := thread.NewVersion(req.Version)
	if err != nil {
		return err
	}

	th, events, err := s.svc.Reply(c.Request().Context(), threadID, expected, req.Content)
	if err != nil {
		return err
	}

	body := created(th, events)
	c.Response().Header().Set(echo.HeaderLocation, "/messages/"+body.MessageID)
	return c.JSON(http.StatusCreated, body)
}

func (s *Server) getMessage(c echo.Context) error {
	messageID, err := id.ParseMessageID(c.Param("id"))
	if err != nil {
		return err
	}

	tm, ok, err := s.svc.GetMessage(c.Request().Context(), messageID)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("message " + messageID.String() + " not found")
	}
	return c.JSON(http.StatusOK, threadMessageResponse{
		ThreadID: tm.ThreadID.String(),
		Message:  toMessage(tm.Message),
	})
}

func created(th thread.Thread, events []thread.Event) createdResponse {
	p := events[len(events)-1].EventPayload()
	return createdResponse{
		ThreadID:  th.ID().String(),
		MessageID: p.MessageID.String(),
		Version:   th.Version().Uint32(),
	}
}

func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return err
	}
	return c.Validate(req)
}
