package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/threads/internal/service"
	"github.com/roach88/threads/internal/store/memstore"
	"github.com/roach88/threads/internal/store/storemetrics"
	"github.com/roach88/threads/internal/testutil"
)

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	st := memstore.New()
	t.Cleanup(func() { st.Close() })
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.New(st,
		service.WithClock(testutil.NewDeterministicClock()),
		service.WithLogger(discard),
	)
	return New(svc, append([]Option{WithLogger(discard)}, opts...)...)
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createThread(t *testing.T, s *Server, content string) createdResponse {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/threads", `{"content":"`+content+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[createdResponse](t, rec)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestCreateAndGetThread(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/threads", `{"content":"Hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[createdResponse](t, rec)
	assert.Equal(t, uint32(1), created.Version)
	assert.Equal(t, "/threads/"+created.ThreadID, rec.Header().Get("Location"))

	rec = do(t, s, http.MethodGet, "/threads/"+created.ThreadID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[threadResponse](t, rec)
	assert.Equal(t, created.ThreadID, got.ID)
	assert.Equal(t, "2024-01-01T00:00:01.000Z", got.CreatedAt)
	assert.Equal(t, 0, got.RepliesCount)
	assert.Equal(t, "Hello", got.LastMessage.Content)
	assert.Equal(t, 1, got.LastMessage.Number)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, created.MessageID, got.Messages[0].ID)
}

func TestReply(t *testing.T) {
	s := newTestServer(t)
	created := createThread(t, s, "Hello")

	rec := do(t, s, http.MethodPost, "/threads/"+created.ThreadID+"/replies", `{"content":"World","version":1}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	reply := decode[createdResponse](t, rec)
	assert.Equal(t, uint32(2), reply.Version)
	assert.Equal(t, created.ThreadID, reply.ThreadID)
	assert.NotEqual(t, created.MessageID, reply.MessageID)

	rec = do(t, s, http.MethodGet, "/messages/"+reply.MessageID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	msg := decode[threadMessageResponse](t, rec)
	assert.Equal(t, created.ThreadID, msg.ThreadID)
	assert.Equal(t, "World", msg.Message.Content)
	assert.Equal(t, 2, msg.Message.Number)

	rec = do(t, s, http.MethodGet, "/threads/"+created.ThreadID, "")
	got := decode[threadResponse](t, rec)
	assert.Equal(t, uint32(2), got.Version)
	assert.Equal(t, 1, got.RepliesCount)
	assert.Equal(t, "World", got.LastMessage.Content)
	assert.Len(t, got.Messages, 2)
}

func TestReplyStaleVersion(t *testing.T) {
	s := newTestServer(t)
	created := createThread(t, s, "Hello")

	rec := do(t, s, http.MethodPost, "/threads/"+created.ThreadID+"/replies", `{"content":"a","version":1}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, s, http.MethodPost, "/threads/"+created.ThreadID+"/replies", `{"content":"b","version":1}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, CodeVersionMismatch, body.Error.Code)
	assert.EqualValues(t, 2, body.Error.Details["actual"])
	assert.Equal(t, "1", body.Error.Details["expected"])
}

func TestListThreads(t *testing.T) {
	s := newTestServer(t)
	first := createThread(t, s, "one")
	second := createThread(t, s, "two")

	rec := do(t, s, http.MethodGet, "/threads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Threads []summaryResponse `json:"threads"`
	}](t, rec)
	require.Len(t, body.Threads, 2)
	assert.Equal(t, first.ThreadID, body.Threads[0].ID)
	assert.Equal(t, second.ThreadID, body.Threads[1].ID)
}

func TestListThreadsEmpty(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/threads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"threads":[]}`, rec.Body.String())
}

func TestErrors(t *testing.T) {
	s := newTestServer(t)
	created := createThread(t, s, "Hello")
	missing := "f47ac10b-58cc-4372-a567-0e02b2c3d479"

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
		code   string
	}{
		{"empty content", http.MethodPost, "/threads", `{"content":"   "}`, http.StatusBadRequest, "content_empty"},
		{"long content", http.MethodPost, "/threads", `{"content":"` + strings.Repeat("x", 256) + `"}`, http.StatusBadRequest, "content_too_long"},
		{"malformed json", http.MethodPost, "/threads", `{"content":`, http.StatusBadRequest, CodeInvalidRequest},
		{"bad thread id", http.MethodGet, "/threads/nope", "", http.StatusBadRequest, CodeInvalidThreadID},
		{"missing thread", http.MethodGet, "/threads/" + missing, "", http.StatusNotFound, CodeNotFound},
		{"bad message id", http.MethodGet, "/messages/nope", "", http.StatusBadRequest, CodeInvalidMessageID},
		{"missing message", http.MethodGet, "/messages/" + missing, "", http.StatusNotFound, CodeNotFound},
		{"missing version", http.MethodPost, "/threads/" + created.ThreadID + "/replies", `{"content":"x"}`, http.StatusBadRequest, CodeInvalidRequest},
		{"reply to missing", http.MethodPost, "/threads/" + missing + "/replies", `{"content":"x","version":1}`, http.StatusNotFound, CodeNotFound},
		{"unknown route", http.MethodGet, "/nowhere", "", http.StatusNotFound, CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.method, tt.target, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decode[errorBody](t, rec)
			assert.Equal(t, tt.code, body.Error.Code)
			assert.NotEmpty(t, body.Error.Message)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Run("absent without gatherer", func(t *testing.T) {
		s := newTestServer(t)
		rec := do(t, s, http.MethodGet, "/metrics", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("serves registry", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		st := storemetrics.Wrap(memstore.New(), reg)
		t.Cleanup(func() { st.Close() })
		discard := slog.New(slog.NewTextHandler(io.Discard, nil))
		s := New(service.New(st, service.WithLogger(discard)), WithLogger(discard), WithMetrics(reg))

		createThread(t, s, "Hello")

		rec := do(t, s, http.MethodGet, "/metrics", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `threads_store_appends_total{outcome="ok"} 1`)
	})
}
