package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorogorosince/AIAgent-Dify-Public/utility"
)

func newChatTestRouter(send utility.DifySender) *gin.Engine {
	r := gin.New()
	RegisterChatRoutes(r, send)
	return r
}

func TestHealthz(t *testing.T) {
	r := newChatTestRouter(neverSend(t))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"status":"ok"}`, w.Body.String())
}

func TestChat_MissingMessage(t *testing.T) {
	r := newChatTestRouter(neverSend(t))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "detail")
}

func TestChat_BackendUnavailable(t *testing.T) {
	// The direct-chat path surfaces a backend failure as a 500 and persists
	// nothing (no database is configured here, so a write would fail loudly).
	send := func(ctx context.Context, message, conversationID, userID, source string) (utility.DifyResult, error) {
		assert.Equal(t, "hi", message)
		assert.Equal(t, "web", source)
		return utility.DifyResult{}, utility.ErrBackendUnavailable
	}
	r := newChatTestRouter(send)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "detail")
}

func TestChatHistory_LimitClamped(t *testing.T) {
	mock := newRouteMockDB(t)
	cols := []string{"id", "user_message", "assistant_message", "timestamp", "conversation_id", "slack_channel_id", "slack_thread_ts"}
	mock.ExpectQuery(`FROM conversations`).
		WithArgs(maxHistoryLimit).
		WillReturnRows(sqlmock.NewRows(cols))

	r := newChatTestRouter(neverSend(t))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/chat/history?limit=999999", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChatHistory_InvalidParams(t *testing.T) {
	r := newChatTestRouter(neverSend(t))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/chat/history?limit=zero", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/chat/history?before=yesterday", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}
