package utility

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mode string, handler http.HandlerFunc) *DifyClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewDifyClient(srv.URL, "app-test-key", mode)
}

func TestDifySend_Blocking(t *testing.T) {
	var gotReq difyRequest
	c := newTestClient(t, "blocking", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat-messages", r.URL.Path)
		require.Equal(t, "Bearer app-test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer":"hi there","conversation_id":"conv-1"}`))
	})
	res, err := c.Send(context.Background(), "hello", "", "U1", "slack")
	require.NoError(t, err)
	assert.Equal(t, "hi there", res.Answer)
	assert.Equal(t, "conv-1", res.ConversationID)
	assert.Equal(t, "slack-U1", gotReq.User)
	assert.Equal(t, "blocking", gotReq.ResponseMode)
}

func TestDifySend_DefaultUser(t *testing.T) {
	var gotReq difyRequest
	c := newTestClient(t, "blocking", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(`{"answer":"ok","conversation_id":"c"}`))
	})
	_, err := c.Send(context.Background(), "hello", "", "", "web")
	require.NoError(t, err)
	assert.Equal(t, "default_user", gotReq.User)
}

func TestDifySend_ConversationIDFallbackChain(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		inputID  string
		expectID string
	}{
		{"id field", `{"answer":"a","id":"id-2"}`, "", "id-2"},
		{"nested data", `{"answer":"a","data":{"conversation_id":"nested-3"}}`, "", "nested-3"},
		{"input conversation id", `{"answer":"a"}`, "in-4", "in-4"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, "blocking", func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			})
			res, err := c.Send(context.Background(), "q", tc.inputID, "", "web")
			require.NoError(t, err)
			assert.Equal(t, tc.expectID, res.ConversationID)
		})
	}
}

func TestDifySend_GeneratesConversationIDWhenAbsent(t *testing.T) {
	c := newTestClient(t, "blocking", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"answer":"a"}`))
	})
	res, err := c.Send(context.Background(), "q", "", "", "web")
	require.NoError(t, err)
	assert.NotEmpty(t, res.ConversationID)
}

func TestDifySend_Streaming(t *testing.T) {
	c := newTestClient(t, "streaming", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"answer\":\"Hel\",\"conversation_id\":\"conv-s\"}\n\n"))
		_, _ = w.Write([]byte("data: {\"answer\":\"lo\"}\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	})
	res, err := c.Send(context.Background(), "q", "", "", "web")
	require.NoError(t, err)
	assert.Equal(t, "Hello", res.Answer)
	assert.Equal(t, "conv-s", res.ConversationID)
}

func TestDifySend_StreamingSkipsMalformedFrames(t *testing.T) {
	c := newTestClient(t, "streaming", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("data: {not json}\n"))
		_, _ = w.Write([]byte(": comment line\n"))
		_, _ = w.Write([]byte("data: {\"answer\":\"Hello\",\"data\":{\"id\":\"deep-id\"}}\n"))
		_, _ = w.Write([]byte("data: [DONE]\n"))
	})
	res, err := c.Send(context.Background(), "q", "", "", "web")
	require.NoError(t, err)
	assert.Equal(t, "Hello", res.Answer)
	assert.Equal(t, "deep-id", res.ConversationID)
}

func TestDifySend_StreamingGeneratesIDWhenNoFrameCarriesOne(t *testing.T) {
	c := newTestClient(t, "streaming", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("data: {\"answer\":\"Hel\"}\n"))
		_, _ = w.Write([]byte("data: {\"answer\":\"lo\"}\n"))
		_, _ = w.Write([]byte("data: [DONE]\n"))
	})
	res, err := c.Send(context.Background(), "q", "", "", "web")
	require.NoError(t, err)
	assert.Equal(t, "Hello", res.Answer)
	assert.NotEmpty(t, res.ConversationID)
}

func TestDifySend_NonSuccessStatus(t *testing.T) {
	c := newTestClient(t, "blocking", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})
	_, err := c.Send(context.Background(), "q", "", "", "web")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackendUnavailable), "expected ErrBackendUnavailable, got %v", err)
}

func TestDifySend_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on
	c := NewDifyClient(srv.URL, "app-test-key", "blocking")
	_, err := c.Send(context.Background(), "q", "", "", "web")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackendUnavailable), "expected ErrBackendUnavailable, got %v", err)
}
