package utility

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestClassifySlackPayload(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		body        string
		want        string
	}{
		{"url verification", "application/json", `{"type":"url_verification","challenge":"x"}`, PayloadURLVerification},
		{"event callback", "application/json", `{"type":"event_callback","event":{}}`, PayloadEventCallback},
		{"unknown json type", "application/json", `{"type":"something_else"}`, PayloadUnrecognized},
		{"invalid json", "application/json", `{nope`, PayloadUnrecognized},
		{"slash command", "application/x-www-form-urlencoded", "command=%2Fask&text=hello&team_id=T1", PayloadCommand},
		{"interactive", "application/x-www-form-urlencoded", "payload=%7B%22type%22%3A%22block_actions%22%7D", PayloadInteractive},
		{"empty form", "application/x-www-form-urlencoded", "foo=bar", PayloadUnrecognized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySlackPayload(tc.contentType, []byte(tc.body)); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func testContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/slack/events", nil)
	return c, w
}

func TestHandleURLVerification_EchoesChallengeVerbatim(t *testing.T) {
	c, w := testContext(t)
	HandleURLVerification(c, []byte(`{"type":"url_verification","challenge":"abc123"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != `{"challenge":"abc123"}` {
		t.Fatalf("expected exact challenge echo, got %s", w.Body.String())
	}
}

func TestHandleURLVerification_MissingChallenge(t *testing.T) {
	c, w := testContext(t)
	HandleURLVerification(c, []byte(`{"type":"url_verification"}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

// failingSender fails the test if the dispatcher reaches the AI backend.
func failingSender(t *testing.T) DifySender {
	return func(ctx context.Context, message, conversationID, userID, source string) (DifyResult, error) {
		t.Fatalf("dify sender must not be called")
		return DifyResult{}, nil
	}
}

func TestHandleEventCallback_DropsBotMessages(t *testing.T) {
	// Bot and edit echoes are dropped before any workspace lookup or write;
	// no database is configured in this test, so reaching one would fail.
	for _, body := range []string{
		`{"type":"event_callback","team_id":"T1","event":{"type":"message","subtype":"bot_message","channel":"C1","text":"hi","ts":"1.2"}}`,
		`{"type":"event_callback","team_id":"T1","event":{"type":"message","subtype":"message_changed","channel":"C1","text":"hi","ts":"1.2"}}`,
		`{"type":"event_callback","team_id":"T1","event":{"type":"message","bot_id":"B99","channel":"C1","text":"hi","ts":"1.2"}}`,
	} {
		c, w := testContext(t)
		HandleEventCallback(c, []byte(body), failingSender(t))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var resp map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("invalid response body: %v", err)
		}
		if resp["ok"] != true {
			t.Fatalf("expected ok ack, got %s", w.Body.String())
		}
	}
}

func TestHandleEventCallback_IgnoresUnhandledInnerTypes(t *testing.T) {
	c, w := testContext(t)
	body := `{"type":"event_callback","team_id":"T1","event":{"type":"reaction_added"}}`
	HandleEventCallback(c, []byte(body), failingSender(t))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestHandleEventCallback_RejectsMalformedEnvelope(t *testing.T) {
	c, w := testContext(t)
	HandleEventCallback(c, []byte(`{nope`), failingSender(t))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
