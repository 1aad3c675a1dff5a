package utility

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"
)

// DifySender matches DifyClient.Send. Handlers take it as a parameter to
// avoid coupling to a concrete client and to keep webhook flows testable.
type DifySender func(ctx context.Context, message, conversationID, userID, source string) (DifyResult, error)

// Payload kinds produced by ClassifySlackPayload.
const (
	PayloadURLVerification = "url_verification"
	PayloadEventCallback   = "event_callback"
	PayloadCommand         = "command"
	PayloadInteractive     = "interactive"
	PayloadUnrecognized    = "unrecognized"
)

// commandErrorText is the ephemeral reply shown when the AI backend is down.
const commandErrorText = "申し訳ありません。現在AIバックエンドに接続できません。しばらくしてからもう一度お試しください。"

// ClassifySlackPayload determines which dispatcher state an inbound webhook
// body belongs to. Slash commands and interactivity arrive form-encoded;
// events and the install handshake arrive as JSON with a top-level type.
func ClassifySlackPayload(contentType string, body []byte) string {
	if strings.Contains(contentType, "application/x-www-form-urlencoded") {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return PayloadUnrecognized
		}
		if form.Get("payload") != "" {
			return PayloadInteractive
		}
		if form.Get("command") != "" {
			return PayloadCommand
		}
		return PayloadUnrecognized
	}
	var meta struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return PayloadUnrecognized
	}
	switch meta.Type {
	case "url_verification":
		return PayloadURLVerification
	case "event_callback":
		return PayloadEventCallback
	}
	return PayloadUnrecognized
}

// slackEventEnvelope is the outer event_callback wrapper.
type slackEventEnvelope struct {
	Type      string          `json:"type"`
	TeamID    string          `json:"team_id"`
	Challenge string          `json:"challenge"`
	Event     json.RawMessage `json:"event"`
}

// slackInnerEvent covers the message and app_mention shapes this relay handles.
type slackInnerEvent struct {
	Type     string `json:"type"`
	Subtype  string `json:"subtype"`
	BotID    string `json:"bot_id"`
	Channel  string `json:"channel"`
	User     string `json:"user"`
	Text     string `json:"text"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts"`
}

// HandleURLVerification echoes the challenge verbatim; Slack requires this
// exact body during install.
func HandleURLVerification(c *gin.Context, body []byte) {
	var env slackEventEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Challenge == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid challenge"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenge": env.Challenge})
}

// HandleEventCallback processes message and app_mention events: resolve the
// workspace, record the inbound message, forward to the AI backend, deliver
// the reply into the originating thread, and record the reply. A backend
// failure is logged and acknowledged with success so Slack does not retry.
func HandleEventCallback(c *gin.Context, body []byte, send DifySender) {
	var env slackEventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid callback"})
		return
	}
	var ev slackInnerEvent
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid inner event"})
		return
	}

	switch ev.Type {
	case "app_uninstalled":
		if err := DeactivateWorkspace(env.TeamID); err != nil {
			log.Printf("[Slack Event] deactivate workspace %s failed: %v", env.TeamID, err)
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	case "message", "app_mention":
	default:
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	// The bot's own output comes back as bot_message; edits come back as
	// message_changed. Both must be dropped to prevent echo loops.
	if ev.BotID != "" || ev.Subtype == "bot_message" || ev.Subtype == "message_changed" {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	ws, err := GetWorkspace(env.TeamID)
	if err != nil {
		if errors.Is(err, ErrWorkspaceNotFound) {
			log.Printf("[Slack Event] unknown workspace %s", env.TeamID)
			c.JSON(http.StatusNotFound, gin.H{"detail": "Unknown workspace"})
			return
		}
		log.Printf("[Slack Event] workspace lookup failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Workspace lookup failed"})
		return
	}

	if err := EnsureChannel(ws.ID, ev.Channel); err != nil {
		log.Printf("[Slack Event] ensure channel %s failed: %v", ev.Channel, err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to record channel"})
		return
	}

	msgID, err := StoreSlackMessage(ws.ID, ev.Channel, ev.User, ev.Text, ev.TS, ev.ThreadTS, "", "")
	if err != nil {
		log.Printf("[Slack Event] persist inbound message failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to persist message"})
		return
	}
	convID := SlackConversationID(env.TeamID, ev.Channel, ev.TS, ev.ThreadTS)
	if err := SetSlackMessageConversation(msgID, convID); err != nil {
		log.Printf("[Slack Event] link conversation %s failed: %v", convID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to persist message"})
		return
	}

	result, err := send(c.Request.Context(), ev.Text, convID, ev.User, "slack")
	if err != nil {
		// The webhook must still be acknowledged: a downstream AI failure is
		// not a delivery failure from Slack's point of view.
		log.Printf("[Slack Event] dify error for conversation %s: %v", convID, err)
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	threadRoot := ev.ThreadTS
	if threadRoot == "" {
		threadRoot = ev.TS
	}
	turn, err := StoreConversationTurn(ev.Text, result.Answer, result.ConversationID, ev.Channel, threadRoot)
	if err != nil {
		log.Printf("[Slack Event] persist turn failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to persist transcript"})
		return
	}

	replyTS, err := SendSlackResponse(c.Request.Context(), ws.AccessToken, ev.Channel, result.Answer, threadRoot)
	if err != nil {
		log.Printf("[Slack Event] deliver reply failed: %v", err)
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	if _, err := StoreSlackMessage(ws.ID, ev.Channel, ws.BotUserID, result.Answer, replyTS, threadRoot, convID, turn.ID); err != nil {
		log.Printf("[Slack Event] persist outbound message failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to persist message"})
		return
	}

	log.Printf("[Slack Event] Channel: %s, User: %s, Conversation: %s", ev.Channel, ev.User, convID)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// HandleSlashCommand answers a slash command in-channel, or with an ephemeral
// error when the AI backend is unavailable. Each invocation is its own
// one-shot conversation.
func HandleSlashCommand(c *gin.Context, cmd slack.SlashCommand, send DifySender) {
	ws, err := GetWorkspace(cmd.TeamID)
	if err != nil {
		if errors.Is(err, ErrWorkspaceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Unknown workspace"})
			return
		}
		log.Printf("[Slack Command] workspace lookup failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Workspace lookup failed"})
		return
	}

	if err := EnsureChannel(ws.ID, cmd.ChannelID); err != nil {
		log.Printf("[Slack Command] ensure channel failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to record channel"})
		return
	}

	convID := NewCommandConversationID(cmd.TeamID, cmd.ChannelID)
	if _, err := StoreSlackMessage(ws.ID, cmd.ChannelID, cmd.UserID, cmd.Command+" "+cmd.Text, callTimeTS(), "", convID, ""); err != nil {
		log.Printf("[Slack Command] persist command failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to persist message"})
		return
	}

	result, err := send(c.Request.Context(), cmd.Text, convID, cmd.UserID, "slack")
	if err != nil {
		log.Printf("[Slack Command] dify error: %v", err)
		c.JSON(http.StatusOK, gin.H{"response_type": "ephemeral", "text": commandErrorText})
		return
	}

	if _, err := StoreConversationTurn(cmd.Text, result.Answer, result.ConversationID, cmd.ChannelID, ""); err != nil {
		log.Printf("[Slack Command] persist turn failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to persist transcript"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"response_type": "in_channel", "text": result.Answer})
}

// HandleInteractive records a summary of the interaction; no AI backend call.
func HandleInteractive(c *gin.Context, payloadJSON []byte) {
	var cb slack.InteractionCallback
	if err := json.Unmarshal(payloadJSON, &cb); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid payload"})
		return
	}
	ws, err := GetWorkspace(cb.Team.ID)
	if err != nil {
		if errors.Is(err, ErrWorkspaceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Unknown workspace"})
			return
		}
		log.Printf("[Slack Interactive] workspace lookup failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Workspace lookup failed"})
		return
	}

	if err := EnsureChannel(ws.ID, cb.Channel.ID); err != nil {
		log.Printf("[Slack Interactive] ensure channel failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to record channel"})
		return
	}
	summary := fmt.Sprintf("interactive: %s", cb.Type)
	convID := NewCommandConversationID(cb.Team.ID, cb.Channel.ID)
	if _, err := StoreSlackMessage(ws.ID, cb.Channel.ID, cb.User.ID, summary, callTimeTS(), "", convID, ""); err != nil {
		log.Printf("[Slack Interactive] persist failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to persist message"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// callTimeTS synthesizes a Slack-shaped timestamp token for records that have
// no provider-assigned one (commands, interactive payloads).
func callTimeTS() string {
	now := time.Now()
	return fmt.Sprintf("%d.%06d", now.Unix(), now.Nanosecond()/1000)
}
