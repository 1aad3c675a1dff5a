package routes

import (
	"bytes"
	"io"
	"log"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"

	"github.com/gorogorosince/AIAgent-Dify-Public/internal/config"
	"github.com/gorogorosince/AIAgent-Dify-Public/utility"
)

// RegisterSlackRoutes registers the install flow and the signed webhook endpoints.
func RegisterSlackRoutes(r *gin.Engine, cfg *config.AppConfig, states *utility.StateStore, send utility.DifySender) {
	r.GET("/api/slack/install", func(c *gin.Context) {
		state, err := states.Issue()
		if err != nil {
			log.Printf("[Slack Install] state generation failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to generate state"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"install_url": utility.BuildSlackInstallURL(cfg.SlackClientID, state)})
	})

	r.GET("/api/slack/oauth/callback", func(c *gin.Context) {
		code := c.Query("code")
		state := c.Query("state")
		if code == "" || state == "" {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Missing code or state"})
			return
		}
		if !states.Redeem(state) {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid state parameter"})
			return
		}
		res, err := utility.ExchangeSlackOAuthCode(c.Request.Context(), cfg.SlackClientID, cfg.SlackClientSecret, code)
		if err != nil {
			log.Printf("[Slack OAuth] exchange failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "OAuth exchange failed"})
			return
		}
		ws, err := utility.UpsertWorkspace(res)
		if err != nil {
			log.Printf("[Slack OAuth] workspace upsert failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to store workspace"})
			return
		}
		if _, err := utility.SyncChannels(c.Request.Context(), ws.AccessToken, ws.ID); err != nil {
			log.Printf("[Slack OAuth] channel sync failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to sync channels"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "team_id": ws.ID, "team_name": ws.Name})
	})

	r.POST("/api/slack/events", func(c *gin.Context) {
		body, ok := verifiedBody(c, cfg.SlackSigningSecret)
		if !ok {
			return
		}
		switch utility.ClassifySlackPayload(c.ContentType(), body) {
		case utility.PayloadURLVerification:
			utility.HandleURLVerification(c, body)
		case utility.PayloadEventCallback:
			utility.HandleEventCallback(c, body, send)
		case utility.PayloadCommand:
			// SlashCommandParse consumes the request form, so restore the body
			// the signature was verified against.
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
			cmd, err := slack.SlashCommandParse(c.Request)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid command payload"})
				return
			}
			utility.HandleSlashCommand(c, cmd, send)
		case utility.PayloadInteractive:
			form, err := url.ParseQuery(string(body))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid payload"})
				return
			}
			utility.HandleInteractive(c, []byte(form.Get("payload")))
		default:
			c.JSON(http.StatusOK, gin.H{"ok": true})
		}
	})

	r.POST("/api/slack/interactivity", func(c *gin.Context) {
		body, ok := verifiedBody(c, cfg.SlackSigningSecret)
		if !ok {
			return
		}
		form, err := url.ParseQuery(string(body))
		if err != nil || form.Get("payload") == "" {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid payload"})
			return
		}
		utility.HandleInteractive(c, []byte(form.Get("payload")))
	})
}

// verifiedBody reads the raw request body and gates it on the Slack request
// signature. Verification runs over the raw bytes before any parsing; a
// failure rejects the request before any state mutation.
func verifiedBody(c *gin.Context, signingSecret string) ([]byte, bool) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Failed to read body"})
		return nil, false
	}
	if !utility.VerifySlackSignature(
		signingSecret,
		c.GetHeader("X-Slack-Request-Timestamp"),
		body,
		c.GetHeader("X-Slack-Signature"),
	) {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid request signature"})
		return nil, false
	}
	return body, true
}
