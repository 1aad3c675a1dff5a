package routes

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gorogorosince/AIAgent-Dify-Public/utility"
)

// maxHistoryLimit caps a caller-supplied page size; the history endpoint is
// unauthenticated surface and must not pass arbitrary limits into SQL.
const maxHistoryLimit = 200

// RegisterChatRoutes registers the direct web chat endpoints and the health probe.
func RegisterChatRoutes(r *gin.Engine, send utility.DifySender) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/api/chat", func(c *gin.Context) {
		var req struct {
			Message        string `json:"message" binding:"required"`
			ConversationID string `json:"conversation_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request"})
			return
		}
		result, err := send(c.Request.Context(), req.Message, req.ConversationID, "", "web")
		if err != nil {
			// Unlike the Slack path, the web client gets the failure: nothing
			// is persisted for a turn that never completed.
			log.Printf("[Chat] dify error: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "AI backend unavailable"})
			return
		}
		turn, err := utility.StoreConversationTurn(req.Message, result.Answer, result.ConversationID, "", "")
		if err != nil {
			log.Printf("[Chat] persist turn failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to persist conversation"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"conversation_id": turn.ConversationID,
			"message":         turn.AssistantMessage,
			"timestamp":       turn.Timestamp,
		})
	})

	r.GET("/api/chat/history", func(c *gin.Context) {
		limit := 50
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid limit"})
				return
			}
			if n > maxHistoryLimit {
				n = maxHistoryLimit
			}
			limit = n
		}
		var before *time.Time
		if v := c.Query("before"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid before timestamp"})
				return
			}
			before = &t
		}
		turns, err := utility.ListConversationTurns(limit, before)
		if err != nil {
			log.Printf("[Chat] history query failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to load history"})
			return
		}
		out := make([]gin.H, 0, len(turns))
		for _, t := range turns {
			out = append(out, gin.H{
				"id":                t.ID,
				"user_message":      t.UserMessage,
				"assistant_message": t.AssistantMessage,
				"timestamp":         t.Timestamp,
				"conversation_id":   t.ConversationID,
			})
		}
		c.JSON(http.StatusOK, out)
	})
}
