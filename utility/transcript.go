package utility

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gorogorosince/AIAgent-Dify-Public/db"
)

// ConversationTurn is one completed question/answer exchange. Rows are
// immutable once written and never deleted by this system.
type ConversationTurn struct {
	ID               string
	UserMessage      string
	AssistantMessage string
	Timestamp        time.Time
	ConversationID   string
	SlackChannelID   sql.NullString
	SlackThreadTS    sql.NullString
}

// StoreConversationTurn appends one completed exchange. conversationID must
// already be resolved (backend-assigned or locally generated) and is never
// stored empty. channelID/threadTS are optional origin references for
// Slack-sourced turns.
func StoreConversationTurn(userMessage, assistantMessage, conversationID, channelID, threadTS string) (*ConversationTurn, error) {
	dbc := db.Get()
	if dbc == nil {
		return nil, fmt.Errorf("storeConversationTurn failed: database not initialized")
	}
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	turn := &ConversationTurn{
		ID:               uuid.NewString(),
		UserMessage:      userMessage,
		AssistantMessage: assistantMessage,
		ConversationID:   conversationID,
	}
	err := dbc.QueryRow(`
		INSERT INTO conversations (id, user_message, assistant_message, timestamp, conversation_id, slack_channel_id, slack_thread_ts)
		VALUES ($1, $2, $3, now(), $4, NULLIF($5, ''), NULLIF($6, ''))
		RETURNING timestamp`,
		turn.ID, userMessage, assistantMessage, conversationID, channelID, threadTS,
	).Scan(&turn.Timestamp)
	if err != nil {
		return nil, err
	}
	return turn, nil
}

// ListConversationTurns returns turns ordered by recency. A non-nil before
// filters to turns strictly earlier than that instant.
func ListConversationTurns(limit int, before *time.Time) ([]ConversationTurn, error) {
	dbc := db.Get()
	if dbc == nil {
		return nil, fmt.Errorf("listConversationTurns failed: database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, user_message, assistant_message, timestamp, conversation_id, slack_channel_id, slack_thread_ts
		FROM conversations`
	args := []interface{}{}
	if before != nil {
		query += ` WHERE timestamp < $1 ORDER BY timestamp DESC LIMIT $2`
		args = append(args, *before, limit)
	} else {
		query += ` ORDER BY timestamp DESC LIMIT $1`
		args = append(args, limit)
	}
	rows, err := dbc.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var turns []ConversationTurn
	for rows.Next() {
		var t ConversationTurn
		if err := rows.Scan(&t.ID, &t.UserMessage, &t.AssistantMessage, &t.Timestamp, &t.ConversationID, &t.SlackChannelID, &t.SlackThreadTS); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// StoreSlackMessage appends one inbound or outbound Slack-surface message and
// returns its row id. ts and threadTS are opaque provider tokens. turnID, when
// non-empty, links the message to a ConversationTurn with ON DELETE SET NULL
// semantics; conversationID is the loose cross-surface correlation key.
func StoreSlackMessage(workspaceID, channelID, userID, text, ts, threadTS, conversationID, turnID string) (int64, error) {
	dbc := db.Get()
	if dbc == nil {
		return 0, fmt.Errorf("storeSlackMessage failed: database not initialized")
	}
	var id int64
	err := dbc.QueryRow(`
		INSERT INTO slack_messages (workspace_id, channel_id, user_id, text, ts, thread_ts, conversation_id, conversation_turn_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), now())
		RETURNING id`,
		workspaceID, channelID, userID, text, ts, threadTS, conversationID, turnID,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// SetSlackMessageConversation writes the resolved conversation id back onto a
// previously stored message.
func SetSlackMessageConversation(id int64, conversationID string) error {
	dbc := db.Get()
	if dbc == nil {
		return fmt.Errorf("setSlackMessageConversation failed: database not initialized")
	}
	_, err := dbc.Exec(`UPDATE slack_messages SET conversation_id = $2 WHERE id = $1`, id, conversationID)
	return err
}
