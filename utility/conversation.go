package utility

import (
	"fmt"
	"time"
)

// SlackConversationID derives the stable conversation identity for an inbound
// Slack message. All replies in a thread share the thread's root timestamp;
// an un-threaded message starts its own conversation keyed by its own ts.
// The ts tokens are opaque Slack identifiers, never parsed as times.
func SlackConversationID(teamID, channelID, ts, threadTS string) string {
	if threadTS != "" {
		return fmt.Sprintf("slack-%s-%s-%s", teamID, channelID, threadTS)
	}
	return fmt.Sprintf("slack-%s-%s-%s", teamID, channelID, ts)
}

// NewCommandConversationID synthesizes a fresh conversation identity for a
// slash command or interactive payload, which carry no thread to anchor to.
// Each invocation is its own one-shot conversation.
func NewCommandConversationID(teamID, channelID string) string {
	now := time.Now()
	return fmt.Sprintf("slack-%s-%s-%d.%06d", teamID, channelID, now.Unix(), now.Nanosecond()/1000)
}
