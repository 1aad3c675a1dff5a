package utility

import (
	"strings"
	"testing"
)

func TestSlackConversationID_ThreadRepliesShareID(t *testing.T) {
	a := SlackConversationID("T123", "C456", "1700000001.000100", "1700000000.000001")
	b := SlackConversationID("T123", "C456", "1700000002.000200", "1700000000.000001")
	if a != b {
		t.Fatalf("expected thread replies to share a conversation id, got %q vs %q", a, b)
	}
	if a != "slack-T123-C456-1700000000.000001" {
		t.Fatalf("unexpected id %q", a)
	}
}

func TestSlackConversationID_UnthreadedMessagesDiffer(t *testing.T) {
	a := SlackConversationID("T123", "C456", "1700000001.000100", "")
	b := SlackConversationID("T123", "C456", "1700000002.000200", "")
	if a == b {
		t.Fatalf("expected un-threaded messages to start distinct conversations")
	}
}

func TestSlackConversationID_ChannelsAreIsolated(t *testing.T) {
	a := SlackConversationID("T123", "C1", "1700000001.000100", "")
	b := SlackConversationID("T123", "C2", "1700000001.000100", "")
	if a == b {
		t.Fatalf("expected different channels to map to different conversations")
	}
}

func TestNewCommandConversationID_Shape(t *testing.T) {
	id := NewCommandConversationID("T123", "C456")
	if !strings.HasPrefix(id, "slack-T123-C456-") {
		t.Fatalf("unexpected command conversation id %q", id)
	}
}
