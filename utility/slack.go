package utility

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

// Scopes requested when a workspace installs the app.
var slackInstallScopes = []string{
	"chat:write",
	"channels:read",
	"commands",
	"incoming-webhook",
	"im:history",
	"im:write",
}

// slackHTTPClient bounds every outbound Slack API call.
var slackHTTPClient = &http.Client{Timeout: 30 * time.Second}

// BuildSlackInstallURL returns the OAuth v2 authorize URL embedding the
// single-use state token.
func BuildSlackInstallURL(clientID, state string) string {
	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("scope", strings.Join(slackInstallScopes, ","))
	q.Set("state", state)
	return "https://slack.com/oauth/v2/authorize?" + q.Encode()
}

// SlackOAuthResult carries the fields of a successful oauth.v2.access exchange
// that the workspace directory persists.
type SlackOAuthResult struct {
	TeamID                 string
	TeamName               string
	AccessToken            string
	BotUserID              string
	Scope                  string
	IncomingWebhookURL     string
	IncomingWebhookChannel string
}

// ExchangeSlackOAuthCode trades the temporary OAuth code for a bot token.
func ExchangeSlackOAuthCode(ctx context.Context, clientID, clientSecret, code string) (*SlackOAuthResult, error) {
	resp, err := slack.GetOAuthV2ResponseContext(ctx, slackHTTPClient, clientID, clientSecret, code, "")
	if err != nil {
		return nil, fmt.Errorf("%w: oauth exchange: %v", ErrBackendUnavailable, err)
	}
	log.Printf("[Slack OAuth] Exchanged code for team %s (%s), token %s", resp.Team.ID, resp.Team.Name, MaskToken(resp.AccessToken))
	return &SlackOAuthResult{
		TeamID:                 resp.Team.ID,
		TeamName:               resp.Team.Name,
		AccessToken:            resp.AccessToken,
		BotUserID:              resp.BotUserID,
		Scope:                  resp.Scope,
		IncomingWebhookURL:     resp.IncomingWebhook.URL,
		IncomingWebhookChannel: resp.IncomingWebhook.Channel,
	}, nil
}

// SendSlackResponse posts a message to a Slack channel using the workspace's
// bot token. A non-empty threadTS anchors the reply in that thread. Returns
// the provider timestamp token of the posted message.
func SendSlackResponse(ctx context.Context, token, channel, text, threadTS string) (string, error) {
	api := slack.New(token, slack.OptionHTTPClient(slackHTTPClient))
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	_, ts, err := api.PostMessageContext(ctx, channel, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: post message: %v", ErrBackendUnavailable, err)
	}
	log.Printf("[Slack API] Message sent to channel %s (ts %s)", channel, ts)
	return ts, nil
}

// fetchSlackChannels pages through conversations.list for the workspace.
func fetchSlackChannels(ctx context.Context, token string) ([]slack.Channel, error) {
	api := slack.New(token, slack.OptionHTTPClient(slackHTTPClient))
	var all []slack.Channel
	cursor := ""
	for {
		chans, next, err := api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Types:  []string{"public_channel", "private_channel"},
			Cursor: cursor,
			Limit:  200,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: conversations.list: %v", ErrBackendUnavailable, err)
		}
		all = append(all, chans...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}
