package utility

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gorogorosince/AIAgent-Dify-Public/db"
)

// ErrWorkspaceNotFound marks events that reference a team this app was never
// installed into.
var ErrWorkspaceNotFound = errors.New("workspace not found")

// Workspace is one installed Slack tenant. Rows are soft-deactivated, never
// hard-deleted, so transcripts stay attributable.
type Workspace struct {
	ID                     string
	Name                   string
	AccessToken            string
	BotUserID              string
	BotScope               string
	IncomingWebhookURL     sql.NullString
	IncomingWebhookChannel sql.NullString
	InstalledAt            time.Time
	IsActive               bool
}

// Channel is one messaging channel inside a Workspace.
type Channel struct {
	ID          string
	WorkspaceID string
	Name        string
	IsPrivate   bool
	IsActive    bool
	CreatedAt   time.Time
}

// UpsertWorkspace inserts or overwrites the workspace row for res.TeamID and
// marks it active. Keyed by primary key, so concurrent callback retries for
// the same team are idempotent.
func UpsertWorkspace(res *SlackOAuthResult) (*Workspace, error) {
	dbc := db.Get()
	if dbc == nil {
		return nil, fmt.Errorf("upsertWorkspace failed: database not initialized")
	}
	ws := &Workspace{}
	err := dbc.QueryRow(`
		INSERT INTO slack_workspaces (id, name, access_token, bot_user_id, bot_scope, incoming_webhook_url, incoming_webhook_channel, installed_at, is_active)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), now(), TRUE)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			access_token = EXCLUDED.access_token,
			bot_user_id = EXCLUDED.bot_user_id,
			bot_scope = EXCLUDED.bot_scope,
			incoming_webhook_url = EXCLUDED.incoming_webhook_url,
			incoming_webhook_channel = EXCLUDED.incoming_webhook_channel,
			is_active = TRUE
		RETURNING id, name, access_token, bot_user_id, bot_scope, incoming_webhook_url, incoming_webhook_channel, installed_at, is_active`,
		res.TeamID, res.TeamName, res.AccessToken, res.BotUserID, res.Scope, res.IncomingWebhookURL, res.IncomingWebhookChannel,
	).Scan(&ws.ID, &ws.Name, &ws.AccessToken, &ws.BotUserID, &ws.BotScope, &ws.IncomingWebhookURL, &ws.IncomingWebhookChannel, &ws.InstalledAt, &ws.IsActive)
	if err != nil {
		return nil, err
	}
	log.Printf("[Workspace] Upserted workspace %s (%s)", ws.ID, ws.Name)
	return ws, nil
}

// GetWorkspace loads the active workspace for a team id. Missing and
// deactivated rows both map to ErrWorkspaceNotFound so handlers answer 404
// uniformly; an uninstalled workspace must never be used to call the AI
// backend or post with its revoked token.
func GetWorkspace(teamID string) (*Workspace, error) {
	dbc := db.Get()
	if dbc == nil {
		return nil, fmt.Errorf("getWorkspace failed: database not initialized")
	}
	ws := &Workspace{}
	err := dbc.QueryRow(`
		SELECT id, name, access_token, bot_user_id, bot_scope, incoming_webhook_url, incoming_webhook_channel, installed_at, is_active
		FROM slack_workspaces WHERE id = $1 AND is_active = TRUE`, teamID,
	).Scan(&ws.ID, &ws.Name, &ws.AccessToken, &ws.BotUserID, &ws.BotScope, &ws.IncomingWebhookURL, &ws.IncomingWebhookChannel, &ws.InstalledAt, &ws.IsActive)
	if err == sql.ErrNoRows {
		return nil, ErrWorkspaceNotFound
	}
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// DeactivateWorkspace flips is_active off, preserving the row for audit.
func DeactivateWorkspace(teamID string) error {
	dbc := db.Get()
	if dbc == nil {
		return fmt.Errorf("deactivateWorkspace failed: database not initialized")
	}
	if _, err := dbc.Exec(`UPDATE slack_workspaces SET is_active = FALSE WHERE id = $1`, teamID); err != nil {
		return err
	}
	log.Printf("[Workspace] Deactivated workspace %s", teamID)
	return nil
}

// SyncChannels fetches the workspace's channel list from Slack and upserts
// each by (id, workspace_id), returning the full resulting set.
func SyncChannels(ctx context.Context, token, workspaceID string) ([]Channel, error) {
	dbc := db.Get()
	if dbc == nil {
		return nil, fmt.Errorf("syncChannels failed: database not initialized")
	}
	remote, err := fetchSlackChannels(ctx, token)
	if err != nil {
		return nil, err
	}
	out := make([]Channel, 0, len(remote))
	for _, rc := range remote {
		ch := Channel{}
		err := dbc.QueryRow(`
			INSERT INTO slack_channels (id, workspace_id, name, is_private, is_active, created_at)
			VALUES ($1, $2, $3, $4, TRUE, now())
			ON CONFLICT (id, workspace_id) DO UPDATE SET
				name = EXCLUDED.name,
				is_private = EXCLUDED.is_private,
				is_active = TRUE
			RETURNING id, workspace_id, name, is_private, is_active, created_at`,
			rc.ID, workspaceID, rc.Name, rc.IsPrivate,
		).Scan(&ch.ID, &ch.WorkspaceID, &ch.Name, &ch.IsPrivate, &ch.IsActive, &ch.CreatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	log.Printf("[Workspace] Synced %d channels for workspace %s", len(out), workspaceID)
	return out, nil
}

// EnsureChannel lazily records a channel the first time an event references
// it, with a placeholder name until the next sync. Races between concurrent
// deliveries of the same channel are harmless.
func EnsureChannel(workspaceID, channelID string) error {
	dbc := db.Get()
	if dbc == nil {
		return fmt.Errorf("ensureChannel failed: database not initialized")
	}
	_, err := dbc.Exec(`
		INSERT INTO slack_channels (id, workspace_id, name, is_private, is_active, created_at)
		VALUES ($1, $2, $3, FALSE, TRUE, now())
		ON CONFLICT (id, workspace_id) DO NOTHING`,
		channelID, workspaceID, "unknown-"+channelID)
	if err != nil && !IsUniqueViolation(err) {
		return err
	}
	return nil
}
