// Package store implements the persistent per-user records: voice channel
// settings and economy balances. Queries are written to run on Postgres in
// production and in-memory sqlite in tests, so placeholders appear in
// ascending order and timestamps use CURRENT_TIMESTAMP.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ChannelSettings is one user's persisted channel configuration. ChannelID is
// empty while the user has no live channel; the row itself survives channel
// deletion so name, limit and moderation lists are reused on the next join.
type ChannelSettings struct {
	UserID      string
	ChannelID   string
	ChannelName string
	UserLimit   int
	BannedUsers []string
	MutedUsers  []string
	IsLocked    bool
	IsHidden    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MemberChecker reports whether a user is currently a member of the guild.
// Save uses it to drop list entries for users who have left.
type MemberChecker interface {
	IsMember(ctx context.Context, userID string) bool
}

// Settings is the data access layer for user_channel_settings.
type Settings struct {
	db *sql.DB
}

func NewSettings(db *sql.DB) *Settings { return &Settings{db: db} }

// Get loads the user's settings row, or nil if the user has never saved any.
func (s *Settings) Get(ctx context.Context, userID string) (*ChannelSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, channel_id, channel_name, user_limit, banned_users, muted_users,
		       is_locked, is_hidden, created_at, updated_at
		FROM user_channel_settings WHERE user_id = $1`, userID)

	var (
		cs                 ChannelSettings
		channelID, name    sql.NullString
		banned, muted      sql.NullString
		created, updated   sql.NullTime
	)
	err := row.Scan(&cs.UserID, &channelID, &name, &cs.UserLimit, &banned, &muted,
		&cs.IsLocked, &cs.IsHidden, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load settings for %s: %w", userID, err)
	}

	cs.ChannelID = channelID.String
	cs.ChannelName = name.String
	cs.BannedUsers = decodeList(banned.String)
	cs.MutedUsers = decodeList(muted.String)
	cs.CreatedAt = created.Time
	cs.UpdatedAt = updated.Time
	return &cs, nil
}

// Save upserts the user's full settings row. Moderation lists are re-validated
// against current guild membership: entries for users no longer in the guild
// are dropped silently. Lists are deduplicated. Last write wins per user.
func (s *Settings) Save(ctx context.Context, guild MemberChecker, userID string, in ChannelSettings) error {
	banned := validateMembers(ctx, guild, dedupe(in.BannedUsers))
	muted := validateMembers(ctx, guild, dedupe(in.MutedUsers))

	bannedJSON, err := json.Marshal(banned)
	if err != nil {
		return fmt.Errorf("encode banned list: %w", err)
	}
	mutedJSON, err := json.Marshal(muted)
	if err != nil {
		return fmt.Errorf("encode muted list: %w", err)
	}

	channelID := sql.NullString{String: in.ChannelID, Valid: in.ChannelID != ""}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_channel_settings
			(user_id, channel_id, channel_name, user_limit, banned_users, muted_users,
			 is_locked, is_hidden, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			channel_id = EXCLUDED.channel_id,
			channel_name = EXCLUDED.channel_name,
			user_limit = EXCLUDED.user_limit,
			banned_users = EXCLUDED.banned_users,
			muted_users = EXCLUDED.muted_users,
			is_locked = EXCLUDED.is_locked,
			is_hidden = EXCLUDED.is_hidden,
			updated_at = CURRENT_TIMESTAMP`,
		userID, channelID, in.ChannelName, in.UserLimit, string(bannedJSON), string(mutedJSON),
		in.IsLocked, in.IsHidden)
	if err != nil {
		return fmt.Errorf("save settings for %s: %w", userID, err)
	}
	return nil
}

// Delete removes the user's settings row entirely.
func (s *Settings) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_channel_settings WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete settings for %s: %w", userID, err)
	}
	return nil
}

// UpdateChannelID rebinds (or, with empty channelID, clears) the user's live
// channel without touching the rest of the row. A no-op if the row is absent.
func (s *Settings) UpdateChannelID(ctx context.Context, userID, channelID string) error {
	v := sql.NullString{String: channelID, Valid: channelID != ""}
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_channel_settings SET channel_id = $1, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = $2`, v, userID)
	if err != nil {
		return fmt.Errorf("update channel id for %s: %w", userID, err)
	}
	return nil
}

// ClearChannel unbinds every row pointing at the channel. Used by the startup
// sweep where the owner is unknown.
func (s *Settings) ClearChannel(ctx context.Context, channelID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_channel_settings SET channel_id = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE channel_id = $1`, channelID)
	if err != nil {
		return fmt.Errorf("clear channel %s: %w", channelID, err)
	}
	return nil
}

// UserByChannel resolves the owner of a live channel, or empty string.
func (s *Settings) UserByChannel(ctx context.Context, channelID string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM user_channel_settings WHERE channel_id = $1`, channelID).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve owner of %s: %w", channelID, err)
	}
	return userID, nil
}

func decodeList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		// Corrupt list payloads degrade to empty, matching the read-side
		// tolerance the rest of the system expects.
		return []string{}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func validateMembers(ctx context.Context, guild MemberChecker, ids []string) []string {
	if guild == nil {
		return ids
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if guild.IsMember(ctx, id) {
			out = append(out, id)
		}
	}
	return out
}
