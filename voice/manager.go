// Package voice owns the ephemeral channel lifecycle: creation when a user
// enters the trigger channel, settings application, deletion on emptiness,
// and the startup sweep that reconciles orphans after a restart.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/onnwee/voicekeeper/platform"
	"github.com/onnwee/voicekeeper/registry"
	"github.com/onnwee/voicekeeper/store"
	"github.com/onnwee/voicekeeper/telemetry"
)

// Manager reacts to voice presence changes. All entry points swallow errors
// at the handler boundary: a failed provision degrades one join, never the
// process.
type Manager struct {
	api      platform.API
	presence platform.Presence
	settings *store.Settings
	members  *registry.Memberships

	guildID   string
	triggerID string
	category  string
	grace     time.Duration

	mu      sync.Mutex
	createdAt map[string]time.Time
}

func NewManager(api platform.API, presence platform.Presence, settings *store.Settings, members *registry.Memberships, guildID, triggerID, categoryID string, grace time.Duration) *Manager {
	return &Manager{
		api:       api,
		presence:  presence,
		settings:  settings,
		members:   members,
		guildID:   guildID,
		triggerID: triggerID,
		category:  categoryID,
		grace:     grace,
		createdAt: make(map[string]time.Time),
	}
}

// HandleUpdate processes one voice state transition. It never returns an
// error; failures are logged and the event is dropped.
func (m *Manager) HandleUpdate(ctx context.Context, e *discordgo.VoiceStateUpdate) {
	if e.GuildID != "" && e.GuildID != m.guildID {
		return
	}

	old := ""
	if e.BeforeUpdate != nil {
		old = e.BeforeUpdate.ChannelID
	}

	if e.ChannelID == m.triggerID && old != m.triggerID {
		if err := m.provision(ctx, e.UserID); err != nil {
			telemetry.LoggerWithCorr(ctx).Error("channel provisioning failed",
				slog.Any("err", err), slog.String("user", e.UserID))
		}
	}

	if old != "" && old != e.ChannelID {
		m.reapAfterGrace(ctx, old)
	}
}

// provision creates the user's channel, applies persisted settings, saves the
// new binding and moves the user in.
func (m *Manager) provision(ctx context.Context, userID string) error {
	cs, err := m.settings.Get(ctx, userID)
	if err != nil {
		// A failed settings read degrades to first-join defaults.
		telemetry.LoggerWithCorr(ctx).Warn("settings read failed, using defaults",
			slog.Any("err", err), slog.String("user", userID))
		cs = nil
	}
	if cs == nil {
		cs = &store.ChannelSettings{}
	}

	name := cs.ChannelName
	if name == "" {
		name = m.displayName(userID)
	}
	limit := cs.UserLimit
	if limit < 0 || limit > 99 {
		limit = 0
	}

	ch, err := m.api.GuildChannelCreateComplex(m.guildID, discordgo.GuildChannelCreateData{
		Name:      name,
		Type:      discordgo.ChannelTypeGuildVoice,
		ParentID:  m.category,
		UserLimit: limit,
	})
	if err != nil {
		return fmt.Errorf("create channel: %w", err)
	}

	m.applyOverrides(ctx, ch.ID, cs)

	// Persist the new binding with normalized defaults. A failed save leaves
	// an unbound channel; the startup sweep mitigates this.
	cs.ChannelID = ch.ID
	cs.ChannelName = name
	cs.UserLimit = limit
	guild := platform.GuildMembers{API: m.api, GuildID: m.guildID}
	if err := m.settings.Save(ctx, guild, userID, *cs); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("settings save failed after channel create",
			slog.Any("err", err), slog.String("user", userID), slog.String("channel", ch.ID))
	}

	if err := m.api.GuildMemberMove(m.guildID, userID, &ch.ID); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("move into new channel failed",
			slog.Any("err", err), slog.String("user", userID), slog.String("channel", ch.ID))
	}

	m.members.Set(userID, ch.ID)
	m.mu.Lock()
	m.createdAt[ch.ID] = time.Now()
	active := len(m.createdAt)
	m.mu.Unlock()

	if telemetry.ChannelsCreated != nil {
		telemetry.ChannelsCreated.Inc()
	}
	telemetry.SetActiveChannels(active)

	telemetry.LoggerWithCorr(ctx).Info("ephemeral channel created",
		slog.String("user", userID), slog.String("channel", ch.ID), slog.String("name", name))
	return nil
}

// applyOverrides restores the persisted access rules on a fresh channel.
// Per-user failures for departed members are skipped silently; anything else
// is logged and skipped.
func (m *Manager) applyOverrides(ctx context.Context, channelID string, cs *store.ChannelSettings) {
	log := telemetry.LoggerWithCorr(ctx)
	everyone := m.guildID // the implicit @everyone role shares the guild id

	var everyoneDeny int64
	if cs.IsHidden {
		everyoneDeny |= discordgo.PermissionViewChannel
	}
	if cs.IsLocked {
		everyoneDeny |= discordgo.PermissionVoiceConnect
	}
	if everyoneDeny != 0 {
		if err := m.api.ChannelPermissionSet(channelID, everyone, discordgo.PermissionOverwriteTypeRole, 0, everyoneDeny); err != nil {
			log.Error("everyone override failed", slog.Any("err", err), slog.String("channel", channelID))
		}
	}

	for _, userID := range cs.MutedUsers {
		if err := m.api.ChannelPermissionSet(channelID, userID, discordgo.PermissionOverwriteTypeMember, 0, discordgo.PermissionVoiceSpeak); err != nil {
			if !platform.IsBenignMissing(err) {
				log.Error("mute override failed", slog.Any("err", err), slog.String("user", userID))
			}
		}
	}
	for _, userID := range cs.BannedUsers {
		if err := m.api.ChannelPermissionSet(channelID, userID, discordgo.PermissionOverwriteTypeMember, 0, discordgo.PermissionVoiceConnect); err != nil {
			if !platform.IsBenignMissing(err) {
				log.Error("ban override failed", slog.Any("err", err), slog.String("user", userID))
			}
		}
	}
}

func (m *Manager) displayName(userID string) string {
	member, err := m.api.GuildMember(m.guildID, userID)
	if err != nil || member == nil || member.User == nil {
		return "voice"
	}
	if member.Nick != "" {
		return member.Nick
	}
	return member.User.Username
}

// reapAfterGrace waits the debounce delay and deletes the channel if it is an
// ephemeral channel that is still empty. The delay absorbs reconnect flaps;
// it is best-effort, not a guarantee.
func (m *Manager) reapAfterGrace(ctx context.Context, channelID string) {
	if channelID == m.triggerID {
		return
	}

	timer := time.NewTimer(m.grace)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	ch, err := m.api.Channel(channelID)
	if err != nil {
		if !platform.IsBenignMissing(err) {
			telemetry.LoggerWithCorr(ctx).Warn("channel lookup failed during reap",
				slog.Any("err", err), slog.String("channel", channelID))
		}
		return
	}
	if ch.ParentID != m.category || ch.Type != discordgo.ChannelTypeGuildVoice {
		return
	}
	if len(platform.ChannelOccupants(m.presence, m.guildID, channelID)) > 0 {
		return
	}

	m.remove(ctx, channelID, telemetry.ChannelsDeleted)
}

// remove deletes the channel and reconciles registry and settings bindings.
func (m *Manager) remove(ctx context.Context, channelID string, counter prometheus.Counter) {
	if _, err := m.api.ChannelDelete(channelID); err != nil {
		if !platform.IsBenignMissing(err) {
			telemetry.LoggerWithCorr(ctx).Error("channel delete failed",
				slog.Any("err", err), slog.String("channel", channelID))
			return
		}
	}

	m.members.RemoveChannel(channelID)
	if err := m.settings.ClearChannel(ctx, channelID); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("channel unbind failed",
			slog.Any("err", err), slog.String("channel", channelID))
	}

	m.mu.Lock()
	if createdAt, ok := m.createdAt[channelID]; ok {
		if telemetry.ChannelLifetime != nil {
			telemetry.ChannelLifetime.Observe(time.Since(createdAt).Seconds())
		}
		delete(m.createdAt, channelID)
	}
	active := len(m.createdAt)
	m.mu.Unlock()

	if counter != nil {
		counter.Inc()
	}
	telemetry.SetActiveChannels(active)

	telemetry.LoggerWithCorr(ctx).Info("ephemeral channel deleted", slog.String("channel", channelID))
}

// Sweep deletes empty ephemeral channels left over from a previous process
// (in-memory maps were lost, orphan channels remain). Returns the number of
// channels removed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	channels, err := m.api.GuildChannels(m.guildID)
	if err != nil {
		return 0, fmt.Errorf("list guild channels: %w", err)
	}

	swept := 0
	for _, ch := range channels {
		if ch.ParentID != m.category || ch.ID == m.triggerID || ch.Type != discordgo.ChannelTypeGuildVoice {
			continue
		}
		if len(platform.ChannelOccupants(m.presence, m.guildID, ch.ID)) > 0 {
			continue
		}
		m.remove(ctx, ch.ID, telemetry.ChannelsSwept)
		swept++
	}
	if swept > 0 {
		telemetry.LoggerWithCorr(ctx).Info("startup sweep removed orphan channels", slog.Int("count", swept))
	}
	return swept, nil
}
