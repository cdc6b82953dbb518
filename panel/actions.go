package panel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/voicekeeper/platform"
	"github.com/onnwee/voicekeeper/store"
	"github.com/onnwee/voicekeeper/telemetry"
)

// promptFor asks the clicking user for one chat message and returns it. The
// instruction goes out as the ephemeral interaction reply; the consumed input
// message is deleted best-effort so the panel channel stays clean.
func (d *Dispatcher) promptFor(ctx context.Context, i *discordgo.Interaction, userID, instruction string) (*discordgo.Message, bool) {
	d.respond(i, instruction)
	m, err := d.prompts.Await(ctx, userID, d.panelChannelID, d.timeout)
	if err != nil {
		d.followup(i, "Timed out waiting for your reply. Press the button again to retry.")
		return nil, false
	}
	if err := d.api.ChannelMessageDelete(m.ChannelID, m.ID); err != nil && !platform.IsBenignMissing(err) {
		telemetry.LoggerWithCorr(ctx).Warn("prompt cleanup failed", slog.Any("err", err))
	}
	return m, true
}

// targetFrom extracts the user id a prompt reply is pointing at: an explicit
// mention wins, otherwise a raw snowflake.
func targetFrom(m *discordgo.Message) string {
	if len(m.Mentions) > 0 {
		return m.Mentions[0].ID
	}
	s := strings.TrimSpace(m.Content)
	s = strings.TrimPrefix(s, "<@!")
	s = strings.TrimPrefix(s, "<@")
	s = strings.TrimSuffix(s, ">")
	for _, r := range s {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return s
}

// mergeSave re-reads the settings row and applies the mutation before saving,
// so concurrent actions never clobber each other's fields.
func (d *Dispatcher) mergeSave(ctx context.Context, userID, channelID string, mutate func(*store.ChannelSettings)) error {
	cs, err := d.settings.Get(ctx, userID)
	if err != nil {
		return err
	}
	if cs == nil {
		cs = &store.ChannelSettings{}
	}
	cs.ChannelID = channelID
	mutate(cs)
	guild := platform.GuildMembers{API: d.api, GuildID: d.guildID}
	return d.settings.Save(ctx, guild, userID, *cs)
}

func (d *Dispatcher) changeName(ctx context.Context, i *discordgo.Interaction, userID, channelID string) {
	m, ok := d.promptFor(ctx, i, userID, "Type the new channel name in chat (1–100 characters).")
	if !ok {
		return
	}
	name := strings.TrimSpace(m.Content)
	if n := utf8.RuneCountInString(name); n < 1 || n > 100 {
		d.followup(i, "Channel names must be between 1 and 100 characters.")
		return
	}
	if _, err := d.api.ChannelEdit(channelID, &discordgo.ChannelEdit{Name: name}); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("rename failed", slog.Any("err", err), slog.String("channel", channelID))
		d.followup(i, "Renaming the channel failed, try again in a moment.")
		return
	}
	if err := d.mergeSave(ctx, userID, channelID, func(cs *store.ChannelSettings) { cs.ChannelName = name }); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("rename persist failed", slog.Any("err", err))
	}
	d.followup(i, fmt.Sprintf("Channel renamed to **%s**.", name))
}

func (d *Dispatcher) changeLimit(ctx context.Context, i *discordgo.Interaction, userID, channelID string) {
	m, ok := d.promptFor(ctx, i, userID, "Type the new user limit in chat (0–99, 0 means unlimited).")
	if !ok {
		return
	}
	limit, err := strconv.Atoi(strings.TrimSpace(m.Content))
	if err != nil || limit < 0 || limit > 99 {
		d.followup(i, "The user limit must be a number between 0 and 99.")
		return
	}
	if err := d.editUserLimit(channelID, limit); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("limit change failed", slog.Any("err", err), slog.String("channel", channelID))
		d.followup(i, "Changing the user limit failed, try again in a moment.")
		return
	}
	if err := d.mergeSave(ctx, userID, channelID, func(cs *store.ChannelSettings) { cs.UserLimit = limit }); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("limit persist failed", slog.Any("err", err))
	}
	if limit == 0 {
		d.followup(i, "User limit removed.")
		return
	}
	d.followup(i, fmt.Sprintf("User limit set to **%d**.", limit))
}

// editUserLimit patches the channel capacity with an explicit payload.
// ChannelEdit marshals user_limit with omitempty, so an edit back to 0
// (unlimited) would serialize to an empty PATCH and leave the old limit
// in place.
func (d *Dispatcher) editUserLimit(channelID string, limit int) error {
	payload := struct {
		UserLimit int `json:"user_limit"`
	}{limit}
	endpoint := discordgo.EndpointChannel(channelID)
	_, err := d.api.RequestWithBucketID("PATCH", endpoint, payload, endpoint)
	return err
}

// applyEveryoneOverwrite materializes the lock/hide pair on the @everyone
// role. Both flags share one overwrite, so the full bitset is recomputed on
// every toggle; when neither flag is set the overwrite is removed entirely.
func (d *Dispatcher) applyEveryoneOverwrite(channelID string, locked, hidden bool) error {
	var deny int64
	if locked {
		deny |= discordgo.PermissionVoiceConnect
	}
	if hidden {
		deny |= discordgo.PermissionViewChannel
	}
	if deny == 0 {
		return d.api.ChannelPermissionDelete(channelID, d.guildID)
	}
	return d.api.ChannelPermissionSet(channelID, d.guildID, discordgo.PermissionOverwriteTypeRole, 0, deny)
}

func (d *Dispatcher) lockUnlock(ctx context.Context, i *discordgo.Interaction, userID, channelID string) {
	cs, err := d.settings.Get(ctx, userID)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Error("settings read failed", slog.Any("err", err))
		d.respond(i, "Something went wrong, try again in a moment.")
		return
	}
	if cs == nil {
		cs = &store.ChannelSettings{}
	}
	locked := !cs.IsLocked
	if err := d.applyEveryoneOverwrite(channelID, locked, cs.IsHidden); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("lock toggle failed", slog.Any("err", err), slog.String("channel", channelID))
		d.respond(i, "Toggling the lock failed, try again in a moment.")
		return
	}
	if err := d.mergeSave(ctx, userID, channelID, func(cs *store.ChannelSettings) { cs.IsLocked = locked }); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("lock persist failed", slog.Any("err", err))
	}
	if locked {
		d.respond(i, "🔒 Channel locked. Only current members can stay.")
		return
	}
	d.respond(i, "🔓 Channel unlocked. Everyone can join again.")
}

func (d *Dispatcher) hideShow(ctx context.Context, i *discordgo.Interaction, userID, channelID string) {
	cs, err := d.settings.Get(ctx, userID)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Error("settings read failed", slog.Any("err", err))
		d.respond(i, "Something went wrong, try again in a moment.")
		return
	}
	if cs == nil {
		cs = &store.ChannelSettings{}
	}
	hidden := !cs.IsHidden
	if err := d.applyEveryoneOverwrite(channelID, cs.IsLocked, hidden); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("hide toggle failed", slog.Any("err", err), slog.String("channel", channelID))
		d.respond(i, "Toggling visibility failed, try again in a moment.")
		return
	}
	if err := d.mergeSave(ctx, userID, channelID, func(cs *store.ChannelSettings) { cs.IsHidden = hidden }); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("hide persist failed", slog.Any("err", err))
	}
	if hidden {
		d.respond(i, "👁️ Channel hidden from the member list.")
		return
	}
	d.respond(i, "👁️ Channel visible again.")
}

func (d *Dispatcher) kick(ctx context.Context, i *discordgo.Interaction, userID, channelID string) {
	m, ok := d.promptFor(ctx, i, userID, "Mention the member to disconnect from your channel.")
	if !ok {
		return
	}
	target := targetFrom(m)
	if target == "" {
		d.followup(i, "I couldn't tell who you meant. Mention them or paste their id.")
		return
	}
	if !platform.IsOccupant(d.presence, d.guildID, channelID, target) {
		d.followup(i, "That member is not in your channel.")
		return
	}
	if err := d.api.GuildMemberMove(d.guildID, target, nil); err != nil {
		if !platform.IsBenignMissing(err) {
			telemetry.LoggerWithCorr(ctx).Error("kick failed", slog.Any("err", err), slog.String("target", target))
			d.followup(i, "Disconnecting them failed, try again in a moment.")
			return
		}
	}
	d.followup(i, fmt.Sprintf("👢 Disconnected <@%s>.", target))
}

func (d *Dispatcher) ban(ctx context.Context, i *discordgo.Interaction, userID, channelID string) {
	m, ok := d.promptFor(ctx, i, userID, "Mention the member to ban from your channel.")
	if !ok {
		return
	}
	target := targetFrom(m)
	if target == "" {
		d.followup(i, "I couldn't tell who you meant. Mention them or paste their id.")
		return
	}
	if target == userID {
		d.followup(i, "You cannot ban yourself from your own channel.")
		return
	}
	if _, err := d.api.GuildMember(d.guildID, target); err != nil {
		if platform.IsBenignMissing(err) {
			d.followup(i, "That user is not a member of this server.")
			return
		}
		telemetry.LoggerWithCorr(ctx).Error("member lookup failed", slog.Any("err", err), slog.String("target", target))
		d.followup(i, "Banning them failed, try again in a moment.")
		return
	}
	if err := d.api.ChannelPermissionSet(channelID, target, discordgo.PermissionOverwriteTypeMember, 0, discordgo.PermissionVoiceConnect); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("ban overwrite failed", slog.Any("err", err), slog.String("target", target))
		d.followup(i, "Banning them failed, try again in a moment.")
		return
	}
	if platform.IsOccupant(d.presence, d.guildID, channelID, target) {
		if err := d.api.GuildMemberMove(d.guildID, target, nil); err != nil && !platform.IsBenignMissing(err) {
			telemetry.LoggerWithCorr(ctx).Warn("post-ban disconnect failed", slog.Any("err", err), slog.String("target", target))
		}
	}
	if err := d.mergeSave(ctx, userID, channelID, func(cs *store.ChannelSettings) {
		cs.BannedUsers = appendUnique(cs.BannedUsers, target)
	}); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("ban persist failed", slog.Any("err", err))
	}
	d.followup(i, fmt.Sprintf("⛔ Banned <@%s> from your channel.", target))
}

func (d *Dispatcher) unban(ctx context.Context, i *discordgo.Interaction, userID, channelID string) {
	m, ok := d.promptFor(ctx, i, userID, "Mention the member to unban from your channel.")
	if !ok {
		return
	}
	target := targetFrom(m)
	if target == "" {
		d.followup(i, "I couldn't tell who you meant. Mention them or paste their id.")
		return
	}
	if _, err := d.api.GuildMember(d.guildID, target); err != nil {
		if platform.IsBenignMissing(err) {
			d.followup(i, "That user is not a member of this server.")
			return
		}
		telemetry.LoggerWithCorr(ctx).Error("member lookup failed", slog.Any("err", err), slog.String("target", target))
		d.followup(i, "Lifting the ban failed, try again in a moment.")
		return
	}
	if err := d.api.ChannelPermissionDelete(channelID, target); err != nil && !platform.IsBenignMissing(err) {
		telemetry.LoggerWithCorr(ctx).Error("unban overwrite delete failed", slog.Any("err", err), slog.String("target", target))
		d.followup(i, "Lifting the ban failed, try again in a moment.")
		return
	}
	if err := d.mergeSave(ctx, userID, channelID, func(cs *store.ChannelSettings) {
		cs.BannedUsers = removeElement(cs.BannedUsers, target)
	}); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("unban persist failed", slog.Any("err", err))
	}
	d.followup(i, fmt.Sprintf("♻️ <@%s> can join your channel again.", target))
}

func (d *Dispatcher) muteUnmute(ctx context.Context, i *discordgo.Interaction, userID, channelID string) {
	m, ok := d.promptFor(ctx, i, userID, "Mention the member to mute or unmute in your channel.")
	if !ok {
		return
	}
	target := targetFrom(m)
	if target == "" {
		d.followup(i, "I couldn't tell who you meant. Mention them or paste their id.")
		return
	}
	if !platform.IsOccupant(d.presence, d.guildID, channelID, target) {
		d.followup(i, "That member is not in your channel.")
		return
	}

	cs, err := d.settings.Get(ctx, userID)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Error("settings read failed", slog.Any("err", err))
		d.followup(i, "Something went wrong, try again in a moment.")
		return
	}
	muted := cs != nil && contains(cs.MutedUsers, target)

	if muted {
		if err := d.api.ChannelPermissionDelete(channelID, target); err != nil && !platform.IsBenignMissing(err) {
			telemetry.LoggerWithCorr(ctx).Error("unmute failed", slog.Any("err", err), slog.String("target", target))
			d.followup(i, "Unmuting them failed, try again in a moment.")
			return
		}
	} else {
		if err := d.api.ChannelPermissionSet(channelID, target, discordgo.PermissionOverwriteTypeMember, 0, discordgo.PermissionVoiceSpeak); err != nil {
			telemetry.LoggerWithCorr(ctx).Error("mute failed", slog.Any("err", err), slog.String("target", target))
			d.followup(i, "Muting them failed, try again in a moment.")
			return
		}
	}

	if err := d.mergeSave(ctx, userID, channelID, func(cs *store.ChannelSettings) {
		if muted {
			cs.MutedUsers = removeElement(cs.MutedUsers, target)
		} else {
			cs.MutedUsers = appendUnique(cs.MutedUsers, target)
		}
	}); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("mute persist failed", slog.Any("err", err))
	}

	if muted {
		d.followup(i, fmt.Sprintf("🔊 Unmuted <@%s>.", target))
		return
	}
	d.followup(i, fmt.Sprintf("🔇 Muted <@%s> in your channel.", target))
}

func (d *Dispatcher) transferCrown(ctx context.Context, i *discordgo.Interaction, userID, channelID string) {
	m, ok := d.promptFor(ctx, i, userID, "Mention the member to hand your channel to.")
	if !ok {
		return
	}
	target := targetFrom(m)
	if target == "" {
		d.followup(i, "I couldn't tell who you meant. Mention them or paste their id.")
		return
	}
	if target == userID {
		d.followup(i, "You already own this channel.")
		return
	}
	if !platform.IsOccupant(d.presence, d.guildID, channelID, target) {
		d.followup(i, "They need to be in your channel to take it over.")
		return
	}
	if owned, _ := d.ownedChannel(ctx, target); owned != "" {
		d.followup(i, "That member already owns a voice channel. They must give it up first.")
		return
	}
	if err := d.transfer.Offer(ctx, userID, target, channelID); err != nil {
		d.followup(i, "I couldn't message them. They may have DMs disabled.")
		return
	}
	d.followup(i, fmt.Sprintf("👑 Transfer request sent to <@%s>.", target))
}

func appendUnique(list []string, id string) []string {
	if contains(list, id) {
		return list
	}
	return append(list, id)
}

func removeElement(list []string, id string) []string {
	out := list[:0]
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
