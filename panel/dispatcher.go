// Package panel implements the control panel: a pinned message with buttons
// through which channel owners rename, resize, lock, hide, and moderate their
// ephemeral voice channel, plus the ownership transfer handshake.
package panel

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/voicekeeper/platform"
	"github.com/onnwee/voicekeeper/registry"
	"github.com/onnwee/voicekeeper/store"
	"github.com/onnwee/voicekeeper/telemetry"
)

// Button custom ids. These are wire identifiers baked into posted panels, so
// they must stay stable across deploys.
const (
	ActionTransferCrown  = "change_crown"
	ActionChangeName     = "change_channel_name"
	ActionChangeLimit    = "change_user_limit"
	ActionLockUnlock     = "lock_unlock"
	ActionHideShow       = "hide_show"
	ActionKick           = "kick_voice"
	ActionBan            = "ban_voice"
	ActionUnban          = "unban_voice"
	ActionMuteUnmute     = "mute_unmute"
	ActionTransferAccept = "transfer_accept"
	ActionTransferDecl   = "transfer_decline"
)

// PanelCommand is the chat command that re-posts the control panel.
const PanelCommand = "!VoiceSetting"

// Dispatcher routes component interactions to the action handlers behind a
// uniform precondition: the clicking user must own a live channel and be
// sitting in it.
type Dispatcher struct {
	api      platform.API
	presence platform.Presence
	settings *store.Settings
	members  *registry.Memberships
	prompts  *Prompter
	transfer *Coordinator

	guildID        string
	panelChannelID string
	timeout        time.Duration
}

func NewDispatcher(api platform.API, presence platform.Presence, settings *store.Settings, members *registry.Memberships, prompts *Prompter, transfer *Coordinator, guildID, panelChannelID string, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		api:            api,
		presence:       presence,
		settings:       settings,
		members:        members,
		prompts:        prompts,
		transfer:       transfer,
		guildID:        guildID,
		panelChannelID: panelChannelID,
		timeout:        timeout,
	}
}

// HandleInteraction dispatches one component click. Unknown custom ids are
// ignored so other features can register their own components.
func (d *Dispatcher) HandleInteraction(ctx context.Context, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	customID := i.MessageComponentData().CustomID
	userID := interactionUserID(i.Interaction)
	if userID == "" {
		return
	}

	switch customID {
	case ActionTransferAccept:
		d.transfer.Accept(ctx, i.Interaction, userID)
		return
	case ActionTransferDecl:
		d.transfer.Decline(ctx, i.Interaction, userID)
		return
	}

	handler, ok := d.actionHandler(customID)
	if !ok {
		return
	}

	channelID, stored := d.ownedChannel(ctx, userID)
	if channelID == "" || !platform.IsOccupant(d.presence, d.guildID, channelID, userID) {
		if telemetry.PanelDenied != nil {
			telemetry.PanelDenied.Inc()
		}
		d.respond(i.Interaction, "You need to own a voice channel and be in it to use this.")
		return
	}

	// Re-seed whichever side missed. The registry starts empty after a
	// restart even while owners still sit in their channels; a store miss
	// means a provision whose persistence write failed.
	d.members.Set(userID, channelID)
	if !stored {
		if err := d.settings.UpdateChannelID(ctx, userID, channelID); err != nil {
			telemetry.LoggerWithCorr(ctx).Warn("channel binding heal failed", slog.Any("err", err), slog.String("user", userID))
		}
	}

	telemetry.CountPanelAction(customID)
	handler(ctx, i.Interaction, userID, channelID)
}

// ownedChannel resolves the channel a user owns. The settings store is
// authoritative; the in-memory registry covers bindings that never reached
// it. Reports whether the store produced the answer.
func (d *Dispatcher) ownedChannel(ctx context.Context, userID string) (string, bool) {
	if cs, err := d.settings.Get(ctx, userID); err == nil && cs != nil && cs.ChannelID != "" {
		return cs.ChannelID, true
	}
	return d.members.Get(userID), false
}

func (d *Dispatcher) actionHandler(customID string) (func(context.Context, *discordgo.Interaction, string, string), bool) {
	switch customID {
	case ActionTransferCrown:
		return d.transferCrown, true
	case ActionChangeName:
		return d.changeName, true
	case ActionChangeLimit:
		return d.changeLimit, true
	case ActionLockUnlock:
		return d.lockUnlock, true
	case ActionHideShow:
		return d.hideShow, true
	case ActionKick:
		return d.kick, true
	case ActionBan:
		return d.ban, true
	case ActionUnban:
		return d.unban, true
	case ActionMuteUnmute:
		return d.muteUnmute, true
	}
	return nil, false
}

// HandleMessage feeds prompt input and answers the panel re-post command.
// Returns true if the message was consumed as prompt input.
func (d *Dispatcher) HandleMessage(ctx context.Context, m *discordgo.Message) bool {
	if m == nil || m.Author == nil {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(m.Content), PanelCommand) {
		if err := d.PostPanel(ctx, m.ChannelID); err != nil {
			telemetry.LoggerWithCorr(ctx).Error("panel post failed", slog.Any("err", err))
		}
		return false
	}
	return d.prompts.Feed(m)
}

// PostPanel sends the control panel embed with its button rows.
func (d *Dispatcher) PostPanel(ctx context.Context, channelID string) error {
	embed := &discordgo.MessageEmbed{
		Title: "Voice Channel Settings",
		Description: "Manage your own voice channel with the buttons below.\n" +
			"You must be connected to your channel for them to work.",
		Color: 0x5CB8FF,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "👑 Crown", Value: "Hand the channel to someone else", Inline: true},
			{Name: "✏️ Name", Value: "Rename your channel", Inline: true},
			{Name: "🔢 Limit", Value: "Set the user limit (0–99)", Inline: true},
			{Name: "🔒 Lock", Value: "Toggle who can join", Inline: true},
			{Name: "👁️ Hide", Value: "Toggle channel visibility", Inline: true},
			{Name: "🔇 Mute", Value: "Toggle a member's voice", Inline: true},
			{Name: "👢 Kick", Value: "Disconnect a member", Inline: true},
			{Name: "⛔ Ban", Value: "Ban a member from joining", Inline: true},
			{Name: "♻️ Unban", Value: "Lift a ban", Inline: true},
		},
	}
	rows := []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{Label: "👑 Crown", Style: discordgo.PrimaryButton, CustomID: ActionTransferCrown},
			discordgo.Button{Label: "✏️ Name", Style: discordgo.SecondaryButton, CustomID: ActionChangeName},
			discordgo.Button{Label: "🔢 Limit", Style: discordgo.SecondaryButton, CustomID: ActionChangeLimit},
			discordgo.Button{Label: "🔒 Lock", Style: discordgo.SecondaryButton, CustomID: ActionLockUnlock},
			discordgo.Button{Label: "👁️ Hide", Style: discordgo.SecondaryButton, CustomID: ActionHideShow},
		}},
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{Label: "👢 Kick", Style: discordgo.DangerButton, CustomID: ActionKick},
			discordgo.Button{Label: "⛔ Ban", Style: discordgo.DangerButton, CustomID: ActionBan},
			discordgo.Button{Label: "♻️ Unban", Style: discordgo.SuccessButton, CustomID: ActionUnban},
			discordgo.Button{Label: "🔇 Mute", Style: discordgo.DangerButton, CustomID: ActionMuteUnmute},
		}},
	}
	_, err := d.api.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: rows,
	})
	return err
}

// respond sends the initial ephemeral reply to an interaction.
func (d *Dispatcher) respond(i *discordgo.Interaction, content string) {
	err := d.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		slog.Warn("interaction respond failed", "err", err)
	}
}

// followup sends an ephemeral followup after the initial reply.
func (d *Dispatcher) followup(i *discordgo.Interaction, content string) {
	_, err := d.api.FollowupMessageCreate(i, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		slog.Warn("interaction followup failed", "err", err)
	}
}

func interactionUserID(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
