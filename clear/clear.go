// Package clear implements the moderator bulk message deletion commands:
// /clear removes the latest N messages in a text channel, /clearuser removes
// the latest N from one author. Both respect Discord's 14 day bulk delete
// ceiling and leave an audit trail.
package clear

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/voicekeeper/audit"
	"github.com/onnwee/voicekeeper/platform"
	"github.com/onnwee/voicekeeper/telemetry"
)

// bulkDeleteWindow is how far back Discord accepts bulk deletion.
const bulkDeleteWindow = 14 * 24 * time.Hour

// userScanDepth is how many recent messages are inspected when filtering by
// author. Matching messages beyond this window are not touched.
const userScanDepth = 100

// Deleter handles the clear commands. Authorization requires one of the
// configured moderator roles or the Manage Messages permission.
type Deleter struct {
	api        platform.API
	sink       *audit.Sink
	adminRoles []string
	now        func() time.Time
}

func NewDeleter(api platform.API, sink *audit.Sink, adminRoles []string) *Deleter {
	return &Deleter{api: api, sink: sink, adminRoles: adminRoles, now: time.Now}
}

// Commands returns the slash command definitions for registration.
func Commands() []*discordgo.ApplicationCommand {
	minAmount := float64(1)
	return []*discordgo.ApplicationCommand{
		{
			Name:        "clear",
			Description: "Delete the latest messages in this channel",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "amount",
					Description: "How many messages to delete (1-100)",
					Required:    true,
					MinValue:    &minAmount,
					MaxValue:    100,
				},
			},
		},
		{
			Name:        "clearuser",
			Description: "Delete the latest messages from one member in this channel",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Whose messages to delete",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "amount",
					Description: "How many of their messages to delete (1-100)",
					Required:    true,
					MinValue:    &minAmount,
					MaxValue:    100,
				},
			},
		},
	}
}

// HandleInteraction dispatches one slash command invocation. Non-clear
// commands are ignored.
func (d *Deleter) HandleInteraction(ctx context.Context, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	switch data.Name {
	case "clear", "clearuser":
	default:
		return
	}

	if !d.authorized(i.Member) {
		d.respond(i.Interaction, "You need a moderator role or the Manage Messages permission for that.")
		return
	}

	amount := 0
	targetID := ""
	for _, opt := range data.Options {
		switch opt.Name {
		case "amount":
			amount = int(opt.IntValue())
		case "user":
			targetID = opt.UserValue(nil).ID
		}
	}
	if amount < 1 || amount > 100 {
		d.respond(i.Interaction, "The amount must be between 1 and 100.")
		return
	}
	if data.Name == "clearuser" && targetID == "" {
		d.respond(i.Interaction, "I couldn't tell whose messages to delete.")
		return
	}

	var (
		deleted int
		err     error
	)
	if data.Name == "clear" {
		deleted, err = d.clearLatest(ctx, i.ChannelID, amount)
	} else {
		deleted, err = d.clearByAuthor(ctx, i.ChannelID, targetID, amount)
	}
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Error("bulk delete failed",
			slog.Any("err", err), slog.String("channel", i.ChannelID), slog.String("command", data.Name))
		d.respond(i.Interaction, "Deleting messages failed, try again in a moment.")
		return
	}
	if deleted == 0 {
		d.respond(i.Interaction, "Nothing to delete: no matching messages newer than 14 days.")
		return
	}

	d.respond(i.Interaction, fmt.Sprintf("🧹 Deleted %d message(s).", deleted))
	d.logAction(i.Interaction, data.Name, targetID, amount, deleted)

	if telemetry.MessagesCleared != nil {
		telemetry.MessagesCleared.Add(float64(deleted))
	}
}

func (d *Deleter) authorized(m *discordgo.Member) bool {
	if m == nil {
		return false
	}
	for _, role := range m.Roles {
		for _, admin := range d.adminRoles {
			if role == admin {
				return true
			}
		}
	}
	return m.Permissions&discordgo.PermissionManageMessages != 0
}

// clearLatest removes the newest amount messages that are young enough for
// bulk deletion.
func (d *Deleter) clearLatest(ctx context.Context, channelID string, amount int) (int, error) {
	msgs, err := d.api.ChannelMessages(channelID, amount, "", "", "")
	if err != nil {
		return 0, fmt.Errorf("fetch messages: %w", err)
	}
	return d.deleteBatch(channelID, d.youngIDs(msgs, amount, ""))
}

// clearByAuthor scans the newest userScanDepth messages and removes up to
// amount written by the target.
func (d *Deleter) clearByAuthor(ctx context.Context, channelID, authorID string, amount int) (int, error) {
	msgs, err := d.api.ChannelMessages(channelID, userScanDepth, "", "", "")
	if err != nil {
		return 0, fmt.Errorf("fetch messages: %w", err)
	}
	return d.deleteBatch(channelID, d.youngIDs(msgs, amount, authorID))
}

// youngIDs selects up to limit message ids inside the bulk delete window,
// optionally restricted to one author.
func (d *Deleter) youngIDs(msgs []*discordgo.Message, limit int, authorID string) []string {
	cutoff := d.now().Add(-bulkDeleteWindow)
	var ids []string
	for _, m := range msgs {
		if len(ids) >= limit {
			break
		}
		if authorID != "" && (m.Author == nil || m.Author.ID != authorID) {
			continue
		}
		if m.Timestamp.Before(cutoff) {
			continue
		}
		ids = append(ids, m.ID)
	}
	return ids
}

func (d *Deleter) deleteBatch(channelID string, ids []string) (int, error) {
	switch len(ids) {
	case 0:
		return 0, nil
	case 1:
		// Bulk delete requires at least two messages.
		if err := d.api.ChannelMessageDelete(channelID, ids[0]); err != nil {
			if platform.IsBenignMissing(err) {
				return 0, nil
			}
			return 0, err
		}
		return 1, nil
	default:
		if err := d.api.ChannelMessagesBulkDelete(channelID, ids); err != nil {
			return 0, err
		}
		return len(ids), nil
	}
}

func (d *Deleter) logAction(i *discordgo.Interaction, command, targetID string, requested, deleted int) {
	moderator := "unknown"
	if i.Member != nil && i.Member.User != nil {
		moderator = fmt.Sprintf("<@%s>", i.Member.User.ID)
	}
	fields := []*discordgo.MessageEmbedField{
		audit.Field("Moderator", moderator),
		audit.Field("Channel", fmt.Sprintf("<#%s>", i.ChannelID)),
		audit.Field("Requested", fmt.Sprintf("%d", requested)),
		audit.Field("Deleted", fmt.Sprintf("%d", deleted)),
	}
	if command == "clearuser" {
		fields = append(fields, audit.Field("Target", fmt.Sprintf("<@%s>", targetID)))
		d.sink.Log("Messages cleared by author", "", audit.ColorUserClear, fields)
		return
	}
	d.sink.Log("Messages cleared", "", audit.ColorBulkClear, fields)
}

func (d *Deleter) respond(i *discordgo.Interaction, content string) {
	err := d.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		slog.Warn("clear respond failed", "err", err)
	}
}
