package panel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/voicekeeper/audit"
	"github.com/onnwee/voicekeeper/platform"
	"github.com/onnwee/voicekeeper/registry"
	"github.com/onnwee/voicekeeper/store"
	"github.com/onnwee/voicekeeper/telemetry"
)

type transferRequest struct {
	fromID    string
	channelID string
	createdAt time.Time
}

// Coordinator runs the ownership transfer handshake: the owner offers, the
// target gets a DM with accept/decline buttons, and on accept the settings
// row and registry entry move to the new owner. Requests are keyed by target,
// so a newer offer to the same person replaces the old one.
type Coordinator struct {
	api      platform.API
	settings *store.Settings
	members  *registry.Memberships
	sink     *audit.Sink
	guildID  string

	mu       sync.Mutex
	requests map[string]transferRequest
}

func NewCoordinator(api platform.API, settings *store.Settings, members *registry.Memberships, sink *audit.Sink, guildID string) *Coordinator {
	return &Coordinator{
		api:      api,
		settings: settings,
		members:  members,
		sink:     sink,
		guildID:  guildID,
		requests: make(map[string]transferRequest),
	}
}

// Offer DMs the target an accept/decline prompt and records the pending
// request. Fails if the target cannot receive DMs.
func (c *Coordinator) Offer(ctx context.Context, fromID, targetID, channelID string) error {
	dm, err := c.api.UserChannelCreate(targetID)
	if err != nil {
		return fmt.Errorf("open dm: %w", err)
	}

	channelName := "their voice channel"
	if ch, err := c.api.Channel(channelID); err == nil && ch.Name != "" {
		channelName = fmt.Sprintf("**%s**", ch.Name)
	}

	_, err = c.api.ChannelMessageSendComplex(dm.ID, &discordgo.MessageSend{
		Content: fmt.Sprintf("👑 <@%s> wants to hand you %s. Do you accept?", fromID, channelName),
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "Accept", Style: discordgo.SuccessButton, CustomID: ActionTransferAccept},
				discordgo.Button{Label: "Decline", Style: discordgo.DangerButton, CustomID: ActionTransferDecl},
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("send transfer prompt: %w", err)
	}

	c.mu.Lock()
	c.requests[targetID] = transferRequest{fromID: fromID, channelID: channelID, createdAt: time.Now()}
	c.mu.Unlock()

	if telemetry.TransfersOffered != nil {
		telemetry.TransfersOffered.Inc()
	}
	return nil
}

// Pending reports whether a transfer request is waiting for the target.
func (c *Coordinator) Pending(targetID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.requests[targetID]
	return ok
}

func (c *Coordinator) take(targetID string) (transferRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.requests[targetID]
	if ok {
		delete(c.requests, targetID)
	}
	return req, ok
}

// Accept resolves the target's pending request: the settings row is re-keyed
// to the new owner and the old owner's row is removed.
func (c *Coordinator) Accept(ctx context.Context, i *discordgo.Interaction, targetID string) {
	req, ok := c.take(targetID)
	if !ok {
		c.respond(i, "This transfer request is no longer valid.")
		return
	}

	// The channel may have emptied and been deleted since the offer. The
	// store is authoritative for who owns it; the registry covers bindings
	// that never reached the store.
	owner, err := c.settings.UserByChannel(ctx, req.channelID)
	if err != nil || owner == "" {
		owner = c.members.OwnerOf(req.channelID)
	}
	if owner != req.fromID {
		c.respond(i, "That channel no longer exists, so there is nothing to transfer.")
		c.resolve("expired")
		return
	}
	if _, err := c.api.Channel(req.channelID); err != nil {
		c.respond(i, "That channel no longer exists, so there is nothing to transfer.")
		c.resolve("expired")
		return
	}

	cs, err := c.settings.Get(ctx, req.fromID)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Error("transfer settings read failed", slog.Any("err", err))
		c.respond(i, "Something went wrong, ask them to send the request again.")
		return
	}
	if cs == nil {
		cs = &store.ChannelSettings{}
	}
	cs.ChannelID = req.channelID

	guild := platform.GuildMembers{API: c.api, GuildID: c.guildID}
	if err := c.settings.Save(ctx, guild, targetID, *cs); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("transfer settings save failed", slog.Any("err", err))
		c.respond(i, "Something went wrong, ask them to send the request again.")
		return
	}
	if err := c.settings.Delete(ctx, req.fromID); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("old owner row delete failed", slog.Any("err", err))
	}

	c.members.Remove(req.fromID)
	c.members.Set(targetID, req.channelID)

	c.respond(i, "👑 The channel is yours now.")
	c.notify(ctx, req.fromID, fmt.Sprintf("<@%s> accepted your channel transfer.", targetID))
	c.sink.Log("Channel ownership transferred",
		fmt.Sprintf("<@%s> handed <#%s> to <@%s>", req.fromID, req.channelID, targetID),
		audit.ColorTransfer,
		[]*discordgo.MessageEmbedField{
			audit.Field("From", fmt.Sprintf("<@%s>", req.fromID)),
			audit.Field("To", fmt.Sprintf("<@%s>", targetID)),
		})
	c.resolve("accepted")

	telemetry.LoggerWithCorr(ctx).Info("ownership transferred",
		slog.String("from", req.fromID), slog.String("to", targetID), slog.String("channel", req.channelID))
}

// Decline resolves the target's pending request without side effects.
func (c *Coordinator) Decline(ctx context.Context, i *discordgo.Interaction, targetID string) {
	req, ok := c.take(targetID)
	if !ok {
		c.respond(i, "This transfer request is no longer valid.")
		return
	}
	c.respond(i, "Declined. The channel stays with its owner.")
	c.notify(ctx, req.fromID, fmt.Sprintf("<@%s> declined your channel transfer.", targetID))
	c.resolve("declined")
}

func (c *Coordinator) resolve(outcome string) {
	if telemetry.TransfersDone != nil {
		telemetry.TransfersDone.WithLabelValues(outcome).Inc()
	}
}

// notify DMs a user best-effort; transfer outcomes should not fail on a
// closed inbox.
func (c *Coordinator) notify(ctx context.Context, userID, content string) {
	dm, err := c.api.UserChannelCreate(userID)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("notify dm open failed", slog.Any("err", err), slog.String("user", userID))
		return
	}
	if _, err := c.api.ChannelMessageSend(dm.ID, content); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("notify send failed", slog.Any("err", err), slog.String("user", userID))
	}
}

func (c *Coordinator) respond(i *discordgo.Interaction, content string) {
	err := c.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
	if err != nil {
		slog.Warn("transfer respond failed", "err", err)
	}
}
