// Package bot wires the gateway session to the feature packages: event
// handlers, intents, and slash command registration.
package bot

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/onnwee/voicekeeper/audit"
	"github.com/onnwee/voicekeeper/clear"
	"github.com/onnwee/voicekeeper/config"
	"github.com/onnwee/voicekeeper/panel"
	"github.com/onnwee/voicekeeper/platform"
	"github.com/onnwee/voicekeeper/registry"
	"github.com/onnwee/voicekeeper/store"
	"github.com/onnwee/voicekeeper/telemetry"
	"github.com/onnwee/voicekeeper/voice"
)

const requiredIntents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildVoiceStates |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsMessageContent |
	discordgo.IntentsGuildMembers

// Bot holds the session and the feature handlers it dispatches to.
type Bot struct {
	cfg     *config.Config
	session *discordgo.Session
	api     platform.API

	manager    *voice.Manager
	dispatcher *panel.Dispatcher
	deleter    *clear.Deleter
	balances   *store.Balances
	janitor    *voice.Janitor
}

// New builds the session and every handler, but does not connect. The caller
// owns the membership registry so the ops server can report on it.
func New(cfg *config.Config, database *sql.DB, reg *registry.Memberships) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	session.Identify.Intents = requiredIntents

	settings := store.NewSettings(database)
	balances := store.NewBalances(database)
	members := reg
	presence := platform.StatePresence{State: session.State}
	sink := audit.New(session, cfg.LogChannelID)
	transfer := panel.NewCoordinator(session, settings, members, sink, cfg.GuildID)
	dispatcher := panel.NewDispatcher(session, presence, settings, members,
		panel.NewPrompter(), transfer, cfg.GuildID, cfg.PanelChannelID, cfg.PromptTimeout)

	return &Bot{
		cfg:        cfg,
		session:    session,
		api:        session,
		manager:    voice.NewManager(session, presence, settings, members, cfg.GuildID, cfg.TriggerChannelID, cfg.CategoryID, cfg.DeleteGrace),
		dispatcher: dispatcher,
		deleter:    clear.NewDeleter(session, sink, cfg.AdminRoleIDs),
		balances:   balances,
	}, nil
}

// Manager exposes the lifecycle manager for the startup sweep.
func (b *Bot) Manager() *voice.Manager { return b.manager }

// Start opens the gateway connection, registers handlers and overwrites the
// guild slash commands.
func (b *Bot) Start(ctx context.Context) error {
	corr := func() context.Context {
		return telemetry.WithCorrelation(ctx, uuid.NewString())
	}

	b.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		slog.Info("gateway ready",
			slog.String("user", r.User.Username), slog.Int("guilds", len(r.Guilds)))
	})
	b.session.AddHandler(func(_ *discordgo.Session, e *discordgo.VoiceStateUpdate) {
		b.manager.HandleUpdate(corr(), e)
	})
	b.session.AddHandler(func(_ *discordgo.Session, e *discordgo.InteractionCreate) {
		c := corr()
		b.dispatcher.HandleInteraction(c, e)
		b.deleter.HandleInteraction(c, e)
	})
	b.session.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageCreate) {
		b.handleMessage(corr(), e.Message)
	})

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}

	b.janitor = voice.NewJanitor(b.session, b.cfg.PanelChannelID, b.session.State.User.ID, b.cfg.PanelSweepInterval)
	go b.janitor.Run(ctx)

	if err := b.registerCommands(); err != nil {
		// The bot is functional without slash commands; log and carry on.
		slog.Error("slash command registration failed", slog.Any("err", err))
	}
	return nil
}

// Stop closes the gateway connection.
func (b *Bot) Stop() error {
	return b.session.Close()
}

func (b *Bot) handleMessage(ctx context.Context, m *discordgo.Message) {
	if m == nil || m.Author == nil || m.Author.Bot {
		return
	}
	if strings.EqualFold(strings.TrimSpace(m.Content), "!balance") {
		b.replyBalance(ctx, m)
		if b.janitor != nil {
			b.janitor.Observe(m)
		}
		return
	}
	if b.dispatcher.HandleMessage(ctx, m) {
		// consumed as prompt input, already cleaned up
		return
	}
	if b.janitor != nil {
		b.janitor.Observe(m)
	}
}

func (b *Bot) replyBalance(ctx context.Context, m *discordgo.Message) {
	bal, err := b.balances.Get(ctx, m.Author.ID)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Error("balance read failed",
			slog.Any("err", err), slog.String("user", m.Author.ID))
		return
	}
	_, err = b.api.ChannelMessageSend(m.ChannelID, fmt.Sprintf("<@%s> you have **%d** coins.", m.Author.ID, bal))
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("balance reply failed", slog.Any("err", err))
	}
}

// registerCommands bulk-overwrites the guild's slash commands and logs what
// changed compared to the previous registration.
func (b *Bot) registerCommands() error {
	appID := b.session.State.User.ID
	desired := clear.Commands()

	existing, err := b.session.ApplicationCommands(appID, b.cfg.GuildID)
	if err != nil {
		slog.Warn("listing existing commands failed", slog.Any("err", err))
	}
	added, removed := diffCommands(existing, desired)

	if _, err := b.session.ApplicationCommandBulkOverwrite(appID, b.cfg.GuildID, desired); err != nil {
		return fmt.Errorf("bulk overwrite commands: %w", err)
	}
	slog.Info("slash commands registered",
		slog.Int("total", len(desired)),
		slog.Any("added", added),
		slog.Any("removed", removed))
	return nil
}

// diffCommands reports which command names appear only in the desired set
// (added) and which only in the registered set (removed).
func diffCommands(existing, desired []*discordgo.ApplicationCommand) (added, removed []string) {
	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[c.Name] = true
	}
	want := make(map[string]bool, len(desired))
	for _, c := range desired {
		want[c.Name] = true
		if !have[c.Name] {
			added = append(added, c.Name)
		}
	}
	for _, c := range existing {
		if !want[c.Name] {
			removed = append(removed, c.Name)
		}
	}
	return added, removed
}
