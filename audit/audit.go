// Package audit emits fire-and-forget log embeds for privileged actions to a
// configured destination channel. Delivery failures are logged, never returned.
package audit

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/voicekeeper/platform"
)

// Embed colors for the audit feed.
const (
	ColorBulkClear = 0xFF6B6B
	ColorUserClear = 0xFFA500
	ColorTransfer  = 0x5CB8FF
)

type Sink struct {
	api       platform.API
	channelID string
	now       func() time.Time
}

// New returns a sink posting to channelID. An empty channelID disables the
// sink; Log becomes a no-op.
func New(api platform.API, channelID string) *Sink {
	return &Sink{api: api, channelID: channelID, now: time.Now}
}

// Log sends one embed. Best-effort: failures are written to the process log only.
func (s *Sink) Log(title, description string, color int, fields []*discordgo.MessageEmbedField) {
	if s == nil || s.channelID == "" {
		return
	}
	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Fields:      fields,
		Footer:      &discordgo.MessageEmbedFooter{Text: footerTimestamp(s.now())},
	}
	if _, err := s.api.ChannelMessageSendEmbed(s.channelID, embed); err != nil {
		slog.Error("audit log delivery failed", slog.Any("err", err), slog.String("channel", s.channelID))
	}
}

// Field is a convenience constructor for inline embed fields.
func Field(name, value string) *discordgo.MessageEmbedField {
	return &discordgo.MessageEmbedField{Name: name, Value: value, Inline: true}
}

func footerTimestamp(t time.Time) string {
	return fmt.Sprintf("%02d.%02d.%d • %02d:%02d:%02d",
		t.Day(), int(t.Month()), t.Year(), t.Hour(), t.Minute(), t.Second())
}
