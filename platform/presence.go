package platform

import (
	"github.com/bwmarrin/discordgo"
)

// Presence reports who is connected to which voice channel. The live
// implementation reads the gateway state cache; tests inject a fixed map.
type Presence interface {
	VoiceStates(guildID string) []*discordgo.VoiceState
}

// StatePresence adapts the discordgo state cache to Presence.
type StatePresence struct {
	State *discordgo.State
}

func (p StatePresence) VoiceStates(guildID string) []*discordgo.VoiceState {
	g, err := p.State.Guild(guildID)
	if err != nil {
		return nil
	}
	p.State.RLock()
	defer p.State.RUnlock()
	out := make([]*discordgo.VoiceState, len(g.VoiceStates))
	copy(out, g.VoiceStates)
	return out
}

// UserChannel returns the voice channel the user is currently connected to,
// or empty string if none.
func UserChannel(p Presence, guildID, userID string) string {
	for _, vs := range p.VoiceStates(guildID) {
		if vs.UserID == userID {
			return vs.ChannelID
		}
	}
	return ""
}

// ChannelOccupants returns the user ids currently connected to the channel.
func ChannelOccupants(p Presence, guildID, channelID string) []string {
	var out []string
	for _, vs := range p.VoiceStates(guildID) {
		if vs.ChannelID == channelID {
			out = append(out, vs.UserID)
		}
	}
	return out
}

// IsOccupant reports whether the user is currently connected to the channel.
func IsOccupant(p Presence, guildID, channelID, userID string) bool {
	return channelID != "" && UserChannel(p, guildID, userID) == channelID
}
