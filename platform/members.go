package platform

import "context"

// GuildMembers answers "is this user still in the guild" via a REST member
// lookup. It satisfies the store's member checker so persisted access lists
// shed users who left the server.
type GuildMembers struct {
	API     API
	GuildID string
}

func (g GuildMembers) IsMember(_ context.Context, userID string) bool {
	member, err := g.API.GuildMember(g.GuildID, userID)
	return err == nil && member != nil
}
