package clear_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/voicekeeper/audit"
	"github.com/onnwee/voicekeeper/clear"
	"github.com/onnwee/voicekeeper/testutil"
)

const (
	testChannel = "text-1"
	testLogCh   = "log-1"
	adminRole   = "role-mod"
)

func newDeleter(fake *testutil.FakeSession) *clear.Deleter {
	return clear.NewDeleter(fake, audit.New(fake, testLogCh), []string{adminRole})
}

func slash(name string, roles []string, perms int64, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		ChannelID: testChannel,
		Member: &discordgo.Member{
			User:        &discordgo.User{ID: "mod-1"},
			Roles:       roles,
			Permissions: perms,
		},
		Data: discordgo.ApplicationCommandInteractionData{Name: name, Options: opts},
	}}
}

func amountOpt(n int) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name: "amount", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(n),
	}
}

func userOpt(id string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: id,
	}
}

// seedMessages fills the channel with count messages authored round-robin by
// the given users, newest first, all inside the bulk delete window.
func seedMessages(fake *testutil.FakeSession, count int, authors ...string) {
	for n := 0; n < count; n++ {
		fake.Messages[testChannel] = append(fake.Messages[testChannel], &discordgo.Message{
			ID:        fmt.Sprintf("msg-%d", n),
			ChannelID: testChannel,
			Author:    &discordgo.User{ID: authors[n%len(authors)]},
			Timestamp: time.Now().Add(-time.Duration(n) * time.Minute),
		})
	}
}

func TestClearDeniedWithoutRoleOrPermission(t *testing.T) {
	fake := testutil.NewFakeSession()
	seedMessages(fake, 10, "u1")
	d := newDeleter(fake)

	d.HandleInteraction(context.Background(), slash("clear", nil, 0, amountOpt(5)))

	if len(fake.BulkDeleted[testChannel]) != 0 {
		t.Errorf("bulk deleted = %v, want none for unauthorized caller", fake.BulkDeleted[testChannel])
	}
	if len(fake.Responses) != 1 {
		t.Fatalf("responses = %d, want one denial", len(fake.Responses))
	}
}

func TestClearAllowedByManageMessages(t *testing.T) {
	fake := testutil.NewFakeSession()
	seedMessages(fake, 10, "u1")
	d := newDeleter(fake)

	d.HandleInteraction(context.Background(), slash("clear", nil, discordgo.PermissionManageMessages, amountOpt(5)))

	if got := len(fake.BulkDeleted[testChannel]); got != 5 {
		t.Errorf("bulk deleted = %d, want 5", got)
	}
}

func TestClearSkipsMessagesOlderThanWindow(t *testing.T) {
	fake := testutil.NewFakeSession()
	seedMessages(fake, 3, "u1")
	fake.Messages[testChannel] = append(fake.Messages[testChannel], &discordgo.Message{
		ID: "ancient", ChannelID: testChannel,
		Author:    &discordgo.User{ID: "u1"},
		Timestamp: time.Now().Add(-15 * 24 * time.Hour),
	})
	d := newDeleter(fake)

	d.HandleInteraction(context.Background(), slash("clear", []string{adminRole}, 0, amountOpt(10)))

	got := fake.BulkDeleted[testChannel]
	if len(got) != 3 {
		t.Fatalf("bulk deleted = %v, want the 3 recent messages only", got)
	}
	for _, id := range got {
		if id == "ancient" {
			t.Error("message beyond the 14 day window was deleted")
		}
	}
}

func TestClearNothingQualifies(t *testing.T) {
	fake := testutil.NewFakeSession()
	fake.Messages[testChannel] = []*discordgo.Message{{
		ID: "ancient", ChannelID: testChannel,
		Author:    &discordgo.User{ID: "u1"},
		Timestamp: time.Now().Add(-20 * 24 * time.Hour),
	}}
	d := newDeleter(fake)

	d.HandleInteraction(context.Background(), slash("clear", []string{adminRole}, 0, amountOpt(10)))

	if len(fake.BulkDeleted[testChannel]) != 0 || len(fake.MessageDeletes[testChannel]) != 0 {
		t.Error("deletions performed with nothing qualifying")
	}
	if len(fake.SentEmbeds[testLogCh]) != 0 {
		t.Error("audit entry written for a no-op")
	}
	if len(fake.Responses) != 1 {
		t.Fatalf("responses = %d, want one no-op notice", len(fake.Responses))
	}
}

func TestClearSingleMessageUsesPlainDelete(t *testing.T) {
	fake := testutil.NewFakeSession()
	seedMessages(fake, 1, "u1")
	d := newDeleter(fake)

	d.HandleInteraction(context.Background(), slash("clear", []string{adminRole}, 0, amountOpt(1)))

	if len(fake.BulkDeleted[testChannel]) != 0 {
		t.Errorf("bulk delete used for a single message: %v", fake.BulkDeleted[testChannel])
	}
	if got := fake.MessageDeletes[testChannel]; len(got) != 1 {
		t.Errorf("message deletes = %v, want one", got)
	}
}

func TestClearUserFiltersAuthor(t *testing.T) {
	fake := testutil.NewFakeSession()
	seedMessages(fake, 50, "u1", "u2")
	d := newDeleter(fake)

	d.HandleInteraction(context.Background(), slash("clearuser", []string{adminRole}, 0, userOpt("u2"), amountOpt(20)))

	got := fake.BulkDeleted[testChannel]
	if len(got) != 20 {
		t.Fatalf("bulk deleted = %d, want 20", len(got))
	}
	byID := make(map[string]*discordgo.Message)
	for _, m := range fake.Messages[testChannel] {
		byID[m.ID] = m
	}
	for _, id := range got {
		if byID[id].Author.ID != "u2" {
			t.Errorf("deleted %s authored by %s, want only u2", id, byID[id].Author.ID)
		}
	}
}

func TestClearWritesAuditEntry(t *testing.T) {
	fake := testutil.NewFakeSession()
	seedMessages(fake, 10, "u1")
	d := newDeleter(fake)

	d.HandleInteraction(context.Background(), slash("clear", []string{adminRole}, 0, amountOpt(5)))

	embeds := fake.SentEmbeds[testLogCh]
	if len(embeds) != 1 {
		t.Fatalf("audit embeds = %d, want 1", len(embeds))
	}
	if embeds[0].Title != "Messages cleared" {
		t.Errorf("audit title = %q", embeds[0].Title)
	}
	byName := map[string]string{}
	for _, f := range embeds[0].Fields {
		byName[f.Name] = f.Value
	}
	if byName["Requested"] != "5" || byName["Deleted"] != "5" {
		t.Errorf("audit fields = %v, want Requested=5 Deleted=5", byName)
	}
}

func TestCommandsDeclareBothClears(t *testing.T) {
	cmds := clear.Commands()
	if len(cmds) != 2 {
		t.Fatalf("commands = %d, want 2", len(cmds))
	}
	names := map[string]bool{}
	for _, c := range cmds {
		names[c.Name] = true
	}
	if !names["clear"] || !names["clearuser"] {
		t.Errorf("command names = %v", names)
	}
}
