package voice_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/voicekeeper/registry"
	"github.com/onnwee/voicekeeper/store"
	"github.com/onnwee/voicekeeper/testutil"
	"github.com/onnwee/voicekeeper/voice"
)

const (
	testGuild    = "guild-1"
	testTrigger  = "trigger-1"
	testCategory = "cat-1"
)

func newTestManager(t *testing.T, grace time.Duration) (*voice.Manager, *testutil.FakeSession, *testutil.FakePresence, *store.Settings, *registry.Memberships) {
	t.Helper()
	fake := testutil.NewFakeSession()
	fake.AddChannel(testTrigger, "Join to Create", testCategory, discordgo.ChannelTypeGuildVoice)
	presence := testutil.NewFakePresence()
	settings := store.NewSettings(testutil.SetupSQLite(t))
	members := registry.New()
	mgr := voice.NewManager(fake, presence, settings, members, testGuild, testTrigger, testCategory, grace)
	return mgr, fake, presence, settings, members
}

func joinEvent(userID, channelID, from string) *discordgo.VoiceStateUpdate {
	e := &discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{GuildID: testGuild, UserID: userID, ChannelID: channelID},
	}
	if from != "" {
		e.BeforeUpdate = &discordgo.VoiceState{GuildID: testGuild, UserID: userID, ChannelID: from}
	}
	return e
}

func TestTriggerJoinProvisionsChannel(t *testing.T) {
	mgr, fake, _, settings, members := newTestManager(t, time.Millisecond)
	fake.AddMember("u1")
	ctx := context.Background()

	mgr.HandleUpdate(ctx, joinEvent("u1", testTrigger, ""))

	if len(fake.Created) != 1 {
		t.Fatalf("created %d channels, want 1", len(fake.Created))
	}
	ch := fake.Created[0]
	if ch.ParentID != testCategory || ch.Type != discordgo.ChannelTypeGuildVoice {
		t.Errorf("channel misplaced: parent=%q type=%d", ch.ParentID, ch.Type)
	}
	if ch.Name != "user-u1" {
		t.Errorf("name = %q, want member name fallback", ch.Name)
	}
	if len(fake.Moves) != 1 || fake.Moves[0].UserID != "u1" || fake.Moves[0].ChannelID == nil || *fake.Moves[0].ChannelID != ch.ID {
		t.Errorf("user not moved into new channel: %+v", fake.Moves)
	}
	if got := members.Get("u1"); got != ch.ID {
		t.Errorf("registry owner channel = %q, want %q", got, ch.ID)
	}
	cs, err := settings.Get(ctx, "u1")
	if err != nil || cs == nil {
		t.Fatalf("settings row not persisted: %v", err)
	}
	if cs.ChannelID != ch.ID {
		t.Errorf("persisted channel id = %q, want %q", cs.ChannelID, ch.ID)
	}
}

func TestTriggerJoinRestoresPersistedSettings(t *testing.T) {
	mgr, fake, _, settings, _ := newTestManager(t, time.Millisecond)
	fake.AddMember("u1")
	fake.AddMember("m1")
	fake.AddMember("b1")
	ctx := context.Background()

	err := settings.Save(ctx, testutil.FakeMembers{"u1": true, "m1": true, "b1": true}, "u1", store.ChannelSettings{
		ChannelName: "the den",
		UserLimit:   5,
		IsLocked:    true,
		IsHidden:    true,
		MutedUsers:  []string{"m1"},
		BannedUsers: []string{"b1"},
	})
	if err != nil {
		t.Fatalf("seed settings: %v", err)
	}

	mgr.HandleUpdate(ctx, joinEvent("u1", testTrigger, ""))

	if len(fake.Created) != 1 {
		t.Fatalf("created %d channels, want 1", len(fake.Created))
	}
	ch := fake.Created[0]
	if ch.Name != "the den" || ch.UserLimit != 5 {
		t.Errorf("channel = %q/%d, want persisted name and limit", ch.Name, ch.UserLimit)
	}

	var everyoneDeny, mutedDeny, bannedDeny int64
	for _, ps := range fake.PermSets {
		switch ps.TargetID {
		case testGuild:
			everyoneDeny |= ps.Deny
		case "m1":
			mutedDeny |= ps.Deny
		case "b1":
			bannedDeny |= ps.Deny
		}
	}
	if everyoneDeny&discordgo.PermissionViewChannel == 0 || everyoneDeny&discordgo.PermissionVoiceConnect == 0 {
		t.Errorf("everyone deny = %d, want hidden and locked bits", everyoneDeny)
	}
	if mutedDeny&discordgo.PermissionVoiceSpeak == 0 {
		t.Errorf("muted member deny = %d, want speak bit", mutedDeny)
	}
	if bannedDeny&discordgo.PermissionVoiceConnect == 0 {
		t.Errorf("banned member deny = %d, want connect bit", bannedDeny)
	}
}

func TestLeaveReapsEmptyChannel(t *testing.T) {
	mgr, fake, _, settings, members := newTestManager(t, time.Millisecond)
	fake.AddChannel("chan-9", "the den", testCategory, discordgo.ChannelTypeGuildVoice)
	members.Set("u1", "chan-9")
	ctx := context.Background()
	if err := settings.Save(ctx, nil, "u1", store.ChannelSettings{ChannelID: "chan-9", ChannelName: "the den"}); err != nil {
		t.Fatalf("seed settings: %v", err)
	}

	mgr.HandleUpdate(ctx, joinEvent("u1", "", "chan-9"))

	if len(fake.Deleted) != 1 || fake.Deleted[0] != "chan-9" {
		t.Fatalf("deleted = %v, want [chan-9]", fake.Deleted)
	}
	if members.Get("u1") != "" {
		t.Error("registry entry survived channel deletion")
	}
	cs, err := settings.Get(ctx, "u1")
	if err != nil || cs == nil {
		t.Fatalf("settings row lost: %v", err)
	}
	if cs.ChannelID != "" {
		t.Errorf("channel binding = %q, want cleared", cs.ChannelID)
	}
	if cs.ChannelName != "the den" {
		t.Errorf("channel name = %q, want retained for reuse", cs.ChannelName)
	}
}

func TestLeaveKeepsOccupiedChannel(t *testing.T) {
	mgr, fake, presence, _, _ := newTestManager(t, time.Millisecond)
	fake.AddChannel("chan-9", "the den", testCategory, discordgo.ChannelTypeGuildVoice)
	presence.Join("u2", "chan-9")

	mgr.HandleUpdate(context.Background(), joinEvent("u1", "", "chan-9"))

	if len(fake.Deleted) != 0 {
		t.Fatalf("deleted = %v, want none while occupied", fake.Deleted)
	}
}

func TestLeaveIgnoresForeignChannels(t *testing.T) {
	mgr, fake, _, _, _ := newTestManager(t, time.Millisecond)
	fake.AddChannel("lobby", "Lobby", "other-cat", discordgo.ChannelTypeGuildVoice)

	mgr.HandleUpdate(context.Background(), joinEvent("u1", "", "lobby"))
	mgr.HandleUpdate(context.Background(), joinEvent("u2", "", testTrigger))

	if len(fake.Deleted) != 0 {
		t.Fatalf("deleted = %v, want no deletions outside the category", fake.Deleted)
	}
}

func TestSweepRemovesOrphans(t *testing.T) {
	mgr, fake, presence, settings, _ := newTestManager(t, time.Millisecond)
	fake.AddChannel("orphan-1", "old", testCategory, discordgo.ChannelTypeGuildVoice)
	fake.AddChannel("busy-1", "busy", testCategory, discordgo.ChannelTypeGuildVoice)
	fake.AddChannel("text-1", "rules", "other-cat", discordgo.ChannelTypeGuildText)
	presence.Join("u2", "busy-1")
	ctx := context.Background()
	if err := settings.Save(ctx, nil, "u1", store.ChannelSettings{ChannelID: "orphan-1"}); err != nil {
		t.Fatalf("seed settings: %v", err)
	}

	swept, err := mgr.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Errorf("swept = %d, want 1", swept)
	}
	if len(fake.Deleted) != 1 || fake.Deleted[0] != "orphan-1" {
		t.Errorf("deleted = %v, want only the empty orphan", fake.Deleted)
	}
	cs, err := settings.Get(ctx, "u1")
	if err != nil || cs == nil {
		t.Fatalf("settings row lost: %v", err)
	}
	if cs.ChannelID != "" {
		t.Errorf("orphan binding = %q, want cleared", cs.ChannelID)
	}
}

func TestJanitorDeletesChatterOnly(t *testing.T) {
	fake := testutil.NewFakeSession()
	j := voice.NewJanitor(fake, "panel-1", "bot-1", time.Millisecond)

	j.Observe(&discordgo.Message{ID: "m1", ChannelID: "panel-1", Author: &discordgo.User{ID: "u1"}})
	j.Observe(&discordgo.Message{ID: "m2", ChannelID: "panel-1", Author: &discordgo.User{ID: "bot-1"}})
	j.Observe(&discordgo.Message{ID: "m3", ChannelID: "elsewhere", Author: &discordgo.User{ID: "u1"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Run flushes once on cancelled context
	j.Run(ctx)

	got := fake.MessageDeletes["panel-1"]
	if len(got) != 1 || got[0] != "m1" {
		t.Errorf("deleted = %v, want only user chatter in the panel channel", got)
	}
}
