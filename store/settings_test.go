package store_test

import (
	"context"
	"testing"

	"github.com/onnwee/voicekeeper/store"
	"github.com/onnwee/voicekeeper/testutil"
)

func allMembers(ids ...string) testutil.FakeMembers {
	m := make(testutil.FakeMembers)
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func TestGetAbsent(t *testing.T) {
	s := store.NewSettings(testutil.SetupSQLite(t))
	got, err := s.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("Get for absent user = %+v, want nil", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	s := store.NewSettings(testutil.SetupSQLite(t))
	ctx := context.Background()
	guild := allMembers("u1", "b1", "b2", "m1")

	in := store.ChannelSettings{
		ChannelID:   "c1",
		ChannelName: "war room",
		UserLimit:   5,
		BannedUsers: []string{"b1", "b2", "b1"}, // duplicate must collapse
		MutedUsers:  []string{"m1"},
		IsLocked:    true,
		IsHidden:    false,
	}
	if err := s.Save(ctx, guild, "u1", in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil after Save")
	}
	if got.ChannelID != "c1" || got.ChannelName != "war room" || got.UserLimit != 5 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if len(got.BannedUsers) != 2 {
		t.Errorf("BannedUsers = %v, want deduplicated pair", got.BannedUsers)
	}
	if len(got.MutedUsers) != 1 || got.MutedUsers[0] != "m1" {
		t.Errorf("MutedUsers = %v, want [m1]", got.MutedUsers)
	}
	if !got.IsLocked || got.IsHidden {
		t.Errorf("flags mismatch: locked=%v hidden=%v", got.IsLocked, got.IsHidden)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Errorf("timestamps not set: created=%v updated=%v", got.CreatedAt, got.UpdatedAt)
	}
}

func TestSaveDropsDepartedMembers(t *testing.T) {
	s := store.NewSettings(testutil.SetupSQLite(t))
	ctx := context.Background()
	guild := allMembers("present") // "gone" is not a member

	in := store.ChannelSettings{
		ChannelID:   "c1",
		BannedUsers: []string{"present", "gone"},
		MutedUsers:  []string{"gone"},
	}
	if err := s.Save(ctx, guild, "u1", in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.BannedUsers) != 1 || got.BannedUsers[0] != "present" {
		t.Errorf("BannedUsers = %v, want [present]", got.BannedUsers)
	}
	if len(got.MutedUsers) != 0 {
		t.Errorf("MutedUsers = %v, want empty", got.MutedUsers)
	}
}

func TestSaveOverwritesRow(t *testing.T) {
	s := store.NewSettings(testutil.SetupSQLite(t))
	ctx := context.Background()
	guild := allMembers("x")

	if err := s.Save(ctx, guild, "u1", store.ChannelSettings{ChannelID: "c1", ChannelName: "first"}); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if err := s.Save(ctx, guild, "u1", store.ChannelSettings{ChannelID: "c2", ChannelName: "second", UserLimit: 9}); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	got, _ := s.Get(ctx, "u1")
	if got.ChannelID != "c2" || got.ChannelName != "second" || got.UserLimit != 9 {
		t.Errorf("second write did not win: %+v", got)
	}
}

func TestUpdateChannelIDAndClear(t *testing.T) {
	s := store.NewSettings(testutil.SetupSQLite(t))
	ctx := context.Background()
	guild := allMembers()

	if err := s.Save(ctx, guild, "u1", store.ChannelSettings{ChannelID: "c1", ChannelName: "kept", UserLimit: 3}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.UpdateChannelID(ctx, "u1", ""); err != nil {
		t.Fatalf("UpdateChannelID clear: %v", err)
	}
	got, _ := s.Get(ctx, "u1")
	if got.ChannelID != "" {
		t.Errorf("ChannelID = %q, want cleared", got.ChannelID)
	}
	// name and limit survive for reuse on the next join
	if got.ChannelName != "kept" || got.UserLimit != 3 {
		t.Errorf("settings lost on unbind: %+v", got)
	}

	if err := s.UpdateChannelID(ctx, "u1", "c9"); err != nil {
		t.Fatalf("UpdateChannelID rebind: %v", err)
	}
	got, _ = s.Get(ctx, "u1")
	if got.ChannelID != "c9" {
		t.Errorf("ChannelID = %q, want c9", got.ChannelID)
	}
}

func TestUserByChannel(t *testing.T) {
	s := store.NewSettings(testutil.SetupSQLite(t))
	ctx := context.Background()

	if err := s.Save(ctx, nil, "u1", store.ChannelSettings{ChannelID: "c1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	owner, err := s.UserByChannel(ctx, "c1")
	if err != nil {
		t.Fatalf("UserByChannel: %v", err)
	}
	if owner != "u1" {
		t.Errorf("owner = %q, want u1", owner)
	}
	owner, err = s.UserByChannel(ctx, "missing")
	if err != nil {
		t.Fatalf("UserByChannel missing: %v", err)
	}
	if owner != "" {
		t.Errorf("owner of missing channel = %q, want empty", owner)
	}
}

func TestClearChannel(t *testing.T) {
	s := store.NewSettings(testutil.SetupSQLite(t))
	ctx := context.Background()

	_ = s.Save(ctx, nil, "u1", store.ChannelSettings{ChannelID: "c1"})
	_ = s.Save(ctx, nil, "u2", store.ChannelSettings{ChannelID: "c2"})

	if err := s.ClearChannel(ctx, "c1"); err != nil {
		t.Fatalf("ClearChannel: %v", err)
	}
	got, _ := s.Get(ctx, "u1")
	if got.ChannelID != "" {
		t.Errorf("u1 still bound to %q", got.ChannelID)
	}
	got, _ = s.Get(ctx, "u2")
	if got.ChannelID != "c2" {
		t.Errorf("u2 binding lost: %q", got.ChannelID)
	}
}

func TestDelete(t *testing.T) {
	s := store.NewSettings(testutil.SetupSQLite(t))
	ctx := context.Background()

	_ = s.Save(ctx, nil, "u1", store.ChannelSettings{ChannelID: "c1"})
	if err := s.Delete(ctx, "u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, _ := s.Get(ctx, "u1")
	if got != nil {
		t.Errorf("row survived Delete: %+v", got)
	}
	// Deleting an absent row is not an error.
	if err := s.Delete(ctx, "u1"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}
