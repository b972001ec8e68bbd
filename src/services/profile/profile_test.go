package profile

import (
	"context"
	"testing"

	"github.com/muni-town/roomy-bridge/src/repo"
	"github.com/muni-town/roomy-bridge/src/types"
)

func TestHandleDiscordMemberCachesProfileOnFirstSight(t *testing.T) {
	r := repo.NewMemoryRepo()
	ctx := context.Background()
	ns := repo.Namespace("guild1:did:plc:space1")
	s := New(r, ns, nil)

	member := &types.DiscordMember{UserID: "42", Username: "alice", Nickname: "Al", AvatarURL: "https://example.com/a.png"}
	if err := s.HandleDiscordMember(ctx, member); err != nil {
		t.Fatalf("HandleDiscordMember: %v", err)
	}

	roomyID, found, err := r.GetRoomyID(ctx, ns, "42")
	if err != nil || !found {
		t.Fatalf("expected a roomy id mapping to be created, got found=%v err=%v", found, err)
	}

	profile, found, err := r.GetRoomyUserProfile(ctx, ns, string(roomyID))
	if err != nil || !found {
		t.Fatalf("expected a cached profile, got found=%v err=%v", found, err)
	}
	if profile.DisplayName != "Al" || profile.AvatarURL != "https://example.com/a.png" {
		t.Fatalf("unexpected cached profile: %+v", profile)
	}
}

func TestHandleDiscordMemberSkipsUnchangedProfile(t *testing.T) {
	r := repo.NewMemoryRepo()
	ctx := context.Background()
	ns := repo.Namespace("guild1:did:plc:space1")
	s := New(r, ns, nil)

	member := &types.DiscordMember{UserID: "42", Username: "alice", Nickname: "Al", AvatarURL: "https://example.com/a.png"}
	_ = s.HandleDiscordMember(ctx, member)

	roomyID, _, _ := r.GetRoomyID(ctx, ns, "42")
	_ = r.PutRoomyUserProfile(ctx, ns, string(roomyID), repo.RoomyUserProfile{DisplayName: "manually changed"})

	if err := s.HandleDiscordMember(ctx, member); err != nil {
		t.Fatalf("HandleDiscordMember: %v", err)
	}

	profile, _, _ := r.GetRoomyUserProfile(ctx, ns, string(roomyID))
	if profile.DisplayName != "manually changed" {
		t.Fatal("expected no rewrite for an unchanged profile hash")
	}
}

func TestHandleDiscordMemberFallsBackToUsernameWithoutNickname(t *testing.T) {
	r := repo.NewMemoryRepo()
	ctx := context.Background()
	ns := repo.Namespace("guild1:did:plc:space1")
	s := New(r, ns, nil)

	member := &types.DiscordMember{UserID: "7", Username: "bob"}
	if err := s.HandleDiscordMember(ctx, member); err != nil {
		t.Fatalf("HandleDiscordMember: %v", err)
	}

	roomyID, _, _ := r.GetRoomyID(ctx, ns, "7")
	profile, found, _ := r.GetRoomyUserProfile(ctx, ns, string(roomyID))
	if !found || profile.DisplayName != "bob" {
		t.Fatalf("expected display name to fall back to username, got %+v", profile)
	}
}
