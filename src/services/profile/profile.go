// Package profile records Discord guild member identity (display name,
// avatar) in the bridge repository's Roomy user profile table. It is
// unidirectional: Roomy has no analogous member list for the bridge to
// mirror back, so this package only ever reads from Discord. It sends no
// profile event into the Roomy space.
package profile

import (
	"context"
	"fmt"

	"github.com/muni-town/roomy-bridge/src/ids"
	"github.com/muni-town/roomy-bridge/src/repo"
	"github.com/muni-town/roomy-bridge/src/roomyapi"
	"github.com/muni-town/roomy-bridge/src/types"
)

// Service stores Discord member profiles as Roomy user profile records in
// the bridge repository, skipping the write when the fingerprinted fields
// are unchanged since the last one. The connected space it holds is not
// written to.
type Service struct {
	repo  repo.Repo
	ns    repo.Namespace
	space roomyapi.ConnectedSpace
}

// New creates a profile Service bound to one bridged pair's namespace and
// connected space.
func New(r repo.Repo, ns repo.Namespace, space roomyapi.ConnectedSpace) *Service {
	return &Service{repo: r, ns: ns, space: space}
}

// HandleDiscordMember stores member's current profile in the repository's
// Roomy user profile table if it differs from what was last stored. No
// event is sent to the Roomy space.
func (s *Service) HandleDiscordMember(ctx context.Context, member *types.DiscordMember) error {
	if member == nil {
		return nil
	}

	displayName := member.Nickname
	if displayName == "" {
		displayName = member.Username
	}

	hash := ids.ProfileHash(member.Username, member.Nickname, member.AvatarURL)
	prev, ok, err := s.repo.GetProfileHash(ctx, s.ns, member.UserID)
	if err != nil {
		return fmt.Errorf("profile: reading previous hash: %w", err)
	}
	if ok && prev == hash {
		return nil
	}

	roomyUserID, found, err := s.repo.GetRoomyID(ctx, s.ns, member.UserID)
	if err != nil {
		return fmt.Errorf("profile: resolving roomy user id: %w", err)
	}
	if !found {
		roomyUserID = types.Ulid("discord:" + string(member.UserID))
		if err := s.repo.PutIDMapping(ctx, s.ns, member.UserID, roomyUserID); err != nil {
			return fmt.Errorf("profile: recording id mapping: %w", err)
		}
	}

	if err := s.repo.PutRoomyUserProfile(ctx, s.ns, string(roomyUserID), repo.RoomyUserProfile{
		DisplayName: displayName,
		AvatarURL:   member.AvatarURL,
	}); err != nil {
		return fmt.Errorf("profile: caching profile: %w", err)
	}

	if err := s.repo.PutProfileHash(ctx, s.ns, member.UserID, hash); err != nil {
		return fmt.Errorf("profile: recording hash: %w", err)
	}

	return nil
}
