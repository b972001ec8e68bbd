// Package reaction mirrors emoji reactions bidirectionally between a
// Discord channel and its paired Roomy room.
package reaction

import (
	"context"
	"fmt"

	"github.com/muni-town/roomy-bridge/src/discordapi"
	"github.com/muni-town/roomy-bridge/src/repo"
	"github.com/muni-town/roomy-bridge/src/roomyapi"
	"github.com/muni-town/roomy-bridge/src/types"
)

// Service mirrors reaction add/remove events in both directions.
type Service struct {
	repo    repo.Repo
	ns      repo.Namespace
	discord *discordapi.Client
	space   roomyapi.ConnectedSpace
}

// New creates a reaction Service bound to one bridged pair.
func New(r repo.Repo, ns repo.Namespace, discord *discordapi.Client, space roomyapi.ConnectedSpace) *Service {
	return &Service{repo: r, ns: ns, discord: discord, space: space}
}

// HandleDiscordEvent mirrors a reaction add/remove into Roomy.
func (s *Service) HandleDiscordEvent(ctx context.Context, ev types.DiscordEvent) error {
	if ev.Reaction == nil {
		return nil
	}
	r := ev.Reaction

	roomyMessageID, found, err := s.repo.GetRoomyID(ctx, s.ns, r.MessageID)
	if err != nil {
		return fmt.Errorf("reaction: resolving message id: %w", err)
	}
	if !found {
		return nil // message was never mirrored (e.g. predates the bridge); nothing to react to
	}

	key := repo.ReactionKey{DiscordMessageID: r.MessageID, DiscordUserID: r.UserID, Emoji: r.Emoji}

	switch ev.Kind {
	case types.DiscordEventReactionAdd:
		if _, found, err := s.repo.GetReactionID(ctx, s.ns, key); err != nil {
			return fmt.Errorf("reaction: checking existing mirror: %w", err)
		} else if found {
			return nil
		}
		id, _, err := s.space.SendEvent(ctx, types.RoomyEvent{
			Kind:   types.RoomyEventReactionAdd,
			Origin: discordUserOrigin(r.UserID),
			Reaction: &types.RoomyReaction{
				MessageID: roomyMessageID,
				UserID:    "discord:" + string(r.UserID),
				Emoji:     r.Emoji,
			},
		})
		if err != nil {
			return fmt.Errorf("reaction: sending reaction add: %w", err)
		}
		return s.repo.PutReactionID(ctx, s.ns, key, id)

	case types.DiscordEventReactionRemove:
		_, _, err := s.space.SendEvent(ctx, types.RoomyEvent{
			Kind:   types.RoomyEventReactionRemove,
			Origin: discordUserOrigin(r.UserID),
			Reaction: &types.RoomyReaction{
				MessageID: roomyMessageID,
				UserID:    "discord:" + string(r.UserID),
				Emoji:     r.Emoji,
			},
		})
		if err != nil {
			return fmt.Errorf("reaction: sending reaction remove: %w", err)
		}
		return s.repo.DeleteReactionID(ctx, s.ns, key)
	}
	return nil
}

// backfillPageSize bounds each Discord REST history page fetched during
// Backfill.
const backfillPageSize = 100

// Backfill walks each of textChannelIDs' message history strictly after the
// last message this bridge has already mirrored, replaying every reaction
// found on those messages through push as synthetic reaction-add events.
// It runs after message.Service's own backfill pass so the messages it
// re-fetches are the same ones just mirrored into Roomy; reactions left on
// messages from before that window are picked up the next time a user
// reacts live, not retroactively.
func (s *Service) Backfill(ctx context.Context, textChannelIDs []types.Snowflake, push func(types.DiscordEvent)) error {
	for _, channelID := range textChannelIDs {
		if err := s.backfillChannel(ctx, channelID, push); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) backfillChannel(ctx context.Context, channelID types.Snowflake, push func(types.DiscordEvent)) error {
	roomID, found, err := s.repo.GetRoomyID(ctx, s.ns, channelID)
	if err != nil {
		return fmt.Errorf("reaction: resolving room id for backfill: %w", err)
	}
	if !found {
		return nil
	}
	cursor, _, err := s.repo.GetLatestMessage(ctx, s.ns, roomID)
	if err != nil {
		return fmt.Errorf("reaction: resolving latest mirrored message: %w", err)
	}

	for {
		page, err := s.discord.ListChannelMessages(ctx, channelID, cursor, backfillPageSize)
		if err != nil {
			return fmt.Errorf("reaction: listing channel %s history: %w", channelID, err)
		}
		for _, m := range page {
			for _, summary := range m.Reactions {
				users, err := s.discord.ListMessageReactionUsers(ctx, channelID, m.ID, summary.Emoji, backfillPageSize)
				if err != nil {
					return fmt.Errorf("reaction: listing reactors on message %s: %w", m.ID, err)
				}
				for _, userID := range users {
					push(types.DiscordEvent{
						Kind: types.DiscordEventReactionAdd,
						Reaction: &types.DiscordReaction{
							MessageID: m.ID,
							ChannelID: channelID,
							UserID:    userID,
							Emoji:     summary.Emoji,
						},
					})
				}
			}
			cursor = m.ID
		}
		if len(page) < backfillPageSize {
			return nil
		}
	}
}

// HandleRoomyEvent mirrors a Roomy reaction add/remove into Discord,
// skipping events that echo this bridge's own Discord-side write.
func (s *Service) HandleRoomyEvent(ctx context.Context, ev types.DecodedStreamEvent) error {
	event := ev.Event
	if isDiscordUserOrigin(event.Origin) || event.Reaction == nil {
		return nil
	}
	r := event.Reaction

	discordMessageID, found, err := s.repo.GetDiscordID(ctx, s.ns, r.MessageID)
	if err != nil {
		return fmt.Errorf("reaction: resolving discord message id: %w", err)
	}
	if !found {
		return nil
	}
	channelID, found, err := s.repo.GetMessageChannel(ctx, s.ns, discordMessageID)
	if err != nil {
		return fmt.Errorf("reaction: resolving discord channel id: %w", err)
	}
	if !found {
		return nil
	}

	switch event.Kind {
	case types.RoomyEventReactionAdd:
		if err := s.discord.AddReaction(ctx, channelID, discordMessageID, r.Emoji); err != nil {
			return fmt.Errorf("reaction: adding discord reaction: %w", err)
		}
	case types.RoomyEventReactionRemove:
		if err := s.discord.RemoveReaction(ctx, channelID, discordMessageID, r.Emoji); err != nil {
			return fmt.Errorf("reaction: removing discord reaction: %w", err)
		}
	}
	return nil
}

func discordUserOrigin(id types.Snowflake) string {
	return types.ExtDiscordUserOrigin + ":" + string(id)
}

func isDiscordUserOrigin(origin string) bool {
	return len(origin) > len(types.ExtDiscordUserOrigin) && origin[:len(types.ExtDiscordUserOrigin)] == types.ExtDiscordUserOrigin
}
