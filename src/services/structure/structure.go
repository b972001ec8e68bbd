// Package structure mirrors Discord channels, threads, and categories onto
// Roomy rooms and back, bidirectionally. Every write it makes into Roomy
// carries an origin marker so its echo through the Roomy subscription can
// be recognized and skipped. Writes it makes into Discord carry no marker;
// their gateway echo reaches mirrorCreate, which sends a room update
// instead of a create once the id mapping exists.
package structure

import (
	"context"
	"fmt"

	"github.com/muni-town/roomy-bridge/src/discordapi"
	"github.com/muni-town/roomy-bridge/src/repo"
	"github.com/muni-town/roomy-bridge/src/roomyapi"
	"github.com/muni-town/roomy-bridge/src/types"
)

// webhookDisplayName matches the name the message service gives the
// per-channel webhook it creates; orphan cleanup only ever touches
// bridge-named webhooks, never anything a guild admin set up by hand.
const webhookDisplayName = "roomy-bridge"

// Service mirrors channel/thread/category structure in both directions.
type Service struct {
	repo    repo.Repo
	ns      repo.Namespace
	discord *discordapi.Client
	space   roomyapi.ConnectedSpace
	guildID types.Snowflake
}

// New creates a structure Service bound to one bridged pair.
func New(r repo.Repo, ns repo.Namespace, discord *discordapi.Client, space roomyapi.ConnectedSpace, guildID types.Snowflake) *Service {
	return &Service{repo: r, ns: ns, discord: discord, space: space, guildID: guildID}
}

// HandleDiscordEvent mirrors a Discord channel/thread structural change
// into Roomy.
func (s *Service) HandleDiscordEvent(ctx context.Context, ev types.DiscordEvent) error {
	switch ev.Kind {
	case types.DiscordEventChannelCreate, types.DiscordEventThreadCreate:
		return s.mirrorCreate(ctx, pickChannel(ev))
	case types.DiscordEventChannelUpdate, types.DiscordEventThreadUpdate:
		return s.mirrorUpdate(ctx, pickChannel(ev))
	case types.DiscordEventChannelDelete, types.DiscordEventThreadDelete:
		return s.mirrorArchive(ctx, ev.DeletedID)
	}
	return nil
}

func pickChannel(ev types.DiscordEvent) *types.DiscordChannel {
	if ev.Thread != nil {
		return ev.Thread
	}
	return ev.Channel
}

func (s *Service) mirrorCreate(ctx context.Context, ch *types.DiscordChannel) error {
	if ch == nil {
		return nil
	}
	if _, found, err := s.repo.GetRoomyID(ctx, s.ns, ch.ID); err != nil {
		return fmt.Errorf("structure: checking existing mapping: %w", err)
	} else if found {
		return s.mirrorUpdate(ctx, ch)
	}

	var parentRoomyID types.Ulid
	if ch.ParentID != "" {
		if id, found, err := s.repo.GetRoomyID(ctx, s.ns, ch.ParentID); err == nil && found {
			parentRoomyID = id
		}
	}

	event := types.RoomyEvent{
		Kind:   types.RoomyEventRoomCreate,
		Origin: discordOrigin(ch.ID),
		Room: &types.RoomyRoom{
			ParentID: parentRoomyID,
			Name:     ch.Name,
			Topic:    ch.Topic,
			Position: ch.Position,
		},
	}
	id, _, err := s.space.SendEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("structure: sending room create: %w", err)
	}

	if err := s.repo.PutIDMapping(ctx, s.ns, ch.ID, id); err != nil {
		return fmt.Errorf("structure: recording id mapping: %w", err)
	}
	if parentRoomyID != "" {
		if err := s.repo.PutRoomParent(ctx, s.ns, id, parentRoomyID); err != nil {
			return fmt.Errorf("structure: recording parent: %w", err)
		}
	}
	return nil
}

func (s *Service) mirrorUpdate(ctx context.Context, ch *types.DiscordChannel) error {
	if ch == nil {
		return nil
	}
	roomyID, found, err := s.repo.GetRoomyID(ctx, s.ns, ch.ID)
	if err != nil {
		return fmt.Errorf("structure: resolving room id: %w", err)
	}
	if !found {
		return s.mirrorCreate(ctx, ch)
	}

	_, _, err = s.space.SendEvent(ctx, types.RoomyEvent{
		Kind:   types.RoomyEventRoomUpdate,
		Origin: discordOrigin(ch.ID),
		Room: &types.RoomyRoom{
			ID:       roomyID,
			Name:     ch.Name,
			Topic:    ch.Topic,
			Position: ch.Position,
		},
	})
	if err != nil {
		return fmt.Errorf("structure: sending room update: %w", err)
	}
	return nil
}

func (s *Service) mirrorArchive(ctx context.Context, discordID types.Snowflake) error {
	roomyID, found, err := s.repo.GetRoomyID(ctx, s.ns, discordID)
	if err != nil {
		return fmt.Errorf("structure: resolving room id: %w", err)
	}
	if !found {
		return nil
	}
	_, _, err = s.space.SendEvent(ctx, types.RoomyEvent{
		Kind:   types.RoomyEventRoomArchive,
		Origin: discordOrigin(discordID),
		Room:   &types.RoomyRoom{ID: roomyID, Archived: true},
	})
	if err != nil {
		return fmt.Errorf("structure: sending room archive: %w", err)
	}
	s.reapWebhook(ctx, discordID)
	return s.repo.DeleteIDMapping(ctx, s.ns, discordID)
}

// reapWebhook deletes the webhook the message service created for a channel
// once that channel is gone. Best-effort: the channel is already deleted
// either way, and Discord drops an orphaned webhook's future activity on
// its own.
func (s *Service) reapWebhook(ctx context.Context, discordID types.Snowflake) {
	token, found, err := s.repo.GetWebhookToken(ctx, s.ns, discordID)
	if err != nil || !found {
		return
	}
	_ = s.discord.DeleteWebhook(ctx, token.ID)
	_ = s.repo.DeleteWebhookToken(ctx, s.ns, discordID)
}

// CleanupOrphanedWebhooks deletes any webhook in channelID that isn't the
// one this bridge has recorded for it, keeping a channel that's been
// recreated or reconfigured under Discord's 15-webhooks-per-channel limit.
// Exposed for test setup and maintenance tooling, not called from the
// sync hot path.
func (s *Service) CleanupOrphanedWebhooks(ctx context.Context, channelID types.Snowflake) error {
	owned, found, err := s.repo.GetWebhookToken(ctx, s.ns, channelID)
	if err != nil {
		return fmt.Errorf("structure: resolving owned webhook: %w", err)
	}

	hooks, err := s.discord.ListWebhooks(ctx, channelID)
	if err != nil {
		return fmt.Errorf("structure: listing webhooks: %w", err)
	}
	for _, h := range hooks {
		if found && h.ID == owned.ID {
			continue
		}
		if h.Name != webhookDisplayName {
			continue
		}
		if err := s.discord.DeleteWebhook(ctx, h.ID); err != nil {
			return fmt.Errorf("structure: deleting orphaned webhook %s: %w", h.ID, err)
		}
	}
	return nil
}

// Backfill walks the guild's current channel list via the Discord REST API
// and replays each one through push as a synthetic channel-create event, the
// same event HandleDiscordEvent sees from the gateway — mirrorCreate's
// existing "already mapped? fall back to update" check makes each replay
// idempotent, so resuming a bridge that's already mirrored some channels
// just reconciles the rest. It returns the ids of every ordinary text
// channel found, for message and reaction backfill to walk in turn.
func (s *Service) Backfill(ctx context.Context, push func(types.DiscordEvent)) (textChannelIDs []types.Snowflake, err error) {
	channels, err := s.discord.ListGuildChannels(ctx, s.guildID)
	if err != nil {
		return nil, fmt.Errorf("structure: listing guild channels: %w", err)
	}
	for _, ch := range channels {
		push(types.DiscordEvent{Kind: types.DiscordEventChannelCreate, GuildID: s.guildID, Channel: ch})
		if isTextChannel(ch.Type) {
			textChannelIDs = append(textChannelIDs, ch.ID)
		}
	}
	return textChannelIDs, nil
}

// isTextChannel reports whether t is a channel kind message/reaction
// backfill should walk: ordinary guild text channels and announcement
// channels. Voice channels, categories, and threads (walked separately,
// once their parent exists) are excluded.
func isTextChannel(t int) bool {
	return t == 0 || t == 5
}

// HandleRoomyEvent mirrors a Roomy room change into Discord, skipping
// events that originated from this bridge's own Discord-side write.
func (s *Service) HandleRoomyEvent(ctx context.Context, ev types.DecodedStreamEvent) error {
	event := ev.Event
	if isDiscordOrigin(event.Origin) {
		return nil
	}

	switch event.Kind {
	case types.RoomyEventRoomCreate:
		return s.createDiscordChannel(ctx, event.Room)
	case types.RoomyEventRoomUpdate:
		return s.updateDiscordChannel(ctx, event.Room)
	case types.RoomyEventRoomArchive:
		return s.archiveDiscordChannel(ctx, event.Room)
	}
	return nil
}

func (s *Service) createDiscordChannel(ctx context.Context, room *types.RoomyRoom) error {
	if room == nil {
		return nil
	}
	var parentDiscordID types.Snowflake
	if room.ParentID != "" {
		if id, found, err := s.repo.GetDiscordID(ctx, s.ns, room.ParentID); err == nil && found {
			parentDiscordID = id
		}
	}

	ch, err := s.discord.CreateChannel(ctx, s.guildID, room.Name, parentDiscordID, 0)
	if err != nil {
		return fmt.Errorf("structure: creating discord channel: %w", err)
	}
	if err := s.repo.PutIDMapping(ctx, s.ns, ch.ID, room.ID); err != nil {
		return fmt.Errorf("structure: recording id mapping: %w", err)
	}
	return nil
}

func (s *Service) updateDiscordChannel(ctx context.Context, room *types.RoomyRoom) error {
	if room == nil {
		return nil
	}
	discordID, found, err := s.repo.GetDiscordID(ctx, s.ns, room.ID)
	if err != nil {
		return fmt.Errorf("structure: resolving discord id: %w", err)
	}
	if !found {
		return s.createDiscordChannel(ctx, room)
	}
	if err := s.discord.EditChannel(ctx, discordID, room.Name, room.Topic, room.Position); err != nil {
		return fmt.Errorf("structure: editing discord channel: %w", err)
	}
	return nil
}

func (s *Service) archiveDiscordChannel(ctx context.Context, room *types.RoomyRoom) error {
	if room == nil {
		return nil
	}
	discordID, found, err := s.repo.GetDiscordID(ctx, s.ns, room.ID)
	if err != nil {
		return fmt.Errorf("structure: resolving discord id: %w", err)
	}
	if !found {
		return nil
	}
	if err := s.discord.ArchiveChannel(ctx, discordID); err != nil {
		return fmt.Errorf("structure: archiving discord channel: %w", err)
	}
	return s.repo.DeleteIDMapping(ctx, s.ns, discordID)
}

func discordOrigin(id types.Snowflake) string {
	return types.ExtDiscordChannelOrigin + ":" + string(id)
}

func isDiscordOrigin(origin string) bool {
	return len(origin) > 0 && hasPrefix(origin, types.ExtDiscordChannelOrigin)
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
