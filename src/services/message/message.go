// Package message mirrors messages bidirectionally between Discord channels
// and their paired Roomy rooms: create, edit, delete, replies, and
// attachments. It is the most involved sync service because idempotency
// and echo suppression both hinge on content hashing rather than id
// equality alone — Discord resends unmodified messages as "updates" for
// reasons unrelated to content (e.g. embed unfurl), and a naive bridge
// would loop those back and forth forever.
package message

import (
	"context"
	"fmt"

	"github.com/muni-town/roomy-bridge/src/discordapi"
	"github.com/muni-town/roomy-bridge/src/ids"
	"github.com/muni-town/roomy-bridge/src/repo"
	"github.com/muni-town/roomy-bridge/src/roomyapi"
	"github.com/muni-town/roomy-bridge/src/types"
)

const webhookName = "roomy-bridge"

// Service mirrors message events in both directions for one bridged pair.
type Service struct {
	repo    repo.Repo
	ns      repo.Namespace
	discord *discordapi.Client
	space   roomyapi.ConnectedSpace
}

// New creates a message Service bound to one bridged pair.
func New(r repo.Repo, ns repo.Namespace, discord *discordapi.Client, space roomyapi.ConnectedSpace) *Service {
	return &Service{repo: r, ns: ns, discord: discord, space: space}
}

// HandleDiscordEvent mirrors a message create/update/delete into Roomy.
func (s *Service) HandleDiscordEvent(ctx context.Context, ev types.DiscordEvent) error {
	switch ev.Kind {
	case types.DiscordEventMessageCreate:
		return s.mirrorCreate(ctx, ev.Message)
	case types.DiscordEventMessageUpdate:
		return s.mirrorEdit(ctx, ev.Message)
	case types.DiscordEventMessageDelete:
		return s.mirrorDelete(ctx, ev.DeletedID)
	}
	return nil
}

func (s *Service) mirrorCreate(ctx context.Context, m *types.DiscordMessage) error {
	if m == nil || m.IsWebhook {
		return nil // webhook messages in the bridged channel are this bridge's own mirrored output
	}

	roomID, found, err := s.repo.GetRoomyID(ctx, s.ns, m.ChannelID)
	if err != nil {
		return fmt.Errorf("message: resolving room id: %w", err)
	}
	if !found {
		return nil // channel structure hasn't been mirrored yet; nothing to attach this message to
	}

	var replyTo types.Ulid
	if m.ReplyToID != "" {
		if id, found, err := s.repo.GetRoomyID(ctx, s.ns, m.ReplyToID); err == nil && found {
			replyTo = id
		}
	}

	displayName, avatarURL := s.resolveAuthor(ctx, m)

	event := types.RoomyEvent{
		Kind:   types.RoomyEventMessageSend,
		Origin: discordMessageOrigin(m.ID),
		Message: &types.RoomyMessage{
			RoomID:          roomID,
			AuthorName:      displayName,
			AuthorAvatarURL: avatarURL,
			Content:         m.Content,
			Attachments:     toRoomyAttachments(m.Attachments),
			ReplyToID:       replyTo,
		},
	}

	id, _, err := s.space.SendEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("message: sending message: %w", err)
	}

	if err := s.repo.PutIDMapping(ctx, s.ns, m.ID, id); err != nil {
		return fmt.Errorf("message: recording id mapping: %w", err)
	}
	if err := s.repo.PutLatestMessage(ctx, s.ns, roomID, m.ID); err != nil {
		return fmt.Errorf("message: recording latest message: %w", err)
	}
	hash := ids.MessageContentHash(m.Content, attachmentURLs(m.Attachments))
	if err := s.repo.PutEditInfo(ctx, s.ns, string(m.ID), hash); err != nil {
		return fmt.Errorf("message: recording edit info: %w", err)
	}
	return nil
}

func (s *Service) mirrorEdit(ctx context.Context, m *types.DiscordMessage) error {
	if m == nil {
		return nil
	}

	hash := ids.MessageContentHash(m.Content, attachmentURLs(m.Attachments))
	prevHash, found, err := s.repo.GetEditInfo(ctx, s.ns, string(m.ID))
	if err != nil {
		return fmt.Errorf("message: reading previous edit info: %w", err)
	}
	if !found {
		return s.mirrorCreate(ctx, m) // never mirrored (e.g. bridge started after it was sent)
	}
	if prevHash == hash {
		return nil // Discord resent the message unchanged; not a real edit
	}

	roomyID, found, err := s.repo.GetRoomyID(ctx, s.ns, m.ID)
	if err != nil {
		return fmt.Errorf("message: resolving roomy message id: %w", err)
	}
	if !found {
		return nil
	}

	_, _, err = s.space.SendEvent(ctx, types.RoomyEvent{
		Kind:   types.RoomyEventMessageEdit,
		Origin: discordMessageOrigin(m.ID),
		Message: &types.RoomyMessage{
			ID:          roomyID,
			Content:     m.Content,
			Attachments: toRoomyAttachments(m.Attachments),
		},
	})
	if err != nil {
		return fmt.Errorf("message: sending edit: %w", err)
	}
	return s.repo.PutEditInfo(ctx, s.ns, string(m.ID), hash)
}

func (s *Service) mirrorDelete(ctx context.Context, discordID types.Snowflake) error {
	roomyID, found, err := s.repo.GetRoomyID(ctx, s.ns, discordID)
	if err != nil {
		return fmt.Errorf("message: resolving roomy message id: %w", err)
	}
	if !found {
		return nil
	}
	_, _, err = s.space.SendEvent(ctx, types.RoomyEvent{
		Kind:    types.RoomyEventMessageDelete,
		Origin:  discordMessageOrigin(discordID),
		Message: &types.RoomyMessage{ID: roomyID},
	})
	if err != nil {
		return fmt.Errorf("message: sending delete: %w", err)
	}
	return s.repo.DeleteIDMapping(ctx, s.ns, discordID)
}

// backfillPageSize bounds each Discord REST history page fetched during
// Backfill.
const backfillPageSize = 100

// Backfill walks each of textChannelIDs' message history strictly after the
// last message this bridge has already mirrored into that channel's room
// (repo.GetLatestMessage), replaying the rest through push as synthetic
// message-create events in the order they were originally sent.
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
		return fmt.Errorf("message: resolving room id for backfill: %w", err)
	}
	if !found {
		return nil // structure backfill didn't map this channel; nothing to anchor messages to
	}

	cursor, _, err := s.repo.GetLatestMessage(ctx, s.ns, roomID)
	if err != nil {
		return fmt.Errorf("message: resolving latest mirrored message: %w", err)
	}

	for {
		page, err := s.discord.ListChannelMessages(ctx, channelID, cursor, backfillPageSize)
		if err != nil {
			return fmt.Errorf("message: listing channel %s history: %w", channelID, err)
		}
		for _, m := range page {
			push(types.DiscordEvent{Kind: types.DiscordEventMessageCreate, GuildID: m.GuildID, Message: m})
			cursor = m.ID
		}
		if len(page) < backfillPageSize {
			return nil
		}
	}
}

// resolveAuthor looks up the cached Roomy-mirrored identity for m's author
// so Discord-originated messages carry a consistent display name if the
// same user later posts from Roomy, falling back to the raw Discord
// identity when no profile has been cached yet.
func (s *Service) resolveAuthor(ctx context.Context, m *types.DiscordMessage) (string, string) {
	roomyUserID, found, err := s.repo.GetRoomyID(ctx, s.ns, m.AuthorID)
	if err != nil || !found {
		return m.AuthorName, m.AuthorAvatarURL
	}
	profile, found, err := s.repo.GetRoomyUserProfile(ctx, s.ns, string(roomyUserID))
	if err != nil || !found {
		return m.AuthorName, m.AuthorAvatarURL
	}
	return profile.DisplayName, profile.AvatarURL
}

// HandleRoomyEvent mirrors a Roomy message event into Discord via a
// per-channel webhook, impersonating the Roomy author, skipping events
// that echo this bridge's own Discord-side write.
func (s *Service) HandleRoomyEvent(ctx context.Context, ev types.DecodedStreamEvent) error {
	event := ev.Event
	if isDiscordMessageOrigin(event.Origin) || event.Message == nil {
		return nil
	}

	switch event.Kind {
	case types.RoomyEventMessageSend:
		return s.createDiscordMessage(ctx, event.Message)
	case types.RoomyEventMessageEdit:
		return s.editDiscordMessage(ctx, event.Message)
	case types.RoomyEventMessageDelete:
		return s.deleteDiscordMessage(ctx, event.Message)
	}
	return nil
}

func (s *Service) createDiscordMessage(ctx context.Context, rm *types.RoomyMessage) error {
	channelID, found, err := s.repo.GetDiscordID(ctx, s.ns, rm.RoomID)
	if err != nil {
		return fmt.Errorf("message: resolving discord channel: %w", err)
	}
	if !found {
		return nil // room structure hasn't been mirrored to a Discord channel yet
	}

	webhookID, token, err := s.discord.EnsureWebhook(ctx, channelID, webhookName)
	if err != nil {
		return fmt.Errorf("message: ensuring webhook: %w", err)
	}
	if err := s.repo.PutWebhookToken(ctx, s.ns, channelID, repo.WebhookToken{ID: webhookID, Token: token}); err != nil {
		return fmt.Errorf("message: caching webhook token: %w", err)
	}

	replyNote := ""
	if rm.ReplyToID != "" {
		if discordReplyID, found, err := s.repo.GetDiscordID(ctx, s.ns, rm.ReplyToID); err == nil && found {
			replyNote = fmt.Sprintf("> replying to https://discord.com/channels/-/%s/%s", channelID, discordReplyID)
		}
	}

	discordMessageID, err := s.discord.SendWebhookMessage(ctx, webhookID, token, rm.AuthorName, rm.AuthorAvatarURL, rm.Content, replyNote)
	if err != nil {
		return fmt.Errorf("message: posting webhook message: %w", err)
	}

	if err := s.repo.PutIDMapping(ctx, s.ns, discordMessageID, rm.ID); err != nil {
		return fmt.Errorf("message: recording id mapping: %w", err)
	}
	if err := s.repo.PutMessageChannel(ctx, s.ns, discordMessageID, channelID); err != nil {
		return fmt.Errorf("message: recording message channel: %w", err)
	}
	if err := s.repo.PutLatestMessage(ctx, s.ns, rm.RoomID, discordMessageID); err != nil {
		return fmt.Errorf("message: recording latest message: %w", err)
	}
	hash := ids.MessageContentHash(rm.Content, attachmentURLsRoomy(rm.Attachments))
	return s.repo.PutMessageHash(ctx, s.ns, rm.ID, hash)
}

func (s *Service) editDiscordMessage(ctx context.Context, rm *types.RoomyMessage) error {
	hash := ids.MessageContentHash(rm.Content, attachmentURLsRoomy(rm.Attachments))
	prevHash, found, err := s.repo.GetMessageHash(ctx, s.ns, rm.ID)
	if err != nil {
		return fmt.Errorf("message: reading previous hash: %w", err)
	}
	if !found {
		return s.createDiscordMessage(ctx, rm)
	}
	if prevHash == hash {
		return nil
	}

	discordID, found, err := s.repo.GetDiscordID(ctx, s.ns, rm.ID)
	if err != nil {
		return fmt.Errorf("message: resolving discord message id: %w", err)
	}
	if !found {
		return nil
	}
	channelID, found, err := s.repo.GetMessageChannel(ctx, s.ns, discordID)
	if err != nil {
		return fmt.Errorf("message: resolving discord channel: %w", err)
	}
	if !found {
		return nil
	}
	token, found, err := s.repo.GetWebhookToken(ctx, s.ns, channelID)
	if err != nil {
		return fmt.Errorf("message: resolving webhook token: %w", err)
	}
	if !found {
		return nil
	}

	if err := s.discord.EditWebhookMessage(ctx, token.ID, token.Token, discordID, rm.Content); err != nil {
		return fmt.Errorf("message: editing webhook message: %w", err)
	}
	return s.repo.PutMessageHash(ctx, s.ns, rm.ID, hash)
}

func (s *Service) deleteDiscordMessage(ctx context.Context, rm *types.RoomyMessage) error {
	discordID, found, err := s.repo.GetDiscordID(ctx, s.ns, rm.ID)
	if err != nil {
		return fmt.Errorf("message: resolving discord message id: %w", err)
	}
	if !found {
		return nil
	}
	channelID, found, err := s.repo.GetMessageChannel(ctx, s.ns, discordID)
	if err != nil {
		return fmt.Errorf("message: resolving discord channel: %w", err)
	}
	if !found {
		return nil
	}
	if err := s.discord.DeleteMessage(ctx, channelID, discordID); err != nil {
		return fmt.Errorf("message: deleting discord message: %w", err)
	}
	return s.repo.DeleteIDMapping(ctx, s.ns, discordID)
}

func toRoomyAttachments(atts []types.DiscordAttachment) []types.RoomyAttachment {
	if len(atts) == 0 {
		return nil
	}
	out := make([]types.RoomyAttachment, len(atts))
	for i, a := range atts {
		out[i] = types.RoomyAttachment{URL: a.URL, Filename: a.Filename, ContentType: a.ContentType, Size: a.Size}
	}
	return out
}

func attachmentURLs(atts []types.DiscordAttachment) []string {
	out := make([]string, len(atts))
	for i, a := range atts {
		out[i] = a.URL
	}
	return out
}

func attachmentURLsRoomy(atts []types.RoomyAttachment) []string {
	out := make([]string, len(atts))
	for i, a := range atts {
		out[i] = a.URL
	}
	return out
}

func discordMessageOrigin(id types.Snowflake) string {
	return types.ExtDiscordMessageOrigin + ":" + string(id)
}

func isDiscordMessageOrigin(origin string) bool {
	return len(origin) > len(types.ExtDiscordMessageOrigin) && origin[:len(types.ExtDiscordMessageOrigin)] == types.ExtDiscordMessageOrigin
}
