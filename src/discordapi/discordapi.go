// Package discordapi wraps discordgo behind the narrow interface the bridge
// actually needs: opening a gateway session, translating its events into
// the bridge's own DiscordEvent union, and issuing the REST calls the sync
// services use to mirror changes back into Discord.
package discordapi

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"github.com/muni-town/roomy-bridge/src/logging"
	"github.com/muni-town/roomy-bridge/src/types"
)

// EventHandler receives one translated gateway event.
type EventHandler func(types.DiscordEvent)

// Client wraps a single discordgo.Session shared by every bridge the
// orchestrator manages.
type Client struct {
	session *discordgo.Session
	log     *logrus.Entry
}

// Open creates and connects a discordgo session with the gateway intents
// the bridge needs (guilds, messages, message content, reactions, members).
func Open(token string, onEvent EventHandler) (*Client, error) {
	sess, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discordapi: creating session: %w", err)
	}

	sess.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsGuildMembers

	c := &Client{session: sess, log: logging.Log.WithField("component", "discordapi")}
	c.registerHandlers(onEvent)

	if err := sess.Open(); err != nil {
		return nil, fmt.Errorf("discordapi: opening gateway session: %w", err)
	}
	return c, nil
}

// Close shuts down the gateway connection.
func (c *Client) Close() error {
	return c.session.Close()
}

// BotUserID returns the connected bot's own snowflake, used to filter its
// own webhook/message echoes out of the inbound event stream.
func (c *Client) BotUserID() types.Snowflake {
	if c.session.State == nil || c.session.State.User == nil {
		return ""
	}
	return types.Snowflake(c.session.State.User.ID)
}

func (c *Client) registerHandlers(onEvent EventHandler) {
	s := c.session

	s.AddHandler(func(_ *discordgo.Session, ev *discordgo.ChannelCreate) {
		onEvent(types.DiscordEvent{Kind: types.DiscordEventChannelCreate, GuildID: types.Snowflake(ev.GuildID), Channel: toChannel(ev.Channel)})
	})
	s.AddHandler(func(_ *discordgo.Session, ev *discordgo.ChannelUpdate) {
		onEvent(types.DiscordEvent{Kind: types.DiscordEventChannelUpdate, GuildID: types.Snowflake(ev.GuildID), Channel: toChannel(ev.Channel)})
	})
	s.AddHandler(func(_ *discordgo.Session, ev *discordgo.ChannelDelete) {
		onEvent(types.DiscordEvent{Kind: types.DiscordEventChannelDelete, GuildID: types.Snowflake(ev.GuildID), DeletedID: types.Snowflake(ev.ID)})
	})

	s.AddHandler(func(_ *discordgo.Session, ev *discordgo.ThreadCreate) {
		onEvent(types.DiscordEvent{Kind: types.DiscordEventThreadCreate, GuildID: types.Snowflake(ev.GuildID), Thread: toChannel(ev.Channel), ParentID: types.Snowflake(ev.ParentID)})
	})
	s.AddHandler(func(_ *discordgo.Session, ev *discordgo.ThreadUpdate) {
		onEvent(types.DiscordEvent{Kind: types.DiscordEventThreadUpdate, GuildID: types.Snowflake(ev.GuildID), Thread: toChannel(ev.Channel), ParentID: types.Snowflake(ev.ParentID)})
	})
	s.AddHandler(func(_ *discordgo.Session, ev *discordgo.ThreadDelete) {
		onEvent(types.DiscordEvent{Kind: types.DiscordEventThreadDelete, GuildID: types.Snowflake(ev.GuildID), DeletedID: types.Snowflake(ev.ID)})
	})

	s.AddHandler(func(_ *discordgo.Session, ev *discordgo.MessageCreate) {
		onEvent(types.DiscordEvent{Kind: types.DiscordEventMessageCreate, GuildID: types.Snowflake(ev.GuildID), Message: toMessage(ev.Message)})
	})
	s.AddHandler(func(_ *discordgo.Session, ev *discordgo.MessageUpdate) {
		if ev.Message == nil || ev.Message.Content == "" && len(ev.Message.Attachments) == 0 {
			return // discordgo sometimes fires partial updates (e.g. embed-only); nothing to mirror.
		}
		onEvent(types.DiscordEvent{Kind: types.DiscordEventMessageUpdate, GuildID: types.Snowflake(ev.GuildID), Message: toMessage(ev.Message)})
	})
	s.AddHandler(func(_ *discordgo.Session, ev *discordgo.MessageDelete) {
		onEvent(types.DiscordEvent{Kind: types.DiscordEventMessageDelete, GuildID: types.Snowflake(ev.GuildID), DeletedID: types.Snowflake(ev.ID), ParentID: types.Snowflake(ev.ChannelID)})
	})

	s.AddHandler(func(_ *discordgo.Session, ev *discordgo.MessageReactionAdd) {
		onEvent(types.DiscordEvent{Kind: types.DiscordEventReactionAdd, GuildID: types.Snowflake(ev.GuildID), Reaction: toReaction(ev.MessageReaction)})
	})
	s.AddHandler(func(_ *discordgo.Session, ev *discordgo.MessageReactionRemove) {
		onEvent(types.DiscordEvent{Kind: types.DiscordEventReactionRemove, GuildID: types.Snowflake(ev.GuildID), Reaction: toReaction(ev.MessageReaction)})
	})

	s.AddHandler(func(_ *discordgo.Session, ev *discordgo.GuildMemberUpdate) {
		if ev.Member == nil || ev.Member.User == nil {
			return
		}
		onEvent(types.DiscordEvent{
			Kind:    types.DiscordEventGuildMemberAdd,
			GuildID: types.Snowflake(ev.GuildID),
			Member:  toMember(ev.Member),
		})
	})

	s.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		c.log.WithFields(logrus.Fields{"bot": r.User.Username, "guilds": len(r.Guilds)}).Info("discord gateway ready")
	})
}

func toChannel(ch *discordgo.Channel) *types.DiscordChannel {
	if ch == nil {
		return nil
	}
	return &types.DiscordChannel{
		ID:       types.Snowflake(ch.ID),
		GuildID:  types.Snowflake(ch.GuildID),
		ParentID: types.Snowflake(ch.ParentID),
		Name:     ch.Name,
		Topic:    ch.Topic,
		Position: ch.Position,
		Type:     int(ch.Type),
		Archived: ch.ThreadMetadata != nil && ch.ThreadMetadata.Archived,
	}
}

func toMessage(m *discordgo.Message) *types.DiscordMessage {
	if m == nil {
		return nil
	}
	out := &types.DiscordMessage{
		ID:        types.Snowflake(m.ID),
		ChannelID: types.Snowflake(m.ChannelID),
		GuildID:   types.Snowflake(m.GuildID),
		Content:   m.Content,
		IsWebhook: m.WebhookID != "",
	}
	if m.Author != nil {
		out.AuthorID = types.Snowflake(m.Author.ID)
		out.AuthorName = m.Author.Username
		out.AuthorAvatarURL = m.Author.AvatarURL("128")
		out.IsBot = m.Author.Bot
	}
	if m.MessageReference != nil {
		out.ReplyToID = types.Snowflake(m.MessageReference.MessageID)
	}
	if !m.EditedTimestamp.IsZero() {
		out.EditedTimestamp = m.EditedTimestamp.UnixMilli()
	}
	out.CreatedTimestamp = m.Timestamp.UnixMilli()
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, types.DiscordAttachment{
			URL:         a.URL,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}
	for _, r := range m.Reactions {
		emoji := r.Emoji.Name
		if r.Emoji.ID != "" {
			emoji = r.Emoji.Name + ":" + r.Emoji.ID
		}
		out.Reactions = append(out.Reactions, types.DiscordReactionSummary{Emoji: emoji, Count: r.Count})
	}
	return out
}

func toReaction(r *discordgo.MessageReaction) *types.DiscordReaction {
	if r == nil {
		return nil
	}
	emoji := r.Emoji.Name
	if r.Emoji.ID != "" {
		emoji = r.Emoji.Name + ":" + r.Emoji.ID
	}
	return &types.DiscordReaction{
		MessageID: types.Snowflake(r.MessageID),
		ChannelID: types.Snowflake(r.ChannelID),
		UserID:    types.Snowflake(r.UserID),
		Emoji:     emoji,
	}
}

func toMember(m *discordgo.Member) *types.DiscordMember {
	return &types.DiscordMember{
		UserID:    types.Snowflake(m.User.ID),
		Username:  m.User.Username,
		Nickname:  m.Nick,
		AvatarURL: m.User.AvatarURL("128"),
	}
}

// --- REST operations used by the sync services ---

// ListGuildChannels lists every channel (text, voice, category, and
// top-level thread parent) belonging to guildID, used by the structure
// service's startup reconciliation pass.
func (c *Client) ListGuildChannels(ctx context.Context, guildID types.Snowflake) ([]*types.DiscordChannel, error) {
	chs, err := c.session.GuildChannels(string(guildID), discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discordapi: listing guild channels: %w", err)
	}
	out := make([]*types.DiscordChannel, 0, len(chs))
	for _, ch := range chs {
		out = append(out, toChannel(ch))
	}
	return out, nil
}

// ListChannelMessages fetches one page of channelID's history strictly
// after afterID (empty for the channel's very first message), returning up
// to limit messages oldest-first. It makes a single REST request, so limit
// is capped by Discord's own page size; callers page by passing the last
// returned id back as afterID. Used by the message service's startup
// reconciliation pass to fetch only what a resumed bridge hasn't already
// mirrored.
func (c *Client) ListChannelMessages(ctx context.Context, channelID types.Snowflake, afterID types.Snowflake, limit int) ([]*types.DiscordMessage, error) {
	if afterID == "" {
		afterID = "0" // without an after cursor Discord returns the newest page instead
	}
	msgs, err := c.session.ChannelMessages(string(channelID), limit, "", string(afterID), "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discordapi: listing channel messages: %w", err)
	}
	// Discord always returns newest-first regardless of which cursor
	// (before/after/around) selected the page; the bridge wants to replay
	// history in the order it actually happened.
	out := make([]*types.DiscordMessage, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = toMessage(m)
	}
	return out, nil
}

// ListMessageReactionUsers returns the users who reacted to messageID with
// emoji, used by the reaction service's startup reconciliation pass.
func (c *Client) ListMessageReactionUsers(ctx context.Context, channelID, messageID types.Snowflake, emoji string, limit int) ([]types.Snowflake, error) {
	users, err := c.session.MessageReactions(string(channelID), string(messageID), emoji, limit, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discordapi: listing reaction users: %w", err)
	}
	out := make([]types.Snowflake, len(users))
	for i, u := range users {
		out[i] = types.Snowflake(u.ID)
	}
	return out, nil
}

func (c *Client) CreateChannel(ctx context.Context, guildID types.Snowflake, name string, parentID types.Snowflake, channelType int) (*types.DiscordChannel, error) {
	ch, err := c.session.GuildChannelCreateComplex(string(guildID), discordgo.GuildChannelCreateData{
		Name:     name,
		Type:     discordgo.ChannelType(channelType),
		ParentID: string(parentID),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discordapi: creating channel: %w", err)
	}
	return toChannel(ch), nil
}

func (c *Client) EditChannel(ctx context.Context, channelID types.Snowflake, name string, topic string, position int) error {
	_, err := c.session.ChannelEditComplex(string(channelID), &discordgo.ChannelEdit{
		Name:     name,
		Topic:    topic,
		Position: &position,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discordapi: editing channel %s: %w", channelID, err)
	}
	return nil
}

func (c *Client) ArchiveChannel(ctx context.Context, channelID types.Snowflake) error {
	archived := true
	_, err := c.session.ChannelEditComplex(string(channelID), &discordgo.ChannelEdit{Archived: &archived}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discordapi: archiving channel %s: %w", channelID, err)
	}
	return nil
}

func (c *Client) CreateThread(ctx context.Context, channelID types.Snowflake, name string) (*types.DiscordChannel, error) {
	th, err := c.session.ThreadStart(string(channelID), name, discordgo.ChannelTypeGuildPublicThread, 0, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discordapi: creating thread: %w", err)
	}
	return toChannel(th), nil
}

// EnsureWebhook returns an existing bridge-created webhook for channelID, or
// creates one named webhookName if none exists yet.
func (c *Client) EnsureWebhook(ctx context.Context, channelID types.Snowflake, webhookName string) (id types.Snowflake, token string, err error) {
	hooks, err := c.session.ChannelWebhooks(string(channelID), discordgo.WithContext(ctx))
	if err != nil {
		return "", "", fmt.Errorf("discordapi: listing webhooks: %w", err)
	}
	for _, h := range hooks {
		if h.Name == webhookName {
			return types.Snowflake(h.ID), h.Token, nil
		}
	}
	hook, err := c.session.WebhookCreate(string(channelID), webhookName, "", discordgo.WithContext(ctx))
	if err != nil {
		return "", "", fmt.Errorf("discordapi: creating webhook: %w", err)
	}
	return types.Snowflake(hook.ID), hook.Token, nil
}

// ListWebhooks returns a channel's webhooks as (id, name) pairs, for
// reconciling against which ones the bridge actually owns.
func (c *Client) ListWebhooks(ctx context.Context, channelID types.Snowflake) ([]types.DiscordWebhook, error) {
	hooks, err := c.session.ChannelWebhooks(string(channelID), discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discordapi: listing webhooks: %w", err)
	}
	out := make([]types.DiscordWebhook, 0, len(hooks))
	for _, h := range hooks {
		out = append(out, types.DiscordWebhook{ID: types.Snowflake(h.ID), Name: h.Name})
	}
	return out, nil
}

// DeleteWebhook removes a webhook by id.
func (c *Client) DeleteWebhook(ctx context.Context, webhookID types.Snowflake) error {
	if err := c.session.WebhookDelete(string(webhookID), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discordapi: deleting webhook %s: %w", webhookID, err)
	}
	return nil
}

// SendWebhookMessage posts content into the channel owning the given
// webhook, impersonating username/avatarURL as the message author.
func (c *Client) SendWebhookMessage(ctx context.Context, webhookID types.Snowflake, webhookToken, username, avatarURL, content string, replyNote string) (types.Snowflake, error) {
	full := content
	if replyNote != "" {
		full = replyNote + "\n" + content
	}
	msg, err := c.session.WebhookExecute(string(webhookID), webhookToken, true, &discordgo.WebhookParams{
		Content:   full,
		Username:  username,
		AvatarURL: avatarURL,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discordapi: executing webhook: %w", err)
	}
	return types.Snowflake(msg.ID), nil
}

func (c *Client) EditWebhookMessage(ctx context.Context, webhookID types.Snowflake, webhookToken string, messageID types.Snowflake, content string) error {
	_, err := c.session.WebhookMessageEdit(string(webhookID), webhookToken, string(messageID), &discordgo.WebhookEdit{
		Content: &content,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discordapi: editing webhook message %s: %w", messageID, err)
	}
	return nil
}

func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID types.Snowflake) error {
	err := c.session.ChannelMessageDelete(string(channelID), string(messageID), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discordapi: deleting message %s: %w", messageID, err)
	}
	return nil
}

func (c *Client) AddReaction(ctx context.Context, channelID, messageID types.Snowflake, emoji string) error {
	err := c.session.MessageReactionAdd(string(channelID), string(messageID), emoji, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discordapi: adding reaction: %w", err)
	}
	return nil
}

func (c *Client) RemoveReaction(ctx context.Context, channelID, messageID types.Snowflake, emoji string) error {
	err := c.session.MessageReactionRemove(string(channelID), string(messageID), emoji, "@me", discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discordapi: removing reaction: %w", err)
	}
	return nil
}
