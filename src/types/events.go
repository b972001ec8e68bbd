package types

// DiscordEventKind tags the variant carried by a DiscordEvent.
type DiscordEventKind string

const (
	DiscordEventChannelCreate    DiscordEventKind = "channelCreate"
	DiscordEventChannelUpdate    DiscordEventKind = "channelUpdate"
	DiscordEventChannelDelete    DiscordEventKind = "channelDelete"
	DiscordEventThreadCreate     DiscordEventKind = "threadCreate"
	DiscordEventThreadUpdate     DiscordEventKind = "threadUpdate"
	DiscordEventThreadDelete     DiscordEventKind = "threadDelete"
	DiscordEventMessageCreate    DiscordEventKind = "messageCreate"
	DiscordEventMessageUpdate    DiscordEventKind = "messageUpdate"
	DiscordEventMessageDelete    DiscordEventKind = "messageDelete"
	DiscordEventReactionAdd      DiscordEventKind = "reactionAdd"
	DiscordEventReactionRemove   DiscordEventKind = "reactionRemove"
	DiscordEventGuildMemberAdd   DiscordEventKind = "guildMemberUpdate"
)

// DiscordEvent is a tagged union of every inbound gateway event the bridge
// reacts to. Only the field matching Kind is populated.
type DiscordEvent struct {
	Kind DiscordEventKind

	GuildID Snowflake

	Channel *DiscordChannel
	Thread  *DiscordChannel
	Message *DiscordMessage

	// DeletedID carries the snowflake of a removed channel/thread/message,
	// since the gateway does not resend the full object on delete.
	DeletedID Snowflake
	ParentID  Snowflake

	Reaction *DiscordReaction

	Member *DiscordMember
}

// DiscordChannel is the subset of a Discord channel/thread object the
// structure sync service needs.
type DiscordChannel struct {
	ID       Snowflake
	GuildID  Snowflake
	ParentID Snowflake // category id, or parent channel id for a thread
	Name     string
	Topic    string
	Position int
	Type     int
	Archived bool
}

// DiscordMessage is the subset of a Discord message object the message sync
// service needs.
type DiscordMessage struct {
	ID              Snowflake
	ChannelID       Snowflake
	GuildID         Snowflake
	AuthorID        Snowflake
	AuthorName      string
	AuthorAvatarURL string
	IsBot           bool
	IsWebhook       bool
	Content         string
	Attachments     []DiscordAttachment
	ReplyToID       Snowflake
	EditedTimestamp int64 // unix millis, 0 if never edited
	CreatedTimestamp int64

	// Reactions is only populated when the message is fetched via REST
	// history (backfill); gateway-delivered message events never carry it.
	Reactions []DiscordReactionSummary
}

// DiscordAttachment is one file attached to a message.
type DiscordAttachment struct {
	URL         string
	Filename    string
	ContentType string
	Size        int
}

// DiscordReactionSummary summarizes one distinct emoji's reaction count on a
// message, as reported alongside the message itself when walked during
// backfill (the gateway delivers reactions as their own separate events
// instead).
type DiscordReactionSummary struct {
	Emoji string
	Count int
}

// DiscordReaction is a single emoji reaction event.
type DiscordReaction struct {
	MessageID Snowflake
	ChannelID Snowflake
	UserID    Snowflake
	Emoji     string // unicode emoji, or "name:id" for a custom emoji
}

// DiscordMember is the subset of a guild member object the profile sync
// service needs.
type DiscordMember struct {
	UserID    Snowflake
	Username  string
	Nickname  string
	AvatarURL string
}

// DiscordWebhook is the subset of a channel webhook needed to tell a
// bridge-owned webhook apart from one a guild admin created by hand.
type DiscordWebhook struct {
	ID   Snowflake
	Name string
}

// RoomyEventKind tags the variant carried by a RoomyEvent.
type RoomyEventKind string

const (
	RoomyEventRoomCreate   RoomyEventKind = "roomCreate"
	RoomyEventRoomUpdate   RoomyEventKind = "roomUpdate"
	RoomyEventRoomArchive  RoomyEventKind = "roomArchive"
	RoomyEventMessageSend  RoomyEventKind = "messageSend"
	RoomyEventMessageEdit  RoomyEventKind = "messageEdit"
	RoomyEventMessageDelete RoomyEventKind = "messageDelete"
	RoomyEventReactionAdd  RoomyEventKind = "reactionAdd"
	RoomyEventReactionRemove RoomyEventKind = "reactionRemove"
	RoomyEventSidebarUpdate RoomyEventKind = "sidebarUpdate"
)

// Origin extension keys written onto every Roomy event the bridge itself
// produces, so the bridge can recognize and skip its own echoes when the
// event is later delivered back over the subscription.
const (
	ExtDiscordOrigin        = "town.muni.roomy.discordOrigin"
	ExtDiscordChannelOrigin = "town.muni.roomy.discordChannelOrigin"
	ExtDiscordReactionOrigin = "town.muni.roomy.discordReactionOrigin"
	ExtDiscordUserOrigin    = "town.muni.roomy.discordUserOrigin"
	ExtDiscordMessageOrigin = "town.muni.roomy.discordMessageOrigin"
)

// RoomyEvent is a tagged union of every event the bridge sends to, or
// receives from, a Roomy space stream.
type RoomyEvent struct {
	Kind RoomyEventKind
	ID   Ulid

	// Origin holds an origin extension value if this event was authored by
	// this bridge (outbound) or carries one from a prior bridge write
	// (inbound, for loop detection). Empty means it originated in Roomy.
	Origin string

	Room    *RoomyRoom
	Message *RoomyMessage
	Reaction *RoomyReaction
	Sidebar *RoomySidebar
}

// RoomyRoom mirrors a Discord channel, thread, or category as a Roomy room.
type RoomyRoom struct {
	ID       Ulid
	ParentID Ulid
	Name     string
	Topic    string
	Position int
	Archived bool
}

// RoomyMessage mirrors a Discord message as a Roomy message.
type RoomyMessage struct {
	ID         Ulid
	RoomID     Ulid
	AuthorName string
	AuthorAvatarURL string
	Content    string
	Attachments []RoomyAttachment
	ReplyToID  Ulid
	EditedAt   int64
}

// RoomyAttachment is one file attached to a Roomy message.
type RoomyAttachment struct {
	URL         string
	Filename    string
	ContentType string
	Size        int
}

// RoomyReaction is a single emoji reaction event in Roomy.
type RoomyReaction struct {
	MessageID Ulid
	UserID    string
	Emoji     string
}

// RoomySidebar describes the ordered room list / categories of a space.
type RoomySidebar struct {
	Hash string
	Tree []RoomySidebarNode
}

// RoomySidebarNode is one entry in a sidebar tree (room or category).
type RoomySidebarNode struct {
	ID       Ulid
	Name     string
	Children []RoomySidebarNode
}

// DecodedStreamEvent pairs a decoded RoomyEvent with the stream position it
// was read from, so callers can advance their cursor once it's processed.
type DecodedStreamEvent struct {
	Index StreamIndex
	Event RoomyEvent
}

// EventCallbackMeta carries bookkeeping passed alongside every event
// delivered to a subscription callback: whether it's a backlog replay or a
// live-tail delivery, used to decide batching behavior during backfill.
type EventCallbackMeta struct {
	IsBackfill bool
}

// CorrelationID is a string id for tracing one inbound event (Discord or
// Roomy) across the log lines and writes it causes. No code in this module
// assigns one to an event or logs it; HTTP requests carry their own id
// from middleware.RequestID instead.
type CorrelationID string
