// Package repo defines the bridge's durable key-value repository: the
// bidirectional id-mapping tables, hash caches, and cursor storage each
// bridged guild/space pair needs, namespaced so multiple bridges can share
// one backing store.
package repo

import (
	"context"

	"github.com/muni-town/roomy-bridge/src/types"
)

// Namespace scopes every key written for one bridged guild/space pair, so a
// shared backing store can host many bridges without collisions.
type Namespace string

// NamespaceFor derives a namespace from a composite bridge key.
func NamespaceFor(key types.GuildSpaceKey) Namespace {
	return Namespace(key)
}

// Repo is the full set of lookup tables one bridge needs. Implementations
// must be safe for concurrent use by the dispatcher's two consumer
// goroutines and any sync service.
type Repo interface {
	// IDMapping holds the Discord<->Roomy id correspondence for rooms,
	// messages, and users.
	GetRoomyID(ctx context.Context, ns Namespace, discordID types.Snowflake) (types.Ulid, bool, error)
	GetDiscordID(ctx context.Context, ns Namespace, roomyID types.Ulid) (types.Snowflake, bool, error)
	PutIDMapping(ctx context.Context, ns Namespace, discordID types.Snowflake, roomyID types.Ulid) error
	DeleteIDMapping(ctx context.Context, ns Namespace, discordID types.Snowflake) error

	// ProfileHash records the last fingerprint mirrored for a Discord
	// user, so unchanged profiles aren't rewritten.
	GetProfileHash(ctx context.Context, ns Namespace, discordUserID types.Snowflake) (string, bool, error)
	PutProfileHash(ctx context.Context, ns Namespace, discordUserID types.Snowflake, hash string) error

	// RoomyUserProfile caches the last-seen Roomy author display name and
	// avatar for a given Roomy user id, bounded by a small LRU since only
	// recently active authors are looked up repeatedly.
	GetRoomyUserProfile(ctx context.Context, ns Namespace, roomyUserID string) (RoomyUserProfile, bool, error)
	PutRoomyUserProfile(ctx context.Context, ns Namespace, roomyUserID string, profile RoomyUserProfile) error

	// Reaction maps one (Discord message, Discord user, emoji) triple to
	// the Roomy reaction event id that mirrored it, so a later remove can
	// be matched to the right event.
	GetReactionID(ctx context.Context, ns Namespace, key ReactionKey) (types.Ulid, bool, error)
	PutReactionID(ctx context.Context, ns Namespace, key ReactionKey, roomyID types.Ulid) error
	DeleteReactionID(ctx context.Context, ns Namespace, key ReactionKey) error

	// SidebarHash records the last fingerprint written for the space's
	// room list, so unrelated structural writes don't thrash it.
	GetSidebarHash(ctx context.Context, ns Namespace) (string, bool, error)
	PutSidebarHash(ctx context.Context, ns Namespace, hash string) error

	// RoomLink records which Discord parent (category or parent channel)
	// a Roomy room was created under, to detect re-parenting.
	GetRoomParent(ctx context.Context, ns Namespace, roomyRoomID types.Ulid) (types.Ulid, bool, error)
	PutRoomParent(ctx context.Context, ns Namespace, roomyRoomID types.Ulid, parentRoomyID types.Ulid) error

	// EditInfo records the content hash last mirrored for a message, used
	// to distinguish genuine edits from echoed resends.
	GetEditInfo(ctx context.Context, ns Namespace, messageKey string) (string, bool, error)
	PutEditInfo(ctx context.Context, ns Namespace, messageKey string, contentHash string) error

	// WebhookToken caches the Discord webhook created to post mirrored
	// Roomy messages under a per-author display name, one per channel.
	GetWebhookToken(ctx context.Context, ns Namespace, discordChannelID types.Snowflake) (WebhookToken, bool, error)
	PutWebhookToken(ctx context.Context, ns Namespace, discordChannelID types.Snowflake, token WebhookToken) error
	DeleteWebhookToken(ctx context.Context, ns Namespace, discordChannelID types.Snowflake) error

	// MessageHashes records the content hash last seen for a Roomy
	// message, paralleling EditInfo for the Discord->Roomy direction.
	GetMessageHash(ctx context.Context, ns Namespace, roomyMessageID types.Ulid) (string, bool, error)
	PutMessageHash(ctx context.Context, ns Namespace, roomyMessageID types.Ulid, hash string) error

	// LatestMessage records the most recent Discord message id mirrored
	// into each Roomy room, used to detect and forward thread-starter
	// messages correctly.
	GetLatestMessage(ctx context.Context, ns Namespace, roomID types.Ulid) (types.Snowflake, bool, error)
	PutLatestMessage(ctx context.Context, ns Namespace, roomID types.Ulid, discordMessageID types.Snowflake) error

	// MessageChannel records which Discord channel a mirrored message
	// lives in, so a later reaction event (which only carries a message
	// id) can be resolved to the channel the Discord REST API requires.
	GetMessageChannel(ctx context.Context, ns Namespace, discordMessageID types.Snowflake) (types.Snowflake, bool, error)
	PutMessageChannel(ctx context.Context, ns Namespace, discordMessageID types.Snowflake, discordChannelID types.Snowflake) error

	// Cursor persists the stream index to resume a space subscription
	// from after a restart.
	GetCursor(ctx context.Context, ns Namespace) (types.StreamIndex, bool, error)
	PutCursor(ctx context.Context, ns Namespace, idx types.StreamIndex) error

	// Purge deletes every key under ns, used when a bridge is torn down.
	Purge(ctx context.Context, ns Namespace) error
}

// ReactionKey identifies one reaction instance.
type ReactionKey struct {
	DiscordMessageID types.Snowflake
	DiscordUserID    types.Snowflake
	Emoji            string
}

// RoomyUserProfile is the cached display identity of a Roomy author.
type RoomyUserProfile struct {
	DisplayName string
	AvatarURL   string
}

// WebhookToken is a Discord webhook's id and token, the two values needed
// to post through it.
type WebhookToken struct {
	ID    types.Snowflake
	Token string
}
