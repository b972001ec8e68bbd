package repo

import (
	"context"
	"sync"

	"github.com/muni-town/roomy-bridge/src/types"
)

const defaultProfileCacheSize = 50

// nsTables holds every table for a single namespace.
type nsTables struct {
	discordToRoomy map[types.Snowflake]types.Ulid
	roomyToDiscord map[types.Ulid]types.Snowflake

	profileHash map[types.Snowflake]string
	roomyUsers  *lru

	reactions map[ReactionKey]types.Ulid

	sidebarHash string
	hasSidebar  bool

	roomParent map[types.Ulid]types.Ulid

	editInfo map[string]string

	webhookTokens map[types.Snowflake]WebhookToken

	messageHashes map[types.Ulid]string

	latestMessage map[types.Ulid]types.Snowflake

	messageChannel map[types.Snowflake]types.Snowflake

	cursor    types.StreamIndex
	hasCursor bool
}

func newNsTables() *nsTables {
	return &nsTables{
		discordToRoomy: make(map[types.Snowflake]types.Ulid),
		roomyToDiscord: make(map[types.Ulid]types.Snowflake),
		profileHash:    make(map[types.Snowflake]string),
		roomyUsers:     newLRU(defaultProfileCacheSize),
		reactions:      make(map[ReactionKey]types.Ulid),
		roomParent:     make(map[types.Ulid]types.Ulid),
		editInfo:       make(map[string]string),
		webhookTokens:  make(map[types.Snowflake]WebhookToken),
		messageHashes:  make(map[types.Ulid]string),
		latestMessage:  make(map[types.Ulid]types.Snowflake),
		messageChannel: make(map[types.Snowflake]types.Snowflake),
	}
}

// MemoryRepo is an in-process Repo implementation. It's the default store
// for development and for tests; a durable-store-backed Repo can wrap it
// the same way the teacher's cache package wraps a map in front of Redis.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[Namespace]*nsTables
}

// NewMemoryRepo creates an empty MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{data: make(map[Namespace]*nsTables)}
}

func (r *MemoryRepo) table(ns Namespace) *nsTables {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.data[ns]
	if !ok {
		t = newNsTables()
		r.data[ns] = t
	}
	return t
}

func (r *MemoryRepo) GetRoomyID(_ context.Context, ns Namespace, discordID types.Snowflake) (types.Ulid, bool, error) {
	t := r.table(ns)
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := t.discordToRoomy[discordID]
	return v, ok, nil
}

func (r *MemoryRepo) GetDiscordID(_ context.Context, ns Namespace, roomyID types.Ulid) (types.Snowflake, bool, error) {
	t := r.table(ns)
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := t.roomyToDiscord[roomyID]
	return v, ok, nil
}

func (r *MemoryRepo) PutIDMapping(_ context.Context, ns Namespace, discordID types.Snowflake, roomyID types.Ulid) error {
	t := r.table(ns)
	r.mu.Lock()
	defer r.mu.Unlock()
	t.discordToRoomy[discordID] = roomyID
	t.roomyToDiscord[roomyID] = discordID
	return nil
}

func (r *MemoryRepo) DeleteIDMapping(_ context.Context, ns Namespace, discordID types.Snowflake) error {
	t := r.table(ns)
	r.mu.Lock()
	defer r.mu.Unlock()
	if roomyID, ok := t.discordToRoomy[discordID]; ok {
		delete(t.roomyToDiscord, roomyID)
	}
	delete(t.discordToRoomy, discordID)
	return nil
}

func (r *MemoryRepo) GetProfileHash(_ context.Context, ns Namespace, discordUserID types.Snowflake) (string, bool, error) {
	t := r.table(ns)
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := t.profileHash[discordUserID]
	return v, ok, nil
}

func (r *MemoryRepo) PutProfileHash(_ context.Context, ns Namespace, discordUserID types.Snowflake, hash string) error {
	t := r.table(ns)
	r.mu.Lock()
	defer r.mu.Unlock()
	t.profileHash[discordUserID] = hash
	return nil
}

func (r *MemoryRepo) GetRoomyUserProfile(_ context.Context, ns Namespace, roomyUserID string) (RoomyUserProfile, bool, error) {
	t := r.table(ns)
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := t.roomyUsers.get(roomyUserID)
	return v, ok, nil
}

func (r *MemoryRepo) PutRoomyUserProfile(_ context.Context, ns Namespace, roomyUserID string, profile RoomyUserProfile) error {
	t := r.table(ns)
	r.mu.Lock()
	defer r.mu.Unlock()
	t.roomyUsers.put(roomyUserID, profile)
	return nil
}

func (r *MemoryRepo) GetReactionID(_ context.Context, ns Namespace, key ReactionKey) (types.Ulid, bool, error) {
	t := r.table(ns)
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := t.reactions[key]
	return v, ok, nil
}

func (r *MemoryRepo) PutReactionID(_ context.Context, ns Namespace, key ReactionKey, roomyID types.Ulid) error {
	t := r.table(ns)
	r.mu.Lock()
	defer r.mu.Unlock()
	t.reactions[key] = roomyID
	return nil
}

func (r *MemoryRepo) DeleteReactionID(_ context.Context, ns Namespace, key ReactionKey) error {
	t := r.table(ns)
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(t.reactions, key)
	return nil
}

func (r *MemoryRepo) GetSidebarHash(_ context.Context, ns Namespace) (string, bool, error) {
	t := r.table(ns)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return t.sidebarHash, t.hasSidebar, nil
}

func (r *MemoryRepo) PutSidebarHash(_ context.Context, ns Namespace, hash string) error {
	t := r.table(ns)
	r.mu.Lock()
	defer r.mu.Unlock()
	t.sidebarHash = hash
	t.hasSidebar = true
	return nil
}

func (r *MemoryRepo) GetRoomParent(_ context.Context, ns Namespace, roomyRoomID types.Ulid) (types.Ulid, bool, error) {
	t := r.table(ns)
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := t.roomParent[roomyRoomID]
	return v, ok, nil
}

func (r *MemoryRepo) PutRoomParent(_ context.Context, ns Namespace, roomyRoomID types.Ulid, parentRoomyID types.Ulid) error {
	t := r.table(ns)
	r.mu.Lock()
	defer r.mu.Unlock()
	t.roomParent[roomyRoomID] = parentRoomyID
	return nil
}

func (r *MemoryRepo) GetEditInfo(_ context.Context, ns Namespace, messageKey string) (string, bool, error) {
	t := r.table(ns)
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := t.editInfo[messageKey]
	return v, ok, nil
}

func (r *MemoryRepo) PutEditInfo(_ context.Context, ns Namespace, messageKey string, contentHash string) error {
	t := r.table(ns)
	r.mu.Lock()
	defer r.mu.Unlock()
	t.editInfo[messageKey] = contentHash
	return nil
}

func (r *MemoryRepo) GetWebhookToken(_ context.Context, ns Namespace, discordChannelID types.Snowflake) (WebhookToken, bool, error) {
	t := r.table(ns)
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := t.webhookTokens[discordChannelID]
	return v, ok, nil
}

func (r *MemoryRepo) PutWebhookToken(_ context.Context, ns Namespace, discordChannelID types.Snowflake, token WebhookToken) error {
	t := r.table(ns)
	r.mu.Lock()
	defer r.mu.Unlock()
	t.webhookTokens[discordChannelID] = token
	return nil
}

func (r *MemoryRepo) DeleteWebhookToken(_ context.Context, ns Namespace, discordChannelID types.Snowflake) error {
	t := r.table(ns)
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(t.webhookTokens, discordChannelID)
	return nil
}

func (r *MemoryRepo) GetMessageHash(_ context.Context, ns Namespace, roomyMessageID types.Ulid) (string, bool, error) {
	t := r.table(ns)
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := t.messageHashes[roomyMessageID]
	return v, ok, nil
}

func (r *MemoryRepo) PutMessageHash(_ context.Context, ns Namespace, roomyMessageID types.Ulid, hash string) error {
	t := r.table(ns)
	r.mu.Lock()
	defer r.mu.Unlock()
	t.messageHashes[roomyMessageID] = hash
	return nil
}

func (r *MemoryRepo) GetLatestMessage(_ context.Context, ns Namespace, roomID types.Ulid) (types.Snowflake, bool, error) {
	t := r.table(ns)
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := t.latestMessage[roomID]
	return v, ok, nil
}

func (r *MemoryRepo) PutLatestMessage(_ context.Context, ns Namespace, roomID types.Ulid, discordMessageID types.Snowflake) error {
	t := r.table(ns)
	r.mu.Lock()
	defer r.mu.Unlock()
	t.latestMessage[roomID] = discordMessageID
	return nil
}

func (r *MemoryRepo) GetMessageChannel(_ context.Context, ns Namespace, discordMessageID types.Snowflake) (types.Snowflake, bool, error) {
	t := r.table(ns)
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := t.messageChannel[discordMessageID]
	return v, ok, nil
}

func (r *MemoryRepo) PutMessageChannel(_ context.Context, ns Namespace, discordMessageID types.Snowflake, discordChannelID types.Snowflake) error {
	t := r.table(ns)
	r.mu.Lock()
	defer r.mu.Unlock()
	t.messageChannel[discordMessageID] = discordChannelID
	return nil
}

func (r *MemoryRepo) GetCursor(_ context.Context, ns Namespace) (types.StreamIndex, bool, error) {
	t := r.table(ns)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return t.cursor, t.hasCursor, nil
}

func (r *MemoryRepo) PutCursor(_ context.Context, ns Namespace, idx types.StreamIndex) error {
	t := r.table(ns)
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.hasCursor && idx < t.cursor {
		return nil // the cursor never moves backwards
	}
	t.cursor = idx
	t.hasCursor = true
	return nil
}

func (r *MemoryRepo) Purge(_ context.Context, ns Namespace) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, ns)
	return nil
}
