// Package types holds the wire-level identifiers and event shapes shared by
// every bridge component: Discord snowflakes, Roomy ULIDs and stream DIDs,
// and the tagged-union event payloads that flow between them.
package types

import "fmt"

// StreamDid is a Roomy space's stream identifier, e.g. "did:plc:abc123" or
// "did:web:roomy.example.com". It is opaque outside of validation.
type StreamDid string

// Valid reports whether s looks like a well-formed "did:<method>:<id>".
func (s StreamDid) Valid() bool {
	if s == "" {
		return false
	}
	rest, ok := cutPrefix(string(s), "did:")
	if !ok {
		return false
	}
	method, id, ok := cut(rest, ':')
	return ok && method != "" && id != ""
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		return s, false
	}
	return s[len(prefix):], true
}

func cut(s string, sep byte) (before, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

// Ulid is a 26-character Crockford-base32, time-sortable identifier used for
// every Roomy event id.
type Ulid string

// Snowflake is a Discord 64-bit identifier, carried as a decimal string at
// every boundary (JSON, map keys) to avoid precision loss.
type Snowflake string

// GuildSpaceKey is the composite key identifying one bridged pair:
// "<guildSnowflake>:<spaceDid>".
type GuildSpaceKey string

// NewGuildSpaceKey builds the composite key for a guild/space pair.
func NewGuildSpaceKey(guildID Snowflake, spaceID StreamDid) GuildSpaceKey {
	return GuildSpaceKey(fmt.Sprintf("%s:%s", guildID, spaceID))
}

// Split recovers the guild id and space DID from a composite key.
func (k GuildSpaceKey) Split() (guildID Snowflake, spaceID StreamDid, ok bool) {
	before, after, found := cut(string(k), ':')
	if !found {
		return "", "", false
	}
	return Snowflake(before), StreamDid(after), true
}

// StreamIndex is a monotonically non-decreasing per-space position in the
// Roomy event stream, used as the resume cursor.
type StreamIndex int64

// RoomKey prefixes a Discord channel/thread snowflake so its mapping-table
// entry can never collide with a message snowflake (Discord reuses a
// thread-starter message's snowflake as the thread's own id).
func RoomKey(snowflake Snowflake) string {
	return "room:" + string(snowflake)
}

// BridgeConfig is the durable record of one bridged guild/space pair.
type BridgeConfig struct {
	GuildID   Snowflake  `json:"guildId"`
	SpaceID   StreamDid  `json:"spaceId"`
	CreatedAt int64      `json:"createdAt"` // unix millis
}

// Key returns this config's composite lookup key.
func (c BridgeConfig) Key() GuildSpaceKey {
	return NewGuildSpaceKey(c.GuildID, c.SpaceID)
}
