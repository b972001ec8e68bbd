// Package roomyapi defines the narrow interface the bridge uses to talk to
// a Roomy leaf server: subscribing to a space's event stream and appending
// events to it. Concrete transports (devserver's websocket protocol, a
// future production leaf client) implement Client.
package roomyapi

import (
	"context"

	"github.com/muni-town/roomy-bridge/src/types"
)

// EventCallback is invoked once per decoded stream event as a subscription
// replays backlog and then tails live writes.
type EventCallback func(types.DecodedStreamEvent, types.EventCallbackMeta)

// MetadataCallback is invoked during a metadata-only warm-up pass: it sees
// only the stream index and kind of each backlog event, not the full
// decoded payload, so the warm-up can run far faster than a full replay.
type MetadataCallback func(idx types.StreamIndex, kind types.RoomyEventKind)

// SpaceInfo describes a space's current stream position, used to snapshot
// a safe upper bound for a metadata warm-up pass before a full subscribe.
type SpaceInfo struct {
	HighestIndex types.StreamIndex
}

// ConnectedSpace is a live subscription handle to one space's stream.
type ConnectedSpace interface {
	// SendEvent appends one event to the stream, signed under the
	// bridge's own identity, and returns the id and index it was
	// assigned.
	SendEvent(ctx context.Context, event types.RoomyEvent) (types.Ulid, types.StreamIndex, error)

	// SendEvents appends a batch of events as a single write, used by
	// the Discord->Roomy direction during backfill.
	SendEvents(ctx context.Context, events []types.RoomyEvent) ([]types.Ulid, types.StreamIndex, error)

	// GetSpaceInfo reports the stream's current highest index without
	// subscribing, used to snapshot the warm-up boundary.
	GetSpaceInfo(ctx context.Context) (SpaceInfo, error)

	// Unsubscribe tears down the underlying connection. The space can be
	// resubscribed to later with a fresh call to Client.Subscribe.
	Unsubscribe() error
}

// Client opens connections to a Roomy leaf server.
type Client interface {
	// Subscribe opens a space's stream starting from fromIndex (0 for the
	// very beginning) and delivers every event from there forward —
	// backlog first, then live — to cb. It blocks until the initial
	// backlog replay completes, then returns a handle whose live
	// delivery continues via cb in the background.
	Subscribe(ctx context.Context, spaceID types.StreamDid, fromIndex types.StreamIndex, cb EventCallback) (ConnectedSpace, error)

	// SubscribeMetadata runs a backlog-only pass delivering just index
	// and kind for each event up to (and not including) untilIndex, then
	// returns without opening a live tail.
	SubscribeMetadata(ctx context.Context, spaceID types.StreamDid, fromIndex, untilIndex types.StreamIndex, cb MetadataCallback) error

	// GetSpaceInfo reports a space's current highest index without
	// opening a subscription.
	GetSpaceInfo(ctx context.Context, spaceID types.StreamDid) (SpaceInfo, error)

	// Close releases any resources held by the client (HTTP transport,
	// idle connections).
	Close() error
}
