// Package devserver implements roomyapi.Client against a single Roomy leaf
// server over its raw websocket protocol: a small op/t/d envelope with
// hello and heartbeat ops, in which the server pushes stream events to a
// subscriber.
package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/muni-town/roomy-bridge/src/logging"
	"github.com/muni-town/roomy-bridge/src/roomyapi"
	"github.com/muni-town/roomy-bridge/src/roomyapi/pds"
	"github.com/muni-town/roomy-bridge/src/types"
)

const (
	opHello     = 1
	opSubscribe = 2
	opEvent     = 3
	opAppend    = 4
	opAppended  = 5
	opHeartbeat = 6
)

type envelope struct {
	Op int             `json:"op"`
	T  string          `json:"t,omitempty"`
	D  json.RawMessage `json:"d,omitempty"`
}

type subscribePayload struct {
	SpaceID   string `json:"spaceId"`
	FromIndex int64  `json:"fromIndex"`
	UntilIndex int64 `json:"untilIndex,omitempty"`
	MetadataOnly bool `json:"metadataOnly,omitempty"`
}

type eventPayload struct {
	Index      int64           `json:"index"`
	Kind       string          `json:"kind"`
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data"`
	Origin     string          `json:"origin,omitempty"`
	IsBackfill bool            `json:"isBackfill"`
	BacklogEnd bool            `json:"backlogEnd,omitempty"`
}

type appendPayload struct {
	Events []json.RawMessage `json:"events"`
}

type appendedPayload struct {
	IDs        []string `json:"ids"`
	LastIndex  int64    `json:"lastIndex"`
}

// Client dials a single leaf server base URL and signs outgoing writes
// under the bridge identity's PDS session.
type Client struct {
	baseURL string
	signer  *pds.Signer
	log     *logrus.Entry
}

// New creates a devserver Client. baseURL is the leaf server's origin,
// e.g. "wss://leaf.roomy.chat"; an http(s) origin is dialed as ws(s).
func New(baseURL string, signer *pds.Signer) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		signer:  signer,
		log:     logging.Log.WithField("component", "roomyapi/devserver"),
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) GetSpaceInfo(ctx context.Context, spaceID types.StreamDid) (roomyapi.SpaceInfo, error) {
	conn, _, err := c.dial(ctx)
	if err != nil {
		return roomyapi.SpaceInfo{}, err
	}
	defer conn.Close()

	info, err := c.fetchInfo(conn, spaceID)
	return info, err
}

func (c *Client) fetchInfo(conn *websocket.Conn, spaceID types.StreamDid) (roomyapi.SpaceInfo, error) {
	payload := subscribePayload{SpaceID: string(spaceID), FromIndex: -1}
	if err := writeEnvelope(conn, opSubscribe, payload); err != nil {
		return roomyapi.SpaceInfo{}, err
	}

	var highest types.StreamIndex
	for {
		env, err := readEnvelope(conn)
		if err != nil {
			return roomyapi.SpaceInfo{}, err
		}
		if env.Op != opEvent {
			continue
		}
		var ev eventPayload
		if err := json.Unmarshal(env.D, &ev); err != nil {
			return roomyapi.SpaceInfo{}, fmt.Errorf("devserver: decoding info event: %w", err)
		}
		if ev.Index > int64(highest) {
			highest = types.StreamIndex(ev.Index)
		}
		if ev.BacklogEnd {
			return roomyapi.SpaceInfo{HighestIndex: highest}, nil
		}
	}
}

func (c *Client) SubscribeMetadata(ctx context.Context, spaceID types.StreamDid, fromIndex, untilIndex types.StreamIndex, cb roomyapi.MetadataCallback) error {
	conn, _, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	payload := subscribePayload{
		SpaceID:      string(spaceID),
		FromIndex:    int64(fromIndex),
		UntilIndex:   int64(untilIndex),
		MetadataOnly: true,
	}
	if err := writeEnvelope(conn, opSubscribe, payload); err != nil {
		return err
	}

	for {
		env, err := readEnvelope(conn)
		if err != nil {
			return err
		}
		if env.Op != opEvent {
			continue
		}
		var ev eventPayload
		if err := json.Unmarshal(env.D, &ev); err != nil {
			return fmt.Errorf("devserver: decoding metadata event: %w", err)
		}
		if ev.BacklogEnd {
			return nil
		}
		cb(types.StreamIndex(ev.Index), types.RoomyEventKind(ev.Kind))
	}
}

func (c *Client) Subscribe(ctx context.Context, spaceID types.StreamDid, fromIndex types.StreamIndex, cb roomyapi.EventCallback) (roomyapi.ConnectedSpace, error) {
	conn, _, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	if err := writeEnvelope(conn, opSubscribe, subscribePayload{SpaceID: string(spaceID), FromIndex: int64(fromIndex)}); err != nil {
		conn.Close()
		return nil, err
	}

	cs := &connectedSpace{
		client:  c,
		conn:    conn,
		spaceID: spaceID,
		closeCh: make(chan struct{}),
	}

	backlogDone := make(chan error, 1)
	go cs.readLoop(cb, backlogDone)

	if err := <-backlogDone; err != nil {
		return nil, err
	}
	return cs, nil
}

type connectedSpace struct {
	client  *Client
	conn    *websocket.Conn
	spaceID types.StreamDid
	writeMu sync.Mutex
	closeCh chan struct{}
	closeOnce sync.Once
}

func (cs *connectedSpace) readLoop(cb roomyapi.EventCallback, backlogDone chan<- error) {
	signaled := false
	for {
		env, err := readEnvelope(cs.conn)
		if err != nil {
			if !signaled {
				backlogDone <- err
			}
			return
		}
		switch env.Op {
		case opEvent:
			var ev eventPayload
			if err := json.Unmarshal(env.D, &ev); err != nil {
				cs.client.log.WithError(err).Warn("devserver: decoding event envelope")
				continue
			}
			if ev.BacklogEnd {
				if !signaled {
					signaled = true
					backlogDone <- nil
				}
				continue
			}
			decoded, decodeErr := decodeRoomyEvent(ev)
			if decodeErr != nil {
				cs.client.log.WithError(decodeErr).Warn("devserver: decoding roomy event payload")
				continue
			}
			cb(decoded, types.EventCallbackMeta{IsBackfill: ev.IsBackfill})
		case opHeartbeat:
			_ = writeEnvelope(cs.conn, opHeartbeat, nil)
		}
	}
}

func (cs *connectedSpace) SendEvent(ctx context.Context, event types.RoomyEvent) (types.Ulid, types.StreamIndex, error) {
	ids, idx, err := cs.SendEvents(ctx, []types.RoomyEvent{event})
	if err != nil || len(ids) == 0 {
		return "", 0, err
	}
	return ids[0], idx, nil
}

func (cs *connectedSpace) SendEvents(ctx context.Context, events []types.RoomyEvent) ([]types.Ulid, types.StreamIndex, error) {
	raws := make([]json.RawMessage, 0, len(events))
	for _, ev := range events {
		signed, err := cs.client.signer.SignEvent(ev)
		if err != nil {
			return nil, 0, fmt.Errorf("devserver: signing event: %w", err)
		}
		raws = append(raws, signed)
	}

	cs.writeMu.Lock()
	err := writeEnvelope(cs.conn, opAppend, appendPayload{Events: raws})
	cs.writeMu.Unlock()
	if err != nil {
		return nil, 0, err
	}

	deadline := time.Now().Add(30 * time.Second)
	_ = cs.conn.SetReadDeadline(deadline)
	defer cs.conn.SetReadDeadline(time.Time{})

	for {
		env, err := readEnvelope(cs.conn)
		if err != nil {
			return nil, 0, fmt.Errorf("devserver: waiting for append ack: %w", err)
		}
		if env.Op != opAppended {
			continue
		}
		var ack appendedPayload
		if err := json.Unmarshal(env.D, &ack); err != nil {
			return nil, 0, fmt.Errorf("devserver: decoding append ack: %w", err)
		}
		ids := make([]types.Ulid, len(ack.IDs))
		for i, id := range ack.IDs {
			ids[i] = types.Ulid(id)
		}
		return ids, types.StreamIndex(ack.LastIndex), nil
	}
}

func (cs *connectedSpace) GetSpaceInfo(ctx context.Context) (roomyapi.SpaceInfo, error) {
	return cs.client.GetSpaceInfo(ctx, cs.spaceID)
}

func (cs *connectedSpace) Unsubscribe() error {
	var err error
	cs.closeOnce.Do(func() {
		close(cs.closeCh)
		err = cs.conn.Close()
	})
	return err
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, *websocket.Conn, error) {
	u, err := url.Parse(c.baseURL + "/ws")
	if err != nil {
		return nil, nil, fmt.Errorf("devserver: parsing leaf url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("devserver: dialing %s: %w", u.String(), err)
	}

	var hello envelope
	if err := conn.ReadJSON(&hello); err != nil || hello.Op != opHello {
		conn.Close()
		return nil, nil, fmt.Errorf("devserver: expected hello from %s", u.String())
	}
	return conn, conn, nil
}

func writeEnvelope(conn *websocket.Conn, op int, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("devserver: encoding payload: %w", err)
		}
		raw = b
	}
	return conn.WriteJSON(envelope{Op: op, D: raw})
}

func readEnvelope(conn *websocket.Conn) (envelope, error) {
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		return envelope{}, err
	}
	return env, nil
}

func decodeRoomyEvent(ev eventPayload) (types.DecodedStreamEvent, error) {
	var event types.RoomyEvent
	event.Kind = types.RoomyEventKind(ev.Kind)
	event.ID = types.Ulid(ev.ID)
	event.Origin = ev.Origin

	switch event.Kind {
	case types.RoomyEventRoomCreate, types.RoomyEventRoomUpdate, types.RoomyEventRoomArchive:
		event.Room = &types.RoomyRoom{}
		if err := json.Unmarshal(ev.Data, event.Room); err != nil {
			return types.DecodedStreamEvent{}, err
		}
	case types.RoomyEventMessageSend, types.RoomyEventMessageEdit, types.RoomyEventMessageDelete:
		event.Message = &types.RoomyMessage{}
		if err := json.Unmarshal(ev.Data, event.Message); err != nil {
			return types.DecodedStreamEvent{}, err
		}
	case types.RoomyEventReactionAdd, types.RoomyEventReactionRemove:
		event.Reaction = &types.RoomyReaction{}
		if err := json.Unmarshal(ev.Data, event.Reaction); err != nil {
			return types.DecodedStreamEvent{}, err
		}
	case types.RoomyEventSidebarUpdate:
		event.Sidebar = &types.RoomySidebar{}
		if err := json.Unmarshal(ev.Data, event.Sidebar); err != nil {
			return types.DecodedStreamEvent{}, err
		}
	}

	return types.DecodedStreamEvent{Index: types.StreamIndex(ev.Index), Event: event}, nil
}
