package structure

import (
	"context"
	"testing"

	"github.com/muni-town/roomy-bridge/src/repo"
	"github.com/muni-town/roomy-bridge/src/roomyapi"
	"github.com/muni-town/roomy-bridge/src/types"
)

type fakeSpace struct {
	sent []types.RoomyEvent
	next int
}

func (f *fakeSpace) SendEvent(ctx context.Context, event types.RoomyEvent) (types.Ulid, types.StreamIndex, error) {
	f.next++
	id := types.Ulid("room" + string(rune('0'+f.next)))
	event.ID = id
	f.sent = append(f.sent, event)
	return id, types.StreamIndex(f.next), nil
}

func (f *fakeSpace) SendEvents(ctx context.Context, events []types.RoomyEvent) ([]types.Ulid, types.StreamIndex, error) {
	var ids []types.Ulid
	for _, e := range events {
		id, _, _ := f.SendEvent(ctx, e)
		ids = append(ids, id)
	}
	return ids, types.StreamIndex(f.next), nil
}

func (f *fakeSpace) GetSpaceInfo(ctx context.Context) (roomyapi.SpaceInfo, error) {
	return roomyapi.SpaceInfo{}, nil
}

func (f *fakeSpace) Unsubscribe() error { return nil }

func TestMirrorCreateSendsRoomCreateAndRecordsMapping(t *testing.T) {
	r := repo.NewMemoryRepo()
	ctx := context.Background()
	ns := repo.Namespace("guild1:did:plc:space1")
	space := &fakeSpace{}
	s := New(r, ns, nil, space, "guild1")

	ch := &types.DiscordChannel{ID: "100", Name: "general"}
	if err := s.HandleDiscordEvent(ctx, types.DiscordEvent{Kind: types.DiscordEventChannelCreate, Channel: ch}); err != nil {
		t.Fatalf("HandleDiscordEvent: %v", err)
	}

	if len(space.sent) != 1 || space.sent[0].Kind != types.RoomyEventRoomCreate {
		t.Fatalf("expected one room create event, got %+v", space.sent)
	}
	if _, found, _ := r.GetRoomyID(ctx, ns, "100"); !found {
		t.Fatal("expected id mapping to be recorded")
	}
}

func TestMirrorCreateFallsBackToUpdateWhenAlreadyMapped(t *testing.T) {
	r := repo.NewMemoryRepo()
	ctx := context.Background()
	ns := repo.Namespace("guild1:did:plc:space1")
	space := &fakeSpace{}
	s := New(r, ns, nil, space, "guild1")

	ch := &types.DiscordChannel{ID: "100", Name: "general"}
	_ = s.HandleDiscordEvent(ctx, types.DiscordEvent{Kind: types.DiscordEventChannelCreate, Channel: ch})

	ch.Name = "renamed"
	if err := s.HandleDiscordEvent(ctx, types.DiscordEvent{Kind: types.DiscordEventChannelCreate, Channel: ch}); err != nil {
		t.Fatalf("HandleDiscordEvent: %v", err)
	}

	if len(space.sent) != 2 || space.sent[1].Kind != types.RoomyEventRoomUpdate {
		t.Fatalf("expected second call to fall back to a room update, got %+v", space.sent)
	}
}

func TestMirrorArchiveSendsArchiveAndRemovesMapping(t *testing.T) {
	r := repo.NewMemoryRepo()
	ctx := context.Background()
	ns := repo.Namespace("guild1:did:plc:space1")
	space := &fakeSpace{}
	s := New(r, ns, nil, space, "guild1")

	ch := &types.DiscordChannel{ID: "100", Name: "general"}
	_ = s.HandleDiscordEvent(ctx, types.DiscordEvent{Kind: types.DiscordEventChannelCreate, Channel: ch})

	if err := s.HandleDiscordEvent(ctx, types.DiscordEvent{Kind: types.DiscordEventChannelDelete, DeletedID: "100"}); err != nil {
		t.Fatalf("HandleDiscordEvent: %v", err)
	}

	if len(space.sent) != 2 || space.sent[1].Kind != types.RoomyEventRoomArchive {
		t.Fatalf("expected an archive event, got %+v", space.sent)
	}
	if _, found, _ := r.GetRoomyID(ctx, ns, "100"); found {
		t.Fatal("expected id mapping to be removed after archive")
	}
}

func TestMirrorArchiveIsNoopWhenNeverMapped(t *testing.T) {
	r := repo.NewMemoryRepo()
	ctx := context.Background()
	ns := repo.Namespace("guild1:did:plc:space1")
	space := &fakeSpace{}
	s := New(r, ns, nil, space, "guild1")

	if err := s.HandleDiscordEvent(ctx, types.DiscordEvent{Kind: types.DiscordEventChannelDelete, DeletedID: "999"}); err != nil {
		t.Fatalf("HandleDiscordEvent: %v", err)
	}
	if len(space.sent) != 0 {
		t.Fatalf("expected no event for an unmapped channel, got %+v", space.sent)
	}
}

func TestHandleRoomyEventSkipsItsOwnDiscordOrigin(t *testing.T) {
	r := repo.NewMemoryRepo()
	ctx := context.Background()
	ns := repo.Namespace("guild1:did:plc:space1")
	space := &fakeSpace{}
	s := New(r, ns, nil, space, "guild1")

	ev := types.DecodedStreamEvent{Event: types.RoomyEvent{
		Kind:   types.RoomyEventRoomCreate,
		Origin: discordOrigin("100"),
		Room:   &types.RoomyRoom{Name: "general"},
	}}
	if err := s.HandleRoomyEvent(ctx, ev); err != nil {
		t.Fatalf("HandleRoomyEvent: %v", err)
	}
}

func TestHandleRoomyEventArchiveIsNoopWhenUnmapped(t *testing.T) {
	r := repo.NewMemoryRepo()
	ctx := context.Background()
	ns := repo.Namespace("guild1:did:plc:space1")
	space := &fakeSpace{}
	s := New(r, ns, nil, space, "guild1")

	ev := types.DecodedStreamEvent{Event: types.RoomyEvent{
		Kind: types.RoomyEventRoomArchive,
		Room: &types.RoomyRoom{ID: "unmapped-room"},
	}}
	if err := s.HandleRoomyEvent(ctx, ev); err != nil {
		t.Fatalf("HandleRoomyEvent: %v", err)
	}
}
