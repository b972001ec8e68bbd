package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/muni-town/roomy-bridge/src/repo"
	"github.com/muni-town/roomy-bridge/src/roomyapi"
	"github.com/muni-town/roomy-bridge/src/types"
)

type fakeSpace struct {
	sent []types.RoomyEvent
}

func (f *fakeSpace) SendEvent(ctx context.Context, event types.RoomyEvent) (types.Ulid, types.StreamIndex, error) {
	f.sent = append(f.sent, event)
	return types.Ulid("evt"), types.StreamIndex(len(f.sent)), nil
}

func (f *fakeSpace) SendEvents(ctx context.Context, events []types.RoomyEvent) ([]types.Ulid, types.StreamIndex, error) {
	var ids []types.Ulid
	for _, e := range events {
		id, _, _ := f.SendEvent(ctx, e)
		ids = append(ids, id)
	}
	return ids, types.StreamIndex(len(f.sent)), nil
}

func (f *fakeSpace) GetSpaceInfo(ctx context.Context) (roomyapi.SpaceInfo, error) {
	return roomyapi.SpaceInfo{}, nil
}

func (f *fakeSpace) Unsubscribe() error { return nil }

type fakeRoomyClient struct {
	space *fakeSpace

	highestIndex   types.StreamIndex
	subscribedFrom []types.StreamIndex
	warmedUpFrom   []types.StreamIndex
	warmedUpUntil  []types.StreamIndex
}

func (f *fakeRoomyClient) Subscribe(ctx context.Context, spaceID types.StreamDid, fromIndex types.StreamIndex, cb roomyapi.EventCallback) (roomyapi.ConnectedSpace, error) {
	f.subscribedFrom = append(f.subscribedFrom, fromIndex)
	return f.space, nil
}

func (f *fakeRoomyClient) SubscribeMetadata(ctx context.Context, spaceID types.StreamDid, fromIndex, untilIndex types.StreamIndex, cb roomyapi.MetadataCallback) error {
	f.warmedUpFrom = append(f.warmedUpFrom, fromIndex)
	f.warmedUpUntil = append(f.warmedUpUntil, untilIndex)
	return nil
}

func (f *fakeRoomyClient) GetSpaceInfo(ctx context.Context, spaceID types.StreamDid) (roomyapi.SpaceInfo, error) {
	return roomyapi.SpaceInfo{HighestIndex: f.highestIndex}, nil
}

func (f *fakeRoomyClient) Close() error { return nil }

func TestConnectReachesListeningPhase(t *testing.T) {
	r := repo.NewMemoryRepo()
	roomy := &fakeRoomyClient{space: &fakeSpace{}}

	b, err := Connect(context.Background(), Config{
		GuildID:     "1",
		SpaceID:     "did:plc:space1",
		Repo:        r,
		RoomyClient: roomy,
		BatchSize:   10,
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.WaitFor(ctx, PhaseListening); err != nil {
		t.Fatalf("expected bridge to reach listening phase, got: %v", err)
	}
}

func TestOnDiscordEventIsMirroredIntoRoomy(t *testing.T) {
	r := repo.NewMemoryRepo()
	space := &fakeSpace{}
	roomy := &fakeRoomyClient{space: space}

	b, err := Connect(context.Background(), Config{
		GuildID:     "1",
		SpaceID:     "did:plc:space1",
		Repo:        r,
		RoomyClient: roomy,
		BatchSize:   10,
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.WaitFor(ctx, PhaseListening); err != nil {
		t.Fatalf("expected bridge to reach listening phase, got: %v", err)
	}

	b.OnDiscordEvent(types.DiscordEvent{
		Kind:    types.DiscordEventChannelCreate,
		Channel: &types.DiscordChannel{ID: "100", Name: "general"},
	}, false)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		ns := repo.NamespaceFor(types.NewGuildSpaceKey("1", "did:plc:space1"))
		if _, found, _ := r.GetRoomyID(context.Background(), ns, "100"); found {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected the channel create to be mirrored into roomy within the deadline")
}

func TestConnectWarmsUpMetadataBeforeSubscribingWhenResuming(t *testing.T) {
	r := repo.NewMemoryRepo()
	ns := repo.NamespaceFor(types.NewGuildSpaceKey("1", "did:plc:space1"))
	_ = r.PutCursor(context.Background(), ns, 7)

	roomy := &fakeRoomyClient{space: &fakeSpace{}, highestIndex: 20}

	b, err := Connect(context.Background(), Config{
		GuildID:     "1",
		SpaceID:     "did:plc:space1",
		Repo:        r,
		RoomyClient: roomy,
		BatchSize:   10,
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.WaitFor(ctx, PhaseListening); err != nil {
		t.Fatalf("expected bridge to reach listening phase, got: %v", err)
	}

	if len(roomy.warmedUpFrom) != 1 || roomy.warmedUpFrom[0] != 7 {
		t.Fatalf("expected a metadata warm-up from cursor 7, got %v", roomy.warmedUpFrom)
	}
	if len(roomy.warmedUpUntil) != 1 || roomy.warmedUpUntil[0] != 20 {
		t.Fatalf("expected warm-up bounded by the snapshotted highest index 20, got %v", roomy.warmedUpUntil)
	}
	if len(roomy.subscribedFrom) != 1 || roomy.subscribedFrom[0] != 7 {
		t.Fatalf("expected the full subscribe to still start from cursor 7, got %v", roomy.subscribedFrom)
	}
}

func TestConnectSkipsWarmUpOnFirstConnection(t *testing.T) {
	r := repo.NewMemoryRepo()
	roomy := &fakeRoomyClient{space: &fakeSpace{}, highestIndex: 20}

	b, err := Connect(context.Background(), Config{
		GuildID:     "1",
		SpaceID:     "did:plc:space1",
		Repo:        r,
		RoomyClient: roomy,
		BatchSize:   10,
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.WaitFor(ctx, PhaseListening); err != nil {
		t.Fatalf("expected bridge to reach listening phase, got: %v", err)
	}

	if len(roomy.warmedUpFrom) != 0 {
		t.Fatalf("expected no warm-up on a first connection, got %v", roomy.warmedUpFrom)
	}
	if len(roomy.subscribedFrom) != 1 || roomy.subscribedFrom[0] != 0 {
		t.Fatalf("expected the full subscribe to start from index 0, got %v", roomy.subscribedFrom)
	}
}

func TestDisconnectPurgesNamespace(t *testing.T) {
	r := repo.NewMemoryRepo()
	roomy := &fakeRoomyClient{space: &fakeSpace{}}

	b, err := Connect(context.Background(), Config{
		GuildID:     "1",
		SpaceID:     "did:plc:space1",
		Repo:        r,
		RoomyClient: roomy,
		BatchSize:   10,
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = b.WaitFor(ctx, PhaseListening)

	ns := repo.NamespaceFor(types.NewGuildSpaceKey("1", "did:plc:space1"))
	_ = r.PutCursor(context.Background(), ns, 5)

	if err := b.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if _, found, _ := r.GetCursor(context.Background(), ns); found {
		t.Fatal("expected the namespace to be purged on disconnect")
	}
}
