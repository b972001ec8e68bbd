package dispatcher

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/muni-town/roomy-bridge/src/types"
)

func TestRunToRoomyAppliesLiveEventsOneAtATime(t *testing.T) {
	d := New(10, 0, logrus.Fields{})

	var mu sync.Mutex
	var single []types.DiscordEventKind
	var batched int

	done := make(chan struct{})
	go func() {
		d.RunToRoomy(
			func(ev types.DiscordEvent) error {
				mu.Lock()
				single = append(single, ev.Kind)
				mu.Unlock()
				return nil
			},
			func(evs []types.DiscordEvent) error {
				mu.Lock()
				batched += len(evs)
				mu.Unlock()
				return nil
			},
		)
		close(done)
	}()

	d.PushDiscordEvent(types.DiscordEvent{Kind: types.DiscordEventMessageCreate}, false)
	d.PushDiscordEvent(types.DiscordEvent{Kind: types.DiscordEventMessageUpdate}, false)
	d.Finish()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunToRoomy did not exit after Finish")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(single) != 2 || batched != 0 {
		t.Fatalf("expected 2 single live events and 0 batched, got single=%v batched=%d", single, batched)
	}
}

func TestRunToRoomyBatchesBackfillEvents(t *testing.T) {
	d := New(3, 0, logrus.Fields{})

	var mu sync.Mutex
	var batches [][]types.DiscordEventKind

	done := make(chan struct{})
	go func() {
		d.RunToRoomy(
			func(ev types.DiscordEvent) error { return nil },
			func(evs []types.DiscordEvent) error {
				mu.Lock()
				var kinds []types.DiscordEventKind
				for _, e := range evs {
					kinds = append(kinds, e.Kind)
				}
				batches = append(batches, kinds)
				mu.Unlock()
				return nil
			},
		)
		close(done)
	}()

	for i := 0; i < 7; i++ {
		d.PushDiscordEvent(types.DiscordEvent{Kind: types.DiscordEventChannelCreate}, true)
	}
	d.Finish()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunToRoomy did not exit after Finish")
	}

	mu.Lock()
	defer mu.Unlock()
	total := 0
	for _, b := range batches {
		total += len(b)
	}
	if total != 7 {
		t.Fatalf("expected all 7 backfill events delivered across batches, got %d", total)
	}
	if len(batches) < 2 {
		t.Fatalf("expected at least 2 batches given batchSize=3 and 7 events, got %d", len(batches))
	}
}

func TestRunToDiscordAppliesEventsInOrder(t *testing.T) {
	d := New(10, 0, logrus.Fields{})

	var mu sync.Mutex
	var seen []types.StreamIndex

	done := make(chan struct{})
	go func() {
		d.RunToDiscord(func(ev types.DecodedStreamEvent) error {
			mu.Lock()
			seen = append(seen, ev.Index)
			mu.Unlock()
			return nil
		}, nil)
		close(done)
	}()

	d.PushRoomyEvent(types.DecodedStreamEvent{Index: 1})
	d.PushRoomyEvent(types.DecodedStreamEvent{Index: 2})
	d.PushRoomyEvent(types.DecodedStreamEvent{Index: 3})
	d.Finish()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunToDiscord did not exit after Finish")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 || seen[0] != 1 || seen[1] != 2 || seen[2] != 3 {
		t.Fatalf("expected events applied in order [1 2 3], got %v", seen)
	}
}

func TestRunToDiscordAdvancesCursorToBatchMaxIndexOnlyAfterApply(t *testing.T) {
	d := New(10, 0, logrus.Fields{})

	var mu sync.Mutex
	var applied []types.StreamIndex
	var batchDoneIndexes []types.StreamIndex

	applying := make(chan struct{})
	release := make(chan struct{})

	done := make(chan struct{})
	go func() {
		d.RunToDiscord(func(ev types.DecodedStreamEvent) error {
			if ev.Index == 1 {
				close(applying)
				<-release // hold the first event "in flight" before it's recorded applied
			}
			mu.Lock()
			applied = append(applied, ev.Index)
			mu.Unlock()
			return nil
		}, func(maxIndex types.StreamIndex) error {
			mu.Lock()
			batchDoneIndexes = append(batchDoneIndexes, maxIndex)
			mu.Unlock()
			return nil
		})
		close(done)
	}()

	d.PushRoomyEvent(types.DecodedStreamEvent{Index: 1})

	<-applying
	mu.Lock()
	if len(batchDoneIndexes) != 0 {
		mu.Unlock()
		t.Fatal("expected no cursor advance while the first event is still being applied")
	}
	mu.Unlock()
	close(release)

	d.PushRoomyEvent(types.DecodedStreamEvent{Index: 2})
	d.PushRoomyEvent(types.DecodedStreamEvent{Index: 3})
	d.Finish()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunToDiscord did not exit after Finish")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(applied) != 3 {
		t.Fatalf("expected all 3 events applied, got %v", applied)
	}
	total := types.StreamIndex(0)
	for _, idx := range batchDoneIndexes {
		if idx > total {
			total = idx
		}
	}
	if total != 3 {
		t.Fatalf("expected the final batch-done call to report index 3, got batches %v", batchDoneIndexes)
	}
}

func TestDrainToRoomyWaitsForPendingBackfillEventsToApply(t *testing.T) {
	d := New(3, 0, logrus.Fields{})

	var mu sync.Mutex
	var batched int

	go d.RunToRoomy(
		func(ev types.DiscordEvent) error { return nil },
		func(evs []types.DiscordEvent) error {
			mu.Lock()
			batched += len(evs)
			mu.Unlock()
			return nil
		},
	)

	d.PushDiscordEvent(types.DiscordEvent{Kind: types.DiscordEventChannelCreate}, true)
	d.PushDiscordEvent(types.DiscordEvent{Kind: types.DiscordEventChannelCreate}, true)

	drained := make(chan struct{})
	go func() {
		d.DrainToRoomy()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("DrainToRoomy did not return after its preceding events were applied")
	}

	mu.Lock()
	defer mu.Unlock()
	if batched != 2 {
		t.Fatalf("expected DrainToRoomy to force a flush of the partial batch, got %d events applied", batched)
	}
}
