// Package bridge coordinates one bridged guild/space pair end to end: the
// phase state machine, the two-directional dispatcher, and the four sync
// services, wired together the way a connection handler wires a session's
// read loop, write loop, and application logic.
package bridge

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/muni-town/roomy-bridge/src/concurrency"
	"github.com/muni-town/roomy-bridge/src/discordapi"
	"github.com/muni-town/roomy-bridge/src/dispatcher"
	"github.com/muni-town/roomy-bridge/src/logging"
	"github.com/muni-town/roomy-bridge/src/repo"
	"github.com/muni-town/roomy-bridge/src/roomyapi"
	"github.com/muni-town/roomy-bridge/src/services/message"
	"github.com/muni-town/roomy-bridge/src/services/profile"
	"github.com/muni-town/roomy-bridge/src/services/reaction"
	"github.com/muni-town/roomy-bridge/src/services/structure"
	"github.com/muni-town/roomy-bridge/src/statemachine"
	"github.com/muni-town/roomy-bridge/src/types"
)

// Phase tags the bridge's four-stage startup sequence. Phases only ever
// move forward: a space is first reconciled from its own history, then
// from Discord's, then queued Roomy writes are flushed to Discord, and
// finally both gateways are live.
const (
	PhaseBackfillRoomy                Phase = "backfillRoomy"
	PhaseBackfillDiscordAndSyncToRoomy Phase = "backfillDiscordAndSyncToRoomy"
	PhaseSyncRoomyToDiscord           Phase = "syncRoomyToDiscord"
	PhaseListening                    Phase = "listening"
)

// Phase is one of the four startup stages above, reused as a
// statemachine.Tag.
type Phase = statemachine.Tag

var phaseOrder = []Phase{PhaseBackfillRoomy, PhaseBackfillDiscordAndSyncToRoomy, PhaseSyncRoomyToDiscord, PhaseListening}

// PhaseData is the payload stored with each phase transition. LastBatchID
// is set on the transitions into PhaseSyncRoomyToDiscord and PhaseListening
// to the number of Discord->Roomy dispatcher batches the startup backfill
// sweep was split into; the transition into
// PhaseBackfillDiscordAndSyncToRoomy carries the zero value. Bridge exposes
// only the phase tag (Phase), not this payload. It's bookkeeping, not the gate itself: the
// bridge actually advances past PhaseBackfillDiscordAndSyncToRoomy by
// calling Dispatcher.DrainToRoomy and blocking for it to return, since the
// concrete roomyapi subscription only reports a per-event IsBackfill flag,
// not a stream-level batch id the phase could wait on directly.
type PhaseData struct {
	LastBatchID int
}

// Config bundles the dependencies one Bridge needs, supplied by the
// orchestrator that owns the shared Discord session and Roomy client.
type Config struct {
	GuildID    types.Snowflake
	SpaceID    types.StreamDid
	Repo       repo.Repo
	Discord    *discordapi.Client
	RoomyClient roomyapi.Client
	BatchSize       int
	DispatchWarnAt  int
}

// Bridge owns one guild/space pair's full lifecycle: state machine,
// dispatcher, connected space subscription, and sync services.
type Bridge struct {
	cfg   Config
	ns    repo.Namespace
	log   *logrus.Entry
	sm    *statemachine.StateMachine[PhaseData]
	disp  *dispatcher.Dispatcher
	space roomyapi.ConnectedSpace

	profileSvc   *profile.Service
	structureSvc *structure.Service
	reactionSvc  *reaction.Service
	messageSvc   *message.Service

	cancel context.CancelFunc
}

// Connect constructs a Bridge and starts its four-phase startup sequence in
// the background. The returned Bridge is usable immediately; callers
// observe phase progress via Phase() or WaitFor().
func Connect(ctx context.Context, cfg Config) (*Bridge, error) {
	key := types.NewGuildSpaceKey(cfg.GuildID, cfg.SpaceID)
	ns := repo.NamespaceFor(key)
	log := logging.Log.WithFields(logrus.Fields{"guild_id": cfg.GuildID, "space_id": cfg.SpaceID})

	runCtx, cancel := context.WithCancel(ctx)

	b := &Bridge{
		cfg:    cfg,
		ns:     ns,
		log:    log,
		sm:     statemachine.New(phaseOrder, PhaseBackfillRoomy, PhaseData{}),
		disp:   dispatcher.New(cfg.BatchSize, cfg.DispatchWarnAt, logrus.Fields{"guild_id": cfg.GuildID, "space_id": cfg.SpaceID}),
		cancel: cancel,
	}

	concurrency.GoSafe(func() { b.run(runCtx) })

	return b, nil
}

// Phase returns the bridge's current lifecycle phase.
func (b *Bridge) Phase() Phase {
	tag, _ := b.sm.Current()
	return tag
}

// WaitFor blocks until the bridge reaches phase or later, or ctx is done.
func (b *Bridge) WaitFor(ctx context.Context, phase Phase) error {
	select {
	case <-b.sm.TransitionedTo(phase):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnDiscordEvent feeds one Discord gateway event into the dispatcher's
// Discord->Roomy queue. isBackfill is true only while the guild's own
// REST-fetched channel/message history is being replayed at startup.
func (b *Bridge) OnDiscordEvent(ev types.DiscordEvent, isBackfill bool) {
	b.disp.PushDiscordEvent(ev, isBackfill)
}

// Disconnect tears down the bridge: both dispatcher queues finish
// draining, the space subscription closes, and this pair's repository
// namespace is purged.
func (b *Bridge) Disconnect(ctx context.Context) error {
	b.cancel()
	b.disp.Finish()
	if b.space != nil {
		if err := b.space.Unsubscribe(); err != nil {
			b.log.WithError(err).Warn("error unsubscribing from space")
		}
	}
	if err := b.cfg.Repo.Purge(ctx, b.ns); err != nil {
		return fmt.Errorf("bridge: purging namespace: %w", err)
	}
	return nil
}

func (b *Bridge) run(ctx context.Context) {
	space, err := b.connectSpace(ctx)
	if err != nil {
		b.log.WithError(err).Error("bridge: failed to connect to roomy space")
		return
	}
	b.space = space

	b.profileSvc = profile.New(b.cfg.Repo, b.ns, space)
	b.structureSvc = structure.New(b.cfg.Repo, b.ns, b.cfg.Discord, space, b.cfg.GuildID)
	b.reactionSvc = reaction.New(b.cfg.Repo, b.ns, b.cfg.Discord, space)
	b.messageSvc = message.New(b.cfg.Repo, b.ns, b.cfg.Discord, space)

	concurrency.GoSafe(func() {
		b.disp.RunToRoomy(b.applyDiscordEventSingle, b.applyDiscordEventBatch)
	})

	// Roomy->Discord events accumulate in the dispatcher queue from the
	// moment the subscription opens, but aren't drained to Discord until
	// phase 3: applying them earlier could race with channels Discord's
	// own backfill hasn't created yet.
	concurrency.GoSafe(func() {
		<-b.sm.TransitionedTo(PhaseSyncRoomyToDiscord)
		b.disp.RunToDiscord(b.applyRoomyEvent, b.advanceCursor)
	})

	batchID := b.backfillDiscord(ctx)

	b.sm.TransitionTo(PhaseSyncRoomyToDiscord, PhaseData{LastBatchID: batchID})
	b.sm.TransitionTo(PhaseListening, PhaseData{LastBatchID: batchID})

	b.log.Info("bridge reached listening phase")
}

// backfillDiscord walks the guild's current structure, then message
// history, then reactions, replaying each as a synthetic isBackfill=true
// Discord event so it flows through the same dispatcher path a live gateway
// event would, coalesced into batches by RunToRoomy rather than applied one
// at a time. It blocks on Dispatcher.DrainToRoomy so the bridge only leaves
// this phase once every one of those batches has actually landed in Roomy,
// and returns the number of batches the sweep was split into.
//
// Discord is nil for bridges constructed without a live gateway session
// (unit tests exercising only the phase/dispatcher wiring); the sweep is
// skipped in that case rather than touching a nil REST client.
func (b *Bridge) backfillDiscord(ctx context.Context) int {
	b.sm.TransitionTo(PhaseBackfillDiscordAndSyncToRoomy, PhaseData{})

	if b.cfg.Discord == nil {
		return 0
	}

	pushed := 0
	push := func(ev types.DiscordEvent) {
		b.disp.PushDiscordEvent(ev, true)
		pushed++
	}

	textChannelIDs, err := b.structureSvc.Backfill(ctx, push)
	if err != nil {
		b.log.WithError(err).Error("bridge: structure backfill failed")
	}
	if err := b.messageSvc.Backfill(ctx, textChannelIDs, push); err != nil {
		b.log.WithError(err).Error("bridge: message backfill failed")
	}
	if err := b.reactionSvc.Backfill(ctx, textChannelIDs, push); err != nil {
		b.log.WithError(err).Error("bridge: reaction backfill failed")
	}

	b.disp.DrainToRoomy()

	effectiveBatchSize := b.cfg.BatchSize
	if effectiveBatchSize <= 0 {
		effectiveBatchSize = 100 // mirrors dispatcher.New's own default
	}
	batchID := (pushed + effectiveBatchSize - 1) / effectiveBatchSize
	b.log.WithFields(logrus.Fields{"channels": len(textChannelIDs), "events": pushed, "batches": batchID}).
		Info("bridge: discord backfill drained into roomy")
	return batchID
}

// connectSpace opens the space subscription from its persisted cursor (or
// the beginning, if this is the first connection), delivering every
// decoded event into the Roomy->Discord dispatcher queue.
//
// For a resumed bridge (a cursor already exists) it first snapshots the
// space's current highest index and runs a metadata-only warm-up pass up
// to that snapshot before opening the full subscription from the same
// starting point. Snapshotting the boundary before warming up, rather
// than warming up until "caught up" and only then subscribing, closes the
// gap a plain unsubscribe-then-resubscribe sequence leaves open: any event
// appended between the warm-up finishing and the full subscribe starting
// would otherwise never be observed.
func (b *Bridge) connectSpace(ctx context.Context) (roomyapi.ConnectedSpace, error) {
	fromIndex, found, err := b.cfg.Repo.GetCursor(ctx, b.ns)
	if err != nil {
		return nil, fmt.Errorf("bridge: reading cursor: %w", err)
	}

	if found && fromIndex > 0 {
		if err := b.warmUp(ctx, fromIndex); err != nil {
			b.log.WithError(err).Warn("bridge: metadata warm-up failed, proceeding to full subscribe anyway")
		}
	}

	// The cursor advances only once RunToDiscord has actually applied a
	// batch of these events (see advanceCursor), not here at enqueue time:
	// the queue is in-memory, so advancing on enqueue could durably record
	// an index whose event is then lost to a crash before it's ever applied.
	space, err := b.cfg.RoomyClient.Subscribe(ctx, b.cfg.SpaceID, fromIndex, func(ev types.DecodedStreamEvent, meta types.EventCallbackMeta) {
		b.disp.PushRoomyEvent(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("bridge: subscribing to space: %w", err)
	}
	return space, nil
}

// advanceCursor persists the highest stream index in a burst of
// Roomy->Discord events once RunToDiscord has finished applying all of
// them, wired as the dispatcher's ToDiscordBatchDoneHandler.
func (b *Bridge) advanceCursor(maxIndex types.StreamIndex) error {
	if maxIndex == 0 {
		return nil
	}
	if err := b.cfg.Repo.PutCursor(context.Background(), b.ns, maxIndex); err != nil {
		return fmt.Errorf("bridge: advancing cursor: %w", err)
	}
	return nil
}

// warmUp snapshots the space's current highest index and walks the
// metadata-only stream from fromIndex up to that snapshot, logging how
// much backlog the full subscribe below is about to replay.
func (b *Bridge) warmUp(ctx context.Context, fromIndex types.StreamIndex) error {
	info, err := b.cfg.RoomyClient.GetSpaceInfo(ctx, b.cfg.SpaceID)
	if err != nil {
		return fmt.Errorf("bridge: snapshotting space info: %w", err)
	}
	if info.HighestIndex <= fromIndex {
		return nil
	}

	var seen int
	err = b.cfg.RoomyClient.SubscribeMetadata(ctx, b.cfg.SpaceID, fromIndex, info.HighestIndex, func(idx types.StreamIndex, kind types.RoomyEventKind) {
		seen++
	})
	if err != nil {
		return fmt.Errorf("bridge: metadata warm-up: %w", err)
	}
	b.log.WithFields(logrus.Fields{"from": fromIndex, "snapshot": info.HighestIndex, "events": seen}).
		Info("bridge: metadata warm-up complete, starting full subscribe")
	return nil
}

func (b *Bridge) applyDiscordEventSingle(ev types.DiscordEvent) error {
	return b.routeDiscordEvent(context.Background(), ev)
}

func (b *Bridge) applyDiscordEventBatch(evs []types.DiscordEvent) error {
	ctx := context.Background()
	for _, ev := range evs {
		if err := b.routeDiscordEvent(ctx, ev); err != nil {
			b.log.WithError(err).WithField("kind", ev.Kind).Warn("bridge: batched event failed, continuing")
		}
	}
	return nil
}

func (b *Bridge) routeDiscordEvent(ctx context.Context, ev types.DiscordEvent) error {
	switch ev.Kind {
	case types.DiscordEventChannelCreate, types.DiscordEventChannelUpdate, types.DiscordEventChannelDelete,
		types.DiscordEventThreadCreate, types.DiscordEventThreadUpdate, types.DiscordEventThreadDelete:
		return b.structureSvc.HandleDiscordEvent(ctx, ev)
	case types.DiscordEventMessageCreate, types.DiscordEventMessageUpdate, types.DiscordEventMessageDelete:
		return b.messageSvc.HandleDiscordEvent(ctx, ev)
	case types.DiscordEventReactionAdd, types.DiscordEventReactionRemove:
		return b.reactionSvc.HandleDiscordEvent(ctx, ev)
	case types.DiscordEventGuildMemberAdd:
		return b.profileSvc.HandleDiscordMember(ctx, ev.Member)
	}
	return nil
}

func (b *Bridge) applyRoomyEvent(ev types.DecodedStreamEvent) error {
	ctx := context.Background()
	switch ev.Event.Kind {
	case types.RoomyEventRoomCreate, types.RoomyEventRoomUpdate, types.RoomyEventRoomArchive:
		return b.structureSvc.HandleRoomyEvent(ctx, ev)
	case types.RoomyEventMessageSend, types.RoomyEventMessageEdit, types.RoomyEventMessageDelete:
		return b.messageSvc.HandleRoomyEvent(ctx, ev)
	case types.RoomyEventReactionAdd, types.RoomyEventReactionRemove:
		return b.reactionSvc.HandleRoomyEvent(ctx, ev)
	}
	return nil
}
