// Package dispatcher routes decoded events between the two gateways for one
// bridged pair, buffering them through asyncchannel queues so a slow
// Discord REST call or a burst of Roomy backlog events never blocks the
// gateway connection that produced them.
package dispatcher

import (
	"github.com/sirupsen/logrus"

	"github.com/muni-town/roomy-bridge/src/asyncchannel"
	"github.com/muni-town/roomy-bridge/src/logging"
	"github.com/muni-town/roomy-bridge/src/types"
)

// ToRoomyHandler applies one Discord-originated event against Roomy.
type ToRoomyHandler func(types.DiscordEvent) error

// ToRoomyBatchHandler applies a batch of Discord-originated events against
// Roomy in one call, used during backfill so structural changes can be
// coalesced into fewer space writes.
type ToRoomyBatchHandler func([]types.DiscordEvent) error

// ToDiscordHandler applies one Roomy-originated event against Discord.
type ToDiscordHandler func(types.DecodedStreamEvent) error

// ToDiscordBatchDoneHandler is invoked once a burst of queued Roomy events
// has been fully applied to Discord, carrying the highest stream index seen
// in that burst. Callers advance their resume cursor to exactly this value,
// never past an event that hasn't actually been applied yet.
type ToDiscordBatchDoneHandler func(maxIndex types.StreamIndex) error

// Dispatcher holds the two directional queues for one bridged pair. Discord
// events are enqueued as they arrive off the gateway; Roomy events are
// enqueued as they're decoded off the subscription. Each direction is
// drained by its own goroutine running RunToRoomy or RunToDiscord.
type Dispatcher struct {
	toRoomy   *asyncchannel.Channel[discordItem]
	toDiscord *asyncchannel.Channel[types.DecodedStreamEvent]

	batchSize int
	warnAt    int

	log *logrus.Entry
}

type discordItem struct {
	event      types.DiscordEvent
	isBackfill bool

	// done, when set, marks this item as a drain marker rather than a real
	// event: RunToRoomy flushes whatever batch is pending, closes done, and
	// applies nothing else for it. Used by DrainToRoomy.
	done chan struct{}
}

// New creates a Dispatcher. batchSize controls how many queued
// Discord->Roomy events are coalesced into one batch call during backfill;
// warnAt logs a warning once either queue's depth crosses it, a signal
// that a downstream consumer has stalled.
func New(batchSize, warnAt int, fields logrus.Fields) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Dispatcher{
		toRoomy:   asyncchannel.New[discordItem](),
		toDiscord: asyncchannel.New[types.DecodedStreamEvent](),
		batchSize: batchSize,
		warnAt:    warnAt,
		log:       logging.Log.WithFields(fields),
	}
}

// PushDiscordEvent enqueues a Discord-originated event for the
// Discord->Roomy direction. isBackfill marks events replayed during
// startup reconciliation so the consumer loop batches them.
func (d *Dispatcher) PushDiscordEvent(event types.DiscordEvent, isBackfill bool) {
	d.toRoomy.Push(discordItem{event: event, isBackfill: isBackfill})
	d.warnIfDeep(d.toRoomy.Len(), "discord->roomy")
}

// PushRoomyEvent enqueues a Roomy-originated event for the
// Roomy->Discord direction.
func (d *Dispatcher) PushRoomyEvent(event types.DecodedStreamEvent) {
	d.toDiscord.Push(event)
	d.warnIfDeep(d.toDiscord.Len(), "roomy->discord")
}

// DrainToRoomy blocks until every Discord->Roomy event pushed before this
// call returns has been applied (including any partial batch shorter than
// batchSize), by enqueuing a marker behind them and waiting for RunToRoomy
// to reach it. Used by the bridge to know a backfill sweep has actually
// landed in Roomy before gating the next startup phase on it.
func (d *Dispatcher) DrainToRoomy() {
	done := make(chan struct{})
	d.toRoomy.Push(discordItem{done: done})
	<-done
}

func (d *Dispatcher) warnIfDeep(depth int, direction string) {
	if d.warnAt > 0 && depth == d.warnAt {
		d.log.WithFields(logrus.Fields{"direction": direction, "depth": depth}).
			Warn("dispatch queue depth crossed warning threshold")
	}
}

// Finish signals both queues are done accepting new events; the consumer
// loops (RunToRoomy, RunToDiscord) exit once they've drained whatever remains.
func (d *Dispatcher) Finish() {
	d.toRoomy.Finish()
	d.toDiscord.Finish()
}

// RunToRoomy drains the Discord->Roomy queue until Finish is called and the
// queue empties. Consecutive backfill events are coalesced up to
// batchSize and passed to batchHandler; live (non-backfill) events are
// passed to handler one at a time as soon as they arrive.
func (d *Dispatcher) RunToRoomy(handler ToRoomyHandler, batchHandler ToRoomyBatchHandler) {
	var pending []types.DiscordEvent

	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := batchHandler(pending); err != nil {
			d.log.WithError(err).WithField("batchSize", len(pending)).Error("discord->roomy batch apply failed")
		}
		pending = nil
	}

	for item := range d.toRoomy.Out() {
		if item.isBackfill {
			pending = append(pending, item.event)
			if len(pending) >= d.batchSize {
				flush()
			}
			continue
		}

		flush()
		if item.done != nil {
			close(item.done)
			continue
		}
		if err := handler(item.event); err != nil {
			d.log.WithError(err).WithField("kind", item.event.Kind).Error("discord->roomy apply failed")
		}
	}
	flush()
}

// RunToDiscord drains the Roomy->Discord queue until Finish is called and
// the queue empties. Whatever has already accumulated by the time a value
// is received is applied as one burst: each event is handled in order, then
// batchDone is called once with the highest index in that burst, so the
// caller can advance a resume cursor only as far as events actually applied,
// never past one still sitting in the queue. The dispatcher itself applies
// no phase gate: the bridge pushes into this queue from the moment its
// subscription opens and only calls RunToDiscord once phase 3 begins.
func (d *Dispatcher) RunToDiscord(handler ToDiscordHandler, batchDone ToDiscordBatchDoneHandler) {
	for first := range d.toDiscord.Out() {
		batch := []types.DecodedStreamEvent{first}
	drain:
		for {
			select {
			case item, ok := <-d.toDiscord.Out():
				if !ok {
					break drain
				}
				batch = append(batch, item)
			default:
				break drain
			}
		}

		var maxIndex types.StreamIndex
		for _, item := range batch {
			if item.Index > maxIndex {
				maxIndex = item.Index
			}
			if err := handler(item); err != nil {
				d.log.WithError(err).WithField("index", item.Index).Error("roomy->discord apply failed")
			}
		}
		if batchDone != nil {
			if err := batchDone(maxIndex); err != nil {
				d.log.WithError(err).WithField("index", maxIndex).Error("roomy->discord cursor advance failed")
			}
		}
	}
}
