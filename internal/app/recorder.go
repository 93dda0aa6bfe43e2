package app

import (
	"context"
	"time"

	"gratwin/internal/eventbus"
	"gratwin/internal/storage"
	"gratwin/internal/twin"
	logx "gratwin/pkg/logx"
)

const journalWriteTimeout = 2 * time.Second

// recordOutcomes journals unit events from the bus until ctx ends, then
// drains whatever is already buffered.
func recordOutcomes(ctx context.Context, events <-chan eventbus.Event, store storage.Store, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-events:
					if !ok {
						return
					}
					record(context.Background(), e, store, log)
				default:
					return
				}
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			record(ctx, e, store, log)
		}
	}
}

func record(ctx context.Context, e eventbus.Event, store storage.Store, log logx.Logger) {
	log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	ev, ok := e.Data.(twin.UnitEvent)
	if !ok || ev.Unit == "" || store == nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, journalWriteTimeout)
	err := store.AppendOutcome(wctx, outcomeFromEvent(e, ev))
	cancel()
	if err != nil {
		log.Warn("outcome journal write failed", logx.String("unit", ev.Unit), logx.Err(err))
	}
}

func outcomeFromEvent(e eventbus.Event, ev twin.UnitEvent) storage.Outcome {
	return storage.Outcome{
		At:     e.Time,
		RunID:  ev.RunID,
		Unit:   ev.Unit,
		Event:  e.Type,
		State:  ev.State,
		Reason: ev.Reason,
		Tries:  ev.Tries,
		Resets: ev.Resets,
		Error:  ev.Error,
	}
}
