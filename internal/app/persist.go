package app

import (
	"context"
	"encoding/json"
	"time"

	"warelay/internal/eventbus"
	"warelay/internal/services/broadcast"
	"warelay/internal/storage"
	logx "warelay/pkg/logx"
)

// persistLoop drains the event bus and appends finished broadcast outcomes to
// the store. Runs only when storage is enabled.
func persistLoop(ctx context.Context, events <-chan eventbus.Event, store storage.Store, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Topic != eventbus.TopicBroadcastCompleted {
				continue
			}
			rec, ok := e.Data.(broadcast.Record)
			if !ok {
				continue
			}

			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := store.AppendRecord(wctx, toStorageRecord(rec))
			cancel()
			if err != nil {
				log.Warn("persist broadcast record failed",
					logx.String("job_id", rec.ID),
					logx.Err(err),
				)
			}
		}
	}
}

func toStorageRecord(rec broadcast.Record) storage.BroadcastRecord {
	var results string
	if len(rec.Results) > 0 {
		if b, err := json.Marshal(rec.Results); err == nil {
			results = string(b)
		}
	}
	return storage.BroadcastRecord{
		JobID:       rec.ID,
		Owner:       rec.Owner,
		Total:       rec.Total,
		Sent:        rec.Sent,
		Failed:      rec.Failed,
		Aborted:     rec.Aborted,
		StartedAt:   rec.Started,
		FinishedAt:  rec.Finished,
		ResultsJSON: results,
	}
}
