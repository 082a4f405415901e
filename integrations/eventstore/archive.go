package eventstore

import (
	"context"
	"errors"
	"time"

	"tally/core/events"
)

const (
	archiveBatch  = 256
	archiveRetry  = time.Second
	archiveBuffer = 64
)

// Archive copies every record of log into the store until ctx ends. Live
// records only wake the loop; each pass reads from the log with Since, so
// records the subscription dropped are still archived. A failed write is
// retried from the same record on the next pass.
func (s *Store) Archive(ctx context.Context, log *events.Log) error {
	if log == nil {
		return errors.New("eventstore: log required")
	}
	live, cancel := log.Subscribe(archiveBuffer)
	defer cancel()
	retry := time.NewTicker(archiveRetry)
	defer retry.Stop()

	var cursor uint64
	for {
		cursor = s.catchUp(ctx, log, cursor)
		select {
		case <-ctx.Done():
			// Flush what is already in the log before returning.
			flushCtx, stop := context.WithTimeout(context.Background(), writeTimeout)
			s.catchUp(flushCtx, log, cursor)
			stop()
			return ctx.Err()
		case <-live:
		case <-retry.C:
		}
	}
}

// catchUp archives records after cursor and returns the last sequence stored.
func (s *Store) catchUp(ctx context.Context, log *events.Log, cursor uint64) uint64 {
	for {
		batch := log.Since(cursor, archiveBatch)
		if len(batch) == 0 {
			return cursor
		}
		if first := batch[0].Sequence; first > cursor+1 {
			s.logger.Warn("event archive gap", "from", cursor+1, "to", first-1)
		}
		for _, rec := range batch {
			writeCtx, stop := context.WithTimeout(ctx, writeTimeout)
			_, err := s.AppendRecord(writeCtx, rec)
			stop()
			if err != nil {
				s.logger.Error("archive event", "sequence", rec.Sequence, "error", err)
				return cursor
			}
			cursor = rec.Sequence
		}
	}
}
