package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// ReplayResult summarises a fallback file replay.
type ReplayResult struct {
	Read     int
	Inserted int
	Skipped  int // malformed lines
}

// Replay reads JSON-lines events written by a FileSink and inserts them into
// store in batches. Stores insert idempotently on event id, so replaying the
// same file twice does not duplicate events.
func Replay(ctx context.Context, r io.Reader, store Store, batchSize int) (ReplayResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	var res ReplayResult
	batch := make([]Event, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := store.InsertBatch(ctx, batch); err != nil {
			return fmt.Errorf("replaying batch of %d: %w", len(batch), err)
		}
		res.Inserted += len(batch)
		batch = batch[:0]
		return nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil || e.ActionType == "" {
			res.Skipped++
			continue
		}
		res.Read++
		batch = append(batch, e)
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("reading fallback file: %w", err)
	}
	return res, flush()
}
