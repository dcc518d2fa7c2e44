package archive

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tokenrelay/tokenrelay/internal/logstore"
	"github.com/tokenrelay/tokenrelay/internal/stream"
)

const pageSize = 1000

// Archiver snapshots a completed stream out of the token log into
// Postgres. A nil Archiver is a no-op, so archival stays optional.
type Archiver struct {
	store  logstore.Store
	writer *BatchWriter
}

func NewArchiver(store logstore.Store, writer *BatchWriter) *Archiver {
	return &Archiver{store: store, writer: writer}
}

// ArchiveCompleted reassembles the stream's text from the log and
// enqueues an insert. Failures only log; archival is best-effort and
// never affects the reader or producer paths.
func (a *Archiver) ArchiveCompleted(ctx context.Context, streamID string, meta logstore.Metadata) {
	if a == nil || a.writer == nil {
		return
	}

	rec, err := a.snapshot(ctx, streamID, meta)
	if err != nil {
		log.Warn().Err(err).Str("stream_id", streamID).Msg("archive read failed")
		return
	}

	a.writer.Enqueue(InsertStreamJob(rec))
	log.Debug().Str("stream_id", streamID).Int("entries", rec.EntryCount).Msg("stream archived")
}

func (a *Archiver) snapshot(ctx context.Context, streamID string, meta logstore.Metadata) (StreamRecord, error) {
	var body, reasoning strings.Builder
	cursor := logstore.ZeroCursor
	count := 0
	for {
		entries, err := a.store.ReadFrom(ctx, streamID, cursor, pageSize)
		if err != nil {
			return StreamRecord{}, err
		}
		if len(entries) == 0 {
			break
		}
		for _, e := range entries {
			text, thought := stream.SplitReasoning(e.Delta)
			body.WriteString(text)
			reasoning.WriteString(thought)
			cursor = e.ID
		}
		count += len(entries)
	}

	var completedAt time.Time
	if meta.CompletedAt > 0 {
		completedAt = time.UnixMilli(meta.CompletedAt)
	}

	return StreamRecord{
		StreamID:    streamID,
		Body:        body.String(),
		Reasoning:   reasoning.String(),
		TotalTokens: meta.TotalTokens,
		EntryCount:  count,
		CompletedAt: completedAt,
	}, nil
}
