package archive

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// StreamRecord is the durable snapshot of one completed stream: the
// assembled answer text, the assembled reasoning text, and token totals.
type StreamRecord struct {
	StreamID    string
	Body        string
	Reasoning   string
	TotalTokens int
	EntryCount  int
	CompletedAt time.Time
}

func InsertStreamJob(rec StreamRecord) Job {
	return NewJob(rec.StreamID, func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, `
			INSERT INTO streams (stream_id, body, reasoning, total_tokens, entry_count, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (stream_id) DO UPDATE SET
				body = EXCLUDED.body,
				reasoning = EXCLUDED.reasoning,
				total_tokens = EXCLUDED.total_tokens,
				entry_count = EXCLUDED.entry_count,
				completed_at = EXCLUDED.completed_at,
				archived_at = now()`,
			rec.StreamID, rec.Body, nilIfEmpty(rec.Reasoning),
			rec.TotalTokens, rec.EntryCount, nilIfZeroTime(rec.CompletedAt),
		)
		return err
	})
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nilIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
