package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tokenrelay/tokenrelay/internal/logstore"
)

// IngestResult summarizes one producer run.
type IngestResult struct {
	Entries     int
	TotalTokens int
	Status      logstore.Status
}

// Ingester is the writer side of the pipeline: it consumes an
// Anthropic-format SSE body, appends text deltas to the log (thinking
// deltas get the reasoning marker), and flips the stream's metadata to
// a terminal state when the producer stream ends.
type Ingester struct {
	store logstore.Store
}

func NewIngester(store logstore.Store) *Ingester {
	return &Ingester{store: store}
}

func (in *Ingester) Run(ctx context.Context, streamID string, body io.Reader) (*IngestResult, error) {
	sc := NewScanner(body)
	res := &IngestResult{}
	var usage usageInfo

	for sc.Next() {
		ev := sc.Event()
		switch ev.Type {
		case "message_start":
			var ms messageStart
			if err := json.Unmarshal([]byte(ev.Data), &ms); err == nil {
				usage = ms.Message.Usage
			}
		case "content_block_delta":
			var cbd contentBlockDelta
			if err := json.Unmarshal([]byte(ev.Data), &cbd); err != nil {
				continue
			}
			var delta string
			switch cbd.Delta.Type {
			case "text_delta":
				delta = cbd.Delta.Text
			case "thinking_delta":
				delta = reasoningMarker + cbd.Delta.Thinking
			}
			if delta == "" {
				continue
			}
			if _, err := in.store.Append(ctx, streamID, delta, time.Now().UnixMilli()); err != nil {
				return res, fmt.Errorf("append delta: %w", err)
			}
			res.Entries++
		case "message_delta":
			var md messageDelta
			if err := json.Unmarshal([]byte(ev.Data), &md); err == nil && md.Usage.OutputTokens > 0 {
				usage.OutputTokens = md.Usage.OutputTokens
			}
		case "error":
			var ue upstreamError
			msg := "upstream error"
			if err := json.Unmarshal([]byte(ev.Data), &ue); err == nil && ue.Error.Message != "" {
				msg = ue.Error.Message
			}
			return in.finish(ctx, streamID, res, logstore.Metadata{
				Status: logstore.StatusError,
				Error:  msg,
			})
		}
	}

	if err := sc.Err(); err != nil {
		log.Warn().Err(err).Str("stream_id", streamID).Msg("producer stream truncated")
		return in.finish(ctx, streamID, res, logstore.Metadata{
			Status: logstore.StatusError,
			Error:  "producer stream truncated",
		})
	}

	res.TotalTokens = usage.total()
	return in.finish(ctx, streamID, res, logstore.Metadata{
		Status:      logstore.StatusCompleted,
		TotalTokens: res.TotalTokens,
		CompletedAt: time.Now().UnixMilli(),
	})
}

func (in *Ingester) finish(ctx context.Context, streamID string, res *IngestResult, meta logstore.Metadata) (*IngestResult, error) {
	if err := in.store.SetStatus(ctx, streamID, meta); err != nil {
		return res, fmt.Errorf("set status: %w", err)
	}
	res.Status = meta.Status
	log.Debug().
		Str("stream_id", streamID).
		Int("entries", res.Entries).
		Int("total_tokens", res.TotalTokens).
		Str("status", string(meta.Status)).
		Msg("ingest finished")
	return res, nil
}
