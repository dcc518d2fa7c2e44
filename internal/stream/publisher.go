package stream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tokenrelay/tokenrelay/internal/logstore"
)

const (
	defaultPollInterval = 50 * time.Millisecond
	defaultReadBatch    = 100
	defaultDrainBatch   = 1000
	defaultKeepalive    = 15 * time.Second
	defaultMaxDuration  = 5 * time.Minute
)

// Config holds the session tunables for a Publisher.
type Config struct {
	PollInterval      time.Duration
	ReadBatch         int
	DrainBatch        int
	KeepaliveInterval time.Duration
	MaxDuration       time.Duration
}

// Publisher serves long-lived SSE sessions that replay and follow the
// token log of one stream. Sessions are read-only and independent; two
// readers of the same stream never coordinate.
type Publisher struct {
	store logstore.Store
	cfg   Config
}

func NewPublisher(store logstore.Store, cfg Config) *Publisher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ReadBatch <= 0 {
		cfg.ReadBatch = defaultReadBatch
	}
	if cfg.DrainBatch <= 0 {
		cfg.DrainBatch = defaultDrainBatch
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = defaultKeepalive
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = defaultMaxDuration
	}
	return &Publisher{store: store, cfg: cfg}
}

// ServeStream runs one SSE session from the given cursor until the stream
// reaches a terminal state, the client disconnects, the wall-clock ceiling
// is hit, or the loop fails. The id must already be validated and the
// store reachable; precondition failures belong to the HTTP layer.
func (p *Publisher) ServeStream(w http.ResponseWriter, r *http.Request, streamID, cursor string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sw := newSessionWriter(w)
	sw.flush()

	stopKeepalive := make(chan struct{})
	var keepaliveDone sync.WaitGroup
	keepaliveDone.Add(1)
	go func() {
		defer keepaliveDone.Done()
		ticker := time.NewTicker(p.cfg.KeepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopKeepalive:
				return
			case <-ticker.C:
				sw.writeFrame(keepaliveFrame)
			}
		}
	}()

	start := time.Now()
	var lastCursor, exit string

	// Single finalization path for every exit: stop the keepalive ticker,
	// wait it out, then close the writer so nothing touches the
	// ResponseWriter after the handler returns.
	defer func() {
		close(stopKeepalive)
		keepaliveDone.Wait()
		sw.close()
		log.Debug().
			Str("stream_id", streamID).
			Str("cursor", lastCursor).
			Str("exit", exit).
			Dur("duration", time.Since(start)).
			Msg("sse session closed")
	}()
	defer func() {
		if rec := recover(); rec != nil {
			exit = "panic"
			log.Error().Str("stream_id", streamID).Interface("panic", rec).Msg("sse session panicked")
			sw.writeFrame(eventFrame("error", errorPayload{Error: "Internal stream error"}))
		}
	}()

	lastCursor, exit = p.run(r.Context(), sw, streamID, cursor, start)
}

func (p *Publisher) run(ctx context.Context, sw *sessionWriter, streamID, cursor string, start time.Time) (string, string) {
	for {
		select {
		case <-ctx.Done():
			return cursor, "disconnected"
		default:
		}

		// A failed transport write latches the writer closed; keep
		// polling a store nobody can hear and the session is a zombie.
		if sw.isClosed() {
			return cursor, "transport_closed"
		}

		if time.Since(start) > p.cfg.MaxDuration {
			sw.writeFrame(eventFrame("error", errorPayload{Error: "Stream timeout exceeded"}))
			return cursor, "timeout"
		}

		entries, err := p.store.ReadFrom(ctx, streamID, cursor, p.cfg.ReadBatch)
		if err != nil {
			sw.writeFrame(eventFrame("error", errorPayload{Error: readErrorMessage(err)}))
			return cursor, "read_error"
		}
		for _, e := range entries {
			sw.writeFrame(tokenFrame(e))
			cursor = e.ID
		}
		if len(entries) > 0 {
			continue
		}

		// Caught up. Back off briefly, then consult metadata for a
		// terminal state before polling again.
		select {
		case <-ctx.Done():
			return cursor, "disconnected"
		case <-time.After(p.cfg.PollInterval):
		}

		meta, err := p.store.Metadata(ctx, streamID)
		if err != nil {
			if errors.Is(err, logstore.ErrNotFound) {
				continue
			}
			sw.writeFrame(eventFrame("error", errorPayload{Error: "Stream read failed"}))
			return cursor, "metadata_error"
		}

		switch meta.Status {
		case logstore.StatusCompleted:
			// One last drain: entries appended between the previous poll
			// and the completed observation must not be lost.
			cursor = p.drain(ctx, sw, streamID, cursor)
			sw.writeFrame(eventFrame("complete", completePayload{
				TotalTokens: meta.TotalTokens,
				CompletedAt: meta.CompletedAt,
			}))
			return cursor, "completed"
		case logstore.StatusError:
			msg := meta.Error
			if msg == "" {
				msg = "Stream failed"
			}
			sw.writeFrame(eventFrame("error", errorPayload{Error: msg}))
			return cursor, "errored"
		}
	}
}

func (p *Publisher) drain(ctx context.Context, sw *sessionWriter, streamID, cursor string) string {
	entries, err := p.store.ReadFrom(ctx, streamID, cursor, p.cfg.DrainBatch)
	if err != nil {
		log.Warn().Err(err).Str("stream_id", streamID).Msg("final drain failed")
		return cursor
	}
	for _, e := range entries {
		sw.writeFrame(tokenFrame(e))
		cursor = e.ID
	}
	return cursor
}

func readErrorMessage(err error) string {
	if errors.Is(err, logstore.ErrBadCursor) {
		return "Invalid cursor format"
	}
	return "Stream read failed"
}
