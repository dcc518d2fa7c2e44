package archive

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Job is a unit of archival work executed against the database. Jobs
// with the same non-empty key are snapshots of the same stream; within
// one flush only the newest survives.
type Job struct {
	key string
	fn  func(ctx context.Context, pool *pgxpool.Pool) error
}

func NewJob(key string, fn func(ctx context.Context, pool *pgxpool.Pool) error) Job {
	return Job{key: key, fn: fn}
}

// BatchWriter buffers archival jobs off the request path and flushes
// them in batches. The queue drops on overflow rather than blocking a
// live SSE or ingest request.
type BatchWriter struct {
	pool      *pgxpool.Pool
	queue     chan Job
	batchSize int
	flushMs   int
	wg        sync.WaitGroup
}

func NewBatchWriter(pool *pgxpool.Pool, bufferSize, batchSize, flushMs int) *BatchWriter {
	w := &BatchWriter{
		pool:      pool,
		queue:     make(chan Job, bufferSize),
		batchSize: batchSize,
		flushMs:   flushMs,
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *BatchWriter) Enqueue(job Job) {
	select {
	case w.queue <- job:
	default:
		log.Warn().Msg("archive queue full, dropping job")
	}
}

func (w *BatchWriter) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Duration(w.flushMs) * time.Millisecond)
	defer ticker.Stop()

	batch := make([]Job, 0, w.batchSize)

	for {
		select {
		case job, ok := <-w.queue:
			if !ok {
				w.flush(batch)
				return
			}
			batch = append(batch, job)
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (w *BatchWriter) flush(batch []Job) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, job := range dedup(batch) {
		if err := job.fn(ctx, w.pool); err != nil {
			log.Error().Err(err).Msg("archive job failed")
		}
	}
}

// dedup keeps only the newest job per key; a stream re-archived within
// one flush window would otherwise upsert the same row twice. Unkeyed
// jobs always run.
func dedup(batch []Job) []Job {
	seen := make(map[string]bool, len(batch))
	out := make([]Job, 0, len(batch))
	for i := len(batch) - 1; i >= 0; i-- {
		job := batch[i]
		if job.key != "" {
			if seen[job.key] {
				continue
			}
			seen[job.key] = true
		}
		out = append(out, job)
	}
	// Restore enqueue order among the survivors.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Shutdown stops accepting jobs and drains the queue, giving up when
// ctx expires so a stuck database cannot hang process exit.
func (w *BatchWriter) Shutdown(ctx context.Context) {
	close(w.queue)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("archive writer shutdown timed out, jobs may be lost")
	}
}
