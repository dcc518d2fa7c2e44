package logstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	nats "github.com/nats-io/nats.go"
)

const (
	metaBucket    = "TOKENLOG_META"
	streamPrefix  = "TOKENLOG_"
	subjectPrefix = "tokenlog."
)

// entryPayload is the wire form of one log entry; the JetStream sequence
// number of the stored message is the entry's cursor seq.
type entryPayload struct {
	Delta string `json:"delta"`
	TS    int64  `json:"ts"`
}

// JetStream implements Store on top of a JetStream context. Each stream
// identifier gets its own JetStream stream (monotonic, contiguous sequence
// numbers), and metadata lives in a KV bucket keyed by stream id.
type JetStream struct {
	js nats.JetStreamContext
	kv nats.KeyValue
}

func NewJetStream(js nats.JetStreamContext) (*JetStream, error) {
	kv, err := js.KeyValue(metaBucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: metaBucket})
	}
	if err != nil {
		return nil, fmt.Errorf("metadata bucket: %w", err)
	}
	return &JetStream{js: js, kv: kv}, nil
}

func (s *JetStream) Configured() bool {
	return s != nil && s.js != nil
}

func (s *JetStream) Create(ctx context.Context, streamID string) error {
	_, err := s.js.AddStream(&nats.StreamConfig{
		Name:     streamName(streamID),
		Subjects: []string{subjectName(streamID)},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	}, nats.Context(ctx))
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("add stream: %w", err)
	}
	return s.SetStatus(ctx, streamID, Metadata{Status: StatusStreaming})
}

func (s *JetStream) Append(ctx context.Context, streamID, delta string, ts int64) (string, error) {
	meta, err := s.Metadata(ctx, streamID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}
	if meta != nil && meta.Terminal() {
		return "", ErrStreamTerminal
	}

	payload, err := json.Marshal(entryPayload{Delta: delta, TS: ts})
	if err != nil {
		return "", err
	}
	ack, err := s.js.Publish(subjectName(streamID), payload, nats.Context(ctx))
	if err != nil {
		return "", fmt.Errorf("append: %w", err)
	}
	return FormatCursor(ack.Sequence, 0), nil
}

func (s *JetStream) ReadFrom(ctx context.Context, streamID, cursor string, limit int) ([]Entry, error) {
	seq, _, err := ParseCursor(cursor)
	if err != nil {
		return nil, err
	}

	name := streamName(streamID)
	var entries []Entry
	for next := seq + 1; len(entries) < limit; next++ {
		msg, err := s.js.GetMsg(name, next, nats.Context(ctx))
		if err != nil {
			if errors.Is(err, nats.ErrMsgNotFound) || errors.Is(err, nats.ErrStreamNotFound) {
				// Caught up, or the writer has not created the log yet.
				break
			}
			return nil, fmt.Errorf("read entry %d: %w", next, err)
		}
		var p entryPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return nil, fmt.Errorf("decode entry %d: %w", next, err)
		}
		entries = append(entries, Entry{
			ID:    FormatCursor(msg.Sequence, 0),
			Delta: p.Delta,
			TS:    p.TS,
		})
	}
	return entries, nil
}

func (s *JetStream) Metadata(ctx context.Context, streamID string) (*Metadata, error) {
	kve, err := s.kv.Get(streamID)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(kve.Value(), &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &meta, nil
}

func (s *JetStream) SetStatus(ctx context.Context, streamID string, meta Metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if _, err := s.kv.Put(streamID, data); err != nil {
		return fmt.Errorf("put metadata: %w", err)
	}
	return nil
}

func streamName(streamID string) string {
	return streamPrefix + streamID
}

func subjectName(streamID string) string {
	return subjectPrefix + streamID
}
