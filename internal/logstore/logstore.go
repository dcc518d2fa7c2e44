package logstore

import (
	"context"
	"errors"
)

// Status is the lifecycle state of a stream as reported by its producer.
type Status string

const (
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

var (
	// ErrNotFound is returned when a stream has no metadata record.
	ErrNotFound = errors.New("stream not found")

	// ErrStreamTerminal is returned on appends to a completed or errored stream.
	ErrStreamTerminal = errors.New("stream already terminal")
)

// Entry is one immutable record of the append-only token log.
type Entry struct {
	ID    string `json:"id"`
	Delta string `json:"delta"`
	TS    int64  `json:"ts"`
}

// Metadata describes a stream's producer-side state. Readers never write it.
type Metadata struct {
	Status      Status `json:"status"`
	TotalTokens int    `json:"totalTokens,omitempty"`
	CompletedAt int64  `json:"completedAt,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Terminal reports whether no further entries will be appended.
func (m *Metadata) Terminal() bool {
	return m.Status == StatusCompleted || m.Status == StatusError
}

// Store is an ordered, append-only log keyed by stream identifier.
// Entry ids are monotonically increasing cursor tokens per stream.
type Store interface {
	// Configured reports whether the backend is reachable at all.
	Configured() bool

	// Create registers a new stream with streaming metadata.
	Create(ctx context.Context, streamID string) error

	// Append adds one entry and returns its assigned id.
	// Fails with ErrStreamTerminal once metadata is terminal.
	Append(ctx context.Context, streamID, delta string, ts int64) (string, error)

	// ReadFrom returns up to limit entries with ids strictly greater than
	// cursor, in increasing id order.
	ReadFrom(ctx context.Context, streamID, cursor string, limit int) ([]Entry, error)

	// Metadata returns the stream's metadata, or ErrNotFound.
	Metadata(ctx context.Context, streamID string) (*Metadata, error)

	// SetStatus replaces the stream's metadata record.
	SetStatus(ctx context.Context, streamID string, meta Metadata) error
}
