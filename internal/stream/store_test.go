package stream

import (
	"context"
	"sync"

	"github.com/tokenrelay/tokenrelay/internal/logstore"
)

// fakeStore is an in-memory logstore.Store for session tests.
type fakeStore struct {
	mu      sync.Mutex
	entries map[string][]logstore.Entry
	meta    map[string]*logstore.Metadata
	nextSeq map[string]uint64

	readErr error
	// onMetadata runs under the lock before each Metadata result, so
	// tests can race appends against terminal-state observation.
	onMetadata func(s *fakeStore)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entries: make(map[string][]logstore.Entry),
		meta:    make(map[string]*logstore.Metadata),
		nextSeq: make(map[string]uint64),
	}
}

func (s *fakeStore) Configured() bool { return true }

func (s *fakeStore) Create(_ context.Context, streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[streamID] = &logstore.Metadata{Status: logstore.StatusStreaming}
	return nil
}

func (s *fakeStore) Append(_ context.Context, streamID, delta string, ts int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.meta[streamID]; m != nil && m.Terminal() {
		return "", logstore.ErrStreamTerminal
	}
	return s.appendLocked(streamID, delta, ts), nil
}

func (s *fakeStore) appendLocked(streamID, delta string, ts int64) string {
	s.nextSeq[streamID]++
	id := logstore.FormatCursor(s.nextSeq[streamID], 0)
	s.entries[streamID] = append(s.entries[streamID], logstore.Entry{ID: id, Delta: delta, TS: ts})
	return id
}

func (s *fakeStore) ReadFrom(_ context.Context, streamID, cursor string, limit int) ([]logstore.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	seq, _, err := logstore.ParseCursor(cursor)
	if err != nil {
		return nil, err
	}
	var out []logstore.Entry
	for _, e := range s.entries[streamID] {
		eseq, _, _ := logstore.ParseCursor(e.ID)
		if eseq > seq {
			out = append(out, e)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *fakeStore) Metadata(_ context.Context, streamID string) (*logstore.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onMetadata != nil {
		s.onMetadata(s)
	}
	m, ok := s.meta[streamID]
	if !ok {
		return nil, logstore.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *fakeStore) SetStatus(_ context.Context, streamID string, meta logstore.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[streamID] = &meta
	return nil
}
