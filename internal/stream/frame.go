package stream

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/tokenrelay/tokenrelay/internal/logstore"
)

// reasoningMarker prefixes deltas that carry model deliberation text
// rather than answer text. The marker never reaches the client.
const reasoningMarker = "[reasoning]"

// TokenFrame is the JSON payload of one unnamed SSE event.
type TokenFrame struct {
	ID        string `json:"id"`
	Delta     string `json:"delta"`
	Reasoning string `json:"reasoning,omitempty"`
	TS        int64  `json:"ts"`
}

type completePayload struct {
	TotalTokens int   `json:"totalTokens,omitempty"`
	CompletedAt int64 `json:"completedAt,omitempty"`
}

type errorPayload struct {
	Error string `json:"error"`
}

var keepaliveFrame = []byte(": keepalive\n\n")

// SplitReasoning separates a marked reasoning fragment from answer text.
func SplitReasoning(delta string) (text, reasoning string) {
	if rest, ok := strings.CutPrefix(delta, reasoningMarker); ok {
		return "", rest
	}
	return delta, ""
}

func tokenFrame(e logstore.Entry) []byte {
	text, reasoning := SplitReasoning(e.Delta)
	data, err := json.Marshal(TokenFrame{ID: e.ID, Delta: text, Reasoning: reasoning, TS: e.TS})
	if err != nil {
		return nil
	}
	return []byte("data: " + string(data) + "\n\n")
}

func eventFrame(event string, payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return []byte("event: " + event + "\ndata: " + string(data) + "\n\n")
}

// sessionWriter is the single point through which both the poll loop and
// the keepalive ticker touch the HTTP response. After Close, writes are
// no-ops; a failed write closes it so a gone client stops all output.
type sessionWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

func newSessionWriter(w http.ResponseWriter) *sessionWriter {
	flusher, _ := w.(http.Flusher)
	return &sessionWriter{w: w, flusher: flusher}
}

func (sw *sessionWriter) writeFrame(frame []byte) {
	if len(frame) == 0 {
		return
	}
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return
	}
	if _, err := sw.w.Write(frame); err != nil {
		sw.closed = true
		return
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
}

func (sw *sessionWriter) flush() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if !sw.closed && sw.flusher != nil {
		sw.flusher.Flush()
	}
}

func (sw *sessionWriter) close() {
	sw.mu.Lock()
	sw.closed = true
	sw.mu.Unlock()
}

func (sw *sessionWriter) isClosed() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.closed
}
