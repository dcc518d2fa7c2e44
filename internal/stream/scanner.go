package stream

import (
	"bufio"
	"io"
	"strings"
)

// Event is one parsed SSE event from a producer stream.
type Event struct {
	Type string // from the event: field, or inferred from the payload
	Data string // raw JSON from the data: line(s)
}

// Scanner reads SSE events from an io.Reader. Events are delimited by
// blank lines; comment lines and unknown fields are skipped.
type Scanner struct {
	r   *bufio.Reader
	ev  Event
	err error
}

func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReaderSize(r, 32*1024)}
}

// Next advances to the next complete event. It returns false at end of
// stream or on error; Err distinguishes the two.
func (s *Scanner) Next() bool {
	if s.err != nil {
		return false
	}

	var eventType string
	var dataLines []string

	for {
		line, err := s.r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		switch {
		case err == nil && line == "":
			// Event separator.
			if len(dataLines) > 0 {
				s.ev = s.makeEvent(eventType, dataLines)
				return true
			}
			eventType = ""
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}

		if err != nil {
			if err != io.EOF {
				s.err = err
				return false
			}
			// Emit an unterminated trailing event, then stop.
			if len(dataLines) > 0 {
				s.ev = s.makeEvent(eventType, dataLines)
				dataLines = nil
				return true
			}
			return false
		}
	}
}

func (s *Scanner) Event() Event { return s.ev }

// Err returns the first non-EOF read error, if any.
func (s *Scanner) Err() error { return s.err }

func (s *Scanner) makeEvent(eventType string, dataLines []string) Event {
	data := strings.Join(dataLines, "\n")
	if eventType == "" {
		eventType = inferEventType(data)
	}
	return Event{Type: eventType, Data: data}
}

// inferEventType extracts the "type" field from JSON data without full parsing.
func inferEventType(data string) string {
	idx := strings.Index(data, `"type"`)
	if idx == -1 {
		return "unknown"
	}

	rest := strings.TrimLeft(data[idx+len(`"type"`):], " \t:")
	if len(rest) > 0 && rest[0] == '"' {
		if end := strings.IndexByte(rest[1:], '"'); end >= 0 {
			return rest[1 : end+1]
		}
	}
	return "unknown"
}
