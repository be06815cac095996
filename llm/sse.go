package llm

import (
	"bufio"
	"io"
	"strings"
)

// SSEScanner reads a text/event-stream body one event at a time. Events
// are dispatched at blank-line boundaries; multi-line data fields are
// joined with newlines, comment lines and unknown fields are skipped.
type SSEScanner struct {
	scanner *bufio.Scanner
	event   string
	data    string
	err     error
}

// NewSSEScanner creates a new SSE scanner.
func NewSSEScanner(r io.Reader) *SSEScanner {
	return &SSEScanner{scanner: bufio.NewScanner(r)}
}

// Scan advances to the next event that carries a data payload. It returns
// false at end of stream or on a read error.
func (s *SSEScanner) Scan() bool {
	var event string
	var data []string

	dispatch := func() bool {
		if len(data) == 0 {
			return false
		}
		s.event = event
		s.data = strings.Join(data, "\n")
		return true
	}

	for s.scanner.Scan() {
		line := s.scanner.Text()

		if line == "" {
			if dispatch() {
				return true
			}
			event = ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue // comment, typically a keep-alive
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			data = append(data, value)
		}
	}

	s.err = s.scanner.Err()
	// A final event is valid without a trailing blank line.
	return dispatch()
}

// Event returns the current event name, empty for unnamed events.
func (s *SSEScanner) Event() string {
	return s.event
}

// Data returns the current event data.
func (s *SSEScanner) Data() string {
	return s.data
}

// Err returns any scanning error.
func (s *SSEScanner) Err() error {
	return s.err
}
