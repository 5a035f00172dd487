package testutil

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

const sseEventTypeMessage = "message"

type SSEEvent struct {
	Type  string
	Data  string
	ID    string
	Retry int
}

// SSEReader reads Server-Sent Events one at a time from a live stream.
// Comments, such as pings, are skipped.
type SSEReader struct {
	scanner *bufio.Scanner
}

func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{scanner: bufio.NewScanner(r)}
}

// Next blocks until a complete event has arrived. It returns io.EOF once the
// stream ends between events.
func (p *SSEReader) Next() (SSEEvent, error) {
	var (
		ev        SSEEvent
		dataLines []string
		partial   bool
	)

	for p.scanner.Scan() {
		line := p.scanner.Text()

		// Empty line indicates end of event
		if line == "" {
			if !partial {
				continue
			}
			ev.Data = strings.Join(dataLines, "\n")
			if ev.Type == "" {
				ev.Type = sseEventTypeMessage
			}
			return ev, nil
		}

		if strings.HasPrefix(line, ":") {
			continue
		}
		partial = true

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Type = value
		case "data":
			dataLines = append(dataLines, value)
		case "id":
			ev.ID = value
		case "retry":
			if retryMs, err := strconv.Atoi(value); err == nil {
				ev.Retry = retryMs
			}
		}
	}

	if err := p.scanner.Err(); err != nil {
		return SSEEvent{}, err
	}
	if partial {
		return SSEEvent{}, io.ErrUnexpectedEOF
	}
	return SSEEvent{}, io.EOF
}

// NextOfType skips events until one of the given type arrives.
func (p *SSEReader) NextOfType(eventType string) (SSEEvent, error) {
	for {
		ev, err := p.Next()
		if err != nil || ev.Type == eventType {
			return ev, err
		}
	}
}
