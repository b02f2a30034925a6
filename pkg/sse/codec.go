package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Encoder writes framed events to an output stream, flushing after every
// frame so partial turns reach the client immediately.
type Encoder struct {
	w io.Writer
	f Flusher
}

// Flusher is the subset of http.Flusher the encoder needs. A nil flusher
// is legal for buffered destinations such as tests.
type Flusher interface {
	Flush()
}

// NewEncoder creates an Encoder over w. flusher may be nil.
func NewEncoder(w io.Writer, flusher Flusher) *Encoder {
	return &Encoder{w: w, f: flusher}
}

// Encode writes one event as "event: <type>", "data: <json>" and a blank
// line, then flushes.
func (e *Encoder) Encode(ev Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if e.f != nil {
		e.f.Flush()
	}
	return nil
}

// DecodedEvent is one frame reconstructed by the Decoder. Data holds the
// JSON-decoded payload, or the raw data string when the payload is not
// valid JSON. Non-JSON frames are delivered, never dropped.
type DecodedEvent struct {
	Type string
	Data any
}

// Decoder reassembles complete frames from arbitrarily chunked input. The
// trailing incomplete fragment is buffered until more bytes arrive, so
// feeding one byte at a time emits exactly the frames that were encoded.
type Decoder struct {
	buf strings.Builder
}

// NewDecoder creates an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the running buffer and returns every complete
// frame now available, in order.
func (d *Decoder) Feed(chunk string) []DecodedEvent {
	d.buf.WriteString(chunk)
	text := d.buf.String()

	parts := strings.Split(text, "\n\n")
	if len(parts) == 1 {
		return nil
	}

	// The last fragment has no terminating blank line yet; keep it.
	remainder := parts[len(parts)-1]
	d.buf.Reset()
	d.buf.WriteString(remainder)

	var events []DecodedEvent
	for _, frame := range parts[:len(parts)-1] {
		if strings.TrimSpace(frame) == "" {
			continue
		}
		events = append(events, parseFrame(frame))
	}
	return events
}

func parseFrame(frame string) DecodedEvent {
	ev := DecodedEvent{Type: DefaultType}
	var data string
	for _, line := range strings.Split(frame, "\n") {
		switch {
		case strings.HasPrefix(line, "event:"):
			ev.Type = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	var decoded any
	if err := json.Unmarshal([]byte(data), &decoded); err != nil {
		ev.Data = data
		return ev
	}
	ev.Data = decoded
	return ev
}
