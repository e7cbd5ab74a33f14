package sink

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/AKD-MA/twr-wireshark/internal/protocol"
)

// Options controls which records are written
type Options struct {
	IncludeRaw     bool
	IncludeUnknown bool
}

// Writer encodes one JSON object per decoded frame. Safe for concurrent use.
type Writer struct {
	mu   sync.Mutex
	enc  *json.Encoder
	opts Options
}

type jsonRecord struct {
	TS          string             `json:"ts"`
	Source      string             `json:"source,omitempty"`
	Summary     string             `json:"summary"`
	MessageType string             `json:"message_type"`
	Envelope    *protocol.Envelope `json:"envelope"`
	Message     protocol.Message   `json:"message"`
	PayloadHex  string             `json:"payload_hex,omitempty"`
}

// NewJSONLWriter creates a writer on w
func NewJSONLWriter(w io.Writer, opts Options) *Writer {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Writer{
		enc:  enc,
		opts: opts,
	}
}

// Write encodes one decoded frame. Unknown messages are skipped unless
// IncludeUnknown is set; raw is only emitted with IncludeRaw.
func (j *Writer) Write(at time.Time, source string, f *protocol.Frame, raw []byte) error {
	if _, unknown := f.Message.(*protocol.Unknown); unknown && !j.opts.IncludeUnknown {
		return nil
	}

	rec := jsonRecord{
		TS:          at.UTC().Format(time.RFC3339Nano),
		Source:      source,
		Summary:     f.Summary(),
		MessageType: f.Message.Type().String(),
		Envelope:    f.Envelope,
		Message:     f.Message,
	}
	if j.opts.IncludeRaw {
		rec.PayloadHex = hex.EncodeToString(raw)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}
