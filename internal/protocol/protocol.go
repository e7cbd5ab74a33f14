package protocol

import (
	"errors"
	"fmt"

	"github.com/AKD-MA/twr-wireshark/internal/frame"
)

// Protocol constants
const (
	// DefaultPort is the UDP port DW TWR frames are conventionally sent to
	DefaultPort = 17754

	// MinFrameSize is the envelope + link header size; the TWR view starts here
	MinFrameSize = 41
	TWROffset    = MinFrameSize

	// Envelope layout (absolute offsets)
	VersionOffset   = 2
	ChannelOffset   = 4
	DeviceIDOffset  = 5  // 2 bytes, big-endian
	SequenceOffset  = 17 // 4 bytes, big-endian
	LinkHeaderStart = 32

	// Link header layout (relative to LinkHeaderStart), little-endian
	LinkDestinationOffset = 5
	LinkSourceOffset      = 7
)

var (
	// ErrFrameTooShort means the datagram cannot hold the envelope
	ErrFrameTooShort = errors.New("frame too short")
	// ErrPayloadEmpty means the envelope is present but no TWR message follows it
	ErrPayloadEmpty = errors.New("twr payload empty")
)

// IsRejection reports whether err means the input is not a DW TWR frame
func IsRejection(err error) bool {
	return errors.Is(err, ErrFrameTooShort) || errors.Is(err, ErrPayloadEmpty)
}

// Envelope is the outer encapsulation header plus the link address pair
type Envelope struct {
	Version         uint8  `json:"version"`
	ChannelID       uint8  `json:"channel_id"`
	DeviceID        uint16 `json:"device_id"`
	Sequence        uint32 `json:"sequence"`
	LinkDestination uint16 `json:"link_destination"`
	LinkSource      uint16 `json:"link_source"`
}

// Frame is a fully accepted decode result
type Frame struct {
	Envelope *Envelope
	Message  Message
}

// DecodeEnvelope extracts the envelope fields from a raw frame
func DecodeEnvelope(data []byte) (*Envelope, error) {
	if len(data) < MinFrameSize {
		return nil, fmt.Errorf("%w: expected at least %d bytes, got %d", ErrFrameTooShort, MinFrameSize, len(data))
	}

	r := frame.New(data)
	link, err := r.View(LinkHeaderStart)
	if err != nil {
		return nil, err
	}

	env := &Envelope{}
	if env.Version, err = r.Uint8(VersionOffset); err != nil {
		return nil, fmt.Errorf("version: %w", err)
	}
	if env.ChannelID, err = r.Uint8(ChannelOffset); err != nil {
		return nil, fmt.Errorf("channel id: %w", err)
	}
	if env.DeviceID, err = r.Uint16(DeviceIDOffset, frame.BigEndian); err != nil {
		return nil, fmt.Errorf("device id: %w", err)
	}
	if env.Sequence, err = r.Uint32(SequenceOffset, frame.BigEndian); err != nil {
		return nil, fmt.Errorf("sequence: %w", err)
	}
	if env.LinkDestination, err = link.Uint16(LinkDestinationOffset, frame.LittleEndian); err != nil {
		return nil, fmt.Errorf("link destination: %w", err)
	}
	if env.LinkSource, err = link.Uint16(LinkSourceOffset, frame.LittleEndian); err != nil {
		return nil, fmt.Errorf("link source: %w", err)
	}

	return env, nil
}

// Decode decodes a complete datagram. A rejected input returns an error
// matching IsRejection; an unrecognized message type is still accepted.
func Decode(data []byte) (*Frame, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse envelope: %w", err)
	}

	msg, err := DecodeMessage(data[TWROffset:])
	if err != nil {
		return nil, fmt.Errorf("failed to parse twr message: %w", err)
	}

	return &Frame{Envelope: env, Message: msg}, nil
}

// Summary returns the one-line description of the frame's message
func (f *Frame) Summary() string {
	return f.Message.Summary()
}

// String returns a human-readable representation of the envelope
func (e *Envelope) String() string {
	return fmt.Sprintf("Envelope{Version:%d, Channel:%d, Device:0x%04x, Seq:%d, Dst:0x%04x, Src:0x%04x}",
		e.Version, e.ChannelID, e.DeviceID, e.Sequence, e.LinkDestination, e.LinkSource)
}
