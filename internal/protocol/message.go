package protocol

import (
	"errors"
	"fmt"

	"github.com/AKD-MA/twr-wireshark/internal/frame"
	"github.com/AKD-MA/twr-wireshark/internal/ranging"
)

// MessageType is the discriminator byte at the start of the TWR view
type MessageType uint8

// Message types
const (
	MessageTypeResponse MessageType = 0x10
	MessageTypePoll     MessageType = 0x21
	MessageTypeFinal    MessageType = 0x29
	MessageTypeReport   MessageType = 0x2A
)

// Minimum TWR view length per message type
const (
	PollMinLength     = 3
	ResponseMinLength = 4
	FinalMinLength    = 12
	ReportMinLength   = 21
)

// Field offsets relative to the TWR view. Final and Report timestamps
// start at different bases; each variant owns its own table.
const (
	pollIDOffset   = 0
	pollDataOffset = 1 // u16 LE

	responseIDOffset       = 0
	responseActivityOffset = 1
	responseParamOffset    = 2 // u16 LE

	finalPollTSOffset     = 1 // u40 LE
	finalResponseTSOffset = 6
	finalFinalTSOffset    = 11

	reportTOFOffset        = 1 // u40 LE, feeds the time-of-flight estimate
	reportPollTSOffset     = 6
	reportResponseTSOffset = 11
	reportFinalTSOffset    = 16
)

// Message is one decoded TWR message. The concrete type is one of
// *Poll, *Response, *Final, *Report or *Unknown.
type Message interface {
	Type() MessageType
	Summary() string
}

// Poll opens a ranging exchange
type Poll struct {
	ID   uint8  `json:"id"`
	Data uint16 `json:"data"`
}

// Response answers a poll
type Response struct {
	ID            uint8  `json:"id"`
	Activity      uint8  `json:"activity"`
	ActivityParam uint16 `json:"activity_param"`
}

// Final carries the initiator's three timestamps
type Final struct {
	PollTimestamp     uint64 `json:"poll_ts"`
	ResponseTimestamp uint64 `json:"response_ts"`
	FinalTimestamp    uint64 `json:"final_ts"`
}

// Report carries the exchange timestamps and the resulting range estimate
type Report struct {
	PollTimestamp     uint64           `json:"poll_ts"`
	ResponseTimestamp uint64           `json:"response_ts"`
	FinalTimestamp    uint64           `json:"final_ts"`
	TimeOfFlight      ranging.Estimate `json:"time_of_flight"`
}

// Unknown is a recognized frame whose message could not be decoded.
// Truncated is set when the type is known but the view is too short for it.
type Unknown struct {
	RawType   uint8 `json:"raw_type"`
	Truncated bool  `json:"truncated,omitempty"`
	Length    int   `json:"length"`
}

type messageLayout struct {
	name   string
	minLen int
	decode func(r frame.Reader) (Message, error)
}

var messageLayouts = map[MessageType]messageLayout{
	MessageTypePoll:     {name: "Poll", minLen: PollMinLength, decode: decodePoll},
	MessageTypeResponse: {name: "Response", minLen: ResponseMinLength, decode: decodeResponse},
	MessageTypeFinal:    {name: "Final", minLen: FinalMinLength, decode: decodeFinal},
	MessageTypeReport:   {name: "Report", minLen: ReportMinLength, decode: decodeReport},
}

// DecodeMessage decodes the TWR view that follows the envelope
func DecodeMessage(twr []byte) (Message, error) {
	r := frame.New(twr)
	if r.Len() == 0 {
		return nil, ErrPayloadEmpty
	}

	raw := twr[0]
	layout, ok := messageLayouts[MessageType(raw)]
	if !ok {
		return &Unknown{RawType: raw, Length: r.Len()}, nil
	}
	if r.Len() < layout.minLen {
		return &Unknown{RawType: raw, Truncated: true, Length: r.Len()}, nil
	}

	msg, err := layout.decode(r)
	if errors.Is(err, frame.ErrOutOfBounds) {
		// Final is gated at 12 bytes but its last timestamp ends at 16
		return &Unknown{RawType: raw, Truncated: true, Length: r.Len()}, nil
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func decodePoll(r frame.Reader) (Message, error) {
	var (
		m   Poll
		err error
	)
	if m.ID, err = r.Uint8(pollIDOffset); err != nil {
		return nil, err
	}
	if m.Data, err = r.Uint16(pollDataOffset, frame.LittleEndian); err != nil {
		return nil, err
	}
	return &m, nil
}

func decodeResponse(r frame.Reader) (Message, error) {
	var (
		m   Response
		err error
	)
	if m.ID, err = r.Uint8(responseIDOffset); err != nil {
		return nil, err
	}
	if m.Activity, err = r.Uint8(responseActivityOffset); err != nil {
		return nil, err
	}
	if m.ActivityParam, err = r.Uint16(responseParamOffset, frame.LittleEndian); err != nil {
		return nil, err
	}
	return &m, nil
}

func decodeFinal(r frame.Reader) (Message, error) {
	poll, resp, final, err := readTimestamps(r, finalPollTSOffset, finalResponseTSOffset, finalFinalTSOffset)
	if err != nil {
		return nil, err
	}
	return &Final{PollTimestamp: poll, ResponseTimestamp: resp, FinalTimestamp: final}, nil
}

func decodeReport(r frame.Reader) (Message, error) {
	poll, resp, final, err := readTimestamps(r, reportPollTSOffset, reportResponseTSOffset, reportFinalTSOffset)
	if err != nil {
		return nil, err
	}

	b, err := r.Slice(reportTOFOffset, ranging.TimestampSize)
	if err != nil {
		return nil, err
	}
	raw, err := ranging.Raw40(b)
	if err != nil {
		return nil, err
	}

	return &Report{
		PollTimestamp:     poll,
		ResponseTimestamp: resp,
		FinalTimestamp:    final,
		TimeOfFlight:      ranging.TimeOfFlight(raw),
	}, nil
}

func readTimestamps(r frame.Reader, pollOff, respOff, finalOff int) (poll, resp, final uint64, err error) {
	if poll, err = r.Uint40(pollOff, frame.LittleEndian); err != nil {
		return
	}
	if resp, err = r.Uint40(respOff, frame.LittleEndian); err != nil {
		return
	}
	final, err = r.Uint40(finalOff, frame.LittleEndian)
	return
}

// String returns the message type name
func (t MessageType) String() string {
	if layout, ok := messageLayouts[t]; ok {
		return layout.name
	}
	return fmt.Sprintf("Unknown(0x%02X)", uint8(t))
}

// IsKnown reports whether t has a decoder
func (t MessageType) IsKnown() bool {
	_, ok := messageLayouts[t]
	return ok
}

func (m *Poll) Type() MessageType     { return MessageTypePoll }
func (m *Response) Type() MessageType { return MessageTypeResponse }
func (m *Final) Type() MessageType    { return MessageTypeFinal }
func (m *Report) Type() MessageType   { return MessageTypeReport }
func (m *Unknown) Type() MessageType  { return MessageType(m.RawType) }

func (m *Poll) Summary() string     { return "Poll Message" }
func (m *Response) Summary() string { return "Response Message" }
func (m *Final) Summary() string    { return "Final Message" }
func (m *Report) Summary() string   { return "Report Message" }

func (m *Unknown) Summary() string {
	return fmt.Sprintf("DW TWR Unknown (Type: 0x%02X)", m.RawType)
}
