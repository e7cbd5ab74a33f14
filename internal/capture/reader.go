package capture

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/AKD-MA/twr-wireshark/internal/protocol"
)

// pcapng section header block type, identical in both byte orders
const pcapngMagic = 0x0A0D0D0A

// Record is one UDP datagram from the capture and its decode outcome
type Record struct {
	Timestamp   time.Time
	Source      string
	Destination string
	Payload     []byte
	Frame       *protocol.Frame // nil when Err is set
	Err         error
}

// Stats counts what a reader has seen so far
type Stats struct {
	Packets  uint64 `json:"packets"`
	Matched  uint64 `json:"matched"`
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
}

type packetSource interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// Reader iterates DW TWR datagrams in a capture stream
type Reader struct {
	source *gopacket.PacketSource
	port   layers.UDPPort
	closer io.Closer
	stats  Stats
}

// Open opens a pcap or pcapng file and filters on the given UDP port
func Open(path string, port int) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture %s: %w", path, err)
	}

	r, err := NewReader(f, port)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("capture %s: %w", path, err)
	}
	r.closer = f

	return r, nil
}

// NewReader wraps a capture stream; the format is detected from its magic number
func NewReader(r io.Reader, port int) (*Reader, error) {
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("udp port must be between 1 and 65535, got %d", port)
	}

	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}

	var src packetSource
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		src, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		src, err = pcapgo.NewReader(br)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse capture header: %w", err)
	}

	ps := gopacket.NewPacketSource(src, src.LinkType())
	ps.DecodeOptions.Lazy = true

	return &Reader{
		source: ps,
		port:   layers.UDPPort(port),
	}, nil
}

// Next returns the next datagram on the filtered port, or io.EOF
func (r *Reader) Next() (*Record, error) {
	for {
		packet, err := r.source.NextPacket()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			// Truncated trailing records end the capture like EOF does
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read packet: %w", err)
		}
		r.stats.Packets++

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp := udpLayer.(*layers.UDP)
		if udp.SrcPort != r.port && udp.DstPort != r.port {
			continue
		}
		r.stats.Matched++

		rec := &Record{
			Timestamp: packet.Metadata().Timestamp,
			Payload:   udp.Payload,
		}
		if nl := packet.NetworkLayer(); nl != nil {
			flow := nl.NetworkFlow()
			rec.Source = net.JoinHostPort(flow.Src().String(), strconv.Itoa(int(udp.SrcPort)))
			rec.Destination = net.JoinHostPort(flow.Dst().String(), strconv.Itoa(int(udp.DstPort)))
		}

		rec.Frame, rec.Err = protocol.Decode(udp.Payload)
		if rec.Err != nil {
			r.stats.Rejected++
		} else {
			r.stats.Accepted++
		}

		return rec, nil
	}
}

// Replay calls fn for every matching datagram until the capture ends,
// ctx is cancelled or fn returns an error
func (r *Reader) Replay(ctx context.Context, fn func(*Record) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if err := fn(rec); err != nil {
			return err
		}
	}
}

// Stats returns the reader's counters
func (r *Reader) Stats() Stats {
	return r.stats
}

// Close releases the underlying file, if the reader opened one
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
