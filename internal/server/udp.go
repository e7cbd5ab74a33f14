package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/AKD-MA/twr-wireshark/internal/config"
	"github.com/AKD-MA/twr-wireshark/internal/metrics"
	"github.com/AKD-MA/twr-wireshark/internal/protocol"
	"github.com/AKD-MA/twr-wireshark/internal/sink"
	"github.com/AKD-MA/twr-wireshark/internal/tracker"
)

// UDPServer receives DW TWR datagrams and decodes them on a worker pool
type UDPServer struct {
	conn    *net.UDPConn
	config  *config.ServerConfig
	logger  *slog.Logger
	devices *tracker.Manager
	metrics *metrics.Metrics
	output  *sink.Writer

	// Concurrency management
	ctx       context.Context
	cancel    context.CancelFunc
	receiveWG sync.WaitGroup
	workerWG  sync.WaitGroup
	stopOnce  sync.Once

	// Packet processing
	packetChan chan *incomingPacket

	// Counters
	packetsReceived  uint64
	packetsProcessed uint64
	packetsDropped   uint64
	parseErrors      uint64
	unknownMessages  uint64
	mu               sync.RWMutex
}

// incomingPacket represents a received UDP datagram with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// NewUDPServer creates a new UDP server instance; output may be nil
func NewUDPServer(cfg *config.ServerConfig, logger *slog.Logger, devices *tracker.Manager,
	m *metrics.Metrics, output *sink.Writer) *UDPServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &UDPServer{
		config:     cfg,
		logger:     logger,
		devices:    devices,
		metrics:    m,
		output:     output,
		ctx:        ctx,
		cancel:     cancel,
		packetChan: make(chan *incomingPacket, cfg.QueueSize),
	}
}

// Start begins listening for UDP datagrams
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp", s.config.Address())
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("UDP server started",
		slog.String("address", s.conn.LocalAddr().String()),
		slog.Int("buffer_size", s.config.BufferSize),
		slog.Int("workers", s.config.Workers),
	)

	for i := 0; i < s.config.Workers; i++ {
		s.workerWG.Add(1)
		go s.packetProcessor(i)
	}

	s.receiveWG.Add(1)
	go s.receiveLoop()

	return nil
}

// LocalAddr returns the bound address, or nil before Start
func (s *UDPServer) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stop gracefully stops the UDP server, draining queued datagrams.
// Calls after the first are no-ops.
func (s *UDPServer) Stop() error {
	s.stopOnce.Do(s.stop)
	return nil
}

func (s *UDPServer) stop() {
	s.logger.Info("Stopping UDP server...")

	s.cancel()

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	// The receive loop is the only sender; it must exit before the channel closes
	s.receiveWG.Wait()
	close(s.packetChan)
	s.workerWG.Wait()

	stats := s.GetStatistics()
	s.logger.Info("UDP server stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
	)
}

// receiveLoop is the main datagram receiving loop
func (s *UDPServer) receiveLoop() {
	defer s.receiveWG.Done()

	buffer := make([]byte, s.config.BufferSize)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("Receive loop stopping due to context cancellation")
			return
		default:
		}

		// Periodic deadline so cancellation is noticed without traffic
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		s.mu.Lock()
		s.packetsReceived++
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordPacketReceived()
		}

		// The read buffer is reused
		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		select {
		case s.packetChan <- packet:
		default:
			s.mu.Lock()
			s.packetsDropped++
			s.mu.Unlock()
			if s.metrics != nil {
				s.metrics.RecordPacketDropped()
			}

			s.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}

		if s.metrics != nil {
			s.metrics.SetQueueSize(len(s.packetChan))
		}
	}
}

// packetProcessor processes datagrams from the packet channel
func (s *UDPServer) packetProcessor(workerID int) {
	defer s.workerWG.Done()

	s.logger.Debug("Packet processor started", slog.Int("worker_id", workerID))

	for packet := range s.packetChan {
		s.handlePacket(packet, workerID)
	}

	s.logger.Debug("Packet processor stopped", slog.Int("worker_id", workerID))
}

// handlePacket decodes a single datagram and routes the result
func (s *UDPServer) handlePacket(packet *incomingPacket, workerID int) {
	start := time.Now()
	frame, err := protocol.Decode(packet.data)
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordFrameRejected(rejectReason(err))
		}

		// Rejections are expected for foreign traffic on the port
		level := slog.LevelWarn
		if protocol.IsRejection(err) {
			level = slog.LevelDebug
		}
		s.logger.Log(context.Background(), level, "Rejected datagram",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("packet_size", len(packet.data)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
		return
	}

	_, unknown := frame.Message.(*protocol.Unknown)

	s.mu.Lock()
	s.packetsProcessed++
	if unknown {
		s.unknownMessages++
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordFrameDecoded(messageTypeLabel(frame.Message), time.Since(start).Seconds())
	}

	s.processFrame(packet, frame, workerID)
}

// processFrame updates device tracking and writes the decoded record
func (s *UDPServer) processFrame(packet *incomingPacket, frame *protocol.Frame, workerID int) {
	env := frame.Envelope
	deviceID := tracker.FormatID(env.DeviceID)

	if s.devices != nil {
		obs := s.devices.Observe(frame, packet.timestamp)
		if s.metrics != nil {
			if obs.NewDevice {
				s.metrics.SetActiveDevices(s.devices.Count())
			}
			if obs.SequenceGap {
				s.metrics.RecordSequenceGap()
			}
			if obs.Range != nil {
				s.metrics.RecordDistance(deviceID, obs.Range.Meters)
			}
		}
		if obs.SequenceGap {
			s.logger.Debug("Sequence gap detected",
				slog.String("device_id", deviceID),
				slog.Uint64("sequence", uint64(env.Sequence)),
			)
		}
	}

	if s.output != nil {
		if err := s.output.Write(packet.timestamp, packet.remoteAddr.String(), frame, packet.data); err != nil {
			s.logger.Error("Failed to write decoded frame",
				slog.String("device_id", deviceID),
				slog.String("error", err.Error()),
				slog.Int("worker_id", workerID),
			)
		}
	}

	attrs := []any{
		slog.String("device_id", deviceID),
		slog.Uint64("sequence", uint64(env.Sequence)),
		slog.String("summary", frame.Summary()),
		slog.Int("worker_id", workerID),
	}
	if report, ok := frame.Message.(*protocol.Report); ok {
		attrs = append(attrs, slog.Float64("distance_m", report.TimeOfFlight.Meters))
	}
	s.logger.Debug("Frame decoded", attrs...)
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	stats := ServerStatistics{
		PacketsReceived:  s.packetsReceived,
		PacketsProcessed: s.packetsProcessed,
		PacketsDropped:   s.packetsDropped,
		ParseErrors:      s.parseErrors,
		UnknownMessages:  s.unknownMessages,
		QueueSize:        uint64(len(s.packetChan)),
		QueueCapacity:    uint64(cap(s.packetChan)),
	}
	s.mu.RUnlock()

	if s.devices != nil {
		stats.ActiveDevices = uint64(s.devices.Count())
	}
	return stats
}

// ServerStatistics represents server performance metrics
type ServerStatistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	ParseErrors      uint64 `json:"parse_errors"`
	UnknownMessages  uint64 `json:"unknown_messages"`
	ActiveDevices    uint64 `json:"active_devices"`
	QueueSize        uint64 `json:"queue_size"`
	QueueCapacity    uint64 `json:"queue_capacity"`
}

// rejectReason maps a decode error to a metric label
func rejectReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrFrameTooShort):
		return "frame_too_short"
	case errors.Is(err, protocol.ErrPayloadEmpty):
		return "payload_empty"
	default:
		return "malformed"
	}
}

// messageTypeLabel keeps unknown discriminators out of metric label values
func messageTypeLabel(msg protocol.Message) string {
	if _, ok := msg.(*protocol.Unknown); ok {
		return "Unknown"
	}
	return msg.Type().String()
}
