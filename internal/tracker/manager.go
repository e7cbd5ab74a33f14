package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AKD-MA/twr-wireshark/internal/protocol"
	"github.com/AKD-MA/twr-wireshark/internal/ranging"
)

// Device is the tracked state of one radio, keyed by envelope device id
type Device struct {
	ID              uint16
	Version         uint8
	ChannelID       uint8
	LinkSource      uint16
	LinkDestination uint16
	FirstSeen       time.Time
	LastSeen        time.Time

	// Sequence tracking
	LastSequence uint32
	SequenceGaps uint64
	Duplicates   uint64

	// Message accounting
	Frames        uint64
	MessageCounts map[string]uint64

	// Last ranging result
	LastRange   *ranging.Estimate
	LastRangeAt time.Time

	mu sync.RWMutex
}

// Config contains configuration for the device manager
type Config struct {
	Timeout         time.Duration
	CleanupInterval time.Duration

	// OnExpire is called for every device removed by the idle timeout
	OnExpire func(DeviceInfo)
}

// Observation describes what a single frame changed
type Observation struct {
	DeviceID    uint16
	NewDevice   bool
	SequenceGap bool
	Duplicate   bool
	Range       *ranging.Estimate
}

// Manager manages all tracked devices
type Manager struct {
	devices map[uint16]*Device
	mu      sync.RWMutex
	logger  *slog.Logger
	config  Config

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a device manager and starts its cleanup routine
func NewManager(logger *slog.Logger, config Config) (*Manager, error) {
	if config.Timeout <= 0 {
		return nil, fmt.Errorf("device timeout must be positive, got %v", config.Timeout)
	}
	if config.CleanupInterval <= 0 {
		return nil, fmt.Errorf("cleanup interval must be positive, got %v", config.CleanupInterval)
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		devices: make(map[uint16]*Device),
		logger:  logger,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		cleanup: make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr, nil
}

// Observe folds a decoded frame received at the given time into the device table
func (m *Manager) Observe(f *protocol.Frame, at time.Time) Observation {
	env := f.Envelope
	obs := Observation{DeviceID: env.DeviceID}

	m.mu.Lock()
	device, exists := m.devices[env.DeviceID]
	if !exists {
		device = &Device{
			ID:            env.DeviceID,
			FirstSeen:     at,
			LastSeen:      at,
			LastSequence:  env.Sequence,
			MessageCounts: make(map[string]uint64),
		}
		m.devices[env.DeviceID] = device
		obs.NewDevice = true
	}
	m.mu.Unlock()

	device.mu.Lock()
	defer device.mu.Unlock()

	if !obs.NewDevice {
		switch env.Sequence {
		case device.LastSequence:
			device.Duplicates++
			obs.Duplicate = true
		case device.LastSequence + 1:
		default:
			device.SequenceGaps++
			obs.SequenceGap = true
		}
	}

	device.Version = env.Version
	device.ChannelID = env.ChannelID
	device.LinkSource = env.LinkSource
	device.LinkDestination = env.LinkDestination
	device.LastSequence = env.Sequence
	if at.After(device.LastSeen) {
		device.LastSeen = at
	}
	device.Frames++
	device.MessageCounts[messageKey(f.Message)]++

	if report, ok := f.Message.(*protocol.Report); ok {
		est := report.TimeOfFlight
		device.LastRange = &est
		device.LastRangeAt = at
		obs.Range = &est
	}

	if obs.NewDevice {
		m.logger.Info("Tracking new device",
			slog.String("device_id", FormatID(env.DeviceID)),
			slog.Int("channel_id", int(env.ChannelID)),
			slog.Uint64("sequence", uint64(env.Sequence)),
		)
	}

	return obs
}

// Get retrieves a snapshot of a tracked device
func (m *Manager) Get(id uint16) (DeviceInfo, bool) {
	m.mu.RLock()
	device, exists := m.devices[id]
	m.mu.RUnlock()

	if !exists {
		return DeviceInfo{}, false
	}
	return device.Info(), true
}

// All returns snapshots of every tracked device ordered by id
func (m *Manager) All() []DeviceInfo {
	m.mu.RLock()
	devices := make([]*Device, 0, len(m.devices))
	for _, device := range m.devices {
		devices = append(devices, device)
	}
	m.mu.RUnlock()

	infos := make([]DeviceInfo, 0, len(devices))
	for _, device := range devices {
		infos = append(infos, device.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	return infos
}

// Count returns the number of tracked devices
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}

// Remove stops tracking a device
func (m *Manager) Remove(id uint16) bool {
	m.mu.Lock()
	device, exists := m.devices[id]
	if exists {
		delete(m.devices, id)
	}
	m.mu.Unlock()

	if !exists {
		return false
	}

	info := device.Info()
	m.logger.Info("Device removed",
		slog.String("device_id", info.DeviceID),
		slog.Uint64("frames", info.Frames),
		slog.Uint64("sequence_gaps", info.SequenceGaps),
		slog.Duration("tracked_for", info.LastSeen.Sub(info.FirstSeen)),
	)

	return true
}

// Stop stops the cleanup routine
func (m *Manager) Stop() {
	m.logger.Info("Stopping device tracker...")

	m.cancel()
	<-m.cleanup

	m.logger.Info("Device tracker stopped",
		slog.Int("remaining_devices", m.Count()),
	)
}

// startCleanupRoutine runs in a separate goroutine to drop idle devices
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	m.logger.Debug("Device cleanup routine started",
		slog.Duration("timeout", m.config.Timeout),
		slog.Duration("check_interval", m.config.CleanupInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			m.cleanupExpired(now)
		}
	}
}

// cleanupExpired removes devices idle for longer than the timeout, returning how many
func (m *Manager) cleanupExpired(now time.Time) int {
	expired := make([]*Device, 0)

	m.mu.Lock()
	for id, device := range m.devices {
		device.mu.RLock()
		lastSeen := device.LastSeen
		device.mu.RUnlock()

		if now.Sub(lastSeen) > m.config.Timeout {
			expired = append(expired, device)
			delete(m.devices, id)
		}
	}
	m.mu.Unlock()

	if len(expired) == 0 {
		return 0
	}

	m.logger.Info("Cleaning up idle devices",
		slog.Int("expired_count", len(expired)),
	)

	for _, device := range expired {
		info := device.Info()
		m.logger.Debug("Device expired",
			slog.String("device_id", info.DeviceID),
			slog.Time("last_seen", info.LastSeen),
		)
		if m.config.OnExpire != nil {
			m.config.OnExpire(info)
		}
	}

	return len(expired)
}

// DeviceInfo is a point-in-time copy of a device for monitoring
type DeviceInfo struct {
	ID              uint16            `json:"-"`
	DeviceID        string            `json:"device_id"`
	Version         uint8             `json:"version"`
	ChannelID       uint8             `json:"channel_id"`
	LinkSource      string            `json:"link_source"`
	LinkDestination string            `json:"link_destination"`
	FirstSeen       time.Time         `json:"first_seen"`
	LastSeen        time.Time         `json:"last_seen"`
	LastSequence    uint32            `json:"last_sequence"`
	SequenceGaps    uint64            `json:"sequence_gaps"`
	Duplicates      uint64            `json:"duplicates"`
	Frames          uint64            `json:"frames"`
	MessageCounts   map[string]uint64 `json:"message_counts"`
	LastRange       *ranging.Estimate `json:"last_range,omitempty"`
	LastRangeAt     *time.Time        `json:"last_range_at,omitempty"`
}

// Info returns a snapshot of the device
func (d *Device) Info() DeviceInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	counts := make(map[string]uint64, len(d.MessageCounts))
	for k, v := range d.MessageCounts {
		counts[k] = v
	}

	info := DeviceInfo{
		ID:              d.ID,
		DeviceID:        FormatID(d.ID),
		Version:         d.Version,
		ChannelID:       d.ChannelID,
		LinkSource:      FormatID(d.LinkSource),
		LinkDestination: FormatID(d.LinkDestination),
		FirstSeen:       d.FirstSeen,
		LastSeen:        d.LastSeen,
		LastSequence:    d.LastSequence,
		SequenceGaps:    d.SequenceGaps,
		Duplicates:      d.Duplicates,
		Frames:          d.Frames,
		MessageCounts:   counts,
	}
	if d.LastRange != nil {
		est := *d.LastRange
		at := d.LastRangeAt
		info.LastRange = &est
		info.LastRangeAt = &at
	}

	return info
}

// messageKey names a message for per-device counts; truncated known types
// count as unknown
func messageKey(msg protocol.Message) string {
	if u, ok := msg.(*protocol.Unknown); ok {
		return fmt.Sprintf("Unknown(0x%02X)", u.RawType)
	}
	return msg.Type().String()
}

// FormatID renders a 16-bit identifier the way captures display it
func FormatID(id uint16) string {
	return fmt.Sprintf("0x%04x", id)
}
