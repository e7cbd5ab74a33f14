package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the DW TWR decoder
type Metrics struct {
	// UDP datagram metrics
	PacketsReceived prometheus.Counter
	PacketsDropped  prometheus.Counter
	QueueSize       prometheus.Gauge

	// Decode metrics
	FramesDecoded  *prometheus.CounterVec
	FramesRejected *prometheus.CounterVec
	DecodeDuration prometheus.Histogram

	// Ranging metrics
	Distance       prometheus.Histogram
	DeviceDistance *prometheus.GaugeVec

	// Device tracking metrics
	ActiveDevices  prometheus.Gauge
	SequenceGaps   prometheus.Counter
	DevicesExpired prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "twr_packets_received_total",
			Help: "Total number of UDP datagrams received",
		}),
		PacketsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "twr_packets_dropped_total",
			Help: "Total number of datagrams dropped because the processing queue was full",
		}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "twr_packet_queue_size",
			Help: "Current number of datagrams in processing queue",
		}),

		FramesDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "twr_frames_decoded_total",
			Help: "Total number of accepted frames by message type",
		}, []string{"message_type"}),
		FramesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "twr_frames_rejected_total",
			Help: "Total number of rejected datagrams by reason",
		}, []string{"reason"}),
		DecodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "twr_decode_duration_seconds",
			Help:    "Time spent decoding a single datagram",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 12), // 1us to ~2ms
		}),

		Distance: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "twr_distance_meters",
			Help:    "Distance estimates carried by report messages",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 10cm to ~200m
		}),
		DeviceDistance: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "twr_device_last_distance_meters",
			Help: "Most recent distance estimate per device",
		}, []string{"device_id"}),

		ActiveDevices: factory.NewGauge(prometheus.GaugeOpts{
			Name: "twr_active_devices",
			Help: "Current number of tracked devices",
		}),
		SequenceGaps: factory.NewCounter(prometheus.CounterOpts{
			Name: "twr_sequence_gaps_total",
			Help: "Total number of envelope sequence discontinuities",
		}),
		DevicesExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "twr_devices_expired_total",
			Help: "Total number of devices removed after the idle timeout",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "twr_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "twr_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "twr_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived() {
	m.PacketsReceived.Inc()
}

// RecordPacketDropped increments the dropped packets counter
func (m *Metrics) RecordPacketDropped() {
	m.PacketsDropped.Inc()
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// RecordFrameDecoded records an accepted frame and how long it took to decode
func (m *Metrics) RecordFrameDecoded(messageType string, durationSeconds float64) {
	m.FramesDecoded.WithLabelValues(messageType).Inc()
	m.DecodeDuration.Observe(durationSeconds)
}

// RecordFrameRejected records a rejected datagram
func (m *Metrics) RecordFrameRejected(reason string) {
	m.FramesRejected.WithLabelValues(reason).Inc()
}

// RecordDistance records a distance estimate for a device
func (m *Metrics) RecordDistance(deviceID string, meters float64) {
	m.Distance.Observe(meters)
	m.DeviceDistance.WithLabelValues(deviceID).Set(meters)
}

// SetActiveDevices sets the current number of tracked devices
func (m *Metrics) SetActiveDevices(count int) {
	m.ActiveDevices.Set(float64(count))
}

// RecordSequenceGap increments the sequence gap counter
func (m *Metrics) RecordSequenceGap() {
	m.SequenceGaps.Inc()
}

// RecordDeviceExpired records a device removed by the idle timeout
func (m *Metrics) RecordDeviceExpired(deviceID string) {
	m.DevicesExpired.Inc()
	m.DeviceDistance.DeleteLabelValues(deviceID)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
