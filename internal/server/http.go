package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AKD-MA/twr-wireshark/internal/config"
	"github.com/AKD-MA/twr-wireshark/internal/metrics"
	"github.com/AKD-MA/twr-wireshark/internal/protocol"
	"github.com/AKD-MA/twr-wireshark/internal/tracker"
)

const (
	serviceName    = "twrd"
	serviceVersion = "1.0.0"

	// maxDecodeBody bounds POST /decode request bodies (hex text)
	maxDecodeBody = 64 * 1024
)

// HTTPServer provides HTTP API endpoints for monitoring
type HTTPServer struct {
	server    *http.Server
	handler   http.Handler
	listener  net.Listener
	serveErr  chan error
	logger    *slog.Logger
	config    *config.Config
	devices   *tracker.Manager
	udpServer *UDPServer
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer

	startTime time.Time
}

// HTTPServerConfig contains HTTP server configuration
type HTTPServerConfig struct {
	Port    int
	Address string
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg HTTPServerConfig, logger *slog.Logger, appConfig *config.Config,
	devices *tracker.Manager, udpServer *UDPServer, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		devices:   devices,
		udpServer: udpServer,
		metrics:   m,
		gatherer:  gatherer,
		serveErr:  make(chan error, 1),
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler, for embedding and tests
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/devices", h.withMetrics("/devices", h.handleDevices))
	mux.HandleFunc("/devices/", h.withMetrics("/devices/{id}", h.handleDeviceDetail))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/decode", h.withMetrics("/decode", h.handleDecode))

	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		if h.metrics == nil {
			return
		}

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start binds the listener and serves in the background. Bind failures
// are returned; later serve failures are delivered on Errors.
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}
	h.listener = ln

	h.logger.Info("Starting HTTP API server",
		slog.String("address", ln.Addr().String()),
	)

	go func() {
		defer close(h.serveErr)
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
			h.serveErr <- err
		}
	}()

	return nil
}

// Errors receives the serve error, if any; it is closed when serving ends
func (h *HTTPServer) Errors() <-chan error {
	return h.serveErr
}

// Addr returns the bound address, or nil before Start
func (h *HTTPServer) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to encode response", slog.String("error", err.Error()))
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	udpStats := h.udpServer.GetStatistics()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]interface{}{
			"udp_server": map[string]interface{}{
				"status":            "running",
				"packets_received":  udpStats.PacketsReceived,
				"packets_processed": udpStats.PacketsProcessed,
				"parse_errors":      udpStats.ParseErrors,
				"queue_size":        udpStats.QueueSize,
			},
			"tracker": map[string]interface{}{
				"status":         "running",
				"active_devices": h.devices.Count(),
			},
		},
	}

	h.writeJSON(w, http.StatusOK, health)
}

// handleDevices implements the /devices endpoint
func (h *HTTPServer) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	devices := h.devices.All()

	response := map[string]interface{}{
		"total_devices": len(devices),
		"timestamp":     time.Now().UTC(),
		"devices":       devices,
	}

	h.writeJSON(w, http.StatusOK, response)
}

// handleDeviceDetail implements the /devices/{device_id} endpoint.
// Ids are accepted in decimal or 0x-prefixed hex.
func (h *HTTPServer) handleDeviceDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/devices/")
	if idStr == "" {
		http.Error(w, "Device ID required", http.StatusBadRequest)
		return
	}

	id, err := strconv.ParseUint(idStr, 0, 16)
	if err != nil {
		http.Error(w, "Invalid device ID", http.StatusBadRequest)
		return
	}

	info, exists := h.devices.Get(uint16(id))
	if !exists {
		http.Error(w, "Device not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, info)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := map[string]interface{}{
		"server": map[string]interface{}{
			"udp_port":     h.config.Server.UDPPort,
			"bind_address": h.config.Server.BindAddress,
			"buffer_size":  h.config.Server.BufferSize,
			"workers":      h.config.Server.Workers,
			"queue_size":   h.config.Server.QueueSize,
		},
		"tracker": map[string]interface{}{
			"device_timeout":   h.config.Tracker.DeviceTimeout,
			"cleanup_interval": h.config.Tracker.CleanupInterval,
		},
		"output": map[string]interface{}{
			"enabled":         h.config.Output.Path != "",
			"include_raw":     h.config.Output.IncludeRaw,
			"include_unknown": h.config.Output.IncludeUnknown,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	h.writeJSON(w, http.StatusOK, cfg)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"udp":       h.udpServer.GetStatistics(),
		"devices": map[string]interface{}{
			"active_count": h.devices.Count(),
		},
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// DecodeResponse is the body returned by POST /decode
type DecodeResponse struct {
	Accepted    bool               `json:"accepted"`
	Reason      string             `json:"reason,omitempty"`
	Summary     string             `json:"summary,omitempty"`
	MessageType string             `json:"message_type,omitempty"`
	Envelope    *protocol.Envelope `json:"envelope,omitempty"`
	Message     protocol.Message   `json:"message,omitempty"`
}

// handleDecode implements POST /decode: the body is a hex-encoded datagram
func (h *HTTPServer) handleDecode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxDecodeBody+1))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxDecodeBody {
		http.Error(w, "Body too large", http.StatusRequestEntityTooLarge)
		return
	}

	text := strings.Join(strings.Fields(string(body)), "")
	text = strings.TrimPrefix(strings.TrimPrefix(text, "0x"), "0X")
	data, err := hex.DecodeString(text)
	if err != nil {
		http.Error(w, "Body must be hex encoded", http.StatusBadRequest)
		return
	}

	frame, err := protocol.Decode(data)
	if err != nil {
		h.writeJSON(w, http.StatusOK, DecodeResponse{Reason: err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, DecodeResponse{
		Accepted:    true,
		Summary:     frame.Summary(),
		MessageType: frame.Message.Type().String(),
		Envelope:    frame.Envelope,
		Message:     frame.Message,
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "DW TWR Decoder Service",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":             "API documentation",
			"GET /health":       "Service health check",
			"GET /devices":      "List tracked devices",
			"GET /devices/{id}": "Get detailed device information",
			"GET /config":       "Get service configuration",
			"GET /stats":        "Get service statistics",
			"POST /decode":      "Decode a hex-encoded datagram",
			"GET /metrics":      "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	h.writeJSON(w, http.StatusOK, apiDoc)
}
