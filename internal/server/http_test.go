package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/AKD-MA/twr-wireshark/internal/config"
	"github.com/AKD-MA/twr-wireshark/internal/metrics"
	"github.com/AKD-MA/twr-wireshark/internal/protocol"
	"github.com/AKD-MA/twr-wireshark/internal/tracker"
)

type testHTTP struct {
	server  *HTTPServer
	devices *tracker.Manager
	metrics *metrics.Metrics
}

func newTestHTTP(t *testing.T) *testHTTP {
	t.Helper()

	cfg := config.Default()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	devices := createTestTracker(t)
	udp := NewUDPServer(&cfg.Server, newTestLogger(), devices, m, nil)

	h := NewHTTPServer(HTTPServerConfig{Address: "127.0.0.1", Port: 0}, newTestLogger(), &cfg, devices, udp, m, reg)
	return &testHTTP{server: h, devices: devices, metrics: m}
}

func (th *testHTTP) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	th.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("Invalid JSON response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthAndStats(t *testing.T) {
	th := newTestHTTP(t)

	rec := th.do(http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var health map[string]any
	decodeBody(t, rec, &health)
	if health["status"] != "healthy" {
		t.Errorf("Expected healthy, got %v", health["status"])
	}

	rec = th.do(http.MethodGet, "/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var stats struct {
		UDP ServerStatistics `json:"udp"`
	}
	decodeBody(t, rec, &stats)
	if stats.UDP.QueueCapacity != 1000 {
		t.Errorf("Expected queue capacity 1000, got %d", stats.UDP.QueueCapacity)
	}

	if got := testutil.ToFloat64(th.metrics.HTTPRequests.WithLabelValues("GET", "/health", "200")); got != 1 {
		t.Errorf("Expected 1 recorded /health request, got %v", got)
	}
}

func TestDevicesEndpoints(t *testing.T) {
	th := newTestHTTP(t)

	f, err := protocol.Decode(createTestFrame(0x0A0B, 3, createReport(1)...))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	th.devices.Observe(f, time.Now())

	rec := th.do(http.MethodGet, "/devices", "")
	var list struct {
		Total   int                  `json:"total_devices"`
		Devices []tracker.DeviceInfo `json:"devices"`
	}
	decodeBody(t, rec, &list)
	if list.Total != 1 || len(list.Devices) != 1 || list.Devices[0].DeviceID != "0x0a0b" {
		t.Errorf("Unexpected device list: %+v", list)
	}

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"hex id", "/devices/0x0A0B", http.StatusOK},
		{"decimal id", "/devices/2571", http.StatusOK},
		{"unknown device", "/devices/0x0001", http.StatusNotFound},
		{"invalid id", "/devices/abc", http.StatusBadRequest},
		{"id out of range", "/devices/70000", http.StatusBadRequest},
		{"missing id", "/devices/", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := th.do(http.MethodGet, tt.path, "")
			if rec.Code != tt.status {
				t.Errorf("Expected %d, got %d (%s)", tt.status, rec.Code, rec.Body.String())
			}
			if tt.status == http.StatusOK {
				var info tracker.DeviceInfo
				decodeBody(t, rec, &info)
				if info.LastRange == nil || info.LastRange.Meters != 0.0012 {
					t.Errorf("Expected last range 0.0012 m, got %+v", info.LastRange)
				}
			}
		})
	}

	if got := testutil.ToFloat64(th.metrics.HTTPErrors.WithLabelValues("GET", "/devices/{id}", "client_error")); got != 4 {
		t.Errorf("Expected 4 client errors, got %v", got)
	}
}

func TestDecodeEndpoint(t *testing.T) {
	th := newTestHTTP(t)

	tests := []struct {
		name     string
		body     string
		status   int
		accepted bool
		summary  string
	}{
		{
			name:     "poll",
			body:     hex.EncodeToString(createTestFrame(1, 1, 0x21, 0x34, 0x12)),
			status:   http.StatusOK,
			accepted: true,
			summary:  "Poll Message",
		},
		{
			name:     "report with whitespace and prefix",
			body:     "0x" + hex.EncodeToString(createTestFrame(1, 1, createReport(1)...)) + "\n",
			status:   http.StatusOK,
			accepted: true,
			summary:  "Report Message",
		},
		{
			name:     "unknown type",
			body:     hex.EncodeToString(createTestFrame(1, 1, 0xC3)),
			status:   http.StatusOK,
			accepted: true,
			summary:  "DW TWR Unknown (Type: 0xC3)",
		},
		{
			name:   "too short",
			body:   "0102",
			status: http.StatusOK,
		},
		{
			name:   "not hex",
			body:   "zz",
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := th.do(http.MethodPost, "/decode", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("Expected %d, got %d (%s)", tt.status, rec.Code, rec.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}

			var resp struct {
				Accepted bool   `json:"accepted"`
				Reason   string `json:"reason"`
				Summary  string `json:"summary"`
			}
			decodeBody(t, rec, &resp)
			if resp.Accepted != tt.accepted {
				t.Errorf("Expected accepted=%v, got %+v", tt.accepted, resp)
			}
			if resp.Summary != tt.summary {
				t.Errorf("Expected summary %q, got %q", tt.summary, resp.Summary)
			}
			if !tt.accepted && !strings.Contains(resp.Reason, "frame too short") {
				t.Errorf("Expected rejection reason, got %q", resp.Reason)
			}
		})
	}

	if rec := th.do(http.MethodGet, "/decode", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET /decode, got %d", rec.Code)
	}
}

func TestMetricsAndRoot(t *testing.T) {
	th := newTestHTTP(t)
	th.metrics.RecordFrameDecoded("Poll", 0.000001)

	rec := th.do(http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `twr_frames_decoded_total{message_type="Poll"} 1`) {
		t.Errorf("Expected decoded frame counter in metrics output")
	}

	rec = th.do(http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if rec := th.do(http.MethodGet, "/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
	if rec := th.do(http.MethodPost, "/config", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}

	rec = th.do(http.MethodGet, "/config", "")
	var cfg map[string]map[string]any
	decodeBody(t, rec, &cfg)
	if cfg["server"]["udp_port"] != float64(17754) {
		t.Errorf("Expected udp_port 17754, got %v", cfg["server"]["udp_port"])
	}
}

func TestHTTPServerStartAndStop(t *testing.T) {
	cfg := config.Default()
	devices := createTestTracker(t)
	udp := NewUDPServer(&cfg.Server, newTestLogger(), devices, nil, nil)

	h := NewHTTPServer(HTTPServerConfig{Address: "127.0.0.1", Port: 0}, newTestLogger(), &cfg, devices, udp, nil, prometheus.NewRegistry())
	if err := h.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	resp, err := http.Get("http://" + h.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	// A second server on the same port must fail at Start
	port := h.Addr().(*net.TCPAddr).Port
	busy := NewHTTPServer(HTTPServerConfig{Address: "127.0.0.1", Port: port}, newTestLogger(), &cfg, devices, udp, nil, prometheus.NewRegistry())
	if err := busy.Start(); err == nil {
		t.Errorf("Expected Start to fail on a port in use")
		busy.Stop(context.Background())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	select {
	case err, ok := <-h.Errors():
		if ok {
			t.Errorf("Expected no serve error after Stop, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Errors channel was not closed after Stop")
	}
}
