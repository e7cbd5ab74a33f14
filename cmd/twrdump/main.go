package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AKD-MA/twr-wireshark/internal/capture"
	"github.com/AKD-MA/twr-wireshark/internal/config"
	"github.com/AKD-MA/twr-wireshark/internal/logging"
	"github.com/AKD-MA/twr-wireshark/internal/protocol"
	"github.com/AKD-MA/twr-wireshark/internal/sink"
	"github.com/AKD-MA/twr-wireshark/internal/tracker"
)

type options struct {
	port           int
	format         string
	includeRaw     bool
	includeUnknown bool
	showRejected   bool
	devices        bool
}

func main() {
	configPath := flag.String("config", "", "Optional configuration file (capture port, logging)")
	port := flag.Int("port", 0, "UDP port carrying DW TWR traffic (default from config)")
	format := flag.String("format", "text", "Output format: text or json")
	includeRaw := flag.Bool("raw", false, "Include payload hex in json output")
	includeUnknown := flag.Bool("unknown", true, "Include frames with unrecognised message types")
	showRejected := flag.Bool("rejected", false, "Print rejected datagrams in text output")
	devices := flag.Bool("devices", false, "Print a per-device summary after the replay")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] capture.pcap[ng]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Default()
	cfg.Logging.Output = "stderr"
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		cfg = *loaded
	}
	logger := logging.New(cfg.Logging)

	opts := options{
		port:           cfg.Capture.UDPPort,
		format:         *format,
		includeRaw:     *includeRaw,
		includeUnknown: *includeUnknown,
		showRejected:   *showRejected,
		devices:        *devices,
	}
	if *port != 0 {
		opts.port = *port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flag.Arg(0), opts, os.Stdout, logger); err != nil {
		logger.Error("Replay failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, path string, opts options, out io.Writer, logger *slog.Logger) error {
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unsupported format %q", opts.format)
	}

	reader, err := capture.Open(path, opts.port)
	if err != nil {
		return err
	}
	defer reader.Close()

	// Expiry is disabled for offline replay; capture timestamps are not wall time
	devices, err := tracker.NewManager(logger, tracker.Config{
		Timeout:         365 * 24 * time.Hour,
		CleanupInterval: 365 * 24 * time.Hour,
	})
	if err != nil {
		return err
	}
	defer devices.Stop()

	var jsonl *sink.Writer
	if opts.format == "json" {
		jsonl = sink.NewJSONLWriter(out, sink.Options{
			IncludeRaw:     opts.includeRaw,
			IncludeUnknown: opts.includeUnknown,
		})
	}

	err = reader.Replay(ctx, func(rec *capture.Record) error {
		if rec.Err != nil {
			logger.Debug("Datagram rejected",
				slog.String("source", rec.Source),
				slog.Int("size", len(rec.Payload)),
				slog.String("error", rec.Err.Error()),
			)
			if opts.format == "text" && opts.showRejected {
				fmt.Fprintf(out, "%s %s -> %s rejected: %v\n",
					rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.Source, rec.Destination, rec.Err)
			}
			return nil
		}

		devices.Observe(rec.Frame, rec.Timestamp)

		if jsonl != nil {
			return jsonl.Write(rec.Timestamp, rec.Source, rec.Frame, rec.Payload)
		}
		if _, unknown := rec.Frame.Message.(*protocol.Unknown); unknown && !opts.includeUnknown {
			return nil
		}
		_, err := fmt.Fprintln(out, formatText(rec))
		return err
	})
	if err != nil {
		return err
	}

	stats := reader.Stats()
	logger.Info("Replay finished",
		slog.String("path", path),
		slog.Int("port", opts.port),
		slog.Uint64("packets", stats.Packets),
		slog.Uint64("matched", stats.Matched),
		slog.Uint64("accepted", stats.Accepted),
		slog.Uint64("rejected", stats.Rejected),
	)

	if opts.devices {
		return writeDevices(out, opts.format, devices.All())
	}
	return nil
}

// formatText renders one accepted record in the dissector's tree order
func formatText(rec *capture.Record) string {
	f := rec.Frame
	line := fmt.Sprintf("%s %s -> %s dev=%s seq=%d ch=%d %s",
		rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.Source, rec.Destination,
		tracker.FormatID(f.Envelope.DeviceID), f.Envelope.Sequence, f.Envelope.ChannelID, f.Summary())

	if report, ok := f.Message.(*protocol.Report); ok {
		line += fmt.Sprintf(" tof=%.4fm", report.TimeOfFlight.Meters)
	}
	return line
}

func writeDevices(out io.Writer, format string, devices []tracker.DeviceInfo) error {
	if format == "json" {
		return json.NewEncoder(out).Encode(map[string]interface{}{"devices": devices})
	}

	for _, d := range devices {
		line := fmt.Sprintf("device %s frames=%d gaps=%d duplicates=%d",
			d.DeviceID, d.Frames, d.SequenceGaps, d.Duplicates)
		if d.LastRange != nil {
			line += fmt.Sprintf(" last_range=%.4fm", d.LastRange.Meters)
		}
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}
