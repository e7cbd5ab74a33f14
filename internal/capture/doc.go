// Package capture replays DW TWR traffic from pcap and pcapng capture files.
// Link, network and transport layers are decoded with gopacket; UDP payloads
// on the configured port are handed to the frame decoder.
package capture
