// Package tracker keeps per-device state derived from decoded DW TWR frames.
// It follows envelope sequence numbers, counts messages by type, remembers
// the latest range estimate and drops devices that stay silent longer than
// a configurable timeout.
package tracker
