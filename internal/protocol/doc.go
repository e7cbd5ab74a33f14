// Package protocol decodes DW TWR telemetry frames: the fixed-offset
// encapsulation envelope, the embedded link-layer address pair and the
// Two-Way-Ranging message that follows it. Decoding is stateless and safe
// for concurrent use.
package protocol
