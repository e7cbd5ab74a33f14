// Package server implements the UDP listener that receives DW TWR frames and
// the HTTP API used to monitor decoding, tracked devices and ranging results.
package server
