// Package ranging converts raw ultra-wideband radio timestamps into
// time-of-flight and distance estimates for Two-Way-Ranging exchanges.
package ranging
