// Package config provides configuration loading and validation for the DW TWR
// decoder service. It handles YAML-based configuration for the UDP listener,
// the monitoring API, device tracking, decoded-record output and logging.
package config
