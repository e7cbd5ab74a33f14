// Package sink writes decoded DW TWR frames as JSON lines.
package sink
