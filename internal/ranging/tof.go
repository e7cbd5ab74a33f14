package ranging

import (
	"fmt"
	"math"

	"github.com/AKD-MA/twr-wireshark/internal/frame"
)

const (
	// TimestampSize is the wire size of a radio timestamp (40 bits)
	TimestampSize = 5

	// MaxTimestamp is the largest value a 40-bit timestamp can hold
	MaxTimestamp = 1<<40 - 1

	// Tick period is tickPeriodPs/tickDivisor picoseconds per timestamp unit
	tickPeriodPs = 15.65
	tickDivisor  = 4

	// SpeedOfLight in meters per nanosecond
	SpeedOfLight = 0.299792458

	// DistanceResolution is the rounding step for distances (meters)
	DistanceResolution = 0.0001
)

// Estimate holds every stage of a time-of-flight conversion
type Estimate struct {
	Raw         uint64  `json:"raw"`
	Picoseconds float64 `json:"tof_ps"`
	Nanoseconds float64 `json:"tof_ns"`
	Meters      float64 `json:"distance_m"`
}

// Raw40 assembles a 40-bit little-endian timestamp from the first five bytes of b
func Raw40(b []byte) (uint64, error) {
	v, err := frame.New(b).Uint40(0, frame.LittleEndian)
	if err != nil {
		return 0, fmt.Errorf("timestamp: %w", err)
	}
	return v, nil
}

// TimeOfFlight converts a raw tick count into a time-of-flight estimate.
// The operation order matches reference captures and must not be folded.
func TimeOfFlight(raw uint64) Estimate {
	ps := float64(raw) * tickPeriodPs / tickDivisor
	ns := ps / 1000
	m := ns * SpeedOfLight

	return Estimate{
		Raw:         raw,
		Picoseconds: ps,
		Nanoseconds: ns,
		Meters:      RoundMeters(m),
	}
}

// RoundMeters rounds half-up to 0.0001 m
func RoundMeters(m float64) float64 {
	// The conversion rounds m*10000 before the add, so no fused multiply-add
	return math.Floor(float64(m*10000)+0.5) / 10000
}

// String returns a human-readable representation of the estimate
func (e Estimate) String() string {
	return fmt.Sprintf("TOF{raw:%d, %.4f ps, %.7f ns, %.4f m}", e.Raw, e.Picoseconds, e.Nanoseconds, e.Meters)
}
