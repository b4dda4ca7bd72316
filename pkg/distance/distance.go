// Package distance abstracts the time-of-flight distance sensor used for
// presence-triggered listening.
package distance

import (
	"os"
	"strconv"
	"strings"

	"github.com/ohf-voice/go-satellite/internal/log"
)

// Reader is the sensor abstraction the trigger gate polls at 1 Hz.
// A false ok means "no reading": sensor error and out-of-sensor-range are
// equivalent to "no target" and are never fatal.
type Reader interface {
	ReadDistanceMM() (mm float64, ok bool)
}

// IIOReader reads a VL53L1X-style sensor exposed through the Linux IIO
// sysfs interface (in_distance_raw, millimeters per LSB via scale).
type IIOReader struct {
	rawPath string
	scaleMM float64
}

// NewIIOReader creates a reader for the given in_distance_raw path.
// scaleMM converts raw counts to millimeters; 1.0 for sensors that report
// millimeters directly.
func NewIIOReader(rawPath string, scaleMM float64) *IIOReader {
	if scaleMM <= 0 {
		scaleMM = 1.0
	}
	return &IIOReader{rawPath: rawPath, scaleMM: scaleMM}
}

// ReadDistanceMM implements Reader.
func (r *IIOReader) ReadDistanceMM() (float64, bool) {
	data, err := os.ReadFile(r.rawPath)
	if err != nil {
		log.Debug("distance read failed", "path", r.rawPath, "error", err)
		return 0, false
	}
	raw, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil || raw < 0 {
		return 0, false
	}
	return raw * r.scaleMM, true
}

// NoSensor is a Reader that never has a target; used when no distance
// sensor is configured.
type NoSensor struct{}

// ReadDistanceMM implements Reader.
func (NoSensor) ReadDistanceMM() (float64, bool) { return 0, false }
