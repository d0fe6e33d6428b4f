package sim

import (
	"log"
	"math"
	"time"
)

// Freq defines the type of frequency
type Freq float64

// Defines the unit of frequency
const (
	Hz  Freq = 1
	KHz Freq = 1e3
)

// DefaultFreq is the update rate of the simulation loop.
const DefaultFreq = 60 * Hz

// Period returns the time between two consecutive ticks
func (f Freq) Period() time.Duration {
	if f <= 0 {
		log.Panic("frequency must be positive")
	}

	return time.Duration(float64(time.Second) / float64(f))
}

// Ticks converts a wall-clock duration to the number of whole ticks that fit
// in it.
func (f Freq) Ticks(d time.Duration) uint64 {
	if d < 0 {
		log.Panic("duration cannot be negative")
	}

	return uint64(math.Floor(d.Seconds() * float64(f)))
}
