// Package gpio turns a local input pin into a stream of state changes.
// The real reader uses the Linux GPIO character device; the fake allows
// testing without hardware.
package gpio

// Reader reads the logical level of one input pin.
type Reader interface {
	// Read returns true when the input is active. Active-low wiring is
	// handled by the reader, so callers only see logical levels.
	Read() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Logical values recorded for an input pin.
const (
	ValueOn  = "ON"
	ValueOff = "OFF"
)

func valueOf(on bool) string {
	if on {
		return ValueOn
	}
	return ValueOff
}
