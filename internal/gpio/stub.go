//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealRelay is not available on non-Linux platforms.
type RealRelay struct{}

// NewRealRelay returns an error on non-Linux platforms.
func NewRealRelay(pin int, activeLow bool) (*RealRelay, error) {
	return nil, errUnsupported
}

// Set is not implemented on non-Linux platforms.
func (r *RealRelay) Set(on bool) error { return errUnsupported }

// Close is not implemented on non-Linux platforms.
func (r *RealRelay) Close() error { return nil }

// RealThermocouple is not available on non-Linux platforms.
type RealThermocouple struct{}

// NewRealThermocouple returns an error on non-Linux platforms.
func NewRealThermocouple(pins ThermocouplePins) (*RealThermocouple, error) {
	return nil, errUnsupported
}

// ReadTemperature is not implemented on non-Linux platforms.
func (t *RealThermocouple) ReadTemperature() (float64, error) { return 0, errUnsupported }

// Close is not implemented on non-Linux platforms.
func (t *RealThermocouple) Close() error { return nil }
