// Package gpio provides the kiln's hardware boundary: the heater relay and the
// thermocouple amplifier, with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementations allow testing without hardware.
package gpio

// Relay drives the heater contactor.
type Relay interface {
	// Set energises (true) or releases (false) the relay. Idempotent.
	Set(on bool) error

	// Close forces the relay off and releases GPIO resources.
	Close() error
}

// Thermocouple reads the kiln temperature in degrees Celsius.
type Thermocouple interface {
	ReadTemperature() (float64, error)

	// Close releases GPIO resources.
	Close() error
}

// Pin definitions (BCM numbering)
const (
	DefaultPinRelay = 17 // heater relay
	DefaultPinCS    = 22 // MAX31855 chip select
	DefaultPinCLK   = 11 // MAX31855 clock (SPI0 SCLK)
	DefaultPinDO    = 9  // MAX31855 data out (SPI0 MISO)
)

// ThermocouplePins holds the BCM line offsets of the bit-banged MAX31855.
type ThermocouplePins struct {
	CS  int
	CLK int
	DO  int
}
