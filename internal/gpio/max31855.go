package gpio

import "errors"

// MAX31855 fault conditions, reported in the low bits of the frame.
var (
	ErrOpenCircuit = errors.New("thermocouple: open circuit")
	ErrShortToGND  = errors.New("thermocouple: short to GND")
	ErrShortToVCC  = errors.New("thermocouple: short to VCC")
	ErrFault       = errors.New("thermocouple: fault")
)

const (
	bitOC    = 1 << 0
	bitSCG   = 1 << 1
	bitSCV   = 1 << 2
	bitFault = 1 << 16
)

// DecodeMAX31855 converts a raw 32-bit MAX31855 frame into the thermocouple
// temperature in degrees Celsius.
// Bits 31..18 hold a signed 14-bit value in 0.25 °C steps; bit 16 flags a fault
// whose cause is in bits 2..0.
func DecodeMAX31855(frame uint32) (float64, error) {
	if frame&bitFault != 0 {
		switch {
		case frame&bitOC != 0:
			return 0, ErrOpenCircuit
		case frame&bitSCG != 0:
			return 0, ErrShortToGND
		case frame&bitSCV != 0:
			return 0, ErrShortToVCC
		default:
			return 0, ErrFault
		}
	}
	raw := int32(frame) >> 18 // arithmetic shift keeps the sign
	return float64(raw) * 0.25, nil
}

// EncodeMAX31855 builds a fault-free frame for the given temperature. Used by
// tests and the simulator.
func EncodeMAX31855(celsius float64) uint32 {
	raw := int32(celsius * 4)
	return uint32(raw) << 18
}
