//go:build linux

package gpio

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

const chipName = "gpiochip0"

// RealRelay drives the heater relay from a GPIO output line.
type RealRelay struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealRelay requests pin as an output, initially off.
// With activeLow the line is driven low to energise the relay.
func NewRealRelay(pin int, activeLow bool) (*RealRelay, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	line, err := chip.RequestLine(pin, opts...)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request relay pin %d: %w", pin, err)
	}

	return &RealRelay{chip: chip, line: line}, nil
}

// Set energises or releases the relay.
func (r *RealRelay) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := r.line.SetValue(v); err != nil {
		return fmt.Errorf("set relay: %w", err)
	}
	return nil
}

// Close forces the relay off, then returns the line to an input with pull-down
// (matching Pi boot defaults) before releasing it.
func (r *RealRelay) Close() error {
	var errs []error

	if r.line != nil {
		if err := r.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("release relay: %w", err))
		}
		if err := r.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure relay pin: %w", err))
		}
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close relay pin: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// clockHalfPeriod is well above the MAX31855's 100ns minimum SCK high/low time.
const clockHalfPeriod = time.Microsecond

// RealThermocouple reads a MAX31855 by bit-banging its serial interface.
type RealThermocouple struct {
	chip *gpiocdev.Chip
	cs   *gpiocdev.Line
	clk  *gpiocdev.Line
	do   *gpiocdev.Line
}

// NewRealThermocouple requests the CS, CLK and DO lines of the amplifier.
func NewRealThermocouple(pins ThermocouplePins) (*RealThermocouple, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	t := &RealThermocouple{chip: chip}

	if t.cs, err = chip.RequestLine(pins.CS, gpiocdev.AsOutput(1)); err != nil {
		t.Close()
		return nil, fmt.Errorf("request CS pin %d: %w", pins.CS, err)
	}
	if t.clk, err = chip.RequestLine(pins.CLK, gpiocdev.AsOutput(0)); err != nil {
		t.Close()
		return nil, fmt.Errorf("request CLK pin %d: %w", pins.CLK, err)
	}
	if t.do, err = chip.RequestLine(pins.DO, gpiocdev.AsInput, gpiocdev.WithPullUp); err != nil {
		t.Close()
		return nil, fmt.Errorf("request DO pin %d: %w", pins.DO, err)
	}
	return t, nil
}

// ReadTemperature clocks in one frame and decodes it.
func (t *RealThermocouple) ReadTemperature() (float64, error) {
	frame, err := t.readFrame()
	if err != nil {
		return 0, err
	}
	return DecodeMAX31855(frame)
}

func (t *RealThermocouple) readFrame() (uint32, error) {
	if err := t.clk.SetValue(0); err != nil {
		return 0, fmt.Errorf("clock low: %w", err)
	}
	if err := t.cs.SetValue(0); err != nil {
		return 0, fmt.Errorf("select: %w", err)
	}
	defer t.cs.SetValue(1)
	time.Sleep(clockHalfPeriod)

	// D31 is valid once CS falls; each falling SCK edge presents the next bit.
	var frame uint32
	for i := 0; i < 32; i++ {
		if err := t.clk.SetValue(0); err != nil {
			return 0, fmt.Errorf("clock low: %w", err)
		}
		time.Sleep(clockHalfPeriod)
		bit, err := t.do.Value()
		if err != nil {
			return 0, fmt.Errorf("read DO: %w", err)
		}
		frame = frame<<1 | uint32(bit&1)
		if err := t.clk.SetValue(1); err != nil {
			return 0, fmt.Errorf("clock high: %w", err)
		}
		time.Sleep(clockHalfPeriod)
	}
	return frame, nil
}

// Close releases the lines and the chip.
func (t *RealThermocouple) Close() error {
	var errs []error
	for name, l := range map[string]*gpiocdev.Line{"CS": t.cs, "CLK": t.clk, "DO": t.do} {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s pin: %w", name, err))
		}
	}
	if t.chip != nil {
		if err := t.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
