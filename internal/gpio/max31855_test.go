package gpio

import (
	"errors"
	"testing"
)

func TestDecodeMAX31855(t *testing.T) {
	tests := []struct {
		name  string
		frame uint32
		want  float64
	}{
		// Values from the MAX31855 datasheet temperature table.
		{"+1600.00", 0x64000000, 1600},
		{"+1000.00", 0x3E800000, 1000},
		{"+100.75", 0x064C0000, 100.75},
		{"+25.00", 0x01900000, 25},
		{"0.00", 0x00000000, 0},
		{"-0.25", 0xFFFC0000, -0.25},
		{"-1.00", 0xFFF00000, -1},
		{"-250.00", 0xF0600000, -250},
		// Internal temperature bits must be ignored.
		{"+25.00 with cold junction", 0x01901900, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeMAX31855(tt.frame)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecodeMAX31855Faults(t *testing.T) {
	tests := []struct {
		name  string
		frame uint32
		want  error
	}{
		{"open circuit", 0x00010001, ErrOpenCircuit},
		{"short to GND", 0x00010002, ErrShortToGND},
		{"short to VCC", 0x00010004, ErrShortToVCC},
		{"fault bit only", 0x00010000, ErrFault},
		{"floating bus", 0xFFFFFFFF, ErrOpenCircuit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMAX31855(tt.frame)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEncodeMAX31855RoundTrip(t *testing.T) {
	for _, c := range []float64{-200, -0.25, 0, 21.5, 650.75, 1287} {
		got, err := DecodeMAX31855(EncodeMAX31855(c))
		if err != nil {
			t.Fatalf("%v: unexpected error: %v", c, err)
		}
		if got != c {
			t.Errorf("round trip %v: got %v", c, got)
		}
	}
}
