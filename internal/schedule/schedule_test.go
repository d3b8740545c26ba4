package schedule

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustMinutes(t *testing.T, pairs [][2]float64) *Schedule {
	t.Helper()
	s, err := FromMinutes(pairs)
	require.NoError(t, err)
	return s
}

func TestSetpointAtInterpolatesRamp(t *testing.T) {
	s := mustMinutes(t, [][2]float64{{0, 25}, {60, 25}, {120, 1000}})

	assert.InDelta(t, 512.5, s.SetpointAt(90*time.Minute), 1e-9)
	assert.InDelta(t, 25.0, s.SetpointAt(30*time.Minute), 1e-9)
	assert.InDelta(t, 25+975.0/4, s.SetpointAt(75*time.Minute), 1e-9)
}

func TestSetpointAtHoldsBeforeFirstPoint(t *testing.T) {
	s, err := New([]Point{
		{Offset: 10 * time.Minute, Target: 100},
		{Offset: 20 * time.Minute, Target: 200},
	})
	require.NoError(t, err)

	for _, e := range []time.Duration{0, time.Minute, 10 * time.Minute} {
		assert.Equal(t, 100.0, s.SetpointAt(e), "elapsed %v", e)
	}
}

func TestSetpointAtHoldsAfterLastPoint(t *testing.T) {
	s := mustMinutes(t, [][2]float64{{0, 25}, {60, 600}})

	for _, e := range []time.Duration{60 * time.Minute, 61 * time.Minute, 48 * time.Hour} {
		assert.Equal(t, 600.0, s.SetpointAt(e), "elapsed %v", e)
	}
}

func TestSetpointAtSinglePoint(t *testing.T) {
	s := mustMinutes(t, [][2]float64{{30, 950}})

	assert.Equal(t, 950.0, s.SetpointAt(0))
	assert.Equal(t, 950.0, s.SetpointAt(30*time.Minute))
	assert.Equal(t, 950.0, s.SetpointAt(10*time.Hour))
}

func TestSetpointAtExactPointReturnsExactTarget(t *testing.T) {
	// Targets chosen so interpolation from either side would round differently.
	s := mustMinutes(t, [][2]float64{{0, 0.1}, {7, 1.0 / 3}, {13, 999.7}, {20, 0.3}})

	assert.Equal(t, 1.0/3, s.SetpointAt(7*time.Minute))
	assert.Equal(t, 999.7, s.SetpointAt(13*time.Minute))
}

func TestSetpointAtDescendingSegment(t *testing.T) {
	s := mustMinutes(t, [][2]float64{{0, 1000}, {100, 0}})

	assert.InDelta(t, 750.0, s.SetpointAt(25*time.Minute), 1e-9)
}

func TestSetpointAtContinuity(t *testing.T) {
	s := mustMinutes(t, [][2]float64{{0, 20}, {30, 200}, {90, 200}, {150, 1200}, {160, 1100}})
	pts := s.Points()

	maxSlope := 0.0
	for i := 1; i < len(pts); i++ {
		slope := math.Abs(pts[i].Target-pts[i-1].Target) / float64(pts[i].Offset-pts[i-1].Offset)
		maxSlope = math.Max(maxSlope, slope)
	}

	const eps = 500 * time.Millisecond
	prev := s.SetpointAt(0)
	for e := eps; e <= 170*time.Minute; e += eps {
		cur := s.SetpointAt(e)
		assert.LessOrEqual(t, math.Abs(cur-prev), maxSlope*float64(eps)+1e-9, "jump at %v", e)
		prev = cur
	}
}

func TestNewRejectsInvalidSchedules(t *testing.T) {
	tests := []struct {
		name   string
		points []Point
	}{
		{"empty", nil},
		{"duplicate offset", []Point{{0, 10}, {time.Minute, 20}, {time.Minute, 30}}},
		{"decreasing offset", []Point{{0, 10}, {2 * time.Minute, 20}, {time.Minute, 30}}},
		{"negative offset", []Point{{-time.Minute, 10}}},
		{"nan target", []Point{{0, math.NaN()}}},
		{"inf target", []Point{{0, 10}, {time.Minute, math.Inf(1)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.points)
			require.Error(t, err)
			assert.Nil(t, s)

			var cfgErr *ConfigurationError
			assert.True(t, errors.As(err, &cfgErr), "expected ConfigurationError, got %T", err)
		})
	}
}

func TestNewCopiesPoints(t *testing.T) {
	points := []Point{{0, 10}, {time.Minute, 20}}
	s, err := New(points)
	require.NoError(t, err)

	points[1].Target = 9999
	assert.Equal(t, 20.0, s.SetpointAt(time.Minute))

	got := s.Points()
	got[0].Target = -1
	assert.Equal(t, 10.0, s.SetpointAt(0))
}

func TestDurationAndPeak(t *testing.T) {
	s := mustMinutes(t, [][2]float64{{0, 25}, {60, 1222}, {120, 900}})

	assert.Equal(t, 120*time.Minute, s.Duration())
	assert.Equal(t, 1222.0, s.Peak())
}
