// Package schedule turns a firing profile into a time-varying setpoint.
// A Schedule is immutable once built; SetpointAt is a pure function of elapsed time.
package schedule

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Point is one (time offset, target temperature) pair of a firing profile.
type Point struct {
	Offset time.Duration
	Target float64
}

// ConfigurationError reports a schedule that cannot be used for a firing.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid schedule: " + e.Reason
}

// Schedule is an ordered, validated list of points.
type Schedule struct {
	points []Point
}

// New validates points and returns a Schedule holding its own copy of them.
// Offsets must be strictly increasing and targets finite.
func New(points []Point) (*Schedule, error) {
	if len(points) == 0 {
		return nil, &ConfigurationError{Reason: "no points"}
	}
	for i, p := range points {
		if p.Offset < 0 {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("point %d: negative offset %v", i, p.Offset)}
		}
		if math.IsNaN(p.Target) || math.IsInf(p.Target, 0) {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("point %d: target is not finite", i)}
		}
		if i > 0 && p.Offset <= points[i-1].Offset {
			return nil, &ConfigurationError{
				Reason: fmt.Sprintf("point %d: offset %v not after %v", i, p.Offset, points[i-1].Offset),
			}
		}
	}
	cp := make([]Point, len(points))
	copy(cp, points)
	return &Schedule{points: cp}, nil
}

// FromMinutes builds a Schedule from (minutes, target) pairs, the unit used by stored profiles.
func FromMinutes(pairs [][2]float64) (*Schedule, error) {
	points := make([]Point, len(pairs))
	for i, p := range pairs {
		if math.IsNaN(p[0]) || math.IsInf(p[0], 0) {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("point %d: offset is not finite", i)}
		}
		points[i] = Point{
			Offset: time.Duration(p[0] * float64(time.Minute)),
			Target: p[1],
		}
	}
	return New(points)
}

// SetpointAt returns the interpolated target for the given elapsed time.
// Before the first point it holds the first target; at or after the last point it
// holds the last target indefinitely. An exact offset match returns that point's target.
func (s *Schedule) SetpointAt(elapsed time.Duration) float64 {
	pts := s.points
	first, last := pts[0], pts[len(pts)-1]
	if len(pts) == 1 || elapsed <= first.Offset {
		return first.Target
	}
	if elapsed >= last.Offset {
		return last.Target
	}

	// i is the first point with Offset >= elapsed; 1 <= i <= len-1 here.
	i := sort.Search(len(pts), func(i int) bool { return pts[i].Offset >= elapsed })
	if pts[i].Offset == elapsed {
		return pts[i].Target
	}
	a, b := pts[i-1], pts[i]
	frac := float64(elapsed-a.Offset) / float64(b.Offset-a.Offset)
	return a.Target + frac*(b.Target-a.Target)
}

// Points returns a copy of the schedule's points.
func (s *Schedule) Points() []Point {
	cp := make([]Point, len(s.points))
	copy(cp, s.points)
	return cp
}

// Duration is the offset of the last point, after which the final setpoint is held.
func (s *Schedule) Duration() time.Duration {
	return s.points[len(s.points)-1].Offset
}

// Peak returns the highest target in the schedule.
func (s *Schedule) Peak() float64 {
	peak := s.points[0].Target
	for _, p := range s.points[1:] {
		if p.Target > peak {
			peak = p.Target
		}
	}
	return peak
}
