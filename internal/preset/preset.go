// Package preset stores named firing profiles.
package preset

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/sweeney/kiln-controller/internal/schedule"
)

var (
	ErrNotFound    = errors.New("profile not found")
	ErrInvalidName = errors.New("invalid profile name")
)

var nameRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Point is one stored profile point: minutes from the start and a target temperature.
type Point struct {
	Minutes float64 `json:"minutes"`
	Temp    float64 `json:"temp"`
}

// Profile is a named firing schedule as stored and served over HTTP.
type Profile struct {
	Name   string  `json:"name"`
	Points []Point `json:"points"`
}

// Schedule converts the profile to a validated schedule.
func (p Profile) Schedule() (*schedule.Schedule, error) {
	pairs := make([][2]float64, len(p.Points))
	for i, pt := range p.Points {
		pairs[i] = [2]float64{pt.Minutes, pt.Temp}
	}
	return schedule.FromMinutes(pairs)
}

// Validate checks the name and that the points form a valid schedule.
func (p Profile) Validate() error {
	if err := ValidName(p.Name); err != nil {
		return err
	}
	_, err := p.Schedule()
	return err
}

// ValidName reports whether name can be used as a profile key.
// Names double as file names, so they are restricted to a safe alphabet.
func ValidName(name string) error {
	if !nameRE.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Store persists profiles by name.
type Store interface {
	// List returns the stored profile names in ascending order.
	List(ctx context.Context) ([]string, error)
	Get(ctx context.Context, name string) (Profile, error)
	// Put validates and stores p, replacing any profile with the same name.
	Put(ctx context.Context, p Profile) error
	Delete(ctx context.Context, name string) error
}
