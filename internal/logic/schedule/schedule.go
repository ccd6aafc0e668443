// Package schedule turns the user's duration and sample count into an
// immutable run plan.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Seconds per supported unit.
var unitSeconds = map[string]int{
	"s": 1,
	"m": 60,
	"h": 3600,
	"d": 86400,
}

// ToSeconds converts value expressed in unit to seconds.
// An unrecognised unit is treated as seconds.
func ToSeconds(value int, unit string) int {
	if mult, ok := unitSeconds[strings.ToLower(unit)]; ok {
		return value * mult
	}
	return value
}

// KnownUnit reports whether unit is one of s, m, h, d.
func KnownUnit(unit string) bool {
	_, ok := unitSeconds[strings.ToLower(unit)]
	return ok
}

// ComputeInterval returns the seconds between two captures: duration/samples
// when both are positive, otherwise 0.
func ComputeInterval(durationSeconds, sampleCount int) float64 {
	if durationSeconds <= 0 || sampleCount <= 0 {
		return 0
	}
	return float64(durationSeconds) / float64(sampleCount)
}

// RunParameters is built once from the command line and configuration and
// passed by value.
type RunParameters struct {
	DurationSeconds int
	SampleCount     int
	OutputRoot      string
	RunName         string

	// SleepAfterLast keeps the interval wait after the final frame.
	SleepAfterLast bool
	// AllowBurst accepts samples with a zero interval (back-to-back frames).
	AllowBurst bool
	// AllowEmpty accepts a run with no samples.
	AllowEmpty bool
}

// Defaults returns parameters with the permissive policies enabled.
func Defaults() RunParameters {
	return RunParameters{
		OutputRoot:     "Images",
		SleepAfterLast: true,
		AllowBurst:     true,
		AllowEmpty:     true,
	}
}

// Interval returns the wait between captures.
func (p RunParameters) Interval() time.Duration {
	return time.Duration(ComputeInterval(p.DurationSeconds, p.SampleCount) * float64(time.Second))
}

// ErrEmptyRun and ErrBurstRun are returned by Validate when the matching
// policy is disabled.
var (
	ErrEmptyRun = errors.New("no samples requested")
	ErrBurstRun = errors.New("samples requested with a zero interval")
)

// Validate checks the parameters against their policies.
func (p RunParameters) Validate() error {
	if p.DurationSeconds < 0 {
		return fmt.Errorf("duration must be >= 0, got %d", p.DurationSeconds)
	}
	if p.SampleCount < 0 {
		return fmt.Errorf("samples must be >= 0, got %d", p.SampleCount)
	}
	if p.OutputRoot == "" {
		return errors.New("output path is empty")
	}
	if p.SampleCount == 0 && !p.AllowEmpty {
		return ErrEmptyRun
	}
	if p.SampleCount > 0 && p.DurationSeconds == 0 && !p.AllowBurst {
		return ErrBurstRun
	}
	return nil
}
