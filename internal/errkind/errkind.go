// Package errkind defines the failure categories shared by the estimation
// pipeline. Callers wrap one of the sentinels with context and test for it
// with errors.Is.
package errkind

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks invalid or contradictory settings. It is fatal
	// to a whole run and is detected before any data is loaded.
	ErrConfiguration = errors.New("configuration error")

	// ErrInsufficientData marks a matrix that lacks the rows a requested
	// estimate needs. It only aborts the comparison it occurred in.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrCalibration marks invalid sampler input or a chain that produced
	// non-finite draws. It only aborts the comparison it occurred in.
	ErrCalibration = errors.New("calibration error")
)

// Configurationf returns a formatted error wrapping ErrConfiguration.
func Configurationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// InsufficientDataf returns a formatted error wrapping ErrInsufficientData.
func InsufficientDataf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInsufficientData, fmt.Sprintf(format, args...))
}

// Calibrationf returns a formatted error wrapping ErrCalibration.
func Calibrationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrCalibration, fmt.Sprintf(format, args...))
}

// IsFatal reports whether err must stop a batch rather than a single
// comparison.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
