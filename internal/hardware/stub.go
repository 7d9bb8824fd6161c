//go:build !linux

package hardware

import (
	"errors"
	"time"
)

// gpioRelay is not available on non-Linux platforms.
type gpioRelay struct{}

// NewGPIORelay returns an error on non-Linux platforms.
func NewGPIORelay() (Relay, error) {
	return nil, errors.New("hardware: relay not supported on this platform (requires Linux)")
}

func (r *gpioRelay) SetSteady(channel int, on bool) error                    { return errNotSupported }
func (r *gpioRelay) SetMonoflop(channel int, on bool, d time.Duration) error { return errNotSupported }
func (r *gpioRelay) Read(channel int) (bool, error)                         { return false, errNotSupported }
func (r *gpioRelay) Close() error                                           { return nil }

// gpioDigitalIn is not available on non-Linux platforms.
type gpioDigitalIn struct{}

// NewGPIODigitalIn returns an error on non-Linux platforms.
func NewGPIODigitalIn() (DigitalIn, error) {
	return nil, errors.New("hardware: digital input not supported on this platform (requires Linux)")
}

func (d *gpioDigitalIn) Read(channel int) (bool, error) { return false, errNotSupported }
func (d *gpioDigitalIn) Close() error                   { return nil }

var errNotSupported = errors.New("hardware: not supported")
