//go:build linux

package hardware

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// gpioDigitalIn reads the phase 2/3 contactor feedback lines, mirroring
// a pull-down input line reader with board boot defaults.
type gpioDigitalIn struct {
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
}

// NewGPIODigitalIn opens input lines for the phase 2/3 feedback signals.
func NewGPIODigitalIn() (DigitalIn, error) {
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	pins := map[int]int{2: PinFeedback2, 3: PinFeedback3}
	lines := make(map[int]*gpiocdev.Line, len(pins))
	for ch, pin := range pins {
		line, err := chip.RequestLine(pin, gpiocdev.AsInput, gpiocdev.WithPullDown)
		if err != nil {
			for _, l := range lines {
				l.Close()
			}
			chip.Close()
			return nil, fmt.Errorf("request feedback channel %d pin %d: %w", ch, pin, err)
		}
		lines[ch] = line
	}

	return &gpioDigitalIn{chip: chip, lines: lines}, nil
}

// Read implements DigitalIn.
func (d *gpioDigitalIn) Read(channel int) (bool, error) {
	line, ok := d.lines[channel]
	if !ok {
		return false, fmt.Errorf("digitalin: unknown channel %d", channel)
	}
	v, err := line.Value()
	if err != nil {
		return false, fmt.Errorf("read channel %d: %w", channel, err)
	}
	return v != 0, nil
}

// Close implements DigitalIn.
func (d *gpioDigitalIn) Close() error {
	var firstErr error
	for _, l := range d.lines {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := d.chip.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
